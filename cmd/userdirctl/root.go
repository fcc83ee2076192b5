package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"userdir.org/internal/auth"
	"userdir.org/internal/config"
	"userdir.org/internal/store"
)

type cli struct {
	driver string
	dsn    string
	cfg    config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "userdirctl",
		Short: "Administer the user directory",
		Long: `userdirctl manages identities, roles and sessions directly against the
directory database. It reads USERDIR_* variables like the API server.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			c.cfg = cfg
			if c.driver == "" {
				c.driver = cfg.DBDriver
			}
			if c.dsn == "" {
				c.dsn = cfg.DBDSN
			}
			if c.driver == store.DriverMemory {
				return fmt.Errorf("driver %q keeps no state between runs", c.driver)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.driver, "driver", "", "Database driver: sqlite or pgx (env: USERDIR_DB_DRIVER)")
	root.PersistentFlags().StringVar(&c.dsn, "dsn", "", "Database DSN (env: USERDIR_DB_DSN)")

	root.AddCommand(c.usersCmd(), c.rolesCmd(), c.policyCmd(), c.sessionsCmd())
	return root
}

// open connects to the store and builds the auth service. The caller closes
// the returned handle.
func (c *cli) open(ctx context.Context) (*store.Handle, *auth.Service, error) {
	h, err := store.Open(ctx, c.driver, c.dsn)
	if err != nil {
		return nil, nil, err
	}
	svc, err := auth.NewService(h,
		auth.WithSessionTTL(c.cfg.SessionTTL),
		auth.WithHasher(auth.NewBcryptHasher(c.cfg.BcryptCost)),
	)
	if err != nil {
		_ = h.Close()
		return nil, nil, err
	}
	return h, svc, nil
}

func readPassword(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Enter password: ")
	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		return strings.TrimRight(scanner.Text(), "\r\n"), nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return "", nil
}
