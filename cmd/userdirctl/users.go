package main

import (
	"fmt"
	"net/mail"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"userdir.org/internal/auth"
)

func (c *cli) usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage identities",
	}
	cmd.AddCommand(c.usersCreateCmd(), c.usersListCmd())
	return cmd
}

func (c *cli) usersCreateCmd() *cobra.Command {
	var (
		email, password, givenName, familyName string
		roles                                  []string
		stdin                                  bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return fmt.Errorf("--email flag is required")
			}
			if _, err := mail.ParseAddress(email); err != nil {
				return fmt.Errorf("invalid email format: %w", err)
			}
			if stdin {
				var err error
				if password, err = readPassword(cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
					return err
				}
			}
			if password == "" {
				return fmt.Errorf("password is required (use --password or --stdin)")
			}

			ctx := cmd.Context()
			h, svc, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer h.Close()

			if err := svc.ApplyPolicy(ctx, auth.DefaultPolicy()); err != nil {
				return err
			}
			identity, err := svc.Register(ctx, auth.RegisterRequest{
				Email:      email,
				Password:   password,
				GivenName:  givenName,
				FamilyName: familyName,
			})
			if err != nil {
				return err
			}
			for _, r := range roles {
				if _, err := svc.AssignRoleByName(ctx, identity.ID, r); err != nil {
					return fmt.Errorf("assign role %s: %w", r, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s %s\n", identity.ID, identity.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password")
	cmd.Flags().BoolVar(&stdin, "stdin", false, "Read password from stdin")
	cmd.Flags().StringVar(&givenName, "given-name", "", "Given name")
	cmd.Flags().StringVar(&familyName, "family-name", "", "Family name")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Additional role to assign (repeatable)")
	return cmd
}

func (c *cli) usersListCmd() *cobra.Command {
	var page, limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List identities",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			h, _, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer h.Close()

			items, total, err := h.ListIdentities(ctx, auth.Page{Number: page, Limit: limit})
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tEMAIL\tACTIVE\tCREATED")
			for _, i := range items {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", i.ID, i.Email, i.Active, i.CreatedAt.Format("2006-01-02 15:04"))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d\n", len(items), total)
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&limit, "limit", 50, "Page size")
	return cmd
}
