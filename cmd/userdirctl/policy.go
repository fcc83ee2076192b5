package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"userdir.org/internal/auth"
)

func (c *cli) policyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage the RBAC policy",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "apply [file]",
		Short: "Apply a YAML policy; without a file the built-in roles are seeded",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			policy := auth.DefaultPolicy()
			if len(args) == 1 {
				var err error
				if policy, err = auth.LoadPolicyFile(args[0]); err != nil {
					return err
				}
			}
			ctx := cmd.Context()
			h, svc, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer h.Close()

			if err := svc.ApplyPolicy(ctx, policy); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d roles, %d assignments\n", len(policy.Roles), len(policy.Assignments))
			return nil
		},
	})
	return cmd
}

func (c *cli) sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Session housekeeping",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Delete expired sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			h, svc, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer h.Close()

			n, err := svc.PruneSessions(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d sessions\n", n)
			return nil
		},
	})
	return cmd
}
