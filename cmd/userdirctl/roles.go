package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"userdir.org/internal/auth"
)

func (c *cli) rolesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Manage roles and permissions",
	}
	cmd.AddCommand(c.rolesListCmd(), c.rolesAssignCmd(), c.rolesRevokeCmd(), c.rolesGrantCmd())
	return cmd
}

func (c *cli) rolesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List roles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			h, _, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer h.Close()

			roles, err := h.ListRoles(ctx)
			if err != nil {
				return err
			}
			for _, r := range roles {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", r.Name, r.Description)
			}
			return nil
		},
	}
}

func (c *cli) rolesAssignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign <email> <role>",
		Short: "Assign a role to an identity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			h, svc, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer h.Close()

			identity, err := h.IdentityByEmail(ctx, args[0])
			if err != nil {
				return fmt.Errorf("lookup %s: %w", args[0], err)
			}
			role, err := svc.AssignRoleByName(ctx, identity.ID, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "assigned %s to %s\n", role.Name, identity.Email)
			return nil
		},
	}
}

func (c *cli) rolesRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <email> <role>",
		Short: "Revoke a role from an identity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			h, svc, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer h.Close()

			identity, err := h.IdentityByEmail(ctx, args[0])
			if err != nil {
				return fmt.Errorf("lookup %s: %w", args[0], err)
			}
			if err := svc.RevokeRoleByName(ctx, identity.ID, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s from %s\n", args[1], identity.Email)
			return nil
		},
	}
}

func (c *cli) rolesGrantCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grant <role> <resource:action>",
		Short: "Grant a permission to a role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resource, action, err := auth.ParsePermissionKey(args[1])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			h, svc, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer h.Close()

			perm, err := svc.GrantPermission(ctx, args[0], resource, action)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "granted %s to %s\n", perm.Key(), args[0])
			return nil
		},
	}
}
