package users

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/gridauth/internal/repository"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List local accounts and their roles",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withRepository(ctx, func(users *repository.BunUserRepository) error {
			all, err := users.List(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "USERNAME\tSUBJECT\tEMAIL\tROLES\tSTATUS")
			for _, u := range all {
				roles, err := users.Roles(ctx, u.ID)
				if err != nil {
					return err
				}
				status := "active"
				if u.Disabled() {
					status = "disabled"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", u.Username, u.PrincipalSubject(), u.Email, strings.Join(roles, ","), status)
			}
			return w.Flush()
		})
	},
}

var grantCmd = &cobra.Command{
	Use:   "grant <username|id> <role>...",
	Short: "Grant roles to a local account",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withRepository(ctx, func(users *repository.BunUserRepository) error {
			u, err := users.Lookup(ctx, args[0])
			if err != nil {
				return err
			}
			for _, role := range args[1:] {
				if err := users.GrantRole(ctx, u.ID, role); err != nil {
					return err
				}
				fmt.Printf("Granted role '%s' to %s\n", role, u.Username)
			}
			return nil
		})
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <username|id> <role>...",
	Short: "Revoke roles from a local account",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withRepository(ctx, func(users *repository.BunUserRepository) error {
			u, err := users.Lookup(ctx, args[0])
			if err != nil {
				return err
			}
			for _, role := range args[1:] {
				if err := users.RevokeRole(ctx, u.ID, role); err != nil {
					return err
				}
				fmt.Printf("Revoked role '%s' from %s\n", role, u.Username)
			}
			return nil
		})
	},
}
