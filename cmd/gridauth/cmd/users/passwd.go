package users

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/gridauth/internal/repository"
)

var passwdCmd = &cobra.Command{
	Use:   "passwd <username|id>",
	Short: "Set the password of a local account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword()
		if err != nil {
			return err
		}
		if password == "" {
			return fmt.Errorf("a password is required (--password or --stdin)")
		}
		hash, err := hashPassword(password)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		return withRepository(ctx, func(users *repository.BunUserRepository) error {
			u, err := users.Lookup(ctx, args[0])
			if err != nil {
				return err
			}
			if err := users.SetPasswordHash(ctx, u.ID, hash); err != nil {
				return fmt.Errorf("failed to set password: %w", err)
			}
			fmt.Printf("Password updated for %s\n", u.Username)
			return nil
		})
	},
}
