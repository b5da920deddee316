package users

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/gridauth/internal/config"
	"github.com/terraconstructs/gridauth/internal/db/bunx"
	"github.com/terraconstructs/gridauth/internal/repository"
)

var cfg *config.Config

// SetConfig hands the loaded configuration to the subcommands.
func SetConfig(c *config.Config) { cfg = c }

// UsersCmd is the parent command for local account management
var UsersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage local accounts",
	Long:  `Commands for managing the accounts behind the users login service.`,
}

func withRepository(ctx context.Context, fn func(*repository.BunUserRepository) error) error {
	if cfg == nil || cfg.DatabaseURL == "" {
		return fmt.Errorf("database_url is not configured")
	}
	db, err := bunx.NewDB(ctx, cfg.DatabaseURL, bunx.Options{MaxOpenConns: cfg.MaxDBConnections})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer bunx.Close(db)
	return fn(repository.NewBunUserRepository(db))
}

func init() {
	createCmd.Flags().StringVar(&usernameFlag, "username", "", "Login name of the user")
	createCmd.Flags().StringVar(&nameFlag, "name", "", "Display name of the user")
	createCmd.Flags().StringVar(&emailFlag, "email", "", "Email address of the user")
	createCmd.Flags().StringVar(&subjectFlag, "subject", "", "OpenID subject to link to this account")
	createCmd.Flags().StringVar(&passwordFlag, "password", "", "Password for the user (use --stdin to avoid shell history)")
	createCmd.Flags().StringSliceVar(&rolesInput, "role", []string{}, "Role(s) to assign to the user")
	createCmd.Flags().BoolVar(&stdinFlag, "stdin", false, "Read password from stdin instead of --password flag")

	passwdCmd.Flags().StringVar(&passwordFlag, "password", "", "New password (use --stdin to avoid shell history)")
	passwdCmd.Flags().BoolVar(&stdinFlag, "stdin", false, "Read password from stdin instead of --password flag")

	UsersCmd.AddCommand(createCmd)
	UsersCmd.AddCommand(passwdCmd)
	UsersCmd.AddCommand(listCmd)
	UsersCmd.AddCommand(grantCmd)
	UsersCmd.AddCommand(revokeCmd)
}
