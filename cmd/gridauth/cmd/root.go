package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/terraconstructs/gridauth/cmd/gridauth/cmd/users"
	"github.com/terraconstructs/gridauth/internal/config"
)

var (
	cfg     *config.Config
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "gridauth",
	Short: "Request-time authentication server",
	Long: `gridauth authenticates requests with form login or OpenID Connect,
keeps identities in server-side sessions and enforces per-path role
constraints before requests reach application handlers.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
			}
		}
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		users.SetConfig(cfg)
		return nil
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (YAML, TOML or JSON)")
	rootCmd.PersistentFlags().String("db-url", "", "Database connection URL (env: GRIDAUTH_DATABASE_URL)")
	rootCmd.PersistentFlags().String("server-addr", "", "Server bind address (env: GRIDAUTH_SERVER_ADDR)")
	rootCmd.PersistentFlags().String("server-url", "", "Externally visible base URL (env: GRIDAUTH_SERVER_URL)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging (env: GRIDAUTH_DEBUG)")

	bindFlag("database_url", "db-url")
	bindFlag("server_addr", "server-addr")
	bindFlag("server_url", "server-url")
	bindFlag("debug", "debug")

	// Add subcommands
	rootCmd.AddCommand(users.UsersCmd)
}

func bindFlag(key, flag string) {
	if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
