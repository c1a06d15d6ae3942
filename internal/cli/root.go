package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfg *Config

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cfg = DefaultConfig()

	rootCmd := &cobra.Command{
		Use:   "fortune",
		Short: "CLI tool for the fortune server",
		Long: `fortune is a CLI tool for talking to a fortune server over its TCP protocol.

It can register and log in, draw fortunes, browse your history and
submissions, message other users, and listen for the fortunes the server
announces over multicast.

Each command opens its own connection. Commands that need an account log in
first using --user and --password.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Output != "text" && cfg.Output != "json" {
				return fmt.Errorf("invalid output format %q: must be text or json", cfg.Output)
			}
			return nil
		},
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfg.Server, "server", cfg.Server, "Server TCP address (env: FORTUNE_SERVER)")
	rootCmd.PersistentFlags().StringVarP(&cfg.User, "user", "u", cfg.User, "Username (env: FORTUNE_USER)")
	rootCmd.PersistentFlags().StringVarP(&cfg.Password, "password", "p", cfg.Password, "Password (env: FORTUNE_PASSWORD)")
	rootCmd.PersistentFlags().StringVarP(&cfg.Output, "output", "o", cfg.Output, "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Time allowed for each command")

	// Add subcommands
	rootCmd.AddCommand(newRegisterCmd())
	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newUsersCmd())
	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newMineCmd())
	rootCmd.AddCommand(newSubmitCmd())
	rootCmd.AddCommand(newSendCmd())
	rootCmd.AddCommand(newListenCmd())
	rootCmd.AddCommand(newHealthCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
