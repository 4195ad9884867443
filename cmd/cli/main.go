// Command arena is the command-line client for the arena-auth server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var g globals

	cmd := &cobra.Command{
		Use:           "arena",
		Short:         "Sign in to the arena and manage the local session",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&g.apiURL, "api-url", "", "server base URL (default $ARENA_API_URL or http://localhost:8080)")
	cmd.PersistentFlags().DurationVar(&g.timeout, "timeout", 0, "per-request timeout (default $ARENA_TIMEOUT or 10s)")
	cmd.PersistentFlags().StringVar(&g.configDir, "config-dir", "", "session directory (default $ARENA_CONFIG_DIR or $XDG_CONFIG_HOME/arena-auth)")
	cmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "debug logging to stderr")

	cmd.AddCommand(
		registerCmd(&g),
		loginCmd(&g),
		logoutCmd(&g),
		whoamiCmd(&g),
		statusCmd(&g),
		refreshCmd(&g),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "arena %s (%s)\n", version, buildDate)
			},
		},
	)
	return cmd
}
