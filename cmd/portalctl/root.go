package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Rorqualx/portal-autologin/internal/client"
	"github.com/Rorqualx/portal-autologin/pkg/version"
)

var (
	addr    string
	apiKey  string
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:          "portalctl",
	Short:        "Inspect and drive the portal-autologin daemon",
	Version:      version.Full(),
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	},
}

// Execute registers the subcommands and runs the root command with ctx.
func Execute(ctx context.Context) error {
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newSuccessCmd())
	rootCmd.AddCommand(newNetworkErrorCmd())
	rootCmd.AddCommand(newCredentialsCmd())

	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr", envOr("PORTALCTL_ADDR", "http://127.0.0.1:8192"), "control API base URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("API_KEY"), "control API key (X-API-Key)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "per-request timeout")
}

func newClient() *client.Client {
	return client.New(addr, apiKey, timeout)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
