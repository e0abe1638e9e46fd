package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agenda-it/agenda/internal/daemon"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Int("port", 0, "Override [api] port")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Agenda daemon",
	Long: `Start the HTTP daemon that owns the ledger. The agent endpoints are enabled
when the API key environment variable ([agent] api_key_env, default
GEMINI_API_KEY) is set.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	home := daemon.Home()
	if err := os.MkdirAll(home, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", home, err)
	}
	cfg, err := daemon.LoadConfig(home)
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.API.Port = port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Agenda ledger at %s\n", d.DB.Path())
	if d.Session == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "⚠️  Agent disabled: set %s to enable chat and reports.\n", cfg.Agent.APIKeyEnv)
	}
	return d.Serve(ctx)
}
