// Package cli implements the agenda command line.
package cli

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agenda-it/agenda/internal/daemon"
)

var rootCmd = &cobra.Command{
	Use:   "agenda",
	Short: "Agent-driven operations ledger for a one-technician IT business",
	Long: `Agenda keeps the clients, service tickets, invoices and audit trail of a
small IT business. Work is recorded directly or by talking to one of the
agents (supervisor, admin, operational, financial, analyst), which turn
plain language into ledger actions.

Run 'agenda serve' first; every other command talks to the running daemon.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("addr", "", "Daemon address (default: [api] host:port from config)")
	rootCmd.PersistentFlags().String("role", "", "Role direct actions are attributed to (default: system)")
	rootCmd.PersistentFlags().Duration("timeout", 2*time.Minute, "Request timeout")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// clientFor builds a daemon client from the command's flags and config.
func clientFor(cmd *cobra.Command) (*apiClient, error) {
	addr, _ := cmd.Flags().GetString("addr")
	role, _ := cmd.Flags().GetString("role")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if addr == "" {
		cfg, err := daemon.LoadConfig(daemon.Home())
		if err != nil {
			return nil, err
		}
		addr = cfg.API.Addr()
	}
	return newAPIClient(addr, role, timeout), nil
}
