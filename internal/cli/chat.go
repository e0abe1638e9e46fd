package cli

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/agenda-it/agenda/internal/app/agent"
	"github.com/agenda-it/agenda/internal/domain"
	"github.com/agenda-it/agenda/internal/infra/observability"
)

// ─── Agent CLI ──────────────────────────────────────────────────────────────
// The agents run inside the daemon. These commands send utterances to it and
// print the reply together with the actions that were applied.

func init() {
	rootCmd.AddCommand(chatCmd, reportCmd, agentsCmd, tracesCmd)

	chatCmd.Flags().StringP("agent", "a", string(domain.RoleSupervisor), "Agent role: supervisor, admin, operational, financial, analyst")
	reportCmd.Flags().Float64("hours", 0, "Hours spent")
	reportCmd.MarkFlagRequired("hours")
	tracesCmd.Flags().IntP("limit", "n", 20, "Number of spans (0 for all kept)")
}

// ─── chat ───────────────────────────────────────────────────────────────────

var chatCmd = &cobra.Command{
	Use:   "chat [MESSAGE]",
	Short: "Talk to an agent",
	Long: `Send a message to one of the agents. The agent may register clients,
schedule tickets or log completed work on your behalf.

Without MESSAGE, chat reads one message per line from standard input until
EOF or "exit".`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	roleName, _ := cmd.Flags().GetString("agent")
	role, err := domain.ParseAgentRole(roleName)
	if err != nil {
		return err
	}
	c, err := clientFor(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		return sendChat(cmd, c, role, args[0], out)
	}

	fmt.Fprintf(out, "Talking to %s. Type \"exit\" to quit.\n", role.Label())
	sc := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		if err := sendChat(cmd, c, role, line, out); err != nil {
			if isStatus(err, http.StatusServiceUnavailable) {
				return err
			}
			fmt.Fprintf(out, "❌ %v\n", err)
		}
	}
}

func sendChat(cmd *cobra.Command, c *apiClient, role domain.AgentRole, msg string, out io.Writer) error {
	var res agent.TurnResult
	if err := c.post(cmd.Context(), "/api/chat", map[string]any{"role": string(role), "message": msg}, &res); err != nil {
		return err
	}
	fmt.Fprintf(out, "[%s]\n%s\n", res.Role.Label(), res.Reply)
	return nil
}

// ─── report ─────────────────────────────────────────────────────────────────

var reportCmd = &cobra.Command{
	Use:   "report DESCRIPTION",
	Short: "Report completed work in your own words",
	Long: `Describe a finished job in plain language. The operational agent picks out
the client and a summary, then logs a completed ticket and its invoice.
Reports that name no client are billed to the walk-in client.`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func runReport(cmd *cobra.Command, args []string) error {
	hours, _ := cmd.Flags().GetFloat64("hours")
	c, err := clientFor(cmd)
	if err != nil {
		return err
	}
	var res agent.ReportResult
	err = c.post(cmd.Context(), "/api/reports", map[string]any{"description": args[0], "hours": hours}, &res)
	if isStatus(err, http.StatusUnprocessableEntity) {
		return fmt.Errorf("the agent could not log this report automatically; try naming the client and the service")
	}
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✅ %s\n", res.Summary)
	fmt.Fprintf(out, "   Invoice %s for %s.\n", res.Outcome.InvoiceID, res.Outcome.Cost)
	return nil
}

// ─── agents ─────────────────────────────────────────────────────────────────

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the agent roles",
	Args:  cobra.NoArgs,
	RunE:  runAgents,
}

func runAgents(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Agent roles (%d):\n", len(domain.AgentRoles()))
	for _, r := range domain.AgentRoles() {
		fmt.Fprintf(out, "  • %-12s %s\n", r, r.Label())
	}
	return nil
}

// ─── traces ─────────────────────────────────────────────────────────────────

var tracesCmd = &cobra.Command{
	Use:   "traces",
	Short: "Show recent agent turns and the actions they dispatched",
	Args:  cobra.NoArgs,
	RunE:  runTraces,
}

func runTraces(cmd *cobra.Command, args []string) error {
	c, err := clientFor(cmd)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	var resp struct {
		Spans []observability.Span `json:"spans"`
	}
	if err := c.get(cmd.Context(), "/api/agent/traces?limit="+strconv.Itoa(limit), &resp); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(resp.Spans) == 0 {
		fmt.Fprintln(out, "No agent activity yet.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSTEP\tROLE\tELAPSED\tERROR")
	for _, sp := range resp.Spans {
		name := sp.Name
		if sp.Parent != "" {
			name = "  " + name
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", sp.Start.Format("15:04:05"), name,
			sp.Attrs["role"], sp.Elapsed.Round(time.Millisecond), orDash(sp.Error))
	}
	return tw.Flush()
}
