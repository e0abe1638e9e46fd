package cli

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agenda-it/agenda/internal/app/dashboard"
	"github.com/agenda-it/agenda/internal/app/dispatch"
	"github.com/agenda-it/agenda/internal/domain"
)

func init() {
	rootCmd.AddCommand(clientCmd, ticketCmd, workCmd, invoicesCmd, logsCmd, dashboardCmd)

	clientCmd.AddCommand(clientAddCmd, clientListCmd)
	clientAddCmd.Flags().String("contact", "", "Phone number")
	clientAddCmd.Flags().String("email", "", "Email address")

	ticketCmd.AddCommand(ticketCreateCmd, ticketListCmd, ticketStatusCmd)
	ticketCreateCmd.Flags().StringP("date", "d", "", "Scheduled date (YYYY-MM-DD)")
	ticketCreateCmd.Flags().String("client", "", "Client ID")
	ticketCreateCmd.Flags().String("description", "", "Problem description")
	ticketCreateCmd.Flags().Float64("hours", 0, "Estimated hours")
	ticketCreateCmd.MarkFlagRequired("date")
	ticketListCmd.Flags().String("status", "", "Only tickets in this status")
	ticketListCmd.Flags().String("date", "", "Only tickets scheduled on this date")
	ticketStatusCmd.Flags().Float64("actual-hours", -1, "Actual hours worked (recomputes cost)")

	workCmd.AddCommand(workLogCmd)
	workLogCmd.Flags().String("client", "", "Client name")
	workLogCmd.Flags().Float64("hours", 0, "Hours spent")
	workLogCmd.Flags().String("details", "", "Technical details (default: the summary)")
	workLogCmd.MarkFlagRequired("client")
	workLogCmd.MarkFlagRequired("hours")

	invoicesCmd.Flags().Bool("unpaid", false, "Only unpaid invoices")
	logsCmd.Flags().IntP("limit", "n", 20, "Number of entries (0 for all)")
}

// ─── client ─────────────────────────────────────────────────────────────────

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Manage clients",
}

var clientAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Register a client",
	Args:  cobra.ExactArgs(1),
	RunE:  runClientAdd,
}

func runClientAdd(cmd *cobra.Command, args []string) error {
	contact, _ := cmd.Flags().GetString("contact")
	email, _ := cmd.Flags().GetString("email")
	return postAction(cmd, "/api/clients", map[string]any{
		"name":    args[0],
		"contact": contact,
		"email":   email,
	})
}

var clientListCmd = &cobra.Command{
	Use:   "list",
	Short: "List clients",
	Args:  cobra.NoArgs,
	RunE:  runClientList,
}

func runClientList(cmd *cobra.Command, args []string) error {
	c, err := clientFor(cmd)
	if err != nil {
		return err
	}
	var resp struct {
		Clients []domain.Client `json:"clients"`
	}
	if err := c.get(cmd.Context(), "/api/clients", &resp); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(resp.Clients) == 0 {
		fmt.Fprintln(out, "No clients registered.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCONTACT\tEMAIL")
	for _, cl := range resp.Clients {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", cl.ID, cl.Name, cl.Contact, cl.Email)
	}
	return tw.Flush()
}

// ─── ticket ─────────────────────────────────────────────────────────────────

var ticketCmd = &cobra.Command{
	Use:   "ticket",
	Short: "Manage service tickets",
}

var ticketCreateCmd = &cobra.Command{
	Use:   "create TITLE",
	Short: "Schedule a ticket",
	Args:  cobra.ExactArgs(1),
	RunE:  runTicketCreate,
}

func runTicketCreate(cmd *cobra.Command, args []string) error {
	date, _ := cmd.Flags().GetString("date")
	client, _ := cmd.Flags().GetString("client")
	desc, _ := cmd.Flags().GetString("description")
	hours, _ := cmd.Flags().GetFloat64("hours")

	body := map[string]any{
		"title":          args[0],
		"scheduledDate":  date,
		"description":    desc,
		"estimatedHours": hours,
	}
	if client != "" {
		body["clientId"] = client
	}
	return postAction(cmd, "/api/tickets", body)
}

var ticketListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tickets",
	Args:  cobra.NoArgs,
	RunE:  runTicketList,
}

func runTicketList(cmd *cobra.Command, args []string) error {
	c, err := clientFor(cmd)
	if err != nil {
		return err
	}
	q := url.Values{}
	if s, _ := cmd.Flags().GetString("status"); s != "" {
		q.Set("status", s)
	}
	if d, _ := cmd.Flags().GetString("date"); d != "" {
		q.Set("date", d)
	}
	path := "/api/tickets"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Tickets []domain.Ticket `json:"tickets"`
	}
	if err := c.get(cmd.Context(), path, &resp); err != nil {
		return err
	}
	printTickets(cmd.OutOrStdout(), resp.Tickets)
	return nil
}

func printTickets(out io.Writer, tickets []domain.Ticket) {
	if len(tickets) == 0 {
		fmt.Fprintln(out, "No tickets.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tSTATUS\tTITLE\tCLIENT\tHOURS\tCOST")
	for _, t := range tickets {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%g\t%s\n",
			t.ID, t.ScheduledDate, t.Status.Label(), t.Title, orDash(t.ClientID), t.BillableHours(), t.Cost)
	}
	tw.Flush()
}

var ticketStatusCmd = &cobra.Command{
	Use:   "status TICKET_ID STATUS",
	Short: "Move a ticket to pending, in_progress, completed or cancelled",
	Long: `Move a ticket along the offered transitions:
  pending     → in_progress | cancelled
  in_progress → completed   | cancelled
Completing a ticket issues its invoice.`,
	Args: cobra.ExactArgs(2),
	RunE: runTicketStatus,
}

func runTicketStatus(cmd *cobra.Command, args []string) error {
	c, err := clientFor(cmd)
	if err != nil {
		return err
	}
	body := map[string]any{"status": args[1]}
	if h, _ := cmd.Flags().GetFloat64("actual-hours"); h >= 0 {
		body["actualHours"] = h
	}

	var resp struct {
		Ticket  domain.Ticket   `json:"ticket"`
		Invoice *domain.Invoice `json:"invoice"`
	}
	if err := c.post(cmd.Context(), "/api/tickets/"+url.PathEscape(args[0])+"/status", body, &resp); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✅ Ticket %q is now %s.\n", resp.Ticket.Title, resp.Ticket.Status.Label())
	if resp.Invoice != nil {
		fmt.Fprintf(out, "   Invoice %s issued for %s, due %s.\n",
			resp.Invoice.ID, resp.Invoice.Amount, resp.Invoice.DueDate.Format("2006-01-02"))
	}
	return nil
}

// ─── work ───────────────────────────────────────────────────────────────────

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Record completed work",
}

var workLogCmd = &cobra.Command{
	Use:   "log SUMMARY",
	Short: "Log completed work: creates the client if needed, a completed ticket and its invoice",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkLog,
}

func runWorkLog(cmd *cobra.Command, args []string) error {
	client, _ := cmd.Flags().GetString("client")
	hours, _ := cmd.Flags().GetFloat64("hours")
	details, _ := cmd.Flags().GetString("details")

	body := map[string]any{
		"clientName": client,
		"summary":    args[0],
		"hours":      hours,
	}
	if details != "" {
		body["details"] = details
	}
	return postAction(cmd, "/api/work", body)
}

// ─── invoices / logs / dashboard ────────────────────────────────────────────

var invoicesCmd = &cobra.Command{
	Use:   "invoices",
	Short: "List invoices",
	Args:  cobra.NoArgs,
	RunE:  runInvoices,
}

func runInvoices(cmd *cobra.Command, args []string) error {
	c, err := clientFor(cmd)
	if err != nil {
		return err
	}
	path := "/api/invoices"
	if unpaid, _ := cmd.Flags().GetBool("unpaid"); unpaid {
		path += "?unpaid=true"
	}
	var resp struct {
		Invoices []domain.Invoice `json:"invoices"`
	}
	if err := c.get(cmd.Context(), path, &resp); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(resp.Invoices) == 0 {
		fmt.Fprintln(out, "No invoices.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTICKET\tAMOUNT\tISSUED\tDUE\tPAID")
	for _, inv := range resp.Invoices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\n", inv.ID, inv.TicketID, inv.Amount,
			inv.IssueDate.Format("2006-01-02"), inv.DueDate.Format("2006-01-02"), inv.IsPaid)
	}
	return tw.Flush()
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the audit trail, newest first",
	Args:  cobra.NoArgs,
	RunE:  runLogs,
}

func runLogs(cmd *cobra.Command, args []string) error {
	c, err := clientFor(cmd)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	var resp struct {
		Logs []domain.SystemLog `json:"logs"`
	}
	if err := c.get(cmd.Context(), "/api/logs?limit="+strconv.Itoa(limit), &resp); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(resp.Logs) == 0 {
		fmt.Fprintln(out, "No activity yet.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tAGENT\tACTION\tDETAILS")
	for _, l := range resp.Logs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", l.Timestamp.Format("2006-01-02 15:04"), l.Agent.Label(), l.Action, l.Details)
	}
	return tw.Flush()
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show today's overview",
	Args:  cobra.NoArgs,
	RunE:  runDashboard,
}

func runDashboard(cmd *cobra.Command, args []string) error {
	c, err := clientFor(cmd)
	if err != nil {
		return err
	}
	var s dashboard.Summary
	if err := c.get(cmd.Context(), "/api/dashboard", &s); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Overview for %s\n\n", s.Date)
	fmt.Fprintf(out, "  Scheduled today:        %d\n", s.TodayCount)
	fmt.Fprintf(out, "  Open tickets:           %d\n", s.PendingCount)
	fmt.Fprintf(out, "  Projected income today: %s\n", s.ProjectedDailyIncome)
	fmt.Fprintf(out, "  Receivables:            %s (%d unpaid)\n", s.Receivables, s.UnpaidInvoices)
	if len(s.RevenueByDate) > 0 {
		fmt.Fprintln(out, "\n  Revenue by date:")
		for _, d := range s.RevenueByDate {
			fmt.Fprintf(out, "    %s  %s\n", d.Date, d.Amount)
		}
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// postAction sends a direct action and prints its confirmation.
func postAction(cmd *cobra.Command, path string, body map[string]any) error {
	c, err := clientFor(cmd)
	if err != nil {
		return err
	}
	var resp struct {
		Outcome dispatch.Outcome `json:"outcome"`
		Message string           `json:"message"`
	}
	if err := c.post(cmd.Context(), path, body, &resp); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ %s\n", resp.Message)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
