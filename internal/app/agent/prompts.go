package agent

import (
	"fmt"
	"strings"

	"github.com/agenda-it/agenda/internal/domain"
)

const baseInstruction = "You are a specialised assistant working for a one-technician IT business."

// Instruction returns the standing instruction for role.
func Instruction(role domain.AgentRole) string {
	switch role {
	case domain.RoleAdmin:
		return baseInstruction + " Your focus is the schedule, client registration and organisation. Be courteous and efficient."
	case domain.RoleOperational:
		return baseInstruction + " You are the official service record. When the technician says what they did, extract: client, summary, details and hours. " +
			"If hours are missing, assume 1h or ask. Call the 'logWorkDone' tool IMMEDIATELY to record completed work. Be brief."
	case domain.RoleFinancial:
		return baseInstruction + fmt.Sprintf(" Your focus is cash flow, costs and invoices. Be analytical and conservative. Remember that one hour costs %s.", domain.HourlyRate)
	case domain.RoleAnalyst:
		return baseInstruction + " Your focus is metrics and process improvement. Look for patterns and suggest optimisations."
	}
	return baseInstruction + " You are the general manager. You coordinate the other agents. " +
		"If the request is generic, decide on the best action. Keep a holistic view of the business."
}

// BuildContext renders the state the agent is allowed to see: the hourly
// rate, the client roster, and every ticket that is not Completed or
// Cancelled.
func BuildContext(rate domain.Money, clients []domain.Client, tickets []domain.Ticket) string {
	roster := make([]string, 0, len(clients))
	for _, c := range clients {
		roster = append(roster, fmt.Sprintf("%s (ID: %s)", c.Name, c.ID))
	}
	var open []string
	for _, t := range tickets {
		if t.Status.Terminal() {
			continue
		}
		open = append(open, fmt.Sprintf("[%s] %s for client %s (%s)", t.ScheduledDate, t.Title, t.ClientID, t.Status.Label()))
	}

	var b strings.Builder
	b.WriteString("CURRENT BUSINESS CONTEXT:\n")
	fmt.Fprintf(&b, "- Hourly rate: %s.\n", rate)
	fmt.Fprintf(&b, "- Registered clients: %s.\n", strings.Join(roster, ", "))
	fmt.Fprintf(&b, "- Pending/scheduled tickets: %s.\n", strings.Join(open, "; "))
	b.WriteString("\nYou are an assistant integrated into a system. Use the provided tools to perform real actions such as creating tickets or clients when asked.")
	return b.String()
}

// reportPrompt asks the operational agent to turn a free-text service
// description into a logWorkDone call.
func reportPrompt(description string, hours float64, fallbackClient string) string {
	return fmt.Sprintf(`THE TECHNICIAN IS REPORTING A COMPLETED SERVICE.
Technician's description: %q
Time spent: %g hours.

Your task:
1. Identify the client's name in the text (or use %q if none is given).
2. Summarise the service.
3. Call the 'logWorkDone' function with the correct data.`, description, hours, fallbackClient)
}
