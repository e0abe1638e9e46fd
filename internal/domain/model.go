// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring: clients, tickets, invoices, the audit trail,
// and the rules that tie them together.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// ─── Money ──────────────────────────────────────────────────────────────────

// Money is an amount in currency minor units (Kz).
type Money int64

// HourlyRate is the single process-wide price of one hour of work.
// Stored costs are never recomputed when it changes.
const HourlyRate Money = 5000

// String formats the amount the way the dashboard shows it, e.g. "15,000 Kz".
func (m Money) String() string {
	n := int64(m)
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	digits := fmt.Sprintf("%d", n)
	var b strings.Builder
	for i, c := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return sign + b.String() + " Kz"
}

// PlaceholderContact fills optional client fields left blank.
const PlaceholderContact = "N/A"

// ─── Client ─────────────────────────────────────────────────────────────────

// Client is a customer of the business. Clients are never deleted.
type Client struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Contact string `json:"contact"`
	Email   string `json:"email"`
	Notes   string `json:"notes,omitempty"`
}

// ─── Ticket ─────────────────────────────────────────────────────────────────

// TicketStatus is a ticket's lifecycle state.
type TicketStatus string

const (
	TicketPending    TicketStatus = "pending"
	TicketInProgress TicketStatus = "in_progress"
	TicketCompleted  TicketStatus = "completed"
	TicketCancelled  TicketStatus = "cancelled"
)

// Terminal reports whether the UI offers no outgoing transition from s.
func (s TicketStatus) Terminal() bool {
	return s == TicketCompleted || s == TicketCancelled
}

// Valid reports whether s is one of the four known states.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketPending, TicketInProgress, TicketCompleted, TicketCancelled:
		return true
	}
	return false
}

// Label returns the human-readable status name.
func (s TicketStatus) Label() string {
	switch s {
	case TicketPending:
		return "Pending"
	case TicketInProgress:
		return "In Progress"
	case TicketCompleted:
		return "Completed"
	case TicketCancelled:
		return "Cancelled"
	}
	return string(s)
}

// ParseTicketStatus accepts "in_progress", "In Progress", "in-progress", etc.
func ParseTicketStatus(s string) (TicketStatus, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	st := TicketStatus(norm)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// Ticket is a unit of scheduled or completed service work.
type Ticket struct {
	ID             string       `json:"id"`
	ClientID       string       `json:"client_id"`
	Title          string       `json:"title"`
	Description    string       `json:"description"`
	Status         TicketStatus `json:"status"`
	ScheduledDate  string       `json:"scheduled_date"` // YYYY-MM-DD
	EstimatedHours float64      `json:"estimated_hours"`
	ActualHours    *float64     `json:"actual_hours,omitempty"`
	Cost           Money        `json:"cost"`
	CreatedAt      time.Time    `json:"created_at"`
}

// BillableHours returns the hours the cost is computed from:
// actual hours once recorded, the estimate before that.
func (t Ticket) BillableHours() float64 {
	if t.ActualHours != nil {
		return *t.ActualHours
	}
	return t.EstimatedHours
}

// ─── Invoice ────────────────────────────────────────────────────────────────

// Invoice bills one ticket-completion event.
type Invoice struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	Amount    Money     `json:"amount"`
	IsPaid    bool      `json:"is_paid"`
	IssueDate time.Time `json:"issue_date"`
	DueDate   time.Time `json:"due_date"`
}

// ─── Audit Trail ────────────────────────────────────────────────────────────

// AgentRole identifies who performed an action.
type AgentRole string

const (
	RoleSupervisor  AgentRole = "supervisor"
	RoleAdmin       AgentRole = "admin"
	RoleOperational AgentRole = "operational"
	RoleFinancial   AgentRole = "financial"
	RoleAnalyst     AgentRole = "analyst"

	// RoleSystem tags actions taken directly through a presentation surface.
	RoleSystem AgentRole = "system"
)

// AgentRoles lists the conversational roles in display order.
func AgentRoles() []AgentRole {
	return []AgentRole{RoleSupervisor, RoleAdmin, RoleOperational, RoleFinancial, RoleAnalyst}
}

// Conversational reports whether r is one of the roles a user can chat with.
// RoleSystem only authors audit entries.
func (r AgentRole) Conversational() bool {
	for _, known := range AgentRoles() {
		if r == known {
			return true
		}
	}
	return false
}

// Label returns the role's display name.
func (r AgentRole) Label() string {
	switch r {
	case RoleSupervisor:
		return "Supervisor (Master)"
	case RoleAdmin:
		return "Administrative"
	case RoleOperational:
		return "Operational"
	case RoleFinancial:
		return "Financial"
	case RoleAnalyst:
		return "Performance Analyst"
	case RoleSystem:
		return "System"
	}
	return string(r)
}

// ParseAgentRole maps a role name to an AgentRole. Empty means supervisor.
func ParseAgentRole(s string) (AgentRole, error) {
	r := AgentRole(strings.ToLower(strings.TrimSpace(s)))
	if r == "" {
		return RoleSupervisor, nil
	}
	for _, known := range append(AgentRoles(), RoleSystem) {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// Audit action codes.
const (
	ActionCreateClient = "CREATE_CLIENT"
	ActionCreateTicket = "CREATE_TICKET"
	ActionReportWork   = "REPORT_WORK"
	ActionUpdateStatus = "UPDATE_STATUS"
)

// SystemLog is one append-only audit entry.
type SystemLog struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Agent     AgentRole `json:"agent"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
}

// ─── Snapshot ───────────────────────────────────────────────────────────────

// CollectionKey names one independently persisted collection.
type CollectionKey string

const (
	CollectionClients  CollectionKey = "clients"
	CollectionTickets  CollectionKey = "tickets"
	CollectionInvoices CollectionKey = "invoices"
	CollectionLogs     CollectionKey = "logs"
)

// Collections lists every persisted collection key.
func Collections() []CollectionKey {
	return []CollectionKey{CollectionClients, CollectionTickets, CollectionInvoices, CollectionLogs}
}

// Snapshot holds the four ledger collections. Logs are newest-first.
type Snapshot struct {
	Clients  []Client    `json:"clients"`
	Tickets  []Ticket    `json:"tickets"`
	Invoices []Invoice   `json:"invoices"`
	Logs     []SystemLog `json:"logs"`
}

// Clone returns a deep copy safe to hand to readers.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Clients:  append([]Client(nil), s.Clients...),
		Tickets:  make([]Ticket, len(s.Tickets)),
		Invoices: append([]Invoice(nil), s.Invoices...),
		Logs:     append([]SystemLog(nil), s.Logs...),
	}
	for i, t := range s.Tickets {
		out.Tickets[i] = t.clone()
	}
	return out
}

func (t Ticket) clone() Ticket {
	if t.ActualHours != nil {
		h := *t.ActualHours
		t.ActualHours = &h
	}
	return t
}

// Clone returns a copy of t that shares no pointers with it.
func (t Ticket) Clone() Ticket { return t.clone() }

// ─── Actions ────────────────────────────────────────────────────────────────

// ActionCall is an action proposed by an agent: a name plus an argument bag.
type ActionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}
