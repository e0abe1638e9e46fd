package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ─── Business Rules ─────────────────────────────────────────────────────────
// Pure functions: input only, no hidden state.

// InvoiceGracePeriod is the fixed time between issue and due date.
const InvoiceGracePeriod = 7 * 24 * time.Hour

// MaxHours bounds any single hours figure: one year of continuous work.
const MaxHours = 24 * 365

// CheckHours rejects hours that are negative, not finite, or above MaxHours.
func CheckHours(hours float64) error {
	switch {
	case math.IsNaN(hours) || math.IsInf(hours, 0):
		return fmt.Errorf("%w: %v", ErrHoursOutOfRange, hours)
	case hours < 0:
		return ErrNegativeHours
	case hours > MaxHours:
		return fmt.Errorf("%w: %v exceeds %d", ErrHoursOutOfRange, hours, MaxHours)
	}
	return nil
}

// Cost prices hours at HourlyRate, rounded to the nearest minor unit.
// Results outside the int64 range saturate instead of wrapping; NaN costs 0.
func Cost(hours float64) Money {
	c := math.Round(hours * float64(HourlyRate))
	switch {
	case math.IsNaN(c):
		return 0
	case c >= math.MaxInt64:
		return math.MaxInt64
	case c <= math.MinInt64:
		return math.MinInt64
	}
	return Money(c)
}

// DueDate returns the payment deadline for an invoice issued at issue.
func DueDate(issue time.Time) time.Time {
	return issue.Add(InvoiceGracePeriod)
}

// ShouldEmitInvoice reports whether moving a ticket from one status to another
// produces an invoice. Re-entering Completed never does.
func ShouldEmitInvoice(from, to TicketStatus) bool {
	return to == TicketCompleted && from != TicketCompleted
}

// CanTransition reports whether the move is one the UI offers:
// Pending→InProgress, InProgress→Completed, and Pending|InProgress→Cancelled.
func CanTransition(from, to TicketStatus) bool {
	switch from {
	case TicketPending:
		return to == TicketInProgress || to == TicketCancelled
	case TicketInProgress:
		return to == TicketCompleted || to == TicketCancelled
	}
	return false
}

// ClientMatch is the result of resolving a free-text client name.
type ClientMatch struct {
	// Client is the first match in collection order, nil if none.
	Client *Client
	// Candidates holds the IDs of every matching client, in collection order.
	Candidates []string
}

// Found reports whether any client matched.
func (m ClientMatch) Found() bool { return m.Client != nil }

// Ambiguous reports whether more than one client matched. The first one
// is still used; callers decide whether to surface the ambiguity.
func (m ClientMatch) Ambiguous() bool { return len(m.Candidates) > 1 }

// ResolveClient finds clients whose name contains name, case-insensitively.
func ResolveClient(name string, clients []Client) ClientMatch {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return ClientMatch{}
	}
	var m ClientMatch
	for i := range clients {
		if !strings.Contains(strings.ToLower(clients[i].Name), needle) {
			continue
		}
		if m.Client == nil {
			c := clients[i]
			m.Client = &c
		}
		m.Candidates = append(m.Candidates, clients[i].ID)
	}
	return m
}

// NormalizeDate validates a calendar date and returns it as YYYY-MM-DD.
// Full RFC 3339 timestamps are accepted and cut to their date.
func NormalizeDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if d, err := time.Parse(time.DateOnly, s); err == nil {
		return d.Format(time.DateOnly), nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.Format(time.DateOnly), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDate, s)
}
