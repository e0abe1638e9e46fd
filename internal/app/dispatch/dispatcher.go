// Package dispatch validates the actions an agent proposes and applies them
// to the ledger.
//
// For every proposed call the dispatcher:
//  1. Parses the argument bag into a typed Action
//  2. Applies it through the ledger store
//  3. Writes an audit entry attributed to the calling role
//
// Calls are applied in order and independently. A failed call does not
// undo the calls before it.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/agenda-it/agenda/internal/app/ledger"
	"github.com/agenda-it/agenda/internal/domain"
	"github.com/agenda-it/agenda/internal/infra/observability"
)

// Ledger is the subset of the ledger store the dispatcher mutates.
type Ledger interface {
	AddClient(ctx context.Context, in ledger.NewClient) (string, error)
	AddTicket(ctx context.Context, in ledger.NewTicket) (string, error)
	LogCompletedWork(ctx context.Context, w ledger.WorkEntry) (ledger.WorkReport, error)
	AddLog(ctx context.Context, role domain.AgentRole, action, details string) error
}

var _ Ledger = (*ledger.Store)(nil)

// Dispatcher applies agent actions to a ledger.
type Dispatcher struct {
	store  Ledger
	tracer *observability.Tracer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTracer records one span per dispatched call, nested under the span
// carried by the call's context.
func WithTracer(t *observability.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// New creates a dispatcher over store.
func New(store Ledger, opts ...Option) *Dispatcher {
	d := &Dispatcher{store: store}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Outcome describes the effect of one applied action.
type Outcome struct {
	Action        string       `json:"action"`
	ClientID      string       `json:"client_id,omitempty"`
	TicketID      string       `json:"ticket_id,omitempty"`
	InvoiceID     string       `json:"invoice_id,omitempty"`
	Cost          domain.Money `json:"cost,omitempty"`
	ClientCreated bool         `json:"client_created,omitempty"`
	Candidates    []string     `json:"candidates,omitempty"`
	Ignored       bool         `json:"ignored,omitempty"`

	// For the confirmation line.
	Subject string  `json:"subject,omitempty"`
	Date    string  `json:"date,omitempty"`
	Hours   float64 `json:"hours,omitempty"`
}

// Summary renders a one-line confirmation for the user.
func (o Outcome) Summary() string {
	switch o.Action {
	case NameAddClient:
		return fmt.Sprintf("Client %s added (ID: %s).", o.Subject, o.ClientID)
	case NameCreateTicket:
		return fmt.Sprintf("Ticket %q scheduled for %s (ID: %s).", o.Subject, o.Date, o.TicketID)
	case NameLogWorkDone:
		var b strings.Builder
		fmt.Fprintf(&b, "Work %q logged: %gh, invoice %s issued for %s.", o.Subject, o.Hours, o.InvoiceID, o.Cost)
		if o.ClientCreated {
			fmt.Fprintf(&b, " New client created (ID: %s).", o.ClientID)
		}
		if len(o.Candidates) > 1 {
			fmt.Fprintf(&b, " Client name matched %d clients; used %s.", len(o.Candidates), o.ClientID)
		}
		return b.String()
	}
	if o.Ignored {
		return fmt.Sprintf("Action %q is not supported and was ignored.", o.Action)
	}
	return ""
}

// Result pairs a proposed call with what happened to it.
type Result struct {
	Call    domain.ActionCall
	Outcome Outcome
	Err     error
}

// Dispatch parses and applies one call on behalf of role.
func (d *Dispatcher) Dispatch(ctx context.Context, role domain.AgentRole, call domain.ActionCall) (out Outcome, err error) {
	ctx, span := d.tracer.Start(ctx, "dispatch."+call.Name, map[string]string{"role": string(role)})
	defer func() { d.tracer.Finish(span, err) }()

	act, err := Parse(call)
	if err != nil {
		observability.DispatchedActions.WithLabelValues(call.Name, "rejected").Inc()
		log.Printf("[dispatch] %s rejected: %v", call.Name, err)
		return Outcome{Action: call.Name}, err
	}
	return d.Apply(ctx, role, act)
}

// DispatchAll applies calls in order. Each call is independent; failures
// are reported per call and earlier effects are kept.
func (d *Dispatcher) DispatchAll(ctx context.Context, role domain.AgentRole, calls []domain.ActionCall) []Result {
	results := make([]Result, 0, len(calls))
	for _, call := range calls {
		out, err := d.Dispatch(ctx, role, call)
		results = append(results, Result{Call: call, Outcome: out, Err: err})
	}
	return results
}

// Apply executes an already parsed action.
func (d *Dispatcher) Apply(ctx context.Context, role domain.AgentRole, act Action) (Outcome, error) {
	var (
		out Outcome
		err error
	)
	switch a := act.(type) {
	case AddClient:
		out, err = d.addClient(ctx, role, a)
	case CreateTicket:
		out, err = d.createTicket(ctx, role, a)
	case LogWorkDone:
		out, err = d.logWorkDone(ctx, role, a)
	case Unrecognized:
		observability.DispatchedActions.WithLabelValues("unrecognized", "ignored").Inc()
		log.Printf("[dispatch] ignoring unrecognized action %q", a.Name)
		return Outcome{Action: a.Name, Ignored: true}, nil
	default:
		return Outcome{}, fmt.Errorf("dispatch: unsupported action %T", act)
	}

	switch {
	case err == nil:
		observability.DispatchedActions.WithLabelValues(act.ActionName(), "applied").Inc()
	case errors.Is(err, domain.ErrValidation):
		observability.DispatchedActions.WithLabelValues(act.ActionName(), "rejected").Inc()
		log.Printf("[dispatch] %s rejected: %v", act.ActionName(), err)
	default:
		observability.DispatchedActions.WithLabelValues(act.ActionName(), "failed").Inc()
		log.Printf("[dispatch] %s failed: %v", act.ActionName(), err)
	}
	return out, err
}

// ─── Handlers ───────────────────────────────────────────────────────────────

func (d *Dispatcher) addClient(ctx context.Context, role domain.AgentRole, a AddClient) (Outcome, error) {
	out := Outcome{Action: NameAddClient, Subject: a.Name}
	id, err := d.store.AddClient(ctx, ledger.NewClient{Name: a.Name, Contact: a.Contact, Email: a.Email})
	if err != nil {
		return out, asValidation(NameAddClient, err)
	}
	out.ClientID = id
	out.ClientCreated = true
	d.audit(ctx, role, domain.ActionCreateClient, fmt.Sprintf("Client %s created", a.Name))
	return out, nil
}

func (d *Dispatcher) createTicket(ctx context.Context, role domain.AgentRole, a CreateTicket) (Outcome, error) {
	out := Outcome{Action: NameCreateTicket, Subject: a.Title, Date: a.ScheduledDate, ClientID: a.ClientID, Hours: a.EstimatedHours}
	id, err := d.store.AddTicket(ctx, ledger.NewTicket{
		ClientID:       a.ClientID,
		Title:          a.Title,
		Description:    a.Description,
		ScheduledDate:  a.ScheduledDate,
		EstimatedHours: a.EstimatedHours,
	})
	if err != nil {
		return out, asValidation(NameCreateTicket, err)
	}
	out.TicketID = id
	out.Cost = domain.Cost(a.EstimatedHours)
	d.audit(ctx, role, domain.ActionCreateTicket, fmt.Sprintf("Ticket %q scheduled for %s", a.Title, a.ScheduledDate))
	return out, nil
}

func (d *Dispatcher) logWorkDone(ctx context.Context, role domain.AgentRole, a LogWorkDone) (Outcome, error) {
	out := Outcome{Action: NameLogWorkDone, Subject: a.Summary, Hours: a.Hours}
	rep, err := d.store.LogCompletedWork(ctx, ledger.WorkEntry{
		ClientName: a.ClientName,
		Summary:    a.Summary,
		Details:    a.Details,
		Hours:      a.Hours,
	})
	if err != nil {
		return out, asValidation(NameLogWorkDone, err)
	}
	out.ClientID = rep.ClientID
	out.TicketID = rep.TicketID
	out.InvoiceID = rep.InvoiceID
	out.Cost = rep.Cost
	out.ClientCreated = rep.ClientCreated
	out.Candidates = rep.Candidates
	d.audit(ctx, role, domain.ActionReportWork,
		fmt.Sprintf("Report: %s (%gh) for %s, invoice %s", a.Summary, a.Hours, a.ClientName, rep.InvoiceID))
	return out, nil
}

// audit records an entry for an applied action. The action itself is
// already committed, so a failed audit write is only logged.
func (d *Dispatcher) audit(ctx context.Context, role domain.AgentRole, code, details string) {
	if err := d.store.AddLog(ctx, role, code, details); err != nil {
		log.Printf("[dispatch] audit %s failed: %v", code, err)
	}
}

// asValidation maps ledger input errors onto the field that caused them.
// Anything else (persistence) passes through unchanged.
func asValidation(action string, err error) error {
	var field, reason string
	switch {
	case errors.Is(err, domain.ErrEmptyName):
		field, reason = "name", "must not be empty"
		if action == NameLogWorkDone {
			field = "clientName"
		}
	case errors.Is(err, domain.ErrClientNotFound):
		field, reason = "clientId", "does not reference a known client"
	case errors.Is(err, domain.ErrInvalidDate):
		field, reason = "scheduledDate", "must be a calendar date (YYYY-MM-DD)"
	case errors.Is(err, domain.ErrNegativeHours), errors.Is(err, domain.ErrHoursOutOfRange):
		field, reason = "hours", "must not be negative"
		if errors.Is(err, domain.ErrHoursOutOfRange) {
			reason = fmt.Sprintf("must not exceed %d", domain.MaxHours)
		}
		if action == NameCreateTicket {
			field = "estimatedHours"
		}
	default:
		return err
	}
	return &domain.ValidationError{Action: action, Field: field, Reason: reason}
}
