// Package ledger holds the authoritative business state: clients, tickets,
// invoices, and the audit trail.
//
// The store:
//  1. Loads all four collections at startup
//  2. Applies mutations under a single writer lock
//  3. Enforces the cost and invoice invariants on every hour-affecting change
//  4. Persists every touched collection before the change becomes visible
package ledger

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agenda-it/agenda/internal/domain"
	"github.com/agenda-it/agenda/internal/infra/observability"
)

// Store is the in-memory ledger. The zero value is not usable; call New.
type Store struct {
	mu        sync.RWMutex
	snap      domain.Snapshot
	persister domain.Persister
	now       func() time.Time
	newID     func() string
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides identifier generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// New creates an empty store. A nil persister keeps everything in memory.
func New(p domain.Persister, opts ...Option) *Store {
	s := &Store{
		persister: p,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open loads the persisted collections, replacing the in-memory state.
func (s *Store) Open(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	snap, err := s.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	log.Printf("[ledger] loaded %d clients, %d tickets, %d invoices, %d logs",
		len(snap.Clients), len(snap.Tickets), len(snap.Invoices), len(snap.Logs))
	return nil
}

// ─── Inputs / Outputs ───────────────────────────────────────────────────────

// NewClient is the data needed to register a client.
type NewClient struct {
	Name    string
	Contact string
	Email   string
	Notes   string
}

// NewTicket is the data needed to schedule a ticket.
type NewTicket struct {
	ClientID       string
	Title          string
	Description    string
	ScheduledDate  string
	EstimatedHours float64
}

// WorkEntry describes work already done, as reported by the technician.
type WorkEntry struct {
	ClientName string
	Summary    string
	Details    string
	Hours      float64
}

// WorkReport is the result of logging completed work.
type WorkReport struct {
	ClientID      string       `json:"client_id"`
	TicketID      string       `json:"ticket_id"`
	InvoiceID     string       `json:"invoice_id"`
	Cost          domain.Money `json:"cost"`
	ClientCreated bool         `json:"client_created"`
	// Candidates lists every client the name matched when more than one did.
	Candidates []string `json:"candidates,omitempty"`
}

// ─── Mutations ──────────────────────────────────────────────────────────────

// AddClient registers a client and returns its id.
func (s *Store) AddClient(ctx context.Context, in NewClient) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.buildClient(in)
	if err != nil {
		return "", err
	}
	next := s.snap
	next.Clients = append(cloneSlice(s.snap.Clients), c)
	if err := s.commit(ctx, next, domain.CollectionClients); err != nil {
		return "", err
	}
	observability.LedgerMutations.WithLabelValues("add_client").Inc()
	return c.ID, nil
}

func (s *Store) buildClient(in NewClient) (domain.Client, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Client{}, domain.ErrEmptyName
	}
	return domain.Client{
		ID:      s.newID(),
		Name:    name,
		Contact: orPlaceholder(in.Contact),
		Email:   orPlaceholder(in.Email),
		Notes:   strings.TrimSpace(in.Notes),
	}, nil
}

// AddTicket schedules a Pending ticket and returns its id. A non-empty
// ClientID must reference an existing client.
func (s *Store) AddTicket(ctx context.Context, in NewTicket) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := domain.CheckHours(in.EstimatedHours); err != nil {
		return "", err
	}
	date, err := domain.NormalizeDate(in.ScheduledDate)
	if err != nil {
		return "", err
	}
	if in.ClientID != "" && s.findClient(in.ClientID) < 0 {
		return "", fmt.Errorf("%w: %s", domain.ErrClientNotFound, in.ClientID)
	}

	t := domain.Ticket{
		ID:             s.newID(),
		ClientID:       in.ClientID,
		Title:          strings.TrimSpace(in.Title),
		Description:    strings.TrimSpace(in.Description),
		Status:         domain.TicketPending,
		ScheduledDate:  date,
		EstimatedHours: in.EstimatedHours,
		Cost:           domain.Cost(in.EstimatedHours),
		CreatedAt:      s.now(),
	}
	next := s.snap
	next.Tickets = append(cloneTickets(s.snap.Tickets), t)
	if err := s.commit(ctx, next, domain.CollectionTickets); err != nil {
		return "", err
	}
	observability.LedgerMutations.WithLabelValues("add_ticket").Inc()
	return t.ID, nil
}

// UpdateTicketStatus moves a ticket to status. When actualHours is given the
// cost is recomputed from it. The first time a ticket enters Completed it is
// invoiced and the invoice is returned; otherwise the invoice is nil, even
// if the ticket left Completed and came back.
// The store accepts any transition; callers restrict it with CanTransition.
func (s *Store) UpdateTicketStatus(ctx context.Context, id string, status domain.TicketStatus, actualHours *float64) (*domain.Invoice, error) {
	return s.updateStatus(ctx, id, status, actualHours, false)
}

// TransitionTicket is UpdateTicketStatus restricted to the moves the UI
// offers. Any other move fails with ErrTransitionNotAllowed.
func (s *Store) TransitionTicket(ctx context.Context, id string, status domain.TicketStatus, actualHours *float64) (*domain.Invoice, error) {
	return s.updateStatus(ctx, id, status, actualHours, true)
}

func (s *Store) updateStatus(ctx context.Context, id string, status domain.TicketStatus, actualHours *float64, restricted bool) (*domain.Invoice, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}
	if actualHours != nil {
		if err := domain.CheckHours(*actualHours); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findTicket(id)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrTicketNotFound, id)
	}

	prev := s.snap.Tickets[idx].Status
	if restricted && !domain.CanTransition(prev, status) {
		return nil, fmt.Errorf("%w: %s to %s", domain.ErrTransitionNotAllowed, prev.Label(), status.Label())
	}

	next := s.snap
	next.Tickets = cloneTickets(s.snap.Tickets)
	t := &next.Tickets[idx]
	t.Status = status
	if actualHours != nil {
		h := *actualHours
		t.ActualHours = &h
		t.Cost = domain.Cost(h)
	}

	keys := []domain.CollectionKey{domain.CollectionTickets}
	var inv *domain.Invoice
	if domain.ShouldEmitInvoice(prev, status) && !s.hasInvoice(t.ID) {
		i := s.buildInvoice(t.ID, t.Cost)
		next.Invoices = append(cloneSlice(s.snap.Invoices), i)
		keys = append(keys, domain.CollectionInvoices)
		inv = &i
	}

	if err := s.commit(ctx, next, keys...); err != nil {
		return nil, err
	}
	observability.LedgerMutations.WithLabelValues("update_status").Inc()
	if inv != nil {
		recordInvoice(*inv)
		log.Printf("[ledger] ticket %s completed, invoice %s for %s", id, inv.ID, inv.Amount)
	}
	return inv, nil
}

// LogCompletedWork records work already done in one step: the client is
// resolved by name (or created), a Completed ticket dated today is added,
// and its invoice is issued immediately.
func (s *Store) LogCompletedWork(ctx context.Context, w WorkEntry) (WorkReport, error) {
	if err := domain.CheckHours(w.Hours); err != nil {
		return WorkReport{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snap
	keys := []domain.CollectionKey{domain.CollectionTickets, domain.CollectionInvoices}
	var report WorkReport

	match := domain.ResolveClient(w.ClientName, s.snap.Clients)
	if match.Found() {
		report.ClientID = match.Client.ID
		if match.Ambiguous() {
			report.Candidates = match.Candidates
			log.Printf("[ledger] client name %q matched %d clients, using %s",
				w.ClientName, len(match.Candidates), match.Client.ID)
		}
	} else {
		c, err := s.buildClient(NewClient{Name: w.ClientName})
		if err != nil {
			return WorkReport{}, err
		}
		next.Clients = append(cloneSlice(s.snap.Clients), c)
		keys = append([]domain.CollectionKey{domain.CollectionClients}, keys...)
		report.ClientID = c.ID
		report.ClientCreated = true
	}

	now := s.now()
	hours := w.Hours
	t := domain.Ticket{
		ID:             s.newID(),
		ClientID:       report.ClientID,
		Title:          strings.TrimSpace(w.Summary),
		Description:    strings.TrimSpace(w.Details),
		Status:         domain.TicketCompleted,
		ScheduledDate:  now.Format(time.DateOnly),
		EstimatedHours: hours,
		ActualHours:    &hours,
		Cost:           domain.Cost(hours),
		CreatedAt:      now,
	}
	inv := s.buildInvoice(t.ID, t.Cost)
	next.Tickets = append(cloneTickets(s.snap.Tickets), t)
	next.Invoices = append(cloneSlice(s.snap.Invoices), inv)

	if err := s.commit(ctx, next, keys...); err != nil {
		return WorkReport{}, err
	}

	report.TicketID = t.ID
	report.InvoiceID = inv.ID
	report.Cost = t.Cost
	observability.LedgerMutations.WithLabelValues("log_work").Inc()
	recordInvoice(inv)
	return report, nil
}

// AddLog prepends an audit entry (newest first).
func (s *Store) AddLog(ctx context.Context, role domain.AgentRole, action, details string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := domain.SystemLog{
		ID:        s.newID(),
		Timestamp: s.now(),
		Agent:     role,
		Action:    action,
		Details:   details,
	}
	next := s.snap
	next.Logs = append([]domain.SystemLog{entry}, s.snap.Logs...)
	return s.commit(ctx, next, domain.CollectionLogs)
}

func (s *Store) buildInvoice(ticketID string, amount domain.Money) domain.Invoice {
	issued := s.now()
	return domain.Invoice{
		ID:        s.newID(),
		TicketID:  ticketID,
		Amount:    amount,
		IssueDate: issued,
		DueDate:   domain.DueDate(issued),
	}
}

// commit persists the given collections of next, then makes next visible.
// Several collections go through SaveAll when the persister supports it.
// Caller holds s.mu.
func (s *Store) commit(ctx context.Context, next domain.Snapshot, keys ...domain.CollectionKey) error {
	if s.persister == nil {
		s.snap = next
		return nil
	}
	if bp, ok := s.persister.(domain.BatchPersister); ok && len(keys) > 1 {
		docs := make([]domain.Document, len(keys))
		for i, key := range keys {
			docs[i] = domain.Document{Key: key, Value: collection(next, key)}
		}
		if err := bp.SaveAll(ctx, docs); err != nil {
			log.Printf("[ledger] persist %v failed: %v", keys, err)
			return fmt.Errorf("persist %v: %w", keys, err)
		}
		s.snap = next
		return nil
	}
	for _, key := range keys {
		if err := s.persister.Save(ctx, key, collection(next, key)); err != nil {
			log.Printf("[ledger] persist %s failed: %v", key, err)
			return fmt.Errorf("persist %s: %w", key, err)
		}
	}
	s.snap = next
	return nil
}

// ─── Readers ────────────────────────────────────────────────────────────────

// Snapshot returns a deep copy of all four collections.
func (s *Store) Snapshot() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone()
}

// Clients returns a copy of the client roster in insertion order.
func (s *Store) Clients() []domain.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSlice(s.snap.Clients)
}

// Tickets returns a copy of all tickets in insertion order.
func (s *Store) Tickets() []domain.Ticket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneTickets(s.snap.Tickets)
}

// Invoices returns a copy of all invoices in issue order.
func (s *Store) Invoices() []domain.Invoice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSlice(s.snap.Invoices)
}

// Logs returns a copy of the audit trail, newest first.
func (s *Store) Logs() []domain.SystemLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSlice(s.snap.Logs)
}

// Client looks up a client by id.
func (s *Store) Client(id string) (domain.Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.findClient(id); i >= 0 {
		return s.snap.Clients[i], true
	}
	return domain.Client{}, false
}

// Ticket looks up a ticket by id.
func (s *Store) Ticket(id string) (domain.Ticket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.findTicket(id); i >= 0 {
		return s.snap.Tickets[i].Clone(), true
	}
	return domain.Ticket{}, false
}

func (s *Store) findClient(id string) int {
	for i := range s.snap.Clients {
		if s.snap.Clients[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) hasInvoice(ticketID string) bool {
	for i := range s.snap.Invoices {
		if s.snap.Invoices[i].TicketID == ticketID {
			return true
		}
	}
	return false
}

func (s *Store) findTicket(id string) int {
	for i := range s.snap.Tickets {
		if s.snap.Tickets[i].ID == id {
			return i
		}
	}
	return -1
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func collection(snap domain.Snapshot, key domain.CollectionKey) any {
	switch key {
	case domain.CollectionClients:
		return snap.Clients
	case domain.CollectionTickets:
		return snap.Tickets
	case domain.CollectionInvoices:
		return snap.Invoices
	case domain.CollectionLogs:
		return snap.Logs
	}
	return nil
}

func recordInvoice(inv domain.Invoice) {
	observability.InvoicesEmitted.Inc()
	observability.InvoicedAmount.Add(float64(inv.Amount))
}

func orPlaceholder(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return domain.PlaceholderContact
	}
	return s
}

func cloneSlice[T any](in []T) []T {
	return append(make([]T, 0, len(in)+1), in...)
}

func cloneTickets(in []domain.Ticket) []domain.Ticket {
	out := make([]domain.Ticket, len(in), len(in)+1)
	for i, t := range in {
		out[i] = t.Clone()
	}
	return out
}
