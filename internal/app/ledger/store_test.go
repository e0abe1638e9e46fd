package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/agenda-it/agenda/internal/domain"
	"github.com/agenda-it/agenda/internal/infra/sqlite"
)

var testNow = time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, p domain.Persister) *Store {
	t.Helper()
	n := 0
	return New(p,
		WithClock(func() time.Time { return testNow }),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("id-%d", n) }),
	)
}

// assertInvariants checks the ledger-wide invariants after any mutation.
func assertInvariants(t *testing.T, s *Store) {
	t.Helper()
	snap := s.Snapshot()
	byID := make(map[string]domain.Ticket)
	for _, tk := range snap.Tickets {
		byID[tk.ID] = tk
		if want := domain.Cost(tk.BillableHours()); tk.Cost != want {
			t.Errorf("ticket %s cost = %d, want %d", tk.ID, tk.Cost, want)
		}
	}
	perTicket := make(map[string]int)
	for _, inv := range snap.Invoices {
		tk, ok := byID[inv.TicketID]
		if !ok {
			t.Errorf("invoice %s references unknown ticket %s", inv.ID, inv.TicketID)
			continue
		}
		if tk.Status != domain.TicketCompleted {
			t.Errorf("invoice %s references ticket in status %s", inv.ID, tk.Status)
		}
		if !inv.DueDate.Equal(domain.DueDate(inv.IssueDate)) {
			t.Errorf("invoice %s due %v, want issue+7d", inv.ID, inv.DueDate)
		}
		perTicket[inv.TicketID]++
	}
	for id, n := range perTicket {
		if n != 1 {
			t.Errorf("ticket %s has %d invoices, want 1", id, n)
		}
	}
}

// ─── AddClient ──────────────────────────────────────────────────────────────

func TestAddClient_DefaultsPlaceholders(t *testing.T) {
	s := newTestStore(t, nil)
	id, err := s.AddClient(context.Background(), NewClient{Name: "  Ana  "})
	if err != nil {
		t.Fatalf("AddClient() error: %v", err)
	}
	c, ok := s.Client(id)
	if !ok {
		t.Fatalf("Client(%s) not found", id)
	}
	if c.Name != "Ana" {
		t.Errorf("Name = %q, want trimmed %q", c.Name, "Ana")
	}
	if c.Contact != domain.PlaceholderContact || c.Email != domain.PlaceholderContact {
		t.Errorf("Contact/Email = %q/%q, want placeholders", c.Contact, c.Email)
	}
}

func TestAddClient_EmptyName(t *testing.T) {
	s := newTestStore(t, nil)
	if _, err := s.AddClient(context.Background(), NewClient{Name: " "}); !errors.Is(err, domain.ErrEmptyName) {
		t.Errorf("AddClient(blank) error = %v, want ErrEmptyName", err)
	}
	if len(s.Clients()) != 0 {
		t.Error("failed AddClient should not add a client")
	}
}

// ─── AddTicket ──────────────────────────────────────────────────────────────

func TestAddTicket_PendingWithCost(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	cid, _ := s.AddClient(ctx, NewClient{Name: "Ana"})

	id, err := s.AddTicket(ctx, NewTicket{ClientID: cid, Title: "Network setup", ScheduledDate: "2024-03-20", EstimatedHours: 2})
	if err != nil {
		t.Fatalf("AddTicket() error: %v", err)
	}
	tk, _ := s.Ticket(id)
	if tk.Status != domain.TicketPending {
		t.Errorf("Status = %s, want pending", tk.Status)
	}
	if tk.Cost != 10000 {
		t.Errorf("Cost = %d, want 10000", tk.Cost)
	}
	if !tk.CreatedAt.Equal(testNow) {
		t.Errorf("CreatedAt = %v, want %v", tk.CreatedAt, testNow)
	}
	if tk.ActualHours != nil {
		t.Error("ActualHours should be unset before completion")
	}
	assertInvariants(t, s)
}

func TestAddTicket_Validation(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		in   NewTicket
		want error
	}{
		{"negative hours", NewTicket{Title: "x", ScheduledDate: "2024-01-01", EstimatedHours: -1}, domain.ErrNegativeHours},
		{"hours above bound", NewTicket{Title: "x", ScheduledDate: "2024-01-01", EstimatedHours: domain.MaxHours + 1}, domain.ErrHoursOutOfRange},
		{"overflowing hours", NewTicket{Title: "x", ScheduledDate: "2024-01-01", EstimatedHours: 1e300}, domain.ErrHoursOutOfRange},
		{"bad date", NewTicket{Title: "x", ScheduledDate: "someday"}, domain.ErrInvalidDate},
		{"unknown client", NewTicket{Title: "x", ScheduledDate: "2024-01-01", ClientID: "ghost"}, domain.ErrClientNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.AddTicket(ctx, tt.in); !errors.Is(err, tt.want) {
				t.Errorf("AddTicket() error = %v, want %v", err, tt.want)
			}
		})
	}
	if len(s.Tickets()) != 0 {
		t.Errorf("rejected tickets were stored: %d", len(s.Tickets()))
	}
}

// ─── UpdateTicketStatus ─────────────────────────────────────────────────────

func TestUpdateTicketStatus_CompletionEmitsInvoice(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	id, _ := s.AddTicket(ctx, NewTicket{Title: "Repair", ScheduledDate: "2024-03-15", EstimatedHours: 2})

	if inv, err := s.UpdateTicketStatus(ctx, id, domain.TicketInProgress, nil); err != nil || inv != nil {
		t.Fatalf("-> in_progress = %v, %v; want no invoice", inv, err)
	}

	actual := 3.0
	inv, err := s.UpdateTicketStatus(ctx, id, domain.TicketCompleted, &actual)
	if err != nil {
		t.Fatalf("-> completed error: %v", err)
	}
	if inv == nil {
		t.Fatal("completion should emit an invoice")
	}
	if inv.Amount != 15000 {
		t.Errorf("invoice Amount = %d, want 15000 (actual hours)", inv.Amount)
	}
	if inv.IsPaid {
		t.Error("new invoice should be unpaid")
	}
	if !inv.IssueDate.Equal(testNow) || !inv.DueDate.Equal(testNow.Add(7*24*time.Hour)) {
		t.Errorf("invoice dates = %v/%v", inv.IssueDate, inv.DueDate)
	}

	tk, _ := s.Ticket(id)
	if tk.ActualHours == nil || *tk.ActualHours != 3 || tk.Cost != 15000 {
		t.Errorf("ticket after completion = %+v", tk)
	}
	assertInvariants(t, s)
}

func TestUpdateTicketStatus_CompleteTwiceSingleInvoice(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	id, _ := s.AddTicket(ctx, NewTicket{Title: "Repair", ScheduledDate: "2024-03-15", EstimatedHours: 1})

	if _, err := s.UpdateTicketStatus(ctx, id, domain.TicketCompleted, nil); err != nil {
		t.Fatal(err)
	}
	inv, err := s.UpdateTicketStatus(ctx, id, domain.TicketCompleted, nil)
	if err != nil {
		t.Fatal(err)
	}
	if inv != nil {
		t.Error("re-entering completed must not emit a second invoice")
	}
	if n := len(s.Invoices()); n != 1 {
		t.Errorf("invoices = %d, want 1", n)
	}
	assertInvariants(t, s)
}

func TestUpdateTicketStatus_ToggleNeverDuplicatesInvoice(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	id, _ := s.AddTicket(ctx, NewTicket{Title: "Repair", ScheduledDate: "2024-03-15", EstimatedHours: 2})

	first, err := s.UpdateTicketStatus(ctx, id, domain.TicketCompleted, nil)
	if err != nil {
		t.Fatal(err)
	}
	if first == nil {
		t.Fatal("first completion should emit an invoice")
	}
	for _, status := range []domain.TicketStatus{domain.TicketPending, domain.TicketInProgress, domain.TicketCompleted} {
		inv, err := s.UpdateTicketStatus(ctx, id, status, nil)
		if err != nil {
			t.Fatalf("UpdateTicketStatus(%s) error: %v", status, err)
		}
		if inv != nil {
			t.Errorf("UpdateTicketStatus(%s) emitted invoice %s, want none", status, inv.ID)
		}
	}

	invoices := s.Invoices()
	if len(invoices) != 1 {
		t.Fatalf("invoices = %d, want 1", len(invoices))
	}
	if invoices[0].ID != first.ID {
		t.Errorf("invoice = %s, want the original %s", invoices[0].ID, first.ID)
	}
	assertInvariants(t, s)
}

func TestUpdateTicketStatus_AnyTransitionAllowedByStore(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	id, _ := s.AddTicket(ctx, NewTicket{Title: "Repair", ScheduledDate: "2024-03-15", EstimatedHours: 1})

	if _, err := s.UpdateTicketStatus(ctx, id, domain.TicketCancelled, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpdateTicketStatus(ctx, id, domain.TicketPending, nil); err != nil {
		t.Errorf("store should accept cancelled -> pending: %v", err)
	}
	tk, _ := s.Ticket(id)
	if tk.Status != domain.TicketPending {
		t.Errorf("Status = %s, want pending", tk.Status)
	}
}

func TestTransitionTicket_OnlyOfferedMoves(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	id, _ := s.AddTicket(ctx, NewTicket{Title: "Repair", ScheduledDate: "2024-03-15", EstimatedHours: 2})

	if _, err := s.TransitionTicket(ctx, id, domain.TicketCompleted, nil); !errors.Is(err, domain.ErrTransitionNotAllowed) {
		t.Fatalf("pending -> completed error = %v, want ErrTransitionNotAllowed", err)
	}
	if _, err := s.TransitionTicket(ctx, id, domain.TicketInProgress, nil); err != nil {
		t.Fatalf("pending -> in_progress: %v", err)
	}
	hours := 3.0
	inv, err := s.TransitionTicket(ctx, id, domain.TicketCompleted, &hours)
	if err != nil {
		t.Fatalf("in_progress -> completed: %v", err)
	}
	if inv == nil || inv.Amount != 15000 {
		t.Errorf("invoice = %+v, want 15000", inv)
	}
	if _, err := s.TransitionTicket(ctx, id, domain.TicketPending, nil); !errors.Is(err, domain.ErrTransitionNotAllowed) {
		t.Errorf("completed -> pending error = %v, want ErrTransitionNotAllowed", err)
	}
	assertInvariants(t, s)
}

func TestUpdateTicketStatus_NotFound(t *testing.T) {
	s := newTestStore(t, nil)
	_, err := s.UpdateTicketStatus(context.Background(), "missing", domain.TicketCompleted, nil)
	if !errors.Is(err, domain.ErrTicketNotFound) {
		t.Errorf("error = %v, want ErrTicketNotFound", err)
	}
	if len(s.Invoices()) != 0 {
		t.Error("unknown ticket must not produce an invoice")
	}
}

func TestUpdateTicketStatus_InvalidInput(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	id, _ := s.AddTicket(ctx, NewTicket{Title: "Repair", ScheduledDate: "2024-03-15"})

	if _, err := s.UpdateTicketStatus(ctx, id, "done", nil); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Errorf("invalid status error = %v", err)
	}
	neg := -2.0
	if _, err := s.UpdateTicketStatus(ctx, id, domain.TicketCompleted, &neg); !errors.Is(err, domain.ErrNegativeHours) {
		t.Errorf("negative hours error = %v", err)
	}
	huge := 1e300
	if _, err := s.UpdateTicketStatus(ctx, id, domain.TicketCompleted, &huge); !errors.Is(err, domain.ErrHoursOutOfRange) {
		t.Errorf("huge hours error = %v", err)
	}
	tk, _ := s.Ticket(id)
	if tk.Status != domain.TicketPending || tk.ActualHours != nil {
		t.Errorf("rejected update changed ticket: %+v", tk)
	}
	if len(s.Invoices()) != 0 {
		t.Error("rejected update emitted an invoice")
	}
}

// ─── LogCompletedWork ───────────────────────────────────────────────────────

func TestLogCompletedWork_EmptyStore(t *testing.T) {
	s := newTestStore(t, nil)
	rep, err := s.LogCompletedWork(context.Background(), WorkEntry{ClientName: "Ana", Summary: "Format PC", Details: "Reinstalled OS", Hours: 3})
	if err != nil {
		t.Fatalf("LogCompletedWork() error: %v", err)
	}

	clients := s.Clients()
	if len(clients) != 1 || clients[0].Name != "Ana" {
		t.Fatalf("clients = %+v, want one named Ana", clients)
	}
	if !rep.ClientCreated || rep.ClientID != clients[0].ID {
		t.Errorf("report = %+v, want created client %s", rep, clients[0].ID)
	}

	tickets := s.Tickets()
	if len(tickets) != 1 {
		t.Fatalf("tickets = %d, want 1", len(tickets))
	}
	tk := tickets[0]
	if tk.Status != domain.TicketCompleted || tk.Cost != 3*domain.HourlyRate {
		t.Errorf("ticket = %+v", tk)
	}
	if tk.EstimatedHours != 3 || tk.ActualHours == nil || *tk.ActualHours != 3 {
		t.Errorf("ticket hours = %v/%v, want 3/3", tk.EstimatedHours, tk.ActualHours)
	}
	if tk.ScheduledDate != "2024-03-15" {
		t.Errorf("ScheduledDate = %q, want today", tk.ScheduledDate)
	}

	invoices := s.Invoices()
	if len(invoices) != 1 {
		t.Fatalf("invoices = %d, want 1", len(invoices))
	}
	inv := invoices[0]
	if inv.Amount != 3*domain.HourlyRate || inv.TicketID != tk.ID || inv.ID != rep.InvoiceID {
		t.Errorf("invoice = %+v", inv)
	}
	if !inv.DueDate.Equal(inv.IssueDate.Add(7 * 24 * time.Hour)) {
		t.Errorf("DueDate = %v, want IssueDate+7d", inv.DueDate)
	}
	if rep.Cost != 15000 {
		t.Errorf("report Cost = %d, want 15000", rep.Cost)
	}
	assertInvariants(t, s)
}

func TestLogCompletedWork_ReusesExistingClient(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	cid, _ := s.AddClient(ctx, NewClient{Name: "Ana Silva"})

	rep, err := s.LogCompletedWork(ctx, WorkEntry{ClientName: "ana", Summary: "Printer", Hours: 1})
	if err != nil {
		t.Fatal(err)
	}
	if rep.ClientCreated || rep.ClientID != cid {
		t.Errorf("report = %+v, want existing client %s", rep, cid)
	}
	if len(s.Clients()) != 1 {
		t.Errorf("clients = %d, want 1", len(s.Clients()))
	}
}

func TestLogCompletedWork_AmbiguousPicksFirstInCollectionOrder(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	s.AddClient(ctx, NewClient{Name: "Ana Silva"})
	s.AddClient(ctx, NewClient{Name: "Ana Costa"})

	rep, err := s.LogCompletedWork(ctx, WorkEntry{ClientName: "Ana", Summary: "Backup", Hours: 2})
	if err != nil {
		t.Fatal(err)
	}
	first := s.Clients()[0]
	if rep.ClientID != first.ID {
		t.Errorf("resolved to %s, want first in collection order %s", rep.ClientID, first.ID)
	}
	if len(rep.Candidates) != 2 {
		t.Errorf("Candidates = %v, want both matches exposed", rep.Candidates)
	}
}

func TestLogCompletedWork_Rejects(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	if _, err := s.LogCompletedWork(ctx, WorkEntry{ClientName: "Ana", Summary: "x", Hours: -1}); !errors.Is(err, domain.ErrNegativeHours) {
		t.Errorf("negative hours error = %v", err)
	}
	if _, err := s.LogCompletedWork(ctx, WorkEntry{ClientName: "Ana", Summary: "x", Hours: 1e300}); !errors.Is(err, domain.ErrHoursOutOfRange) {
		t.Errorf("huge hours error = %v", err)
	}
	if _, err := s.LogCompletedWork(ctx, WorkEntry{ClientName: "  ", Summary: "x", Hours: 1}); !errors.Is(err, domain.ErrEmptyName) {
		t.Errorf("blank client error = %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Clients)+len(snap.Tickets)+len(snap.Invoices) != 0 {
		t.Errorf("rejected work left state behind: %+v", snap)
	}
}

// ─── AddLog ─────────────────────────────────────────────────────────────────

func TestAddLog_NewestFirst(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	s.AddLog(ctx, domain.RoleAdmin, domain.ActionCreateClient, "first")
	s.AddLog(ctx, domain.RoleOperational, domain.ActionReportWork, "second")

	logs := s.Logs()
	if len(logs) != 2 {
		t.Fatalf("logs = %d, want 2", len(logs))
	}
	if logs[0].Details != "second" || logs[1].Details != "first" {
		t.Errorf("logs order = %q, %q; want newest first", logs[0].Details, logs[1].Details)
	}
	if logs[0].Agent != domain.RoleOperational {
		t.Errorf("Agent = %s, want operational", logs[0].Agent)
	}
}

// ─── Readers ────────────────────────────────────────────────────────────────

func TestReaders_ReturnCopies(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	s.AddClient(ctx, NewClient{Name: "Ana"})

	clients := s.Clients()
	clients[0].Name = "mutated"
	if s.Clients()[0].Name != "Ana" {
		t.Error("Clients() leaked internal state")
	}
}

// ─── Persistence ────────────────────────────────────────────────────────────

func TestStore_PersistsAndReloads(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db, err := sqlite.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	s := newTestStore(t, db)
	if err := s.Open(ctx); err != nil {
		t.Fatal(err)
	}
	cid, _ := s.AddClient(ctx, NewClient{Name: "Ana"})
	tid, _ := s.AddTicket(ctx, NewTicket{ClientID: cid, Title: "Setup", ScheduledDate: "2024-04-01", EstimatedHours: 1})
	s.UpdateTicketStatus(ctx, tid, domain.TicketCompleted, nil)
	s.AddLog(ctx, domain.RoleSystem, domain.ActionUpdateStatus, "done")
	want := s.Snapshot()
	db.Close()

	db2, err := sqlite.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer db2.Close()
	reloaded := New(db2)
	if err := reloaded.Open(ctx); err != nil {
		t.Fatal(err)
	}
	got := reloaded.Snapshot()

	if len(got.Clients) != 1 || len(got.Tickets) != 1 || len(got.Invoices) != 1 || len(got.Logs) != 1 {
		t.Fatalf("reloaded = %+v", got)
	}
	if got.Tickets[0].Status != domain.TicketCompleted || got.Invoices[0].ID != want.Invoices[0].ID {
		t.Errorf("reloaded ticket/invoice mismatch: %+v", got)
	}
	assertInvariants(t, reloaded)
}

type failingPersister struct{ err error }

func (f failingPersister) Load(context.Context) (domain.Snapshot, error) { return domain.Snapshot{}, nil }
func (f failingPersister) Save(context.Context, domain.CollectionKey, any) error {
	return f.err
}

func TestStore_PersistFailureLeavesStateUnchanged(t *testing.T) {
	boom := errors.New("disk full")
	s := newTestStore(t, failingPersister{err: boom})

	if _, err := s.AddClient(context.Background(), NewClient{Name: "Ana"}); !errors.Is(err, boom) {
		t.Fatalf("AddClient() error = %v, want %v", err, boom)
	}
	if len(s.Clients()) != 0 {
		t.Error("unpersisted client became visible")
	}
}

// batchPersister records SaveAll calls and fails them on demand; single
// saves always succeed.
type batchPersister struct {
	failBatch error
	batches   [][]domain.CollectionKey
	singles   []domain.CollectionKey
}

func (b *batchPersister) Load(context.Context) (domain.Snapshot, error) { return domain.Snapshot{}, nil }

func (b *batchPersister) Save(_ context.Context, key domain.CollectionKey, _ any) error {
	b.singles = append(b.singles, key)
	return nil
}

func (b *batchPersister) SaveAll(_ context.Context, docs []domain.Document) error {
	if b.failBatch != nil {
		return b.failBatch
	}
	keys := make([]domain.CollectionKey, len(docs))
	for i, d := range docs {
		keys[i] = d.Key
	}
	b.batches = append(b.batches, keys)
	return nil
}

func TestStore_MultiCollectionChangesSaveTogether(t *testing.T) {
	p := &batchPersister{}
	s := newTestStore(t, p)
	ctx := context.Background()

	id, err := s.AddTicket(ctx, NewTicket{Title: "Repair", ScheduledDate: "2024-03-15", EstimatedHours: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(p.singles) != 1 || len(p.batches) != 0 {
		t.Fatalf("AddTicket saves: singles=%v batches=%v, want one single save", p.singles, p.batches)
	}

	if _, err := s.UpdateTicketStatus(ctx, id, domain.TicketCompleted, nil); err != nil {
		t.Fatal(err)
	}
	if len(p.batches) != 1 || len(p.batches[0]) != 2 {
		t.Fatalf("completion batches = %v, want tickets and invoices together", p.batches)
	}
	if p.batches[0][0] != domain.CollectionTickets || p.batches[0][1] != domain.CollectionInvoices {
		t.Errorf("completion batch = %v, want [tickets invoices]", p.batches[0])
	}
}

func TestStore_FailedBatchLeavesStateUnchanged(t *testing.T) {
	boom := errors.New("disk full")
	p := &batchPersister{}
	s := newTestStore(t, p)
	ctx := context.Background()
	id, _ := s.AddTicket(ctx, NewTicket{Title: "Repair", ScheduledDate: "2024-03-15", EstimatedHours: 1})

	p.failBatch = boom
	if _, err := s.UpdateTicketStatus(ctx, id, domain.TicketCompleted, nil); !errors.Is(err, boom) {
		t.Fatalf("UpdateTicketStatus() error = %v, want %v", err, boom)
	}
	if _, err := s.LogCompletedWork(ctx, WorkEntry{ClientName: "Ana", Summary: "x", Hours: 1}); !errors.Is(err, boom) {
		t.Fatalf("LogCompletedWork() error = %v, want %v", err, boom)
	}
	tk, _ := s.Ticket(id)
	if tk.Status != domain.TicketPending {
		t.Errorf("Status = %s, want pending after failed save", tk.Status)
	}
	snap := s.Snapshot()
	if len(snap.Invoices) != 0 || len(snap.Clients) != 0 || len(snap.Tickets) != 1 {
		t.Errorf("failed batches left state behind: %+v", snap)
	}

	p.failBatch = nil
	if _, err := s.UpdateTicketStatus(ctx, id, domain.TicketCompleted, nil); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	assertInvariants(t, s)
}
