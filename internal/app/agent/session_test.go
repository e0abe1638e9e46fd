package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agenda-it/agenda/internal/app/dispatch"
	"github.com/agenda-it/agenda/internal/app/ledger"
	"github.com/agenda-it/agenda/internal/domain"
	"github.com/agenda-it/agenda/internal/infra/observability"
)

// fakeGateway implements domain.Gateway for testing.
type fakeGateway struct {
	mu      sync.Mutex
	prop    domain.Proposal
	err     error
	prompts []domain.Prompt
}

func (f *fakeGateway) Propose(ctx context.Context, p domain.Prompt) (domain.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, p)
	return f.prop, f.err
}

func (f *fakeGateway) lastPrompt() domain.Prompt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts[len(f.prompts)-1]
}

func newTestSession(t *testing.T, gw domain.Gateway) (*Session, *ledger.Store) {
	t.Helper()
	n := 0
	store := ledger.New(nil,
		ledger.WithClock(func() time.Time { return time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC) }),
		ledger.WithIDGenerator(func() string { n++; return fmt.Sprintf("id-%d", n) }),
	)
	return New(DefaultConfig(), gw, store, observability.NewTracer(observability.DefaultTracerConfig())), store
}

// ─── Config Tests ───────────────────────────────────────────────────────────

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Timeout != 60*time.Second {
		t.Errorf("Timeout = %v, want 60s", cfg.Timeout)
	}
	if cfg.FallbackClient != "Walk-in Client" {
		t.Errorf("FallbackClient = %q", cfg.FallbackClient)
	}
}

// ─── Turn Tests ─────────────────────────────────────────────────────────────

func TestTurn_AppliesActionsInOrder(t *testing.T) {
	gw := &fakeGateway{prop: domain.Proposal{
		Actions: []domain.ActionCall{
			{Name: dispatch.NameAddClient, Args: map[string]any{"name": "Ana"}},
			{Name: dispatch.NameCreateTicket, Args: map[string]any{"title": "Setup", "scheduledDate": "2024-03-20"}},
		},
		Text: "All set.",
	}}
	s, store := newTestSession(t, gw)

	res, err := s.Turn(context.Background(), domain.RoleAdmin, "register Ana and book a setup")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if len(res.Actions) != 2 {
		t.Fatalf("len(Actions) = %d, want 2", len(res.Actions))
	}
	if len(store.Clients()) != 1 || len(store.Tickets()) != 1 {
		t.Errorf("ledger = %d clients, %d tickets", len(store.Clients()), len(store.Tickets()))
	}
	if !strings.HasPrefix(res.Reply, "Client Ana added") || !strings.HasSuffix(res.Reply, "All set.") {
		t.Errorf("Reply = %q", res.Reply)
	}
	if got := gw.lastPrompt(); got.Role != domain.RoleAdmin || got.Instruction != Instruction(domain.RoleAdmin) {
		t.Errorf("prompt = %+v", got)
	}
	if st := s.Stats(); st.TurnsCompleted != 1 || st.ActionsApplied != 2 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestTurn_GatewayFailureMutatesNothing(t *testing.T) {
	gw := &fakeGateway{err: errors.New("connection reset")}
	s, store := newTestSession(t, gw)

	_, err := s.Turn(context.Background(), domain.RoleSupervisor, "hello")
	if !errors.Is(err, domain.ErrGateway) {
		t.Fatalf("err = %v, want GatewayError", err)
	}
	snap := store.Snapshot()
	if len(snap.Clients)+len(snap.Tickets)+len(snap.Invoices)+len(snap.Logs) != 0 {
		t.Errorf("ledger mutated on gateway failure: %+v", snap)
	}
	if st := s.Stats(); st.TurnsFailed != 1 {
		t.Errorf("TurnsFailed = %d, want 1", st.TurnsFailed)
	}
}

func TestTurn_RejectedActionReported(t *testing.T) {
	gw := &fakeGateway{prop: domain.Proposal{Actions: []domain.ActionCall{
		{Name: dispatch.NameAddClient, Args: map[string]any{}},
		{Name: "unknownThing"},
	}}}
	s, store := newTestSession(t, gw)

	res, err := s.Turn(context.Background(), domain.RoleAdmin, "add someone")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if res.Actions[0].Error == "" {
		t.Error("Actions[0].Error empty, want validation message")
	}
	if !res.Actions[1].Outcome.Ignored {
		t.Error("unknown action not marked ignored")
	}
	if len(store.Clients()) != 0 {
		t.Error("rejected action created a client")
	}
	if !strings.Contains(res.Reply, "failed") {
		t.Errorf("Reply = %q, want failure line", res.Reply)
	}
}

func TestTurn_EmptyProposalRepliesDone(t *testing.T) {
	s, _ := newTestSession(t, &fakeGateway{})
	res, err := s.Turn(context.Background(), domain.RoleAnalyst, "anything?")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if res.Reply != "Done." {
		t.Errorf("Reply = %q, want Done.", res.Reply)
	}
}

func TestTurn_EmptyUtterance(t *testing.T) {
	gw := &fakeGateway{}
	s, _ := newTestSession(t, gw)
	if _, err := s.Turn(context.Background(), domain.RoleAdmin, "   "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if len(gw.prompts) != 0 {
		t.Error("gateway called for empty utterance")
	}
}

func TestTurn_SystemRoleRejected(t *testing.T) {
	gw := &fakeGateway{}
	s, _ := newTestSession(t, gw)
	for _, role := range []domain.AgentRole{domain.RoleSystem, "janitor"} {
		_, err := s.Turn(context.Background(), role, "add Ana")
		var ve *domain.ValidationError
		if !errors.As(err, &ve) || ve.Field != "role" {
			t.Errorf("Turn(%s) err = %v, want ValidationError on role", role, err)
		}
	}
	if len(gw.prompts) != 0 {
		t.Error("gateway called for a non-conversational role")
	}
}

func TestTurn_ContextSeesCurrentState(t *testing.T) {
	gw := &fakeGateway{}
	s, store := newTestSession(t, gw)
	id, _ := store.AddClient(context.Background(), ledger.NewClient{Name: "Ana"})

	if _, err := s.Turn(context.Background(), domain.RoleAdmin, "who are my clients?"); err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if ctx := gw.lastPrompt().Context; !strings.Contains(ctx, "Ana (ID: "+id+")") {
		t.Errorf("Context missing roster entry: %q", ctx)
	}
}

func TestTurn_TracesEachAction(t *testing.T) {
	gw := &fakeGateway{prop: domain.Proposal{Actions: []domain.ActionCall{
		{Name: dispatch.NameAddClient, Args: map[string]any{"name": "Ana"}},
		{Name: dispatch.NameAddClient, Args: map[string]any{}},
	}}}
	n := 0
	store := ledger.New(nil, ledger.WithIDGenerator(func() string { n++; return fmt.Sprintf("id-%d", n) }))
	tracer := observability.NewTracer(observability.DefaultTracerConfig())
	s := New(DefaultConfig(), gw, store, tracer)

	if _, err := s.Turn(context.Background(), domain.RoleAdmin, "add Ana"); err != nil {
		t.Fatalf("Turn: %v", err)
	}
	spans := tracer.Recent(0)
	if len(spans) != 3 {
		t.Fatalf("spans = %d, want 2 actions + 1 turn", len(spans))
	}
	root := spans[2]
	if root.Name != "agent.turn" {
		t.Fatalf("last span = %q, want agent.turn", root.Name)
	}
	for _, sp := range spans[:2] {
		if sp.Parent != root.ID || sp.Trace != root.Trace {
			t.Errorf("action span %+v not nested under turn %s", sp, root.ID)
		}
	}
	if spans[0].Failed() || !spans[1].Failed() {
		t.Errorf("span errors = %q/%q, want only the second to fail", spans[0].Error, spans[1].Error)
	}
}

// ─── ReportWork Tests ───────────────────────────────────────────────────────

func TestReportWork_LogsWork(t *testing.T) {
	gw := &fakeGateway{prop: domain.Proposal{Actions: []domain.ActionCall{
		{Name: dispatch.NameLogWorkDone, Args: map[string]any{"clientName": "Ana", "summary": "Format PC", "hours": 3.0}},
	}}}
	s, store := newTestSession(t, gw)

	res, err := s.ReportWork(context.Background(), "Formatted Ana's laptop and reinstalled drivers", 3)
	if err != nil {
		t.Fatalf("ReportWork: %v", err)
	}
	if res.Outcome.Cost != 15000 || res.Client != "Ana" {
		t.Errorf("result = %+v", res)
	}
	tickets := store.Tickets()
	if len(tickets) != 1 || tickets[0].Description != "Formatted Ana's laptop and reinstalled drivers" {
		t.Errorf("tickets = %+v, want description as details", tickets)
	}
	if p := gw.lastPrompt(); p.Role != domain.RoleOperational || !strings.Contains(p.Utterance, "Walk-in Client") {
		t.Errorf("prompt = %+v", p)
	}
}

func TestReportWork_NoToolCall(t *testing.T) {
	gw := &fakeGateway{prop: domain.Proposal{
		Actions: []domain.ActionCall{{Name: dispatch.NameAddClient, Args: map[string]any{"name": "Ana"}}},
		Text:    "Which client?",
	}}
	s, store := newTestSession(t, gw)

	_, err := s.ReportWork(context.Background(), "fixed a printer", 1)
	if !errors.Is(err, domain.ErrNoWorkLogged) {
		t.Fatalf("err = %v, want ErrNoWorkLogged", err)
	}
	if len(store.Clients()) != 0 {
		t.Error("non-logWorkDone action was applied")
	}
}

func TestReportWork_InvalidInput(t *testing.T) {
	s, _ := newTestSession(t, &fakeGateway{})
	tests := []struct {
		desc  string
		hours float64
	}{
		{"", 1},
		{"fixed it", 0},
		{"fixed it", -2},
		{"fixed it", 1e300},
	}
	for _, tt := range tests {
		if _, err := s.ReportWork(context.Background(), tt.desc, tt.hours); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("ReportWork(%q, %v) err = %v, want ValidationError", tt.desc, tt.hours, err)
		}
	}
}

// ─── Context Tests ──────────────────────────────────────────────────────────

func TestBuildContext_OnlyOpenTickets(t *testing.T) {
	clients := []domain.Client{{ID: "c1", Name: "Ana"}, {ID: "c2", Name: "Bruno"}}
	tickets := []domain.Ticket{
		{Title: "Setup", ClientID: "c1", ScheduledDate: "2024-03-20", Status: domain.TicketPending},
		{Title: "Repair", ClientID: "c2", ScheduledDate: "2024-03-21", Status: domain.TicketInProgress},
		{Title: "Done job", ClientID: "c1", ScheduledDate: "2024-03-01", Status: domain.TicketCompleted},
		{Title: "Dropped", ClientID: "c2", ScheduledDate: "2024-03-02", Status: domain.TicketCancelled},
	}
	got := BuildContext(domain.HourlyRate, clients, tickets)

	for _, want := range []string{
		"5,000 Kz",
		"Ana (ID: c1), Bruno (ID: c2)",
		"[2024-03-20] Setup for client c1 (Pending)",
		"[2024-03-21] Repair for client c2 (In Progress)",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("context missing %q:\n%s", want, got)
		}
	}
	for _, absent := range []string{"Done job", "Dropped"} {
		if strings.Contains(got, absent) {
			t.Errorf("context contains terminal ticket %q", absent)
		}
	}
}

func TestInstruction_PerRole(t *testing.T) {
	seen := make(map[string]domain.AgentRole)
	for _, r := range domain.AgentRoles() {
		ins := Instruction(r)
		if prev, dup := seen[ins]; dup {
			t.Errorf("roles %s and %s share an instruction", prev, r)
		}
		seen[ins] = r
	}
	if !strings.Contains(Instruction(domain.RoleOperational), "logWorkDone") {
		t.Error("operational instruction should name logWorkDone")
	}
}
