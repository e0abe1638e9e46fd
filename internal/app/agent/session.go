// Package agent runs conversational turns against the external agent.
//
// A turn:
//  1. Snapshots the context the agent may see (rate, roster, open tickets)
//  2. Sends the role's instruction, the context and the utterance to the gateway
//  3. Waits for the complete proposal; a failed round trip mutates nothing
//  4. Applies every proposed action in order through the dispatcher
//  5. Composes the reply from the confirmations and the agent's text
//
// Turns on one Session are serialized so each proposal is applied against
// the state its context was built from.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/agenda-it/agenda/internal/app/dispatch"
	"github.com/agenda-it/agenda/internal/domain"
	"github.com/agenda-it/agenda/internal/infra/observability"
)

// Ledger is what a session reads for context and mutates through the
// dispatcher.
type Ledger interface {
	dispatch.Ledger
	Clients() []domain.Client
	Tickets() []domain.Ticket
}

// Config controls session behavior.
type Config struct {
	Timeout        time.Duration // per round trip (default: 60s)
	FallbackClient string        // client name for reports that name none
}

// DefaultConfig returns session defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:        60 * time.Second,
		FallbackClient: "Walk-in Client",
	}
}

// Session owns the gateway and the dispatcher for one ledger.
type Session struct {
	turnMu     sync.Mutex
	config     Config
	gateway    domain.Gateway
	store      Ledger
	dispatcher *dispatch.Dispatcher
	tracer     *observability.Tracer

	statsMu   sync.Mutex
	completed int64
	failed    int64
	applied   int64
	rejected  int64
}

// New creates a session. tracer may be nil.
func New(cfg Config, gw domain.Gateway, store Ledger, tracer *observability.Tracer) *Session {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.FallbackClient == "" {
		cfg.FallbackClient = DefaultConfig().FallbackClient
	}
	return &Session{
		config:     cfg,
		gateway:    gw,
		store:      store,
		dispatcher: dispatch.New(store, dispatch.WithTracer(tracer)),
		tracer:     tracer,
	}
}

// ActionReport is the JSON-friendly result of one proposed action.
type ActionReport struct {
	Name    string           `json:"name"`
	Outcome dispatch.Outcome `json:"outcome"`
	Error   string           `json:"error,omitempty"`
}

// TurnResult is what a completed turn produced.
type TurnResult struct {
	Role    domain.AgentRole `json:"role"`
	Reply   string           `json:"reply"`
	Text    string           `json:"text,omitempty"`
	Actions []ActionReport   `json:"actions"`
}

// Turn sends one utterance to the agent as role and applies what it proposes.
func (s *Session) Turn(ctx context.Context, role domain.AgentRole, utterance string) (TurnResult, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return TurnResult{}, &domain.ValidationError{Action: "chat", Field: "message", Reason: "must not be empty"}
	}
	if !role.Conversational() {
		return TurnResult{}, &domain.ValidationError{Action: "chat", Field: "role", Reason: "must be a conversational agent"}
	}

	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	ctx, span := s.tracer.Start(ctx, "agent.turn", map[string]string{"role": string(role)})
	prop, err := s.propose(ctx, role, utterance)
	if err != nil {
		s.tracer.Finish(span, err)
		s.recordTurn(false)
		return TurnResult{}, err
	}

	res := TurnResult{Role: role, Text: strings.TrimSpace(prop.Text)}
	var lines []string
	for _, r := range s.dispatcher.DispatchAll(ctx, role, prop.Actions) {
		s.recordAction(r.Err)
		res.Actions = append(res.Actions, report(r))
		switch {
		case r.Err != nil:
			lines = append(lines, fmt.Sprintf("Action %s failed: %v", r.Call.Name, r.Err))
		case !r.Outcome.Ignored:
			lines = append(lines, r.Outcome.Summary())
		}
	}
	res.Reply = composeReply(lines, res.Text)

	s.tracer.Finish(span, nil)
	s.recordTurn(true)
	log.Printf("[agent] %s turn: %d actions proposed", role, len(prop.Actions))
	return res, nil
}

// ReportResult is the outcome of a service report.
type ReportResult struct {
	Outcome dispatch.Outcome `json:"outcome"`
	Summary string           `json:"summary"`
	Client  string           `json:"client"`
}

// ReportWork turns a free-text description of completed work into a logged
// ticket and invoice through the Operational agent. The first logWorkDone
// the agent proposes is applied; anything else it proposes is ignored.
func (s *Session) ReportWork(ctx context.Context, description string, hours float64) (ReportResult, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return ReportResult{}, &domain.ValidationError{Action: "report", Field: "description", Reason: "must not be empty"}
	}
	if hours <= 0 {
		return ReportResult{}, &domain.ValidationError{Action: "report", Field: "hours", Reason: "must be positive"}
	}
	if hours > domain.MaxHours {
		return ReportResult{}, &domain.ValidationError{Action: "report", Field: "hours", Reason: fmt.Sprintf("must not exceed %d", domain.MaxHours)}
	}

	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	role := domain.RoleOperational
	ctx, span := s.tracer.Start(ctx, "agent.report", map[string]string{"role": string(role)})
	prop, err := s.propose(ctx, role, reportPrompt(description, hours, s.config.FallbackClient))
	if err != nil {
		s.tracer.Finish(span, err)
		s.recordTurn(false)
		return ReportResult{}, err
	}

	call, ok := firstCall(prop.Actions, dispatch.NameLogWorkDone)
	if !ok {
		s.tracer.Finish(span, domain.ErrNoWorkLogged)
		s.recordTurn(false)
		log.Printf("[agent] report: agent proposed no %s", dispatch.NameLogWorkDone)
		return ReportResult{}, domain.ErrNoWorkLogged
	}
	args := make(map[string]any, len(call.Args)+1)
	for k, v := range call.Args {
		args[k] = v
	}
	if d, _ := args["details"].(string); strings.TrimSpace(d) == "" {
		args["details"] = description
	}
	call.Args = args

	out, err := s.dispatcher.Dispatch(ctx, role, call)
	s.recordAction(err)
	if err != nil {
		s.tracer.Finish(span, err)
		s.recordTurn(false)
		return ReportResult{}, err
	}
	s.tracer.Finish(span, nil)
	s.recordTurn(true)

	client, _ := args["clientName"].(string)
	return ReportResult{
		Outcome: out,
		Summary: fmt.Sprintf("Report %q for %s processed.", out.Subject, strings.TrimSpace(client)),
		Client:  strings.TrimSpace(client),
	}, nil
}

// propose performs one gateway round trip. Caller holds turnMu.
func (s *Session) propose(ctx context.Context, role domain.AgentRole, utterance string) (domain.Proposal, error) {
	prompt := domain.Prompt{
		Role:        role,
		Instruction: Instruction(role),
		Utterance:   utterance,
		Context:     BuildContext(domain.HourlyRate, s.store.Clients(), s.store.Tickets()),
	}

	callCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	start := time.Now()
	prop, err := s.gateway.Propose(callCtx, prompt)
	observability.GatewayLatency.WithLabelValues(string(role)).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.GatewayRequests.WithLabelValues(string(role), "error").Inc()
		log.Printf("[agent] %s gateway call failed: %v", role, err)
		var gwErr *domain.GatewayError
		if !errors.As(err, &gwErr) {
			err = &domain.GatewayError{Op: "propose", Err: err}
		}
		return domain.Proposal{}, err
	}
	observability.GatewayRequests.WithLabelValues(string(role), "ok").Inc()
	return prop, nil
}

// ─── Stats ──────────────────────────────────────────────────────────────────

// Stats summarizes session activity.
type Stats struct {
	TurnsCompleted  int64 `json:"turns_completed"`
	TurnsFailed     int64 `json:"turns_failed"`
	ActionsApplied  int64 `json:"actions_applied"`
	ActionsRejected int64 `json:"actions_rejected"`
}

// Stats returns current session statistics.
func (s *Session) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return Stats{
		TurnsCompleted:  s.completed,
		TurnsFailed:     s.failed,
		ActionsApplied:  s.applied,
		ActionsRejected: s.rejected,
	}
}

func (s *Session) recordTurn(ok bool) {
	s.statsMu.Lock()
	if ok {
		s.completed++
	} else {
		s.failed++
	}
	s.statsMu.Unlock()
}

func (s *Session) recordAction(err error) {
	s.statsMu.Lock()
	if err == nil {
		s.applied++
	} else {
		s.rejected++
	}
	s.statsMu.Unlock()
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func report(r dispatch.Result) ActionReport {
	ar := ActionReport{Name: r.Call.Name, Outcome: r.Outcome}
	if r.Err != nil {
		ar.Error = r.Err.Error()
	}
	return ar
}

func composeReply(lines []string, text string) string {
	reply := strings.Join(lines, "\n")
	if text != "" {
		if reply != "" {
			reply += "\n\n"
		}
		reply += text
	}
	if reply == "" {
		reply = "Done."
	}
	return reply
}

func firstCall(calls []domain.ActionCall, name string) (domain.ActionCall, bool) {
	for _, c := range calls {
		if c.Name == name {
			return c, true
		}
	}
	return domain.ActionCall{}, false
}
