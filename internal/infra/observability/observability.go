// Package observability provides the ledger's Prometheus metrics and an
// in-memory trace of recent agent turns.
//
// A turn produces one root span ("agent.turn" or "agent.report") and one
// child span per proposed action. The newest spans are kept in a fixed-size
// ring and served by the daemon for inspection.
package observability

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ═══════════════════════════════════════════════════════════════════════════
// Turn Tracing
// ═══════════════════════════════════════════════════════════════════════════

// Span is one timed step of an agent turn.
type Span struct {
	Trace   string            `json:"trace"`
	ID      string            `json:"id"`
	Parent  string            `json:"parent,omitempty"`
	Name    string            `json:"name"`
	Start   time.Time         `json:"start"`
	Elapsed time.Duration     `json:"elapsed"`
	Error   string            `json:"error,omitempty"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

// Failed reports whether the step ended with an error.
func (s Span) Failed() bool { return s.Error != "" }

// TracerConfig configures the tracer.
type TracerConfig struct {
	Enabled  bool
	Capacity int // spans kept (default 512)
}

// DefaultTracerConfig returns production defaults.
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{Enabled: true, Capacity: 512}
}

// Tracer keeps the most recent finished spans. A nil *Tracer is valid and
// records nothing.
type Tracer struct {
	mu      sync.Mutex
	ring    []Span
	next    int
	full    bool
	enabled bool
}

// NewTracer creates a tracer.
func NewTracer(cfg TracerConfig) *Tracer {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultTracerConfig().Capacity
	}
	return &Tracer{ring: make([]Span, cfg.Capacity), enabled: cfg.Enabled}
}

type spanKey struct{}

// Start opens a span. If ctx carries an open span the new one becomes its
// child and shares its trace. The returned context carries the new span.
func (t *Tracer) Start(ctx context.Context, name string, attrs map[string]string) (context.Context, *Span) {
	sp := &Span{ID: uuid.NewString(), Name: name, Start: time.Now(), Attrs: attrs}
	if parent, ok := ctx.Value(spanKey{}).(*Span); ok {
		sp.Trace = parent.Trace
		sp.Parent = parent.ID
	} else {
		sp.Trace = sp.ID
	}
	if t == nil || !t.enabled {
		return ctx, sp
	}
	return context.WithValue(ctx, spanKey{}, sp), sp
}

// Finish closes sp and records it.
func (t *Tracer) Finish(sp *Span, err error) {
	if t == nil || !t.enabled || sp == nil {
		return
	}
	sp.Elapsed = time.Since(sp.Start)
	if err != nil {
		sp.Error = err.Error()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.ring[t.next] = *sp
	t.next = (t.next + 1) % len(t.ring)
	if t.next == 0 {
		t.full = true
	}
}

// Recent returns up to limit finished spans, oldest first. limit <= 0
// returns everything kept.
func (t *Tracer) Recent(limit int) []Span {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	var all []Span
	if t.full {
		all = append(append(all, t.ring[t.next:]...), t.ring[:t.next]...)
	} else {
		all = append(all, t.ring[:t.next]...)
	}
	if limit > 0 && limit < len(all) {
		all = all[len(all)-limit:]
	}
	return all
}

// Len returns the number of spans kept.
func (t *Tracer) Len() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.full {
		return len(t.ring)
	}
	return t.next
}

// ═══════════════════════════════════════════════════════════════════════════
// Prometheus Metrics
// ═══════════════════════════════════════════════════════════════════════════

// ─── Ledger Metrics ─────────────────────────────────────────────────────────

// LedgerMutations counts committed ledger mutations by operation.
var LedgerMutations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "agenda",
	Subsystem: "ledger",
	Name:      "mutations_total",
	Help:      "Total committed ledger mutations by operation.",
}, []string{"op"})

// InvoicesEmitted counts invoices created by ticket completion.
var InvoicesEmitted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "agenda",
	Subsystem: "ledger",
	Name:      "invoices_emitted_total",
	Help:      "Total invoices emitted on ticket completion.",
})

// InvoicedAmount sums invoice amounts in currency minor units.
var InvoicedAmount = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "agenda",
	Subsystem: "ledger",
	Name:      "invoiced_amount_total",
	Help:      "Total invoiced amount in Kz.",
})

// ─── Dispatch Metrics ───────────────────────────────────────────────────────

// DispatchedActions counts proposed actions by name and result
// (applied, rejected, failed, ignored).
var DispatchedActions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "agenda",
	Subsystem: "dispatch",
	Name:      "actions_total",
	Help:      "Total proposed actions by action name and result.",
}, []string{"action", "result"})

// ─── Gateway Metrics ────────────────────────────────────────────────────────

// GatewayRequests counts agent round trips by role and result.
var GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "agenda",
	Subsystem: "gateway",
	Name:      "requests_total",
	Help:      "Total agent gateway requests by role and result.",
}, []string{"role", "result"})

// GatewayLatency tracks agent round-trip latency.
var GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "agenda",
	Subsystem: "gateway",
	Name:      "latency_seconds",
	Help:      "Agent gateway round-trip latency in seconds.",
	Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
}, []string{"role"})
