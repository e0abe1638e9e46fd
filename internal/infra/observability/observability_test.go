package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// ─── Tracer ─────────────────────────────────────────────────────────────────

func TestTracer_RecordsFinishedSpan(t *testing.T) {
	tr := NewTracer(DefaultTracerConfig())

	_, sp := tr.Start(context.Background(), "agent.turn", map[string]string{"role": "admin"})
	if tr.Len() != 0 {
		t.Fatal("open span should not be recorded yet")
	}
	tr.Finish(sp, nil)

	spans := tr.Recent(0)
	if len(spans) != 1 {
		t.Fatalf("len(Recent) = %d, want 1", len(spans))
	}
	got := spans[0]
	if got.Name != "agent.turn" || got.Failed() {
		t.Errorf("span = %+v", got)
	}
	if got.Trace != got.ID || got.Parent != "" {
		t.Errorf("root span trace/parent = %q/%q", got.Trace, got.Parent)
	}
	if got.Attrs["role"] != "admin" {
		t.Errorf("Attrs[role] = %q, want admin", got.Attrs["role"])
	}
}

func TestTracer_RecordsError(t *testing.T) {
	tr := NewTracer(DefaultTracerConfig())
	_, sp := tr.Start(context.Background(), "agent.report", nil)
	tr.Finish(sp, errors.New("boom"))

	if got := tr.Recent(1)[0]; !got.Failed() || got.Error != "boom" {
		t.Errorf("span = %+v, want error boom", got)
	}
}

func TestTracer_ChildSharesTrace(t *testing.T) {
	tr := NewTracer(DefaultTracerConfig())

	ctx, root := tr.Start(context.Background(), "agent.turn", nil)
	_, child := tr.Start(ctx, "dispatch.addClient", nil)

	if child.Trace != root.Trace {
		t.Errorf("child trace = %q, want %q", child.Trace, root.Trace)
	}
	if child.Parent != root.ID {
		t.Errorf("child parent = %q, want %q", child.Parent, root.ID)
	}
}

func TestTracer_RingKeepsNewest(t *testing.T) {
	tr := NewTracer(TracerConfig{Enabled: true, Capacity: 3})
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		_, sp := tr.Start(context.Background(), name, nil)
		tr.Finish(sp, nil)
	}
	spans := tr.Recent(0)
	if len(spans) != 3 || tr.Len() != 3 {
		t.Fatalf("kept %d spans, want 3", len(spans))
	}
	for i, want := range []string{"c", "d", "e"} {
		if spans[i].Name != want {
			t.Errorf("spans[%d] = %q, want %q", i, spans[i].Name, want)
		}
	}
	if last := tr.Recent(1); len(last) != 1 || last[0].Name != "e" {
		t.Errorf("Recent(1) = %+v, want e", last)
	}
}

func TestTracer_DisabledAndNil(t *testing.T) {
	off := NewTracer(TracerConfig{Enabled: false})
	_, sp := off.Start(context.Background(), "noop", nil)
	off.Finish(sp, nil)
	if off.Len() != 0 {
		t.Errorf("disabled tracer recorded %d spans", off.Len())
	}

	var none *Tracer
	ctx, sp := none.Start(context.Background(), "noop", nil)
	none.Finish(sp, nil)
	if ctx == nil || sp == nil || none.Len() != 0 || none.Recent(0) != nil {
		t.Error("nil tracer should be a no-op")
	}
}

// ─── Metrics ────────────────────────────────────────────────────────────────

func TestDispatchedActions_Counts(t *testing.T) {
	before := testutil.ToFloat64(DispatchedActions.WithLabelValues("addClient", "applied"))
	DispatchedActions.WithLabelValues("addClient", "applied").Inc()
	after := testutil.ToFloat64(DispatchedActions.WithLabelValues("addClient", "applied"))
	if after-before != 1 {
		t.Errorf("counter delta = %v, want 1", after-before)
	}
}
