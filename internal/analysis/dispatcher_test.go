package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeVerifier implements Verifier with a configurable function
type fakeVerifier struct {
	fn func(ctx context.Context, req Request) (*Outcome, error)
}

func (f *fakeVerifier) Verify(ctx context.Context, req Request) (*Outcome, error) {
	return f.fn(ctx, req)
}

func newTestDispatcher(v Verifier, notify Notifier) *Dispatcher {
	return NewDispatcher(NewHistory(nil), v, nil, notify, nil, zerolog.Nop(), DispatcherConfig{})
}

func TestDispatcher_RejectsShortSegments(t *testing.T) {
	v := &fakeVerifier{fn: func(ctx context.Context, req Request) (*Outcome, error) {
		t.Error("Verifier must not be called for rejected segments")
		return nil, nil
	}}
	d := newTestDispatcher(v, nil)

	for _, text := range []string{"", "  ", "oi.", "a  b"} {
		if id := d.OnFinalSegment(text); id != "" {
			t.Errorf("Expected %q to be rejected, got segment %s", text, id)
		}
	}
	d.Wait()

	if d.History().Len() != 0 {
		t.Errorf("Expected empty history, got %d entries", d.History().Len())
	}
}

func TestDispatcher_PendingPlaceholderImmediate(t *testing.T) {
	release := make(chan struct{})
	v := &fakeVerifier{fn: func(ctx context.Context, req Request) (*Outcome, error) {
		<-release
		return &Outcome{Verdict: VerdictTrue, Confidence: 0.92, Explanation: "checks out"}, nil
	}}
	d := newTestDispatcher(v, nil)

	id := d.OnFinalSegment("O PIB cresceu dez por cento.")
	if id == "" {
		t.Fatal("Expected segment to be dispatched")
	}

	// The placeholder is visible before verification completes
	got, ok := d.History().Get(id)
	if !ok {
		t.Fatal("Expected pending entry in history")
	}
	if !got.Pending || got.Verdict != VerdictUnverifiable || got.Confidence != 0 || got.Explanation != PendingExplanation {
		t.Errorf("Unexpected placeholder: %+v", got)
	}

	close(release)
	d.Wait()

	got, _ = d.History().Get(id)
	if got.Pending || got.Verdict != VerdictTrue || got.Confidence != 0.92 {
		t.Errorf("Unexpected resolved entry: %+v", got)
	}
}

func TestDispatcher_FailureIsTerminal(t *testing.T) {
	v := &fakeVerifier{fn: func(ctx context.Context, req Request) (*Outcome, error) {
		return nil, errors.New("upstream unavailable")
	}}
	d := newTestDispatcher(v, nil)

	id := d.OnFinalSegment("A inflação dobrou este ano.")
	d.Wait()

	got, _ := d.History().Get(id)
	if got.Pending {
		t.Error("Expected entry to leave pending state on failure")
	}
	if got.Verdict != VerdictUnverifiable {
		t.Errorf("Expected verdict UNVERIFIABLE after failure, got %s", got.Verdict)
	}
	if got.Explanation != FailureExplanation {
		t.Errorf("Expected terminal failure explanation, got %q", got.Explanation)
	}
}

func TestDispatcher_ContextWindow(t *testing.T) {
	var mu sync.Mutex
	var captured []Request
	v := &fakeVerifier{fn: func(ctx context.Context, req Request) (*Outcome, error) {
		mu.Lock()
		captured = append(captured, req)
		mu.Unlock()
		return &Outcome{Verdict: VerdictOpinion}, nil
	}}
	d := newTestDispatcher(v, nil)

	texts := []string{
		"Primeira frase completa.",
		"Segunda frase completa.",
		"Terceira frase completa.",
		"Quarta frase completa.",
		"Quinta frase completa.",
	}
	for _, txt := range texts {
		d.OnFinalSegment(txt)
		d.Wait() // Serialize so each request sees a settled history
	}

	mu.Lock()
	defer mu.Unlock()

	if len(captured) != len(texts) {
		t.Fatalf("Expected %d requests, got %d", len(texts), len(captured))
	}

	// First segment has no context
	if len(captured[0].Context) != 0 {
		t.Errorf("Expected empty context for first segment, got %v", captured[0].Context)
	}

	// Fifth segment sees the three prior segments, oldest first, not itself
	last := captured[len(captured)-1]
	want := []string{"Segunda frase completa.", "Terceira frase completa.", "Quarta frase completa."}
	if len(last.Context) != len(want) {
		t.Fatalf("Expected %d context texts, got %v", len(want), last.Context)
	}
	for i := range want {
		if last.Context[i] != want[i] {
			t.Errorf("Context %d: expected %q, got %q", i, want[i], last.Context[i])
		}
	}
}

func TestDispatcher_ConcurrentOutOfOrderCompletion(t *testing.T) {
	const n = 20

	// Later segments resolve faster than earlier ones
	var calls int64
	var mu sync.Mutex
	v := &fakeVerifier{fn: func(ctx context.Context, req Request) (*Outcome, error) {
		mu.Lock()
		calls++
		order := calls
		mu.Unlock()
		time.Sleep(time.Duration(n-order) * time.Millisecond)
		return &Outcome{Verdict: VerdictTrue, Confidence: 0.5}, nil
	}}
	d := newTestDispatcher(v, nil)

	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := d.OnFinalSegment(fmt.Sprintf("Segmento numero %d desta sessao.", i))
		if id == "" {
			t.Fatalf("Segment %d was rejected", i)
		}
		ids = append(ids, id)
	}
	d.Wait()

	snap := d.History().Snapshot()
	if len(snap) != n {
		t.Fatalf("Expected %d entries, got %d", n, len(snap))
	}

	// Unique identities, all resolved exactly once, insertion order preserved
	seen := make(map[string]bool, n)
	for i, e := range snap {
		if seen[e.SegmentID] {
			t.Errorf("Duplicate identity %s", e.SegmentID)
		}
		seen[e.SegmentID] = true
		if e.Pending {
			t.Errorf("Entry %s still pending", e.SegmentID)
		}
		// Head is the most recently dispatched
		if wantID := ids[n-1-i]; e.SegmentID != wantID {
			t.Errorf("Position %d: expected %s, got %s", i, wantID, e.SegmentID)
		}
	}
}

func TestDispatcher_NotifierSeesPendingAndResolved(t *testing.T) {
	var mu sync.Mutex
	var updates []Result
	notify := func(r Result) {
		mu.Lock()
		updates = append(updates, r)
		mu.Unlock()
	}

	v := &fakeVerifier{fn: func(ctx context.Context, req Request) (*Outcome, error) {
		return &Outcome{Verdict: VerdictMisleading, Confidence: 0.6}, nil
	}}
	d := newTestDispatcher(v, notify)

	d.OnFinalSegment("O desemprego caiu pela metade.")
	d.Wait()

	mu.Lock()
	defer mu.Unlock()

	if len(updates) != 2 {
		t.Fatalf("Expected pending + resolved updates, got %d", len(updates))
	}
	if !updates[0].Pending {
		t.Error("Expected first update to be the pending placeholder")
	}
	if updates[1].Pending || updates[1].Verdict != VerdictMisleading {
		t.Errorf("Expected resolved update, got %+v", updates[1])
	}
}
