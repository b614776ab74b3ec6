package analysis

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/veridict/fact-gateway/internal/observability"
	"github.com/veridict/fact-gateway/internal/resilience"
)

// DefaultMinSegmentLen rejects noise fragments below this many characters
const DefaultMinSegmentLen = 5

// DefaultContextSegments is how many prior segments accompany a verification
// request
const DefaultContextSegments = 3

// Notifier receives a copy of every history update: the pending placeholder
// at dispatch time and the entry again once it resolves. Implementations
// must not block; slow downstream reporting belongs in its own goroutine.
type Notifier func(Result)

// DispatcherConfig holds dispatcher tunables
type DispatcherConfig struct {
	MinSegmentLen   int
	ContextSegments int
	VerifyTimeout   time.Duration
}

// Dispatcher turns final transcript segments into verification calls and
// reconciles their asynchronous results back into the history.
//
// Each segment is dispatched exactly once. Verification calls for distinct
// segments run independently and may complete out of order; reconciliation
// is keyed by segment identity, so completion order does not matter.
type Dispatcher struct {
	history  *History
	verifier Verifier
	breaker  *resilience.CircuitBreaker
	notify   Notifier
	metrics  *observability.SessionMetrics
	logger   zerolog.Logger

	minSegmentLen   int
	contextSegments int
	verifyTimeout   time.Duration

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher over the given history and verifier.
// breaker, notify and metrics may be nil.
func NewDispatcher(history *History, verifier Verifier, breaker *resilience.CircuitBreaker, notify Notifier, metrics *observability.SessionMetrics, logger zerolog.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.MinSegmentLen <= 0 {
		cfg.MinSegmentLen = DefaultMinSegmentLen
	}
	if cfg.ContextSegments <= 0 {
		cfg.ContextSegments = DefaultContextSegments
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = 45 * time.Second
	}
	if notify == nil {
		notify = func(Result) {}
	}
	return &Dispatcher{
		history:         history,
		verifier:        verifier,
		breaker:         breaker,
		notify:          notify,
		metrics:         metrics,
		logger:          logger,
		minSegmentLen:   cfg.MinSegmentLen,
		contextSegments: cfg.ContextSegments,
		verifyTimeout:   cfg.VerifyTimeout,
	}
}

// History returns the dispatcher's result history
func (d *Dispatcher) History() *History {
	return d.history
}

// OnFinalSegment creates a pending entry for the segment and issues its
// verification call. Returns the allocated segment identity, or "" when the
// segment was rejected as too short.
//
// The pending placeholder is inserted before the call is issued, so the
// caller's view updates immediately regardless of verification latency.
func (d *Dispatcher) OnFinalSegment(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	if len(normalized) < d.minSegmentLen {
		d.logger.Debug().Str("text", normalized).Msg("Segment too short to verify, skipping")
		return ""
	}

	segmentID := uuid.New().String()

	// Context is captured before this segment is inserted
	context := d.history.Recent(d.contextSegments)

	pending := Result{
		SegmentID:   segmentID,
		Text:        normalized,
		Verdict:     VerdictUnverifiable,
		Confidence:  0,
		Explanation: PendingExplanation,
		Pending:     true,
		CreatedAt:   time.Now(),
	}
	if !d.history.Insert(pending) {
		// uuid collision; not a practical concern, but never dispatch twice
		d.logger.Error().Str("segment_id", segmentID).Msg("Duplicate segment identity, dropping")
		return ""
	}
	d.notify(pending)

	if d.metrics != nil {
		d.metrics.RecordVerificationStart(segmentID)
	}

	d.logger.Info().
		Str("segment_id", segmentID).
		Str("text", normalized).
		Int("context_size", len(context)).
		Msg("Dispatching segment for verification")

	d.wg.Add(1)
	go d.verify(Request{SegmentID: segmentID, Text: normalized, Context: context})

	return segmentID
}

// verify runs one verification call and reconciles its result. In-flight
// calls are never canceled by session teardown: a result arriving after
// disconnect is still valid and applied.
func (d *Dispatcher) verify(req Request) {
	defer d.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), d.verifyTimeout)
	defer cancel()

	var outcome *Outcome
	call := func() error {
		var err error
		outcome, err = d.verifier.Verify(ctx, req)
		return err
	}

	var err error
	if d.breaker != nil {
		err = d.breaker.Call(call)
		observability.UpdateCircuitBreakerState("verifier", int(d.breaker.GetState()))
	} else {
		err = call()
	}

	if err != nil {
		d.logger.Warn().
			Err(err).
			Str("segment_id", req.SegmentID).
			Msg("Verification failed, marking segment as terminally failed")
		observability.RecordError("verify_error", "analysis")

		if resolved, ok := d.history.ResolveFailure(req.SegmentID, FailureExplanation); ok {
			d.notify(resolved)
		}
		if d.metrics != nil {
			d.metrics.RecordVerificationEnd(req.SegmentID, "", false)
		}
		return
	}

	resolved, ok := d.history.Resolve(req.SegmentID, *outcome)
	if !ok {
		// Unknown identity or already resolved; both mean there is nothing to apply
		d.logger.Warn().Str("segment_id", req.SegmentID).Msg("Verification result had no pending entry")
		return
	}
	d.notify(resolved)

	if d.metrics != nil {
		d.metrics.RecordVerificationEnd(req.SegmentID, string(resolved.Verdict), true)
	}

	d.logger.Info().
		Str("segment_id", req.SegmentID).
		Str("verdict", string(resolved.Verdict)).
		Float64("confidence", resolved.Confidence).
		Msg("Segment verification resolved")
}

// Wait blocks until all in-flight verification calls have reconciled.
// Used by tests and graceful shutdown; normal operation never waits.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
