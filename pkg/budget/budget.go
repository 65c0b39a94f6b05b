// Package budget provides the shared time and external-call allowance
// for one evaluation run. A Budget is created once per run, shared by
// every comparator invocation in that run, and safe for concurrent use.
package budget

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Deterministic error codes for budget violations.
const (
	ErrTimeExhausted  = "ERR_BUDGET_TIME_EXHAUSTED"
	ErrCallsExhausted = "ERR_BUDGET_CALLS_EXHAUSTED"
)

// Error is a typed budget violation.
type Error struct {
	Code     string `json:"code"`
	Limit    int64  `json:"limit"`
	Consumed int64  `json:"consumed"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (limit=%d, consumed=%d)", e.Code, e.Limit, e.Consumed)
}

// Limits configures a run budget.
type Limits struct {
	MaxTotal time.Duration
	// MaxExternalCalls caps external calls across the whole run.
	MaxExternalCalls int64
	// ExternalCallsPerSecond optionally paces external calls; zero means
	// unpaced.
	ExternalCallsPerSecond float64
}

// Budget tracks run-wide elapsed time and external-call consumption.
// Counters are atomic; the zero of each limit means unlimited.
type Budget struct {
	started  time.Time
	deadline time.Time
	limits   Limits
	calls    atomic.Int64
	limiter  *rate.Limiter
}

// New starts a budget clock with the given limits.
func New(limits Limits) *Budget {
	b := &Budget{started: time.Now(), limits: limits}
	if limits.MaxTotal > 0 {
		b.deadline = b.started.Add(limits.MaxTotal)
	}
	if limits.ExternalCallsPerSecond > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(limits.ExternalCallsPerSecond), 1)
	}
	return b
}

// Deadline returns the run-wide deadline and whether one is set.
func (b *Budget) Deadline() (time.Time, bool) {
	return b.deadline, !b.deadline.IsZero()
}

// Elapsed returns time consumed since the budget started.
func (b *Budget) Elapsed() time.Duration {
	return time.Since(b.started)
}

// Calls returns the number of external calls consumed so far.
func (b *Budget) Calls() int64 {
	return b.calls.Load()
}

// Exhausted reports whether either the time or the call budget is spent.
func (b *Budget) Exhausted() bool {
	return b.Check() != nil
}

// Check returns the violation if the budget is spent, else nil.
func (b *Budget) Check() error {
	if !b.deadline.IsZero() && time.Now().After(b.deadline) {
		return &Error{
			Code:     ErrTimeExhausted,
			Limit:    b.limits.MaxTotal.Milliseconds(),
			Consumed: b.Elapsed().Milliseconds(),
		}
	}
	if b.limits.MaxExternalCalls > 0 && b.calls.Load() >= b.limits.MaxExternalCalls {
		return &Error{
			Code:     ErrCallsExhausted,
			Limit:    b.limits.MaxExternalCalls,
			Consumed: b.calls.Load(),
		}
	}
	return nil
}

// ConsumeCall accounts one external call, waiting on the pacing limiter
// if one is configured. It fails when the call budget is already spent;
// the caller must then short-circuit to an unknown outcome.
func (b *Budget) ConsumeCall(ctx context.Context) error {
	if b.limits.MaxExternalCalls > 0 {
		n := b.calls.Add(1)
		if n > b.limits.MaxExternalCalls {
			b.calls.Add(-1)
			return &Error{
				Code:     ErrCallsExhausted,
				Limit:    b.limits.MaxExternalCalls,
				Consumed: b.calls.Load(),
			}
		}
	} else {
		b.calls.Add(1)
	}

	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("budget: rate wait: %w", err)
		}
	}
	return nil
}
