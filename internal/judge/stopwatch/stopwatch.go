// Package stopwatch runs a computation under one wall-clock budget split
// across compile, run and judge phases.
package stopwatch

import (
	"context"
	"time"
)

// Switch lets the wrapped computation announce which phase it is in.
type Switch struct {
	ch chan Phase
}

// Enter moves the budget to phase. It returns once the stopwatch has taken
// the transition, or with ctx.Err() if the run was cut short.
func (s *Switch) Enter(ctx context.Context, phase Phase) error {
	select {
	case s.ch <- phase:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Outcome is the result of a stopwatch run. TimedOut means some phase ran
// out of budget; Value and Err are then zero.
type Outcome[T any] struct {
	Value    T
	Err      error
	TimedOut bool
}

type result[T any] struct {
	val T
	err error
}

// Measure calls fn under budget, starting in phase initial, and returns its
// outcome with the time attributed to each phase.
//
// Wall time is charged to whichever phase is active. When the active phase
// uses up what is left of its budget the context passed to fn is cancelled
// and Measure waits for fn to return, so anything fn owns is torn down before
// Measure does. No phase is charged more than its budget.
func Measure[T any](ctx context.Context, budget Timers, initial Phase, fn func(ctx context.Context, sw *Switch) (T, error)) (Outcome[T], Timers) {
	innerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sw := &Switch{ch: make(chan Phase)}
	resCh := make(chan result[T], 1)
	go func() {
		val, err := fn(innerCtx, sw)
		resCh <- result[T]{val: val, err: err}
	}()

	remaining := budget
	var elapsed Timers
	active := initial
	last := time.Now()
	phaseStart := last
	timer := time.NewTimer(remaining.Get(active))
	defer timer.Stop()

	charge := func() {
		now := time.Now()
		spent := elapsed.Get(active) + now.Sub(last)
		if limit := budget.Get(active); spent > limit {
			spent = limit
		}
		elapsed.Set(active, spent)
		last = now
	}
	abort := func() {
		cancel()
		<-resCh
	}

	for {
		var (
			next     Phase
			switched bool
			fired    bool
			done     bool
		)
		select {
		case r := <-resCh:
			charge()
			return Outcome[T]{Value: r.val, Err: r.err}, elapsed
		case <-timer.C:
			fired = true
		case next = <-sw.ch:
			switched = true
		case <-ctx.Done():
			done = true
		}
		charge()

		select {
		case r := <-resCh:
			return Outcome[T]{Value: r.val, Err: r.err}, elapsed
		default:
		}

		stint := last.Sub(phaseStart)
		if fired || stint >= remaining.Get(active) {
			elapsed.Set(active, budget.Get(active))
			abort()
			return Outcome[T]{TimedOut: true}, elapsed
		}
		if done {
			abort()
			return Outcome[T]{Err: ctx.Err()}, elapsed
		}
		if switched {
			remaining.Set(active, remaining.Get(active)-stint)
			active = next
			phaseStart = last
			timer.Reset(remaining.Get(active))
		}
	}
}
