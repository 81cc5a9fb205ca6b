package core

import (
	"context"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"PowerPerp/internal/state"
)

// ErrRunnerStopped is returned for requests submitted after Run has exited
var ErrRunnerStopped = errorsmod.Register(state.Codespace, 100, "engine runner stopped")

// Runner owns an Engine on a single goroutine. Every caller (RPC server,
// command subscriber, keeper jobs) submits work through it.
type Runner struct {
	engine   *Engine
	requests chan func(*Engine)
	done     chan struct{}
}

func NewRunner(engine *Engine, queueSize int) *Runner {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Runner{
		engine:   engine,
		requests: make(chan func(*Engine), queueSize),
		done:     make(chan struct{}),
	}
}

// Run processes requests until ctx is cancelled
func (r *Runner) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-r.requests:
			fn(r.engine)
			if m := r.engine.metrics; m != nil {
				m.RunnerQueueDepth.Set(float64(len(r.requests)))
			}
		}
	}
}

// Done is closed when Run returns
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Do runs fn on the engine goroutine and waits for its result
func Do[T any](ctx context.Context, r *Runner, fn func(*Engine) (T, error)) (T, error) {
	var zero T
	type result struct {
		val T
		err error
	}
	reply := make(chan result, 1)
	req := func(e *Engine) {
		v, err := fn(e)
		reply <- result{val: v, err: err}
	}

	select {
	case r.requests <- req:
	case <-r.done:
		return zero, ErrRunnerStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	if m := r.engine.metrics; m != nil {
		m.RunnerQueueDepth.Set(float64(len(r.requests)))
	}

	select {
	case res := <-reply:
		return res.val, res.err
	case <-r.done:
		return zero, ErrRunnerStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Execute submits a message and waits for its result
func (r *Runner) Execute(ctx context.Context, info Info, msg Msg) (*Result, error) {
	return Do(ctx, r, func(e *Engine) (*Result, error) {
		return e.Execute(info, msg)
	})
}

// SpotPrice quotes the venue's current price of base in quote
func (r *Runner) SpotPrice(ctx context.Context, pool, base, quote string) (sdkmath.LegacyDec, error) {
	return Do(ctx, r, func(e *Engine) (sdkmath.LegacyDec, error) {
		return e.QuerySpotPrice(pool, base, quote)
	})
}

// Snapshot captures the engine state between operations
func (r *Runner) Snapshot(ctx context.Context) (*SnapshotState, error) {
	return Do(ctx, r, func(e *Engine) (*SnapshotState, error) {
		return e.CreateSnapshotState()
	})
}

// Query runs a read-only fn on the engine goroutine
func (r *Runner) Query(ctx context.Context, fn func(*Engine) (interface{}, error)) (interface{}, error) {
	return Do(ctx, r, fn)
}
