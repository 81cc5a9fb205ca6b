package scheduler

import (
	"context"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"

	"PowerPerp/internal/core"
	"PowerPerp/internal/event"
	"PowerPerp/internal/observability"
	"PowerPerp/internal/state"
)

// Job names
const (
	JobApplyFunding      = "apply_funding"
	JobRemoveEmptyVaults = "remove_empty_vaults"
	JobObservePrices     = "observe_prices"
	JobSnapshot          = "snapshot"
)

// Executor submits an operation to the engine (the core Runner)
type Executor interface {
	Execute(ctx context.Context, info core.Info, msg core.Msg) (*core.Result, error)
}

// SpotQuoter reads venue spot prices (the core Runner)
type SpotQuoter interface {
	SpotPrice(ctx context.Context, pool, base, quote string) (sdkmath.LegacyDec, error)
}

// PriceSink receives sampled prices: the oracle directly, or the price
// stream when replicas share observations.
type PriceSink interface {
	Publish(ctx context.Context, obs *event.PriceObserved) error
}

// Snapshotter captures engine state (the core Runner)
type Snapshotter interface {
	Snapshot(ctx context.Context) (*core.SnapshotState, error)
}

// SnapshotStore persists snapshots
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *core.SnapshotState, createdAt time.Time) (int, error)
	VerifyPending(ctx context.Context) (int, error)
}

// PricePair is one venue pool to sample
type PricePair struct {
	Pool  string
	Base  string
	Quote string
}

// Clock returns unix seconds
type Clock func() int64

func systemClock() int64 { return time.Now().Unix() }

// ApplyFundingJob accrues funding as the keeper account. A paused or closed
// protocol is reported as skipped.
func ApplyFundingJob(exec Executor, keeper string, clock Clock) JobFunc {
	if clock == nil {
		clock = systemClock
	}
	return func(ctx context.Context) (string, error) {
		_, err := exec.Execute(ctx, core.Info{Sender: keeper, Time: clock()}, core.MsgApplyFunding{})
		return classify(err)
	}
}

// RemoveEmptyVaultsJob collects up to limit empty vaults per run
func RemoveEmptyVaultsJob(exec Executor, keeper string, limit uint32, clock Clock) JobFunc {
	if clock == nil {
		clock = systemClock
	}
	return func(ctx context.Context) (string, error) {
		msg := core.MsgRemoveEmptyVaults{}
		if limit > 0 {
			msg.Limit = &limit
		}
		_, err := exec.Execute(ctx, core.Info{Sender: keeper, Time: clock()}, msg)
		return classify(err)
	}
}

// ObservePricesJob samples spot prices from the venue and feeds them to sink.
// Sequences are derived from the sample time so that restarts keep them
// increasing.
func ObservePricesJob(quoter SpotQuoter, sink PriceSink, pairs []PricePair, clock Clock) JobFunc {
	if clock == nil {
		clock = systemClock
	}
	last := make(map[string]int64, len(pairs))
	return func(ctx context.Context) (string, error) {
		now := clock()
		for _, p := range pairs {
			price, err := quoter.SpotPrice(ctx, p.Pool, p.Base, p.Quote)
			if err != nil {
				return ResultError, fmt.Errorf("spot price %s: %w", p.Pool, err)
			}
			seq := now
			if seq <= last[p.Pool] {
				seq = last[p.Pool] + 1
			}
			obs := &event.PriceObserved{
				Pool:          p.Pool,
				Base:          p.Base,
				Quote:         p.Quote,
				Price:         price,
				PriceSequence: seq,
				Timestamp:     now,
			}
			if err := sink.Publish(ctx, obs); err != nil {
				return ResultError, fmt.Errorf("publish price %s: %w", p.Pool, err)
			}
			last[p.Pool] = seq
		}
		return ResultOK, nil
	}
}

// SnapshotJob captures the engine, stores the snapshot and verifies every
// stored snapshot the event log has caught up with.
func SnapshotJob(src Snapshotter, store SnapshotStore, metrics *observability.Metrics) JobFunc {
	return func(ctx context.Context) (string, error) {
		start := time.Now()
		snap, err := src.Snapshot(ctx)
		if err != nil {
			return ResultError, fmt.Errorf("capture snapshot: %w", err)
		}
		size, err := store.SaveSnapshot(ctx, snap, time.Now().UTC())
		if err != nil {
			return ResultError, fmt.Errorf("save snapshot: %w", err)
		}
		if metrics != nil {
			metrics.SnapshotTaken.Inc()
			metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
			metrics.SnapshotSizeBytes.Set(float64(size))
			metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
		}
		if _, err := store.VerifyPending(ctx); err != nil {
			return ResultError, fmt.Errorf("verify snapshots: %w", err)
		}
		return ResultOK, nil
	}
}

// OracleSink adapts a price recorder to PriceSink
type OracleSink struct {
	Recorder interface {
		Record(obs *event.PriceObserved) (bool, error)
	}
}

func (o OracleSink) Publish(_ context.Context, obs *event.PriceObserved) error {
	_, err := o.Recorder.Record(obs)
	return err
}

// classify maps an engine rejection caused by protocol state to a skip
func classify(err error) (string, error) {
	if err == nil {
		return ResultOK, nil
	}
	if state.KindOf(err) == state.KindState {
		return ResultSkipped, nil
	}
	return ResultError, err
}
