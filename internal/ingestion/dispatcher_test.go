package ingestion_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	errorsmod "cosmossdk.io/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"PowerPerp/internal/core"
	"PowerPerp/internal/event"
	"PowerPerp/internal/ingestion"
	"PowerPerp/internal/observability"
	"PowerPerp/internal/oracle"
	"PowerPerp/internal/state"
)

type fakeExecutor struct {
	infos []core.Info
	msgs  []core.Msg
	err   error
}

func (f *fakeExecutor) Execute(_ context.Context, info core.Info, msg core.Msg) (*core.Result, error) {
	f.infos = append(f.infos, info)
	f.msgs = append(f.msgs, msg)
	if f.err != nil {
		return nil, f.err
	}
	return &core.Result{RequestID: info.RequestID, Sequence: 4}, nil
}

type fakeSink struct {
	subjects []string
	results  []ingestion.CommandResult
}

func (f *fakeSink) Publish(subject string, data []byte) error {
	var r ingestion.CommandResult
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	f.subjects = append(f.subjects, subject)
	f.results = append(f.results, r)
	return nil
}

type acks struct{ ack, nak int }

func (a *acks) wrap(raw ingestion.RawEvent) ingestion.RawEvent {
	raw.AckFunc = func() { a.ack++ }
	raw.NakFunc = func() { a.nak++ }
	return raw
}

func newDispatcher(exec ingestion.CommandExecutor, sink ingestion.ResultSink) (*ingestion.Dispatcher, *oracle.Oracle, *observability.Metrics) {
	o := oracle.New(oracle.WithClock(func() int64 { return 1_700_000_100 }))
	m := observability.NewMetrics(prometheus.NewRegistry())
	d := ingestion.NewDispatcher(o, exec, sink, m, zerolog.Nop()).WithClock(func() int64 { return 1_700_000_050 })
	return d, o, m
}

func priceMsg(seq int64, price string) map[string]interface{} {
	return map[string]interface{}{
		"pool": "pool-1", "base": "uweth", "quote": "uusdc",
		"price": price, "sequence": seq, "timestamp": 1_700_000_000 + seq,
	}
}

// ============================================================================
// Prices
// ============================================================================

func TestDispatchPriceFeedsOracle(t *testing.T) {
	d, o, m := newDispatcher(&fakeExecutor{}, nil)
	var a acks

	d.Handle(context.Background(), a.wrap(rawFromJSON(t, ingestion.KindPrice, "powerperp.prices.pool-1", priceMsg(1, "3000"))))
	d.Handle(context.Background(), a.wrap(rawFromJSON(t, ingestion.KindPrice, "powerperp.prices.pool-1", priceMsg(1, "3100"))))
	d.Handle(context.Background(), a.wrap(rawFromJSON(t, ingestion.KindPrice, "powerperp.prices.pool-1", priceMsg(2, "0"))))

	require.Equal(t, 3, a.ack)
	require.Zero(t, a.nak)

	seq, ok := o.LastSequence("pool-1")
	require.True(t, ok)
	require.Equal(t, int64(1), seq)

	twap, err := o.TWAP("pool-1", "uweth", "uusdc", 1_700_000_001)
	require.NoError(t, err)
	require.Equal(t, "3000.000000000000000000", twap.String())

	require.Equal(t, 1.0, testutil.ToFloat64(m.PriceObservations.WithLabelValues("pool-1", "accepted")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.PriceObservations.WithLabelValues("pool-1", "stale")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.PriceObservations.WithLabelValues("pool-1", "invalid")))
}

// ============================================================================
// Commands
// ============================================================================

func TestDispatchCommandPublishesResult(t *testing.T) {
	exec := &fakeExecutor{}
	sink := &fakeSink{}
	d, _, _ := newDispatcher(exec, sink)
	var a acks

	d.Handle(context.Background(), a.wrap(rawFromJSON(t, ingestion.KindCommand, "powerperp.commands.apply_funding", map[string]interface{}{
		"info": map[string]interface{}{"sender": "keeper", "request_id": "req-9"},
	})))

	require.Equal(t, 1, a.ack)
	require.Len(t, exec.msgs, 1)
	require.IsType(t, core.MsgApplyFunding{}, exec.msgs[0])
	require.Equal(t, int64(1_700_000_050), exec.infos[0].Time)

	require.Equal(t, []string{"powerperp.results.req-9"}, sink.subjects)
	require.True(t, sink.results[0].OK)
	require.Equal(t, int64(4), sink.results[0].Result.Sequence)
}

func TestDispatchCommandRejectionIsAcked(t *testing.T) {
	exec := &fakeExecutor{err: errorsmod.Wrap(state.ErrUnauthorized, "sender is not the owner")}
	sink := &fakeSink{}
	d, _, _ := newDispatcher(exec, sink)
	var a acks

	d.Handle(context.Background(), a.wrap(rawFromJSON(t, ingestion.KindCommand, "powerperp.commands.pause", map[string]interface{}{
		"info": map[string]interface{}{"sender": "mallory", "request_id": "req-2", "time": 1_700_000_000},
	})))

	require.Equal(t, 1, a.ack)
	require.Zero(t, a.nak)
	// the dispatcher clock wins over a caller supplied time
	require.Equal(t, int64(1_700_000_050), exec.infos[0].Time)
	require.Len(t, sink.results, 1)
	require.False(t, sink.results[0].OK)
	require.Equal(t, state.KindAuthorization.String(), sink.results[0].Kind)
	require.True(t, strings.Contains(sink.results[0].Error, "not the owner"))
}

func TestDispatchCommandRedeliveredWhenEngineStopped(t *testing.T) {
	exec := &fakeExecutor{err: core.ErrRunnerStopped}
	sink := &fakeSink{}
	d, _, _ := newDispatcher(exec, sink)
	var a acks

	d.Handle(context.Background(), a.wrap(rawFromJSON(t, ingestion.KindCommand, "powerperp.commands.pause", map[string]interface{}{
		"info": map[string]interface{}{"sender": "admin", "request_id": "req-3"},
	})))

	require.Zero(t, a.ack)
	require.Equal(t, 1, a.nak)
	require.Empty(t, sink.results)
}

func TestDispatchRunDrainsChannel(t *testing.T) {
	exec := &fakeExecutor{}
	d, _, _ := newDispatcher(exec, nil)

	in := make(chan ingestion.RawEvent, 2)
	in <- rawFromJSON(t, ingestion.KindCommand, "powerperp.commands.pause", map[string]interface{}{"info": map[string]interface{}{"sender": "a"}})
	in <- rawFromJSON(t, ingestion.KindCommand, "powerperp.commands.unpause", map[string]interface{}{"info": map[string]interface{}{"sender": "a"}})
	close(in)

	require.NoError(t, d.Run(context.Background(), in))
	require.Len(t, exec.msgs, 2)
}

func TestEventSubject(t *testing.T) {
	env := &event.EventEnvelope{EventType: event.EventTypeShortOpened}
	require.Equal(t, "powerperp.events.ShortOpened", ingestion.EventSubject(env))
}
