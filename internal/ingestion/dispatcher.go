package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/rs/zerolog"

	"PowerPerp/internal/core"
	"PowerPerp/internal/event"
	"PowerPerp/internal/observability"
	"PowerPerp/internal/state"
)

// PriceRecorder accepts price observations (the TWAP oracle)
type PriceRecorder interface {
	Record(obs *event.PriceObserved) (bool, error)
}

// CommandExecutor runs a command on the engine (the core Runner)
type CommandExecutor interface {
	Execute(ctx context.Context, info core.Info, msg core.Msg) (*core.Result, error)
}

// ResultSink receives the outcome of every command. *nats.Conn satisfies it.
type ResultSink interface {
	Publish(subject string, data []byte) error
}

// CommandResult is published on powerperp.results.<request_id>
type CommandResult struct {
	RequestID string       `json:"request_id,omitempty"`
	Type      string       `json:"type"`
	OK        bool         `json:"ok"`
	Result    *core.Result `json:"result,omitempty"`
	Error     string       `json:"error,omitempty"`
	Kind      string       `json:"kind,omitempty"`
}

// Dispatcher decodes queued messages and hands them to the oracle or the engine
type Dispatcher struct {
	prices   PriceRecorder
	commands CommandExecutor
	results  ResultSink
	clock    func() int64
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewDispatcher(prices PriceRecorder, commands CommandExecutor, results ResultSink, metrics *observability.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		prices:   prices,
		commands: commands,
		results:  results,
		clock:    func() int64 { return time.Now().Unix() },
		metrics:  metrics,
		logger:   logger,
	}
}

// WithClock overrides the time stamped on commands that carry none
func (d *Dispatcher) WithClock(clock func() int64) *Dispatcher {
	d.clock = clock
	return d
}

// Run handles messages until ctx is cancelled or in closes
func (d *Dispatcher) Run(ctx context.Context, in <-chan RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			d.Handle(ctx, raw)
		}
	}
}

// Handle processes one message and acks it, or naks it when the engine is
// unavailable so that it is redelivered.
func (d *Dispatcher) Handle(ctx context.Context, raw RawEvent) {
	var retry bool
	switch raw.Kind {
	case KindPrice:
		d.handlePrice(raw)
	case KindCommand:
		retry = d.handleCommand(ctx, raw)
	default:
		d.logger.Warn().Str("subject", raw.Subject).Str("kind", string(raw.Kind)).Msg("unknown message kind dropped")
	}

	if retry {
		if raw.NakFunc != nil {
			raw.NakFunc()
		}
		return
	}
	if raw.AckFunc != nil {
		raw.AckFunc()
	}
}

func (d *Dispatcher) handlePrice(raw RawEvent) {
	obs, err := ParsePriceObservation(raw.Data)
	if err != nil {
		d.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("invalid price observation dropped")
		d.countPrice(lastToken(raw.Subject), "invalid")
		return
	}

	accepted, err := d.prices.Record(obs)
	switch {
	case err != nil:
		d.logger.Warn().Err(err).Str("pool", obs.Pool).Msg("price observation rejected")
		d.countPrice(obs.Pool, "invalid")
	case !accepted:
		d.logger.Debug().Str("pool", obs.Pool).Int64("sequence", obs.PriceSequence).Msg("stale price observation")
		d.countPrice(obs.Pool, "stale")
	default:
		d.countPrice(obs.Pool, "accepted")
	}
}

func (d *Dispatcher) handleCommand(ctx context.Context, raw RawEvent) bool {
	info, msg, err := ParseCommand(raw.Subject, raw.Data)
	if err != nil {
		d.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("invalid command dropped")
		d.publish(CommandResult{Type: lastToken(raw.Subject), Error: err.Error(), Kind: state.KindValidation.String()})
		return false
	}
	info.Time = d.clock()

	res, err := d.commands.Execute(ctx, info, msg)
	if err != nil {
		if errorsmod.IsOf(err, core.ErrRunnerStopped) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		d.publish(CommandResult{
			RequestID: info.RequestID,
			Type:      msg.Type(),
			Error:     err.Error(),
			Kind:      state.KindOf(err).String(),
		})
		return false
	}

	d.publish(CommandResult{RequestID: res.RequestID, Type: msg.Type(), OK: true, Result: res})
	return false
}

func (d *Dispatcher) publish(r CommandResult) {
	if d.results == nil || r.RequestID == "" {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		d.logger.Warn().Err(err).Str("request_id", r.RequestID).Msg("encode command result")
		return
	}
	if err := d.results.Publish(fmt.Sprintf("%s.%s", ResultsSubject, r.RequestID), data); err != nil {
		d.logger.Warn().Err(err).Str("request_id", r.RequestID).Msg("publish command result")
	}
}

func (d *Dispatcher) countPrice(pool, result string) {
	if d.metrics != nil {
		d.metrics.PriceObservations.WithLabelValues(pool, result).Inc()
	}
}
