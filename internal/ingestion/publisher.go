package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"PowerPerp/internal/core"
	"PowerPerp/internal/event"
)

// OutboundPublisher publishes committed events to powerperp.events.<type>
// for downstream consumers. Publishing is best effort: the event log in
// Postgres is the source of truth.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan core.CoreOutput
	logger    zerolog.Logger
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan core.CoreOutput, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run publishes every envelope of every output, in order
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			for _, env := range output.Envelopes {
				if err := op.publish(ctx, env); err != nil {
					op.logger.Warn().Err(err).Int64("sequence", env.Sequence).Msg("outbound publish failed")
				}
			}
		}
	}
}

// EventSubject is the subject an envelope is published on
func EventSubject(env *event.EventEnvelope) string {
	return fmt.Sprintf("%s.%s", EventsSubject, env.EventType)
}

func (op *OutboundPublisher) publish(ctx context.Context, env *event.EventEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	// The sequence doubles as the JetStream dedup id
	_, err = op.js.Publish(ctx, EventSubject(env), data, jetstream.WithMsgID(strconv.FormatInt(env.Sequence, 10)))
	return err
}

// PricePublisher sends price observations to powerperp.prices.<pool>, where
// every engine replica's subscriber picks them up.
type PricePublisher struct {
	js jetstream.JetStream
}

func NewPricePublisher(js jetstream.JetStream) *PricePublisher {
	return &PricePublisher{js: js}
}

// Publish sends one observation
func (pp *PricePublisher) Publish(ctx context.Context, obs *event.PriceObserved) error {
	data, err := EncodePriceObservation(obs)
	if err != nil {
		return err
	}
	_, err = pp.js.Publish(ctx, fmt.Sprintf("%s.%s", PricesSubject, obs.Pool), data,
		jetstream.WithMsgID(obs.IdempotencyKey()))
	return err
}
