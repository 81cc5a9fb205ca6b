package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"

	sdkmath "cosmossdk.io/math"

	"PowerPerp/internal/core"
	"PowerPerp/internal/event"
)

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

// commandJSON is a command received on powerperp.commands.<type>
type commandJSON struct {
	Type string          `json:"type"`
	Info core.Info       `json:"info"`
	Msg  json.RawMessage `json:"msg"`
}

// priceJSON is an observation received on powerperp.prices.<pool>
type priceJSON struct {
	Pool      string `json:"pool"`
	Base      string `json:"base"`
	Quote     string `json:"quote"`
	Price     string `json:"price"` // decimal string, up to 18 places
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"` // unix seconds
}

// ParseCommand decodes a command. The type may come from the body or, when
// the body leaves it empty, from the last subject token.
func ParseCommand(subject string, data []byte) (core.Info, core.Msg, error) {
	var j commandJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return core.Info{}, nil, fmt.Errorf("parse command: %w", err)
	}

	msgType := j.Type
	if msgType == "" {
		msgType = lastToken(subject)
	}
	if j.Info.Sender == "" {
		return core.Info{}, nil, fmt.Errorf("parse %s: sender must be set", msgType)
	}

	msg, err := core.DecodeMsg(msgType, j.Msg)
	if err != nil {
		return core.Info{}, nil, err
	}
	return j.Info, msg, nil
}

// ParsePriceObservation decodes a pool price observation
func ParsePriceObservation(data []byte) (*event.PriceObserved, error) {
	var j priceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PriceObserved: %w", err)
	}
	if j.Pool == "" || j.Base == "" || j.Quote == "" {
		return nil, fmt.Errorf("parse PriceObserved: pool, base and quote must be set")
	}
	if j.Base == j.Quote {
		return nil, fmt.Errorf("parse PriceObserved: base and quote are both %s", j.Base)
	}

	price, err := sdkmath.LegacyNewDecFromStr(j.Price)
	if err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("parse price: must be positive, got %s", j.Price)
	}
	if j.Timestamp <= 0 {
		return nil, fmt.Errorf("parse PriceObserved: timestamp must be positive")
	}

	return &event.PriceObserved{
		Pool:          j.Pool,
		Base:          j.Base,
		Quote:         j.Quote,
		Price:         price,
		PriceSequence: j.Sequence,
		Timestamp:     j.Timestamp,
	}, nil
}

// EncodePriceObservation is the inverse of ParsePriceObservation
func EncodePriceObservation(obs *event.PriceObserved) ([]byte, error) {
	return json.Marshal(priceJSON{
		Pool:      obs.Pool,
		Base:      obs.Base,
		Quote:     obs.Quote,
		Price:     obs.Price.String(),
		Sequence:  obs.PriceSequence,
		Timestamp: obs.Timestamp,
	})
}

func lastToken(subject string) string {
	if i := strings.LastIndexByte(subject, '.'); i >= 0 {
		return subject[i+1:]
	}
	return subject
}
