package oracle

import (
	"sort"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"PowerPerp/internal/event"
	fpmath "PowerPerp/internal/math"
	"PowerPerp/internal/state"
)

// retention keeps twice the maximum funding window of history
const retention = 2 * fpmath.MaxFundingWindow

type pairKey struct {
	pool  string
	base  string
	quote string
}

type observation struct {
	ts    int64
	price sdkmath.LegacyDec
}

// Oracle computes time-weighted average prices from pool observations.
// Safe for concurrent use.
type Oracle struct {
	mu       sync.RWMutex
	series   map[pairKey][]observation
	sequence *SequenceValidator
	clock    func() int64
}

// Option configures an Oracle
type Option func(*Oracle)

// WithClock overrides the time source used as the end of every window
func WithClock(clock func() int64) Option {
	return func(o *Oracle) { o.clock = clock }
}

func New(opts ...Option) *Oracle {
	o := &Oracle{
		series:   make(map[pairKey][]observation),
		sequence: NewSequenceValidator(),
		clock:    func() int64 { return time.Now().Unix() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Record stores an observation. Returns false if it was stale.
func (o *Oracle) Record(obs *event.PriceObserved) (bool, error) {
	if obs.Price.IsNil() || !obs.Price.IsPositive() {
		return false, errorsmod.Wrapf(state.ErrValidation, "non-positive price for pool %s", obs.Pool)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.sequence.Accept(obs.Pool, obs.PriceSequence) {
		return false, nil
	}

	key := pairKey{pool: obs.Pool, base: obs.Base, quote: obs.Quote}
	series := o.series[key]
	if n := len(series); n > 0 && obs.Timestamp < series[n-1].ts {
		return false, nil
	}
	if n := len(series); n > 0 && obs.Timestamp == series[n-1].ts {
		series[n-1].price = obs.Price
	} else {
		series = append(series, observation{ts: obs.Timestamp, price: obs.Price})
	}
	o.series[key] = prune(series, obs.Timestamp-retention)
	return true, nil
}

// prune drops observations older than cutoff but keeps the one in effect at cutoff
func prune(series []observation, cutoff int64) []observation {
	i := sort.Search(len(series), func(i int) bool { return series[i].ts > cutoff })
	if i <= 1 {
		return series
	}
	return append(series[:0], series[i-1:]...)
}

// TWAP returns the time-weighted price of base in quote on pool from windowStart until now.
// The reverse pair is served by inverting its TWAP.
func (o *Oracle) TWAP(pool, base, quote string, windowStart int64) (sdkmath.LegacyDec, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if series, ok := o.series[pairKey{pool: pool, base: base, quote: quote}]; ok && len(series) > 0 {
		return twap(series, windowStart, o.clock()), nil
	}
	if series, ok := o.series[pairKey{pool: pool, base: quote, quote: base}]; ok && len(series) > 0 {
		inv := twap(series, windowStart, o.clock())
		if inv.IsZero() {
			return sdkmath.LegacyZeroDec(), nil
		}
		return sdkmath.LegacyOneDec().QuoTruncate(inv), nil
	}
	return sdkmath.LegacyDec{}, errorsmod.Wrapf(state.ErrExternalCall, "no price for %s/%s on pool %s", base, quote, pool)
}

// twap integrates the step function defined by series over [start, end].
// Before the first observation its price applies.
func twap(series []observation, start, end int64) sdkmath.LegacyDec {
	if end < series[len(series)-1].ts {
		end = series[len(series)-1].ts
	}
	if end <= start {
		return priceAt(series, start)
	}

	sum := sdkmath.LegacyZeroDec()
	t := start
	price := priceAt(series, start)
	for _, obs := range series {
		if obs.ts <= start {
			continue
		}
		sum = sum.Add(price.MulInt64(obs.ts - t))
		t = obs.ts
		price = obs.price
	}
	sum = sum.Add(price.MulInt64(end - t))

	return sum.QuoInt64(end - start)
}

func priceAt(series []observation, ts int64) sdkmath.LegacyDec {
	i := sort.Search(len(series), func(i int) bool { return series[i].ts > ts })
	if i == 0 {
		return series[0].price
	}
	return series[i-1].price
}

// LastSequence exposes the ingestion cursor for a pool
func (o *Oracle) LastSequence(pool string) (int64, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.sequence.LastSequence(pool)
}
