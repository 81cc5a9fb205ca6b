package core

import (
	sdkmath "cosmossdk.io/math"

	"PowerPerp/internal/event"
	fpmath "PowerPerp/internal/math"
	"PowerPerp/internal/state"
)

// HealthTWAPPeriod is the lookback of the prices used for vault checks and swap bounds
const HealthTWAPPeriod int64 = 420

// fundingQuote is one evaluation of the funding inputs
type fundingQuote struct {
	elapsed     int64
	windowStart int64
	index       sdkmath.LegacyDec
	mark        sdkmath.LegacyDec // clamped
	factor      sdkmath.LegacyDec
}

// quoteTWAP returns the base asset's price in the quote asset
func (e *Engine) quoteTWAP(windowStart int64) (sdkmath.LegacyDec, error) {
	cfg := &e.store.Config
	return e.oracle.TWAP(cfg.BasePool, cfg.BaseAsset, cfg.QuoteAsset, windowStart)
}

// powerTWAP returns the power asset's price in the base asset
func (e *Engine) powerTWAP(windowStart int64) (sdkmath.LegacyDec, error) {
	cfg := &e.store.Config
	return e.oracle.TWAP(cfg.PowerPool, cfg.PowerAsset, cfg.BaseAsset, windowStart)
}

// previewFunding computes the factor applyFunding would store at now, without mutating anything.
// ok is false when nothing would change.
func (e *Engine) previewFunding(now int64) (fundingQuote, bool, error) {
	g := &e.store.Global
	q := fundingQuote{factor: g.NormalizationFactor}

	if g.LastFundingUpdateTime == now {
		return q, false, nil
	}

	q.elapsed, q.windowStart = fpmath.FundingWindow(now, g.LastFundingUpdateTime)
	if q.elapsed == 0 {
		return q, false, nil
	}

	quote, err := e.quoteTWAP(q.windowStart)
	if err != nil {
		return q, false, err
	}
	power, err := e.powerTWAP(q.windowStart)
	if err != nil {
		return q, false, err
	}

	q.index = fpmath.ComputeIndex(quote)
	mark := fpmath.ComputeMark(quote, power.MulTruncate(e.store.Config.IndexScale), g.NormalizationFactor)
	q.mark = fpmath.ClampMark(mark, q.index)

	q.factor, err = fpmath.ComputeNormalizationFactor(g.NormalizationFactor, q.index, q.mark, q.elapsed, e.store.Config.FundingPeriod)
	if err != nil {
		return q, false, err
	}
	return q, true, nil
}

// applyFunding brings the normalization factor up to the operation's time.
// Called first by every vault-mutating operation.
func (e *Engine) applyFunding() (sdkmath.LegacyDec, error) {
	now := e.now()
	q, changed, err := e.previewFunding(now)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	if !changed {
		return e.store.Global.NormalizationFactor, nil
	}

	g := &e.store.Global
	old := g.NormalizationFactor
	g.NormalizationFactor = q.factor
	g.LastFundingUpdateTime = now

	e.record(&event.FundingApplied{
		OldFactor: old,
		NewFactor: q.factor,
		Index:     q.index,
		Mark:      q.mark,
		Elapsed:   q.elapsed,
		Timestamp: now,
	})
	e.logger.Info().
		Str("old_factor", old.String()).
		Str("new_factor", q.factor.String()).
		Int64("elapsed", q.elapsed).
		Msg("funding applied")
	if e.metrics != nil {
		e.metrics.FundingUpdates.Inc()
	}
	return q.factor, nil
}

func (e *Engine) applyFundingMsg() (FundingResponse, error) {
	if err := e.requireActive(); err != nil {
		return FundingResponse{}, err
	}
	if err := e.acceptFunds(); err != nil {
		return FundingResponse{}, err
	}
	factor, err := e.applyFunding()
	if err != nil {
		return FundingResponse{}, err
	}
	return FundingResponse{NormalizationFactor: factor}, nil
}

// pricesAt assembles health-check inputs for a vault type
func (e *Engine) pricesAt(vt state.VaultType, normFactor sdkmath.LegacyDec, now int64) (state.Prices, error) {
	cfg := &e.store.Config
	windowStart := now - HealthTWAPPeriod

	quote, err := e.quoteTWAP(windowStart)
	if err != nil {
		return state.Prices{}, err
	}
	p := state.Prices{
		NormFactor: normFactor,
		QuotePrice: quote.QuoTruncate(cfg.IndexScale),
	}

	if vt.Kind == state.VaultKindStaked {
		if sa, ok := cfg.StakedAsset(vt.Denom); ok {
			stake, err := e.oracle.TWAP(sa.Pool, sa.Denom, cfg.BaseAsset, windowStart)
			if err == nil {
				p.StakePrice = &stake
			} else {
				e.logger.Debug().Err(err).Str("denom", sa.Denom).Msg("no stake price")
			}
		}
	}
	return p, nil
}

// vaultPrices uses the current factor and operation time
func (e *Engine) vaultPrices(vt state.VaultType) (state.Prices, error) {
	return e.pricesAt(vt, e.store.Global.NormalizationFactor, e.now())
}
