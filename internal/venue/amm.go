// Package venue is an in-process constant-product swap venue whose reserves
// live in the token ledger under the pool id.
package venue

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"PowerPerp/internal/ledger"
	"PowerPerp/internal/state"
)

const bpsDenominator = 10_000

// Pool is a two-asset constant-product pool
type Pool struct {
	ID     string `json:"id" mapstructure:"id"`
	DenomA string `json:"denom_a" mapstructure:"denom_a"`
	DenomB string `json:"denom_b" mapstructure:"denom_b"`
	FeeBps uint32 `json:"fee_bps" mapstructure:"fee_bps"`
}

func (p Pool) has(denom string) bool {
	return denom == p.DenomA || denom == p.DenomB
}

// Venue executes swaps against registered pools
type Venue struct {
	pools map[string]Pool
}

func New(pools ...Pool) (*Venue, error) {
	v := &Venue{pools: make(map[string]Pool, len(pools))}
	for _, p := range pools {
		if err := v.Register(p); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Register adds a pool
func (v *Venue) Register(p Pool) error {
	if p.ID == "" || p.DenomA == "" || p.DenomB == "" || p.DenomA == p.DenomB {
		return errorsmod.Wrapf(state.ErrValidation, "invalid pool %+v", p)
	}
	if p.FeeBps >= bpsDenominator {
		return errorsmod.Wrapf(state.ErrValidation, "pool %s fee %d bps too high", p.ID, p.FeeBps)
	}
	if _, dup := v.pools[p.ID]; dup {
		return errorsmod.Wrapf(state.ErrValidation, "duplicate pool %s", p.ID)
	}
	v.pools[p.ID] = p
	return nil
}

// Pool returns a registered pool
func (v *Venue) Pool(id string) (Pool, bool) {
	p, ok := v.pools[id]
	return p, ok
}

func (v *Venue) route(poolID, in, out string) (Pool, error) {
	p, ok := v.pools[poolID]
	if !ok {
		return Pool{}, errorsmod.Wrapf(state.ErrExternalCall, "unknown pool %s", poolID)
	}
	if in == out || !p.has(in) || !p.has(out) {
		return Pool{}, errorsmod.Wrapf(state.ErrExternalCall, "pool %s does not trade %s for %s", poolID, in, out)
	}
	return p, nil
}

// Reserves returns the pool's holdings of in and out
func (v *Venue) Reserves(tl ledger.TokenLedger, poolID, in, out string) (sdkmath.Int, sdkmath.Int) {
	return tl.BalanceOf(poolID, in), tl.BalanceOf(poolID, out)
}

// AddLiquidity moves both assets from provider into the pool
func (v *Venue) AddLiquidity(tl ledger.TokenLedger, provider, poolID string, amountA, amountB sdkmath.Int) error {
	p, ok := v.pools[poolID]
	if !ok {
		return errorsmod.Wrapf(state.ErrValidation, "unknown pool %s", poolID)
	}
	if err := tl.Transfer(provider, p.ID, p.DenomA, amountA); err != nil {
		return err
	}
	return tl.Transfer(provider, p.ID, p.DenomB, amountB)
}

// QuoteExactIn returns the output for selling amountIn
func (v *Venue) QuoteExactIn(tl ledger.TokenLedger, poolID, in, out string, amountIn sdkmath.Int) (sdkmath.Int, error) {
	p, err := v.route(poolID, in, out)
	if err != nil {
		return sdkmath.Int{}, err
	}
	reserveIn, reserveOut := v.Reserves(tl, p.ID, in, out)
	if !reserveIn.IsPositive() || !reserveOut.IsPositive() {
		return sdkmath.Int{}, errorsmod.Wrapf(state.ErrExternalCall, "pool %s has no liquidity", p.ID)
	}

	feeFactor := sdkmath.NewInt(int64(bpsDenominator - p.FeeBps))
	inWithFee := amountIn.Mul(feeFactor)
	num := reserveOut.Mul(inWithFee)
	den := reserveIn.MulRaw(bpsDenominator).Add(inWithFee)
	return num.Quo(den), nil
}

// QuoteExactOut returns the input needed to buy amountOut, rounded up
func (v *Venue) QuoteExactOut(tl ledger.TokenLedger, poolID, in, out string, amountOut sdkmath.Int) (sdkmath.Int, error) {
	p, err := v.route(poolID, in, out)
	if err != nil {
		return sdkmath.Int{}, err
	}
	reserveIn, reserveOut := v.Reserves(tl, p.ID, in, out)
	if !reserveIn.IsPositive() || amountOut.GTE(reserveOut) {
		return sdkmath.Int{}, errorsmod.Wrapf(state.ErrExternalCall, "pool %s cannot deliver %s%s", p.ID, amountOut, out)
	}

	feeFactor := sdkmath.NewInt(int64(bpsDenominator - p.FeeBps))
	num := reserveIn.Mul(amountOut).MulRaw(bpsDenominator)
	den := reserveOut.Sub(amountOut).Mul(feeFactor)
	return num.Quo(den).AddRaw(1), nil
}

// SwapExactIn sells amountIn of in for at least minOut of out
func (v *Venue) SwapExactIn(tl ledger.TokenLedger, trader, poolID, in, out string, amountIn, minOut sdkmath.Int) (sdkmath.Int, error) {
	if !amountIn.IsPositive() {
		return sdkmath.Int{}, errorsmod.Wrap(state.ErrValidation, "swap amount must be positive")
	}
	amountOut, err := v.QuoteExactIn(tl, poolID, in, out, amountIn)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if amountOut.LT(minOut) || !amountOut.IsPositive() {
		return sdkmath.Int{}, errorsmod.Wrapf(state.ErrExternalCall, "slippage: got %s%s, want at least %s", amountOut, out, minOut)
	}
	if err := v.settle(tl, trader, poolID, in, out, amountIn, amountOut); err != nil {
		return sdkmath.Int{}, err
	}
	return amountOut, nil
}

// SwapExactOut buys amountOut of out paying at most maxIn of in
func (v *Venue) SwapExactOut(tl ledger.TokenLedger, trader, poolID, in, out string, amountOut, maxIn sdkmath.Int) (sdkmath.Int, error) {
	if !amountOut.IsPositive() {
		return sdkmath.Int{}, errorsmod.Wrap(state.ErrValidation, "swap amount must be positive")
	}
	amountIn, err := v.QuoteExactOut(tl, poolID, in, out, amountOut)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if amountIn.GT(maxIn) {
		return sdkmath.Int{}, errorsmod.Wrapf(state.ErrExternalCall, "slippage: need %s%s, max %s", amountIn, in, maxIn)
	}
	if err := v.settle(tl, trader, poolID, in, out, amountIn, amountOut); err != nil {
		return sdkmath.Int{}, err
	}
	return amountIn, nil
}

func (v *Venue) settle(tl ledger.TokenLedger, trader, poolID, in, out string, amountIn, amountOut sdkmath.Int) error {
	if err := tl.Transfer(trader, poolID, in, amountIn); err != nil {
		return errorsmod.Wrap(state.ErrInsufficientFunds, err.Error())
	}
	if err := tl.Transfer(poolID, trader, out, amountOut); err != nil {
		return errorsmod.Wrap(state.ErrExternalCall, err.Error())
	}
	return nil
}

// SpotPrice returns the marginal price of base in quote
func (v *Venue) SpotPrice(tl ledger.TokenLedger, poolID, base, quote string) (sdkmath.LegacyDec, error) {
	p, err := v.route(poolID, base, quote)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	reserveBase, reserveQuote := v.Reserves(tl, p.ID, base, quote)
	if !reserveBase.IsPositive() {
		return sdkmath.LegacyDec{}, errorsmod.Wrapf(state.ErrExternalCall, "pool %s has no liquidity", p.ID)
	}
	return sdkmath.LegacyNewDecFromInt(reserveQuote).QuoTruncate(sdkmath.LegacyNewDecFromInt(reserveBase)), nil
}
