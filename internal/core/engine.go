package core

import (
	"fmt"
	"sort"
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PowerPerp/internal/event"
	"PowerPerp/internal/ledger"
	"PowerPerp/internal/observability"
	"PowerPerp/internal/state"
)

// invariantCheckInterval is how many sequences pass between full ledger/vault audits
const invariantCheckInterval = 1000

// PriceOracle serves time-weighted average prices
type PriceOracle interface {
	TWAP(pool, base, quote string, windowStart int64) (sdkmath.LegacyDec, error)
}

// SwapVenue executes swaps against a token ledger. The engine only reaches it
// through continuation submessages.
type SwapVenue interface {
	SwapExactIn(tl ledger.TokenLedger, trader, pool, in, out string, amountIn, minOut sdkmath.Int) (sdkmath.Int, error)
	SwapExactOut(tl ledger.TokenLedger, trader, pool, in, out string, amountOut, maxIn sdkmath.Int) (sdkmath.Int, error)
}

// CoreOutput is everything one committed operation produced
type CoreOutput struct {
	Envelopes []*event.EventEnvelope
	Batch     *ledger.Batch
	Vaults    []state.Vault // post-state of touched vaults
	Removed   []uint64
	Global    state.GlobalState
	Config    state.Config
	Owner     string
}

// Options configures an Engine
type Options struct {
	// Address is the engine's own account: custody holder and power-asset minter
	Address             string
	StartSequence       int64
	PersistChan         chan<- CoreOutput
	ProjectionChan      chan<- CoreOutput
	PublishChan         chan<- CoreOutput
	DBChecker           DBIdempotencyChecker
	IdempotencyCapacity int
	Metrics             *observability.Metrics
	Logger              zerolog.Logger
}

// Engine is the margin/vault engine. It owns the store and the token ledger
// and executes one message at a time. Not thread-safe: see Runner.
type Engine struct {
	address string
	store   *state.Store
	ledger  *ledger.Ledger
	oracle  PriceOracle
	venue   SwapVenue

	sequence    int64
	hasher      *StateHasher
	idempotency *IdempotencyChecker
	metrics     *observability.Metrics
	logger      zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
	publishChan    chan<- CoreOutput

	op *opContext
}

// opContext lives for the duration of one top-level message
type opContext struct {
	info    Info
	tx      *ledger.Tx
	events  []event.Event
	settled interface{} // set by the final reply of a continuation
}

func NewEngine(store *state.Store, led *ledger.Ledger, oracle PriceOracle, venue SwapVenue, opts Options) (*Engine, error) {
	if store == nil || led == nil || oracle == nil || venue == nil {
		return nil, errorsmod.Wrap(state.ErrValidation, "engine needs a store, a ledger, an oracle and a venue")
	}
	if opts.Address == "" {
		return nil, errorsmod.Wrap(state.ErrValidation, "engine address must be set")
	}
	return &Engine{
		address:        opts.Address,
		store:          store,
		ledger:         led,
		oracle:         oracle,
		venue:          venue,
		sequence:       opts.StartSequence,
		hasher:         NewStateHasher(),
		idempotency:    NewIdempotencyChecker(opts.IdempotencyCapacity, opts.DBChecker, opts.Metrics, opts.Logger),
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		persistChan:    opts.PersistChan,
		projectionChan: opts.ProjectionChan,
		publishChan:    opts.PublishChan,
	}, nil
}

// Execute runs msg atomically: every state, ledger and continuation change is
// kept on success and discarded on error.
func (e *Engine) Execute(info Info, msg Msg) (*Result, error) {
	start := time.Now()
	op := msg.Type()

	// Step 1: Idempotency check (two-tier), only for caller supplied ids
	if info.RequestID == "" {
		info.RequestID = uuid.NewString()
	} else if e.idempotency.IsDuplicate(op, info.RequestID) {
		e.logger.Debug().Str("op", op).Str("request_id", info.RequestID).Msg("duplicate request skipped")
		return &Result{RequestID: info.RequestID, Sequence: NoSequence, Duplicate: true}, nil
	}

	// Step 2: Open the transaction
	if err := e.begin(info); err != nil {
		e.reject(op, info, err)
		return nil, err
	}

	// Step 3: Dispatch
	data, err := e.handle(msg)
	if err != nil {
		e.abort()
		e.reject(op, info, err)
		return nil, err
	}

	// Step 4: Commit ledger, then state
	batch, err := e.op.tx.Commit()
	if err != nil {
		e.abort()
		err = ledgerErr(err)
		e.reject(op, info, err)
		return nil, err
	}
	ctx := e.op
	touched := e.store.Commit()
	e.op = nil

	// Step 5: Envelopes, hash chain, outputs
	output := e.buildOutput(ctx, batch, touched)

	if err := e.postCheckInvariants(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	if len(output.Envelopes) > 0 {
		e.emit(output)
	}

	e.idempotency.MarkProcessed(info.RequestID)

	if e.metrics != nil {
		e.metrics.CoreOpsApplied.WithLabelValues(op).Inc()
		e.metrics.CoreOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		e.metrics.CoreSequence.Set(float64(e.sequence))
		e.metrics.VaultsOpen.Set(float64(e.store.Vaults.Len()))
		e.metrics.NormalizationFactor.Set(e.store.Global.NormalizationFactor.MustFloat64())
		e.metrics.ContinuationsActive.Set(0)
		if batch != nil {
			for _, j := range batch.Journals {
				e.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
			}
		}
	}

	return &Result{RequestID: info.RequestID, Sequence: e.sequence - 1, Data: data}, nil
}

func (e *Engine) handle(msg Msg) (interface{}, error) {
	if err := e.collectFunds(); err != nil {
		return nil, err
	}

	switch m := msg.(type) {
	case MsgMint:
		return e.mint(m)
	case MsgBurn:
		return e.burn(m)
	case MsgOpenShort:
		return e.openShort(m)
	case MsgCloseShort:
		return e.closeShort(m)
	case MsgDeposit:
		return nil, e.deposit(m)
	case MsgWithdraw:
		return nil, e.withdraw(m)
	case MsgLiquidate:
		return e.liquidate(m)
	case MsgApplyFunding:
		return e.applyFundingMsg()
	case MsgRemoveEmptyVaults:
		return e.removeEmptyVaults(m)
	case MsgUpdateConfig:
		return nil, e.updateConfig(m)
	case MsgPause:
		return nil, e.pause()
	case MsgUnpause:
		return nil, e.unpause()
	case MsgSetOpen:
		return nil, e.setOpen()
	case MsgProposeNewOwner:
		return nil, e.proposeNewOwner(m)
	case MsgRejectOwnerProposal:
		return nil, e.rejectOwnerProposal()
	case MsgClaimOwnership:
		return nil, e.claimOwnership()
	case MsgBankCredit:
		return nil, e.bankCredit(m)
	case MsgBankDebit:
		return nil, e.bankDebit(m)
	case MsgProvideLiquidity:
		return nil, e.provideLiquidity(m)
	default:
		return nil, errorsmod.Wrapf(state.ErrValidation, "unsupported message %T", msg)
	}
}

func (e *Engine) begin(info Info) error {
	if err := e.store.Global.CheckOperationTime(info.Time); err != nil {
		return err
	}
	if err := e.store.Begin(); err != nil {
		return err
	}
	e.store.Global.LastOperationTime = info.Time
	tx, err := e.ledger.Begin(info.RequestID, e.sequence, info.Time)
	if err != nil {
		e.store.Rollback()
		return errorsmod.Wrap(state.ErrState, err.Error())
	}
	e.op = &opContext{info: info, tx: tx}
	return nil
}

func (e *Engine) abort() {
	if e.op != nil {
		e.op.tx.Discard()
		e.op = nil
	}
	e.store.Rollback()
}

func (e *Engine) reject(op string, info Info, err error) {
	kind := state.KindOf(err)
	e.logger.Debug().
		Err(err).
		Str("op", op).
		Str("kind", kind.String()).
		Str("sender", info.Sender).
		Str("request_id", info.RequestID).
		Msg("operation rejected")
	if e.metrics != nil {
		e.metrics.CoreOpsRejected.WithLabelValues(op, kind.String()).Inc()
	}
}

// record queues a domain event for the current operation
func (e *Engine) record(evt event.Event) {
	e.op.events = append(e.op.events, evt)
}

func (e *Engine) sender() string { return e.op.info.Sender }
func (e *Engine) now() int64     { return e.op.info.Time }

func (e *Engine) buildOutput(ctx *opContext, batch *ledger.Batch, touched []uint64) CoreOutput {
	output := CoreOutput{
		Batch:  batch,
		Global: e.store.Global,
		Config: e.store.Config.Clone(),
		Owner:  e.store.Owner,
	}
	for _, id := range touched {
		if v, ok := e.store.Vaults.Get(id); ok {
			output.Vaults = append(output.Vaults, v)
		} else {
			output.Removed = append(output.Removed, id)
		}
	}

	digest := computeStateDigest(output.Vaults, output.Removed, output.Global, batch, e.ledger.Tracker())
	ts := time.Unix(ctx.info.Time, 0).UTC()

	output.Envelopes = make([]*event.EventEnvelope, 0, len(ctx.events))
	for _, evt := range ctx.events {
		payload, err := event.Encode(evt)
		if err != nil {
			panic(fmt.Sprintf("FATAL: encode %s: %v", evt.EventType(), err))
		}

		prev := e.hasher.GetPrevHash()
		stateHash := e.hasher.ComputeHash(e.sequence, append(append([]byte(nil), digest...), payload...))

		output.Envelopes = append(output.Envelopes, &event.EventEnvelope{
			Sequence:       e.sequence,
			IdempotencyKey: ctx.info.RequestID,
			EventType:      evt.EventType(),
			VaultID:        evt.VaultID(),
			Timestamp:      ts,
			Payload:        payload,
			StateHash:      stateHash,
			PrevHash:       prev,
		})
		e.sequence++
	}
	return output
}

// emit hands an output to the workers. Persistence uses a blocking send
// (backpressure); projections and publishing drop when their channel is full.
func (e *Engine) emit(output CoreOutput) {
	if e.persistChan != nil {
		e.persistChan <- output
	}
	if e.projectionChan != nil {
		select {
		case e.projectionChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.Inc()
			}
		}
	}
	if e.publishChan != nil {
		select {
		case e.publishChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}
}

// postCheckInvariants periodically audits the ledger and the vaults
func (e *Engine) postCheckInvariants() error {
	if e.sequence == 0 || e.sequence%invariantCheckInterval != 0 {
		return nil
	}
	return e.CheckInvariants()
}

// CheckInvariants verifies the ledger is zero-sum, no holder is overdrawn and
// the power asset's supply equals the total short exposure.
func (e *Engine) CheckInvariants() error {
	if err := e.ledger.Validator().ValidateGlobalBalance(); err != nil {
		return err
	}
	if err := e.ledger.Validator().ValidateHoldersNonNegative(); err != nil {
		return err
	}
	exposure := sdkmath.ZeroInt()
	for _, v := range e.store.Vaults.All() {
		exposure = exposure.Add(v.ShortExposure)
	}
	if supply := e.ledger.TotalSupply(e.store.Config.PowerAsset); !supply.Equal(exposure) {
		return fmt.Errorf("power supply %s differs from total short exposure %s", supply, exposure)
	}
	return nil
}

// --- Funds ---

// collectFunds moves the attached funds from the sender into engine custody
func (e *Engine) collectFunds() error {
	seen := make(map[string]struct{}, len(e.op.info.Funds))
	for _, c := range e.op.info.Funds {
		if c.Amount.IsNil() || !c.Amount.IsPositive() {
			return errorsmod.Wrapf(state.ErrValidation, "invalid funds %s", c)
		}
		if _, dup := seen[c.Denom]; dup {
			return errorsmod.Wrapf(state.ErrValidation, "duplicate funds denom %s", c.Denom)
		}
		seen[c.Denom] = struct{}{}
		if err := e.op.tx.Transfer(e.sender(), e.address, c.Denom, c.Amount); err != nil {
			return ledgerErr(err)
		}
	}
	return nil
}

// acceptFunds rejects attached funds in any denom not listed
func (e *Engine) acceptFunds(denoms ...string) error {
	for _, c := range e.op.info.Funds {
		ok := false
		for _, d := range denoms {
			if c.Denom == d {
				ok = true
				break
			}
		}
		if !ok {
			return errorsmod.Wrapf(state.ErrValidation, "invalid denom: %s not accepted here", c.Denom)
		}
	}
	return nil
}

// fundsOf returns the attached amount of denom
func (e *Engine) fundsOf(denom string) sdkmath.Int {
	for _, c := range e.op.info.Funds {
		if c.Denom == denom {
			return c.Amount
		}
	}
	return sdkmath.ZeroInt()
}

// collateralFunds returns the single collateral coin attached, if any,
// and the vault type its denom implies
func (e *Engine) collateralFunds() (*state.VaultType, sdkmath.Int, error) {
	cfg := &e.store.Config
	var (
		vt     *state.VaultType
		amount = sdkmath.ZeroInt()
	)
	for _, c := range e.op.info.Funds {
		t, err := cfg.VaultTypeFor(c.Denom)
		if err != nil {
			return nil, amount, err
		}
		if vt != nil {
			return nil, amount, errorsmod.Wrap(state.ErrValidation, "only one collateral denom may be attached")
		}
		vt, amount = &t, c.Amount
	}
	return vt, amount, nil
}

func ledgerErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errorsmod.IsOf(err, ledger.ErrInsufficientBalance):
		return errorsmod.Wrap(state.ErrInsufficientFunds, err.Error())
	case errorsmod.IsOf(err, ledger.ErrInvalidAmount):
		return errorsmod.Wrap(state.ErrValidation, err.Error())
	case state.KindOf(err) != state.KindInternal:
		return err
	default:
		return errorsmod.Wrap(state.ErrExternalCall, err.Error())
	}
}

func positive(amount sdkmath.Int) bool {
	return !amount.IsNil() && amount.IsPositive()
}

func optionalAmount(amount *sdkmath.Int) (sdkmath.Int, error) {
	if amount == nil || amount.IsNil() {
		return sdkmath.ZeroInt(), nil
	}
	if amount.IsNegative() {
		return sdkmath.Int{}, errorsmod.Wrapf(state.ErrValidation, "amount must not be negative: %s", amount)
	}
	return *amount, nil
}

func sortAccounts(accounts []ledger.AccountKey) {
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})
}

// --- Accessors ---

// Address returns the engine's custody account
func (e *Engine) Address() string {
	return e.address
}

// Store exposes the engine state for queries and tests. Mutate only through Execute.
func (e *Engine) Store() *state.Store {
	return e.store
}

// Ledger exposes the token ledger for queries and tests
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// GetSequence returns the next sequence to assign
func (e *Engine) GetSequence() int64 {
	return e.sequence
}

// GetStateHash returns the current state hash (chain tip)
func (e *Engine) GetStateHash() [32]byte {
	return e.hasher.GetPrevHash()
}

// WarmLRU loads recent request keys into the dedup cache
func (e *Engine) WarmLRU(keys []string) {
	e.idempotency.lru.WarmFromKeys(keys)
}
