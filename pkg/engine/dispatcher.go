package engine

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/valleyfi/perpengine/pkg/buffer"
	"github.com/valleyfi/perpengine/pkg/engine/logrecord"
	"github.com/valleyfi/perpengine/pkg/oracle"
	"github.com/valleyfi/perpengine/pkg/opauth"
	"github.com/valleyfi/perpengine/pkg/perrors"
	"github.com/valleyfi/perpengine/pkg/price"
	"github.com/valleyfi/perpengine/pkg/vault"
)

// Op is the one-byte operation discriminant (spec §6.2). Values match
// the spec's table exactly, including the gap at 7-15 reserved for the
// excluded "global" cross-market feature.
type Op uint8

const (
	OpCreateMarket Op = 0
	OpClaimSeat    Op = 1
	OpDeposit      Op = 2
	OpWithdraw     Op = 3
	OpSwap         Op = 4
	OpExpand       Op = 5
	OpBatchUpdate  Op = 6
	OpLiquidate    Op = 16
	OpCrankFunding Op = 17
	OpReleaseSeat  Op = 18
)

// PlaceRequest is one placement inside a BatchUpdate (spec §6.2 op 6).
type PlaceRequest struct {
	IsBid         bool
	PriceMantissa uint64
	PriceExponent int32
	NumBaseAtoms  uint64
	OrderType     buffer.OrderType
	LastValidSlot uint32
}

// Request is the single typed envelope the dispatcher consumes; Op
// selects which of the payload fields below are read. This plays the
// role spec §6.2's discriminant-byte-plus-parameter-blob plays in the
// original runtime, expressed as a Go struct instead of a borsh-style
// byte parse (the buffer itself is already the one place in this
// engine that earns literal byte layout; see pkg/storage).
type Request struct {
	Op     Op
	Trader common.Hash

	// Envelope/Signature authenticate every trader-facing op (Place
	// within BatchUpdate, the cancels within BatchUpdate, Withdraw,
	// Swap, ReleaseSeat). CreateMarket, Expand, Liquidate, and
	// CrankFunding are operator/crank ops and carry neither.
	Envelope  opauth.Envelope
	Signature []byte

	CreateMarket MarketParams
	Amount       uint64
	ExpandBlocks uint32
	Places       []PlaceRequest
	CancelSeqs   []uint64
	Swap         SwapParams
	Victim       common.Hash
	Now          int64
	Slot         uint32
}

// Dispatcher owns the one market buffer a series of operations mutate,
// plus its collaborators, and commits each operation only on success
// (spec §7: a failed operation rolls back the entire buffer). Dispatch
// holds mu for the duration of one operation, which is this package's
// expression of spec §5's "a single market buffer is mutated by at most
// one in-flight operation" scheduling model: concurrent callers queue on
// the mutex rather than racing the clone-then-commit swap.
type Dispatcher struct {
	mu sync.Mutex
	mb *buffer.MarketBuffer

	Oracle   oracle.Reader
	Vault    vault.TokenVault
	Verifier opauth.Verifier
	Log      *zap.SugaredLogger

	// OnFill and OnFunding, when set, are invoked after each successful
	// operation that produced fills (OnFill, once per fill) or ran a
	// funding crank (OnFunding, after every successful CrankFunding,
	// including a cold start that accrues nothing).
	// pkg/api subscribes these to drive its WebSocket broadcast; the
	// dispatcher itself has no notion of subscribers.
	OnFill    func(Fill)
	OnFunding func(mb *buffer.MarketBuffer)

	// pending accumulates the log/notify side effects of the operation
	// currently in flight. They touch the outside world (the log, the
	// subscriber hooks) and so must not fire until Dispatch knows the
	// whole operation committed — an op that fails halfway through must
	// leave no trace that it ever ran, the same way its buffer mutation
	// is discarded rather than partially applied (spec §7).
	pending []func()
}

func NewDispatcher(mb *buffer.MarketBuffer, reader oracle.Reader, tv vault.TokenVault, verifier opauth.Verifier, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{mb: mb, Oracle: reader, Vault: tv, Verifier: verifier, Log: logger}
}

// Buffer returns the dispatcher's current committed market buffer.
// Readers (pkg/api) take the same lock Dispatch holds so a read never
// observes a buffer mid-clone-swap.
func (d *Dispatcher) Buffer() *buffer.MarketBuffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mb
}

// verify checks req's signature (when the dispatcher has a Verifier
// configured) and that the recovered signer is the same trader the
// request claims to act for, tying opauth's 20-byte address identity
// to the engine's 32-byte seat identity the way go-ethereum's own
// common.Address.Hash() does.
func (d *Dispatcher) verify(req Request) error {
	if d.Verifier == nil {
		return nil
	}
	addr, err := d.Verifier.Verify(req.Envelope, req.Signature)
	if err != nil {
		return err
	}
	if addr.Hash() != req.Trader {
		return perrors.ErrBadSignature
	}
	return nil
}

// Dispatch decodes req.Op and runs the corresponding component flow
// against a cloned working copy of the buffer, publishing the clone
// back only if every step succeeds (spec §4.H, §7).
func (d *Dispatcher) Dispatch(req Request) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	clone := d.mb.Clone()
	d.pending = nil
	if err := d.dispatch(clone, req); err != nil {
		d.pending = nil
		return err
	}
	d.mb = clone
	pending := d.pending
	d.pending = nil
	for _, fn := range pending {
		fn()
	}
	return nil
}

func (d *Dispatcher) dispatch(mb *buffer.MarketBuffer, req Request) error {
	switch req.Op {
	case OpCreateMarket:
		return d.doCreateMarket(mb, req)
	case OpClaimSeat:
		return d.doClaimSeat(mb, req)
	case OpDeposit:
		return d.doDeposit(mb, req)
	case OpWithdraw:
		return d.doWithdraw(mb, req)
	case OpSwap:
		return d.doSwap(mb, req)
	case OpExpand:
		return d.doExpand(mb, req)
	case OpBatchUpdate:
		return d.doBatchUpdate(mb, req)
	case OpLiquidate:
		return d.doLiquidate(mb, req)
	case OpCrankFunding:
		return d.doCrankFunding(mb, req)
	case OpReleaseSeat:
		return d.doReleaseSeat(mb, req)
	default:
		return perrors.ErrUnknownDiscriminant
	}
}

// doCreateMarket replaces the dispatcher's buffer outright; it is only
// ever meaningful as the very first operation against a fresh
// Dispatcher. It builds a fresh buffer and copies it over the working
// clone in place, so Dispatch commits it like any other op.
func (d *Dispatcher) doCreateMarket(mb *buffer.MarketBuffer, req Request) error {
	fresh, err := CreateMarket(req.CreateMarket)
	if err != nil {
		return err
	}
	*mb = *fresh
	d.logEvent("create_market", logrecord.CreateMarket{
		OracleID:      req.CreateMarket.OracleID,
		BaseDecimals:  req.CreateMarket.BaseDecimals,
		QuoteDecimals: req.CreateMarket.QuoteDecimals,
	})
	return nil
}

func (d *Dispatcher) doClaimSeat(mb *buffer.MarketBuffer, req Request) error {
	idx, err := mb.ClaimSeat(req.Trader)
	if err != nil {
		return err
	}
	d.logEvent("claim_seat", logrecord.ClaimSeat{Trader: req.Trader, Seat: uint32(idx)})
	return nil
}

func (d *Dispatcher) doReleaseSeat(mb *buffer.MarketBuffer, req Request) error {
	if err := d.verify(req); err != nil {
		return err
	}
	if err := mb.ReleaseSeat(req.Trader); err != nil {
		return err
	}
	d.logEvent("release_seat", logrecord.ReleaseSeat{Trader: req.Trader})
	return nil
}

func (d *Dispatcher) doDeposit(mb *buffer.MarketBuffer, req Request) error {
	seatIdx := mb.FindSeat(req.Trader)
	if seatIdx == buffer.NilIndex {
		return perrors.ErrSeatNotFound
	}
	seat := mb.SeatAt(seatIdx)
	SettleFunding(mb, seat)
	if err := d.Vault.TransferIn(req.Trader, req.Amount); err != nil {
		return err
	}
	seat.QuoteWithdrawable += req.Amount
	d.logEvent("deposit", logrecord.Deposit{Trader: req.Trader, Seat: uint32(seatIdx), Amount: req.Amount})
	return nil
}

func (d *Dispatcher) doWithdraw(mb *buffer.MarketBuffer, req Request) error {
	if err := d.verify(req); err != nil {
		return err
	}
	seatIdx := mb.FindSeat(req.Trader)
	if seatIdx == buffer.NilIndex {
		return perrors.ErrSeatNotFound
	}
	seat := mb.SeatAt(seatIdx)
	SettleFunding(mb, seat)
	if req.Amount > seat.QuoteWithdrawable {
		return perrors.ErrInsufficientMargin
	}
	seat.QuoteWithdrawable -= req.Amount
	if err := CheckMaintenanceMargin(mb, seat); err != nil {
		return err
	}
	if err := d.Vault.TransferOut(req.Trader, req.Amount); err != nil {
		return err
	}
	d.logEvent("withdraw", logrecord.Withdraw{Trader: req.Trader, Seat: uint32(seatIdx), Amount: req.Amount})
	return nil
}

func (d *Dispatcher) doSwap(mb *buffer.MarketBuffer, req Request) error {
	if err := d.verify(req); err != nil {
		return err
	}
	result, err := Swap(mb, d.Vault, req.Trader, req.Swap)
	if err != nil {
		return err
	}
	d.logFills(result.Fills)
	return nil
}

func (d *Dispatcher) doExpand(mb *buffer.MarketBuffer, req Request) error {
	mb.Alloc.Expand(req.ExpandBlocks)
	return nil
}

func (d *Dispatcher) doBatchUpdate(mb *buffer.MarketBuffer, req Request) error {
	if err := d.verify(req); err != nil {
		return err
	}
	seatIdx := mb.FindSeat(req.Trader)
	if seatIdx == buffer.NilIndex {
		return perrors.ErrSeatNotFound
	}
	seat := mb.SeatAt(seatIdx)
	SettleFunding(mb, seat)

	for _, seq := range req.CancelSeqs {
		if err := CancelOrder(mb, seatIdx, seq); err != nil {
			return err
		}
		d.logEvent("cancel", logrecord.Cancel{Trader: req.Trader, Seat: uint32(seatIdx), SequenceNumber: seq})
	}

	for _, pr := range req.Places {
		result, err := Place(mb, PlaceParams{
			TraderSeat:    seatIdx,
			IsBid:         pr.IsBid,
			Price:         price.FromMantissaExponent(pr.PriceMantissa, pr.PriceExponent),
			NumBaseAtoms:  pr.NumBaseAtoms,
			OrderType:     pr.OrderType,
			LastValidSlot: pr.LastValidSlot,
			CurrentSlot:   req.Slot,
		})
		if err != nil {
			return err
		}
		d.logFills(result.Fills)
		d.logEvent("place_order", logrecord.PlaceOrder{
			Trader:         req.Trader,
			Seat:           uint32(seatIdx),
			PostTradeIndex: uint32(result.OrderIndex),
			IsBid:          pr.IsBid,
			NumBaseAtoms:   pr.NumBaseAtoms,
		})
		if err := CheckInitialMargin(mb, seat); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) doLiquidate(mb *buffer.MarketBuffer, req Request) error {
	liquidatorIdx := mb.FindSeat(req.Trader)
	if liquidatorIdx == buffer.NilIndex {
		return perrors.ErrSeatNotFound
	}
	result, err := Liquidate(mb, liquidatorIdx, req.Victim, req.Now)
	if err != nil {
		return err
	}
	d.logEvent("liquidate", logrecord.Liquidate{
		Victim:          req.Victim,
		Liquidator:      req.Trader,
		ClosedBaseAtoms: result.ClosedBaseAtoms,
		SettlementPrice: result.SettlementPrice.String(),
		RealizedPnL:     result.RealizedPnL,
	})
	return nil
}

func (d *Dispatcher) doCrankFunding(mb *buffer.MarketBuffer, req Request) error {
	before := mb.CumulativeFunding
	if err := CrankFunding(mb, d.Oracle, req.Now); err != nil {
		return err
	}
	d.logEvent("funding_crank", logrecord.FundingCrank{
		OracleMantissa: mb.OraclePriceMantissa,
		OracleExponent: mb.OraclePriceExponent,
		Rate:           mb.CumulativeFunding - before,
		Timestamp:      mb.LastFundingTimestamp,
	})
	if d.OnFunding != nil {
		snapshot := mb
		d.pending = append(d.pending, func() { d.OnFunding(snapshot) })
	}
	return nil
}

func (d *Dispatcher) logFills(fills []Fill) {
	for _, f := range fills {
		d.logEvent("fill", logrecord.Fill{
			MakerSeq:   f.MakerSeq,
			TakerSeq:   f.TakerSeq,
			BaseAtoms:  f.BaseAtoms,
			QuoteAtoms: f.QuoteAtoms,
			Price:      f.Price.String(),
			TakerIsBuy: f.TakerIsBid,
		})
		if d.OnFill != nil {
			fill := f
			d.pending = append(d.pending, func() { d.OnFill(fill) })
		}
	}
}

func (d *Dispatcher) logEvent(kind string, record interface{}) {
	if d.Log == nil {
		return
	}
	d.pending = append(d.pending, func() {
		d.Log.Infow(fmt.Sprintf("engine.%s", kind), "record", record)
	})
}
