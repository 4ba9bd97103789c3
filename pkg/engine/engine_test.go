package engine

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/valleyfi/perpengine/pkg/buffer"
	"github.com/valleyfi/perpengine/pkg/perrors"
	"github.com/valleyfi/perpengine/pkg/price"
)

func newTestMarket(t *testing.T) *buffer.MarketBuffer {
	t.Helper()
	mb, err := CreateMarket(MarketParams{
		BaseDecimals:         9,
		QuoteDecimals:        6,
		InitialMarginBps:     1000,
		MaintenanceMarginBps: 500,
		LiquidationBufferBps: 200,
		TakerFeeBps:          10,
		OracleID:             common.HexToHash("0xaa"),
		InitialBlocks:        64,
	})
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	return mb
}

func seatWithMargin(t *testing.T, mb *buffer.MarketBuffer, trader common.Hash, margin uint64) buffer.Index {
	t.Helper()
	idx, err := mb.ClaimSeat(trader)
	if err != nil {
		t.Fatalf("ClaimSeat(%s): %v", trader.Hex(), err)
	}
	mb.SeatAt(idx).QuoteWithdrawable = margin
	return idx
}

func TestPlaceMatchesRestingOrder(t *testing.T) {
	mb := newTestMarket(t)
	maker := seatWithMargin(t, mb, common.HexToHash("0x1"), 1_000_000)
	taker := seatWithMargin(t, mb, common.HexToHash("0x2"), 1_000_000)

	_, err := Place(mb, PlaceParams{
		TraderSeat:   maker,
		IsBid:        false,
		Price:        price.FromMantissaExponent(100, 0),
		NumBaseAtoms: 10,
		OrderType:    buffer.Limit,
	})
	if err != nil {
		t.Fatalf("maker Place: %v", err)
	}

	result, err := Place(mb, PlaceParams{
		TraderSeat:   taker,
		IsBid:        true,
		Price:        price.FromMantissaExponent(100, 0),
		NumBaseAtoms: 4,
		OrderType:    buffer.ImmediateOrCancel,
	})
	if err != nil {
		t.Fatalf("taker Place: %v", err)
	}
	if len(result.Fills) != 1 || result.Fills[0].BaseAtoms != 4 {
		t.Fatalf("unexpected fills: %+v", result.Fills)
	}
	if mb.SeatAt(taker).PositionSize != 4 {
		t.Fatalf("taker position = %d, want 4", mb.SeatAt(taker).PositionSize)
	}
	if mb.SeatAt(maker).PositionSize != -4 {
		t.Fatalf("maker position = %d, want -4", mb.SeatAt(maker).PositionSize)
	}
	if mb.OrderAt(mb.BestAsk()).NumBaseAtoms != 6 {
		t.Fatalf("resting maker order should have 6 left, got %d", mb.OrderAt(mb.BestAsk()).NumBaseAtoms)
	}
}

func TestPlacePostOnlyRejectedWhenCrossing(t *testing.T) {
	mb := newTestMarket(t)
	maker := seatWithMargin(t, mb, common.HexToHash("0x1"), 1_000_000)
	taker := seatWithMargin(t, mb, common.HexToHash("0x2"), 1_000_000)

	if _, err := Place(mb, PlaceParams{
		TraderSeat: maker, IsBid: false,
		Price: price.FromMantissaExponent(100, 0), NumBaseAtoms: 10, OrderType: buffer.Limit,
	}); err != nil {
		t.Fatalf("maker Place: %v", err)
	}

	_, err := Place(mb, PlaceParams{
		TraderSeat: taker, IsBid: true,
		Price: price.FromMantissaExponent(100, 0), NumBaseAtoms: 4, OrderType: buffer.PostOnly,
	})
	if err != perrors.ErrPostOnlyCrossed {
		t.Fatalf("PostOnly crossing: got %v, want ErrPostOnlyCrossed", err)
	}
}

func TestSelfTradeSkipsOwnOrder(t *testing.T) {
	mb := newTestMarket(t)
	trader := seatWithMargin(t, mb, common.HexToHash("0x1"), 1_000_000)

	if _, err := Place(mb, PlaceParams{
		TraderSeat: trader, IsBid: false,
		Price: price.FromMantissaExponent(100, 0), NumBaseAtoms: 10, OrderType: buffer.Limit,
	}); err != nil {
		t.Fatalf("resting Place: %v", err)
	}

	result, err := Place(mb, PlaceParams{
		TraderSeat: trader, IsBid: true,
		Price: price.FromMantissaExponent(100, 0), NumBaseAtoms: 4, OrderType: buffer.ImmediateOrCancel,
	})
	if err != nil {
		t.Fatalf("self-trade Place: %v", err)
	}
	if len(result.Fills) != 0 {
		t.Fatalf("self-trade should not fill: %+v", result.Fills)
	}
}

func TestCancelOrder(t *testing.T) {
	mb := newTestMarket(t)
	trader := seatWithMargin(t, mb, common.HexToHash("0x1"), 1_000_000)

	result, err := Place(mb, PlaceParams{
		TraderSeat: trader, IsBid: true,
		Price: price.FromMantissaExponent(100, 0), NumBaseAtoms: 4, OrderType: buffer.Limit,
	})
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	seq := mb.OrderAt(result.OrderIndex).SequenceNumber

	if err := CancelOrder(mb, trader, seq); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if mb.BestBid() != buffer.NilIndex {
		t.Fatalf("order still resting after cancel")
	}
	if err := CancelOrder(mb, trader, seq); err != perrors.ErrOrderNotFound {
		t.Fatalf("double cancel: got %v, want ErrOrderNotFound", err)
	}
}

func TestCheckInitialMarginRejectsUndercollateralized(t *testing.T) {
	mb := newTestMarket(t)
	maker := seatWithMargin(t, mb, common.HexToHash("0x1"), 1_000_000)
	taker := seatWithMargin(t, mb, common.HexToHash("0x2"), 1) // essentially no margin

	if _, err := Place(mb, PlaceParams{
		TraderSeat: maker, IsBid: false,
		Price: price.FromMantissaExponent(100, 0), NumBaseAtoms: 20_000, OrderType: buffer.Limit,
	}); err != nil {
		t.Fatalf("maker Place: %v", err)
	}
	if _, err := Place(mb, PlaceParams{
		TraderSeat: taker, IsBid: true,
		Price: price.FromMantissaExponent(100, 0), NumBaseAtoms: 10_000, OrderType: buffer.ImmediateOrCancel,
	}); err != nil {
		t.Fatalf("taker Place: %v", err)
	}

	if err := CheckInitialMargin(mb, mb.SeatAt(taker)); err != perrors.ErrInsufficientMargin {
		t.Fatalf("CheckInitialMargin: got %v, want ErrInsufficientMargin", err)
	}
}

func TestLiquidateClosesUndercollateralizedPosition(t *testing.T) {
	mb := newTestMarket(t)
	mb.OraclePriceMantissa = 100
	mb.OraclePriceExponent = 0
	mb.LastFundingTimestamp = 1000

	maker := seatWithMargin(t, mb, common.HexToHash("0x1"), 10_000_000)
	victim := seatWithMargin(t, mb, common.HexToHash("0x2"), 600) // thin margin
	liquidator := seatWithMargin(t, mb, common.HexToHash("0x3"), 1_000_000)

	if _, err := Place(mb, PlaceParams{
		TraderSeat: maker, IsBid: false,
		Price: price.FromMantissaExponent(100, 0), NumBaseAtoms: 10_000, OrderType: buffer.Limit,
	}); err != nil {
		t.Fatalf("maker Place: %v", err)
	}
	if _, err := Place(mb, PlaceParams{
		TraderSeat: victim, IsBid: true,
		Price: price.FromMantissaExponent(100, 0), NumBaseAtoms: 10_000, OrderType: buffer.ImmediateOrCancel,
	}); err != nil {
		t.Fatalf("victim Place: %v", err)
	}

	result, err := Liquidate(mb, liquidator, common.HexToHash("0x2"), 1100)
	if err != nil {
		t.Fatalf("Liquidate: %v", err)
	}
	if result.ClosedBaseAtoms == 0 {
		t.Fatalf("expected a partial or full close, got 0 closed base atoms")
	}
	if abs64(mb.SeatAt(victim).PositionSize) >= 10_000 {
		t.Fatalf("victim position was not reduced: %d", mb.SeatAt(victim).PositionSize)
	}
}

func TestLiquidateRejectsSelfLiquidation(t *testing.T) {
	mb := newTestMarket(t)
	mb.LastFundingTimestamp = 1000
	victim := seatWithMargin(t, mb, common.HexToHash("0x1"), 100)
	mb.SeatAt(victim).PositionSize = 1

	if _, err := Liquidate(mb, victim, common.HexToHash("0x1"), 1100); err != perrors.ErrSelfLiquidation {
		t.Fatalf("self-liquidation: got %v, want ErrSelfLiquidation", err)
	}
}

func TestDispatcherRollsBackOnFailure(t *testing.T) {
	mb := newTestMarket(t)
	disp := NewDispatcher(mb, nil, nil, nil, nil)

	trader := common.HexToHash("0x1")
	if err := disp.Dispatch(Request{Op: OpClaimSeat, Trader: trader}); err != nil {
		t.Fatalf("ClaimSeat: %v", err)
	}
	before := disp.Buffer()

	// BatchUpdate against an unknown trader fails inside the dispatch,
	// after the clone already exists; the dispatcher must not publish it.
	err := disp.Dispatch(Request{
		Op:     OpBatchUpdate,
		Trader: common.HexToHash("0x2"),
	})
	if err != perrors.ErrSeatNotFound {
		t.Fatalf("expected ErrSeatNotFound, got %v", err)
	}
	if disp.Buffer() != before {
		t.Fatalf("dispatcher published a buffer from a failed operation")
	}
}

func TestDispatcherNotifiesOnlyOnCommit(t *testing.T) {
	mb := newTestMarket(t)
	disp := NewDispatcher(mb, nil, nil, nil, nil)

	makerTrader := common.HexToHash("0x1")
	takerTrader := common.HexToHash("0x2")
	if err := disp.Dispatch(Request{Op: OpClaimSeat, Trader: makerTrader}); err != nil {
		t.Fatalf("ClaimSeat(maker): %v", err)
	}
	if err := disp.Dispatch(Request{Op: OpClaimSeat, Trader: takerTrader}); err != nil {
		t.Fatalf("ClaimSeat(taker): %v", err)
	}
	disp.Buffer().SeatAt(disp.Buffer().FindSeat(makerTrader)).QuoteWithdrawable = 1_000_000
	disp.Buffer().SeatAt(disp.Buffer().FindSeat(takerTrader)).QuoteWithdrawable = 1

	if err := disp.Dispatch(Request{
		Op:     OpBatchUpdate,
		Trader: makerTrader,
		Places: []PlaceRequest{{
			IsBid: false, PriceMantissa: 100, PriceExponent: 0, NumBaseAtoms: 10_000,
		}},
	}); err != nil {
		t.Fatalf("maker BatchUpdate: %v", err)
	}

	fired := 0
	disp.OnFill = func(Fill) { fired++ }

	// The taker has almost no margin; the fill happens but the initial
	// margin check afterward fails, so the whole operation rolls back —
	// OnFill must not have fired for the discarded fill.
	err := disp.Dispatch(Request{
		Op:     OpBatchUpdate,
		Trader: takerTrader,
		Places: []PlaceRequest{{
			IsBid: true, PriceMantissa: 100, PriceExponent: 0, NumBaseAtoms: 5_000,
			OrderType: buffer.ImmediateOrCancel,
		}},
	})
	if err != perrors.ErrInsufficientMargin {
		t.Fatalf("expected ErrInsufficientMargin, got %v", err)
	}
	if fired != 0 {
		t.Fatalf("OnFill fired %d times for a fill that was rolled back", fired)
	}

	disp.Buffer().SeatAt(disp.Buffer().FindSeat(takerTrader)).QuoteWithdrawable = 1_000_000
	if err := disp.Dispatch(Request{
		Op:     OpBatchUpdate,
		Trader: takerTrader,
		Places: []PlaceRequest{{
			IsBid: true, PriceMantissa: 100, PriceExponent: 0, NumBaseAtoms: 10,
			OrderType: buffer.ImmediateOrCancel,
		}},
	}); err != nil {
		t.Fatalf("successful taker BatchUpdate: %v", err)
	}
	if fired != 1 {
		t.Fatalf("OnFill fired %d times, want 1 for the committed fill", fired)
	}
}
