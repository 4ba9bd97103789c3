package buffer

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/valleyfi/perpengine/pkg/perrors"
	"github.com/valleyfi/perpengine/pkg/price"
)

func testHeader() Header {
	return Header{
		BaseDecimals:         9,
		QuoteDecimals:        6,
		InitialMarginBps:     1000,
		MaintenanceMarginBps: 500,
		LiquidationBufferBps: 200,
		TakerFeeBps:          10,
		OracleID:             common.HexToHash("0xaa"),
	}
}

func TestClaimAndReleaseSeat(t *testing.T) {
	mb := New(testHeader(), 8)
	trader := common.HexToHash("0x1")

	idx, err := mb.ClaimSeat(trader)
	if err != nil {
		t.Fatalf("ClaimSeat: %v", err)
	}
	if mb.FindSeat(trader) != idx {
		t.Fatalf("FindSeat did not return the claimed index")
	}
	if _, err := mb.ClaimSeat(trader); err != perrors.ErrSeatExists {
		t.Fatalf("second ClaimSeat: got %v, want ErrSeatExists", err)
	}

	if err := mb.ReleaseSeat(trader); err != nil {
		t.Fatalf("ReleaseSeat: %v", err)
	}
	if mb.FindSeat(trader) != NilIndex {
		t.Fatalf("seat still found after release")
	}
}

func TestReleaseSeatNotEmpty(t *testing.T) {
	mb := New(testHeader(), 8)
	trader := common.HexToHash("0x1")
	idx, _ := mb.ClaimSeat(trader)
	mb.SeatAt(idx).QuoteWithdrawable = 100

	if err := mb.ReleaseSeat(trader); err != perrors.ErrSeatNotEmpty {
		t.Fatalf("ReleaseSeat on funded seat: got %v, want ErrSeatNotEmpty", err)
	}
}

func TestReleaseSeatRejectsRestingOrder(t *testing.T) {
	mb := New(testHeader(), 8)
	trader := common.HexToHash("0x1")
	idx, _ := mb.ClaimSeat(trader)

	orderIdx, err := mb.InsertOrder(RestingOrder{
		TraderSeatIndex: idx,
		SequenceNumber:  mb.NextSeq(),
		Price:           price.FromMantissaExponent(100, 0),
		NumBaseAtoms:    5,
		IsBid:           true,
	})
	if err != nil {
		t.Fatalf("InsertOrder: %v", err)
	}

	if err := mb.ReleaseSeat(trader); err != perrors.ErrSeatNotEmpty {
		t.Fatalf("ReleaseSeat with a resting order: got %v, want ErrSeatNotEmpty", err)
	}

	mb.RemoveOrder(orderIdx)
	if err := mb.ReleaseSeat(trader); err != nil {
		t.Fatalf("ReleaseSeat after the resting order is gone: %v", err)
	}
}

func TestBestBidAskTracking(t *testing.T) {
	mb := New(testHeader(), 8)

	lowBid, _ := mb.InsertOrder(RestingOrder{IsBid: true, Price: price.FromMantissaExponent(100, 0), SequenceNumber: 1})
	highBid, _ := mb.InsertOrder(RestingOrder{IsBid: true, Price: price.FromMantissaExponent(200, 0), SequenceNumber: 2})

	if mb.BestBid() != highBid {
		t.Fatalf("BestBid = %v, want the higher-priced order %v", mb.BestBid(), highBid)
	}

	mb.RemoveOrder(highBid)
	if mb.BestBid() != lowBid {
		t.Fatalf("BestBid after removing the top order = %v, want %v", mb.BestBid(), lowBid)
	}

	mb.RemoveOrder(lowBid)
	if mb.BestBid() != NilIndex {
		t.Fatalf("BestBid on empty side = %v, want NilIndex", mb.BestBid())
	}
}

func TestAllocatorExhaustionAndExpand(t *testing.T) {
	mb := New(testHeader(), 1)
	if _, err := mb.ClaimSeat(common.HexToHash("0x1")); err != nil {
		t.Fatalf("first ClaimSeat: %v", err)
	}
	if _, err := mb.ClaimSeat(common.HexToHash("0x2")); err != perrors.ErrNoFreeBlock {
		t.Fatalf("ClaimSeat on exhausted allocator: got %v, want ErrNoFreeBlock", err)
	}

	mb.Alloc.Expand(1)
	if _, err := mb.ClaimSeat(common.HexToHash("0x2")); err != nil {
		t.Fatalf("ClaimSeat after Expand: %v", err)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	mb := New(testHeader(), 8)
	trader := common.HexToHash("0x1")
	idx, _ := mb.ClaimSeat(trader)
	mb.SeatAt(idx).QuoteWithdrawable = 50

	clone := mb.Clone()
	clone.SeatAt(idx).QuoteWithdrawable = 999

	if mb.SeatAt(idx).QuoteWithdrawable != 50 {
		t.Fatalf("mutating the clone changed the original: got %d, want 50", mb.SeatAt(idx).QuoteWithdrawable)
	}

	if _, err := clone.ClaimSeat(common.HexToHash("0x2")); err != nil {
		t.Fatalf("ClaimSeat on clone: %v", err)
	}
	if mb.FindSeat(common.HexToHash("0x2")) != NilIndex {
		t.Fatalf("seat claimed on the clone leaked into the original")
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	h := testHeader()
	h.CumulativeFunding = 42
	mb := New(h, 16)

	t1 := common.HexToHash("0x1")
	t2 := common.HexToHash("0x2")
	s1, _ := mb.ClaimSeat(t1)
	_, _ = mb.ClaimSeat(t2)
	mb.SeatAt(s1).PositionSize = 500
	mb.SeatAt(s1).QuoteCostBasis = 1234

	bidIdx, _ := mb.InsertOrder(RestingOrder{
		TraderSeatIndex: s1,
		SequenceNumber:  mb.NextSeq(),
		Price:           price.FromMantissaExponent(150, 0),
		NumBaseAtoms:    7,
		IsBid:           true,
	})
	_, _ = mb.InsertOrder(RestingOrder{
		TraderSeatIndex: s1,
		SequenceNumber:  mb.NextSeq(),
		Price:           price.FromMantissaExponent(160, 0),
		NumBaseAtoms:    3,
		IsBid:           false,
	})

	snapHeader, blocks := mb.Snapshot()
	restored := Restore(snapHeader, blocks)

	if restored.CumulativeFunding != 42 {
		t.Fatalf("restored header lost CumulativeFunding: got %d", restored.CumulativeFunding)
	}
	if restored.NumSeats() != mb.NumSeats() || restored.NumBids() != mb.NumBids() || restored.NumAsks() != mb.NumAsks() {
		t.Fatalf("restored tree sizes differ from original: seats %d/%d bids %d/%d asks %d/%d",
			restored.NumSeats(), mb.NumSeats(), restored.NumBids(), mb.NumBids(), restored.NumAsks(), mb.NumAsks())
	}
	if restored.FindSeat(t1) == NilIndex || restored.FindSeat(t2) == NilIndex {
		t.Fatalf("restored buffer lost a seat")
	}
	if restored.BestBid() == NilIndex || restored.OrderAt(restored.BestBid()).NumBaseAtoms != mb.OrderAt(bidIdx).NumBaseAtoms {
		t.Fatalf("restored best bid does not match original")
	}
}
