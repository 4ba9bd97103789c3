package engine

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/valleyfi/perpengine/pkg/buffer"
	"github.com/valleyfi/perpengine/pkg/oracle"
	"github.com/valleyfi/perpengine/pkg/perrors"
	"github.com/valleyfi/perpengine/pkg/vault"
)

// checkInvariants asserts the properties that must hold after every
// operation regardless of which random sequence produced the buffer:
// every block is exactly one of free/occupied (never double-counted),
// no two distinct traders share a seat, the book is never crossed
// between two different seats, and positions sum to zero.
func checkInvariants(t *testing.T, mb *buffer.MarketBuffer, traders []common.Hash) {
	t.Helper()

	occupied := mb.Alloc.TotalBlocks() - mb.Alloc.NumFreeBlocks()
	wantOccupied := uint32(mb.NumSeats() + mb.NumBids() + mb.NumAsks())
	if occupied != wantOccupied {
		t.Fatalf("block conservation violated: %d blocks occupied, tree sizes sum to %d", occupied, wantOccupied)
	}

	seen := make(map[buffer.Index]common.Hash)
	for _, trader := range traders {
		idx := mb.FindSeat(trader)
		if idx == buffer.NilIndex {
			continue
		}
		if other, ok := seen[idx]; ok {
			t.Fatalf("seat %d claimed by both %s and %s", idx, other.Hex(), trader.Hex())
		}
		seen[idx] = trader
	}

	// A taker skips its own resting orders (self-trade) and its remainder
	// may then rest at a price crossing them; every other crossing maker
	// is consumed first. So a crossed top of book is only ever one seat's
	// own bid and ask.
	bestBid, bestAsk := mb.BestBid(), mb.BestAsk()
	if bestBid != buffer.NilIndex && bestAsk != buffer.NilIndex {
		bid, ask := mb.OrderAt(bestBid), mb.OrderAt(bestAsk)
		if bid.Price.Cmp(ask.Price) >= 0 && bid.TraderSeatIndex != ask.TraderSeatIndex {
			t.Fatalf("book is crossed between seats %d and %d: best bid %s >= best ask %s",
				bid.TraderSeatIndex, ask.TraderSeatIndex, bid.Price.String(), ask.Price.String())
		}
	}

	var sumPositions int64
	for _, trader := range traders {
		idx := mb.FindSeat(trader)
		if idx == buffer.NilIndex {
			continue
		}
		sumPositions += mb.SeatAt(idx).PositionSize
	}
	if sumPositions != 0 {
		t.Fatalf("positions are not zero-sum: total %d", sumPositions)
	}
}

// TestRandomizedOperationSequenceInvariants runs a long, seeded sequence
// of claim/deposit/place/cancel/release/crank operations through the
// dispatcher and checks the invariants above after every step. Swap and
// Liquidate are excluded: both intentionally break the zero-sum position
// check above (a swap settles against the vault, a liquidation closes a
// position without a matching counter-order). Liquidate has its own
// targeted tests in engine_test.go; Swap has no test of its own.
func TestRandomizedOperationSequenceInvariants(t *testing.T) {
	mb := newTestMarket(t)
	tv := vault.NewMemVault()
	reader := oracle.StaticReader{Quote: oracle.Quote{Mantissa: 100, Exponent: 0, Status: oracle.StatusTrading}}
	disp := NewDispatcher(mb, reader, tv, nil, nil)

	const numTraders = 6
	traders := make([]common.Hash, numTraders)
	for i := range traders {
		traders[i] = common.HexToHash(fmt.Sprintf("0x%d", i+1))
		if err := disp.Dispatch(Request{Op: OpClaimSeat, Trader: traders[i]}); err != nil {
			t.Fatalf("ClaimSeat(%d): %v", i, err)
		}
		tv.Fund(traders[i], 10_000_000)
		if err := disp.Dispatch(Request{Op: OpDeposit, Trader: traders[i], Amount: 5_000_000}); err != nil {
			t.Fatalf("Deposit(%d): %v", i, err)
		}
		checkInvariants(t, disp.Buffer(), traders)
	}

	rng := rand.New(rand.NewSource(1))
	var now int64 = 1000

	for step := 0; step < 500; step++ {
		trader := traders[rng.Intn(numTraders)]

		switch rng.Intn(4) {
		case 0, 1:
			// Place a resting or IOC order at a price near 100, small
			// enough relative to the 5,000,000-atom deposit that initial
			// margin never binds (keeps this loop about book/allocator
			// invariants rather than margin-rejection bookkeeping).
			isBid := rng.Intn(2) == 0
			priceOffset := int64(rng.Intn(21) - 10) // 90..110
			size := uint64(1 + rng.Intn(50))
			orderType := buffer.Limit
			if rng.Intn(3) == 0 {
				orderType = buffer.ImmediateOrCancel
			}
			err := disp.Dispatch(Request{
				Op:     OpBatchUpdate,
				Trader: trader,
				Places: []PlaceRequest{{
					IsBid:         isBid,
					PriceMantissa: uint64(100 + priceOffset),
					PriceExponent: 0,
					NumBaseAtoms:  size,
					OrderType:     orderType,
				}},
			})
			if err != nil && !isExpectedPlaceRejection(err) {
				t.Fatalf("step %d: unexpected Place error for %s: %v", step, trader.Hex(), err)
			}
		case 2:
			// Cancel whichever sequence number is currently resting for
			// this trader, if any; a miss returns ErrOrderNotFound, which
			// is an expected outcome of picking a stale sequence number at
			// random rather than tracking each trader's open orders.
			seq := uint64(rng.Intn(step + 1))
			err := disp.Dispatch(Request{
				Op:         OpBatchUpdate,
				Trader:     trader,
				CancelSeqs: []uint64{seq},
			})
			if err != nil && !isExpectedCancelRejection(err) {
				t.Fatalf("step %d: unexpected Cancel error for %s: %v", step, trader.Hex(), err)
			}
		case 3:
			// Attempt to release the seat outright. Almost always rejected
			// with ErrSeatNotEmpty (balance, position, or a resting order
			// still present); on the rare step where the trader happens to
			// be fully flat with no resting orders, the release succeeds,
			// so re-claim and re-fund immediately to keep this trader
			// available for the rest of the walk.
			err := disp.Dispatch(Request{Op: OpReleaseSeat, Trader: trader})
			switch err {
			case nil:
				if err := disp.Dispatch(Request{Op: OpClaimSeat, Trader: trader}); err != nil {
					t.Fatalf("step %d: re-ClaimSeat after release for %s: %v", step, trader.Hex(), err)
				}
				tv.Fund(trader, 5_000_000)
				if err := disp.Dispatch(Request{Op: OpDeposit, Trader: trader, Amount: 5_000_000}); err != nil {
					t.Fatalf("step %d: re-Deposit after release for %s: %v", step, trader.Hex(), err)
				}
			case perrors.ErrSeatNotEmpty:
				// expected
			default:
				t.Fatalf("step %d: unexpected ReleaseSeat error for %s: %v", step, trader.Hex(), err)
			}
		}

		if step%50 == 49 {
			now += FundingPeriodSeconds
			if err := disp.Dispatch(Request{Op: OpCrankFunding, Now: now}); err != nil {
				t.Fatalf("step %d: CrankFunding: %v", step, err)
			}
		}

		checkInvariants(t, disp.Buffer(), traders)
	}
}

// isExpectedPlaceRejection reports whether err is a rejection Place can
// legitimately return for an order sized well within margin:
// CheckInitialMargin can still reject once accumulated positions and
// funding payments eat into a trader's withdrawable balance over
// hundreds of steps; the allocator can run out of blocks once enough
// orders rest at once; and before the first funding crank caches an
// oracle price, a trade that empties both sides of the book leaves no
// mark price for the immediately following margin check.
func isExpectedPlaceRejection(err error) bool {
	switch err {
	case perrors.ErrInsufficientMargin, perrors.ErrNoFreeBlock, perrors.ErrNoMarkPrice:
		return true
	default:
		return false
	}
}

// isExpectedCancelRejection reports whether err is a rejection Cancel can
// legitimately return when the loop guesses a sequence number that is
// not currently resting (already filled, already canceled, or never
// issued by this trader).
func isExpectedCancelRejection(err error) bool {
	switch err {
	case perrors.ErrOrderNotFound:
		return true
	default:
		return false
	}
}
