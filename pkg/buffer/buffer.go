package buffer

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/valleyfi/perpengine/pkg/perrors"
	"github.com/valleyfi/perpengine/pkg/price"
)

// Header is the fixed, single-instance part of the market buffer (spec
// §3.1): market identity, parameters, the oracle cache, the funding
// counter, and the roots of every intrusive structure living in the
// dynamic region.
type Header struct {
	BaseMintIndex uint8
	QuoteMint     common.Hash
	BaseDecimals  uint8
	QuoteDecimals uint8

	InitialMarginBps     uint64
	MaintenanceMarginBps uint64
	LiquidationBufferBps uint64
	TakerFeeBps          uint64

	OracleID            common.Hash
	OraclePriceMantissa uint64
	OraclePriceExponent int32

	CumulativeFunding    int64
	LastFundingTimestamp int64

	InsuranceFund uint64

	TotalLongBaseAtoms  uint64
	TotalShortBaseAtoms uint64

	NextSequence uint64
}

// MarketBuffer is the single contiguous region described by spec §3.1:
// one Header plus the dynamic region's allocator and the three
// intrusive trees (seats, bids, asks) that overlay it. Every write
// operation in pkg/engine loads one of these, mutates it in place, and
// returns; there is no persistence beyond this struct (spec §1
// Non-goals) except the harness-level snapshot store in pkg/storage.
type MarketBuffer struct {
	Header

	Alloc *Allocator

	Seats *Tree
	Bids  *Tree
	Asks  *Tree

	bidsBest Index
	asksBest Index
}

// New creates a market buffer with numBlocks blocks in its dynamic
// region, all free, and empty seat/bid/ask trees (spec §6.2 CreateMarket).
func New(h Header, numBlocks uint32) *MarketBuffer {
	mb := &MarketBuffer{
		Header:   h,
		Alloc:    NewAllocator(numBlocks),
		bidsBest: NilIndex,
		asksBest: NilIndex,
	}
	mb.Seats = NewTree(seatLess)
	mb.Bids = NewTree(bidLess)
	mb.Asks = NewTree(askLess)
	return mb
}

// --- Seat table (spec §4.C) ---

func seatLess(a *Allocator, i, j Index) bool {
	si, sj := &a.slots[i].seat, &a.slots[j].seat
	return si.Trader.Big().Cmp(sj.Trader.Big()) < 0
}

// ClaimSeat allocates a block, writes an empty seat for trader, and
// inserts it into the seat tree. Fails with ErrSeatExists if the trader
// already holds a seat, or ErrNoFreeBlock if the allocator is exhausted.
func (mb *MarketBuffer) ClaimSeat(trader common.Hash) (Index, error) {
	if mb.FindSeat(trader) != NilIndex {
		return NilIndex, perrors.ErrSeatExists
	}
	idx, err := mb.Alloc.allocate(TagSeat)
	if err != nil {
		return NilIndex, err
	}
	s := &mb.Alloc.slots[idx]
	s.whichTree = treeSeats
	s.seat = Seat{Trader: trader}
	mb.Seats.Insert(mb.Alloc, idx)
	return idx, nil
}

// ReleaseSeat removes and frees trader's seat. Fails with ErrSeatNotFound
// if absent, or ErrSeatNotEmpty if the seat still carries balance,
// position, or resting orders.
func (mb *MarketBuffer) ReleaseSeat(trader common.Hash) error {
	idx := mb.FindSeat(trader)
	if idx == NilIndex {
		return perrors.ErrSeatNotFound
	}
	seat := mb.SeatAt(idx)
	if !seat.IsFlat() || mb.hasRestingOrders(idx) {
		return perrors.ErrSeatNotEmpty
	}
	mb.Seats.Remove(mb.Alloc, idx)
	mb.Alloc.free(idx)
	return nil
}

// hasRestingOrders reports whether any order on either side of the book
// still belongs to seatIdx. A released seat's block can be reused by a
// later ClaimSeat, so this must run before freeing it: a stale
// RestingOrder.TraderSeatIndex left dangling into a block that now holds
// a different trader's seat would corrupt that trader's state.
func (mb *MarketBuffer) hasRestingOrders(seatIdx Index) bool {
	found := false
	check := func(idx Index) bool {
		if mb.OrderAt(idx).TraderSeatIndex == seatIdx {
			found = true
			return false
		}
		return true
	}
	mb.Bids.InOrder(mb.Alloc, check)
	if found {
		return true
	}
	mb.Asks.InOrder(mb.Alloc, check)
	return found
}

// FindSeat returns trader's seat index, or NilIndex if absent. Callers
// use this as the spec's membership test (spec §4.C).
func (mb *MarketBuffer) FindSeat(trader common.Hash) Index {
	cur := mb.Seats.root
	for cur != NilIndex {
		s := &mb.Alloc.slots[cur].seat
		cmp := trader.Big().Cmp(s.Trader.Big())
		if cmp == 0 {
			return cur
		} else if cmp < 0 {
			cur = mb.Alloc.left(cur)
		} else {
			cur = mb.Alloc.right(cur)
		}
	}
	return NilIndex
}

// SeatAt returns a mutable pointer to the seat payload at idx. idx must
// be a live seat-tagged block.
func (mb *MarketBuffer) SeatAt(idx Index) *Seat {
	return &mb.Alloc.slots[idx].seat
}

// --- Order book (spec §4.D) ---

func bidLess(a *Allocator, i, j Index) bool {
	oi, oj := &a.slots[i].order, &a.slots[j].order
	c := oi.Price.Cmp(oj.Price)
	if c != 0 {
		return c > 0 // bids: higher price sorts first
	}
	return oi.SequenceNumber < oj.SequenceNumber
}

func askLess(a *Allocator, i, j Index) bool {
	oi, oj := &a.slots[i].order, &a.slots[j].order
	c := oi.Price.Cmp(oj.Price)
	if c != 0 {
		return c < 0 // asks: lower price sorts first
	}
	return oi.SequenceNumber < oj.SequenceNumber
}

// bookTree returns the bids or asks tree for a side.
func (mb *MarketBuffer) bookTree(isBid bool) *Tree {
	if isBid {
		return mb.Bids
	}
	return mb.Asks
}

// BookTree exposes bookTree for pkg/engine's matching walk, which needs
// direct access to Min/Successor on the opposite side's tree rather
// than just the best-index cache.
func (mb *MarketBuffer) BookTree(isBid bool) *Tree {
	return mb.bookTree(isBid)
}

// NextSeq assigns and advances the monotone order sequence counter
// (spec §3.3, §4.D).
func (mb *MarketBuffer) NextSeq() uint64 {
	seq := mb.NextSequence
	mb.NextSequence++
	return seq
}

// InsertOrder allocates a block, writes the order, and inserts it into
// the correct side of the book, updating the best-index cache. Fails
// with ErrNoFreeBlock if the allocator is exhausted.
func (mb *MarketBuffer) InsertOrder(o RestingOrder) (Index, error) {
	idx, err := mb.Alloc.allocate(TagOrder)
	if err != nil {
		return NilIndex, err
	}
	s := &mb.Alloc.slots[idx]
	if o.IsBid {
		s.whichTree = treeBids
	} else {
		s.whichTree = treeAsks
	}
	s.order = o
	tree := mb.bookTree(o.IsBid)
	tree.Insert(mb.Alloc, idx)
	mb.refreshBest(o.IsBid)
	return idx, nil
}

// RemoveOrder unlinks and frees the order at idx, updating the best-index
// cache for its side.
func (mb *MarketBuffer) RemoveOrder(idx Index) {
	o := mb.OrderAt(idx)
	isBid := o.IsBid
	tree := mb.bookTree(isBid)
	tree.Remove(mb.Alloc, idx)
	mb.Alloc.free(idx)
	mb.refreshBest(isBid)
}

func (mb *MarketBuffer) refreshBest(isBid bool) {
	tree := mb.bookTree(isBid)
	best := tree.Min(mb.Alloc, tree.root) // ordering puts the best at the minimum per bidLess/askLess
	if isBid {
		mb.bidsBest = best
	} else {
		mb.asksBest = best
	}
}

// OrderAt returns a mutable pointer to the order payload at idx. idx must
// be a live order-tagged block.
func (mb *MarketBuffer) OrderAt(idx Index) *RestingOrder {
	return &mb.Alloc.slots[idx].order
}

// BestBid returns the index of the best (highest price, earliest
// sequence) resting bid, or NilIndex if the bid side is empty.
func (mb *MarketBuffer) BestBid() Index { return mb.bidsBest }

// BestAsk returns the index of the best (lowest price, earliest
// sequence) resting ask, or NilIndex if the ask side is empty.
func (mb *MarketBuffer) BestAsk() Index { return mb.asksBest }

// NumSeats, NumBids, NumAsks count live nodes in each tree by walking it;
// the engine never needs this on a hot path (spec explicitly forbids
// per-trader open-order lists), so an O(N) count is acceptable — used by
// invariant tests and diagnostics only.
func (mb *MarketBuffer) NumSeats() int { return mb.countTree(mb.Seats) }
func (mb *MarketBuffer) NumBids() int  { return mb.countTree(mb.Bids) }
func (mb *MarketBuffer) NumAsks() int  { return mb.countTree(mb.Asks) }

func (mb *MarketBuffer) countTree(t *Tree) int {
	n := 0
	t.InOrder(mb.Alloc, func(Index) bool { n++; return true })
	return n
}

// Clone deep-copies the market buffer into an independent working copy,
// so the dispatcher can mutate the clone and only publish it back on
// success (spec §7: a failed operation "rolls back the entire buffer").
func (mb *MarketBuffer) Clone() *MarketBuffer {
	return &MarketBuffer{
		Header:   mb.Header,
		Alloc:    mb.Alloc.Clone(),
		Seats:    &Tree{root: mb.Seats.root, less: mb.Seats.less},
		Bids:     &Tree{root: mb.Bids.root, less: mb.Bids.less},
		Asks:     &Tree{root: mb.Asks.root, less: mb.Asks.less},
		bidsBest: mb.bidsBest,
		asksBest: mb.asksBest,
	}
}

// PriceFromOracle converts the header's cached oracle (mantissa, exponent)
// into a price.Price, or the zero Price if no oracle has ever been cached.
func (mb *MarketBuffer) PriceFromOracle() price.Price {
	if mb.OraclePriceMantissa == 0 {
		return price.Price{}
	}
	return price.FromMantissaExponent(mb.OraclePriceMantissa, mb.OraclePriceExponent)
}
