package buffer

// BlockSnapshot is one block's content by index, independent of the
// allocator's private slot layout. pkg/storage uses this pair of
// Snapshot/Restore as its only seam into a MarketBuffer — it never
// reaches past it into Allocator internals (spec §4.A keeps the block
// layout an implementation detail of this package).
type BlockSnapshot struct {
	Tag   Tag
	Seat  Seat
	Order RestingOrder
}

// Snapshot captures mb's header and the content of every block in index
// order, tagged by what it currently holds. Free blocks are included so
// indices (and therefore every cross-reference, like a RestingOrder's
// TraderSeatIndex) survive a round trip through Restore.
func (mb *MarketBuffer) Snapshot() (Header, []BlockSnapshot) {
	n := mb.Alloc.TotalBlocks()
	out := make([]BlockSnapshot, n)
	for i := uint32(0); i < n; i++ {
		idx := Index(i)
		switch mb.Alloc.Tag(idx) {
		case TagSeat:
			out[i] = BlockSnapshot{Tag: TagSeat, Seat: *mb.SeatAt(idx)}
		case TagOrder:
			out[i] = BlockSnapshot{Tag: TagOrder, Order: *mb.OrderAt(idx)}
		default:
			out[i] = BlockSnapshot{Tag: TagFree}
		}
	}
	return mb.Header, out
}

// Restore rebuilds a MarketBuffer from a header and a block snapshot
// produced by Snapshot. The allocator's free list and every intrusive
// tree are pure functions of which blocks are occupied and what they
// hold, so only that content needs to round-trip; the trees are rebuilt
// by re-inserting each occupied block rather than persisting raw
// parent/left/right linkage.
func Restore(h Header, blocks []BlockSnapshot) *MarketBuffer {
	mb := New(h, uint32(len(blocks)))
	for i, b := range blocks {
		idx := Index(i)
		switch b.Tag {
		case TagSeat:
			mb.Alloc.placeSeat(idx, b.Seat)
			mb.Seats.Insert(mb.Alloc, idx)
		case TagOrder:
			mb.Alloc.placeOrder(idx, b.Order)
			mb.bookTree(b.Order.IsBid).Insert(mb.Alloc, idx)
		}
	}
	mb.Alloc.rebuildFreeList()
	mb.refreshBest(true)
	mb.refreshBest(false)
	return mb
}

// placeSeat and placeOrder overwrite slot idx (already linked into the
// free list by New) with live payload, matching what allocate(Tag...)
// would have produced, minus removing idx from the free list — the
// caller rebuilds the whole free list once, after every block is placed.
func (a *Allocator) placeSeat(idx Index, s Seat) {
	a.slots[idx] = slot{tag: TagSeat, whichTree: treeSeats, seat: s}
}

func (a *Allocator) placeOrder(idx Index, o RestingOrder) {
	which := treeAsks
	if o.IsBid {
		which = treeBids
	}
	a.slots[idx] = slot{tag: TagOrder, whichTree: which, order: o}
}

// rebuildFreeList re-threads every TagFree block into the free list in
// descending index order (matching NewAllocator's own convention) and
// recomputes numFree. Called once after Restore has placed every
// occupied block directly, bypassing the normal allocate() path.
func (a *Allocator) rebuildFreeList() {
	a.freeListHead = NilIndex
	a.numFree = 0
	for i := len(a.slots) - 1; i >= 0; i-- {
		if a.slots[i].tag == TagFree {
			a.slots[i].freeNext = a.freeListHead
			a.freeListHead = Index(i)
			a.numFree++
		}
	}
}
