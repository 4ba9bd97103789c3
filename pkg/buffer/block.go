// Package buffer implements the engine's dynamic block allocator and
// intrusive red-black tree (spec §4.A, §4.B) over one contiguous,
// relocatable region. Every resting order and every claimed seat lives
// in a fixed-size Block inside this region; nothing here ever heap
// allocates a node independently of the region.
package buffer

import "github.com/valleyfi/perpengine/pkg/perrors"

// BlockSize is the fixed size, in bytes, of every block in the dynamic
// region (spec §3.1). It bounds the largest payload (RestingOrder or
// ClaimedSeat) that can be overlaid on a block.
const BlockSize = 80

// Index addresses a block by its position in the dynamic region. NilIndex
// marks "no node" (an empty subtree, an empty free list, an absent best
// cache).
type Index uint32

// NilIndex is the distinguished "no node" sentinel (spec §3.1).
const NilIndex Index = 0xFFFFFFFF

// Tag distinguishes what a block currently holds.
type Tag uint8

const (
	TagFree  Tag = 0
	TagSeat  Tag = 1
	TagOrder Tag = 2
)

// color is the red-black coloring of a tree node; meaningless for free blocks.
type color uint8

const (
	red   color = 0
	black color = 1
)

// nodeHeader is the intrusive red-black linkage shared by every occupied
// block, regardless of whether its payload is a seat or a resting order.
// It is the Go expression of spec §6.1's "red-black node header overlays
// both seat and order blocks".
type nodeHeader struct {
	parent Index
	left   Index
	right  Index
	color  color
}

// slot is one block's storage: free-list link XOR red-black node XOR
// payload, selected by tag. The engine never reads a field belonging to
// the wrong tag.
type slot struct {
	tag  Tag
	node nodeHeader

	// freeNext is valid only when tag == TagFree.
	freeNext Index

	// whichTree records which of the three trees (seats, bids, asks) this
	// occupied block belongs to, so remove() can route to the right
	// comparator without the caller having to remember.
	whichTree treeID

	seat  Seat
	order RestingOrder
}

type treeID uint8

const (
	treeNone treeID = iota
	treeSeats
	treeBids
	treeAsks
)

// Allocator carves a byte-buffer-backed dynamic region into fixed-size
// blocks and maintains an intrusive singly-linked free list (spec §4.A).
// It never grows the region itself in a hot path: ClaimSeat, Place, and
// Swap all return ErrNoFreeBlock when the free list is empty, and the
// caller must run Expand first.
type Allocator struct {
	slots        []slot
	freeListHead Index
	numFree      uint32
}

// NewAllocator creates an allocator over numBlocks freshly zeroed blocks,
// all linked into the free list in order.
func NewAllocator(numBlocks uint32) *Allocator {
	a := &Allocator{
		slots:        make([]slot, numBlocks),
		freeListHead: NilIndex,
		numFree:      numBlocks,
	}
	for i := int(numBlocks) - 1; i >= 0; i-- {
		a.slots[i].tag = TagFree
		a.slots[i].freeNext = a.freeListHead
		a.freeListHead = Index(i)
	}
	return a
}

// TotalBlocks returns the total number of blocks in the dynamic region,
// occupied or free.
func (a *Allocator) TotalBlocks() uint32 { return uint32(len(a.slots)) }

// NumFreeBlocks returns the number of blocks currently on the free list.
func (a *Allocator) NumFreeBlocks() uint32 { return a.numFree }

// HasFreeBlock reports whether allocate() would succeed right now.
func (a *Allocator) HasFreeBlock() bool { return a.freeListHead != NilIndex }

// FreeBlocksShortOf returns how many additional blocks are needed to reach
// n free blocks, or nil if the allocator already has at least n free.
func (a *Allocator) FreeBlocksShortOf(n uint32) *uint32 {
	if a.numFree >= n {
		return nil
	}
	short := n - a.numFree
	return &short
}

// allocate pops the head of the free list and tags it for use. Returns
// ErrNoFreeBlock if the list is empty.
func (a *Allocator) allocate(tag Tag) (Index, error) {
	if a.freeListHead == NilIndex {
		return NilIndex, perrors.ErrNoFreeBlock
	}
	idx := a.freeListHead
	s := &a.slots[idx]
	if s.tag != TagFree {
		return NilIndex, perrors.ErrInvalidFreeList
	}
	a.freeListHead = s.freeNext
	a.numFree--

	*s = slot{tag: tag}
	return idx, nil
}

// free pushes a block back onto the head of the free list, clearing its
// payload-type tag and contents so a freed block can never be mistaken
// for live data (spec §4.A).
func (a *Allocator) free(idx Index) {
	s := &a.slots[idx]
	*s = slot{tag: TagFree, freeNext: a.freeListHead}
	a.freeListHead = idx
	a.numFree++
}

// Expand grows the dynamic region by n blocks, assuming the backing
// buffer has already been physically enlarged by n*BlockSize bytes by a
// collaborator (spec §4.A: "assumes the buffer has been physically
// enlarged... by a collaborator"). The new blocks are linked into the
// free list in order.
func (a *Allocator) Expand(n uint32) {
	start := len(a.slots)
	a.slots = append(a.slots, make([]slot, n)...)
	for i := start + int(n) - 1; i >= start; i-- {
		a.slots[i].tag = TagFree
		a.slots[i].freeNext = a.freeListHead
		a.freeListHead = Index(i)
	}
	a.numFree += n
}

func (a *Allocator) get(idx Index) *slot {
	if idx == NilIndex {
		return nil
	}
	return &a.slots[idx]
}

// Clone deep-copies the allocator's block storage. Tree roots are plain
// Index values held by the owning MarketBuffer, not by the allocator, so
// cloning the slots is sufficient to produce an independent working copy.
func (a *Allocator) Clone() *Allocator {
	slots := make([]slot, len(a.slots))
	copy(slots, a.slots)
	return &Allocator{slots: slots, freeListHead: a.freeListHead, numFree: a.numFree}
}

// Tag reports the tag of the block at idx, for invariant checks and
// diagnostics outside the package.
func (a *Allocator) Tag(idx Index) Tag { return a.slots[idx].tag }
