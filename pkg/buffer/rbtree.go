package buffer

// This file implements the intrusive red-black tree described in spec
// §4.B: a generic ordered container whose nodes live in allocator
// blocks, addressed by Index rather than pointer, with no heap
// indirection of its own. Every occupied block already carries a
// nodeHeader (parent/left/right/color); this file only ever touches
// that header through the accessor methods below, so it has no idea
// whether the block's payload is a Seat or a RestingOrder — the caller
// supplies the comparator.
//
// The algorithm is the standard CLRS left-leaning-free red-black tree,
// adapted to operate on block indices with NilIndex standing in for the
// sentinel leaf (always black, never mutated).

func (a *Allocator) left(idx Index) Index {
	if idx == NilIndex {
		return NilIndex
	}
	return a.slots[idx].node.left
}

func (a *Allocator) right(idx Index) Index {
	if idx == NilIndex {
		return NilIndex
	}
	return a.slots[idx].node.right
}

func (a *Allocator) parentOf(idx Index) Index {
	if idx == NilIndex {
		return NilIndex
	}
	return a.slots[idx].node.parent
}

func (a *Allocator) setLeft(idx, v Index) {
	if idx != NilIndex {
		a.slots[idx].node.left = v
	}
}

func (a *Allocator) setRight(idx, v Index) {
	if idx != NilIndex {
		a.slots[idx].node.right = v
	}
}

func (a *Allocator) setParent(idx, v Index) {
	if idx != NilIndex {
		a.slots[idx].node.parent = v
	}
}

func (a *Allocator) isRed(idx Index) bool {
	if idx == NilIndex {
		return false
	}
	return a.slots[idx].node.color == red
}

func (a *Allocator) setColor(idx Index, c color) {
	if idx != NilIndex {
		a.slots[idx].node.color = c
	}
}

// Tree is one intrusive red-black tree instance: a root index plus the
// comparator that orders its members. The seat table and both sides of
// the order book each own one Tree sharing the same Allocator.
type Tree struct {
	root Index
	// less reports whether the node at i sorts strictly before the node
	// at j. Supplied by the owner (seat table compares trader identity;
	// bids/asks compare price then sequence number per spec §4.E.2).
	less func(a *Allocator, i, j Index) bool
}

func NewTree(less func(a *Allocator, i, j Index) bool) *Tree {
	return &Tree{root: NilIndex, less: less}
}

// Root returns the current root index (NilIndex if empty).
func (t *Tree) Root() Index { return t.root }

// Empty reports whether the tree has no members.
func (t *Tree) Empty() bool { return t.root == NilIndex }

func (t *Tree) rotateLeft(a *Allocator, x Index) {
	y := a.right(x)
	a.setRight(x, a.left(y))
	if a.left(y) != NilIndex {
		a.setParent(a.left(y), x)
	}
	a.setParent(y, a.parentOf(x))
	if a.parentOf(x) == NilIndex {
		t.root = y
	} else if x == a.left(a.parentOf(x)) {
		a.setLeft(a.parentOf(x), y)
	} else {
		a.setRight(a.parentOf(x), y)
	}
	a.setLeft(y, x)
	a.setParent(x, y)
}

func (t *Tree) rotateRight(a *Allocator, x Index) {
	y := a.left(x)
	a.setLeft(x, a.right(y))
	if a.right(y) != NilIndex {
		a.setParent(a.right(y), x)
	}
	a.setParent(y, a.parentOf(x))
	if a.parentOf(x) == NilIndex {
		t.root = y
	} else if x == a.right(a.parentOf(x)) {
		a.setRight(a.parentOf(x), y)
	} else {
		a.setLeft(a.parentOf(x), y)
	}
	a.setRight(y, x)
	a.setParent(x, y)
}

// Insert links an already-allocated, already-populated node at idx into
// the tree at its sorted position and restores the red-black invariants.
func (t *Tree) Insert(a *Allocator, idx Index) {
	a.slots[idx].node = nodeHeader{parent: NilIndex, left: NilIndex, right: NilIndex, color: red}

	var parent Index = NilIndex
	cur := t.root
	for cur != NilIndex {
		parent = cur
		if t.less(a, idx, cur) {
			cur = a.left(cur)
		} else {
			cur = a.right(cur)
		}
	}
	a.setParent(idx, parent)
	if parent == NilIndex {
		t.root = idx
	} else if t.less(a, idx, parent) {
		a.setLeft(parent, idx)
	} else {
		a.setRight(parent, idx)
	}

	t.insertFixup(a, idx)
}

func (t *Tree) insertFixup(a *Allocator, z Index) {
	for a.isRed(a.parentOf(z)) {
		p := a.parentOf(z)
		gp := a.parentOf(p)
		if p == a.left(gp) {
			y := a.right(gp)
			if a.isRed(y) {
				a.setColor(p, black)
				a.setColor(y, black)
				a.setColor(gp, red)
				z = gp
			} else {
				if z == a.right(p) {
					z = p
					t.rotateLeft(a, z)
					p = a.parentOf(z)
					gp = a.parentOf(p)
				}
				a.setColor(p, black)
				a.setColor(gp, red)
				t.rotateRight(a, gp)
			}
		} else {
			y := a.left(gp)
			if a.isRed(y) {
				a.setColor(p, black)
				a.setColor(y, black)
				a.setColor(gp, red)
				z = gp
			} else {
				if z == a.left(p) {
					z = p
					t.rotateRight(a, z)
					p = a.parentOf(z)
					gp = a.parentOf(p)
				}
				a.setColor(p, black)
				a.setColor(gp, red)
				t.rotateLeft(a, gp)
			}
		}
	}
	a.setColor(t.root, black)
}

func (t *Tree) transplant(a *Allocator, u, v Index) {
	pu := a.parentOf(u)
	if pu == NilIndex {
		t.root = v
	} else if u == a.left(pu) {
		a.setLeft(pu, v)
	} else {
		a.setRight(pu, v)
	}
	a.setParent(v, pu)
}

// Min returns the leftmost (smallest) index in the subtree rooted at idx.
func (t *Tree) Min(a *Allocator, idx Index) Index {
	if idx == NilIndex {
		return NilIndex
	}
	for a.left(idx) != NilIndex {
		idx = a.left(idx)
	}
	return idx
}

// Max returns the rightmost (largest) index in the subtree rooted at idx.
func (t *Tree) Max(a *Allocator, idx Index) Index {
	if idx == NilIndex {
		return NilIndex
	}
	for a.right(idx) != NilIndex {
		idx = a.right(idx)
	}
	return idx
}

// Remove unlinks the node at idx and restores the red-black invariants.
// It does not free the underlying block; callers free it after Remove.
func (t *Tree) Remove(a *Allocator, z Index) {
	y := z
	yOrigColor := a.slots[y].node.color
	var x, xParent Index

	if a.left(z) == NilIndex {
		x = a.right(z)
		xParent = a.parentOf(z)
		t.transplant(a, z, a.right(z))
	} else if a.right(z) == NilIndex {
		x = a.left(z)
		xParent = a.parentOf(z)
		t.transplant(a, z, a.left(z))
	} else {
		y = t.Min(a, a.right(z))
		yOrigColor = a.slots[y].node.color
		x = a.right(y)
		if a.parentOf(y) == z {
			xParent = y
		} else {
			xParent = a.parentOf(y)
			t.transplant(a, y, a.right(y))
			a.setRight(y, a.right(z))
			a.setParent(a.right(y), y)
		}
		t.transplant(a, z, y)
		a.setLeft(y, a.left(z))
		a.setParent(a.left(y), y)
		a.slots[y].node.color = a.slots[z].node.color
	}

	if yOrigColor == black {
		t.removeFixup(a, x, xParent)
	}
}

// removeFixup restores black-height balance after Remove. x may be
// NilIndex (a deleted leaf's replacement), so every step is driven off
// xParent rather than x's own (nonexistent) linkage.
func (t *Tree) removeFixup(a *Allocator, x, xParent Index) {
	for x != t.root && !a.isRed(x) {
		if xParent == NilIndex {
			break
		}
		if x == a.left(xParent) {
			w := a.right(xParent)
			if a.isRed(w) {
				a.setColor(w, black)
				a.setColor(xParent, red)
				t.rotateLeft(a, xParent)
				w = a.right(xParent)
			}
			if !a.isRed(a.left(w)) && !a.isRed(a.right(w)) {
				a.setColor(w, red)
				x = xParent
				xParent = a.parentOf(x)
			} else {
				if !a.isRed(a.right(w)) {
					a.setColor(a.left(w), black)
					a.setColor(w, red)
					t.rotateRight(a, w)
					w = a.right(xParent)
				}
				a.setColor(w, a.slots[xParent].node.color)
				a.setColor(xParent, black)
				a.setColor(a.right(w), black)
				t.rotateLeft(a, xParent)
				x = t.root
				xParent = NilIndex
			}
		} else {
			w := a.left(xParent)
			if a.isRed(w) {
				a.setColor(w, black)
				a.setColor(xParent, red)
				t.rotateRight(a, xParent)
				w = a.left(xParent)
			}
			if !a.isRed(a.right(w)) && !a.isRed(a.left(w)) {
				a.setColor(w, red)
				x = xParent
				xParent = a.parentOf(x)
			} else {
				if !a.isRed(a.left(w)) {
					a.setColor(a.right(w), black)
					a.setColor(w, red)
					t.rotateLeft(a, w)
					w = a.left(xParent)
				}
				a.setColor(w, a.slots[xParent].node.color)
				a.setColor(xParent, black)
				a.setColor(a.left(w), black)
				t.rotateRight(a, xParent)
				x = t.root
				xParent = NilIndex
			}
		}
	}
	a.setColor(x, black)
}

// InOrder walks the tree in ascending key order, calling visit on each
// index. Iteration stops early if visit returns false.
func (t *Tree) InOrder(a *Allocator, visit func(Index) bool) {
	var walk func(Index) bool
	walk = func(idx Index) bool {
		if idx == NilIndex {
			return true
		}
		if !walk(a.left(idx)) {
			return false
		}
		if !visit(idx) {
			return false
		}
		return walk(a.right(idx))
	}
	walk(t.root)
}

// Successor returns the next index in ascending key order after idx, or
// NilIndex if idx is the maximum.
func (t *Tree) Successor(a *Allocator, idx Index) Index {
	if a.right(idx) != NilIndex {
		return t.Min(a, a.right(idx))
	}
	p := a.parentOf(idx)
	for p != NilIndex && idx == a.right(p) {
		idx = p
		p = a.parentOf(p)
	}
	return p
}
