package buffer

import "github.com/valleyfi/perpengine/pkg/price"

// OrderType selects how a placement behaves once it has walked the
// opposite book (spec §4.E.1).
type OrderType uint8

const (
	Limit OrderType = iota
	ImmediateOrCancel
	PostOnly
)

// RestingOrder is a resting order node (spec §3.3). Book ordering: bids
// sort by (price descending, sequence ascending); asks sort by (price
// ascending, sequence ascending) — spec §3.3/§4.E.2.
type RestingOrder struct {
	// TraderSeatIndex is a back-reference into the seat tree, used for
	// lookup only; it never implies ownership of the seat's lifetime.
	TraderSeatIndex Index

	SequenceNumber uint64
	Price          price.Price
	NumBaseAtoms   uint64
	LastValidSlot  uint32 // 0 = no expiration
	IsBid          bool
	OrderType      OrderType
}

// Expired reports whether the order should be skipped and removed during
// matching (spec §4.E.1 step 2).
func (o *RestingOrder) Expired(currentSlot uint32) bool {
	return o.LastValidSlot != 0 && currentSlot > o.LastValidSlot
}
