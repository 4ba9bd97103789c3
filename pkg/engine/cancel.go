package engine

import (
	"github.com/valleyfi/perpengine/pkg/buffer"
	"github.com/valleyfi/perpengine/pkg/perrors"
)

// CancelOrder removes seatIdx's resting order identified by sequence
// number seq, searching both sides of the book (spec §6.2 op implied by
// BatchUpdate's "list of cancels (by seq-no)"). Returns ErrOrderNotFound
// if no live order with that sequence number belongs to the seat.
func CancelOrder(mb *buffer.MarketBuffer, seatIdx buffer.Index, seq uint64) error {
	for _, isBid := range [2]bool{true, false} {
		tree := mb.BookTree(isBid)
		var found buffer.Index = buffer.NilIndex
		tree.InOrder(mb.Alloc, func(idx buffer.Index) bool {
			o := mb.OrderAt(idx)
			if o.TraderSeatIndex == seatIdx && o.SequenceNumber == seq {
				found = idx
				return false
			}
			return true
		})
		if found != buffer.NilIndex {
			mb.RemoveOrder(found)
			return nil
		}
	}
	return perrors.ErrOrderNotFound
}
