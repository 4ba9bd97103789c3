package buffer

import (
	"github.com/ethereum/go-ethereum/common"
)

// Seat is a claimed trader seat (spec §3.2). Unlike the system this
// engine is modeled on, the funding checkpoint gets its own named field
// instead of overloading a pre-perps balance slot (spec §9 explicitly
// calls out that overload as an anti-pattern to not repeat).
type Seat struct {
	Trader common.Hash

	// QuoteWithdrawable is free margin: quote atoms not committed to a
	// resting order or a position.
	QuoteWithdrawable uint64

	// LastCumulativeFunding is this seat's checkpoint against the
	// market's header.CumulativeFunding counter (spec §4.G).
	LastCumulativeFunding int64

	// PositionSize is signed base atoms; positive is long.
	PositionSize int64

	// QuoteCostBasis is total quote atoms paid (long) or received (short)
	// to acquire the current position. Zero iff PositionSize is zero.
	QuoteCostBasis uint64

	// QuoteVolume is informational lifetime volume; no invariant reads it.
	QuoteVolume uint64
}

// IsFlat reports whether the seat carries no position and no free balance,
// the precondition for ReleaseSeat (spec §3.2, §4.C).
func (s *Seat) IsFlat() bool {
	return s.PositionSize == 0 && s.QuoteWithdrawable == 0
}
