// Package perrors holds the engine's sentinel error taxonomy.
//
// pkg/engine and pkg/buffer return these sentinels unwrapped, so callers
// can compare with == or errors.Is rather than parse strings. Market
// parameter validation, price arithmetic overflow, and collaborator
// (vault) failures surface as their own non-sentinel errors.
package perrors

import "errors"

var (
	// ErrInvalidOperation covers generic parameter or state-precondition failures.
	ErrInvalidOperation = errors.New("invalid perps operation")

	// ErrNoFreeBlock means the allocator's free list is empty; the caller
	// must run Expand before retrying.
	ErrNoFreeBlock = errors.New("no free block")

	// ErrInvalidFreeList signals free-list corruption (should never happen
	// outside of a programming error).
	ErrInvalidFreeList = errors.New("invalid free list")

	// ErrInsufficientMargin means an initial- or maintenance-margin check failed.
	ErrInsufficientMargin = errors.New("insufficient margin")

	// ErrNotLiquidatable means the named victim holds no open position. A
	// victim whose equity is at or above maintenance once its orders are
	// canceled gets no error: Liquidate succeeds with nothing closed.
	ErrNotLiquidatable = errors.New("not liquidatable")

	// ErrInsufficientOut means a swap produced worse than the caller's bound.
	ErrInsufficientOut = errors.New("insufficient output amount")

	// ErrIncorrectAccount means a collaborator account did not match the
	// market's expectations (wrong mint, wrong oracle, wrong vault).
	ErrIncorrectAccount = errors.New("incorrect account")

	// ErrSeatExists means ClaimSeat was called for a trader that already
	// holds a seat in this market.
	ErrSeatExists = errors.New("seat already claimed")

	// ErrSeatNotFound means the trader has no seat in this market.
	ErrSeatNotFound = errors.New("seat not found")

	// ErrSeatNotEmpty means ReleaseSeat was called on a seat that still
	// carries a position, free balance, or resting order.
	ErrSeatNotEmpty = errors.New("seat not empty")

	// ErrNoMarkPrice means compute_mark_price has no oracle cache and no
	// book to fall back on.
	ErrNoMarkPrice = errors.New("no mark price available")

	// ErrOracleStale means an oracle reading failed a staleness check: the
	// cached price is too old to liquidate against, or a reader observed a
	// quote with a timestamp older than one it already returned.
	ErrOracleStale = errors.New("oracle price stale")

	// ErrSelfLiquidation means a trader attempted to liquidate themselves.
	ErrSelfLiquidation = errors.New("self liquidation not allowed")

	// ErrOrderNotFound means Cancel referenced a sequence number not on the book.
	ErrOrderNotFound = errors.New("order not found")

	// ErrPostOnlyCrossed means a PostOnly order would have matched immediately.
	ErrPostOnlyCrossed = errors.New("post-only order would cross the book")

	// ErrUnknownDiscriminant means the dispatcher received an unrecognized
	// operation byte.
	ErrUnknownDiscriminant = errors.New("unknown operation discriminant")

	// ErrOverflow names the arithmetic-overflow class of the taxonomy. No
	// function in this module returns it; price.QuoteAtoms reports u64
	// overflow with its own error.
	ErrOverflow = errors.New("arithmetic overflow")

	// ErrBadSignature means an operation envelope failed signature verification.
	ErrBadSignature = errors.New("bad operation signature")
)
