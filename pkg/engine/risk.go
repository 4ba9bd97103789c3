package engine

import (
	"github.com/holiman/uint256"

	"github.com/valleyfi/perpengine/pkg/buffer"
	"github.com/valleyfi/perpengine/pkg/perrors"
	"github.com/valleyfi/perpengine/pkg/price"
)

// MarkPrice computes the reference price for margin checks and
// liquidation (spec §4.F.2): the cached oracle price if present,
// otherwise the book midpoint, otherwise a lone side's best price.
// Returns ErrNoMarkPrice if neither is available.
func MarkPrice(mb *buffer.MarketBuffer) (price.Price, error) {
	if mb.OraclePriceMantissa > 0 {
		return mb.PriceFromOracle(), nil
	}

	bestBid, bestAsk := mb.BestBid(), mb.BestAsk()
	switch {
	case bestBid != buffer.NilIndex && bestAsk != buffer.NilIndex:
		bidPrice := mb.OrderAt(bestBid).Price
		askPrice := mb.OrderAt(bestAsk).Price
		return midpoint(bidPrice, askPrice), nil
	case bestBid != buffer.NilIndex:
		return mb.OrderAt(bestBid).Price, nil
	case bestAsk != buffer.NilIndex:
		return mb.OrderAt(bestAsk).Price, nil
	default:
		return price.Price{}, perrors.ErrNoMarkPrice
	}
}

// midpoint returns a price whose inner value is the integer average of
// two prices' inner values; always between the two inclusive, per the
// mark-price-safety invariant (spec §8.1).
func midpoint(a, b price.Price) price.Price {
	sum := new(uint256.Int).Add(a.Inner(), b.Inner())
	sum.Rsh(sum, 1)
	return price.FromInner(sum)
}

func abs64(v int64) uint64 {
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func sameSign(a, deltaBase int64) bool {
	if a >= 0 {
		return deltaBase >= 0
	}
	return deltaBase < 0
}

// addSigned applies a signed quote-atom delta to an unsigned balance,
// floored at zero; callers treat a floor as absorbed by the rounding
// residue the zero-sum invariant (spec §8.1) tolerates.
func addSigned(balance uint64, delta int64) uint64 {
	if delta >= 0 {
		return balance + uint64(delta)
	}
	d := uint64(-delta)
	if d > balance {
		return 0
	}
	return balance - d
}

// NotionalAndMargin computes |position| valued at mark (rounded up, the
// conservative direction for a margin requirement) and the required
// margin at marginBps (spec §4.F.3, §4.F.4).
func NotionalAndMargin(mark price.Price, positionSize int64, marginBps uint64) (notional, required uint64, err error) {
	notional, err = mark.QuoteAtoms(abs64(positionSize), true)
	if err != nil {
		return 0, 0, err
	}
	required = notional * marginBps / 10_000
	return notional, required, nil
}

// unrealizedPnL computes sign(position) * (current_value - cost_basis)
// (spec §4.F.3), valuing the position at mark rounded down. That is
// conservative for a long; for a short it can raise the PnL by up to
// one quote atom.
func unrealizedPnL(mark price.Price, positionSize int64, costBasis uint64) (int64, error) {
	currentValue, err := mark.QuoteAtoms(abs64(positionSize), false)
	if err != nil {
		return 0, err
	}
	diff := int64(currentValue) - int64(costBasis)
	if positionSize < 0 {
		diff = -diff
	}
	return diff, nil
}

// Equity is a trader's margin plus unrealized PnL at the given mark.
func Equity(mark price.Price, seat *buffer.Seat) (int64, error) {
	if seat.PositionSize == 0 {
		return int64(seat.QuoteWithdrawable), nil
	}
	upnl, err := unrealizedPnL(mark, seat.PositionSize, seat.QuoteCostBasis)
	if err != nil {
		return 0, err
	}
	return int64(seat.QuoteWithdrawable) + upnl, nil
}

// CheckInitialMargin enforces spec §4.F.3 after a taker fill changes
// seat's position.
func CheckInitialMargin(mb *buffer.MarketBuffer, seat *buffer.Seat) error {
	if seat.PositionSize == 0 {
		return nil
	}
	mark, err := MarkPrice(mb)
	if err != nil {
		return err
	}
	_, required, err := NotionalAndMargin(mark, seat.PositionSize, mb.InitialMarginBps)
	if err != nil {
		return err
	}
	equity, err := Equity(mark, seat)
	if err != nil {
		return err
	}
	if equity < int64(required) {
		return perrors.ErrInsufficientMargin
	}
	return nil
}

// CheckMaintenanceMargin enforces spec §4.F.4, used to reject a
// Withdraw that would bring equity below the maintenance requirement.
func CheckMaintenanceMargin(mb *buffer.MarketBuffer, seat *buffer.Seat) error {
	if seat.PositionSize == 0 {
		return nil
	}
	mark, err := MarkPrice(mb)
	if err != nil {
		return err
	}
	_, required, err := NotionalAndMargin(mark, seat.PositionSize, mb.MaintenanceMarginBps)
	if err != nil {
		return err
	}
	equity, err := Equity(mark, seat)
	if err != nil {
		return err
	}
	if equity < int64(required) {
		return perrors.ErrInsufficientMargin
	}
	return nil
}

// ApplyFill folds one taker-side fill of deltaBase signed base atoms
// (positive lengthens the long side / shortens the short side) for
// quote atoms of gross notional into seat's position and cost basis,
// per spec §4.F.1. It returns the quote atoms of PnL realized by any
// closed portion (already applied to seat.QuoteWithdrawable).
func ApplyFill(seat *buffer.Seat, deltaBase int64, quote uint64) int64 {
	oldSize := seat.PositionSize

	if oldSize == 0 || sameSign(oldSize, deltaBase) {
		seat.PositionSize = oldSize + deltaBase
		seat.QuoteCostBasis += quote
		return 0
	}

	absOld := abs64(oldSize)
	absDelta := abs64(deltaBase)
	closeAmt := min64(absOld, absDelta)

	closedEntryQuote := seat.QuoteCostBasis * closeAmt / absOld
	closedFillQuote := quote * closeAmt / absDelta

	var realized int64
	if oldSize > 0 {
		realized = int64(closedFillQuote) - int64(closedEntryQuote)
	} else {
		realized = int64(closedEntryQuote) - int64(closedFillQuote)
	}
	seat.QuoteCostBasis -= closedEntryQuote
	seat.QuoteWithdrawable = addSigned(seat.QuoteWithdrawable, realized)

	seat.PositionSize = oldSize + deltaBase
	if absDelta > closeAmt {
		// the fill flips the position: the closed leg realizes above,
		// the remainder opens a fresh cost basis at the fill price.
		seat.QuoteCostBasis = quote - closedFillQuote
	}
	return realized
}
