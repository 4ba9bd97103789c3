package engine

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/valleyfi/perpengine/pkg/buffer"
	"github.com/valleyfi/perpengine/pkg/perrors"
	"github.com/valleyfi/perpengine/pkg/price"
)

// LiquidationResult reports what Liquidate did, for the Liquidate log
// record (spec §6.4): victim, liquidator, closed base atoms, the
// settlement price, and realized PnL. ClosedBaseAtoms is 0 when the
// order cancellation alone restored the victim above maintenance.
type LiquidationResult struct {
	Victim          buffer.Index
	Liquidator      buffer.Index
	ClosedBaseAtoms uint64
	SettlementPrice price.Price
	RealizedPnL     int64
	Reward          uint64
}

// cancelAllOrders removes every resting order belonging to seatIdx from
// both sides of the book. Orders are collected before removal so the
// in-order walk is never invalidated by a concurrent structural
// mutation (spec §9: "never traverse the tree while holding a borrow
// to a specific node").
func cancelAllOrders(mb *buffer.MarketBuffer, seatIdx buffer.Index) {
	var toRemove []buffer.Index
	collect := func(idx buffer.Index) bool {
		if mb.OrderAt(idx).TraderSeatIndex == seatIdx {
			toRemove = append(toRemove, idx)
		}
		return true
	}
	mb.Bids.InOrder(mb.Alloc, collect)
	mb.Asks.InOrder(mb.Alloc, collect)
	for _, idx := range toRemove {
		mb.RemoveOrder(idx)
	}
}

func ceilDivInt64(num, den int64) int64 {
	q := num / den
	if (num%den != 0) && ((num < 0) == (den < 0)) {
		q++
	}
	return q
}

// Liquidate runs the partial-liquidation procedure of spec §4.F.5.
// victimTrader must hold an open position; liquidatorSeat must not be
// the victim's own seat. now is the current unix-second timestamp, used
// for the oracle-staleness check.
func Liquidate(mb *buffer.MarketBuffer, liquidatorSeat buffer.Index, victimTrader common.Hash, now int64) (LiquidationResult, error) {
	victimIdx := mb.FindSeat(victimTrader)
	if victimIdx == buffer.NilIndex {
		return LiquidationResult{}, perrors.ErrSeatNotFound
	}
	if victimIdx == liquidatorSeat {
		return LiquidationResult{}, perrors.ErrSelfLiquidation
	}
	victim := mb.SeatAt(victimIdx)
	if victim.PositionSize == 0 {
		return LiquidationResult{}, perrors.ErrNotLiquidatable
	}
	if mb.LastFundingTimestamp == 0 || now-mb.LastFundingTimestamp > OracleStaleSeconds {
		return LiquidationResult{}, perrors.ErrOracleStale
	}

	SettleFunding(mb, victim)
	cancelAllOrders(mb, victimIdx)

	mark, err := MarkPrice(mb)
	if err != nil {
		return LiquidationResult{}, err
	}
	currentValue, maintReq, err := NotionalAndMargin(mark, victim.PositionSize, mb.MaintenanceMarginBps)
	if err != nil {
		return LiquidationResult{}, err
	}
	equity, err := Equity(mark, victim)
	if err != nil {
		return LiquidationResult{}, err
	}
	if equity >= int64(maintReq) {
		// the cancels alone restored the victim above maintenance.
		victim.LastCumulativeFunding = mb.CumulativeFunding
		return LiquidationResult{Victim: victimIdx, Liquidator: liquidatorSeat, SettlementPrice: mark}, nil
	}

	absPos := abs64(victim.PositionSize)
	targetBps := int64(mb.MaintenanceMarginBps + mb.LiquidationBufferBps)
	rewardBps := int64(LiquidatorRewardBps)

	equityBps := equity * 10_000 / int64(currentValue)
	closeAmount := ceilDivInt64((targetBps-equityBps)*int64(absPos), targetBps-rewardBps)
	if closeAmount < 0 {
		closeAmount = 0
	}
	closeAmountU := uint64(closeAmount)
	if closeAmountU > absPos {
		closeAmountU = absPos
	}
	if absPos-closeAmountU < MinPositionSizeAtoms {
		closeAmountU = absPos
	}

	closeQuote, err := mark.QuoteAtoms(closeAmountU, false)
	if err != nil {
		return LiquidationResult{}, err
	}
	closedEntryQuote := victim.QuoteCostBasis * closeAmountU / absPos

	var closedPnL int64
	if victim.PositionSize > 0 {
		closedPnL = int64(closeQuote) - int64(closedEntryQuote)
	} else {
		closedPnL = int64(closedEntryQuote) - int64(closeQuote)
	}
	reward := closeQuote * uint64(rewardBps) / 10_000

	marginAfter := int64(victim.QuoteWithdrawable) + closedPnL - int64(reward)

	liquidator := mb.SeatAt(liquidatorSeat)
	var actualReward uint64
	if marginAfter >= 0 {
		actualReward = reward
		victim.QuoteWithdrawable = uint64(marginAfter)
	} else {
		deficit := uint64(-marginAfter)
		if mb.InsuranceFund >= deficit {
			mb.InsuranceFund -= deficit
			actualReward = reward
		} else {
			shortfall := deficit - mb.InsuranceFund
			mb.InsuranceFund = 0
			if reward > shortfall {
				actualReward = reward - shortfall
			}
		}
		victim.QuoteWithdrawable = 0
	}
	liquidator.QuoteWithdrawable += actualReward

	if closeAmountU == absPos {
		victim.PositionSize = 0
		victim.QuoteCostBasis = 0
	} else {
		remaining := absPos - closeAmountU
		if victim.PositionSize > 0 {
			victim.PositionSize = int64(remaining)
		} else {
			victim.PositionSize = -int64(remaining)
		}
		victim.QuoteCostBasis -= closedEntryQuote
	}

	victim.LastCumulativeFunding = mb.CumulativeFunding
	liquidator.LastCumulativeFunding = mb.CumulativeFunding

	return LiquidationResult{
		Victim:          victimIdx,
		Liquidator:      liquidatorSeat,
		ClosedBaseAtoms: closeAmountU,
		SettlementPrice: mark,
		RealizedPnL:     closedPnL,
		Reward:          actualReward,
	}, nil
}
