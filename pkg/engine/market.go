// Package engine implements the four core subsystems spec §2 describes
// as the hard engineering of the system: the matching engine (§4.E),
// the perps risk engine (§4.F), the lazy funding accumulator (§4.G),
// and the dispatcher that ties them to one market buffer (§4.H). Each
// discriminant in §6.2 maps to one Op handled by Dispatcher; helpers
// such as CancelOrder, MarkPrice, SettleFunding, and Equity are
// exported alongside them without a discriminant of their own.
package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/valleyfi/perpengine/pkg/buffer"
)

// Perpetual-futures constants fixed by the spec, not configurable per
// market (§4.F.5, §4.G).
const (
	MinPositionSizeAtoms = 1000
	LiquidatorRewardBps  = 250
	FundingPeriodSeconds = 3600
	MaxFundingRate       = 10_000_000 // 1% per hour, scaled by 1e9
	FundingScale         = 1_000_000_000
	OracleStaleSeconds   = 3600
)

// MarketParams is the validated configuration CreateMarket turns into a
// buffer.Header. Separating it from Header keeps parameter validation
// (this file) independent of the buffer's in-memory layout, the same
// separation the reference market/market-params pair draws between
// config and runtime state.
type MarketParams struct {
	BaseMintIndex uint8
	QuoteMint     common.Hash
	BaseDecimals  uint8
	QuoteDecimals uint8

	InitialMarginBps     uint64
	MaintenanceMarginBps uint64
	LiquidationBufferBps uint64
	TakerFeeBps          uint64

	OracleID common.Hash

	InitialBlocks uint32
}

// Validate checks market parameter sanity before a market is created,
// mirroring the reference Market.Validate's margin-ordering and
// positivity checks, generalized to basis-point fields instead of
// leverage/tick/lot fields.
func (p MarketParams) Validate() error {
	if p.BaseDecimals == 0 || p.QuoteDecimals == 0 {
		return fmt.Errorf("engine: base and quote decimals must be positive")
	}
	if p.InitialMarginBps == 0 {
		return fmt.Errorf("engine: initial margin bps must be positive")
	}
	if p.MaintenanceMarginBps == 0 {
		return fmt.Errorf("engine: maintenance margin bps must be positive")
	}
	if p.MaintenanceMarginBps > p.InitialMarginBps {
		return fmt.Errorf("engine: maintenance margin (%d bps) cannot exceed initial margin (%d bps)",
			p.MaintenanceMarginBps, p.InitialMarginBps)
	}
	if p.TakerFeeBps > 10_000 {
		return fmt.Errorf("engine: taker fee bps %d exceeds 100%%", p.TakerFeeBps)
	}
	if p.LiquidationBufferBps > 10_000 {
		return fmt.Errorf("engine: liquidation buffer bps %d exceeds 100%%", p.LiquidationBufferBps)
	}
	if p.InitialBlocks == 0 {
		return fmt.Errorf("engine: initial block count must be positive")
	}
	if p.OracleID == (common.Hash{}) {
		return fmt.Errorf("engine: oracle id must be set")
	}
	return nil
}

// CreateMarket validates params and builds a fresh market buffer (spec
// §6.2 op 0), with an empty seat table and empty book.
func CreateMarket(params MarketParams) (*buffer.MarketBuffer, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	h := buffer.Header{
		BaseMintIndex:        params.BaseMintIndex,
		QuoteMint:            params.QuoteMint,
		BaseDecimals:         params.BaseDecimals,
		QuoteDecimals:        params.QuoteDecimals,
		InitialMarginBps:     params.InitialMarginBps,
		MaintenanceMarginBps: params.MaintenanceMarginBps,
		LiquidationBufferBps: params.LiquidationBufferBps,
		TakerFeeBps:          params.TakerFeeBps,
		OracleID:             params.OracleID,
	}
	return buffer.New(h, params.InitialBlocks), nil
}
