// Package logrecord defines the stack-packed log records every
// state-changing operation emits (spec §6.4). Field ordering here is
// part of the external contract, so these are plain structs with a
// fixed field order rather than a generic key-value bag; pkg/engine's
// dispatcher logs one of these through zap's structured field API
// after every successful operation.
package logrecord

import "github.com/ethereum/go-ethereum/common"

type CreateMarket struct {
	OracleID      common.Hash
	BaseDecimals  uint8
	QuoteDecimals uint8
}

type ClaimSeat struct {
	Trader common.Hash
	Seat   uint32
}

type ReleaseSeat struct {
	Trader common.Hash
	Seat   uint32
}

type Deposit struct {
	Trader common.Hash
	Seat   uint32
	Amount uint64
}

type Withdraw struct {
	Trader common.Hash
	Seat   uint32
	Amount uint64
}

type PlaceOrder struct {
	Trader         common.Hash
	Seat           uint32
	SequenceNumber uint64
	PostTradeIndex uint32 // NilIndex-equivalent sentinel if fully filled
	IsBid          bool
	NumBaseAtoms   uint64
}

type Fill struct {
	MakerSeq   uint64
	TakerSeq   uint64
	BaseAtoms  uint64
	QuoteAtoms uint64
	Price      string
	TakerIsBuy bool
}

type Cancel struct {
	Trader         common.Hash
	Seat           uint32
	SequenceNumber uint64
}

type Liquidate struct {
	Victim          common.Hash
	Liquidator      common.Hash
	ClosedBaseAtoms uint64
	SettlementPrice string
	RealizedPnL     int64
}

type FundingCrank struct {
	OracleMantissa uint64
	OracleExponent int32
	Rate           int64
	Timestamp      int64
}
