// Package api is the query and streaming surface over a running market
// (spec §9's "separate query layer... it reads the buffer, never mutates
// it directly"). Order submission and order cancellation are the
// mutating paths it exposes, and both go through pkg/engine's
// Dispatcher rather than touching the buffer itself.
package api

// MarketInfo is a market's static configuration and live header fields.
type MarketInfo struct {
	BaseMintIndex        uint8  `json:"baseMintIndex"`
	BaseDecimals         uint8  `json:"baseDecimals"`
	QuoteDecimals        uint8  `json:"quoteDecimals"`
	InitialMarginBps     uint64 `json:"initialMarginBps"`
	MaintenanceMarginBps uint64 `json:"maintenanceMarginBps"`
	LiquidationBufferBps uint64 `json:"liquidationBufferBps"`
	TakerFeeBps          uint64 `json:"takerFeeBps"`
	OraclePriceMantissa  uint64 `json:"oraclePriceMantissa"`
	OraclePriceExponent  int32  `json:"oraclePriceExponent"`
	CumulativeFunding    int64  `json:"cumulativeFunding"`
	MarkPrice            string `json:"markPrice,omitempty"`
	InsuranceFund        uint64 `json:"insuranceFund"`
}

// PriceLevel is one aggregated resting-order price point. Size is the
// sum of every order resting at Price; the engine does not expose
// per-order granularity to readers (spec §9 "never leak block indices").
type PriceLevel struct {
	Price string `json:"price"`
	Size  uint64 `json:"size"`
}

// OrderbookSnapshot is a full book read (spec §4.D).
type OrderbookSnapshot struct {
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
}

// AccountInfo mirrors one seat's balance and risk state (spec §3.2, §4.F).
type AccountInfo struct {
	Trader                string `json:"trader"`
	QuoteWithdrawable      uint64 `json:"quoteWithdrawable"`
	PositionSize           int64  `json:"positionSize"`
	QuoteCostBasis         uint64 `json:"quoteCostBasis"`
	QuoteVolume            uint64 `json:"quoteVolume"`
	UnrealizedPnL          int64  `json:"unrealizedPnl"`
	Equity                 int64  `json:"equity"`
	InitialMarginRequired  uint64 `json:"initialMarginRequired"`
	MaintMarginRequired    uint64 `json:"maintenanceMarginRequired"`
}

// FillEvent is one maker/taker crossing, shaped for a WebSocket feed
// rather than the internal index-addressed engine.Fill.
type FillEvent struct {
	Type       string `json:"type"` // "fill"
	Price      string `json:"price"`
	BaseAtoms  uint64 `json:"baseAtoms"`
	QuoteAtoms uint64 `json:"quoteAtoms"`
	TakerIsBuy bool   `json:"takerIsBuy"`
	Timestamp  int64  `json:"timestamp"`
}

// OrderbookUpdate is broadcast after each order submission the API
// accepts. Cancels, and operations that reach the dispatcher by other
// routes, do not broadcast one.
type OrderbookUpdate struct {
	Type      string       `json:"type"` // "orderbook"
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
}

// FundingUpdate is broadcast after every CrankFunding.
type FundingUpdate struct {
	Type              string `json:"type"` // "funding"
	CumulativeFunding int64  `json:"cumulativeFunding"`
	OracleMantissa    uint64 `json:"oracleMantissa"`
	OracleExponent    int32  `json:"oracleExponent"`
	Timestamp         int64  `json:"timestamp"`
}

// WSSubscribeRequest is sent by a client to (un)subscribe to channels,
// e.g. "orderbook", "fills", "funding".
type WSSubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

// PlaceOrderRequest is the POST /api/v1/orders body: an opauth-signed
// single placement, carried inside a one-place BatchUpdate.
type PlaceOrderRequest struct {
	Trader        string `json:"trader"`
	IsBid         bool   `json:"isBid"`
	PriceMantissa uint64 `json:"priceMantissa"`
	PriceExponent int32  `json:"priceExponent"`
	NumBaseAtoms  uint64 `json:"numBaseAtoms"`
	OrderType     uint8  `json:"orderType"`
	LastValidSlot uint32 `json:"lastValidSlot"`
	Nonce         uint64 `json:"nonce"`
	Deadline      int64  `json:"deadline"`
	Signature     string `json:"signature"`
}

// CancelOrderRequest is the POST /api/v1/orders/cancel body.
type CancelOrderRequest struct {
	Trader         string `json:"trader"`
	SequenceNumber uint64 `json:"sequenceNumber"`
	Nonce          uint64 `json:"nonce"`
	Deadline       int64  `json:"deadline"`
	Signature      string `json:"signature"`
}

// SubmitResponse acknowledges a mutating request.
type SubmitResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is returned for all handler errors.
type ErrorResponse struct {
	Error string `json:"error"`
}
