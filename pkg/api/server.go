package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/valleyfi/perpengine/pkg/buffer"
	"github.com/valleyfi/perpengine/pkg/engine"
	"github.com/valleyfi/perpengine/pkg/opauth"
	"github.com/valleyfi/perpengine/pkg/price"
)

// Server is the read-plus-signed-submit HTTP/WebSocket front end over a
// single market's Dispatcher (spec §9's external query layer).
type Server struct {
	market common.Hash
	disp   *engine.Dispatcher
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger
}

// NewServer wires routes and starts nothing; call Start to serve.
func NewServer(market common.Hash, disp *engine.Dispatcher, log *zap.SugaredLogger) *Server {
	s := &Server{
		market: market,
		disp:   disp,
		router: mux.NewRouter(),
		hub:    newHub(log),
		log:    log,
	}
	s.setupRoutes()

	disp.OnFill = func(f engine.Fill) {
		s.hub.BroadcastToChannel("fills", FillEvent{
			Type:       "fill",
			Price:      f.Price.String(),
			BaseAtoms:  f.BaseAtoms,
			QuoteAtoms: f.QuoteAtoms,
			TakerIsBuy: f.TakerIsBid,
			Timestamp:  time.Now().UnixMilli(),
		})
	}
	disp.OnFunding = func(mb *buffer.MarketBuffer) {
		s.hub.BroadcastToChannel("funding", FundingUpdate{
			Type:              "funding",
			CumulativeFunding: mb.CumulativeFunding,
			OracleMantissa:    mb.OraclePriceMantissa,
			OracleExponent:    mb.OraclePriceExponent,
			Timestamp:         time.Now().UnixMilli(),
		})
	}

	return s
}

func (s *Server) setupRoutes() {
	v1 := s.router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/market", s.handleGetMarket).Methods("GET")
	v1.HandleFunc("/orderbook", s.handleGetOrderbook).Methods("GET")
	v1.HandleFunc("/accounts/{trader}", s.handleGetAccount).Methods("GET")

	v1.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	v1.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the hub and serves addr. It blocks until the listener fails.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})

	if s.log != nil {
		s.log.Infow("api.server starting", "addr", addr)
	}
	return http.ListenAndServe(addr, c.Handler(s.router))
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	mb := s.disp.Buffer()
	info := MarketInfo{
		BaseMintIndex:        mb.BaseMintIndex,
		BaseDecimals:         mb.BaseDecimals,
		QuoteDecimals:        mb.QuoteDecimals,
		InitialMarginBps:     mb.InitialMarginBps,
		MaintenanceMarginBps: mb.MaintenanceMarginBps,
		LiquidationBufferBps: mb.LiquidationBufferBps,
		TakerFeeBps:          mb.TakerFeeBps,
		OraclePriceMantissa:  mb.OraclePriceMantissa,
		OraclePriceExponent:  mb.OraclePriceExponent,
		CumulativeFunding:    mb.CumulativeFunding,
		InsuranceFund:        mb.InsuranceFund,
	}
	if mark, err := engine.MarkPrice(mb); err == nil {
		info.MarkPrice = mark.String()
	}
	respondJSON(w, info)
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	mb := s.disp.Buffer()
	respondJSON(w, snapshotBook(mb))
}

func snapshotBook(mb *buffer.MarketBuffer) OrderbookSnapshot {
	return OrderbookSnapshot{
		Bids:      aggregateLevels(mb, true),
		Asks:      aggregateLevels(mb, false),
		Timestamp: time.Now().UnixMilli(),
	}
}

// aggregateLevels walks a side of the book in price-time order and sums
// resting size by price, since readers never see individual order
// indices (spec §9).
func aggregateLevels(mb *buffer.MarketBuffer, isBid bool) []PriceLevel {
	tree := mb.BookTree(isBid)
	var levels []PriceLevel
	var last price.Price
	haveLast := false

	tree.InOrder(mb.Alloc, func(idx buffer.Index) bool {
		o := mb.OrderAt(idx)
		if haveLast && o.Price.Cmp(last) == 0 {
			levels[len(levels)-1].Size += o.NumBaseAtoms
		} else {
			levels = append(levels, PriceLevel{Price: o.Price.String(), Size: o.NumBaseAtoms})
			last = o.Price
			haveLast = true
		}
		return true
	})
	return levels
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	traderHex := mux.Vars(r)["trader"]
	if !common.IsHexAddress(traderHex) {
		respondError(w, http.StatusBadRequest, "invalid trader address")
		return
	}
	trader := common.HexToAddress(traderHex).Hash()

	mb := s.disp.Buffer()
	idx := mb.FindSeat(trader)
	if idx == buffer.NilIndex {
		respondError(w, http.StatusNotFound, "seat not found")
		return
	}
	seat := mb.SeatAt(idx)

	info := AccountInfo{
		Trader:            traderHex,
		QuoteWithdrawable: seat.QuoteWithdrawable,
		PositionSize:      seat.PositionSize,
		QuoteCostBasis:    seat.QuoteCostBasis,
		QuoteVolume:       seat.QuoteVolume,
	}
	if mark, err := engine.MarkPrice(mb); err == nil {
		if pnl, err := engine.Equity(mark, seat); err == nil {
			info.Equity = pnl
		}
		if _, required, err := engine.NotionalAndMargin(mark, seat.PositionSize, mb.InitialMarginBps); err == nil {
			info.InitialMarginRequired = required
		}
		if _, required, err := engine.NotionalAndMargin(mark, seat.PositionSize, mb.MaintenanceMarginBps); err == nil {
			info.MaintMarginRequired = required
		}
	}
	respondJSON(w, info)
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !common.IsHexAddress(req.Trader) {
		respondError(w, http.StatusBadRequest, "invalid trader address")
		return
	}
	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid signature encoding")
		return
	}
	trader := common.HexToAddress(req.Trader)

	dreq := engine.Request{
		Op:     engine.OpBatchUpdate,
		Trader: trader.Hash(),
		Envelope: opauth.Envelope{
			Kind:          opauth.KindPlace,
			Market:        s.market,
			Trader:        trader,
			Nonce:         req.Nonce,
			Deadline:      req.Deadline,
			IsBid:         req.IsBid,
			OrderType:     req.OrderType,
			PriceMantissa: req.PriceMantissa,
			PriceExponent: req.PriceExponent,
			NumBaseAtoms:  req.NumBaseAtoms,
			LastValidSlot: req.LastValidSlot,
		},
		Signature: sig,
		Places: []engine.PlaceRequest{{
			IsBid:         req.IsBid,
			PriceMantissa: req.PriceMantissa,
			PriceExponent: req.PriceExponent,
			NumBaseAtoms:  req.NumBaseAtoms,
			OrderType:     buffer.OrderType(req.OrderType),
			LastValidSlot: req.LastValidSlot,
		}},
		Now: time.Now().Unix(),
	}

	if err := s.disp.Dispatch(dreq); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.hub.BroadcastToChannel("orderbook", OrderbookUpdate{
		Type:      "orderbook",
		Bids:      aggregateLevels(s.disp.Buffer(), true),
		Asks:      aggregateLevels(s.disp.Buffer(), false),
		Timestamp: time.Now().UnixMilli(),
	})

	respondJSON(w, SubmitResponse{Status: "accepted"})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !common.IsHexAddress(req.Trader) {
		respondError(w, http.StatusBadRequest, "invalid trader address")
		return
	}
	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid signature encoding")
		return
	}
	trader := common.HexToAddress(req.Trader)

	dreq := engine.Request{
		Op:     engine.OpBatchUpdate,
		Trader: trader.Hash(),
		Envelope: opauth.Envelope{
			Kind:          opauth.KindCancel,
			Market:        s.market,
			Trader:        trader,
			Nonce:         req.Nonce,
			Deadline:      req.Deadline,
			OrderSequence: req.SequenceNumber,
		},
		Signature:  sig,
		CancelSeqs: []uint64{req.SequenceNumber},
		Now:        time.Now().Unix(),
	}

	if err := s.disp.Dispatch(dreq); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, SubmitResponse{Status: "accepted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}
