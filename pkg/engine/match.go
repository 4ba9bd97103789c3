package engine

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/valleyfi/perpengine/pkg/buffer"
	"github.com/valleyfi/perpengine/pkg/perrors"
	"github.com/valleyfi/perpengine/pkg/price"
	"github.com/valleyfi/perpengine/pkg/vault"
)

// Fill records one maker/taker crossing, in the shape spec §6.4 assigns
// to the Fill log record: both sides' sequence numbers, the quantity,
// the maker's price, and which side the taker was on.
type Fill struct {
	TakerSeat   buffer.Index
	MakerSeat   buffer.Index
	TakerSeq    uint64
	MakerSeq    uint64
	Price       price.Price
	BaseAtoms   uint64
	QuoteAtoms  uint64
	TakerIsBid  bool
}

// PlaceParams are the inputs to Place (spec §4.E.1).
type PlaceParams struct {
	TraderSeat    buffer.Index
	IsBid         bool
	Price         price.Price
	NumBaseAtoms  uint64
	OrderType     buffer.OrderType
	LastValidSlot uint32
	CurrentSlot   uint32
}

// PlaceResult is what a placement produced: any fills, and the index of
// the resulting resting order, or NilIndex if none rests.
type PlaceResult struct {
	OrderIndex buffer.Index
	Fills      []Fill
}

func crosses(makerPrice, takerPrice price.Price, takerIsBid bool) bool {
	if takerIsBid {
		return makerPrice.Cmp(takerPrice) <= 0 // bids match asks priced at or below the limit
	}
	return makerPrice.Cmp(takerPrice) >= 0 // asks match bids priced at or above the limit
}

// Place walks the opposite side of the book against a new order,
// applying price-time priority, expiry, and self-trade handling (spec
// §4.E.1-§4.E.3), then rests, discards, or rejects any remainder
// according to order_type.
func Place(mb *buffer.MarketBuffer, p PlaceParams) (PlaceResult, error) {
	if p.NumBaseAtoms == 0 {
		return PlaceResult{OrderIndex: buffer.NilIndex}, nil
	}

	tree := mb.BookTree(!p.IsBid)
	remaining := p.NumBaseAtoms
	var fills []Fill
	anyFill := false
	takerSeq := mb.NextSeq()

	cur := tree.Min(mb.Alloc, tree.Root())
	for remaining > 0 && cur != buffer.NilIndex {
		maker := mb.OrderAt(cur)
		if !crosses(maker.Price, p.Price, p.IsBid) {
			break
		}
		next := tree.Successor(mb.Alloc, cur)

		if maker.Expired(p.CurrentSlot) {
			mb.RemoveOrder(cur)
			cur = next
			continue
		}

		if maker.TraderSeatIndex == p.TraderSeat {
			// spec §4.E.1: self-trade makers are skipped, not removed.
			cur = next
			continue
		}

		matchBase := maker.NumBaseAtoms
		if remaining < matchBase {
			matchBase = remaining
		}

		// A single rounded-up quote figure is shared by both legs: spec
		// §4.F.1 notes a perps fill moves no gross quote between seats,
		// only symmetric cost-basis bookkeeping, so there is exactly one
		// amount to round, not a taker/maker pair. Rounding up favors the
		// resting book per §4.E.2/§4.E.3.
		quote, err := maker.Price.QuoteAtoms(matchBase, true)
		if err != nil {
			return PlaceResult{}, err
		}

		takerSeat := mb.SeatAt(p.TraderSeat)
		makerSeat := mb.SeatAt(maker.TraderSeatIndex)

		var takerDelta int64
		if p.IsBid {
			takerDelta = int64(matchBase)
		} else {
			takerDelta = -int64(matchBase)
		}
		ApplyFill(takerSeat, takerDelta, quote)
		ApplyFill(makerSeat, -takerDelta, quote)

		fills = append(fills, Fill{
			TakerSeat:  p.TraderSeat,
			MakerSeat:  maker.TraderSeatIndex,
			TakerSeq:   takerSeq,
			MakerSeq:   maker.SequenceNumber,
			Price:      maker.Price,
			BaseAtoms:  matchBase,
			QuoteAtoms: quote,
			TakerIsBid: p.IsBid,
		})
		anyFill = true

		remaining -= matchBase
		maker.NumBaseAtoms -= matchBase
		if maker.NumBaseAtoms == 0 {
			mb.RemoveOrder(cur)
		}
		cur = next
	}

	if p.OrderType == buffer.PostOnly && anyFill {
		return PlaceResult{}, perrors.ErrPostOnlyCrossed
	}

	result := PlaceResult{OrderIndex: buffer.NilIndex, Fills: fills}
	if remaining == 0 {
		return result, nil
	}

	switch p.OrderType {
	case buffer.ImmediateOrCancel:
		return result, nil
	case buffer.PostOnly, buffer.Limit:
		order := buffer.RestingOrder{
			TraderSeatIndex: p.TraderSeat,
			SequenceNumber:  takerSeq,
			Price:           p.Price,
			NumBaseAtoms:    remaining,
			LastValidSlot:   p.LastValidSlot,
			IsBid:           p.IsBid,
			OrderType:       p.OrderType,
		}
		idx, err := mb.InsertOrder(order)
		if err != nil {
			return PlaceResult{}, err
		}
		result.OrderIndex = idx
		return result, nil
	default:
		return PlaceResult{}, perrors.ErrInvalidOperation
	}
}

// SwapParams are the inputs to Swap (spec §4.E.4, §6.2 op 4).
type SwapParams struct {
	InAtoms     uint64
	OutAtoms    uint64
	IsBaseIn    bool
	IsExactIn   bool
	CurrentSlot uint32
}

// Swap is the taker-only placement variant that does not require a
// pre-existing deposit (spec §4.E.4). It auto-claims a seat, treats
// InAtoms as the taker's budget, issues a worst-case-price IOC order,
// collects a taker fee into the insurance fund, and enforces the
// initial-margin check on the resulting position.
func Swap(mb *buffer.MarketBuffer, tv vault.TokenVault, trader common.Hash, p SwapParams) (PlaceResult, error) {
	seatIdx := mb.FindSeat(trader)
	if seatIdx == buffer.NilIndex {
		var err error
		seatIdx, err = mb.ClaimSeat(trader)
		if err != nil {
			return PlaceResult{}, err
		}
	}
	seat := mb.SeatAt(seatIdx)
	SettleFunding(mb, seat)

	var pp PlaceParams
	if p.IsBaseIn {
		// Selling base (short flow): no token transfer, the short's
		// collateral is the seat's existing quote balance.
		pp = PlaceParams{
			TraderSeat:   seatIdx,
			IsBid:        false,
			Price:        price.Price{},
			NumBaseAtoms: p.InAtoms,
			OrderType:    buffer.ImmediateOrCancel,
			CurrentSlot:  p.CurrentSlot,
		}
	} else {
		// Buying base (long flow): the deposited quote becomes margin
		// before matching, per spec §4.E.4.
		if err := tv.TransferIn(trader, p.InAtoms); err != nil {
			return PlaceResult{}, err
		}
		seat.QuoteWithdrawable += p.InAtoms
		pp = PlaceParams{
			TraderSeat:   seatIdx,
			IsBid:        true,
			Price:        price.Max(),
			NumBaseAtoms: p.OutAtoms,
			OrderType:    buffer.ImmediateOrCancel,
			CurrentSlot:  p.CurrentSlot,
		}
	}

	result, err := Place(mb, pp)
	if err != nil {
		return result, err
	}

	var filledQuote uint64
	for _, f := range result.Fills {
		filledQuote += f.QuoteAtoms
	}

	if p.IsBaseIn && filledQuote < p.OutAtoms {
		return result, perrors.ErrInsufficientOut
	}

	feeQuote := filledQuote * mb.TakerFeeBps / 10_000
	seat.QuoteWithdrawable = addSigned(seat.QuoteWithdrawable, -int64(feeQuote))
	mb.InsuranceFund += feeQuote

	if err := CheckInitialMargin(mb, seat); err != nil {
		return result, err
	}
	return result, nil
}
