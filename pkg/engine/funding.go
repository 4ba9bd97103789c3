package engine

import (
	"github.com/valleyfi/perpengine/pkg/buffer"
	"github.com/valleyfi/perpengine/pkg/oracle"
	"github.com/valleyfi/perpengine/pkg/price"
)

func priceFromQuote(q oracle.Quote) price.Price {
	return price.FromMantissaExponent(q.Mantissa, q.Exponent)
}

// SettleFunding lazily applies any funding accrued since seat's last
// checkpoint (spec §4.G, "per-trader settlement"). Every operation that
// touches a seat calls this before reading margin or position.
//
// delta > 0 means mark traded above oracle over the interval: longs
// pay, shorts receive, the standard perpetual convention.
func SettleFunding(mb *buffer.MarketBuffer, seat *buffer.Seat) {
	delta := mb.CumulativeFunding - seat.LastCumulativeFunding
	if delta == 0 {
		seat.LastCumulativeFunding = mb.CumulativeFunding
		return
	}
	payment := seat.PositionSize * delta / FundingScale
	seat.QuoteWithdrawable = addSigned(seat.QuoteWithdrawable, -payment)
	seat.LastCumulativeFunding = mb.CumulativeFunding
}

// CrankFunding advances the global cumulative-funding counter from the
// oracle (spec §4.G). now is the current unix-second timestamp.
func CrankFunding(mb *buffer.MarketBuffer, reader oracle.Reader, now int64) error {
	quote, err := reader.Read()
	if err != nil {
		return err
	}

	if mb.LastFundingTimestamp == 0 {
		// Cold start: cache oracle, set timestamp, accrue nothing. Spec
		// §4.G relies on this so tests get a clean starting point.
		mb.OraclePriceMantissa = quote.Mantissa
		mb.OraclePriceExponent = quote.Exponent
		mb.LastFundingTimestamp = now
		return nil
	}

	dt := now - mb.LastFundingTimestamp
	if dt > FundingPeriodSeconds {
		dt = FundingPeriodSeconds
	}
	if dt <= 0 {
		return nil
	}

	oraclePrice := priceFromQuote(quote)
	markPrice, err := MarkPrice(mb)
	if err != nil {
		// No book and no prior oracle cache to fall back on: refresh the
		// cache and wait for the next crank rather than failing the op.
		mb.OraclePriceMantissa = quote.Mantissa
		mb.OraclePriceExponent = quote.Exponent
		mb.LastFundingTimestamp = now
		return nil
	}

	const reference = 1_000_000_000 // 10^9 base atoms, chosen for precision per spec §4.G.3
	oracleQuote, err1 := oraclePrice.QuoteAtoms(reference, false)
	markQuote, err2 := markPrice.QuoteAtoms(reference, false)
	if err1 != nil || err2 != nil || oracleQuote == 0 || markQuote == 0 {
		mb.OraclePriceMantissa = quote.Mantissa
		mb.OraclePriceExponent = quote.Exponent
		mb.LastFundingTimestamp = now
		return nil
	}

	rate := (int64(markQuote) - int64(oracleQuote)) * FundingScale * dt / (int64(oracleQuote) * FundingPeriodSeconds)
	if rate > MaxFundingRate {
		rate = MaxFundingRate
	} else if rate < -MaxFundingRate {
		rate = -MaxFundingRate
	}

	mb.CumulativeFunding += rate
	mb.OraclePriceMantissa = quote.Mantissa
	mb.OraclePriceExponent = quote.Exponent
	mb.LastFundingTimestamp = now
	return nil
}
