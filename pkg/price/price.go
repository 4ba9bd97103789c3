// Package price implements the engine's deterministic fixed-point price
// representation (spec §3.4): quote_atoms_per_base_atom = inner / 2^64,
// with all matching arithmetic done in integers so no price-sensitive
// path ever touches a float.
package price

import (
	"fmt"

	"github.com/holiman/uint256"
)

// shift is the fixed-point scale: inner / 2^shift = quote atoms per base atom.
const shift = 64

// Price is a 128-bit-valued fixed-point price. It is backed by
// uint256.Int (a 256-bit integer) because the go-ethereum dependency
// graph already carries that type. A price from FromMantissaExponent
// with a non-positive exponent fits in the low 128 bits; Max() sets all
// 256 bits, and a large positive exponent can also exceed 128 bits.
type Price struct {
	inner uint256.Int
}

// FromInner wraps a raw fixed-point inner value as a Price, for
// callers (the midpoint mark-price fallback) that already computed the
// inner value directly rather than from a mantissa/exponent pair.
func FromInner(inner *uint256.Int) Price {
	return Price{inner: *inner}
}

// FromBytes32 reconstructs a Price from its big-endian 32-byte inner
// representation, the wire form pkg/storage persists a resting order's
// price in.
func FromBytes32(b [32]byte) Price {
	var inner uint256.Int
	inner.SetBytes32(b[:])
	return Price{inner: inner}
}

// Max returns the largest representable price, used by the matching
// engine as a taker's "worst acceptable price" when a Swap buys base
// with no explicit limit (spec §4.E.4: "MAX for long").
func Max() Price {
	return Price{inner: *new(uint256.Int).Not(new(uint256.Int))}
}

// Zero reports whether the price has never been set.
func (p Price) Zero() bool { return p.inner.IsZero() }

// Inner exposes the raw fixed-point value, mostly for tests and logging.
func (p Price) Inner() *uint256.Int { return new(uint256.Int).Set(&p.inner) }

// Cmp orders two prices the same way their inner values order.
func (p Price) Cmp(o Price) int { return p.inner.Cmp(&o.inner) }

// FromMantissaExponent converts an oracle-style (mantissa, exponent) pair
// into a Price. exponent is the power-of-ten scale of mantissa, e.g.
// mantissa=1000000, exponent=-6 means 1.0 quote units per base unit.
//
// inner = mantissa * 10^exponent * 2^64, computed as an integer ratio to
// avoid floating point: if exponent >= 0, multiply by 10^exponent; else
// divide by 10^-exponent (rounding down, consistent with the engine's
// "round in the maker's favor" policy applied by callers).
func FromMantissaExponent(mantissa uint64, exponent int32) Price {
	m := new(uint256.Int).SetUint64(mantissa)
	m.Lsh(m, shift)

	if exponent >= 0 {
		ten := new(uint256.Int).SetUint64(10)
		pow := powUint256(ten, uint(exponent))
		m.Mul(m, pow)
		return Price{inner: *m}
	}

	ten := new(uint256.Int).SetUint64(10)
	pow := powUint256(ten, uint(-exponent))
	m.Div(m, pow)
	return Price{inner: *m}
}

// ToMantissaExponent renders the price back to a (mantissa, exponent) pair
// with a fixed exponent of -9 (nanounits), matching the precision the
// funding accumulator needs (§4.G).
func (p Price) ToMantissaExponent() (mantissa uint64, exponent int32) {
	ten := new(uint256.Int).SetUint64(10)
	pow9 := powUint256(ten, 9)
	scaled := new(uint256.Int).Mul(&p.inner, pow9)
	scaled.Rsh(scaled, shift)
	return scaled.Uint64(), -9
}

func powUint256(base *uint256.Int, exp uint) *uint256.Int {
	result := new(uint256.Int).SetUint64(1)
	b := new(uint256.Int).Set(base)
	for exp > 0 {
		if exp&1 == 1 {
			result.Mul(result, b)
		}
		b.Mul(b, b)
		exp >>= 1
	}
	return result
}

// QuoteAtoms computes the quote-atom amount for baseAtoms at this price,
// per spec §3.4/§4.E.3: quote_atoms = (base_atoms * inner) / 2^64, with an
// optional round-up. Takers round in the maker's favor (round up when they
// are paying, round down when they are receiving); callers decide which.
func (p Price) QuoteAtoms(baseAtoms uint64, roundUp bool) (uint64, error) {
	num := new(uint256.Int).SetUint64(baseAtoms)
	num.Mul(num, &p.inner)

	denom := new(uint256.Int).SetUint64(1)
	denom.Lsh(denom, shift)

	if roundUp {
		rem := new(uint256.Int)
		quo := new(uint256.Int)
		quo.DivMod(num, denom, rem)
		if !rem.IsZero() {
			quo.AddUint64(quo, 1)
		}
		if !quo.IsUint64() {
			return 0, fmt.Errorf("price: quote atoms overflow u64")
		}
		return quo.Uint64(), nil
	}

	quo := new(uint256.Int).Div(num, denom)
	if !quo.IsUint64() {
		return 0, fmt.Errorf("price: quote atoms overflow u64")
	}
	return quo.Uint64(), nil
}

// String renders the price as its integer inner value, for logs.
func (p Price) String() string { return p.inner.Dec() }
