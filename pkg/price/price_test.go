package price

import "testing"

func TestFromMantissaExponentRoundTrip(t *testing.T) {
	p := FromMantissaExponent(1_000_000, -6) // 1.0 quote per base
	got, exp := p.ToMantissaExponent()
	if exp != -9 {
		t.Fatalf("exponent = %d, want -9", exp)
	}
	want := uint64(1_000_000_000) // 1.0 at 1e-9 precision
	if got != want {
		t.Fatalf("mantissa = %d, want %d", got, want)
	}
}

func TestQuoteAtomsRounding(t *testing.T) {
	// inner = floor(0.333333333 * 2^64) so that 3 base atoms * inner isn't an exact
	// multiple of 2^64 and rounding direction actually matters.
	p := FromMantissaExponent(333_333_333, -9)

	down, err := p.QuoteAtoms(3, false)
	if err != nil {
		t.Fatalf("QuoteAtoms(down): %v", err)
	}
	up, err := p.QuoteAtoms(3, true)
	if err != nil {
		t.Fatalf("QuoteAtoms(up): %v", err)
	}
	if up < down {
		t.Fatalf("round-up result %d < round-down result %d", up, down)
	}
}

func TestBytes32RoundTrip(t *testing.T) {
	p := FromMantissaExponent(42_000_000, -6)
	b := p.Inner().Bytes32()
	got := FromBytes32(b)
	if got.Cmp(p) != 0 {
		t.Fatalf("FromBytes32(p.Inner().Bytes32()) = %s, want %s", got.String(), p.String())
	}
}

func TestMaxIsGreatestAndCmp(t *testing.T) {
	lo := FromMantissaExponent(1, -9)
	hi := Max()
	if hi.Cmp(lo) <= 0 {
		t.Fatalf("Max() did not compare greater than a small price")
	}
	if lo.Cmp(lo) != 0 {
		t.Fatalf("Cmp(self) != 0")
	}
}

func TestZero(t *testing.T) {
	var p Price
	if !p.Zero() {
		t.Fatalf("zero-value Price should report Zero() == true")
	}
	nz := FromMantissaExponent(1, 0)
	if nz.Zero() {
		t.Fatalf("non-zero price reported Zero() == true")
	}
}
