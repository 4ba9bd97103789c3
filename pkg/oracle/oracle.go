// Package oracle defines the engine's collaborator boundary with an
// external price oracle (spec §9 "Oracle layout"). The core only ever
// depends on the (mantissa, exponent, status, timestamp) tuple; the
// byte layout of any particular oracle account lives behind Reader
// implementations outside this package.
package oracle

import (
	"sync"

	"github.com/valleyfi/perpengine/pkg/perrors"
)

// Status reports whether an oracle reading can be trusted.
type Status uint8

const (
	StatusTrading Status = iota
	StatusHalted
	StatusUnknown
)

// Quote is the collaborator-supplied tuple the core engine consumes.
type Quote struct {
	Mantissa  uint64
	Exponent  int32
	Status    Status
	Timestamp int64 // unix seconds
}

// Reader reads the current oracle quote for a market's configured
// oracle id. A real deployment implements this against a chain-specific
// account layout; tests use StaticReader.
type Reader interface {
	Read() (Quote, error)
}

// StaticReader returns a fixed quote, for tests and the devnet harness.
type StaticReader struct {
	Quote Quote
}

func (r StaticReader) Read() (Quote, error) { return r.Quote, nil }

// FuncReader adapts a plain function to the Reader interface, useful for
// tests that want to vary the oracle price call by call.
type FuncReader func() (Quote, error)

func (f FuncReader) Read() (Quote, error) { return f() }

// ClampedReader wraps another Reader and rejects any quote whose
// Timestamp moves backward relative to the newest one already returned.
// A chain-specific account can be read mid-update or re-read after a
// validator rolls back to an older slot; without this guard a stale
// read could undo CrankFunding's "last_funding_ts only moves forward"
// assumption (see original system's liquidate.rs staleness check) by
// feeding it an oracle price older than the one already cached.
type ClampedReader struct {
	inner Reader

	mu   sync.Mutex
	last int64
}

// NewClampedReader wraps inner with monotonic-timestamp enforcement.
func NewClampedReader(inner Reader) *ClampedReader {
	return &ClampedReader{inner: inner}
}

func (c *ClampedReader) Read() (Quote, error) {
	q, err := c.inner.Read()
	if err != nil {
		return Quote{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if q.Timestamp < c.last {
		return Quote{}, perrors.ErrOracleStale
	}
	c.last = q.Timestamp
	return q, nil
}
