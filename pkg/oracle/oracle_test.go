package oracle

import (
	"testing"

	"github.com/valleyfi/perpengine/pkg/perrors"
)

func TestClampedReaderPassesThroughAdvancingTimestamps(t *testing.T) {
	quotes := []Quote{
		{Mantissa: 100, Timestamp: 10},
		{Mantissa: 101, Timestamp: 20},
	}
	i := 0
	inner := FuncReader(func() (Quote, error) {
		q := quotes[i]
		i++
		return q, nil
	})
	clamped := NewClampedReader(inner)

	for _, want := range quotes {
		got, err := clamped.Read()
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if got != want {
			t.Fatalf("Read() = %+v, want %+v", got, want)
		}
	}
}

func TestClampedReaderRejectsTimestampGoingBackward(t *testing.T) {
	quotes := []Quote{
		{Mantissa: 100, Timestamp: 20},
		{Mantissa: 99, Timestamp: 10},
	}
	i := 0
	inner := FuncReader(func() (Quote, error) {
		q := quotes[i]
		i++
		return q, nil
	})
	clamped := NewClampedReader(inner)

	if _, err := clamped.Read(); err != nil {
		t.Fatalf("first Read: %v", err)
	}
	if _, err := clamped.Read(); err != perrors.ErrOracleStale {
		t.Fatalf("second Read with an older timestamp: got %v, want ErrOracleStale", err)
	}
}

func TestClampedReaderAllowsRepeatedTimestamp(t *testing.T) {
	inner := StaticReader{Quote: Quote{Mantissa: 100, Timestamp: 10}}
	clamped := NewClampedReader(inner)

	if _, err := clamped.Read(); err != nil {
		t.Fatalf("first Read: %v", err)
	}
	if _, err := clamped.Read(); err != nil {
		t.Fatalf("Read with a repeated timestamp should not be treated as stale: %v", err)
	}
}
