package types

import (
	"testing"
	"time"
)

func TestULIDTimestampRoundTrip(t *testing.T) {
	gen := NewULIDGenerator()
	now := time.Now()

	u, err := gen.GenerateWithTime(now)
	if err != nil {
		t.Fatalf("GenerateWithTime failed: %v", err)
	}

	if got := u.Timestamp(); got != uint64(now.UnixMilli()) {
		t.Errorf("Timestamp() = %d, want %d", got, now.UnixMilli())
	}
	if !u.Time().Equal(time.UnixMilli(now.UnixMilli())) {
		t.Errorf("Time() = %v, want %v", u.Time(), time.UnixMilli(now.UnixMilli()))
	}
}

func TestULIDMonotonicWithinMillisecond(t *testing.T) {
	gen := NewULIDGenerator()
	ts := time.UnixMilli(1620000000000)

	var prev ULID
	for i := 0; i < 1000; i++ {
		u, err := gen.GenerateWithTime(ts)
		if err != nil {
			t.Fatalf("GenerateWithTime failed: %v", err)
		}
		if i > 0 && prev.Compare(u) >= 0 {
			t.Fatalf("ULID %d not strictly greater than predecessor: %s >= %s",
				i, prev, u)
		}
		prev = u
	}
}

func TestULIDMonotonicAcrossBackwardTime(t *testing.T) {
	gen := NewULIDGenerator()
	late := time.UnixMilli(1620000001000)
	early := time.UnixMilli(1620000000000)

	// Historical ingestion can present timestamps out of order. Ids must
	// still follow generation order, so the earlier timestamp is clamped.
	first, err := gen.GenerateWithTime(late)
	if err != nil {
		t.Fatalf("GenerateWithTime failed: %v", err)
	}
	second, err := gen.GenerateWithTime(early)
	if err != nil {
		t.Fatalf("GenerateWithTime failed: %v", err)
	}

	if first.Compare(second) >= 0 {
		t.Fatalf("backdated ULID sorts below earlier one: %s >= %s", first, second)
	}
	if got := second.Timestamp(); got != uint64(late.UnixMilli()) {
		t.Errorf("clamped Timestamp() = %d, want %d", got, late.UnixMilli())
	}
}

func TestULIDFromBytes(t *testing.T) {
	gen := NewULIDGenerator()
	u, err := gen.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	back, err := ULIDFromBytes(u.Bytes())
	if err != nil {
		t.Fatalf("ULIDFromBytes failed: %v", err)
	}
	if back.Compare(u) != 0 {
		t.Errorf("round trip mismatch: %s != %s", back, u)
	}

	if _, err := ULIDFromBytes([]byte{1, 2, 3}); err != ErrInvalidULIDLength {
		t.Errorf("expected ErrInvalidULIDLength, got %v", err)
	}
}

func TestULIDStringLength(t *testing.T) {
	gen := NewULIDGenerator()
	u, err := gen.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(u.String()) != 26 {
		t.Errorf("String() length = %d, want 26", len(u.String()))
	}
}
