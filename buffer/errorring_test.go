package buffer

import (
	"fmt"
	"testing"
	"time"
)

func TestErrorRingCapacityAndEviction(t *testing.T) {
	ring := NewErrorRing(10)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 11; i++ {
		ring.Add(base.Add(time.Duration(i)*time.Second), fmt.Sprintf("error %d", i))
	}

	if got := ring.Len(); got != 10 {
		t.Fatalf("expected ring to hold 10 records after 11 inserts, got %d", got)
	}
	records := ring.All()
	if len(records) != 10 {
		t.Fatalf("expected 10 records, got %d", len(records))
	}
	// Newest first; the oldest insert ("error 0") must have been evicted.
	if records[0].Message != "error 10" {
		t.Fatalf("expected newest record first, got %q", records[0].Message)
	}
	if records[len(records)-1].Message != "error 1" {
		t.Fatalf("expected oldest surviving record to be \"error 1\", got %q", records[len(records)-1].Message)
	}
	for _, rec := range records {
		if rec.Message == "error 0" {
			t.Fatalf("expected \"error 0\" to be evicted")
		}
	}
}

func TestErrorRingEmpty(t *testing.T) {
	ring := NewErrorRing(10)
	if got := ring.Len(); got != 0 {
		t.Fatalf("expected empty ring, got %d", got)
	}
	if records := ring.All(); len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestErrorRingRecentLimit(t *testing.T) {
	ring := NewErrorRing(10)
	for i := 0; i < 5; i++ {
		ring.Add(time.Now(), fmt.Sprintf("error %d", i))
	}
	recent := ring.Recent(3)
	if len(recent) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recent))
	}
	if recent[0].Message != "error 4" || recent[2].Message != "error 2" {
		t.Fatalf("unexpected order: %q ... %q", recent[0].Message, recent[2].Message)
	}
	if got := ring.Total(); got != 5 {
		t.Fatalf("expected total 5, got %d", got)
	}
}
