package recorder

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	rec, err := New(filepath.Join(t.TempDir(), "outcomes.db"))
	if err != nil {
		t.Fatalf("open recorder: %v", err)
	}
	t.Cleanup(func() { rec.Close() })
	return rec
}

func TestRecordAndCount(t *testing.T) {
	rec := openTestRecorder(t)
	now := time.Now()

	outcomes := []Outcome{
		{DeviceID: "sensor-1", Payload: `{"t":"21"}`, SimulatedAt: now, Status: StatusRequested},
		{DeviceID: "sensor-1", Payload: `{"t":"21"}`, SimulatedAt: now, Status: StatusResponded},
		{DeviceID: "sensor-2", Payload: `{"t":"22"}`, SimulatedAt: now, Status: StatusErrored, Error: "timeout"},
	}
	for _, o := range outcomes {
		if err := rec.Record(o); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	total, err := rec.Count("")
	if err != nil {
		t.Fatalf("count all: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3 outcomes, got %d", total)
	}
	errored, err := rec.Count(StatusErrored)
	if err != nil {
		t.Fatalf("count errored: %v", err)
	}
	if errored != 1 {
		t.Fatalf("expected 1 errored outcome, got %d", errored)
	}
}

func TestReopenKeepsOutcomes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outcomes.db")
	rec, err := New(path)
	if err != nil {
		t.Fatalf("open recorder: %v", err)
	}
	if err := rec.Record(Outcome{DeviceID: "d", Status: StatusRequested, SimulatedAt: time.Now()}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rec, err = New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer rec.Close()
	count, err := rec.Count(StatusRequested)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the recorded outcome to survive reopening, got %d", count)
	}
}

func TestNewCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "outcomes.db")
	rec, err := New(path)
	if err != nil {
		t.Fatalf("expected parent directories created, got %v", err)
	}
	rec.Close()
}
