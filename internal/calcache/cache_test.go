package calcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"beamline/internal/calibration"
)

func testEntry(ttl int) Entry {
	return Entry{
		TTLSeconds: ttl,
		PerUnit: map[string]calibration.Result{
			"kraken0": {
				AmplitudeCorrectionsDB: []float64{0.4, -0.2},
				TimeDelayCorrectionsNs: []float64{12, -8},
				Status:                 calibration.StatusCalibrated,
			},
		},
	}
}

func TestGetRespectsTTLWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := New(filepath.Join(t.TempDir(), "cache.json"), nil, WithClock(clock))

	if err := store.Put("sweep", testEntry(3600)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Query at T+1800: still fresh.
	now = now.Add(1800 * time.Second)
	entry, ok, err := store.Get("sweep")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("entry should be fresh at half TTL")
	}
	if got := entry.PerUnit["kraken0"].AmplitudeCorrectionsDB[0]; got != 0.4 {
		t.Errorf("round-trip amplitude = %v, want 0.4", got)
	}

	// Query at T+3700: expired, reported absent.
	now = now.Add(1900 * time.Second)
	if _, ok, err := store.Get("sweep"); err != nil || ok {
		t.Fatalf("expired entry must be absent, got ok=%v err=%v", ok, err)
	}
}

func TestGetExactBoundaryIsExpired(t *testing.T) {
	now := time.Unix(1000, 0)
	store := New(filepath.Join(t.TempDir(), "cache.json"), nil,
		WithClock(func() time.Time { return now }))

	if err := store.Put("k", testEntry(60)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	now = now.Add(60 * time.Second)
	if _, ok, _ := store.Get("k"); ok {
		t.Fatal("entry exactly at TTL must be treated as absent")
	}
}

func TestGetMissingFileIsAbsentNotError(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "never-written.json"), nil)
	_, ok, err := store.Get("anything")
	if err != nil {
		t.Fatalf("missing cache file should not be an error: %v", err)
	}
	if ok {
		t.Fatal("missing cache file should be absent")
	}
}

func TestInvalidate(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "cache.json"), nil)
	if err := store.Put("k", testEntry(3600)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Invalidate("k"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok, _ := store.Get("k"); ok {
		t.Fatal("invalidated entry should be absent")
	}
	// Invalidating again is a no-op.
	if err := store.Invalidate("k"); err != nil {
		t.Fatalf("second Invalidate: %v", err)
	}
}

func TestClearRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	store := New(path, nil)
	if err := store.Put("k", testEntry(3600)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("cache file should be gone, stat err = %v", err)
	}
	// Clearing an absent cache is a no-op.
	if err := store.Clear(); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
}

func TestPutRejectsBadEntries(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "cache.json"), nil)
	if err := store.Put("", testEntry(3600)); err == nil {
		t.Error("empty key should be rejected")
	}
	if err := store.Put("k", testEntry(0)); err == nil {
		t.Error("non-positive TTL should be rejected")
	}
}

func TestCorruptCacheFileRecovered(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	store := New(path, nil)

	if _, _, err := store.Get("k"); err == nil {
		t.Error("reading a corrupt cache should surface an error")
	}
	// Writes recover by rewriting the file.
	if err := store.Put("k", testEntry(3600)); err != nil {
		t.Fatalf("Put over corrupt file: %v", err)
	}
	if _, ok, err := store.Get("k"); err != nil || !ok {
		t.Fatalf("entry should be readable after rewrite, ok=%v err=%v", ok, err)
	}
}

func TestEntriesListsAllIncludingExpired(t *testing.T) {
	now := time.Unix(5000, 0)
	clock := func() time.Time { return now }
	store := New(filepath.Join(t.TempDir(), "cache.json"), nil, WithClock(clock))

	if err := store.Put("old", testEntry(10)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	now = now.Add(time.Minute)
	if err := store.Put("new", testEntry(3600)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	entries, err := store.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Entries returned %d keys, want 2", len(entries))
	}
	if entries["old"].FreshAt(now) {
		t.Error("old entry should read as expired")
	}
	if !entries["new"].FreshAt(now) {
		t.Error("new entry should read as fresh")
	}
}

func TestEntriesMissingFileIsEmpty(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "cache.json"), nil)
	entries, err := store.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("missing file should yield empty map, got %d entries", len(entries))
	}
}
