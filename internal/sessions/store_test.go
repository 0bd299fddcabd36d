package sessions

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenPath(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBeginAndFinish(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	session, err := store.Begin(ctx, MethodParallel, "sweep|kraken0|kraken1")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if session.ID == "" {
		t.Fatal("session ID should be assigned")
	}
	if session.Status != StatusRunning {
		t.Fatalf("new session status = %q, want running", session.Status)
	}

	outcomes := []UnitOutcome{
		{Unit: "kraken0", Role: "master", Attempts: 1, DurationMillis: 4200, NoiseFloorDB: -81.5, Succeeded: true},
		{Unit: "kraken1", Role: "slave", Attempts: 2, DurationMillis: 9100, NoiseFloorDB: -79.8, Succeeded: true},
	}
	if err := store.Finish(ctx, session.ID, StatusSucceeded, outcomes, ""); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	loaded, err := store.GetByID(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if loaded == nil {
		t.Fatal("finished session not found")
	}
	if loaded.Status != StatusSucceeded {
		t.Errorf("status = %q, want succeeded", loaded.Status)
	}
	if loaded.FinishedAt == nil {
		t.Error("finished session should record finished_at")
	}
	if len(loaded.UnitOutcomes) != 2 {
		t.Fatalf("unit outcomes = %d, want 2", len(loaded.UnitOutcomes))
	}
	if loaded.UnitOutcomes[1].Attempts != 2 {
		t.Errorf("slave attempts = %d, want 2", loaded.UnitOutcomes[1].Attempts)
	}
	if loaded.Duration() <= 0 {
		t.Error("terminal session should report a positive duration")
	}
}

func TestFinishRejectsNonTerminalStatus(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	session, err := store.Begin(ctx, MethodSequential, "")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := store.Finish(ctx, session.ID, StatusRunning, nil, ""); err == nil {
		t.Fatal("Finish with running status should be rejected")
	}
}

func TestGetByIDMissingReturnsNil(t *testing.T) {
	store := openTestStore(t)
	session, err := store.GetByID(context.Background(), "no-such-session")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if session != nil {
		t.Fatal("missing session should be nil, not an error")
	}
}

func TestListNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first, err := store.Begin(ctx, MethodSequential, "")
	if err != nil {
		t.Fatalf("Begin first: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	second, err := store.Begin(ctx, MethodCached, "")
	if err != nil {
		t.Fatalf("Begin second: %v", err)
	}

	listed, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("listed %d sessions, want 2", len(listed))
	}
	if listed[0].ID != second.ID || listed[1].ID != first.ID {
		t.Errorf("sessions not newest first: got %s, %s", listed[0].ID, listed[1].ID)
	}

	limited, err := store.List(ctx, 1)
	if err != nil {
		t.Fatalf("List limited: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != second.ID {
		t.Errorf("limit 1 should return only the newest session")
	}
}

func TestAbortRunning(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	running, err := store.Begin(ctx, MethodParallel, "")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	done, err := store.Begin(ctx, MethodParallel, "")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := store.Finish(ctx, done.ID, StatusSucceeded, nil, ""); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	affected, err := store.AbortRunning(ctx, DaemonStopReason)
	if err != nil {
		t.Fatalf("AbortRunning: %v", err)
	}
	if affected != 1 {
		t.Fatalf("aborted %d sessions, want 1", affected)
	}

	loaded, err := store.GetByID(ctx, running.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if loaded.Status != StatusAborted {
		t.Errorf("status = %q, want aborted", loaded.Status)
	}
	if loaded.ErrorMessage != DaemonStopReason {
		t.Errorf("error message = %q, want %q", loaded.ErrorMessage, DaemonStopReason)
	}

	// Terminal sessions are untouched.
	finished, err := store.GetByID(ctx, done.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if finished.Status != StatusSucceeded {
		t.Errorf("finished session status = %q, want succeeded", finished.Status)
	}
}

func TestHealthCounts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	ok, err := store.Begin(ctx, MethodShared, "")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := store.Finish(ctx, ok.ID, StatusSucceeded, nil, ""); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	bad, err := store.Begin(ctx, MethodShared, "")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := store.Finish(ctx, bad.ID, StatusFailed, nil, "sync threshold exceeded"); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if _, err := store.Begin(ctx, MethodShared, ""); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Total != 3 || health.Succeeded != 1 || health.Failed != 1 || health.Running != 1 {
		t.Errorf("unexpected health summary: %+v", health)
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		session, err := store.Begin(ctx, MethodSequential, "")
		if err != nil {
			t.Fatalf("Begin: %v", err)
		}
		if err := store.Finish(ctx, session.ID, StatusSucceeded, nil, ""); err != nil {
			t.Fatalf("Finish: %v", err)
		}
		ids = append(ids, session.ID)
		time.Sleep(5 * time.Millisecond)
	}

	pruned, err := store.Prune(ctx, 2)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if pruned != 2 {
		t.Fatalf("pruned %d sessions, want 2", pruned)
	}

	remaining, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("remaining %d sessions, want 2", len(remaining))
	}
	if remaining[0].ID != ids[3] || remaining[1].ID != ids[2] {
		t.Error("prune should keep the newest sessions")
	}
}
