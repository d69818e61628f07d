package locks

import (
	"context"
	"testing"
	"time"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/errors"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/store"
)

func TestLockReleaseRoundTrip(t *testing.T) {
	m := NewManager(store.NewMemoryStore(), time.Hour, nil)
	ctx := context.Background()

	if err := m.LockFiles(ctx, "task-1", "agent-1", []string{"a.go", "b.go"}); err != nil {
		t.Fatalf("LockFiles: %v", err)
	}
	live, err := m.LockedFiles(ctx)
	if err != nil {
		t.Fatalf("LockedFiles: %v", err)
	}
	if len(live) != 2 {
		t.Fatalf("live locks = %d, want 2", len(live))
	}
	for _, lock := range live {
		if lock.ExpiresAt == nil {
			t.Error("lock missing TTL expiry")
		}
	}

	// Another task cannot take a held path.
	err = m.LockFiles(ctx, "task-2", "agent-2", []string{"b.go"})
	if !errors.IsResourceBusy(err) {
		t.Fatalf("conflicting LockFiles = %v, want ResourceBusy", err)
	}

	if err := m.ReleaseFileLocks(ctx, "task-1"); err != nil {
		t.Fatalf("ReleaseFileLocks: %v", err)
	}
	live, _ = m.LockedFiles(ctx)
	if len(live) != 0 {
		t.Fatalf("live after release = %d, want 0", len(live))
	}
	// Releasing again is a no-op.
	if err := m.ReleaseFileLocks(ctx, "task-1"); err != nil {
		t.Fatalf("double release: %v", err)
	}
}

func TestConflicts(t *testing.T) {
	m := NewManager(store.NewMemoryStore(), time.Hour, nil)
	ctx := context.Background()

	if err := m.LockFiles(ctx, "task-1", "agent-1", []string{"shared.go"}); err != nil {
		t.Fatal(err)
	}

	got, err := m.Conflicts(ctx, "task-2", []string{"shared.go", "free.go"})
	if err != nil {
		t.Fatalf("Conflicts: %v", err)
	}
	if len(got) != 1 || got[0] != "shared.go" {
		t.Errorf("Conflicts = %v, want [shared.go]", got)
	}

	// The holding task itself sees no conflict.
	got, _ = m.Conflicts(ctx, "task-1", []string{"shared.go"})
	if len(got) != 0 {
		t.Errorf("holder Conflicts = %v, want none", got)
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	st := store.NewMemoryStore()
	m := NewManager(st, time.Hour, nil)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	if err := st.UpsertLocks(ctx, []domain.FileLock{
		{FilePath: "old.go", TaskID: "task-1", LockedAt: past.Add(-time.Hour), ExpiresAt: &past},
	}); err != nil {
		t.Fatal(err)
	}
	if err := m.LockFiles(ctx, "task-2", "agent-1", []string{"fresh.go"}); err != nil {
		t.Fatal(err)
	}

	m.Sweep(ctx)

	live, _ := m.LockedFiles(ctx)
	if len(live) != 1 || live[0].FilePath != "fresh.go" {
		t.Errorf("after sweep = %+v, want only fresh.go", live)
	}

	// An expired path is claimable without waiting for the sweep.
	m2 := NewManager(st, time.Hour, nil)
	if err := st.UpsertLocks(ctx, []domain.FileLock{
		{FilePath: "stale.go", TaskID: "task-3", LockedAt: past, ExpiresAt: &past},
	}); err != nil {
		t.Fatal(err)
	}
	if err := m2.LockFiles(ctx, "task-4", "agent-2", []string{"stale.go"}); err != nil {
		t.Errorf("claiming expired path: %v", err)
	}
}
