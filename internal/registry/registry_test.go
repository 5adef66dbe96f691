package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperclast/firebreak/internal/domain"
)

func TestPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(filepath.Join(dir, "snapshots.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	var key domain.PoolKey
	key[0] = 7
	snap := &domain.Snapshot{PoolKey: key, Path: "/var/lib/firebreak/snap-7", CreatedAt: time.Now().Truncate(time.Second)}

	ctx := context.Background()
	if err := r.Put(ctx, key, snap); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok, err := r.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatalf("expected a stored snapshot")
	}
	if got.Path != snap.Path {
		t.Fatalf("expected path %q, got %q", snap.Path, got.Path)
	}
}

func TestGetMissingReturnsNotOK(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(filepath.Join(dir, "snapshots.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	var key domain.PoolKey
	_, ok, err := r.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("expected no snapshot for an unregistered key")
	}
}

func TestIncrementRestoreCountAndDelete(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(filepath.Join(dir, "snapshots.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	var key domain.PoolKey
	key[0] = 3
	ctx := context.Background()
	if err := r.Put(ctx, key, &domain.Snapshot{PoolKey: key, Path: "p", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := r.IncrementRestoreCount(ctx, key); err != nil {
		t.Fatalf("increment: %v", err)
	}
	got, ok, err := r.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("get after increment: ok=%v err=%v", ok, err)
	}
	if got.RestoreCnt != 1 {
		t.Fatalf("expected restore count 1, got %d", got.RestoreCnt)
	}

	if err := r.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, ok, err = r.Get(ctx, key)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if ok {
		t.Fatalf("expected the snapshot to be gone after delete")
	}
}
