// Package registry persists snapshot provenance across daemon restarts
// (SPEC_FULL.md §C): which PoolKey has a built snapshot, where its file
// lives, and how many times it has been restored from. Without this, a
// restarted daemon would re-run every pool's provisioning pipeline even
// though the snapshot files on disk are still valid.
//
// Grounded on xfeldman-aegisvm's embedded modernc.org/sqlite usage for
// local daemon state: a pure-Go driver needing no cgo toolchain, a good
// fit for a single small table that only this process reads and writes.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hyperclast/firebreak/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	pool_key    TEXT PRIMARY KEY,
	path        TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	restore_cnt INTEGER NOT NULL DEFAULT 0
);
`

// Registry is a durable record of one snapshot per PoolKey.
type Registry struct {
	db *sql.DB
}

// Open creates (if needed) and opens the sqlite database at path.
func Open(path string) (*Registry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("registry: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: migrate: %w", err)
	}
	return &Registry{db: db}, nil
}

// Close releases the underlying database handle.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Put records (or replaces) the snapshot known for key.
func (r *Registry) Put(ctx context.Context, key domain.PoolKey, snap *domain.Snapshot) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO snapshots (pool_key, path, created_at, restore_cnt)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(pool_key) DO UPDATE SET path=excluded.path, created_at=excluded.created_at, restore_cnt=excluded.restore_cnt
	`, key.String(), snap.Path, snap.CreatedAt.Unix(), snap.RestoreCnt)
	if err != nil {
		return fmt.Errorf("registry: put %s: %w", key, err)
	}
	return nil
}

// Get returns the snapshot recorded for key, or ok=false if none exists.
func (r *Registry) Get(ctx context.Context, key domain.PoolKey) (*domain.Snapshot, bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT path, created_at, restore_cnt FROM snapshots WHERE pool_key = ?`, key.String())

	var path string
	var createdAtUnix int64
	var restoreCnt int
	if err := row.Scan(&path, &createdAtUnix, &restoreCnt); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("registry: get %s: %w", key, err)
	}
	return &domain.Snapshot{
		PoolKey:    key,
		Path:       path,
		CreatedAt:  time.Unix(createdAtUnix, 0),
		RestoreCnt: restoreCnt,
	}, true, nil
}

// IncrementRestoreCount bumps the restore counter for key by one,
// called each time Pool.bootOne restores a VM from this snapshot.
func (r *Registry) IncrementRestoreCount(ctx context.Context, key domain.PoolKey) error {
	_, err := r.db.ExecContext(ctx, `UPDATE snapshots SET restore_cnt = restore_cnt + 1 WHERE pool_key = ?`, key.String())
	if err != nil {
		return fmt.Errorf("registry: increment restore count %s: %w", key, err)
	}
	return nil
}

// Delete removes the recorded snapshot for key, used by
// poolmgr.Manager.Rebuild so a rebuilt pool re-provisions from scratch
// instead of restoring a snapshot belonging to its predecessor.
func (r *Registry) Delete(ctx context.Context, key domain.PoolKey) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM snapshots WHERE pool_key = ?`, key.String())
	if err != nil {
		return fmt.Errorf("registry: delete %s: %w", key, err)
	}
	return nil
}
