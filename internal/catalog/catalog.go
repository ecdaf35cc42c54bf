// Package catalog is the durable record of what segments exist on disk and
// how far the WAL has been replayed, backed by a local SQLite database file
// per index directory.
//
// Grounded on sqlite-vec/store.go's EnsureTable/database/sql usage: the
// same CREATE TABLE IF NOT EXISTS + prepared-statement style, reused for a
// segments/wal_state schema instead of a chunks table. This is the piece
// spec.md §4.10 assigns the job internal/wal explicitly does not do:
// reconstructing the growing/sealed segment list across a process restart
// (the WAL alone only ever reconstructs `write` and `version_map`).
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Kind distinguishes a growing segment (still being indexed) from a sealed
// one (has a built index) in the segments table.
type Kind string

const (
	KindGrowing Kind = "growing"
	KindSealed  Kind = "sealed"
)

// Segment is one row of the segments table: enough to reopen a segment's
// files without re-scanning the index directory.
type Segment struct {
	ID        string
	Kind      Kind
	Path      string
	RowCount  int
	CreatedAt time.Time
}

// Catalog wraps a per-index-directory SQLite database holding the segments
// table and the single-row wal_state watermark.
type Catalog struct {
	db *sql.DB
}

// Open opens (creating if absent) the catalog database at path and ensures
// its schema exists.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver: one writer at a time, avoid SQLITE_BUSY
	c := &Catalog{db: db}
	if err := c.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) ensureSchema() error {
	_, err := c.db.Exec(`CREATE TABLE IF NOT EXISTS segments (
		id         TEXT PRIMARY KEY,
		kind       TEXT NOT NULL,
		path       TEXT NOT NULL,
		row_count  INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("catalog: create segments table: %w", err)
	}
	_, err = c.db.Exec(`CREATE TABLE IF NOT EXISTS wal_state (
		id         INTEGER PRIMARY KEY CHECK (id = 0),
		wal_offset INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("catalog: create wal_state table: %w", err)
	}
	_, err = c.db.Exec(`INSERT OR IGNORE INTO wal_state (id, wal_offset) VALUES (0, 0)`)
	if err != nil {
		return fmt.Errorf("catalog: seed wal_state: %w", err)
	}
	return nil
}

// PutSegment records a newly sealed or newly created growing segment,
// replacing any prior row with the same ID (a growing segment promoted to
// sealed keeps its own row created separately by the caller under a new
// ID, per segment.Registry's SealGrowing retiring the old one).
func (c *Catalog) PutSegment(ctx context.Context, seg Segment) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO segments (id, kind, path, row_count, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET kind=excluded.kind, path=excluded.path, row_count=excluded.row_count`,
		seg.ID, string(seg.Kind), seg.Path, seg.RowCount, seg.CreatedAt)
	if err != nil {
		return fmt.Errorf("catalog: put segment %s: %w", seg.ID, err)
	}
	return nil
}

// RemoveSegment deletes a segment's row, called when the optimizer retires
// it (sealed into a growing segment's place, or merged away by compacting).
func (c *Catalog) RemoveSegment(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM segments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("catalog: remove segment %s: %w", id, err)
	}
	return nil
}

// ListSegments returns every known segment, oldest first.
func (c *Catalog) ListSegments(ctx context.Context) ([]Segment, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT id, kind, path, row_count, created_at FROM segments ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list segments: %w", err)
	}
	defer rows.Close()

	var out []Segment
	for rows.Next() {
		var s Segment
		var kind string
		if err := rows.Scan(&s.ID, &kind, &s.Path, &s.RowCount, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("catalog: scan segment row: %w", err)
		}
		s.Kind = Kind(kind)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate segments: %w", err)
	}
	return out, nil
}

// SetWALOffset records how far the WAL has been durably replayed into
// sealed/growing segments (spec.md §4.10 "the replay range reconstructs
// write" — everything before this offset is represented by segments, not
// by the WAL itself).
func (c *Catalog) SetWALOffset(ctx context.Context, offset int64) error {
	_, err := c.db.ExecContext(ctx, `UPDATE wal_state SET wal_offset = ? WHERE id = 0`, offset)
	if err != nil {
		return fmt.Errorf("catalog: set wal offset: %w", err)
	}
	return nil
}

// WALOffset returns the last recorded replay watermark.
func (c *Catalog) WALOffset(ctx context.Context) (int64, error) {
	var offset int64
	err := c.db.QueryRowContext(ctx, `SELECT wal_offset FROM wal_state WHERE id = 0`).Scan(&offset)
	if err != nil {
		return 0, fmt.Errorf("catalog: get wal offset: %w", err)
	}
	return offset, nil
}

// Close releases the underlying database handle.
func (c *Catalog) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("catalog: close: %w", err)
	}
	return nil
}
