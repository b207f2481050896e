package hashstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/submission-downloader/internal/downloader"
	"github.com/JakeFAU/submission-downloader/internal/fsutil"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS resource_hashes (
    digest      TEXT    NOT NULL,
    algorithm   TEXT    NOT NULL,
    location    TEXT    NOT NULL,
    size        INTEGER NOT NULL DEFAULT 0,
    source_kind TEXT    NOT NULL,
    alias       INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (source_kind, location)
);
CREATE INDEX IF NOT EXISTS idx_resource_hashes_digest ON resource_hashes(digest);
`

// SQLiteBackend stores the hash table in a single SQLite database file.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// NewSQLiteBackend opens (or creates) the database at path and ensures the schema.
func NewSQLiteBackend(ctx context.Context, path string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), fsutil.DirModeDefault); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer at a time; SQLite serializes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: initialize %s: %v", downloader.ErrCorruptHashStore, path, err)
	}
	return &SQLiteBackend{db: db, path: path}, nil
}

// Name implements Backend.
func (b *SQLiteBackend) Name() string { return "sqlite" }

// Load implements Backend. An empty table reports exists=false.
func (b *SQLiteBackend) Load(ctx context.Context) (Snapshot, bool, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT digest, algorithm, location, size, source_kind, alias FROM resource_hashes`)
	if err != nil {
		return Snapshot{}, true, fmt.Errorf("%w: query %s: %v", downloader.ErrCorruptHashStore, b.path, err)
	}
	defer rows.Close()

	var snap Snapshot
	for rows.Next() {
		var (
			r     Record
			alias int64
		)
		if err := rows.Scan(&r.Digest, &r.Algorithm, &r.Location, &r.Size, &r.Kind, &alias); err != nil {
			return Snapshot{}, true, fmt.Errorf("%w: scan %s: %v", downloader.ErrCorruptHashStore, b.path, err)
		}
		r.Alias = alias != 0
		snap.Records = append(snap.Records, r)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, true, fmt.Errorf("%w: read %s: %v", downloader.ErrCorruptHashStore, b.path, err)
	}
	return snap, len(snap.Records) > 0, nil
}

// Save implements Backend by replacing the table contents in one transaction.
func (b *SQLiteBackend) Save(ctx context.Context, snap Snapshot) (err error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sqlite transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM resource_hashes`); err != nil {
		return fmt.Errorf("clear resource_hashes: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO resource_hashes (digest, algorithm, location, size, source_kind, alias)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range snap.Records {
		alias := 0
		if r.Alias {
			alias = 1
		}
		if _, err = stmt.ExecContext(ctx, r.Digest, string(r.Algorithm), r.Location, r.Size, string(r.Kind), alias); err != nil {
			return fmt.Errorf("insert %s %s: %w", r.Kind, r.Location, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit sqlite transaction: %w", err)
	}
	return nil
}

// Close implements Backend.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// Path returns the database file in use.
func (b *SQLiteBackend) Path() string {
	return b.path
}

// IsBackingFile reports whether path is the database or one of its journals.
func (b *SQLiteBackend) IsBackingFile(path string) bool {
	clean := filepath.Clean(path)
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		if clean == filepath.Clean(b.path)+suffix {
			return true
		}
	}
	return false
}
