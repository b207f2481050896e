package hashstore

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the connection pool used by PostgresBackend.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// PostgresBackend stores the hash table in Postgres, replacing it in one transaction per save.
type PostgresBackend struct {
	pool  pgPool
	table string
}

// NewPostgresBackend connects using cfg and ensures the table exists.
func NewPostgresBackend(ctx context.Context, cfg PostgresConfig) (*PostgresBackend, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("hashes.postgres_dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	backend, err := NewPostgresBackendWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := backend.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return backend, nil
}

// NewPostgresBackendWithPool wraps an existing pool (primarily for testing).
func NewPostgresBackendWithPool(pool pgPool, table string) (*PostgresBackend, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "resource_hashes"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresBackend{pool: pool, table: table}, nil
}

// EnsureSchema creates the table and digest index when missing.
func (b *PostgresBackend) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    digest      TEXT    NOT NULL,
    algorithm   TEXT    NOT NULL,
    location    TEXT    NOT NULL,
    size        BIGINT  NOT NULL DEFAULT 0,
    source_kind TEXT    NOT NULL,
    alias       BOOLEAN NOT NULL DEFAULT FALSE,
    PRIMARY KEY (source_kind, location)
);
CREATE INDEX IF NOT EXISTS %[1]s_digest_idx ON %[1]s (digest);`, b.table)
	if _, err := b.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", b.table, err)
	}
	return nil
}

// Name implements Backend.
func (b *PostgresBackend) Name() string { return "postgres" }

// Load implements Backend. An empty table reports exists=false.
func (b *PostgresBackend) Load(ctx context.Context) (Snapshot, bool, error) {
	query := fmt.Sprintf(`SELECT digest, algorithm, location, size, source_kind, alias FROM %s`, b.table)
	rows, err := b.pool.Query(ctx, query)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("query %s: %w", b.table, err)
	}
	defer rows.Close()

	var snap Snapshot
	for rows.Next() {
		var (
			r         Record
			algorithm string
			kind      string
		)
		if err := rows.Scan(&r.Digest, &algorithm, &r.Location, &r.Size, &kind, &r.Alias); err != nil {
			return Snapshot{}, true, fmt.Errorf("%w: scan %s: %v", downloader.ErrCorruptHashStore, b.table, err)
		}
		r.Algorithm = downloader.Algorithm(algorithm)
		r.Kind = downloader.SourceKind(kind)
		snap.Records = append(snap.Records, r)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, true, fmt.Errorf("read %s: %w", b.table, err)
	}
	return snap, len(snap.Records) > 0, nil
}

// Save implements Backend.
func (b *PostgresBackend) Save(ctx context.Context, snap Snapshot) (err error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin postgres transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, b.table)); err != nil {
		return fmt.Errorf("clear %s: %w", b.table, err)
	}

	if len(snap.Records) > 0 {
		n := len(snap.Records)
		digests := make([]string, 0, n)
		algorithms := make([]string, 0, n)
		locations := make([]string, 0, n)
		sizes := make([]int64, 0, n)
		kinds := make([]string, 0, n)
		aliases := make([]bool, 0, n)
		for _, r := range snap.Records {
			digests = append(digests, r.Digest)
			algorithms = append(algorithms, string(r.Algorithm))
			locations = append(locations, r.Location)
			sizes = append(sizes, r.Size)
			kinds = append(kinds, string(r.Kind))
			aliases = append(aliases, r.Alias)
		}
		insert := fmt.Sprintf(`
INSERT INTO %s (digest, algorithm, location, size, source_kind, alias)
SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::bigint[], $5::text[], $6::boolean[])`, b.table)
		if _, err = tx.Exec(ctx, insert, digests, algorithms, locations, sizes, kinds, aliases); err != nil {
			return fmt.Errorf("insert into %s: %w", b.table, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit postgres transaction: %w", err)
	}
	return nil
}

// Close implements Backend.
func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}
