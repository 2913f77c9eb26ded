// Package postgres stores embedded chunks in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/ingest-progress/internal/ingest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "document_chunks"

// ChunkStoreConfig controls the Postgres connection pool used for chunk rows.
type ChunkStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type txPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// ChunkStore writes chunk rows. The expected schema is:
//
//	CREATE TABLE document_chunks (
//	    id          uuid PRIMARY KEY,
//	    task_id     text NOT NULL,
//	    source      text NOT NULL,
//	    chunk_index integer NOT NULL,
//	    content     text NOT NULL,
//	    embedding   real[] NOT NULL,
//	    metadata    jsonb NOT NULL DEFAULT '{}'
//	);
type ChunkStore struct {
	pool  txPool
	table string
}

// NewChunkStore connects a pool using cfg.
func NewChunkStore(ctx context.Context, cfg ChunkStoreConfig) (*ChunkStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
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
	return &ChunkStore{pool: pool, table: table}, nil
}

// NewChunkStoreWithPool constructs a store from an existing pool.
func NewChunkStoreWithPool(pool txPool, table string) (*ChunkStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ChunkStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ChunkStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *ChunkStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// AddChunks inserts chunks in a single transaction.
func (s *ChunkStore) AddChunks(ctx context.Context, taskID string, chunks []ingest.Chunk) error {
	if s == nil || s.pool == nil {
		return errors.New("chunk store is not configured")
	}
	if len(chunks) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	task_id,
	source,
	chunk_index,
	content,
	embedding,
	metadata
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)`, s.table)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin chunk insert: %w", err)
	}
	for _, c := range chunks {
		meta, err := json.Marshal(normalizeMetadata(c.Metadata))
		if err != nil {
			return rollback(ctx, tx, fmt.Errorf("marshal metadata: %w", err))
		}
		if _, err := tx.Exec(ctx, query, c.ID, taskID, c.Source, c.Index, c.Content, c.Embedding, meta); err != nil {
			return rollback(ctx, tx, fmt.Errorf("insert chunk %d: %w", c.Index, err))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunk insert: %w", err)
	}
	return nil
}

func rollback(ctx context.Context, tx pgx.Tx, cause error) error {
	if err := tx.Rollback(ctx); err != nil {
		return errors.Join(cause, fmt.Errorf("rollback: %w", err))
	}
	return cause
}

func normalizeMetadata(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
