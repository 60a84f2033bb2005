// Package pgvector stores chunk records in PostgreSQL using the pgvector extension.
package pgvector

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"ragingest/internal/domain"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type Config struct {
	ConnString string
	TableName  string
	// Dimension is used when the table does not exist yet. An existing
	// table keeps the dimension it was created with.
	Dimension int
}

// Store implements the vector store on a pgvector table. Ranking is an exact
// cosine scan so ties resolve by insertion sequence.
type Store struct {
	pool      *pgxpool.Pool
	table     string
	dimension int
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.TableName == "" {
		cfg.TableName = "rag_chunks"
	}
	if !tableNamePattern.MatchString(cfg.TableName) {
		return nil, fmt.Errorf("%w: invalid table name %q", domain.ErrInvalidConfig, cfg.TableName)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", domain.ErrInvalidConfig)
	}

	pool, err := pgxpool.New(ctx, cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{pool: pool, table: cfg.TableName}
	if err := s.initialize(ctx, cfg.Dimension); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize(ctx context.Context, dimension int) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			seq BIGSERIAL,
			source_path TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB,
			content_fp TEXT NOT NULL,
			embedding vector(%d) NOT NULL
		)`, s.table, dimension)
	if _, err := s.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_source_path_idx ON %s (source_path)`, s.table, s.table)
	if _, err := s.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	// vector(n) stores n as the column type modifier
	err := s.pool.QueryRow(ctx, `
		SELECT a.atttypmod FROM pg_attribute a
		WHERE a.attrelid = $1::regclass AND a.attname = 'embedding'
	`, s.table).Scan(&s.dimension)
	if err != nil {
		return fmt.Errorf("failed to read embedding dimension: %w", err)
	}
	return nil
}

func (s *Store) Dimension() int {
	return s.dimension
}

func (s *Store) Upsert(ctx context.Context, records []domain.ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, rec := range records {
		if len(rec.Embedding) != s.dimension {
			return fmt.Errorf("%w: expected %d, got %d", domain.ErrDimensionMismatch, s.dimension, len(rec.Embedding))
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, source_path, content, metadata, content_fp, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			content_fp = EXCLUDED.content_fp,
			embedding = EXCLUDED.embedding`,
		s.table)

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(stmt,
			rec.ID,
			strings.ToValidUTF8(rec.SourcePath(), "\uFFFD"),
			rec.Content,
			rec.Metadata,
			rec.ContentFingerprint.String(),
			pgvector.NewVector(rec.Embedding),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert records: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, query []float32, k int) ([]domain.ScoredRecord, error) {
	if k <= 0 {
		return nil, domain.ErrInvalidTopK
	}
	if len(query) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", domain.ErrDimensionMismatch, len(query), s.dimension)
	}

	sql := fmt.Sprintf(`
		SELECT id, content, metadata, content_fp, embedding, 1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1, seq
		LIMIT $2`,
		s.table)

	rows, err := s.pool.Query(ctx, sql, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var results []domain.ScoredRecord
	for rows.Next() {
		var (
			rec       domain.ChunkRecord
			fp        string
			embedding pgvector.Vector
			score     float64
		)
		if err := rows.Scan(&rec.ID, &rec.Content, &rec.Metadata, &fp, &embedding, &score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if rec.ContentFingerprint, err = domain.ParseFingerprint(fp); err != nil {
			return nil, err
		}
		rec.Embedding = embedding.Slice()
		results = append(results, domain.ScoredRecord{Record: rec, Score: score})
	}
	return results, rows.Err()
}

func (s *Store) ExistingFingerprints(ctx context.Context, sourcePath string) (map[domain.Fingerprint]struct{}, error) {
	sql := fmt.Sprintf(`SELECT content_fp FROM %s WHERE $1 = '' OR source_path = $1`, s.table)
	rows, err := s.pool.Query(ctx, sql, sourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to query fingerprints: %w", err)
	}
	defer rows.Close()

	fps := make(map[domain.Fingerprint]struct{})
	for rows.Next() {
		var hex string
		if err := rows.Scan(&hex); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		fp, err := domain.ParseFingerprint(hex)
		if err != nil {
			continue
		}
		fps[fp] = struct{}{}
	}
	return fps, rows.Err()
}

func (s *Store) DeleteStale(ctx context.Context, sourcePath string, keep map[domain.Fingerprint]struct{}) (int, error) {
	fps := make([]string, 0, len(keep))
	for fp := range keep {
		fps = append(fps, fp.String())
	}

	sql := fmt.Sprintf(`DELETE FROM %s WHERE source_path = $1 AND NOT (content_fp = ANY($2))`, s.table)
	tag, err := s.pool.Exec(ctx, sql, sourcePath, fps)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(`TRUNCATE %s`, s.table)); err != nil {
		return fmt.Errorf("failed to clear table: %w", err)
	}
	return nil
}

// Drop removes the table entirely, so the next New can pick a new dimension.
func (s *Store) Drop(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, s.table)); err != nil {
		return fmt.Errorf("failed to drop table: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
