// Package store persists chunks and their vectors in Postgres with
// pgvector. A repository's chunks are versioned by a generation marker:
// readers only ever see one committed generation, so a re-index replaces
// the previous set atomically from their perspective.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/codeask/codeask/pkg/models"
)

// Store provides methods to interact with the database.
type Store struct {
	pool *pgxpool.Pool
}

// QueryOpts narrows a similarity search.
type QueryOpts struct {
	Language string // optional: "go"|"python"|...
	TopK     int    // 0 means DefaultTopK
}

const (
	DefaultTopK = 10
	MaxTopK     = 50
)

// ChunkStore defines the methods that the Store must implement.
type ChunkStore interface {
	Migrate(ctx context.Context, dim int) error
	BeginGeneration(ctx context.Context, repo models.Repository) (string, error)
	UpsertChunks(ctx context.Context, repoID, generation string, chunks []models.ChunkWithVector) (int, error)
	CommitGeneration(ctx context.Context, repoID, generation string) error
	Search(ctx context.Context, repoID string, queryVec []float32, opt QueryOpts) ([]models.SearchResult, bool, error)
	GetStatus(ctx context.Context, repoID string) (models.IndexJob, bool, error)
	SaveJob(ctx context.Context, job models.IndexJob) error
	ListRepositories(ctx context.Context) ([]models.RepositoryInfo, error)
}

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Migrate applies necessary database migrations and schema setup.
func (s *Store) Migrate(ctx context.Context, dim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS repositories (
  repository      TEXT PRIMARY KEY,
  owner           TEXT NOT NULL,
  name            TEXT NOT NULL,
  branch          TEXT NOT NULL DEFAULT '',
  generation      TEXT,
  last_indexed_at TIMESTAMP WITH TIME ZONE
);

CREATE TABLE IF NOT EXISTS chunks (
  id              TEXT NOT NULL,
  repository      TEXT NOT NULL,
  generation      TEXT NOT NULL,
  path            TEXT NOT NULL,
  symbol          TEXT,
  language        TEXT,
  content         TEXT,
  imports_context TEXT,
  line_start      INT,
  line_end        INT,
  token_count     INT,
  embedding       vector(%d),
  created_at      TIMESTAMP WITH TIME ZONE DEFAULT now(),
  PRIMARY KEY (id, generation)
);

CREATE INDEX IF NOT EXISTS chunks_repo_gen_idx
  ON chunks (repository, generation);

CREATE INDEX IF NOT EXISTS chunks_embedding_idx
  ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);

CREATE TABLE IF NOT EXISTS index_jobs (
  repository      TEXT PRIMARY KEY,
  state           TEXT NOT NULL,
  files_total     INT NOT NULL DEFAULT 0,
  files_processed INT NOT NULL DEFAULT 0,
  chunks_written  INT NOT NULL DEFAULT 0,
  started_at      TIMESTAMP WITH TIME ZONE,
  finished_at     TIMESTAMP WITH TIME ZONE,
  error           TEXT NOT NULL DEFAULT ''
);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, dim))
	return err
}

// BeginGeneration registers the repository row if needed and returns a new
// uncommitted generation marker for this indexing run.
func (s *Store) BeginGeneration(ctx context.Context, repo models.Repository) (string, error) {
	gen := uuid.NewString()
	const q = `
		INSERT INTO repositories (repository, owner, name, branch)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (repository) DO UPDATE SET branch = EXCLUDED.branch`
	if _, err := s.pool.Exec(ctx, q, repo.ID(), repo.Owner, repo.Name, repo.Branch); err != nil {
		return "", fmt.Errorf("register repository: %w", err)
	}
	return gen, nil
}

// UpsertChunks bulk-writes chunks into an uncommitted generation. The write
// is idempotent per (id, generation); re-running a failed stage is safe.
// Chunks with a nil vector (unembeddable) are excluded.
func (s *Store) UpsertChunks(ctx context.Context, repoID, generation string, chunks []models.ChunkWithVector) (int, error) {
	const q = `
		INSERT INTO chunks (
			id, repository, generation, path, symbol, language, content,
			imports_context, line_start, line_end, token_count, embedding, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12, now())
		ON CONFLICT (id, generation) DO UPDATE SET
			content   = EXCLUDED.content,
			embedding = EXCLUDED.embedding`

	batch := &pgx.Batch{}
	written := 0
	for _, cw := range chunks {
		if cw.Vector == nil {
			continue
		}
		c := cw.Chunk
		batch.Queue(q,
			c.ID, repoID, generation, c.Path, c.Symbol, c.Language, c.Content,
			c.ImportsContext, c.LineStart, c.LineEnd, c.TokenCount,
			pgvector.NewVector(cw.Vector),
		)
		written++
	}
	if written == 0 {
		return 0, nil
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < written; i++ {
		if _, err := br.Exec(); err != nil {
			return 0, fmt.Errorf("upsert chunks: %w", err)
		}
	}
	return written, nil
}

// CommitGeneration flips the repository's committed pointer to generation
// and drops superseded rows. Readers observe either the prior complete
// generation or the new one, never a mix.
func (s *Store) CommitGeneration(ctx context.Context, repoID, generation string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const flip = `
		UPDATE repositories
		SET generation = $2, last_indexed_at = now()
		WHERE repository = $1`
	if _, err := tx.Exec(ctx, flip, repoID, generation); err != nil {
		return fmt.Errorf("commit generation: %w", err)
	}

	const sweep = `DELETE FROM chunks WHERE repository = $1 AND generation <> $2`
	if _, err := tx.Exec(ctx, sweep, repoID, generation); err != nil {
		return fmt.Errorf("sweep superseded chunks: %w", err)
	}

	return tx.Commit(ctx)
}

// Search ranks the committed generation's chunks by cosine similarity
// descending, ties broken by shorter path then lower line_start. The bool
// result is false when no completed index exists for the repository; that
// case yields an empty slice, never an error.
func (s *Store) Search(ctx context.Context, repoID string, queryVec []float32, opt QueryOpts) ([]models.SearchResult, bool, error) {
	var generation *string
	err := s.pool.QueryRow(ctx,
		`SELECT generation FROM repositories WHERE repository = $1`, repoID,
	).Scan(&generation)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return []models.SearchResult{}, false, nil
		}
		return nil, false, err
	}
	if generation == nil {
		return []models.SearchResult{}, false, nil
	}

	k := opt.TopK
	if k <= 0 {
		k = DefaultTopK
	}
	if k > MaxTopK {
		k = MaxTopK
	}

	args := []any{repoID, *generation, pgvector.NewVector(queryVec)}
	where := "repository = $1 AND generation = $2 AND embedding IS NOT NULL"
	if opt.Language != "" {
		args = append(args, opt.Language)
		where += fmt.Sprintf(" AND language = $%d", len(args))
	}

	q := fmt.Sprintf(`
		SELECT id, repository, path, symbol, language, content,
		       imports_context, line_start, line_end, token_count, created_at,
		       1 - (embedding <=> $3) AS similarity
		FROM chunks
		WHERE %s
		ORDER BY similarity DESC, char_length(path) ASC, line_start ASC
		LIMIT %d`, where, k)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, true, err
	}
	defer rows.Close()

	out := []models.SearchResult{}
	for rows.Next() {
		var c models.Chunk
		var sim float64
		if err := rows.Scan(
			&c.ID, &c.Repository, &c.Path, &c.Symbol, &c.Language, &c.Content,
			&c.ImportsContext, &c.LineStart, &c.LineEnd, &c.TokenCount, &c.CreatedAt,
			&sim,
		); err != nil {
			return nil, true, err
		}
		out = append(out, models.SearchResult{Chunk: c, Similarity: sim})
	}
	return out, true, rows.Err()
}

// GetStatus returns the latest IndexJob snapshot for a repository.
func (s *Store) GetStatus(ctx context.Context, repoID string) (models.IndexJob, bool, error) {
	const q = `
		SELECT repository, state, files_total, files_processed, chunks_written,
		       started_at, finished_at, error
		FROM index_jobs WHERE repository = $1`

	var job models.IndexJob
	var started *time.Time
	err := s.pool.QueryRow(ctx, q, repoID).Scan(
		&job.Repository, &job.State, &job.FilesTotal, &job.FilesProcessed,
		&job.ChunksWritten, &started, &job.FinishedAt, &job.Error,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.IndexJob{}, false, nil
		}
		return models.IndexJob{}, false, err
	}
	if started != nil {
		job.StartedAt = *started
	}
	return job, true, nil
}

// SaveJob writes the current IndexJob snapshot. The orchestrator is the
// sole writer of job state transitions.
func (s *Store) SaveJob(ctx context.Context, job models.IndexJob) error {
	const q = `
		INSERT INTO index_jobs (
			repository, state, files_total, files_processed, chunks_written,
			started_at, finished_at, error
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (repository) DO UPDATE SET
			state           = EXCLUDED.state,
			files_total     = EXCLUDED.files_total,
			files_processed = EXCLUDED.files_processed,
			chunks_written  = EXCLUDED.chunks_written,
			started_at      = EXCLUDED.started_at,
			finished_at     = EXCLUDED.finished_at,
			error           = EXCLUDED.error`
	_, err := s.pool.Exec(ctx, q,
		job.Repository, job.State, job.FilesTotal, job.FilesProcessed,
		job.ChunksWritten, job.StartedAt, job.FinishedAt, job.Error,
	)
	return err
}

// ListRepositories returns every known repository with its last successful
// index time.
func (s *Store) ListRepositories(ctx context.Context) ([]models.RepositoryInfo, error) {
	const q = `
		SELECT repository, owner, name, branch, last_indexed_at
		FROM repositories ORDER BY repository`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RepositoryInfo
	for rows.Next() {
		var info models.RepositoryInfo
		if err := rows.Scan(&info.Repository, &info.Owner, &info.Name, &info.Branch, &info.LastIndexedAt); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}
