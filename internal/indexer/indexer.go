// Package indexer orchestrates the write path: collect a repository's
// files, chunk them, embed the chunks and commit them to the store as one
// new generation. One job per repository at a time; batches of
// repositories run under a global concurrency cap.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/codeask/codeask/internal/store"
	"github.com/codeask/codeask/pkg/models"
)

// ErrAlreadyIndexing rejects a start request for a busy repository.
// Requests are rejected immediately, never queued.
var ErrAlreadyIndexing = errors.New("indexing already in progress for repository")

// DefaultBatchConcurrency caps repositories indexed at once in a batch.
// It composes with the collector's and embedder's per-stage caps instead of
// multiplying external pressure.
const DefaultBatchConcurrency = 2

// Collector fetches a repository's source files.
type Collector interface {
	Collect(ctx context.Context, repo models.Repository) ([]models.SourceFile, error)
}

// Chunker splits one file into chunks.
type Chunker interface {
	Chunk(repoID string, file models.SourceFile) []models.Chunk
}

// Embedder embeds chunk texts; a nil vector marks an unembeddable text.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Service drives the indexing pipeline.
type Service struct {
	Collector Collector
	Chunker   Chunker
	Embedder  Embedder
	Store     store.ChunkStore

	BatchConcurrency int

	registry *Registry
	events   *Events
}

// New creates an orchestrator over the four pipeline stages.
func New(c Collector, ch Chunker, e Embedder, st store.ChunkStore) *Service {
	return &Service{
		Collector:        c,
		Chunker:          ch,
		Embedder:         e,
		Store:            st,
		BatchConcurrency: DefaultBatchConcurrency,
		registry:         NewRegistry(),
		events:           NewEvents(),
	}
}

// Events exposes the progress feed for subscribers.
func (s *Service) Events() *Events {
	return s.events
}

// IsIndexing reports whether repo has a job in flight.
func (s *Service) IsIndexing(repo models.Repository) bool {
	return s.registry.IsIndexing(repo.ID())
}

// Index runs the full pipeline for one repository. A second call for the
// same repository while this one runs returns ErrAlreadyIndexing.
func (s *Service) Index(ctx context.Context, repo models.Repository) (models.IndexJob, error) {
	repoID := repo.ID()
	if !s.registry.TryStart(repoID) {
		return models.IndexJob{}, fmt.Errorf("%w: %s", ErrAlreadyIndexing, repoID)
	}
	defer s.registry.Finish(repoID)

	job := models.IndexJob{
		Repository: repoID,
		State:      models.JobPending,
		StartedAt:  time.Now(),
	}
	s.checkpoint(ctx, &job)

	log.Info().Str("repository", repoID).Msg("index run started")

	// Collect.
	s.transition(ctx, &job, models.JobCollecting)
	files, err := s.Collector.Collect(ctx, repo)
	if err != nil {
		return s.fail(ctx, job, fmt.Errorf("collect: %w", err))
	}
	job.FilesTotal = len(files)
	s.checkpoint(ctx, &job)

	// Chunk.
	s.transition(ctx, &job, models.JobChunking)
	var chunks []models.Chunk
	for _, f := range files {
		chunks = append(chunks, s.Chunker.Chunk(repoID, f)...)
		job.FilesProcessed++
		s.events.Publish(s.eventFor(job))
	}
	s.checkpoint(ctx, &job)

	// Embed.
	s.transition(ctx, &job, models.JobEmbedding)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = embedText(c)
	}
	vectors, err := s.Embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return s.fail(ctx, job, fmt.Errorf("embed: %w", err))
	}

	// Store: write a fresh generation, then commit it so readers flip
	// from the old complete set to the new one atomically.
	s.transition(ctx, &job, models.JobStoring)
	generation, err := s.Store.BeginGeneration(ctx, repo)
	if err != nil {
		return s.fail(ctx, job, fmt.Errorf("begin generation: %w", err))
	}

	withVectors := make([]models.ChunkWithVector, len(chunks))
	for i := range chunks {
		withVectors[i] = models.ChunkWithVector{Chunk: chunks[i], Vector: vectors[i]}
	}
	written, err := s.Store.UpsertChunks(ctx, repoID, generation, withVectors)
	if err != nil {
		return s.fail(ctx, job, fmt.Errorf("store chunks: %w", err))
	}
	job.ChunksWritten = written

	if err := s.Store.CommitGeneration(ctx, repoID, generation); err != nil {
		return s.fail(ctx, job, fmt.Errorf("commit generation: %w", err))
	}

	now := time.Now()
	job.State = models.JobCompleted
	job.FinishedAt = &now
	s.checkpoint(ctx, &job)

	log.Info().
		Str("repository", repoID).
		Int("files", job.FilesTotal).
		Int("chunks", job.ChunksWritten).
		Dur("elapsed", now.Sub(job.StartedAt)).
		Msg("index run completed")

	return job, nil
}

// Outcome is one repository's result in a batch run.
type Outcome struct {
	Repository models.Repository
	Job        models.IndexJob
	Err        error
}

// BatchIndex runs jobs for several repositories under a bounded global
// concurrency cap. One repository's failure never aborts the batch; every
// repository gets an Outcome, in input order.
func (s *Service) BatchIndex(ctx context.Context, repos []models.Repository) []Outcome {
	concurrency := s.BatchConcurrency
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}

	sem := semaphore.NewWeighted(int64(concurrency))
	outcomes := make([]Outcome, len(repos))
	var wg sync.WaitGroup

	for i, repo := range repos {
		if err := sem.Acquire(ctx, 1); err != nil {
			outcomes[i] = Outcome{Repository: repo, Err: err}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			job, err := s.Index(ctx, repo)
			outcomes[i] = Outcome{Repository: repo, Job: job, Err: err}
		}()
	}
	wg.Wait()
	return outcomes
}

// embedText makes a chunk self-explanatory out of context by prepending
// the file's import block to its content.
func embedText(c models.Chunk) string {
	if c.ImportsContext == "" {
		return c.Content
	}
	return c.ImportsContext + "\n\n" + c.Content
}

func (s *Service) transition(ctx context.Context, job *models.IndexJob, state models.JobState) {
	job.State = state
	s.checkpoint(ctx, job)
}

// checkpoint persists the snapshot and publishes progress. Persistence
// failures are logged rather than failing the job: the pipeline itself is
// the source of truth mid-run.
func (s *Service) checkpoint(ctx context.Context, job *models.IndexJob) {
	if err := s.Store.SaveJob(ctx, *job); err != nil {
		log.Warn().Err(err).Str("repository", job.Repository).Msg("failed to persist job snapshot")
	}
	s.events.Publish(s.eventFor(*job))
}

func (s *Service) fail(ctx context.Context, job models.IndexJob, err error) (models.IndexJob, error) {
	now := time.Now()
	job.State = models.JobFailed
	job.FinishedAt = &now
	job.Error = err.Error()
	s.checkpoint(ctx, &job)

	log.Error().Err(err).Str("repository", job.Repository).Msg("index run failed")
	return job, err
}

func (s *Service) eventFor(job models.IndexJob) Event {
	return Event{
		Repository:     job.Repository,
		State:          job.State,
		FilesTotal:     job.FilesTotal,
		FilesProcessed: job.FilesProcessed,
		ChunksWritten:  job.ChunksWritten,
		Error:          job.Error,
	}
}
