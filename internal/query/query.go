// Package query answers natural-language questions about an indexed
// repository: retrieve the most similar chunks, then ground a generative
// model on them to produce a cited prose answer.
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codeask/codeask/internal/ai"
	"github.com/codeask/codeask/internal/store"
	"github.com/codeask/codeask/pkg/models"
)

const (
	highConfidenceThreshold   = 0.8
	mediumConfidenceThreshold = 0.6
)

// Answers used on the empty paths. query never errors for "no data".
const (
	notIndexedAnswer = "This repository has not been indexed yet, so there is no code to search. Start an index run and try again."
	noResultsAnswer  = "No relevant code was found for this question in the indexed repository."
)

// Embedder is the slice of the embedding layer the query path needs.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Options narrows one query.
type Options struct {
	Language string
	TopK     int
}

// Service answers questions against the vector store.
type Service struct {
	Embedder Embedder
	Client   ai.Client
	Store    store.ChunkStore
}

// NewService creates a query service over the given embedding layer,
// generative client and chunk store.
func NewService(embedder Embedder, client ai.Client, st store.ChunkStore) *Service {
	return &Service{
		Embedder: embedder,
		Client:   client,
		Store:    st,
	}
}

// Query runs the full read path: embed the question, retrieve top-K chunks,
// synthesize a grounded answer. Empty retrieval returns a low-confidence
// explicit answer without calling the generative model.
func (s *Service) Query(ctx context.Context, question string, repo models.Repository, opt Options) (models.QueryResult, error) {
	started := time.Now()
	question = strings.TrimSpace(question)
	if question == "" {
		return models.QueryResult{}, fmt.Errorf("question is empty")
	}

	vec, err := s.Embedder.EmbedQuery(ctx, question)
	if err != nil {
		return models.QueryResult{}, fmt.Errorf("embed question: %w", err)
	}

	results, indexed, err := s.Store.Search(ctx, repo.ID(), vec, store.QueryOpts{
		Language: opt.Language,
		TopK:     opt.TopK,
	})
	if err != nil {
		return models.QueryResult{}, fmt.Errorf("search: %w", err)
	}

	if !indexed {
		return finish(started, notIndexedAnswer, models.ConfidenceLow, nil), nil
	}
	if len(results) == 0 {
		return finish(started, noResultsAnswer, models.ConfidenceLow, nil), nil
	}

	prompt := buildPrompt(question, repo, results)
	answer, err := s.Client.Complete(ctx, prompt)
	if err != nil {
		return models.QueryResult{}, fmt.Errorf("synthesize answer: %w", err)
	}

	sources := make([]models.Source, 0, len(results))
	for _, r := range results {
		sources = append(sources, models.Source{
			Path:       r.Chunk.Path,
			LineStart:  r.Chunk.LineStart,
			LineEnd:    r.Chunk.LineEnd,
			Similarity: r.Similarity,
		})
	}

	confidence := confidenceFor(results[0].Similarity)
	log.Debug().
		Str("repository", repo.ID()).
		Int("sources", len(sources)).
		Float64("best_similarity", results[0].Similarity).
		Str("confidence", string(confidence)).
		Msg("query answered")

	return finish(started, answer, confidence, sources), nil
}

func finish(started time.Time, answer string, conf models.Confidence, sources []models.Source) models.QueryResult {
	if sources == nil {
		sources = []models.Source{}
	}
	return models.QueryResult{
		Answer:           answer,
		Confidence:       conf,
		Sources:          sources,
		ProcessingTimeMS: time.Since(started).Milliseconds(),
	}
}

// confidenceFor buckets the single best similarity score. Conflicting
// high-similarity chunks do not lower it; the score reflects retrieval
// quality, not answer consistency.
func confidenceFor(best float64) models.Confidence {
	switch {
	case best >= highConfidenceThreshold:
		return models.ConfidenceHigh
	case best >= mediumConfidenceThreshold:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

// buildPrompt assembles the grounding prompt: each chunk labeled with its
// file path and line range, in the same order Sources are reported.
func buildPrompt(question string, repo models.Repository, results []models.SearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are answering a question about the repository %s.\n", repo.FullName())
	b.WriteString("Use only the code excerpts below. Cite files by path.\n\n")

	for i, r := range results {
		fmt.Fprintf(&b, "[%d] File: %s (lines %d-%d)\n", i+1, r.Chunk.Path, r.Chunk.LineStart, r.Chunk.LineEnd)
		if r.Chunk.ImportsContext != "" {
			b.WriteString(r.Chunk.ImportsContext)
			b.WriteString("\n")
		}
		b.WriteString(r.Chunk.Content)
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "Question: %s\n", question)
	return b.String()
}
