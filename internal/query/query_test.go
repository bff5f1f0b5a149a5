package query

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/codeask/codeask/internal/store"
	"github.com/codeask/codeask/pkg/models"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// MockEmbedder implements Embedder with overridable behavior.
type MockEmbedder struct {
	EmbedQueryFunc func(ctx context.Context, text string) ([]float32, error)
}

func (m *MockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedQueryFunc != nil {
		return m.EmbedQueryFunc(ctx, text)
	}
	return []float32{1, 0, 0}, nil
}

// MockAIClient implements ai.Client with overridable behavior.
type MockAIClient struct {
	CompleteFunc  func(ctx context.Context, prompt string) (string, error)
	CompleteCalls int
}

func (m *MockAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (m *MockAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{1, 0, 0}
	}
	return vecs, nil
}

func (m *MockAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	m.CompleteCalls++
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, prompt)
	}
	return "The Add function sums two integers.", nil
}

func (m *MockAIClient) EmbedModel() string { return "mock-embed" }
func (m *MockAIClient) Dim() int           { return 3 }

// MockStore implements store.ChunkStore with overridable behavior.
type MockStore struct {
	SearchFunc func(ctx context.Context, repoID string, vec []float32, opt store.QueryOpts) ([]models.SearchResult, bool, error)
}

func (m *MockStore) Migrate(ctx context.Context, dim int) error { return nil }

func (m *MockStore) BeginGeneration(ctx context.Context, repo models.Repository) (string, error) {
	return "", nil
}

func (m *MockStore) UpsertChunks(ctx context.Context, repoID, generation string, chunks []models.ChunkWithVector) (int, error) {
	return 0, nil
}

func (m *MockStore) CommitGeneration(ctx context.Context, repoID, generation string) error {
	return nil
}

func (m *MockStore) Search(ctx context.Context, repoID string, vec []float32, opt store.QueryOpts) ([]models.SearchResult, bool, error) {
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, repoID, vec, opt)
	}
	return nil, true, nil
}

func (m *MockStore) GetStatus(ctx context.Context, repoID string) (models.IndexJob, bool, error) {
	return models.IndexJob{}, false, nil
}

func (m *MockStore) SaveJob(ctx context.Context, job models.IndexJob) error { return nil }

func (m *MockStore) ListRepositories(ctx context.Context) ([]models.RepositoryInfo, error) {
	return nil, nil
}

func chunk(path string, start, end int) models.Chunk {
	return models.Chunk{
		ID:        path + ":1",
		Path:      path,
		LineStart: start,
		LineEnd:   end,
		Content:   "func Add(a, b int) int { return a + b }",
	}
}

func testRepo() models.Repository {
	return models.Repository{Owner: "acme", Name: "widgets"}
}

func TestQueryNotIndexed(t *testing.T) {
	client := &MockAIClient{}
	st := &MockStore{
		SearchFunc: func(_ context.Context, _ string, _ []float32, _ store.QueryOpts) ([]models.SearchResult, bool, error) {
			return nil, false, nil
		},
	}
	s := NewService(&MockEmbedder{}, client, st)

	res, err := s.Query(context.Background(), "how does add work", testRepo(), Options{})
	if err != nil {
		t.Fatalf("missing index must not be an error: %v", err)
	}
	if res.Confidence != models.ConfidenceLow {
		t.Errorf("expected low confidence, got %s", res.Confidence)
	}
	if !strings.Contains(res.Answer, "not been indexed") {
		t.Errorf("expected explicit not-indexed answer, got %q", res.Answer)
	}
	if len(res.Sources) != 0 {
		t.Errorf("expected no sources, got %d", len(res.Sources))
	}
	if client.CompleteCalls != 0 {
		t.Error("generative model must not be called without retrieval")
	}
}

func TestQueryNoResults(t *testing.T) {
	client := &MockAIClient{}
	s := NewService(&MockEmbedder{}, client, &MockStore{})

	res, err := s.Query(context.Background(), "anything relevant?", testRepo(), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Confidence != models.ConfidenceLow {
		t.Errorf("expected low confidence, got %s", res.Confidence)
	}
	if client.CompleteCalls != 0 {
		t.Error("generative model must not be called on empty retrieval")
	}
}

func TestQueryEmptyQuestion(t *testing.T) {
	s := NewService(&MockEmbedder{}, &MockAIClient{}, &MockStore{})
	if _, err := s.Query(context.Background(), "   ", testRepo(), Options{}); err == nil {
		t.Fatal("expected error for blank question")
	}
}

func TestQueryAnswersWithSourcesInOrder(t *testing.T) {
	results := []models.SearchResult{
		{Chunk: chunk("pkg/math/add.go", 10, 18), Similarity: 0.91},
		{Chunk: chunk("pkg/math/util.go", 3, 9), Similarity: 0.74},
	}
	var prompt string
	client := &MockAIClient{
		CompleteFunc: func(_ context.Context, p string) (string, error) {
			prompt = p
			return "Add sums its arguments.", nil
		},
	}
	st := &MockStore{
		SearchFunc: func(_ context.Context, _ string, _ []float32, _ store.QueryOpts) ([]models.SearchResult, bool, error) {
			return results, true, nil
		},
	}
	s := NewService(&MockEmbedder{}, client, st)

	res, err := s.Query(context.Background(), "how does add work", testRepo(), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Answer != "Add sums its arguments." {
		t.Errorf("unexpected answer %q", res.Answer)
	}
	if len(res.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(res.Sources))
	}
	if res.Sources[0].Path != "pkg/math/add.go" || res.Sources[1].Path != "pkg/math/util.go" {
		t.Errorf("sources out of retrieval order: %+v", res.Sources)
	}
	if res.Sources[0].Similarity != 0.91 {
		t.Errorf("expected similarity carried through, got %v", res.Sources[0].Similarity)
	}

	// The prompt labels excerpts in the same order sources are reported.
	first := strings.Index(prompt, "pkg/math/add.go")
	second := strings.Index(prompt, "pkg/math/util.go")
	if first < 0 || second < 0 || first > second {
		t.Errorf("prompt excerpt order wrong:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Question: how does add work") {
		t.Errorf("prompt missing question:\n%s", prompt)
	}
}

func TestQueryConfidenceBuckets(t *testing.T) {
	cases := []struct {
		best float64
		want models.Confidence
	}{
		{0.95, models.ConfidenceHigh},
		{0.80, models.ConfidenceHigh},
		{0.79, models.ConfidenceMedium},
		{0.60, models.ConfidenceMedium},
		{0.59, models.ConfidenceLow},
		{0.10, models.ConfidenceLow},
	}
	for _, tc := range cases {
		st := &MockStore{
			SearchFunc: func(_ context.Context, _ string, _ []float32, _ store.QueryOpts) ([]models.SearchResult, bool, error) {
				return []models.SearchResult{
					{Chunk: chunk("a.go", 1, 5), Similarity: tc.best},
					{Chunk: chunk("b.go", 1, 5), Similarity: tc.best - 0.05},
				}, true, nil
			},
		}
		s := NewService(&MockEmbedder{}, &MockAIClient{}, st)

		res, err := s.Query(context.Background(), "q", testRepo(), Options{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Confidence != tc.want {
			t.Errorf("best %.2f: expected %s, got %s", tc.best, tc.want, res.Confidence)
		}
	}
}

func TestQueryEmbedFailure(t *testing.T) {
	emb := &MockEmbedder{
		EmbedQueryFunc: func(_ context.Context, _ string) ([]float32, error) {
			return nil, errors.New("service unavailable")
		},
	}
	s := NewService(emb, &MockAIClient{}, &MockStore{})
	if _, err := s.Query(context.Background(), "q", testRepo(), Options{}); err == nil {
		t.Fatal("expected embed failure to surface")
	}
}

func TestQueryCompleteFailure(t *testing.T) {
	st := &MockStore{
		SearchFunc: func(_ context.Context, _ string, _ []float32, _ store.QueryOpts) ([]models.SearchResult, bool, error) {
			return []models.SearchResult{{Chunk: chunk("a.go", 1, 5), Similarity: 0.9}}, true, nil
		},
	}
	client := &MockAIClient{
		CompleteFunc: func(_ context.Context, _ string) (string, error) {
			return "", errors.New("model overloaded")
		},
	}
	s := NewService(&MockEmbedder{}, client, st)
	if _, err := s.Query(context.Background(), "q", testRepo(), Options{}); err == nil {
		t.Fatal("expected synthesis failure to surface")
	}
}
