package models

import "time"

// Repository identifies one indexable repository on a code host.
// Branch may be empty, in which case the collector resolves the
// repository's default branch before listing files.
type Repository struct {
	Host   string `json:"host"`
	Owner  string `json:"owner"`
	Name   string `json:"name"`
	Branch string `json:"branch"`
}

// ID returns the canonical identity used as the storage key. The branch is
// deliberately excluded: one index per repository, re-pointed on re-index.
func (r Repository) ID() string {
	host := r.Host
	if host == "" {
		host = "github.com"
	}
	return host + "/" + r.Owner + "/" + r.Name
}

func (r Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// SourceFile is one collected file. It only lives for the duration of an
// indexing run and is never persisted.
type SourceFile struct {
	Path     string
	Language string
	Size     int
	Content  string
	BlobHash string
}

// Chunk is a bounded, self-contained excerpt of one source file. Chunks are
// immutable; a re-index writes a new generation instead of mutating rows.
type Chunk struct {
	ID             string    `json:"id"`
	Repository     string    `json:"repository"`
	Path           string    `json:"path"`
	Symbol         string    `json:"symbol,omitempty"`
	Language       string    `json:"language"`
	Content        string    `json:"content"`
	ImportsContext string    `json:"imports_context,omitempty"`
	LineStart      int       `json:"line_start"`
	LineEnd        int       `json:"line_end"`
	TokenCount     int       `json:"token_count"`
	// CreatedAt is assigned by the store on write; it is zero on
	// chunks that have not been persisted.
	CreatedAt time.Time `json:"created_at"`
}

// ChunkWithVector pairs a chunk with its embedding for the write path.
// A nil Vector marks an unembeddable chunk, excluded from the store.
type ChunkWithVector struct {
	Chunk  Chunk
	Vector []float32
}

// JobState is the lifecycle of one indexing job.
type JobState string

const (
	JobPending    JobState = "pending"
	JobCollecting JobState = "collecting"
	JobChunking   JobState = "chunking"
	JobEmbedding  JobState = "embedding"
	JobStoring    JobState = "storing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

// Terminal reports whether the state is an end state.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// IndexJob is a snapshot of one repository's indexing run. At most one
// non-terminal job exists per repository at any time.
type IndexJob struct {
	Repository     string     `json:"repository"`
	State          JobState   `json:"state"`
	FilesTotal     int        `json:"files_total"`
	FilesProcessed int        `json:"files_processed"`
	ChunksWritten  int        `json:"chunks_written"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// SearchResult is one ranked chunk from a similarity search.
type SearchResult struct {
	Chunk      Chunk   `json:"chunk"`
	Similarity float64 `json:"similarity"`
}

// Confidence buckets a query answer by the best retrieval similarity.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Source cites one code location that grounded an answer.
type Source struct {
	Path       string  `json:"path"`
	LineStart  int     `json:"line_start"`
	LineEnd    int     `json:"line_end"`
	Similarity float64 `json:"similarity"`
}

// QueryResult is the answer to one natural-language question. Answer is
// always prose; raw code is reachable only through Sources, which may be
// empty.
type QueryResult struct {
	Answer           string     `json:"answer"`
	Confidence       Confidence `json:"confidence"`
	Sources          []Source   `json:"sources"`
	ProcessingTimeMS int64      `json:"processing_time_ms"`
}

// RepositoryInfo is one row of the indexed-repository listing.
type RepositoryInfo struct {
	Repository    string     `json:"repository"`
	Owner         string     `json:"owner"`
	Name          string     `json:"name"`
	Branch        string     `json:"branch"`
	LastIndexedAt *time.Time `json:"last_indexed_at,omitempty"`
}
