package ai

import (
	"context"
	"encoding/binary"
	"errors"
	"hash/fnv"
	"math"
	"strings"
)

// Client provides embedding and answer-synthesis capabilities.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Complete(ctx context.Context, prompt string) (string, error)
	EmbedModel() string
	Dim() int
}

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderVertexAI Provider = "vertexai"
	ProviderStub     Provider = "stub"
)

// ClientConfig holds configuration for AI clients
type ClientConfig struct {
	APIKey     string
	EmbedModel string
	ChatModel  string
	Dim        int
	ProjectID  string
	Provider   Provider
	Location   string
}

// NewClient creates a new AI client based on configuration
func NewClient(config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	ctx := context.Background()
	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(ctx, config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// StubClient is a deterministic offline implementation of Client, used in
// tests and when no provider is configured. Vectors are derived from word
// hashes so that texts sharing words land near each other.
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	if dim <= 0 {
		dim = 64
	}
	return &StubClient{dim: dim}
}

// Embed returns a unit vector derived from the text's word hashes.
func (s *StubClient) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, s.dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(w))
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], h.Sum64())
		for i := 0; i < s.dim; i++ {
			if b[i%8]&(1<<(i/8%8)) != 0 {
				v[i] += 1
			} else {
				v[i] -= 1
			}
		}
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range v {
			v[i] /= n
		}
	}
	return v, nil
}

func (s *StubClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Complete echoes the tail of the prompt so tests can assert the prompt
// actually reached the model.
func (s *StubClient) Complete(ctx context.Context, prompt string) (string, error) {
	lines := strings.Split(strings.TrimSpace(prompt), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		last = "the retrieved code"
	}
	return "Based on the retrieved code: " + last, nil
}

func (s *StubClient) EmbedModel() string {
	return "stub"
}

// Dim returns the embedding dimension
func (s *StubClient) Dim() int {
	return s.dim
}
