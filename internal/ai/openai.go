package ai

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

type OpenAIClient struct {
	config *ClientConfig
	http   *http.Client
}

func NewOpenAIClient(config *ClientConfig) *OpenAIClient {
	// Set default models if not provided
	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-3-small"
	}
	if config.ChatModel == "" {
		config.ChatModel = "gpt-4o-mini"
	}
	if config.Dim == 0 {
		// Set default dimensions based on the embedding model
		switch config.EmbedModel {
		case "text-embedding-3-small":
			config.Dim = 1536
		case "text-embedding-3-large":
			config.Dim = 3072
		case "text-embedding-ada-002":
			config.Dim = 1536
		default:
			// Default to text-embedding-3-small dimensions
			config.Dim = 1536
		}
	}

	// Create HTTP client with optional TLS skip verification
	transport := &http.Transport{}

	// Check for environment variable to skip TLS verification (for corporate proxies, etc.)
	if skipTLS, _ := strconv.ParseBool(os.Getenv("CODEASK_SKIP_TLS_VERIFY")); skipTLS {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}

	httpClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: transport,
	}

	return &OpenAIClient{
		config: config,
		http:   httpClient,
	}
}

// Embed returns the embedding vector for a single text.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds up to one API batch of texts in a single call.
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if c.config.APIKey == "" {
		return nil, errors.New("PROVIDER_API_KEY unset")
	}
	if len(texts) == 0 {
		return nil, errors.New("no texts to embed")
	}

	payload := map[string]any{
		"input": texts,
		"model": c.config.EmbedModel,
	}

	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://api.openai.com/v1/embeddings", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}

	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("openai embedding non-200: " + resp.Status)
	}

	var out struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Data) != len(texts) {
		return nil, errors.New("embedding count mismatch")
	}

	// The API documents order-preserving output but carries an index anyway.
	vecs := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, errors.New("embedding index out of range")
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

// Complete synthesizes a prose answer for a grounding prompt.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	if c.config.APIKey == "" {
		return "", errors.New("PROVIDER_API_KEY unset")
	}

	sys := "You are a senior engineer explaining a codebase to a business audience. " +
		"Answer in clear prose, citing files by path when relevant. Never paste raw code blocks. " +
		"If the provided excerpts do not answer the question, say so plainly."

	payload := map[string]any{
		"model": c.config.ChatModel,
		"messages": []map[string]string{
			{"role": "system", "content": sys},
			{"role": "user", "content": prompt},
		},
		"temperature": 0.2,
		"max_tokens":  600,
	}

	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(payload)

	req, err := http.NewRequestWithContext(ctx, "POST",
		"https://api.openai.com/v1/chat/completions", &buf)
	if err != nil {
		return "", err
	}

	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct{ Error struct{ Message string } }
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error.Message != "" {
			return "", errors.New(e.Error.Message)
		}
		return "", errors.New(resp.Status)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", errors.New("no choices")
	}

	return out.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) EmbedModel() string {
	return c.config.EmbedModel
}

func (c *OpenAIClient) Dim() int {
	return c.config.Dim
}

// setHeaders sets common headers for OpenAI requests
func (c *OpenAIClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	if strings.HasPrefix(c.config.APIKey, "sk-proj-") && c.config.ProjectID != "" {
		req.Header.Set("OpenAI-Project", c.config.ProjectID)
	}
}
