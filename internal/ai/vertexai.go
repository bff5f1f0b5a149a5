package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type VertexAIClient struct {
	config *ClientConfig
	client *genai.Client
}

// NewVertexAIClient creates a new client for the Google Gemini API.
func NewVertexAIClient(ctx context.Context, config *ClientConfig) (*VertexAIClient, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	// Defaults for Gemini API
	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-005"
	}
	if config.ChatModel == "" {
		config.ChatModel = "gemini-2.0-flash"
	}
	if config.Dim == 0 {
		config.Dim = 768
	}
	if config.Location == "" && strings.TrimSpace(config.APIKey) == "" {
		config.Location = "us-central1"
	}

	cc := genai.ClientConfig{
		Backend: genai.BackendVertexAI,
	}

	if strings.TrimSpace(config.APIKey) != "" {
		cc.APIKey = config.APIKey
	}
	if strings.TrimSpace(config.ProjectID) != "" {
		cc.Project = config.ProjectID
	}
	if strings.TrimSpace(config.Location) != "" {
		cc.Location = config.Location
	}

	client, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &VertexAIClient{
		config: config,
		client: client,
	}, nil
}

// Embed returns the embedding vector for a single text.
func (c *VertexAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds one batch of texts in a single EmbedContent call.
func (c *VertexAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts to embed")
	}

	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.Text(t)...)
	}

	cfg := genai.EmbedContentConfig{
		TaskType: "RETRIEVAL_DOCUMENT",
	}

	res, err := c.client.Models.EmbedContent(ctx, c.config.EmbedModel, contents, &cfg)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}

	if res == nil || len(res.Embeddings) != len(texts) {
		return nil, errors.New("embedding count mismatch")
	}

	vecs := make([][]float32, len(texts))
	for i, e := range res.Embeddings {
		vecs[i] = e.Values
	}
	return vecs, nil
}

// Complete synthesizes a prose answer for a grounding prompt using Gemini.
func (c *VertexAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	sys := genai.Text("You are a senior engineer explaining a codebase to a business audience. " +
		"Answer in clear prose, citing files by path when relevant. Never paste raw code blocks. " +
		"If the provided excerpts do not answer the question, say so plainly.")
	temp := float32(0.2)
	maxTokens := int32(600)
	cfg := genai.GenerateContentConfig{
		Temperature:       &temp,
		MaxOutputTokens:   maxTokens,
		SystemInstruction: sys[0],
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.config.ChatModel, genai.Text(prompt), &cfg)
	if err != nil {
		return "", fmt.Errorf("completion failed: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("no answer returned")
	}

	part := resp.Candidates[0].Content.Parts[0]
	return strings.TrimSpace(string(part.Text)), nil
}

func (c *VertexAIClient) EmbedModel() string {
	return c.config.EmbedModel
}

func (c *VertexAIClient) Dim() int {
	return c.config.Dim
}
