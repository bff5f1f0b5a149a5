package main

import (
	"context"
	"log"
	"strings"

	"github.com/spf13/pflag"

	"github.com/codeask/codeask/internal/ai"
	"github.com/codeask/codeask/internal/chunker"
	"github.com/codeask/codeask/internal/collector"
	"github.com/codeask/codeask/internal/config"
	"github.com/codeask/codeask/internal/embedder"
	"github.com/codeask/codeask/internal/indexer"
	"github.com/codeask/codeask/internal/store"
	"github.com/codeask/codeask/pkg/models"
)

func main() {
	fs := pflag.NewFlagSet("codeask-indexer", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	if cfg.Repo == "" {
		log.Fatal("--repo owner/name is required")
	}
	parts := strings.SplitN(cfg.Repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		log.Fatalf("invalid --repo %q, expected owner/name", cfg.Repo)
	}
	repo := models.Repository{Owner: parts[0], Name: parts[1], Branch: cfg.Branch}

	provider := strings.ToLower(cfg.Provider)
	log.Printf("using provider: %s", provider)
	var clientConfig *ai.ClientConfig
	switch provider {
	case "openai":
		clientConfig = &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Provider:   ai.ProviderOpenAI,
		}
	case "vertexai":
		clientConfig = &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Location:   cfg.Location,
			Provider:   ai.ProviderVertexAI,
		}
	case "stub":
		clientConfig = &ai.ClientConfig{
			Dim:      cfg.Dim,
			Provider: ai.ProviderStub,
		}
	default:
		log.Fatalf("unsupported provider: %s", provider)
	}

	ctx := context.Background()

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	client, err := ai.NewClient(clientConfig)
	if err != nil {
		log.Fatal(err)
	}
	if client.Dim() == 0 {
		log.Fatal("embedding dimension must be set")
	}

	if err := st.Migrate(ctx, client.Dim()); err != nil {
		log.Fatal(err)
	}

	// A local checkout avoids API calls entirely; otherwise go through
	// the GitHub API with the configured token.
	var coll indexer.Collector
	if cfg.RepoRoot != "" {
		local := collector.NewLocal(cfg.RepoRoot)
		local.MaxFileSize = cfg.MaxFileSizeKB * 1024
		coll = local
	} else {
		api := collector.New(ctx, cfg.GithubToken)
		api.Concurrency = cfg.FetchConcurrency
		api.MaxFileSize = cfg.MaxFileSizeKB * 1024
		coll = api
	}

	emb := embedder.New(client, cfg.EmbedBatchSize, cfg.EmbedCacheSize)
	orchestrator := indexer.New(coll, chunker.New(), emb, st)

	job, err := orchestrator.Index(ctx, repo)
	if err != nil {
		log.Fatal(err)
	}

	stats := emb.Stats()
	log.Printf("indexed %s: %d files, %d chunks (embedding calls=%d cache_hits=%d failed=%d)",
		job.Repository, job.FilesTotal, job.ChunksWritten,
		stats.ServiceCalls, stats.CacheHits, stats.FailedItems)
}
