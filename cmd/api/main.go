package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"

	"github.com/codeask/codeask/internal/ai"
	"github.com/codeask/codeask/internal/chunker"
	"github.com/codeask/codeask/internal/collector"
	"github.com/codeask/codeask/internal/config"
	"github.com/codeask/codeask/internal/embedder"
	"github.com/codeask/codeask/internal/indexer"
	"github.com/codeask/codeask/internal/query"
	"github.com/codeask/codeask/internal/store"
	"github.com/codeask/codeask/pkg/models"
)

type indexRequest struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Branch string `json:"branch,omitempty"`
}

type queryRequest struct {
	Question string `json:"question"`
	Owner    string `json:"owner"`
	Repo     string `json:"repo"`
	Language string `json:"language,omitempty"`
	TopK     int    `json:"top_k,omitempty"`
}

func clientConfigFor(cfg config.Specification) (*ai.ClientConfig, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Provider:   ai.ProviderOpenAI,
		}, nil
	case "vertexai", "google":
		return &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Location:   cfg.Location,
			Provider:   ai.ProviderVertexAI,
		}, nil
	case "stub":
		return &ai.ClientConfig{
			Dim:      cfg.Dim,
			Provider: ai.ProviderStub,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func main() {
	fs := pflag.NewFlagSet("codeask-api", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Msg("starting codeask api")

	clientConfig, err := clientConfigFor(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	client, err := ai.NewClient(clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}

	dim := client.Dim()
	logger.Info().Int("embedding_dim", dim).Str("embed_model", client.EmbedModel()).Msg("AI client initialized")

	if err := st.Migrate(ctx, dim); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	emb := embedder.New(client, cfg.EmbedBatchSize, cfg.EmbedCacheSize)

	coll := collector.New(ctx, cfg.GithubToken)
	coll.Concurrency = cfg.FetchConcurrency
	coll.MaxFileSize = cfg.MaxFileSizeKB * 1024

	orchestrator := indexer.New(coll, chunker.New(), emb, st)
	orchestrator.BatchConcurrency = cfg.BatchConcurrency

	querySvc := query.NewService(emb, client, st)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	mux.HandleFunc("/index", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req indexRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.Owner == "" || req.Repo == "" {
			http.Error(w, "owner and repo are required", http.StatusBadRequest)
			return
		}

		repo := models.Repository{Owner: req.Owner, Name: req.Repo, Branch: req.Branch}
		if orchestrator.IsIndexing(repo) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"status":     "already-in-progress",
				"repository": repo.ID(),
			})
			return
		}

		// The job outlives the request; progress is visible via the
		// status endpoint.
		go func() {
			if _, err := orchestrator.Index(context.Background(), repo); err != nil {
				if !errors.Is(err, indexer.ErrAlreadyIndexing) {
					logger.Error().Err(err).Str("repository", repo.ID()).Msg("background index failed")
				}
			}
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":     "accepted",
			"repository": repo.ID(),
		})
	})

	mux.HandleFunc("/index/status", func(w http.ResponseWriter, r *http.Request) {
		owner := r.URL.Query().Get("owner")
		name := r.URL.Query().Get("repo")
		if owner == "" || name == "" {
			http.Error(w, "owner and repo are required", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		repo := models.Repository{Owner: owner, Name: name}
		job, found, err := st.GetStatus(ctx, repo.ID())
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		if !found {
			http.Error(w, "no index job for repository", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, job)
	})

	mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		start := time.Now()
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.Question == "" || req.Owner == "" || req.Repo == "" {
			http.Error(w, "question, owner and repo are required", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
		defer cancel()

		repo := models.Repository{Owner: req.Owner, Name: req.Repo}
		res, err := querySvc.Query(ctx, req.Question, repo, query.Options{
			Language: req.Language,
			TopK:     req.TopK,
		})
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}

		writeJSON(w, http.StatusOK, res)
		hlog.FromRequest(r).Info().
			Str("path", "/query").
			Str("repository", repo.ID()).
			Str("confidence", string(res.Confidence)).
			Dur("dur", time.Since(start)).
			Msg("served")
	})

	mux.HandleFunc("/repositories", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		repos, err := st.ListRepositories(ctx)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		if repos == nil {
			repos = []models.RepositoryInfo{}
		}
		writeJSON(w, http.StatusOK, repos)
	})

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	log.Fatal(s.ListenAndServe())
}
