// Package collector fetches a repository's source files from a code host,
// filtered to indexable code and fetched under the host's rate limits.
package collector

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/codeask/codeask/pkg/models"
)

const (
	// DefaultConcurrency bounds in-flight blob fetches per repository.
	DefaultConcurrency = 8

	// DefaultMaxFileSize skips files larger than 500KB.
	DefaultMaxFileSize = 500 * 1024
)

// Collector lists a repository tree once and fetches its blobs with bounded
// concurrency. Per-file failures are skipped; listing failures are fatal.
type Collector struct {
	Host        HostClient
	Concurrency int
	MaxFileSize int
}

// New creates a Collector over the GitHub API.
func New(ctx context.Context, token string) *Collector {
	return &Collector{
		Host:        NewGithubClient(ctx, token),
		Concurrency: DefaultConcurrency,
		MaxFileSize: DefaultMaxFileSize,
	}
}

// Collect returns every indexable source file at repo's branch. When the
// branch is empty, the repository's default branch is resolved first.
func (c *Collector) Collect(ctx context.Context, repo models.Repository) ([]models.SourceFile, error) {
	branch := repo.Branch
	if branch == "" {
		var err error
		branch, err = c.Host.DefaultBranch(ctx, repo.Owner, repo.Name)
		if err != nil {
			return nil, fmt.Errorf("resolve default branch: %w", err)
		}
	}

	entries, err := c.Host.ListTree(ctx, repo.Owner, repo.Name, branch)
	if err != nil {
		return nil, err
	}

	maxSize := c.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	wanted := make([]TreeEntry, 0, len(entries))
	for _, e := range entries {
		if shouldSkip(e.Path) {
			continue
		}
		if e.Size > maxSize {
			log.Debug().Str("path", e.Path).Int("size", e.Size).Msg("skipping oversized file")
			continue
		}
		wanted = append(wanted, e)
	}

	log.Info().
		Str("repository", repo.ID()).
		Str("branch", branch).
		Int("tree_entries", len(entries)).
		Int("selected", len(wanted)).
		Msg("collecting files")

	concurrency := c.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	files := make([]*models.SourceFile, len(wanted))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, entry := range wanted {
		g.Go(func() error {
			content, err := c.Host.GetBlob(gctx, repo.Owner, repo.Name, entry.SHA)
			if err != nil {
				// Exhausted quota poisons every remaining fetch; a
				// hollow result must not replace a complete index.
				var throttled *RateLimitError
				if errors.As(err, &throttled) {
					return fmt.Errorf("fetch %s: %w", entry.Path, err)
				}
				// One unreadable file never fails the collection.
				log.Warn().Err(err).Str("path", entry.Path).Msg("blob fetch failed, skipping")
				return nil
			}
			files[i] = &models.SourceFile{
				Path:     entry.Path,
				Language: guessLang(entry.Path),
				Size:     len(content),
				Content:  content,
				BlobHash: entry.SHA,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]models.SourceFile, 0, len(files))
	for _, f := range files {
		if f != nil {
			out = append(out, *f)
		}
	}
	return out, nil
}
