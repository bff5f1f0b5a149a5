package collector

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"
)

const (
	// maxAttempts bounds retries on rate-limited or transient responses.
	maxAttempts = 4

	// baseBackoff is the initial delay between attempts.
	baseBackoff = 2 * time.Second
)

// TreeEntry is one blob listed in a repository tree.
type TreeEntry struct {
	Path string
	SHA  string
	Size int
}

// HostClient is the subset of the code-host API the collector consumes.
type HostClient interface {
	DefaultBranch(ctx context.Context, owner, name string) (string, error)
	ListTree(ctx context.Context, owner, name, ref string) ([]TreeEntry, error)
	GetBlob(ctx context.Context, owner, name, sha string) (string, error)
}

// GithubClient implements HostClient against the GitHub REST API.
type GithubClient struct {
	gh      *gh.Client
	limiter *RateLimiter
}

// NewGithubClient builds a client. An empty token falls back to
// unauthenticated access with its much smaller quota.
func NewGithubClient(ctx context.Context, token string) *GithubClient {
	var hc *http.Client
	if strings.TrimSpace(token) != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = oauth2.NewClient(ctx, ts)
	} else {
		hc = &http.Client{}
	}
	hc.Timeout = 30 * time.Second

	return &GithubClient{
		gh:      gh.NewClient(hc),
		limiter: NewRateLimiter(),
	}
}

func (c *GithubClient) DefaultBranch(ctx context.Context, owner, name string) (string, error) {
	var branch string
	err := c.withRetry(ctx, func() (*gh.Response, error) {
		repo, resp, err := c.gh.Repositories.Get(ctx, owner, name)
		if err == nil {
			branch = repo.GetDefaultBranch()
		}
		return resp, err
	})
	if err != nil {
		return "", fmt.Errorf("get repository %s/%s: %w", owner, name, err)
	}
	if branch == "" {
		branch = "main"
	}
	return branch, nil
}

// ListTree fetches the full recursive tree for a ref in one call.
func (c *GithubClient) ListTree(ctx context.Context, owner, name, ref string) ([]TreeEntry, error) {
	var tree *gh.Tree
	err := c.withRetry(ctx, func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		tree, resp, err = c.gh.Git.GetTree(ctx, owner, name, ref, true)
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("list tree %s/%s@%s: %w", owner, name, ref, err)
	}

	entries := make([]TreeEntry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		if e.GetType() != "blob" {
			continue
		}
		entries = append(entries, TreeEntry{
			Path: e.GetPath(),
			SHA:  e.GetSHA(),
			Size: e.GetSize(),
		})
	}
	return entries, nil
}

func (c *GithubClient) GetBlob(ctx context.Context, owner, name, sha string) (string, error) {
	var blob *gh.Blob
	err := c.withRetry(ctx, func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		blob, resp, err = c.gh.Git.GetBlob(ctx, owner, name, sha)
		return resp, err
	})
	if err != nil {
		return "", fmt.Errorf("get blob %s: %w", sha, err)
	}

	content := blob.GetContent()
	if blob.GetEncoding() == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content, "\n", ""))
		if err != nil {
			return "", fmt.Errorf("decode blob %s: %w", sha, err)
		}
		return string(decoded), nil
	}
	return content, nil
}

// withRetry runs one API call under the rate limiter, retrying rate-limited
// and server-side failures with exponential backoff up to maxAttempts.
func (c *GithubClient) withRetry(ctx context.Context, call func() (*gh.Response, error)) error {
	backoff := baseBackoff
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		resp, err := call()
		if resp != nil {
			// Check also records the X-RateLimit headers.
			if rlErr := c.limiter.Check(resp.Response); rlErr != nil && err == nil {
				err = rlErr
			}
		}
		if err == nil {
			return nil
		}
		lastErr = err

		if !isTransient(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return fmt.Errorf("retry budget exhausted: %w", lastErr)
}

// isTransient reports whether an API error is worth retrying.
func isTransient(err error) bool {
	var throttled *RateLimitError
	if errors.As(err, &throttled) {
		return true
	}
	var rl *gh.RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var abuse *gh.AbuseRateLimitError
	if errors.As(err, &abuse) {
		return true
	}
	var ge *gh.ErrorResponse
	if errors.As(err, &ge) && ge.Response != nil {
		return ge.Response.StatusCode >= 500 || ge.Response.StatusCode == http.StatusTooManyRequests
	}
	return false
}
