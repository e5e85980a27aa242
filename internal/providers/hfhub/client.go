package hfhub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"imageworker/internal/infra"
	"imageworker/internal/storage"
)

// Options configures the model hub client.
type Options struct {
	Endpoint   string
	Token      string
	Revision   string
	Cache      *storage.FileStore
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *infra.Logger
}

// Client downloads repository files from a HuggingFace-compatible hub into a
// local content cache keyed by repository, revision and file path.
type Client struct {
	endpoint   string
	token      string
	revision   string
	cache      *storage.FileStore
	httpClient *http.Client
	logger     *infra.Logger
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	if opts.Cache == nil {
		return nil, errors.New("hfhub: cache store is required")
	}
	endpoint := strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/")
	if endpoint == "" {
		endpoint = "https://huggingface.co"
	}
	revision := strings.TrimSpace(opts.Revision)
	if revision == "" {
		revision = "main"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		endpoint:   endpoint,
		token:      strings.TrimSpace(opts.Token),
		revision:   revision,
		cache:      opts.Cache,
		httpClient: httpClient,
		logger:     infra.LoggerOrDiscard(opts.Logger),
	}, nil
}

// Fetch materializes file from repo in the cache and returns its local path.
// A file already in the cache is returned without contacting the hub.
func (c *Client) Fetch(ctx context.Context, repo, file string) (string, error) {
	repo = strings.Trim(strings.TrimSpace(repo), "/")
	file = strings.Trim(strings.TrimSpace(file), "/")
	if repo == "" || file == "" {
		return "", errors.New("hfhub: repo and file are required")
	}
	key := path.Join(repo, c.revision, file)
	if ok, err := c.cache.Present(key); err != nil {
		return "", fmt.Errorf("hfhub: check cache: %w", err)
	} else if ok {
		c.logger.Debug().Str("repo", repo).Str("file", file).Msg("hfhub: cache hit")
		return c.cache.Path(key)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolveURL(repo, file), nil)
	if err != nil {
		return "", fmt.Errorf("hfhub: build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("hfhub: download %s/%s: %w", repo, file, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("hfhub: download %s/%s: status %d: %s", repo, file, resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}

	localPath, err := c.cache.WriteStream(ctx, key, resp.Body)
	if err != nil {
		return "", fmt.Errorf("hfhub: store %s/%s: %w", repo, file, err)
	}
	c.logger.Info().
		Str("repo", repo).
		Str("file", file).
		Int64("bytes", resp.ContentLength).
		Dur("elapsed", time.Since(started)).
		Msg("hfhub: downloaded file")
	return localPath, nil
}

func (c *Client) resolveURL(repo, file string) string {
	segments := strings.Split(file, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/%s/resolve/%s/%s", c.endpoint, repo, url.PathEscape(c.revision), strings.Join(segments, "/"))
}
