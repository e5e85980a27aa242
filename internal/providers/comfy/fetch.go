package comfy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"imageworker/internal/domain"
)

// maxArtifactBytes caps a single downloaded image.
const maxArtifactBytes = 256 << 20

// Fetch downloads the bytes behind ref. It makes exactly one request.
func (c *Client) Fetch(ctx context.Context, ref domain.ArtifactRef) ([]byte, error) {
	if ref.Filename == "" {
		return nil, &domain.FetchError{Err: fmt.Errorf("empty filename")}
	}
	kind := ref.Kind
	if kind == "" {
		kind = "output"
	}
	query := url.Values{}
	query.Set("filename", ref.Filename)
	query.Set("subfolder", ref.Subfolder)
	query.Set("type", kind)

	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+query.Encode(), nil)
	if err != nil {
		return nil, &domain.FetchError{Filename: ref.Filename, Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.FetchError{Filename: ref.Filename, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &domain.FetchError{Filename: ref.Filename, StatusCode: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactBytes+1))
	if err != nil {
		return nil, &domain.FetchError{Filename: ref.Filename, Err: err}
	}
	if len(data) > maxArtifactBytes {
		return nil, &domain.FetchError{Filename: ref.Filename, Err: fmt.Errorf("artifact exceeds %d bytes", maxArtifactBytes)}
	}
	c.logger.Debug().Str("filename", ref.Filename).Int("bytes", len(data)).Msg("comfy: artifact fetched")
	return data, nil
}
