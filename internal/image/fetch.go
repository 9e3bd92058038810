package image

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"seg-annotator/internal/logging"
)

// maxImageBytes caps a single download.
const maxImageBytes = 64 << 20

// Fetcher downloads and decodes images served by the backend.
type Fetcher struct {
	Client *http.Client
}

// NewFetcher creates a fetcher using client, or http.DefaultClient when nil.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{Client: client}
}

// CacheBust appends a timestamp query so a freshly rewritten file on the
// server is not served from a cache.
func CacheBust(rawURL string, at time.Time) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set("t", strconv.FormatInt(at.UnixMilli(), 10))
	u.RawQuery = q.Encode()
	return u.String()
}

// StripQuery removes the query string and fragment.
func StripQuery(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	return u.String()
}

// Fetch loads rawURL. On failure it retries once with the query stripped;
// a second failure wraps ErrLoad.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Asset, error) {
	asset, err := f.fetchOnce(ctx, rawURL)
	if err == nil {
		return asset, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, ctx.Err())
	}

	retryURL := StripQuery(rawURL)
	logging.Logger.Warn("image load failed, retrying without cache busting",
		zap.String("url", rawURL), zap.Error(err))

	asset, err = f.fetchOnce(ctx, retryURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoad, retryURL, err)
	}
	return asset, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (*Asset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, err
	}
	return Decode(data, StripQuery(rawURL))
}
