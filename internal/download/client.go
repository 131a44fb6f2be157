// Package download performs crash-safe single-file downloads.
//
// A file is fetched to a dot-prefixed temporary name in the destination
// directory and renamed into place only after a non-zero amount of data has
// been written. A process killed mid-download leaves a temp file, never a
// partial file at the final path, so file presence can serve as the
// checkpoint signal.
package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/BadgerOps/shadowsync/internal/safety"
)

// Client fetches files over HTTP with atomic placement. There is no retry
// or resume: a failed download leaves nothing behind and the next scheduled
// run attempts it again.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a download client. timeout bounds each whole transfer.
func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: safety.NewHTTPClient(timeout),
		logger:     logger,
	}
}

// Fetch downloads url to dest. On success dest exists with non-zero size;
// on any failure dest is untouched and the temporary file is removed.
func (c *Client) Fetch(ctx context.Context, url, dest string) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp := filepath.Join(dir, "."+filepath.Base(dest))
	size, err := c.fetchTo(ctx, url, tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if size == 0 {
		_ = os.Remove(tmp)
		return fmt.Errorf("empty download from %s", url)
	}

	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming %s into place: %w", tmp, err)
	}

	c.logger.Debug("downloaded file", "dest", dest, "size", size)
	return nil
}

func (c *Client) fetchTo(ctx context.Context, url, path string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("fetching %s: %s", url, resp.Status)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", path, err)
	}

	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("writing %s: %w", path, err)
	}
	return n, nil
}
