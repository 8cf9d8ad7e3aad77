// Package windserver downloads raw wind observations from the wind data server.
package windserver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/storm-data-wind-service/internal/domain"
)

// Client fetches raw wind CSV files.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a wind server client.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// URL builds the wind API request for the given regions and date.
func (c *Client) URL(regions []string, date time.Time) string {
	params := url.Values{
		"date":   {date.Format(time.DateOnly)},
		"states": regions,
	}
	return c.baseURL + "/api/wind?" + params.Encode()
}

// Download fetches the wind observations for regions on date into a new file
// under dir and returns its path. Failures are *domain.DownloadError.
func (c *Client) Download(ctx context.Context, regions []string, date time.Time, dir string) (string, error) {
	u := c.URL(regions, date)
	c.logger.Debug("download", "url", u)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", &domain.DownloadError{URL: u, Err: fmt.Errorf("create request: %w", err)}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &domain.DownloadError{URL: u, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &domain.DownloadError{URL: u, StatusCode: resp.StatusCode}
	}

	dest := filepath.Join(dir, uuid.NewString()+".csv")
	f, err := os.Create(dest)
	if err != nil {
		return "", &domain.DownloadError{URL: u, Err: fmt.Errorf("create %s: %w", dest, err)}
	}

	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dest)
		return "", &domain.DownloadError{URL: u, Err: fmt.Errorf("write %s: %w", dest, err)}
	}

	c.logger.Info("wind data downloaded", "regions", len(regions), "bytes", n, "path", dest)
	return dest, nil
}
