package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// maxUpstreamBody caps how much of an upstream response is read.
const maxUpstreamBody = 4 << 20

// UpstreamClient fetches JSON documents from the public APIs behind the dashboard.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewUpstreamClient creates a pooled client. timeout bounds a single request
// including reading the body.
func NewUpstreamClient(timeout time.Duration, logger *zap.Logger) *UpstreamClient {
	return &UpstreamClient{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

// GetJSON issues a GET and decodes a 200 response into out. Any other status is
// an ErrUpstream.
func (c *UpstreamClient) GetJSON(ctx context.Context, source, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%w: build %s request: %v", ErrUpstream, source, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "inkdash/1.0")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Upstream request failed",
			zap.String("source", source),
			zap.String("url", rawURL),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return fmt.Errorf("%w: %s: %v", ErrUpstream, source, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return fmt.Errorf("%w: read %s body: %v", ErrUpstream, source, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Upstream returned non-200 status",
			zap.String("source", source),
			zap.String("url", rawURL),
			zap.Int("status_code", resp.StatusCode))
		return fmt.Errorf("%w: %s returned status %d", ErrUpstream, source, resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrUpstream, source, err)
	}

	c.logger.Debug("Upstream request completed",
		zap.String("source", source),
		zap.Duration("duration", time.Since(start)),
		zap.Int("bytes", len(body)))
	return nil
}
