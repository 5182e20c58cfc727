// Package scanner reads bridge messages from the upstream scanner feed.
package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"bridgescan/enricher/internal/models"
)

const (
	defaultTimeout = 30 * time.Second
	maxRetries     = 3
)

// Response is the feed envelope. Messages are ordered newest first.
type Response struct {
	Data []models.BridgeMessage `json:"data"`
}

// Client fetches message pages from the scanner API
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger

	// newBackOff is replaced in tests to avoid real sleeps
	newBackOff func() backoff.BackOff
}

// NewClient returns a feed client for baseURL
func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  logger.Named("scanner"),
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
}

// Messages returns one page of the most recent messages
func (c *Client) Messages(ctx context.Context, skip, limit int) ([]models.BridgeMessage, error) {
	q := url.Values{}
	q.Set("skip", strconv.Itoa(skip))
	q.Set("limit", strconv.Itoa(limit))
	return c.get(ctx, "/api/messages?"+q.Encode())
}

// Message returns the feed entry for one message id. The feed wraps it in the
// same envelope as a page, so the result may hold zero or one message.
func (c *Client) Message(ctx context.Context, id int64) ([]models.BridgeMessage, error) {
	return c.get(ctx, "/api/messages/"+strconv.FormatInt(id, 10))
}

func (c *Client) get(ctx context.Context, path string) ([]models.BridgeMessage, error) {
	var resp Response

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		httpResp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("scanner request failed: %w", err)
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode >= 400 && httpResp.StatusCode < 500 {
			return backoff.Permanent(fmt.Errorf("scanner returned status %d", httpResp.StatusCode))
		}
		if httpResp.StatusCode != http.StatusOK {
			return fmt.Errorf("scanner returned status %d", httpResp.StatusCode)
		}

		resp = Response{}
		if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode scanner response: %w", err))
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("Scanner request failed, retrying",
			zap.String("path", path),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), maxRetries), ctx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		return nil, err
	}
	return resp.Data, nil
}
