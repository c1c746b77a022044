// Package crossencoder calls an external cross-encoder scoring service.
//
// Request:  POST {endpoint} {"query": "...", "passages": ["...", ...]}
// Response: {"scores": [1.7, -3.2, ...]} raw logits, one per passage.
package crossencoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const maxErrorBody = 512

// Config holds the scorer endpoint settings.
type Config struct {
	Endpoint string
	Timeout  time.Duration
	Logger   *zap.Logger
}

// Client scores (query, passage) pairs over HTTP.
type Client struct {
	endpoint string
	http     *http.Client
	logger   *zap.Logger
}

type scoreRequest struct {
	Query    string   `json:"query"`
	Passages []string `json:"passages"`
}

type scoreResponse struct {
	Scores []float64 `json:"scores"`
}

// New creates a scorer client. It returns nil when no endpoint is configured,
// which leaves real judging unavailable.
func New(cfg Config) *Client {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint: cfg.Endpoint,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Score returns one raw logit per passage.
func (c *Client) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(scoreRequest{Query: query, Passages: passages})
	if err != nil {
		return nil, fmt.Errorf("encode score request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("score request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("score request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode score response: %w", err)
	}
	if len(out.Scores) != len(passages) {
		return nil, fmt.Errorf("score response: got %d scores for %d passages", len(out.Scores), len(passages))
	}

	c.logger.Debug("Cross-encoder scored passages",
		zap.Int("passages", len(passages)),
		zap.Duration("duration", time.Since(start)),
	)
	return out.Scores, nil
}
