// Package ai wraps the external intent/sentiment analyzer consumed by the
// router for chatbots that opt into AI-assisted routing.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Analysis is the signal returned for one inbound text.
type Analysis struct {
	Intent    string  `json:"intent"`
	Sentiment string  `json:"sentiment"`
	Score     float64 `json:"score"`
}

// Analyzer scores inbound text. Implementations are fallible remote calls;
// routing degrades to the plain fallback policy when analysis fails.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (Analysis, error)
}

// Client calls an OpenAI-compatible analysis endpoint.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient builds an analyzer client. baseURL must point at the service
// root; requests go to {baseURL}/v1/analyze.
func NewClient(log *slog.Logger, baseURL, apiKey, model string, timeout time.Duration) *Client {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		model:   strings.TrimSpace(model),
		http:    &http.Client{Timeout: timeout},
		logger:  log.With(slog.String("component", "ai")),
	}
}

type analyzeRequest struct {
	Model string `json:"model,omitempty"`
	Input string `json:"input"`
}

// Analyze sends the text for scoring.
func (c *Client) Analyze(ctx context.Context, text string) (Analysis, error) {
	if c.baseURL == "" {
		return Analysis{}, fmt.Errorf("analyzer base url not configured")
	}
	payload, err := json.Marshal(analyzeRequest{Model: c.model, Input: text})
	if err != nil {
		return Analysis{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyze", bytes.NewReader(payload))
	if err != nil {
		return Analysis{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Analysis{}, fmt.Errorf("analyze request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Analysis{}, fmt.Errorf("analyze status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var analysis Analysis
	if err := json.NewDecoder(resp.Body).Decode(&analysis); err != nil {
		return Analysis{}, fmt.Errorf("decode analysis: %w", err)
	}
	return analysis, nil
}
