package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatlift/chatlift/internal/session"
)

// apiClient is a thin wrapper over the engine's HTTP API.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func clientFromFlags(cmd *cobra.Command) (*apiClient, error) {
	baseURL, _ := cmd.Flags().GetString("url")
	token, _ := cmd.Flags().GetString("token")
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("--url is required")
	}
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("--token or $CHATLIFT_TOKEN is required")
	}
	return &apiClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) connect(ctx context.Context) (session.Snapshot, error) {
	var snap session.Snapshot
	err := c.do(ctx, http.MethodPost, "/api/session/connect", nil, &snap)
	return snap, err
}

func (c *apiClient) disconnect(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/session/disconnect", nil, nil)
}

func (c *apiClient) status(ctx context.Context) (session.Snapshot, error) {
	var snap session.Snapshot
	err := c.do(ctx, http.MethodGet, "/api/session/status", nil, &snap)
	return snap, err
}

func (c *apiClient) send(ctx context.Context, contactID, text string) error {
	return c.do(ctx, http.MethodPost, "/api/messages", map[string]string{
		"contact_id": contactID,
		"text":       text,
	}, nil)
}

// streamURL converts the API base URL into the websocket status stream URL.
func (c *apiClient) streamURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/api/session/status/stream"
	return u.String(), nil
}
