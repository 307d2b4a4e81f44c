package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bank-service/internal/models"
)

// ModelClient calls an external model collaborator over JSON/HTTP. Every
// failure, including an unset base URL, is reported as ErrModelUnavailable.
type ModelClient struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

func NewModelClient(name, baseURL string, timeout time.Duration) *ModelClient {
	return &ModelClient{
		name:       name,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *ModelClient) Name() string {
	return c.name
}

// Available reports whether a base URL is configured.
func (c *ModelClient) Available() bool {
	return c.baseURL != ""
}

// PostJSON sends in to baseURL+path and decodes the reply into out.
func (c *ModelClient) PostJSON(ctx context.Context, path string, in, out interface{}) error {
	if !c.Available() {
		return fmt.Errorf("%w: %s not configured", models.ErrModelUnavailable, c.name)
	}

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", c.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", models.ErrModelUnavailable, c.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", models.ErrModelUnavailable, c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%w: %s returned status %d: %s", models.ErrModelUnavailable, c.name, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: failed to decode response: %v", models.ErrModelUnavailable, c.name, err)
	}
	return nil
}
