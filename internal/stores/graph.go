package stores

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hermes-backend/internal/event"
)

// GraphConfig configures the graph store HTTP client.
type GraphConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// GraphClient upserts entity nodes and their edges into the graph service.
// The service is last-write-wins on (type, id), so replays are harmless.
type GraphClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewGraphClient builds a client with a per-call timeout.
func NewGraphClient(cfg GraphConfig) *GraphClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &GraphClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Upsert writes one node and its outgoing edges.
func (g *GraphClient) Upsert(ctx context.Context, entity *event.GraphEntity) error {
	const op = "graph upsert"

	payload := struct {
		Properties map[string]any    `json:"properties"`
		Edges      []event.GraphEdge `json:"edges,omitempty"`
	}{Properties: entity.Properties, Edges: entity.Edges}

	body, err := json.Marshal(payload)
	if err != nil {
		return &StoreError{Kind: KindValidation, Op: op, Err: err}
	}

	endpoint := fmt.Sprintf("%s/api/v1/nodes/%s/%s",
		g.baseURL, url.PathEscape(entity.Type), url.PathEscape(entity.ID))
	return doJSON(ctx, g.client, op, endpoint, g.apiKey, body)
}

// doJSON performs one PUT and maps the response to a StoreError. Shared by
// the graph and vector clients.
func doJSON(ctx context.Context, client *http.Client, op, endpoint, apiKey string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return &StoreError{Kind: KindValidation, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-Api-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return classifyTransport(op, err)
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// The response body stays in the server log; the returned error carries
	// only the status.
	log.Printf("ERROR: %s: HTTP %d: %s", op, resp.StatusCode, snippet)
	return &StoreError{
		Kind: kindFromStatus(resp.StatusCode),
		Op:   op,
		Err:  fmt.Errorf("status %d", resp.StatusCode),
	}
}
