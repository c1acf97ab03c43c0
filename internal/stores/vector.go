package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hermes-backend/internal/event"
)

// VectorConfig configures the semantic index HTTP client.
type VectorConfig struct {
	BaseURL    string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// VectorClient upserts documents into the semantic search index. The index
// service computes embeddings server-side from the document text.
type VectorClient struct {
	baseURL    string
	apiKey     string
	collection string
	client     *http.Client
}

// NewVectorClient builds a client with a per-call timeout.
func NewVectorClient(cfg VectorConfig) *VectorClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "entities"
	}
	return &VectorClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		collection: collection,
		client:     &http.Client{Timeout: timeout},
	}
}

// Upsert writes one document keyed by its ID.
func (v *VectorClient) Upsert(ctx context.Context, doc *event.VectorDocument) error {
	const op = "vector upsert"

	payload := struct {
		Kind     string         `json:"kind"`
		Document string         `json:"document"`
		Payload  map[string]any `json:"payload,omitempty"`
	}{Kind: doc.Kind, Document: doc.Document, Payload: doc.Payload}

	body, err := json.Marshal(payload)
	if err != nil {
		return &StoreError{Kind: KindValidation, Op: op, Err: err}
	}

	endpoint := fmt.Sprintf("%s/collections/%s/documents/%s",
		v.baseURL, url.PathEscape(v.collection), url.PathEscape(doc.ID))
	return doJSON(ctx, v.client, op, endpoint, v.apiKey, body)
}
