// Package vectorstore wraps a remote Chroma vector collection over its
// REST API: one collection per report, batched adds, top-K similarity
// queries, idempotent create and delete.
package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"patient-buddy-backend/internal/config"
	"patient-buddy-backend/internal/logger"
)

// Collection is a handle to a named vector collection.
type Collection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AddBatch carries one batched insert: parallel slices of ids, embedding
// vectors, document texts and metadata records.
type AddBatch struct {
	IDs        []string         `json:"ids"`
	Embeddings [][]float64      `json:"embeddings"`
	Documents  []string         `json:"documents"`
	Metadatas  []map[string]any `json:"metadatas"`
}

// QueryResult is one ranked hit from a similarity query. Similarity is
// derived caller-side as 1 - distance; distance semantics come from the
// collection's configured metric.
type QueryResult struct {
	Text       string         `json:"text"`
	Similarity float64        `json:"similarity"`
	Metadata   map[string]any `json:"metadata"`
}

// ChromaClient talks to a Chroma server's v1 REST API.
type ChromaClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewChromaClient(cfg *config.Config) *ChromaClient {
	return &ChromaClient{
		baseURL: cfg.ChromaURL,
		apiKey:  cfg.ChromaAPIKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Heartbeat reports whether the server is reachable.
func (c *ChromaClient) Heartbeat(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/heartbeat", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("chroma heartbeat status %d", resp.StatusCode)
	}
	return nil
}

// EnsureCollection creates the named collection or returns the existing
// one. get_or_create makes this a single idempotent call rather than
// create-then-catch-and-get.
func (c *ChromaClient) EnsureCollection(ctx context.Context, name string, metadata map[string]any) (Collection, error) {
	payload := map[string]any{
		"name":          name,
		"get_or_create": true,
	}
	if len(metadata) > 0 {
		payload["metadata"] = metadata
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/v1/collections", payload)
	if err != nil {
		return Collection{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Collection{}, fmt.Errorf("chroma create collection status %d: %s", resp.StatusCode, readErrBody(resp))
	}

	var col Collection
	if err := json.NewDecoder(resp.Body).Decode(&col); err != nil {
		return Collection{}, fmt.Errorf("failed to decode collection: %w", err)
	}
	return col, nil
}

// Add inserts a batch of vectors with their documents and metadata.
func (c *ChromaClient) Add(ctx context.Context, col Collection, batch AddBatch) error {
	if len(batch.IDs) == 0 {
		return nil
	}

	path := fmt.Sprintf("/api/v1/collections/%s/add", url.PathEscape(col.ID))
	resp, err := c.do(ctx, http.MethodPost, path, batch)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("chroma add status %d: %s", resp.StatusCode, readErrBody(resp))
	}
	return nil
}

type queryRequest struct {
	QueryEmbeddings [][]float64 `json:"query_embeddings"`
	NResults        int         `json:"n_results"`
	Include         []string    `json:"include"`
}

type queryResponse struct {
	Documents [][]string         `json:"documents"`
	Distances [][]float64        `json:"distances"`
	Metadatas [][]map[string]any `json:"metadatas"`
}

// Query runs a top-K similarity search against the collection.
func (c *ChromaClient) Query(ctx context.Context, col Collection, embedding []float64, topK int) ([]QueryResult, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be greater than 0")
	}

	path := fmt.Sprintf("/api/v1/collections/%s/query", url.PathEscape(col.ID))
	resp, err := c.do(ctx, http.MethodPost, path, queryRequest{
		QueryEmbeddings: [][]float64{embedding},
		NResults:        topK,
		Include:         []string{"documents", "distances", "metadatas"},
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chroma query status %d: %s", resp.StatusCode, readErrBody(resp))
	}

	var qr queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, fmt.Errorf("failed to decode query response: %w", err)
	}
	if len(qr.Documents) == 0 {
		return []QueryResult{}, nil
	}

	results := make([]QueryResult, 0, len(qr.Documents[0]))
	for i, doc := range qr.Documents[0] {
		var distance float64
		if len(qr.Distances) > 0 && i < len(qr.Distances[0]) {
			distance = qr.Distances[0][i]
		}
		var meta map[string]any
		if len(qr.Metadatas) > 0 && i < len(qr.Metadatas[0]) {
			meta = qr.Metadatas[0][i]
		}
		results = append(results, QueryResult{
			Text:       doc,
			Similarity: 1 - distance,
			Metadata:   meta,
		})
	}
	return results, nil
}

// DeleteCollection removes the named collection. A missing collection is
// treated as success so delete stays idempotent.
func (c *ChromaClient) DeleteCollection(ctx context.Context, name string) error {
	path := fmt.Sprintf("/api/v1/collections/%s", url.PathEscape(name))
	resp, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		logger.Debug("Chroma collection already deleted", "collection", name)
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("chroma delete collection status %d: %s", resp.StatusCode, readErrBody(resp))
	}
	return nil
}

func (c *ChromaClient) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chroma request failed: %w", err)
	}
	return resp, nil
}

func readErrBody(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return string(raw)
}
