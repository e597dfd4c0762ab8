package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// RerankClient scores (query, document) pairs via a cross-encoder serving
// endpoint. text-embeddings-inference and infinity both expose this /rerank
// shape; the response is parsed leniently because the two disagree on field
// nesting.
type RerankClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// RerankConfig holds configuration for the rerank client
type RerankConfig struct {
	BaseURL string // Reranker server URL (default: http://127.0.0.1:8081)
	Model   string // Cross-encoder model name
}

// DefaultRerankConfig returns sensible defaults.
func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		BaseURL: "http://127.0.0.1:8081",
		Model:   "cross-encoder/ms-marco-MiniLM-L-6-v2",
	}
}

// NewRerankClient creates a new rerank client
func NewRerankClient(cfg RerankConfig) *RerankClient {
	defaults := DefaultRerankConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}

	return &RerankClient{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// rerankRequest is the request body for the rerank API
type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

// Score scores each document against the query. The returned slice is
// positionally aligned with docs; higher means more relevant.
func (c *RerankClient) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	jsonBody, err := json.Marshal(rerankRequest{
		Model:     c.model,
		Query:     query,
		Documents: docs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/rerank", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank API returned status %d: %s", resp.StatusCode, body)
	}

	return parseRerankScores(body, len(docs))
}

// parseRerankScores extracts per-document scores from the response body.
// Accepts either a flat {"scores": [...]} array or the TEI-style
// {"results": [{"index": i, "relevance_score": s}, ...]} shape.
func parseRerankScores(body []byte, n int) ([]float64, error) {
	scores := make([]float64, n)

	if flat := gjson.GetBytes(body, "scores"); flat.IsArray() {
		arr := flat.Array()
		if len(arr) != n {
			return nil, fmt.Errorf("rerank returned %d scores for %d documents", len(arr), n)
		}
		for i, v := range arr {
			scores[i] = v.Float()
		}
		return scores, nil
	}

	results := gjson.GetBytes(body, "results")
	if !results.IsArray() {
		return nil, fmt.Errorf("rerank response has neither scores nor results array")
	}

	seen := 0
	for _, r := range results.Array() {
		idx := int(r.Get("index").Int())
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("rerank result index %d out of range", idx)
		}
		score := r.Get("relevance_score")
		if !score.Exists() {
			score = r.Get("score")
		}
		scores[idx] = score.Float()
		seen++
	}
	if seen != n {
		return nil, fmt.Errorf("rerank returned %d results for %d documents", seen, n)
	}

	return scores, nil
}

// IsAvailable checks if the reranker service is reachable
func (c *RerankClient) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
