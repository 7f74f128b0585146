// Package reranker scores candidate transcript messages against the
// current user utterance for the memory store's candidate-selection
// stage. Reranking itself is an external service; this package defines
// the narrow interface the memory store needs and an HTTP client for a
// typical rerank-as-a-service endpoint (the shape several hosted
// rerankers, e.g. Cohere's, expose).
package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Candidate is one prior message offered up for reranking.
type Candidate struct {
	ID      string
	Content string
}

// Scored is a Candidate with its relevance score against the query, in
// the same order semantics the Reranker returned them.
type Scored struct {
	Candidate
	Score float64
}

// Reranker scores candidates against a query and returns them ordered by
// descending relevance.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate) ([]Scored, error)
}

// Client is an HTTP client for an external rerank service that accepts a
// query and a list of documents and returns a relevance score per
// document.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a Client. A nil httpClient uses http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponseItem struct {
	Index int     `json:"index"`
	Score float64 `json:"relevance_score"`
}

type rerankResponse struct {
	Results []rerankResponseItem `json:"results"`
}

// Rerank scores candidates via the external service. Results are returned
// in the service's order, which is descending by score.
func (c *Client) Rerank(ctx context.Context, query string, candidates []Candidate) ([]Scored, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	docs := make([]string, len(candidates))
	for i, cand := range candidates {
		docs[i] = cand.Content
	}

	body, err := json.Marshal(rerankRequest{Query: query, Documents: docs})
	if err != nil {
		return nil, fmt.Errorf("encode rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank service returned status %d", resp.StatusCode)
	}

	var decoded rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	out := make([]Scored, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		if r.Index < 0 || r.Index >= len(candidates) {
			continue
		}
		out = append(out, Scored{Candidate: candidates[r.Index], Score: r.Score})
	}
	return out, nil
}
