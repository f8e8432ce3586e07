package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/moabualruz/rice-search/internal/query"
	"github.com/moabualruz/rice-search/internal/rserr"
)

// Default remote backend settings.
const (
	DefaultRemoteTimeout = 30 * time.Second
)

// RemoteConfig configures an HTTP model-service backend.
type RemoteConfig struct {
	// BaseURL is the model service base URL, e.g. http://localhost:8600.
	BaseURL string
	// Model is the model identifier sent with each request.
	Model string
	// Dimensions is the embedding dimension the service produces.
	Dimensions int
	// Timeout bounds each request.
	Timeout time.Duration
}

// RemoteClient talks to an external model service over HTTP/JSON.
// Endpoints: POST /embed, /sparse, /rerank, /classify.
type RemoteClient struct {
	config RemoteConfig
	client *http.Client
}

// NewRemoteClient creates a remote model-service client.
func NewRemoteClient(cfg RemoteConfig) *RemoteClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRemoteTimeout
	}
	return &RemoteClient{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Vectors [][]float32 `json:"vectors"`
}

// Embed implements Embedder.
func (r *RemoteClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var resp embedResponse
	err := r.post(ctx, "/embed", embedRequest{Model: r.config.Model, Texts: texts}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Vectors) != len(texts) {
		return nil, rserr.Newf(rserr.CodeModelUnavailable,
			"embed returned %d vectors for %d texts", len(resp.Vectors), len(texts))
	}
	return resp.Vectors, nil
}

// Dimensions implements Embedder.
func (r *RemoteClient) Dimensions() int {
	return r.config.Dimensions
}

// ModelID implements Embedder and SparseEncoder.
func (r *RemoteClient) ModelID() string {
	return r.config.Model
}

type sparseResponse struct {
	Vectors []SparseVector `json:"vectors"`
}

// Encode implements SparseEncoder.
func (r *RemoteClient) Encode(ctx context.Context, texts []string) ([]SparseVector, error) {
	var resp sparseResponse
	err := r.post(ctx, "/sparse", embedRequest{Model: r.config.Model, Texts: texts}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Vectors) != len(texts) {
		return nil, rserr.Newf(rserr.CodeModelUnavailable,
			"sparse encode returned %d vectors for %d texts", len(resp.Vectors), len(texts))
	}
	return resp.Vectors, nil
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopK      int      `json:"top_k,omitempty"`
}

type rerankResponse struct {
	Results []RerankScore `json:"results"`
}

// Rerank implements Reranker.
func (r *RemoteClient) Rerank(ctx context.Context, model, queryText string, documents []string, topK int) ([]RerankScore, error) {
	if model == "" {
		model = r.config.Model
	}
	var resp rerankResponse
	err := r.post(ctx, "/rerank", rerankRequest{
		Model:     model,
		Query:     queryText,
		Documents: documents,
		TopK:      topK,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

type classifyRequest struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

type classifyResponse struct {
	Intent     string  `json:"intent"`
	Difficulty string  `json:"difficulty"`
	Confidence float64 `json:"confidence"`
}

// Classify implements Classifier.
func (r *RemoteClient) Classify(ctx context.Context, text string) (Classification, error) {
	var resp classifyResponse
	err := r.post(ctx, "/classify", classifyRequest{Model: r.config.Model, Text: text}, &resp)
	if err != nil {
		return Classification{}, err
	}
	return Classification{
		Intent:     query.Intent(resp.Intent),
		Difficulty: query.Difficulty(resp.Difficulty),
		Confidence: resp.Confidence,
	}, nil
}

// Healthy probes the service health endpoint.
func (r *RemoteClient) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.config.BaseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// post executes one JSON request/response round trip. Transport errors
// surface as retryable transient errors.
func (r *RemoteClient) post(ctx context.Context, path string, reqBody, respBody any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return rserr.Transient(rserr.CodeModelUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return rserr.Transient(rserr.CodeModelUnavailable,
			fmt.Errorf("model service %s: status %d: %s", path, resp.StatusCode, string(raw)))
	}

	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return rserr.Transient(rserr.CodeModelUnavailable, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

var (
	_ Embedder      = (*RemoteClient)(nil)
	_ SparseEncoder = (*RemoteClient)(nil)
	_ Reranker      = (*RemoteClient)(nil)
	_ Classifier    = (*RemoteClient)(nil)
)
