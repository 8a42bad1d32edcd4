// Package embedding adapts the external embedding model API. Query and
// document task modes produce vectors in the same space, comparable with
// cosine similarity.
package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const (
	taskQuery    = "RETRIEVAL_QUERY"
	taskDocument = "RETRIEVAL_DOCUMENT"
)

// ErrUnconfigured is returned when no embedding API URL was provided; the
// pipeline treats it like any other embed failure and degrades to lexical
// retrieval.
var ErrUnconfigured = fmt.Errorf("embedding client not configured")

// Client calls the embedding model over HTTP.
type Client struct {
	http   *resty.Client
	model  string
	dim    int
	logger zerolog.Logger
}

func NewClient(baseURL, apiKey, model string, dim int, timeout time.Duration, logger zerolog.Logger) *Client {
	var rc *resty.Client
	if baseURL != "" {
		rc = resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json").
			SetQueryParam("key", apiKey).
			SetRetryCount(1).
			SetRetryWaitTime(200 * time.Millisecond)
	}
	return &Client{http: rc, model: model, dim: dim, logger: logger}
}

type contentPart struct {
	Text string `json:"text"`
}

type content struct {
	Parts []contentPart `json:"parts"`
}

type embedRequest struct {
	Model    string  `json:"model"`
	Content  content `json:"content"`
	TaskType string  `json:"taskType"`
}

type embedValues struct {
	Values []float32 `json:"values"`
}

type embedResponse struct {
	Embedding embedValues `json:"embedding"`
}

type batchEmbedRequest struct {
	Requests []embedRequest `json:"requests"`
}

type batchEmbedResponse struct {
	Embeddings []embedValues `json:"embeddings"`
}

func (c *Client) embed(ctx context.Context, text, task string) ([]float32, error) {
	if c.http == nil {
		return nil, ErrUnconfigured
	}

	var out embedResponse
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(embedRequest{
			Model:    "models/" + c.model,
			Content:  content{Parts: []contentPart{{Text: text}}},
			TaskType: task,
		}).
		SetResult(&out).
		Post(fmt.Sprintf("/models/%s:embedContent", c.model))
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	c.logger.Debug().
		Int("status", resp.StatusCode()).
		Dur("latency", time.Since(start)).
		Str("task", task).
		Msg("embedding call")

	if resp.IsError() {
		return nil, fmt.Errorf("embed request: status %d", resp.StatusCode())
	}
	if len(out.Embedding.Values) != c.dim {
		return nil, fmt.Errorf("embed response: expected %d dims, got %d", c.dim, len(out.Embedding.Values))
	}
	return out.Embedding.Values, nil
}

// EmbedQuery embeds text tuned for "this is a search query".
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, text, taskQuery)
}

// EmbedDocument embeds text tuned for "this is to be indexed".
func (c *Client) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, text, taskDocument)
}

// EmbedDocuments embeds a batch in one call, preserving input order.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if c.http == nil {
		return nil, ErrUnconfigured
	}
	if len(texts) == 0 {
		return nil, nil
	}

	reqs := make([]embedRequest, len(texts))
	for i, t := range texts {
		reqs[i] = embedRequest{
			Model:    "models/" + c.model,
			Content:  content{Parts: []contentPart{{Text: t}}},
			TaskType: taskDocument,
		}
	}

	var out batchEmbedResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(batchEmbedRequest{Requests: reqs}).
		SetResult(&out).
		Post(fmt.Sprintf("/models/%s:batchEmbedContents", c.model))
	if err != nil {
		return nil, fmt.Errorf("batch embed request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("batch embed request: status %d", resp.StatusCode())
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("batch embed response: expected %d vectors, got %d", len(texts), len(out.Embeddings))
	}

	vectors := make([][]float32, len(out.Embeddings))
	for i, e := range out.Embeddings {
		if len(e.Values) != c.dim {
			return nil, fmt.Errorf("batch embed response: vector %d has %d dims, expected %d", i, len(e.Values), c.dim)
		}
		vectors[i] = e.Values
	}
	return vectors, nil
}
