package services

import (
	"context"
	"strings"

	"github.com/tiangong-ai/workspace/pkg/errors"
)

// EmbeddingsClient calls an OpenAI-compatible embeddings endpoint. It backs
// the knowledge service; the planner never calls it directly.
type EmbeddingsClient struct {
	http    *HTTPClient
	baseURL string
	apiKey  string
	model   string
}

// NewEmbeddings builds an embeddings client.
func NewEmbeddings(httpClient *HTTPClient, baseURL, apiKey, model string) (*EmbeddingsClient, error) {
	if baseURL == "" {
		return nil, errors.New(errors.CodeFatalConfig, "embeddings base url is required", nil)
	}
	if model == "" {
		return nil, errors.New(errors.CodeFatalConfig, "embeddings model is required", nil)
	}
	return &EmbeddingsClient{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
	}, nil
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed converts texts into vectors, preserving input order.
func (c *EmbeddingsClient) Embed(ctx context.Context, texts []string) ([][]float32, int, error) {
	if len(texts) == 0 {
		return nil, 0, errors.New(errors.CodeInvalidInput, "texts must not be empty", nil)
	}

	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}

	var decoded embeddingsResponse
	retries, err := c.http.PostJSON(ctx, c.baseURL+"/embeddings", headers,
		embeddingsRequest{Model: c.model, Input: texts}, &decoded)
	if err != nil {
		return nil, retries, err
	}
	if len(decoded.Data) != len(texts) {
		return nil, retries, errors.New(errors.CodeExternalService,
			"embeddings endpoint returned a short batch", nil).WithRecoverable(false)
	}

	vectors := make([][]float32, len(texts))
	for _, item := range decoded.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, retries, errors.New(errors.CodeExternalService,
				"embeddings endpoint returned an out-of-range index", nil).WithRecoverable(false)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, retries, nil
}
