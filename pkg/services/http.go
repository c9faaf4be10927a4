// Package services wraps the external systems the planner can call: web
// search over MCP, the Neo4j graph, the Crossref and OpenAlex scholarly
// APIs, an OpenAI-compatible embeddings endpoint and a Qdrant-backed
// knowledge collection. Each service exposes itself as one or more
// capability descriptors.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tiangong-ai/workspace/pkg/errors"
	"github.com/tiangong-ai/workspace/pkg/resilience"
)

// callMeta carries how many retries a service call consumed, so the
// capability envelope can report it. Embedded in result types.
type callMeta struct {
	retries int
}

func (m callMeta) RetriesUsed() int {
	return m.retries
}

// HTTPClient is the shared JSON-over-HTTP core for the scholarly APIs and
// the embeddings endpoint. Server faults and connection failures are
// retried with backoff; client faults never are.
type HTTPClient struct {
	client    *http.Client
	retry     resilience.RetryConfig
	userAgent string
}

// NewHTTPClient builds the shared core. A zero retry config uses the
// package default.
func NewHTTPClient(timeout time.Duration, retry resilience.RetryConfig, userAgent string) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if retry.MaxAttempts == 0 {
		retry = resilience.DefaultRetryConfig()
	}
	if userAgent == "" {
		userAgent = "tiangong-workspace/1.0"
	}
	return &HTTPClient{
		client:    &http.Client{Timeout: timeout},
		retry:     retry,
		userAgent: userAgent,
	}
}

// GetJSON fetches url and decodes the body into out. It returns the number
// of retries consumed.
func (c *HTTPClient) GetJSON(ctx context.Context, url string, headers map[string]string, out any) (int, error) {
	return c.doJSON(ctx, http.MethodGet, url, headers, nil, out)
}

// PostJSON posts body as JSON to url and decodes the response into out.
func (c *HTTPClient) PostJSON(ctx context.Context, url string, headers map[string]string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, errors.New(errors.CodeInternal, "encoding request body", err)
	}
	return c.doJSON(ctx, http.MethodPost, url, headers, payload, out)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, url string, headers map[string]string, body []byte, out any) (int, error) {
	return c.retry.DoWithCount(ctx, func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return errors.New(errors.CodeInternal, "building request", err).WithRecoverable(false)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return errors.New(errors.CodeTimeout, "request canceled", ctx.Err()).WithRecoverable(false)
			}
			return errors.New(errors.CodeTransientService,
				fmt.Sprintf("%s %s failed", method, url), err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			// Cap the diagnostic body; some APIs return full HTML pages.
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return classifyStatus(method, url, resp.StatusCode, string(snippet))
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.New(errors.CodeExternalService,
				fmt.Sprintf("decoding response from %s", url), err).WithRecoverable(false)
		}
		return nil
	})
}

// classifyStatus maps an HTTP status into the error taxonomy: 429 and 5xx
// are transient, everything else in the 4xx range is a hard external fault.
func classifyStatus(method, url string, status int, body string) error {
	msg := fmt.Sprintf("%s %s returned %d: %s", method, url, status, body)
	if status == http.StatusTooManyRequests || status >= 500 {
		return errors.New(errors.CodeTransientService, msg, nil).WithStatusCode(status)
	}
	return errors.New(errors.CodeExternalService, msg, nil).
		WithRecoverable(false).
		WithStatusCode(status)
}
