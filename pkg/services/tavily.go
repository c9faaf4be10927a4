package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tiangong-ai/workspace/pkg/capability"
	"github.com/tiangong-ai/workspace/pkg/errors"
	"github.com/tiangong-ai/workspace/pkg/resilience"
)

const tavilySearchTool = "tavily-search"

// TavilyClient performs web search through Tavily's MCP endpoint over
// streamable HTTP. Transport faults are retried with backoff; a tool-level
// error from the server is not.
type TavilyClient struct {
	mcp     *client.Client
	timeout time.Duration
	retry   resilience.RetryConfig
}

// ConnectTavily dials and initializes the MCP session.
func ConnectTavily(ctx context.Context, endpoint, apiKey string, timeout time.Duration, retry resilience.RetryConfig) (*TavilyClient, error) {
	if endpoint == "" {
		return nil, errors.New(errors.CodeFatalConfig, "tavily endpoint is required", nil)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if retry.MaxAttempts == 0 {
		retry = resilience.DefaultRetryConfig()
	}

	var opts []transport.StreamableHTTPCOption
	if apiKey != "" {
		opts = append(opts, transport.WithHTTPHeaders(map[string]string{
			"Authorization": "Bearer " + apiKey,
		}))
	}
	mcpClient, err := client.NewStreamableHttpClient(endpoint, opts...)
	if err != nil {
		return nil, errors.New(errors.CodeFatalConfig, "creating tavily mcp client", err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		return nil, errors.New(errors.CodeTransientService, "starting tavily mcp session", err)
	}

	initCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "tiangong-workspace",
		Version: "1.0.0",
	}
	if _, err := mcpClient.Initialize(initCtx, initReq); err != nil {
		mcpClient.Close()
		return nil, errors.New(errors.CodeTransientService, "initializing tavily mcp session", err)
	}

	return &TavilyClient{mcp: mcpClient, timeout: timeout, retry: retry}, nil
}

// Close ends the MCP session.
func (t *TavilyClient) Close() error {
	return t.mcp.Close()
}

// SearchHit is one web search result.
type SearchHit struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// SearchResult is the outcome of one web search.
type SearchResult struct {
	callMeta
	Query  string      `json:"query"`
	Answer string      `json:"answer,omitempty"`
	Hits   []SearchHit `json:"hits,omitempty"`
	Raw    string      `json:"raw,omitempty"`
}

// Search runs one web search.
func (t *TavilyClient) Search(ctx context.Context, query string, maxResults int) (*SearchResult, error) {
	if query == "" {
		return nil, errors.New(errors.CodeInvalidInput, "query must not be empty", nil)
	}
	if maxResults <= 0 {
		maxResults = 5
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = tavilySearchTool
	req.Params.Arguments = map[string]any{
		"query":       query,
		"max_results": maxResults,
	}

	var toolResult *mcp.CallToolResult
	retries, err := t.retry.DoWithCount(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, t.timeout)
		defer cancel()
		var callErr error
		toolResult, callErr = t.mcp.CallTool(callCtx, req)
		if callErr != nil {
			if ctx.Err() != nil {
				return errors.New(errors.CodeTimeout, "search canceled", ctx.Err()).WithRecoverable(false)
			}
			return errors.New(errors.CodeTransientService, "tavily mcp call failed", callErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if toolResult.IsError {
		return nil, errors.New(errors.CodeExternalService,
			fmt.Sprintf("tavily returned an error: %s", extractText(toolResult.Content)), nil).
			WithRecoverable(false)
	}

	result := &SearchResult{callMeta: callMeta{retries: retries}, Query: query}
	decodeTavilyPayload(result, toolResult)
	return result, nil
}

// decodeTavilyPayload extracts hits from the structured content when the
// server provides it, otherwise falls back to the text blocks.
func decodeTavilyPayload(result *SearchResult, toolResult *mcp.CallToolResult) {
	text := extractText(toolResult.Content)

	payload := toolResult.StructuredContent
	if payload == nil && strings.HasPrefix(strings.TrimSpace(text), "{") {
		var decoded any
		if err := json.Unmarshal([]byte(text), &decoded); err == nil {
			payload = decoded
		}
	}
	obj, ok := payload.(map[string]any)
	if !ok {
		result.Raw = text
		return
	}

	if answer, ok := obj["answer"].(string); ok {
		result.Answer = answer
	}
	hits, _ := obj["results"].([]any)
	for _, raw := range hits {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		hit := SearchHit{}
		hit.Title, _ = entry["title"].(string)
		hit.URL, _ = entry["url"].(string)
		hit.Content, _ = entry["content"].(string)
		hit.Score, _ = entry["score"].(float64)
		result.Hits = append(result.Hits, hit)
	}
	if len(result.Hits) == 0 && result.Answer == "" {
		result.Raw = text
	}
}

func extractText(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Capability exposes search as the web_search capability.
func (t *TavilyClient) Capability() capability.Descriptor {
	return capability.Descriptor{
		Name:        "web_search",
		Description: "Search the web and return ranked results with content snippets.",
		SideEffect:  capability.ReadExternal,
		Enabled:     true,
		Input: capability.Schema{Args: map[string]capability.ArgDef{
			"query": {
				Type:        "string",
				Description: "Search query.",
				Required:    true,
			},
			"max_results": {
				Type:        "number",
				Description: "Maximum number of results.",
				Default:     float64(5),
			},
		}},
		Output: capability.Schema{AllowExtra: true},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			maxResults, _ := args["max_results"].(float64)
			return t.Search(ctx, query, int(maxResults))
		},
	}
}
