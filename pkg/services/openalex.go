package services

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tiangong-ai/workspace/pkg/capability"
	"github.com/tiangong-ai/workspace/pkg/errors"
)

// OpenAlexClient queries the OpenAlex scholarly graph: single work lookup
// and the citing-works traversal.
type OpenAlexClient struct {
	http    *HTTPClient
	baseURL string
	mailto  string
}

// NewOpenAlex builds an OpenAlex client.
func NewOpenAlex(httpClient *HTTPClient, baseURL, mailto string) *OpenAlexClient {
	if baseURL == "" {
		baseURL = "https://api.openalex.org"
	}
	return &OpenAlexClient{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		mailto:  mailto,
	}
}

// OpenAlexWork is a work record reduced to the fields the planner uses.
type OpenAlexWork struct {
	ID              string   `json:"id"`
	DOI             string   `json:"doi,omitempty"`
	Title           string   `json:"title"`
	PublicationYear int      `json:"publication_year,omitempty"`
	CitedByCount    int      `json:"cited_by_count"`
	Authors         []string `json:"authors,omitempty"`
}

type openAlexWorkResponse struct {
	ID              string `json:"id"`
	DOI             string `json:"doi"`
	Title           string `json:"title"`
	PublicationYear int    `json:"publication_year"`
	CitedByCount    int    `json:"cited_by_count"`
	Authorships     []struct {
		Author struct {
			DisplayName string `json:"display_name"`
		} `json:"author"`
	} `json:"authorships"`
}

// WorkResult wraps a single work lookup.
type WorkResult struct {
	callMeta
	Work OpenAlexWork `json:"work"`
}

// CitedByResult wraps a citing-works traversal.
type CitedByResult struct {
	callMeta
	WorkID string         `json:"work_id"`
	Total  int            `json:"total"`
	Works  []OpenAlexWork `json:"works"`
}

// Work fetches one work by OpenAlex ID or DOI.
func (c *OpenAlexClient) Work(ctx context.Context, id string) (*WorkResult, error) {
	if id == "" {
		return nil, errors.New(errors.CodeInvalidInput, "work id must not be empty", nil)
	}
	endpoint := fmt.Sprintf("%s/works/%s", c.baseURL, url.PathEscape(normalizeWorkID(id)))
	if c.mailto != "" {
		endpoint += "?mailto=" + url.QueryEscape(c.mailto)
	}

	var decoded openAlexWorkResponse
	retries, err := c.http.GetJSON(ctx, endpoint, nil, &decoded)
	if err != nil {
		return nil, err
	}
	return &WorkResult{
		callMeta: callMeta{retries: retries},
		Work:     reduceWork(decoded),
	}, nil
}

// CitedBy lists works citing the given work.
func (c *OpenAlexClient) CitedBy(ctx context.Context, id string, perPage int) (*CitedByResult, error) {
	if id == "" {
		return nil, errors.New(errors.CodeInvalidInput, "work id must not be empty", nil)
	}
	if perPage <= 0 {
		perPage = 25
	}

	query := url.Values{}
	query.Set("filter", "cites:"+normalizeWorkID(id))
	query.Set("per-page", strconv.Itoa(perPage))
	query.Set("sort", "cited_by_count:desc")
	if c.mailto != "" {
		query.Set("mailto", c.mailto)
	}
	endpoint := fmt.Sprintf("%s/works?%s", c.baseURL, query.Encode())

	var decoded struct {
		Meta struct {
			Count int `json:"count"`
		} `json:"meta"`
		Results []openAlexWorkResponse `json:"results"`
	}
	retries, err := c.http.GetJSON(ctx, endpoint, nil, &decoded)
	if err != nil {
		return nil, err
	}

	result := &CitedByResult{
		callMeta: callMeta{retries: retries},
		WorkID:   id,
		Total:    decoded.Meta.Count,
	}
	for _, w := range decoded.Results {
		result.Works = append(result.Works, reduceWork(w))
	}
	return result, nil
}

// normalizeWorkID strips the canonical URL prefix so both bare IDs and full
// OpenAlex URLs resolve.
func normalizeWorkID(id string) string {
	return strings.TrimPrefix(id, "https://openalex.org/")
}

func reduceWork(w openAlexWorkResponse) OpenAlexWork {
	work := OpenAlexWork{
		ID:              w.ID,
		DOI:             w.DOI,
		Title:           w.Title,
		PublicationYear: w.PublicationYear,
		CitedByCount:    w.CitedByCount,
	}
	for _, a := range w.Authorships {
		work.Authors = append(work.Authors, a.Author.DisplayName)
	}
	return work
}

// WorkCapability exposes single work lookup as openalex_work.
func (c *OpenAlexClient) WorkCapability() capability.Descriptor {
	return capability.Descriptor{
		Name:        "openalex_work",
		Description: "Fetch a scholarly work by OpenAlex ID or DOI.",
		SideEffect:  capability.ReadExternal,
		Enabled:     true,
		Input: capability.Schema{Args: map[string]capability.ArgDef{
			"id": {
				Type:        "string",
				Description: "OpenAlex work ID (W...) or a full OpenAlex URL.",
				Required:    true,
			},
		}},
		Output: capability.Schema{AllowExtra: true},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			id, _ := args["id"].(string)
			return c.Work(ctx, id)
		},
	}
}

// CitedByCapability exposes the citing-works traversal as openalex_cited_by.
func (c *OpenAlexClient) CitedByCapability() capability.Descriptor {
	return capability.Descriptor{
		Name:        "openalex_cited_by",
		Description: "List works citing a given work, most cited first.",
		SideEffect:  capability.ReadExternal,
		Enabled:     true,
		Input: capability.Schema{Args: map[string]capability.ArgDef{
			"id": {
				Type:        "string",
				Description: "OpenAlex work ID (W...) or a full OpenAlex URL.",
				Required:    true,
			},
			"per_page": {
				Type:        "number",
				Description: "Maximum number of citing works to return.",
				Default:     float64(25),
			},
		}},
		Output: capability.Schema{AllowExtra: true},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			id, _ := args["id"].(string)
			perPage, _ := args["per_page"].(float64)
			return c.CitedBy(ctx, id, int(perPage))
		},
	}
}
