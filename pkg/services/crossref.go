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

// CrossrefClient queries the Crossref REST API for journal works. Providing
// a mailto address opts into Crossref's polite pool.
type CrossrefClient struct {
	http    *HTTPClient
	baseURL string
	mailto  string
}

// NewCrossref builds a Crossref client.
func NewCrossref(httpClient *HTTPClient, baseURL, mailto string) *CrossrefClient {
	if baseURL == "" {
		baseURL = "https://api.crossref.org"
	}
	return &CrossrefClient{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		mailto:  mailto,
	}
}

// CrossrefWork is one work record, reduced to the fields the planner uses.
type CrossrefWork struct {
	DOI       string   `json:"doi"`
	Title     string   `json:"title"`
	Authors   []string `json:"authors,omitempty"`
	Published string   `json:"published,omitempty"`
	Type      string   `json:"type,omitempty"`
	URL       string   `json:"url,omitempty"`
}

// CrossrefWorksResult is the outcome of a journal works query.
type CrossrefWorksResult struct {
	callMeta
	ISSN  string         `json:"issn"`
	Total int            `json:"total"`
	Works []CrossrefWork `json:"works"`
}

type crossrefWorksResponse struct {
	Message struct {
		TotalResults int `json:"total-results"`
		Items        []struct {
			DOI    string   `json:"DOI"`
			Title  []string `json:"title"`
			Type   string   `json:"type"`
			URL    string   `json:"URL"`
			Author []struct {
				Given  string `json:"given"`
				Family string `json:"family"`
			} `json:"author"`
			Published struct {
				DateParts [][]int `json:"date-parts"`
			} `json:"published"`
		} `json:"items"`
	} `json:"message"`
}

// JournalWorks lists works of the journal identified by issn, optionally
// filtered by publication year.
func (c *CrossrefClient) JournalWorks(ctx context.Context, issn string, rows, fromYear int) (*CrossrefWorksResult, error) {
	if issn == "" {
		return nil, errors.New(errors.CodeInvalidInput, "issn must not be empty", nil)
	}
	if rows <= 0 {
		rows = 20
	}

	query := url.Values{}
	query.Set("rows", strconv.Itoa(rows))
	query.Set("sort", "published")
	query.Set("order", "desc")
	if fromYear > 0 {
		query.Set("filter", fmt.Sprintf("from-pub-date:%d-01-01", fromYear))
	}
	if c.mailto != "" {
		query.Set("mailto", c.mailto)
	}
	endpoint := fmt.Sprintf("%s/journals/%s/works?%s", c.baseURL, url.PathEscape(issn), query.Encode())

	var decoded crossrefWorksResponse
	retries, err := c.http.GetJSON(ctx, endpoint, nil, &decoded)
	if err != nil {
		return nil, err
	}

	result := &CrossrefWorksResult{
		callMeta: callMeta{retries: retries},
		ISSN:     issn,
		Total:    decoded.Message.TotalResults,
	}
	for _, item := range decoded.Message.Items {
		work := CrossrefWork{
			DOI:  item.DOI,
			Type: item.Type,
			URL:  item.URL,
		}
		if len(item.Title) > 0 {
			work.Title = item.Title[0]
		}
		for _, a := range item.Author {
			work.Authors = append(work.Authors, strings.TrimSpace(a.Given+" "+a.Family))
		}
		if len(item.Published.DateParts) > 0 && len(item.Published.DateParts[0]) > 0 {
			parts := item.Published.DateParts[0]
			fields := make([]string, len(parts))
			for i, p := range parts {
				fields[i] = strconv.Itoa(p)
			}
			work.Published = strings.Join(fields, "-")
		}
		result.Works = append(result.Works, work)
	}
	return result, nil
}

// Capability exposes the client as the crossref_journal_works capability.
func (c *CrossrefClient) Capability() capability.Descriptor {
	return capability.Descriptor{
		Name:        "crossref_journal_works",
		Description: "List recent works published in a journal, identified by ISSN, via Crossref.",
		SideEffect:  capability.ReadExternal,
		Enabled:     true,
		Input: capability.Schema{Args: map[string]capability.ArgDef{
			"issn": {
				Type:        "string",
				Description: "Journal ISSN, e.g. 1476-4687.",
				Required:    true,
			},
			"rows": {
				Type:        "number",
				Description: "Maximum number of works to return.",
				Default:     float64(20),
			},
			"from_year": {
				Type:        "number",
				Description: "Only include works published in or after this year.",
			},
		}},
		Output: capability.Schema{AllowExtra: true},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			issn, _ := args["issn"].(string)
			rows, _ := args["rows"].(float64)
			fromYear, _ := args["from_year"].(float64)
			return c.JournalWorks(ctx, issn, int(rows), int(fromYear))
		},
	}
}
