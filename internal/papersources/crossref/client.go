// Package crossref is the DOI-metadata provider used to recover abstracts
// the primary provider does not carry.
//
// API Documentation: https://api.crossref.org/swagger-ui/index.html
package crossref

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Michael4343/synapse-v0.1-sub001/internal/domain"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/papersources"
)

const (
	// DefaultBaseURL is the Crossref REST API base URL.
	DefaultBaseURL = "https://api.crossref.org"

	// SourceName identifies this provider in governors, errors and metrics.
	SourceName = "crossref"

	endpointWorks = "works"
)

// Config holds the configuration for the Crossref client.
type Config struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string

	// Mailto places requests in Crossref's polite pool.
	Mailto string
}

// workResponse is the envelope of /works/{doi}. Only the abstract is read.
type workResponse struct {
	Status  string `json:"status"`
	Message struct {
		DOI      string `json:"DOI"`
		Abstract string `json:"abstract"`
	} `json:"message"`
}

// Client implements papersources.AbstractSource for Crossref.
type Client struct {
	http   *papersources.Client
	config Config
}

var _ papersources.AbstractSource = (*Client)(nil)

// NewClient creates a Crossref client.
func NewClient(cfg Config, httpClient *papersources.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{http: httpClient, config: cfg}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return SourceName
}

// Abstract returns the sanitized abstract registered for doi. Crossref
// abstracts are JATS XML; tags are stripped, entities decoded and
// whitespace collapsed.
func (c *Client) Abstract(ctx context.Context, doi string) (string, error) {
	doi = domain.NormalizeDOI(doi)
	if doi == "" {
		return "", domain.NewValidationError("doi", "doi is required")
	}

	workURL := c.config.BaseURL + "/works/" + url.PathEscape(doi)
	if c.config.Mailto != "" {
		workURL += "?mailto=" + url.QueryEscape(c.config.Mailto)
	}

	resp, err := c.http.DoCoalesced(ctx, doi, endpointWorks, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, workURL, nil)
	})
	if err != nil {
		return "", fmt.Errorf("crossref works %s: %w", doi, err)
	}

	var work workResponse
	if err := papersources.DecodeJSON(resp.Body, &work, SourceName); err != nil {
		return "", err
	}

	text := papersources.CleanText(work.Message.Abstract)
	text = strings.TrimSpace(strings.TrimPrefix(text, "Abstract "))
	if text == "" || text == "Abstract" {
		return "", domain.NewNotFoundError("crossref abstract", doi)
	}
	return text, nil
}
