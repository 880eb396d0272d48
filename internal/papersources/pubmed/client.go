package pubmed

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Michael4343/synapse-v0.1-sub001/internal/domain"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/papersources"
)

const (
	// DefaultBaseURL is the base URL for NCBI E-utilities.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// SourceName identifies this provider in governors, errors and metrics.
	SourceName = "pubmed"

	endpointEFetch = "efetch"
	toolName       = "literature-resolver"
)

// Config holds the configuration for the PubMed client.
type Config struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string

	// Email is sent as the E-utilities contact address.
	Email string
}

// Client implements papersources.AbstractSource for PubMed.
type Client struct {
	http   *papersources.Client
	config Config
}

var _ papersources.AbstractSource = (*Client)(nil)

// NewClient creates a PubMed client. The API key, when configured on
// httpClient, is sent as the api_key query parameter.
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

// Abstract fetches the abstract of the article with the given PMID. Its
// sections are joined with single spaces, labeled sections prefixed with
// their label.
func (c *Client) Abstract(ctx context.Context, pmid string) (string, error) {
	pmid = strings.TrimSpace(pmid)
	if pmid == "" {
		return "", domain.NewValidationError("pmid", "pmid is required")
	}

	fetchURL := c.buildFetchURL(pmid)
	resp, err := c.http.DoCoalesced(ctx, pmid, endpointEFetch, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/xml")
		return req, nil
	})
	if err != nil {
		return "", fmt.Errorf("pubmed efetch %s: %w", pmid, err)
	}

	var set articleSet
	if err := xml.Unmarshal(resp.Body, &set); err != nil {
		return "", domain.NewMalformedResponseError(SourceName, err)
	}

	for _, a := range set.Articles {
		if text := joinAbstract(a.MedlineCitation.Article.Abstract); text != "" {
			return text, nil
		}
	}
	return "", domain.NewNotFoundError("pubmed abstract", pmid)
}

func (c *Client) buildFetchURL(pmid string) string {
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("id", pmid)
	q.Set("retmode", "xml")
	q.Set("rettype", "abstract")
	q.Set("tool", toolName)
	if c.config.Email != "" {
		q.Set("email", c.config.Email)
	}
	if key := c.http.APIKey(); key != "" {
		q.Set("api_key", key)
	}
	return c.config.BaseURL + "/efetch.fcgi?" + q.Encode()
}

func joinAbstract(a *abstract) string {
	if a == nil {
		return ""
	}
	parts := make([]string, 0, len(a.Texts))
	for _, t := range a.Texts {
		text := papersources.CleanText(t.Inner)
		if text == "" {
			continue
		}
		if t.Label != "" {
			text = t.Label + ": " + text
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, " ")
}
