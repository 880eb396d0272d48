package semanticscholar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Michael4343/synapse-v0.1-sub001/internal/coalesce"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/domain"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/papersources"
)

const (
	// DefaultBaseURL is the Semantic Scholar Graph API base URL.
	DefaultBaseURL = "https://api.semanticscholar.org/graph/v1"

	// DefaultLimit is the search page size when none is requested.
	DefaultLimit = 12

	// MaxLimit is the largest page size the search endpoint accepts.
	MaxLimit = 100

	// MaxBatchSize is the largest number of identifiers per batch call.
	MaxBatchSize = 500

	// APIKeyHeader is the header carrying the API key.
	APIKeyHeader = "x-api-key"

	// SourceName identifies this provider in governors, errors and metrics.
	SourceName = "semantic_scholar"

	paperFields = "paperId,externalIds,title,abstract,year,publicationDate,venue,journal,authors,citationCount,url"

	paperPageURL = "https://www.semanticscholar.org/paper/"

	endpointSearch      = "search"
	endpointBatch       = "batch"
	endpointTitleSearch = "title_search"
	endpointRecent      = "recent"
)

// Config contains configuration options for the Semantic Scholar client.
type Config struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string

	// DefaultLimit defaults to DefaultLimit.
	DefaultLimit int
}

// Client implements papersources.PrimarySource for Semantic Scholar.
type Client struct {
	http   *papersources.Client
	config Config
	logger zerolog.Logger
}

var _ papersources.PrimarySource = (*Client)(nil)

// NewClient creates a Semantic Scholar client on top of a resilient client.
func NewClient(cfg Config, httpClient *papersources.Client, logger zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	return &Client{
		http:   httpClient,
		config: cfg,
		logger: logger.With().Str("component", "semanticscholar").Logger(),
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return SourceName
}

// Search runs a free-text search. Identical concurrent searches share one
// request.
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	if strings.TrimSpace(params.Query) == "" {
		return nil, domain.NewValidationError("query", "query is required")
	}

	searchURL, err := c.buildSearchURL(params)
	if err != nil {
		return nil, fmt.Errorf("building search URL: %w", err)
	}

	resp, err := c.http.DoCoalesced(ctx, searchKey(params), endpointSearch, get(searchURL))
	if err != nil {
		return nil, fmt.Errorf("semantic scholar search: %w", err)
	}
	return c.decodeSearch(resp.Body)
}

// SearchTitle returns the top search hit for title.
func (c *Client) SearchTitle(ctx context.Context, title string) (*domain.Paper, error) {
	title = domain.CollapseWhitespace(title)
	if title == "" {
		return nil, domain.NewValidationError("title", "title is required")
	}

	searchURL, err := c.buildSearchURL(papersources.SearchParams{Query: title, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("building search URL: %w", err)
	}

	resp, err := c.http.DoCoalesced(ctx, coalesce.Key(title), endpointTitleSearch, get(searchURL))
	if err != nil {
		return nil, fmt.Errorf("semantic scholar title search: %w", err)
	}

	result, err := c.decodeSearch(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(result.Papers) == 0 {
		return nil, domain.NewNotFoundError("paper", title)
	}
	return result.Papers[0], nil
}

// BatchLookup resolves identifiers with POST /paper/batch. The returned
// slice is aligned with ids: unresolved identifiers yield nil.
func (c *Client) BatchLookup(ctx context.Context, ids []string) ([]*domain.Paper, error) {
	papers := make([]*domain.Paper, len(ids))
	for start := 0; start < len(ids); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(ids))
		chunk, err := c.batch(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		copy(papers[start:end], chunk)
	}
	return papers, nil
}

func (c *Client) batch(ctx context.Context, ids []string) ([]*domain.Paper, error) {
	body, err := json.Marshal(batchRequest{IDs: ids})
	if err != nil {
		return nil, fmt.Errorf("encoding batch request: %w", err)
	}
	batchURL := c.config.BaseURL + "/paper/batch?fields=" + url.QueryEscape(paperFields)

	resp, err := c.http.Do(ctx, endpointBatch, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, batchURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("semantic scholar batch lookup: %w", err)
	}

	var entries []json.RawMessage
	if err := papersources.DecodeJSON(resp.Body, &entries, SourceName); err != nil {
		return nil, err
	}

	papers := make([]*domain.Paper, len(ids))
	for i, raw := range entries {
		if i >= len(ids) {
			break
		}
		if isNull(raw) {
			continue
		}
		paper, ok := c.decodePaper(raw)
		if ok {
			papers[i] = paper
		}
	}
	return papers, nil
}

// Recent returns papers matching query published between since and until,
// newest first. Papers without a publication date sort as January 1 of
// their year.
func (c *Client) Recent(ctx context.Context, query string, since, until time.Time, limit int) ([]*domain.Paper, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.NewValidationError("query", "query is required")
	}
	if limit <= 0 || limit > MaxLimit {
		limit = MaxLimit
	}

	u, err := url.Parse(c.config.BaseURL + "/paper/search")
	if err != nil {
		return nil, fmt.Errorf("building recent URL: %w", err)
	}
	dateRange := since.Format(time.DateOnly) + ":" + until.Format(time.DateOnly)
	q := u.Query()
	q.Set("query", query)
	q.Set("fields", paperFields)
	q.Set("publicationDateOrYear", dateRange)
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	key := coalesce.Key(query, dateRange, strconv.Itoa(limit))
	resp, err := c.http.DoCoalesced(ctx, key, endpointRecent, get(u.String()))
	if err != nil {
		return nil, fmt.Errorf("semantic scholar recent: %w", err)
	}

	result, err := c.decodeSearch(resp.Body)
	if err != nil {
		return nil, err
	}
	SortNewestFirst(result.Papers)
	return result.Papers, nil
}

// SortNewestFirst orders papers by publication date, descending. A missing
// date falls back to January 1 of the year; papers with neither sort last.
func SortNewestFirst(papers []*domain.Paper) {
	sort.SliceStable(papers, func(i, j int) bool {
		return sortDate(papers[i]).After(sortDate(papers[j]))
	})
}

func sortDate(p *domain.Paper) time.Time {
	if p.PublicationDate != nil {
		return *p.PublicationDate
	}
	if p.Year != nil {
		return time.Date(*p.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Time{}
}

func (c *Client) buildSearchURL(params papersources.SearchParams) (string, error) {
	u, err := url.Parse(c.config.BaseURL + "/paper/search")
	if err != nil {
		return "", err
	}

	limit := params.Limit
	if limit <= 0 {
		limit = c.config.DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	q := u.Query()
	q.Set("query", params.Query)
	q.Set("fields", paperFields)
	q.Set("limit", strconv.Itoa(limit))
	if params.Offset > 0 {
		q.Set("offset", strconv.Itoa(params.Offset))
	}
	if params.Year != "" {
		q.Set("year", params.Year)
	}
	if params.DateFrom != nil || params.DateTo != nil {
		var from, to string
		if params.DateFrom != nil {
			from = params.DateFrom.Format(time.DateOnly)
		}
		if params.DateTo != nil {
			to = params.DateTo.Format(time.DateOnly)
		}
		q.Set("publicationDateOrYear", from+":"+to)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func searchKey(params papersources.SearchParams) string {
	var from, to string
	if params.DateFrom != nil {
		from = params.DateFrom.Format(time.DateOnly)
	}
	if params.DateTo != nil {
		to = params.DateTo.Format(time.DateOnly)
	}
	return coalesce.Key(
		domain.NormalizeQuery(params.Query),
		params.Year,
		strconv.Itoa(params.Limit),
		strconv.Itoa(params.Offset),
		from, to,
	)
}

func (c *Client) decodeSearch(body []byte) (*papersources.SearchResult, error) {
	var sr searchResponse
	if err := papersources.DecodeJSON(body, &sr, SourceName); err != nil {
		return nil, err
	}

	papers := make([]*domain.Paper, 0, len(sr.Data))
	for _, raw := range sr.Data {
		if paper, ok := c.decodePaper(raw); ok {
			papers = append(papers, paper)
		}
	}
	return &papersources.SearchResult{
		Papers:     papers,
		Total:      sr.Total,
		NextOffset: sr.Next,
	}, nil
}

// decodePaper converts one raw entry, skipping entries that are not
// objects, carry a batch error or have no title.
func (c *Client) decodePaper(raw json.RawMessage) (*domain.Paper, bool) {
	var result paperResult
	if err := json.Unmarshal(raw, &result); err != nil {
		c.logger.Debug().Err(domain.NewMalformedResponseError(SourceName, err)).Msg("skipping malformed paper entry")
		return nil, false
	}
	if result.Error.value() != "" {
		return nil, false
	}
	paper, err := convertPaper(result, raw)
	if err != nil {
		c.logger.Debug().Err(err).Str("paper_id", result.PaperID.value()).Msg("skipping unusable paper entry")
		return nil, false
	}
	return paper, true
}

var errMissingTitle = errors.New("missing title")

// convertPaper maps a Graph API paper onto the canonical record. Only the
// title is required; every other field is taken when present and valid.
func convertPaper(result paperResult, raw json.RawMessage) (*domain.Paper, error) {
	title := domain.CollapseWhitespace(result.Title.value())
	if title == "" {
		return nil, domain.NewMalformedResponseError(SourceName, errMissingTitle)
	}

	paper := &domain.Paper{
		Title:         title,
		Abstract:      result.Abstract.v,
		Year:          result.Year.v,
		CitationCount: result.CitationCount.v,
		Source:        domain.SourceSemanticScholar,
		RawPayload:    append(json.RawMessage(nil), raw...),
		Identifiers:   domain.PaperIdentifiers{ProviderID: strings.TrimSpace(result.PaperID.value())},
	}

	if venue := strings.TrimSpace(result.Venue.value()); venue != "" {
		paper.Venue = domain.StringPtr(venue)
	} else if name := strings.TrimSpace(result.Journal.name); name != "" {
		paper.Venue = domain.StringPtr(name)
	}

	if d, err := time.Parse(time.DateOnly, result.PublicationDate.value()); err == nil {
		paper.PublicationDate = &d
	}

	paper.Identifiers = paper.Identifiers.Merge(domain.PaperIdentifiers{
		DOI:      result.ExternalIDs.DOI,
		ArXivID:  result.ExternalIDs.ArXiv,
		PubMedID: result.ExternalIDs.PubMed,
	})

	paper.Authors = result.Authors.names
	if paper.Authors == nil {
		paper.Authors = []string{}
	}

	switch url := result.URL.value(); {
	case strings.HasPrefix(url, "http"):
		paper.URL = url
	case paper.Identifiers.DOI != "":
		paper.URL = domain.DOIURL(paper.Identifiers.DOI)
	case paper.Identifiers.ProviderID != "":
		paper.URL = paperPageURL + paper.Identifiers.ProviderID
	}

	return paper, nil
}

func get(u string) papersources.RequestFunc {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}
}
