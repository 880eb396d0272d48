// Package papersources provides the resilient HTTP client shared by every
// literature provider and the contracts those providers fulfil.
//
// Each provider package (semanticscholar, crossref, pubmed) owns one Client.
// The Client routes every attempt through the provider's rate governor,
// retries rate-limited and transient failures in bounded loops, and can
// coalesce identical concurrent calls:
//
//	gov := governor.New(governor.DefaultConfig("semantic_scholar"), store)
//	client := papersources.NewClient(cfg, gov, papersources.WithCoalescer(group))
//	s2 := semanticscholar.NewClient(semanticscholar.Config{BaseURL: url}, client, logger)
//	result, err := s2.Search(ctx, papersources.SearchParams{Query: "CRISPR", Limit: 12})
package papersources

import (
	"context"
	"time"

	"github.com/Michael4343/synapse-v0.1-sub001/internal/domain"
)

// SearchParams defines a free-text search against the primary provider.
type SearchParams struct {
	// Query is the search text (required).
	Query string

	// Limit caps the number of results. Zero uses the provider default.
	Limit int

	// Offset is the pagination start.
	Offset int

	// Year restricts results to a year or range ("2024", "2019-2023", "2020-").
	Year string

	// DateFrom and DateTo restrict results by publication date (inclusive).
	DateFrom *time.Time
	DateTo   *time.Time
}

// SearchResult contains one page of search results.
type SearchResult struct {
	// Papers are the converted results in provider rank order. Entries the
	// provider returned without a usable title are dropped.
	Papers []*domain.Paper

	// Total is the provider's estimate of all matching papers.
	Total int

	// NextOffset is the offset of the next page, zero when there is none.
	NextOffset int
}

// PrimarySource is the bibliographic provider papers are resolved against.
type PrimarySource interface {
	// Search runs a free-text search.
	Search(ctx context.Context, params SearchParams) (*SearchResult, error)

	// BatchLookup resolves identifiers (raw provider ids, "DOI:<doi>",
	// "ARXIV:<id>") in one call. The result is aligned with ids; an
	// identifier the provider could not resolve yields nil at its position.
	BatchLookup(ctx context.Context, ids []string) ([]*domain.Paper, error)

	// SearchTitle returns the best match for a title, or domain.ErrNotFound.
	SearchTitle(ctx context.Context, title string) (*domain.Paper, error)
}

// AbstractSource looks up an abstract by a provider-specific identifier.
// It returns domain.ErrNotFound when the provider has no abstract.
type AbstractSource interface {
	Name() string
	Abstract(ctx context.Context, id string) (string, error)
}
