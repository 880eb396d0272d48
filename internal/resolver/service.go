// Package resolver orchestrates the resolution engine: the freshness cache,
// the governed primary provider, abstract hydration and the generative
// candidate pipeline. It is the only package the HTTP server and the CLI
// talk to.
package resolver

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Michael4343/synapse-v0.1-sub001/internal/cache"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/coalesce"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/domain"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/events"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/extraction"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/observability"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/papersources"
)

const (
	// DefaultSearchLimit is the result count of a search without a limit.
	DefaultSearchLimit = 12
	// MaxSearchLimit caps the search limit.
	MaxSearchLimit = 100
	// DefaultRecentDays is the digest lookback without an explicit one.
	DefaultRecentDays = 7
	// DefaultRecentLimit is the digest size without an explicit limit.
	DefaultRecentLimit = 100
)

// ResultCache is the freshness cache. *cache.Cache implements it.
type ResultCache interface {
	Lookup(ctx context.Context, text string) (*cache.Entry, error)
	Store(ctx context.Context, text string, papers []*domain.Paper) (*domain.Query, error)
	SavePapers(ctx context.Context, papers []*domain.Paper) (int, error)
}

// PaperSearcher is the primary provider's search surface.
// *semanticscholar.Client implements it.
type PaperSearcher interface {
	Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error)
	Recent(ctx context.Context, query string, since, until time.Time, limit int) ([]*domain.Paper, error)
}

// Hydrator fills in missing abstracts. *hydration.Cascade implements it.
type Hydrator interface {
	HydrateAll(ctx context.Context, papers []*domain.Paper)
}

// CandidateExtractor is the generative candidate pipeline.
// *extraction.Extractor implements it.
type CandidateExtractor interface {
	ExtractAndEnrich(ctx context.Context, raw string, maxResults int) (*extraction.Result, error)
	Discover(ctx context.Context, topic string, maxResults int) (*extraction.Result, error)
}

// Config tunes the service.
type Config struct {
	// SearchLimit is used when a search does not set a limit.
	SearchLimit int
	// Now defaults to time.Now.
	Now func() time.Time
}

// Deps wires a Service. Cache may be nil to run without persistence;
// Publisher may be nil to drop events; Registry may be nil.
type Deps struct {
	Cache     ResultCache
	Searcher  PaperSearcher
	Hydrator  Hydrator
	Extractor CandidateExtractor
	Group     *coalesce.Group
	Publisher events.Publisher
	Emitter   *events.Emitter
	Registry  *papersources.Registry
	Logger    zerolog.Logger
	Metrics   *observability.Metrics
}

// SearchRequest is a free-text search.
type SearchRequest struct {
	Query string
	Limit int
	// Year restricts results ("2021", "2019-2023").
	Year string
}

// SearchResult is the outcome of a search.
type SearchResult struct {
	// Query is the normalized query text.
	Query  string
	Papers []*domain.Paper
	// CacheHit is true when the papers came from the cache.
	CacheHit bool
	// Stale is true when a live refresh failed and an expired entry was served.
	Stale bool
	// Reason explains a stale or empty result.
	Reason string
}

// RecentRequest is a digest lookup.
type RecentRequest struct {
	Query string
	Days  int
	Limit int
}

// ExtractResult is the outcome of an extraction or discovery.
type ExtractResult struct {
	Papers    []*domain.Paper
	Summary   *string
	Tier      extraction.Tier
	Persisted int
}

// Service is the resolution engine facade.
type Service struct {
	cache     ResultCache
	searcher  PaperSearcher
	hydrator  Hydrator
	extractor CandidateExtractor
	group     *coalesce.Group
	publisher events.Publisher
	emitter   *events.Emitter
	registry  *papersources.Registry
	cfg       Config
	logger    zerolog.Logger
}

// New creates a Service.
func New(cfg Config, deps Deps) *Service {
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = DefaultSearchLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if deps.Group == nil {
		deps.Group = coalesce.NewGroup("resolver", 0, deps.Metrics)
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	if deps.Emitter == nil {
		deps.Emitter = events.NewEmitter("")
	}
	return &Service{
		cache:     deps.Cache,
		searcher:  deps.Searcher,
		hydrator:  deps.Hydrator,
		extractor: deps.Extractor,
		group:     deps.Group,
		publisher: deps.Publisher,
		emitter:   deps.Emitter,
		registry:  deps.Registry,
		cfg:       cfg,
		logger:    deps.Logger.With().Str("component", "resolver").Logger(),
	}
}

// Search resolves a free-text query. A fresh cache entry is served as is.
// Otherwise the primary provider is queried (one shared call for identical
// concurrent searches), abstracts are hydrated and the result set is stored.
// When the live fetch fails a stale entry is served if one exists; without
// one the error is a *domain.ServiceUnavailableError.
func (s *Service) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	normalized := domain.NormalizeQuery(req.Query)
	if normalized == "" {
		return nil, domain.NewValidationError("query", "query is required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.cfg.SearchLimit
	}
	limit = min(limit, MaxSearchLimit)
	year := strings.TrimSpace(req.Year)
	key := cacheKey(normalized, year)

	ctx = observability.WithQuery(ctx, normalized)
	logger := observability.LoggerFromContext(ctx, s.logger)

	stale := s.lookup(ctx, logger, key)
	if stale != nil && stale.Fresh {
		return &SearchResult{Query: normalized, Papers: truncate(stale.Papers, limit), CacheHit: true}, nil
	}

	papers, shared, err := coalesce.Do(ctx, s.group, coalesce.Key("search", key, strconv.Itoa(limit)),
		func(ctx context.Context) ([]*domain.Paper, error) {
			return s.refresh(ctx, key, papersources.SearchParams{Query: normalized, Limit: limit, Year: year})
		})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if stale != nil {
			logger.Warn().Err(err).Msg("live fetch failed, serving stale results")
			return &SearchResult{
				Query:    normalized,
				Papers:   truncate(stale.Papers, limit),
				CacheHit: true,
				Stale:    true,
				Reason:   "live fetch failed: " + describe(err),
			}, nil
		}
		return nil, unavailable("search", err)
	}

	logger.Debug().Int("papers", len(papers)).Bool("shared", shared).Msg("search refreshed")

	result := &SearchResult{Query: normalized, Papers: papers}
	if len(papers) == 0 {
		result.Reason = "no papers matched the query"
	}
	return result, nil
}

// lookup returns the cached entry for key, or nil on a miss or cache failure.
func (s *Service) lookup(ctx context.Context, logger zerolog.Logger, key string) *cache.Entry {
	if s.cache == nil {
		return nil
	}
	entry, err := s.cache.Lookup(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrCacheMiss) {
			logger.Warn().Err(err).Msg("cache lookup failed, treating as miss")
		}
		return nil
	}
	return entry
}

// refresh runs one live search. It runs detached from the requesting
// caller, so the result is stored even if that caller has gone away.
func (s *Service) refresh(ctx context.Context, key string, params papersources.SearchParams) ([]*domain.Paper, error) {
	res, err := s.searcher.Search(ctx, params)
	if err != nil {
		return nil, err
	}
	papers := res.Papers

	if s.hydrator != nil {
		s.hydrator.HydrateAll(ctx, papers)
	}

	payload := events.QueryRefreshed{Query: key, ResultCount: len(papers)}
	var aggregateID string
	if s.cache != nil {
		q, err := s.cache.Store(ctx, key, papers)
		if err != nil {
			s.logger.Error().Err(err).Str("query", key).Msg("failed to store search results")
		} else {
			aggregateID = q.ID.String()
			payload.QueryID = aggregateID
			payload.Persisted = true
			payload.PaperIDs = make([]string, 0, len(papers))
			for _, p := range papers {
				if p.ID != uuid.Nil {
					payload.PaperIDs = append(payload.PaperIDs, p.ID.String())
				}
			}
		}
	}

	s.publish(ctx, events.EmitParams{
		AggregateID:   aggregateID,
		AggregateType: events.AggregateQuery,
		EventType:     events.TypeQueryRefreshed,
		Payload:       payload,
	})

	return papers, nil
}

// Recent returns papers on query published in the last Days days, newest
// first, with abstracts hydrated. Digest results are not cached.
func (s *Service) Recent(ctx context.Context, req RecentRequest) ([]*domain.Paper, error) {
	query := domain.CollapseWhitespace(req.Query)
	if query == "" {
		return nil, domain.NewValidationError("query", "query is required")
	}
	days := req.Days
	if days <= 0 {
		days = DefaultRecentDays
	}
	limit := req.Limit
	if limit <= 0 || limit > DefaultRecentLimit {
		limit = DefaultRecentLimit
	}

	until := s.cfg.Now().UTC()
	since := until.AddDate(0, 0, -days)

	papers, err := s.searcher.Recent(ctx, query, since, until, limit)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, unavailable("recent", err)
	}

	if s.hydrator != nil {
		s.hydrator.HydrateAll(ctx, papers)
	}
	return papers, nil
}

// ExtractCandidates resolves the papers mentioned in generative output.
func (s *Service) ExtractCandidates(ctx context.Context, text string, maxResults int) (*ExtractResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.NewValidationError("text", "text is required")
	}
	if s.extractor == nil {
		return nil, domain.NewServiceUnavailableError("extract", "candidate extraction is not configured", nil)
	}

	res, err := s.extractor.ExtractAndEnrich(ctx, text, maxResults)
	if err != nil {
		return nil, err
	}
	return s.finishExtraction(ctx, "extract", res), nil
}

// Discover asks the generative provider for papers on topic and resolves them.
func (s *Service) Discover(ctx context.Context, topic string, maxResults int) (*ExtractResult, error) {
	if s.extractor == nil {
		return nil, domain.NewServiceUnavailableError("discover", "candidate extraction is not configured", nil)
	}

	res, err := s.extractor.Discover(ctx, topic, maxResults)
	if err != nil {
		return nil, err
	}
	return s.finishExtraction(ctx, "discover", res), nil
}

// finishExtraction persists resolved papers (best-effort) and publishes
// candidates.resolved.
func (s *Service) finishExtraction(ctx context.Context, mode string, res *extraction.Result) *ExtractResult {
	out := &ExtractResult{Papers: res.Papers, Summary: res.Summary, Tier: res.Tier}

	if s.cache != nil && len(res.Papers) > 0 {
		n, err := s.cache.SavePapers(ctx, res.Papers)
		if err != nil {
			logger := observability.LoggerFromContext(ctx, s.logger)
			logger.Error().
				Err(err).
				Str("mode", mode).
				Msg("failed to persist resolved candidates")
		}
		out.Persisted = n
	}

	s.publish(ctx, events.EmitParams{
		AggregateType: events.AggregateExtraction,
		EventType:     events.TypeCandidatesResolved,
		Payload: events.CandidatesResolved{
			Mode:       mode,
			Tier:       string(res.Tier),
			Candidates: len(res.Papers),
			Persisted:  out.Persisted,
		},
	})
	return out
}

// Providers reports the admission state of every registered provider.
func (s *Service) Providers(ctx context.Context) []papersources.ProviderStatus {
	if s.registry == nil {
		return nil
	}
	return s.registry.Status(ctx)
}

func (s *Service) publish(ctx context.Context, params events.EmitParams) {
	params.CorrelationID = observability.RequestIDFromContext(ctx)
	event, err := s.emitter.Emit(params)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", params.EventType).Msg("failed to build event")
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("event_type", event.Type).Msg("failed to publish event")
	}
}

// cacheKey is the stored query text. Year-filtered searches are cached
// separately from unfiltered ones.
func cacheKey(normalized, year string) string {
	if year == "" {
		return normalized
	}
	return normalized + " year:" + strings.ToLower(year)
}

func truncate(papers []*domain.Paper, limit int) []*domain.Paper {
	if len(papers) > limit {
		return papers[:limit]
	}
	return papers
}

// unavailable maps a provider failure to the typed error callers see.
// Validation errors pass through unchanged.
func unavailable(op string, err error) error {
	if errors.Is(err, domain.ErrInvalidInput) {
		return err
	}
	return domain.NewServiceUnavailableError(op, describe(err), err)
}

func describe(err error) string {
	switch {
	case errors.Is(err, domain.ErrCircuitOpen):
		return "provider circuit open"
	case errors.Is(err, domain.ErrRateLimited):
		return "provider rate limit exhausted"
	case errors.Is(err, domain.ErrTransientNetwork):
		return "provider unreachable"
	case errors.Is(err, domain.ErrMalformedResponse):
		return "provider returned a malformed response"
	case errors.Is(err, context.DeadlineExceeded):
		return "provider timed out"
	default:
		return "provider request failed"
	}
}
