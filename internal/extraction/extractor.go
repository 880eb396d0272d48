// Package extraction turns generative-text output into resolved papers.
//
// Output is parsed into candidates (see Parse), capped, and then enriched
// against the primary provider: first one batch lookup by DOI or arXiv id,
// then a bounded number of title searches for whatever is still unmatched.
// Candidates the provider does not know are kept as generative records.
package extraction

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/Michael4343/synapse-v0.1-sub001/internal/domain"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/hydration"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/llm"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/observability"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/papersources"
)

// Candidate enrichment outcomes, used as metric labels.
const (
	OutcomeBatch     = "batch"
	OutcomeTitle     = "title"
	OutcomeUnmatched = "unmatched"
)

// Config bounds extraction work per request.
type Config struct {
	DefaultMaxResults  int
	MaxResultsCeiling  int
	TitleFallbackLimit int
}

// DefaultConfig returns the standard bounds: 12 results by default, never
// more than 25, and at most 5 title searches per request.
func DefaultConfig() Config {
	return Config{
		DefaultMaxResults:  12,
		MaxResultsCeiling:  25,
		TitleFallbackLimit: 5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultMaxResults <= 0 {
		c.DefaultMaxResults = d.DefaultMaxResults
	}
	if c.MaxResultsCeiling <= 0 {
		c.MaxResultsCeiling = d.MaxResultsCeiling
	}
	if c.DefaultMaxResults > c.MaxResultsCeiling {
		c.DefaultMaxResults = c.MaxResultsCeiling
	}
	if c.TitleFallbackLimit < 0 {
		c.TitleFallbackLimit = 0
	}
	return c
}

// Cap clamps a requested result count: n <= 0 means the default, and the
// ceiling is never exceeded.
func (c Config) Cap(n int) int {
	c = c.withDefaults()
	if n <= 0 {
		return c.DefaultMaxResults
	}
	return min(n, c.MaxResultsCeiling)
}

// Cap clamps n using DefaultConfig.
func Cap(n int) int {
	return DefaultConfig().Cap(n)
}

// Result is the outcome of one extraction.
type Result struct {
	Papers  []*domain.Paper
	Summary *string
	Tier    Tier
}

// Deps wires an Extractor. Generator may be nil, in which case Discover is
// unavailable.
type Deps struct {
	Primary   papersources.PrimarySource
	Cascade   *hydration.Cascade
	Generator llm.Generator
	Logger    zerolog.Logger
	Metrics   *observability.Metrics
}

// Extractor parses and enriches generative candidates.
type Extractor struct {
	primary   papersources.PrimarySource
	cascade   *hydration.Cascade
	generator llm.Generator
	cfg       Config
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

// New creates an Extractor.
func New(cfg Config, deps Deps) *Extractor {
	return &Extractor{
		primary:   deps.Primary,
		cascade:   deps.Cascade,
		generator: deps.Generator,
		cfg:       cfg.withDefaults(),
		logger:    deps.Logger.With().Str("component", "extraction").Logger(),
		metrics:   deps.Metrics,
	}
}

// Config returns the effective bounds.
func (e *Extractor) Config() Config {
	return e.cfg
}

// ExtractAndEnrich parses raw generative output and resolves the candidates
// against the primary provider. Unparsable input yields an empty result,
// not an error; the only error returned is the context's.
func (e *Extractor) ExtractAndEnrich(ctx context.Context, raw string, maxResults int) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parsed := Parse(raw)
	e.metrics.RecordExtractionTier(string(parsed.Tier))

	candidates := parsed.Candidates
	if limit := e.cfg.Cap(maxResults); len(candidates) > limit {
		candidates = candidates[:limit]
	}

	e.logger.Debug().
		Str("tier", string(parsed.Tier)).
		Int("candidates", len(candidates)).
		Msg("parsed generative output")

	papers := e.enrich(ctx, candidates)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	papers = dedupe(papers)

	if e.cascade != nil {
		e.cascade.HydrateAll(ctx, papers)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &Result{Papers: papers, Summary: parsed.Summary, Tier: parsed.Tier}, nil
}

// enrich returns one paper per candidate, in candidate order.
func (e *Extractor) enrich(ctx context.Context, candidates []domain.GenerativeCandidate) []*domain.Paper {
	matched := make([]*domain.Paper, len(candidates))
	if e.primary == nil || len(candidates) == 0 {
		return e.finish(candidates, matched, 0, 0)
	}

	batchHits := e.batchLookup(ctx, candidates, matched)

	titleHits := 0
	lookups := 0
	for i, c := range candidates {
		if matched[i] != nil {
			continue
		}
		if lookups >= e.cfg.TitleFallbackLimit || ctx.Err() != nil {
			break
		}
		lookups++

		p, err := e.primary.SearchTitle(ctx, c.Title)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				e.logger.Debug().Err(err).Str("title", c.Title).Msg("title lookup failed")
			}
			continue
		}
		if p == nil || !titlesMatch(c.Title, p.Title) {
			continue
		}
		matched[i] = p
		titleHits++
	}

	return e.finish(candidates, matched, batchHits, titleHits)
}

func (e *Extractor) batchLookup(ctx context.Context, candidates []domain.GenerativeCandidate, matched []*domain.Paper) int {
	var ids []string
	var positions []int
	for i, c := range candidates {
		if id := c.LookupID(); id != "" {
			ids = append(ids, id)
			positions = append(positions, i)
		}
	}
	if len(ids) == 0 {
		return 0
	}

	found, err := e.primary.BatchLookup(ctx, ids)
	if err != nil {
		e.logger.Warn().Err(err).Int("ids", len(ids)).Msg("batch lookup failed, falling back to title search")
		return 0
	}

	hits := 0
	for j, p := range found {
		if j >= len(positions) || p == nil {
			continue
		}
		matched[positions[j]] = p
		hits++
	}
	return hits
}

func (e *Extractor) finish(candidates []domain.GenerativeCandidate, matched []*domain.Paper, batchHits, titleHits int) []*domain.Paper {
	papers := make([]*domain.Paper, len(candidates))
	unmatched := 0
	for i, c := range candidates {
		if matched[i] != nil {
			papers[i] = Merge(c, matched[i])
			continue
		}
		papers[i] = c.ToPaper()
		unmatched++
	}

	e.metrics.RecordCandidatesResolved(OutcomeBatch, batchHits)
	e.metrics.RecordCandidatesResolved(OutcomeTitle, titleHits)
	e.metrics.RecordCandidatesResolved(OutcomeUnmatched, unmatched)
	return papers
}

// Merge overlays a provider record on a candidate. Provider values win
// wherever they are present; candidate values fill the gaps. The relevance
// note becomes the abstract only when the provider has none.
func Merge(c domain.GenerativeCandidate, provider *domain.Paper) *domain.Paper {
	p := *provider
	p.Authors = append([]string(nil), provider.Authors...)

	if strings.TrimSpace(p.Title) == "" {
		p.Title = c.Title
	}
	if len(p.Authors) == 0 {
		p.Authors = append([]string(nil), c.Authors...)
	}
	if p.Year == nil && c.Year != nil {
		y := *c.Year
		p.Year = &y
	}
	if p.Venue == nil {
		p.Venue = domain.StringPtr(c.Venue)
	}
	if p.URL == "" {
		p.URL = c.URL
	}
	p.Identifiers = p.Identifiers.Merge(domain.PaperIdentifiers{
		DOI:     c.DOI,
		ArXivID: domain.ExtractArXivID(c.URL),
	})

	if !p.HasAbstract() && c.RelevanceNote != "" {
		p.SetAbstract(domain.AbstractResolution{Text: c.RelevanceNote, Provenance: domain.ProvenanceCandidate})
	}
	return &p
}

// dedupe drops later records that share a DOI (case-insensitive) or
// provider id with an earlier one, folding their identifiers into the
// survivor.
func dedupe(papers []*domain.Paper) []*domain.Paper {
	seen := make(map[string]*domain.Paper, len(papers))
	out := make([]*domain.Paper, 0, len(papers))
	for _, p := range papers {
		key := p.DedupKey()
		if key == "" {
			out = append(out, p)
			continue
		}
		if first, ok := seen[key]; ok {
			first.Identifiers = first.Identifiers.Merge(p.Identifiers)
			continue
		}
		seen[key] = p
		out = append(out, p)
	}
	return out
}

// titlesMatch guards title-search hits against unrelated best matches: the
// normalized titles must contain one another or share most of their words.
func titlesMatch(want, got string) bool {
	a, b := normalizeTitle(want), normalizeTitle(got)
	if a == "" || b == "" {
		return false
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}

	wa, wb := strings.Fields(a), strings.Fields(b)
	set := make(map[string]struct{}, len(wa))
	for _, w := range wa {
		set[w] = struct{}{}
	}
	shared := 0
	for _, w := range wb {
		if _, ok := set[w]; ok {
			shared++
			delete(set, w)
		}
	}
	return float64(shared) >= 0.6*float64(max(len(wa), len(wb)))
}

func normalizeTitle(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
