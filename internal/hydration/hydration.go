// Package hydration fills in missing abstracts by walking an ordered list of
// strategies until one produces text.
package hydration

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Michael4343/synapse-v0.1-sub001/internal/domain"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/observability"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/papersources"
)

// Strategy is one step of the cascade. Resolve reports ok=false when it has
// nothing to offer; errors are reported so they can be logged, never so they
// stop the cascade.
type Strategy struct {
	Name       string
	Provenance domain.AbstractProvenance
	Resolve    func(ctx context.Context, p *domain.Paper) (text string, ok bool, err error)
}

// Cascade resolves abstracts. The synthesized placeholder is always the
// final step and is not part of the strategy list.
type Cascade struct {
	strategies []Strategy
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

// Deps are the secondary abstract providers. Either may be nil.
type Deps struct {
	// DOISource is consulted for papers with a DOI.
	DOISource papersources.AbstractSource
	// PMIDSource is consulted for papers with a PubMed id.
	PMIDSource papersources.AbstractSource
	Logger     zerolog.Logger
	Metrics    *observability.Metrics
}

// New builds the standard cascade: the primary record's own abstract, then
// the DOI provider, then the PMID provider.
func New(deps Deps) *Cascade {
	strategies := []Strategy{PrimaryStrategy()}
	if deps.DOISource != nil {
		strategies = append(strategies, DOIStrategy(deps.DOISource))
	}
	if deps.PMIDSource != nil {
		strategies = append(strategies, PMIDStrategy(deps.PMIDSource))
	}
	return NewWithStrategies(strategies, deps.Logger, deps.Metrics)
}

// NewWithStrategies builds a cascade from an explicit strategy order.
func NewWithStrategies(strategies []Strategy, logger zerolog.Logger, metrics *observability.Metrics) *Cascade {
	return &Cascade{
		strategies: strategies,
		logger:     logger.With().Str("component", "hydration").Logger(),
		metrics:    metrics,
	}
}

// PrimaryStrategy uses the abstract already on the record.
func PrimaryStrategy() Strategy {
	return Strategy{
		Name:       "primary",
		Provenance: domain.ProvenancePrimary,
		Resolve: func(_ context.Context, p *domain.Paper) (string, bool, error) {
			if !p.HasAbstract() {
				return "", false, nil
			}
			return strings.TrimSpace(*p.Abstract), true, nil
		},
	}
}

// DOIStrategy asks a DOI-metadata provider.
func DOIStrategy(src papersources.AbstractSource) Strategy {
	return Strategy{
		Name:       src.Name(),
		Provenance: domain.ProvenanceSecondaryA,
		Resolve: func(ctx context.Context, p *domain.Paper) (string, bool, error) {
			if p.Identifiers.DOI == "" {
				return "", false, nil
			}
			return fromSource(ctx, src, p.Identifiers.DOI)
		},
	}
}

// PMIDStrategy asks a biomedical literature provider.
func PMIDStrategy(src papersources.AbstractSource) Strategy {
	return Strategy{
		Name:       src.Name(),
		Provenance: domain.ProvenanceSecondaryB,
		Resolve: func(ctx context.Context, p *domain.Paper) (string, bool, error) {
			if p.Identifiers.PubMedID == "" {
				return "", false, nil
			}
			return fromSource(ctx, src, p.Identifiers.PubMedID)
		},
	}
}

func fromSource(ctx context.Context, src papersources.AbstractSource, id string) (string, bool, error) {
	text, err := src.Abstract(ctx, id)
	if err != nil {
		return "", false, err
	}
	text = strings.TrimSpace(text)
	return text, text != "", nil
}

// Resolve returns the first abstract a strategy yields, or the synthesized
// placeholder when none does. A paper that already has an abstract is
// answered by the primary strategy without any external call.
func (c *Cascade) Resolve(ctx context.Context, p *domain.Paper) domain.AbstractResolution {
	for _, s := range c.strategies {
		if ctx.Err() != nil {
			break
		}
		text, ok, err := s.Resolve(ctx, p)
		if err != nil {
			c.logger.Debug().
				Err(err).
				Str("strategy", s.Name).
				Str("title", p.Title).
				Msg("abstract strategy failed, trying next")
			continue
		}
		if ok {
			return domain.AbstractResolution{Text: text, Provenance: s.Provenance}
		}
	}
	return domain.SynthesizedAbstract(p.Title)
}

// Hydrate resolves and stores the abstract of one paper.
func (c *Cascade) Hydrate(ctx context.Context, p *domain.Paper) {
	res := c.Resolve(ctx, p)
	p.SetAbstract(res)
	c.metrics.RecordAbstractResolution(string(res.Provenance))
}

// HydrateAll hydrates papers one after another so a batch never bursts a
// single provider. Papers whose abstract came from generative output are
// treated as missing one; the note survives if every provider comes up
// empty.
func (c *Cascade) HydrateAll(ctx context.Context, papers []*domain.Paper) {
	for _, p := range papers {
		if p == nil {
			continue
		}
		if p.AbstractProvenance == domain.ProvenanceCandidate && p.Abstract != nil {
			c.hydrateCandidate(ctx, p)
			continue
		}
		c.Hydrate(ctx, p)
	}
}

func (c *Cascade) hydrateCandidate(ctx context.Context, p *domain.Paper) {
	note := *p.Abstract
	p.Abstract = nil

	res := c.Resolve(ctx, p)
	if res.Provenance == domain.ProvenanceSynthesized {
		res = domain.AbstractResolution{Text: note, Provenance: domain.ProvenanceCandidate}
	}
	p.SetAbstract(res)
	c.metrics.RecordAbstractResolution(string(res.Provenance))
}
