package hydration

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Michael4343/synapse-v0.1-sub001/internal/domain"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/observability"
)

// fakeSource is an AbstractSource with canned answers per id.
type fakeSource struct {
	name    string
	answers map[string]string
	err     error
	calls   []string
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Abstract(_ context.Context, id string) (string, error) {
	f.calls = append(f.calls, id)
	if f.err != nil {
		return "", f.err
	}
	text, ok := f.answers[id]
	if !ok {
		return "", domain.NewNotFoundError(f.name, id)
	}
	return text, nil
}

func newCascade(doi, pmid *fakeSource, metrics *observability.Metrics) *Cascade {
	deps := Deps{Logger: zerolog.Nop(), Metrics: metrics}
	if doi != nil {
		deps.DOISource = doi
	}
	if pmid != nil {
		deps.PMIDSource = pmid
	}
	return New(deps)
}

func TestCascade_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("existing abstract makes no external call", func(t *testing.T) {
		doi := &fakeSource{name: "crossref"}
		pmid := &fakeSource{name: "pubmed"}
		c := newCascade(doi, pmid, nil)

		p := &domain.Paper{
			Title:       "Has abstract",
			Abstract:    domain.StringPtr(" Already here. "),
			Identifiers: domain.PaperIdentifiers{DOI: "10.1/a", PubMedID: "1"},
		}
		res := c.Resolve(ctx, p)

		assert.Equal(t, domain.AbstractResolution{Text: "Already here.", Provenance: domain.ProvenancePrimary}, res)
		assert.Empty(t, doi.calls)
		assert.Empty(t, pmid.calls)
	})

	t.Run("doi provider fills the gap", func(t *testing.T) {
		doi := &fakeSource{name: "crossref", answers: map[string]string{"10.1/a": "From Crossref."}}
		pmid := &fakeSource{name: "pubmed"}
		c := newCascade(doi, pmid, nil)

		res := c.Resolve(ctx, &domain.Paper{Title: "T", Identifiers: domain.PaperIdentifiers{DOI: "10.1/a", PubMedID: "1"}})

		assert.Equal(t, domain.ProvenanceSecondaryA, res.Provenance)
		assert.Equal(t, "From Crossref.", res.Text)
		assert.Empty(t, pmid.calls)
	})

	t.Run("failing doi provider falls through to pmid", func(t *testing.T) {
		doi := &fakeSource{name: "crossref", err: errors.New("503")}
		pmid := &fakeSource{name: "pubmed", answers: map[string]string{"42": "From PubMed."}}
		c := newCascade(doi, pmid, nil)

		res := c.Resolve(ctx, &domain.Paper{Title: "T", Identifiers: domain.PaperIdentifiers{DOI: "10.1/a", PubMedID: "42"}})

		assert.Equal(t, domain.AbstractResolution{Text: "From PubMed.", Provenance: domain.ProvenanceSecondaryB}, res)
		assert.Equal(t, []string{"10.1/a"}, doi.calls)
		assert.Equal(t, []string{"42"}, pmid.calls)
	})

	t.Run("failing doi provider without pmid synthesizes placeholder", func(t *testing.T) {
		doi := &fakeSource{name: "crossref", err: errors.New("timeout")}
		pmid := &fakeSource{name: "pubmed"}
		c := newCascade(doi, pmid, nil)

		res := c.Resolve(ctx, &domain.Paper{Title: "Lonely Paper", Identifiers: domain.PaperIdentifiers{DOI: "10.1/a"}})

		assert.Equal(t, domain.ProvenanceSynthesized, res.Provenance)
		assert.Contains(t, res.Text, "Lonely Paper")
		assert.Empty(t, pmid.calls)
	})

	t.Run("no identifiers skips external providers", func(t *testing.T) {
		doi := &fakeSource{name: "crossref"}
		pmid := &fakeSource{name: "pubmed"}
		c := newCascade(doi, pmid, nil)

		res := c.Resolve(ctx, &domain.Paper{Title: "Bare"})

		assert.Equal(t, domain.SynthesizedAbstract("Bare"), res)
		assert.Empty(t, doi.calls)
		assert.Empty(t, pmid.calls)
	})

	t.Run("blank provider text counts as nothing", func(t *testing.T) {
		doi := &fakeSource{name: "crossref", answers: map[string]string{"10.1/a": "   "}}
		c := newCascade(doi, nil, nil)

		res := c.Resolve(ctx, &domain.Paper{Title: "T", Identifiers: domain.PaperIdentifiers{DOI: "10.1/a"}})
		assert.Equal(t, domain.ProvenanceSynthesized, res.Provenance)
	})
}

func TestCascade_CustomOrder(t *testing.T) {
	var order []string
	step := func(name string, ok bool) Strategy {
		return Strategy{
			Name:       name,
			Provenance: domain.AbstractProvenance(name),
			Resolve: func(context.Context, *domain.Paper) (string, bool, error) {
				order = append(order, name)
				return name + " text", ok, nil
			},
		}
	}

	c := NewWithStrategies([]Strategy{step("a", false), step("b", true), step("c", true)}, zerolog.Nop(), nil)
	res := c.Resolve(context.Background(), &domain.Paper{Title: "T"})

	assert.Equal(t, "b text", res.Text)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestCascade_HydrateAll(t *testing.T) {
	metrics := observability.NewMetrics("test_hydration_all")
	doi := &fakeSource{name: "crossref", answers: map[string]string{"10.1/found": "Crossref text."}}
	c := newCascade(doi, nil, metrics)

	withAbstract := &domain.Paper{Title: "A", Abstract: domain.StringPtr("Primary text.")}
	viaDOI := &domain.Paper{Title: "B", Identifiers: domain.PaperIdentifiers{DOI: "10.1/found"}}
	missing := &domain.Paper{Title: "C"}
	candidateKept := domain.GenerativeCandidate{Title: "D", RelevanceNote: "Why it matters."}.ToPaper()
	candidateReplaced := domain.GenerativeCandidate{Title: "E", DOI: "10.1/found", RelevanceNote: "Note."}.ToPaper()

	c.HydrateAll(context.Background(), []*domain.Paper{withAbstract, nil, viaDOI, missing, candidateKept, candidateReplaced})

	assert.Equal(t, domain.ProvenancePrimary, withAbstract.AbstractProvenance)
	assert.Equal(t, domain.ProvenanceSecondaryA, viaDOI.AbstractProvenance)
	assert.Equal(t, "Crossref text.", *viaDOI.Abstract)
	assert.Equal(t, domain.ProvenanceSynthesized, missing.AbstractProvenance)

	require.NotNil(t, candidateKept.Abstract)
	assert.Equal(t, "Why it matters.", *candidateKept.Abstract)
	assert.Equal(t, domain.ProvenanceCandidate, candidateKept.AbstractProvenance)

	assert.Equal(t, "Crossref text.", *candidateReplaced.Abstract)
	assert.Equal(t, domain.ProvenanceSecondaryA, candidateReplaced.AbstractProvenance)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.AbstractResolutions.WithLabelValues("secondary-a")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AbstractResolutions.WithLabelValues("candidate")))
}
