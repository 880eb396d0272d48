package domain

import "fmt"

// AbstractProvenance records which step of the hydration cascade produced an abstract.
type AbstractProvenance string

const (
	ProvenanceNone        AbstractProvenance = ""
	ProvenancePrimary     AbstractProvenance = "primary"
	ProvenanceSecondaryA  AbstractProvenance = "secondary-a"
	ProvenanceSecondaryB  AbstractProvenance = "secondary-b"
	ProvenanceSynthesized AbstractProvenance = "synthesized"
	// ProvenanceCandidate marks a relevance note carried over from generative output.
	ProvenanceCandidate AbstractProvenance = "candidate"
)

// AbstractResolution is the outcome of the hydration cascade. It is never
// stored on its own; it is merged into Paper.Abstract.
type AbstractResolution struct {
	Text       string
	Provenance AbstractProvenance
}

// SynthesizedAbstract returns the placeholder used when no provider had an abstract.
func SynthesizedAbstract(title string) AbstractResolution {
	return AbstractResolution{
		Text:       fmt.Sprintf("No abstract available for %q.", title),
		Provenance: ProvenanceSynthesized,
	}
}

// GenerativeCandidate is a paper mentioned in generative-text output. It lives
// only until it is resolved into a Paper or discarded.
type GenerativeCandidate struct {
	Title         string
	Authors       []string
	Year          *int
	Venue         string
	DOI           string
	URL           string
	RelevanceNote string
}

// LookupID returns the batch-lookup identifier for the candidate:
// "DOI:<doi>", then "ARXIV:<id>", or empty when neither is known.
func (c GenerativeCandidate) LookupID() string {
	if c.DOI != "" {
		return "DOI:" + c.DOI
	}
	if id := ExtractArXivID(c.URL); id != "" {
		return "ARXIV:" + id
	}
	return ""
}

// ToPaper converts an unresolved candidate into a canonical record.
func (c GenerativeCandidate) ToPaper() *Paper {
	p := &Paper{
		Title:       c.Title,
		Authors:     append([]string(nil), c.Authors...),
		Year:        c.Year,
		Venue:       StringPtr(c.Venue),
		Identifiers: PaperIdentifiers{DOI: c.DOI, ArXivID: ExtractArXivID(c.URL)},
		URL:         c.URL,
		Source:      SourceGenerative,
	}
	if c.RelevanceNote != "" {
		p.SetAbstract(AbstractResolution{Text: c.RelevanceNote, Provenance: ProvenanceCandidate})
	}
	return p
}
