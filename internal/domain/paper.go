// Package domain provides the core models and errors of the literature resolver.
package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Source identifies which provider produced the primary record of a paper.
type Source string

const (
	SourceSemanticScholar Source = "semantic_scholar"
	SourceCrossref        Source = "crossref"
	SourcePubMed          Source = "pubmed"
	SourceGenerative      Source = "generative"
)

// PaperIdentifiers holds the externally scoped identifiers of a paper.
// Identifiers are append-only: once set, a merge never replaces them with empty values.
type PaperIdentifiers struct {
	// ProviderID is the primary provider's paper id (Semantic Scholar paperId).
	ProviderID string
	// DOI is stored normalized (lowercase, no resolver prefix).
	DOI string
	// ArXivID is the arXiv identifier without version prefix.
	ArXivID string
	// PubMedID is the PMID used for biomedical abstract lookups.
	PubMedID string
}

// IsEmpty reports whether none of the identifiers are set.
func (ids PaperIdentifiers) IsEmpty() bool {
	return ids.ProviderID == "" && ids.DOI == "" && ids.ArXivID == "" && ids.PubMedID == ""
}

// Merge fills empty identifiers from other and returns the result.
func (ids PaperIdentifiers) Merge(other PaperIdentifiers) PaperIdentifiers {
	if ids.ProviderID == "" {
		ids.ProviderID = strings.TrimSpace(other.ProviderID)
	}
	if ids.DOI == "" {
		ids.DOI = NormalizeDOI(other.DOI)
	}
	if ids.ArXivID == "" {
		ids.ArXivID = strings.TrimSpace(other.ArXivID)
	}
	if ids.PubMedID == "" {
		ids.PubMedID = strings.TrimSpace(other.PubMedID)
	}
	return ids
}

// Paper is the canonical record of a paper, merged across every provider
// that supplied data about it.
type Paper struct {
	ID                 uuid.UUID
	Title              string
	Abstract           *string
	AbstractProvenance AbstractProvenance
	Authors            []string
	Year               *int
	Venue              *string
	CitationCount      *int
	Identifiers        PaperIdentifiers
	URL                string
	PublicationDate    *time.Time
	Source             Source
	RawPayload         json.RawMessage
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasAbstract reports whether the paper carries a non-blank abstract.
func (p *Paper) HasAbstract() bool {
	return p.Abstract != nil && strings.TrimSpace(*p.Abstract) != ""
}

// SetAbstract stores the resolved abstract and where it came from.
func (p *Paper) SetAbstract(res AbstractResolution) {
	text := res.Text
	p.Abstract = &text
	p.AbstractProvenance = res.Provenance
}

// DedupKey returns the key used to collapse duplicate records: the
// lowercased DOI when present, otherwise the provider id.
func (p *Paper) DedupKey() string {
	if p.Identifiers.DOI != "" {
		return "doi:" + strings.ToLower(p.Identifiers.DOI)
	}
	if p.Identifiers.ProviderID != "" {
		return "provider:" + p.Identifiers.ProviderID
	}
	return ""
}

// RelevanceScore is the citation count at link time, zero when unknown.
func (p *Paper) RelevanceScore() int {
	if p.CitationCount == nil {
		return 0
	}
	return *p.CitationCount
}

// StringPtr returns a pointer to a trimmed copy of s, or nil when s is blank.
func StringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
