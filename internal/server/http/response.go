package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Michael4343/synapse-v0.1-sub001/internal/domain"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/papersources"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/resolver"
)

type paperResponse struct {
	ID                 string              `json:"id,omitempty"`
	Title              string              `json:"title"`
	Abstract           *string             `json:"abstract"`
	AbstractProvenance string              `json:"abstract_provenance,omitempty"`
	Authors            []string            `json:"authors"`
	Year               *int                `json:"year"`
	Venue              *string             `json:"venue"`
	CitationCount      *int                `json:"citation_count"`
	Identifiers        identifiersResponse `json:"identifiers"`
	URL                string              `json:"url,omitempty"`
	PublicationDate    *string             `json:"publication_date"`
	Source             string              `json:"source,omitempty"`
}

type identifiersResponse struct {
	ProviderID string `json:"provider_id,omitempty"`
	DOI        string `json:"doi,omitempty"`
	ArXivID    string `json:"arxiv_id,omitempty"`
	PubMedID   string `json:"pubmed_id,omitempty"`
}

type searchResponse struct {
	Query    string          `json:"query"`
	Papers   []paperResponse `json:"papers"`
	Count    int             `json:"count"`
	CacheHit bool            `json:"cache_hit"`
	Stale    bool            `json:"stale"`
	Reason   string          `json:"reason,omitempty"`
}

type recentResponse struct {
	Query  string          `json:"query"`
	Papers []paperResponse `json:"papers"`
	Count  int             `json:"count"`
}

type extractResponse struct {
	Papers    []paperResponse `json:"papers"`
	Summary   *string         `json:"summary"`
	Tier      string          `json:"tier"`
	Count     int             `json:"count"`
	Persisted int             `json:"persisted"`
}

type providerResponse struct {
	Name          string     `json:"name"`
	Authenticated bool       `json:"authenticated"`
	CircuitOpen   bool       `json:"circuit_open"`
	Failures      int        `json:"consecutive_failures"`
	RetryAt       *time.Time `json:"retry_at,omitempty"`
	Utilization   float64    `json:"utilization"`
	Error         string     `json:"error,omitempty"`
}

type providersResponse struct {
	Providers []providerResponse `json:"providers"`
}

func paperToResponse(p *domain.Paper) paperResponse {
	authors := p.Authors
	if authors == nil {
		authors = []string{}
	}
	resp := paperResponse{
		Title:              p.Title,
		Abstract:           p.Abstract,
		AbstractProvenance: string(p.AbstractProvenance),
		Authors:            authors,
		Year:               p.Year,
		Venue:              p.Venue,
		CitationCount:      p.CitationCount,
		Identifiers: identifiersResponse{
			ProviderID: p.Identifiers.ProviderID,
			DOI:        p.Identifiers.DOI,
			ArXivID:    p.Identifiers.ArXivID,
			PubMedID:   p.Identifiers.PubMedID,
		},
		URL:    p.URL,
		Source: string(p.Source),
	}
	if p.ID != uuid.Nil {
		resp.ID = p.ID.String()
	}
	if p.PublicationDate != nil {
		d := p.PublicationDate.Format(time.DateOnly)
		resp.PublicationDate = &d
	}
	return resp
}

func papersToResponse(papers []*domain.Paper) []paperResponse {
	out := make([]paperResponse, 0, len(papers))
	for _, p := range papers {
		if p == nil {
			continue
		}
		out = append(out, paperToResponse(p))
	}
	return out
}

func extractResultToResponse(res *resolver.ExtractResult) extractResponse {
	papers := papersToResponse(res.Papers)
	return extractResponse{
		Papers:    papers,
		Summary:   res.Summary,
		Tier:      string(res.Tier),
		Count:     len(papers),
		Persisted: res.Persisted,
	}
}

func providerStatusToResponse(st papersources.ProviderStatus) providerResponse {
	resp := providerResponse{
		Name:          st.Name,
		Authenticated: st.Authenticated,
		CircuitOpen:   st.Snapshot.Open,
		Failures:      st.Snapshot.Circuit.ConsecutiveFailures,
		Utilization:   st.Snapshot.Utilization,
	}
	if st.Snapshot.Open {
		retryAt := st.Snapshot.RetryAt
		resp.RetryAt = &retryAt
	}
	if st.Error != nil {
		resp.Error = st.Error.Error()
	}
	return resp
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
