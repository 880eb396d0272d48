// Package semanticscholar is the primary bibliographic provider: free-text
// search, batch identifier lookup and recent-paper digests against the
// Semantic Scholar Graph API.
//
// API Documentation: https://api.semanticscholar.org/api-docs/graph
package semanticscholar

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// searchResponse is the envelope of /paper/search. Data entries are decoded
// one by one so a single malformed entry does not discard the page.
type searchResponse struct {
	Total int               `json:"total"`
	Next  int               `json:"next"`
	Data  []json.RawMessage `json:"data"`
}

// paperResult is one paper as returned by the Graph API. Fields decode
// leniently: a value of the wrong type leaves that field empty instead of
// failing the whole entry. Only the title is required.
type paperResult struct {
	PaperID         lenientString      `json:"paperId"`
	Title           lenientString      `json:"title"`
	Abstract        lenientString      `json:"abstract"`
	Year            lenientInt         `json:"year"`
	PublicationDate lenientString      `json:"publicationDate"`
	Venue           lenientString      `json:"venue"`
	Journal         lenientJournal     `json:"journal"`
	Authors         lenientAuthors     `json:"authors"`
	CitationCount   lenientInt         `json:"citationCount"`
	URL             lenientString      `json:"url"`
	ExternalIDs     lenientExternalIDs `json:"externalIds"`
	// Error is set by the batch endpoint for identifiers it could not resolve.
	Error lenientString `json:"error"`
}

// lenientString holds a JSON string. Any other JSON value leaves it unset.
type lenientString struct {
	v *string
}

func (s *lenientString) UnmarshalJSON(b []byte) error {
	s.v = nil
	var v string
	if err := json.Unmarshal(b, &v); err == nil && !isNull(b) {
		s.v = &v
	}
	return nil
}

// value returns the string, or "" when unset.
func (s lenientString) value() string {
	if s.v == nil {
		return ""
	}
	return *s.v
}

// lenientInt holds an integral JSON number or a numeric string.
type lenientInt struct {
	v *int
}

func (n *lenientInt) UnmarshalJSON(b []byte) error {
	n.v = nil
	raw := bytes.TrimSpace(b)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		raw = []byte(strings.TrimSpace(s))
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return nil
	}
	i := int(f)
	n.v = &i
	return nil
}

// lenientJournal accepts {"name": "..."} or a bare string.
type lenientJournal struct {
	name string
}

func (j *lenientJournal) UnmarshalJSON(b []byte) error {
	j.name = ""
	var obj struct {
		Name lenientString `json:"name"`
	}
	if err := json.Unmarshal(b, &obj); err == nil {
		j.name = obj.Name.value()
		return nil
	}
	var s lenientString
	_ = s.UnmarshalJSON(b)
	j.name = s.value()
	return nil
}

// lenientAuthors accepts an array of {"name": "..."} objects or strings.
// Elements of any other shape are dropped.
type lenientAuthors struct {
	names []string
}

func (a *lenientAuthors) UnmarshalJSON(b []byte) error {
	a.names = nil
	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		return nil
	}
	for _, item := range items {
		var j lenientJournal
		_ = j.UnmarshalJSON(item)
		if name := strings.TrimSpace(j.name); name != "" {
			a.names = append(a.names, name)
		}
	}
	return nil
}

// lenientExternalIDs reads the identifier map. PubMed ids may arrive as
// numbers; DOI and arXiv ids must be strings.
type lenientExternalIDs struct {
	DOI    string
	ArXiv  string
	PubMed string
}

func (e *lenientExternalIDs) UnmarshalJSON(b []byte) error {
	*e = lenientExternalIDs{}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	var doi, arxiv lenientString
	_ = doi.UnmarshalJSON(m["DOI"])
	_ = arxiv.UnmarshalJSON(m["ArXiv"])
	e.DOI = strings.TrimSpace(doi.value())
	e.ArXiv = strings.TrimSpace(arxiv.value())
	e.PubMed = idValue(m["PubMed"])
	return nil
}

func idValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s lenientString
	_ = s.UnmarshalJSON(raw)
	if v := s.value(); v != "" {
		return strings.TrimSpace(v)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func isNull(raw []byte) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || string(t) == "null"
}

type batchRequest struct {
	IDs []string `json:"ids"`
}
