package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// whitespaceRegex matches one or more whitespace characters (spaces, tabs, newlines).
var whitespaceRegex = regexp.MustCompile(`\s+`)

// Query is a cached search. The cache key is NormalizedText; CreatedAt is
// refreshed on every successful live fetch and drives freshness.
type Query struct {
	ID             uuid.UUID
	Text           string
	NormalizedText string
	ResultCount    int
	CreatedAt      time.Time
}

// NewQuery creates a Query for text with a generated ID.
func NewQuery(text string, now time.Time) *Query {
	return &Query{
		ID:             uuid.New(),
		Text:           strings.TrimSpace(text),
		NormalizedText: NormalizeQuery(text),
		CreatedAt:      now,
	}
}

// IsFresh reports whether the query was refreshed less than ttl ago.
func (q *Query) IsFresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(q.CreatedAt) < ttl
}

// QueryResultLink associates a query with one of its result papers.
// Position is the authoritative replay order; RelevanceScore is informational.
type QueryResultLink struct {
	QueryID        uuid.UUID
	PaperID        uuid.UUID
	Position       int
	RelevanceScore int
}

// NormalizeQuery lowercases s, trims it and collapses inner whitespace.
func NormalizeQuery(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return whitespaceRegex.ReplaceAllString(strings.ToLower(s), " ")
}

// CollapseWhitespace trims s and collapses inner whitespace runs to a single space.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(s, " "))
}

// BuildLinks returns ordered links for papers under queryID.
func BuildLinks(queryID uuid.UUID, papers []*Paper) []QueryResultLink {
	links := make([]QueryResultLink, 0, len(papers))
	for i, p := range papers {
		links = append(links, QueryResultLink{
			QueryID:        queryID,
			PaperID:        p.ID,
			Position:       i,
			RelevanceScore: p.RelevanceScore(),
		})
	}
	return links
}
