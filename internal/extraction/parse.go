package extraction

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/Michael4343/synapse-v0.1-sub001/internal/domain"
)

// Tier names the parsing stage that produced the candidates.
type Tier string

const (
	TierJSON   Tier = "json"
	TierFenced Tier = "fenced"
	TierBrace  Tier = "brace"
	TierRegex  Tier = "regex"
	TierNone   Tier = "none"
)

// proximityWindow is how far around a "Title:" label the fallback tier
// looks for the other fields of the same paper.
const proximityWindow = 600

// ParseResult is what the parser could recover from generative output.
type ParseResult struct {
	Summary    *string
	Candidates []domain.GenerativeCandidate
	Tier       Tier
}

// fieldLabel matches "Name: value" to the end of the line, tolerating
// markdown emphasis around the label.
func fieldLabel(names string) *regexp.Regexp {
	return regexp.MustCompile(`(?im)\**\b(?:` + names + `)\**\s*:\**\s*(.+)$`)
}

var (
	fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

	titleLabel     = fieldLabel(`title`)
	authorsLabel   = fieldLabel(`authors?`)
	yearLabel      = fieldLabel(`year`)
	journalLabel   = fieldLabel(`journal|venue|published in`)
	doiLabel       = fieldLabel(`doi`)
	relevanceLabel = fieldLabel(`relevance|why it matters|why|note`)
	urlLabel       = fieldLabel(`url|link`)
	nextLabel      = regexp.MustCompile(`(?i)[,;|]?\s*\**\b(?:authors?|year|journal|venue|doi|url|link|relevance)\**\s*:`)
	yearDigits     = regexp.MustCompile(`\b(1[89]\d{2}|20\d{2})\b`)
	authorSplit    = regexp.MustCompile(`\s*(?:;|,|\band\b|&)\s*`)
)

// payload is the structured shape requested from the generative provider.
// Papers are decoded one at a time so a single malformed entry does not
// discard the rest.
type payload struct {
	Summary json.RawMessage   `json:"summary"`
	Papers  []json.RawMessage `json:"papers"`
}

// rawCandidate keeps every field raw; each is decoded on its own so a
// mistyped field empties only itself.
type rawCandidate struct {
	Title     json.RawMessage `json:"title"`
	Authors   json.RawMessage `json:"authors"`
	Year      json.RawMessage `json:"year"`
	Journal   json.RawMessage `json:"journal"`
	Venue     json.RawMessage `json:"venue"`
	DOI       json.RawMessage `json:"doi"`
	URL       json.RawMessage `json:"url"`
	Relevance json.RawMessage `json:"relevance"`
	Why       json.RawMessage `json:"why"`
	Note      json.RawMessage `json:"note"`
}

// Parse extracts candidates from generative output. The structured tiers
// run in order (whole text as JSON, fenced code block, outermost braces)
// and the first that yields a usable candidate wins. When none does, the
// labeled-text fallback scans the prose. Parse never fails; an empty
// result carries TierNone.
func Parse(raw string) ParseResult {
	var summary *string

	for _, attempt := range []struct {
		tier Tier
		text func(string) (string, bool)
	}{
		{TierJSON, directText},
		{TierFenced, fencedText},
		{TierBrace, braceText},
	} {
		text, ok := attempt.text(raw)
		if !ok {
			continue
		}
		s, candidates, ok := parsePayload(text)
		if !ok {
			continue
		}
		if summary == nil {
			summary = s
		}
		if len(candidates) > 0 {
			return ParseResult{Summary: summary, Candidates: candidates, Tier: attempt.tier}
		}
	}

	if candidates := parseLabeled(raw); len(candidates) > 0 {
		return ParseResult{Summary: summary, Candidates: candidates, Tier: TierRegex}
	}
	return ParseResult{Summary: summary, Tier: TierNone}
}

func directText(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	return raw, strings.HasPrefix(raw, "{")
}

func fencedText(raw string) (string, bool) {
	m := fencedBlock.FindStringSubmatch(raw)
	if len(m) < 2 {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

func braceText(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}

func parsePayload(text string) (*string, []domain.GenerativeCandidate, bool) {
	var p payload
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return nil, nil, false
	}

	var candidates []domain.GenerativeCandidate
	for _, entry := range p.Papers {
		var rc rawCandidate
		if err := json.Unmarshal(entry, &rc); err != nil {
			continue
		}
		if c, ok := rc.candidate(); ok {
			candidates = append(candidates, c)
		}
	}
	return domain.StringPtr(decodeText(p.Summary)), candidates, true
}

func (rc rawCandidate) candidate() (domain.GenerativeCandidate, bool) {
	title := cleanTitle(decodeText(rc.Title))
	if title == "" {
		return domain.GenerativeCandidate{}, false
	}
	venue := firstNonEmpty(decodeText(rc.Journal), decodeText(rc.Venue))
	note := firstNonEmpty(decodeText(rc.Relevance), decodeText(rc.Why), decodeText(rc.Note))
	doi, url := resolveLinks(decodeText(rc.DOI), decodeText(rc.URL))

	return domain.GenerativeCandidate{
		Title:         title,
		Authors:       decodeAuthors(rc.Authors),
		Year:          decodeYear(rc.Year),
		Venue:         venue,
		DOI:           doi,
		URL:           url,
		RelevanceNote: note,
	}, true
}

// resolveLinks derives a DOI from the doi field (or a resolver URL) and a
// URL that is either an explicit http(s) link or the DOI resolver link.
func resolveLinks(rawDOI, rawURL string) (doi, url string) {
	doi = domain.ExtractDOI(rawDOI)
	rawURL = strings.TrimSpace(rawURL)
	if doi == "" && strings.Contains(strings.ToLower(rawURL), "doi.org/") {
		doi = domain.ExtractDOI(rawURL)
	}

	lower := strings.ToLower(rawURL)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return doi, rawURL
	}
	return doi, domain.DOIURL(doi)
}

// decodeText reads a loosely typed text field: a string, an object with a
// "name" or "value" member, or the first usable element of an array.
// Anything else yields "".
func decodeText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Name  json.RawMessage `json:"name"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return firstNonEmpty(stringOnly(obj.Name), stringOnly(obj.Value))
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, item := range list {
			if v := stringOnly(item); strings.TrimSpace(v) != "" {
				return v
			}
		}
	}
	return ""
}

func stringOnly(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

func decodeAuthors(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		list := make([]string, 0, len(items))
		for _, item := range items {
			list = append(list, decodeText(item))
		}
		return cleanAuthors(list)
	}
	var joined string
	if err := json.Unmarshal(raw, &joined); err == nil {
		return splitAuthors(joined)
	}
	return nil
}

func decodeYear(raw json.RawMessage) *int {
	if len(raw) == 0 {
		return nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		if n > 0 {
			return domain.IntPtr(int(n))
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseYear(s)
	}
	return nil
}

func parseYear(s string) *int {
	m := yearDigits.FindString(s)
	if m == "" {
		return nil
	}
	y, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &y
}

func splitAuthors(s string) []string {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "."))
	if s == "" {
		return nil
	}
	return cleanAuthors(authorSplit.Split(s, -1))
}

func cleanAuthors(in []string) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		a = strings.TrimSpace(a)
		if a == "" || strings.EqualFold(a, "et al") || strings.EqualFold(a, "et al.") {
			continue
		}
		out = append(out, a)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "*_\"'“”` ")
	s = strings.TrimSpace(strings.TrimSuffix(s, "."))
	return strings.Join(strings.Fields(s), " ")
}

func cleanField(s string) string {
	s = strings.Trim(strings.TrimSpace(s), "*_\"'“”` ")
	return strings.Join(strings.Fields(s), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// parseLabeled is the fallback tier. Each "Title:" match anchors a window
// that extends up to proximityWindow characters past the title line, stopping
// at the next title. Text before the label is only consulted for the
// first title, which has no preceding entry to steal fields from.
func parseLabeled(raw string) []domain.GenerativeCandidate {
	matches := titleLabel.FindAllStringSubmatchIndex(raw, -1)
	if len(matches) == 0 {
		return nil
	}

	candidates := make([]domain.GenerativeCandidate, 0, len(matches))
	for i, m := range matches {
		title := cleanTitle(cutAtLabel(raw[m[2]:m[3]]))
		if title == "" {
			continue
		}

		end := min(m[1]+proximityWindow, len(raw))
		if i+1 < len(matches) {
			end = min(end, matches[i+1][0])
		}
		after := raw[m[2]:end]

		before := ""
		if i == 0 {
			before = raw[max(0, m[0]-proximityWindow):m[0]]
		}

		c := domain.GenerativeCandidate{Title: title}
		if v := labeled(authorsLabel, after, before); v != "" {
			c.Authors = splitAuthors(v)
		}
		if v := labeled(yearLabel, after, before); v != "" {
			c.Year = parseYear(v)
		}
		c.Venue = cleanField(labeled(journalLabel, after, before))
		c.RelevanceNote = cleanField(labeled(relevanceLabel, after, before))

		rawDOI := labeled(doiLabel, after, before)
		if domain.ExtractDOI(rawDOI) == "" {
			rawDOI = domain.ExtractDOI(after)
		}
		c.DOI, c.URL = resolveLinks(rawDOI, labeled(urlLabel, after, before))

		candidates = append(candidates, c)
	}
	return candidates
}

// cutAtLabel trims a value that runs into the next label on the same line,
// as in "Title: X, Authors: Y, Year: 2020".
func cutAtLabel(v string) string {
	if loc := nextLabel.FindStringIndex(v); loc != nil {
		v = v[:loc[0]]
	}
	return strings.TrimSpace(v)
}

func labeled(re *regexp.Regexp, segments ...string) string {
	for _, seg := range segments {
		if m := re.FindStringSubmatch(seg); len(m) > 1 {
			return cutAtLabel(m[1])
		}
	}
	return ""
}
