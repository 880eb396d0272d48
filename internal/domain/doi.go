package domain

import (
	"regexp"
	"strings"
)

// doiPattern matches a DOI: "10." followed by a 4-9 digit registrant code,
// a slash and a suffix free of whitespace and URL-unsafe characters.
var doiPattern = regexp.MustCompile(`10\.\d{4,9}/[^\s<>"{}|\\^~\[\]` + "`" + `]+`)

// arxivPattern matches new-style arXiv ids inside abs/pdf URLs.
var arxivPattern = regexp.MustCompile(`arxiv\.org/(?:abs|pdf)/(\d{4}\.\d{4,5})`)

var doiPrefixes = []string{
	"https://doi.org/",
	"http://doi.org/",
	"https://dx.doi.org/",
	"http://dx.doi.org/",
	"doi.org/",
	"dx.doi.org/",
	"doi:",
}

// NormalizeDOI strips resolver URL and "doi:" prefixes and lowercases the result.
func NormalizeDOI(doi string) string {
	doi = strings.TrimSpace(doi)
	lower := strings.ToLower(doi)
	for _, prefix := range doiPrefixes {
		if strings.HasPrefix(lower, prefix) {
			doi = doi[len(prefix):]
			break
		}
	}
	return strings.ToLower(strings.TrimSpace(doi))
}

// ExtractDOI returns the first DOI found in s after stripping resolver
// prefixes, or an empty string. Trailing sentence punctuation is dropped.
func ExtractDOI(s string) string {
	match := doiPattern.FindString(NormalizeDOI(s))
	return strings.TrimRight(match, ".,;:)")
}

// DOIURL returns the resolver URL for doi.
func DOIURL(doi string) string {
	if doi == "" {
		return ""
	}
	return "https://doi.org/" + doi
}

// ExtractArXivID returns the arXiv id embedded in an arxiv.org URL, if any.
func ExtractArXivID(u string) string {
	m := arxivPattern.FindStringSubmatch(strings.ToLower(u))
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
