package papersources

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// CleanText turns provider markup (JATS, HTML, inline MathML) into plain
// text: tags are stripped, entities decoded and whitespace collapsed.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	// Tags are replaced by a space so adjacent blocks do not run together.
	stripped := strictPolicy.Sanitize(strings.ReplaceAll(s, "<", " <"))
	return strings.Join(strings.Fields(html.UnescapeString(stripped)), " ")
}
