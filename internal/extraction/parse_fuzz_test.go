package extraction

import (
	"strings"
	"testing"
)

// FuzzParse feeds arbitrary generator output through every tier. Parse must
// never panic and must report TierNone exactly when nothing was found.
func FuzzParse(f *testing.F) {
	seeds := []string{
		"",
		`{"summary":"s","papers":[{"title":"Attention Is All You Need","year":2017}]}`,
		"```json\n{\"papers\":[{\"title\":\"BERT\"}]}\n```",
		`Here you go: {"papers":[{"title":"ResNet","authors":"He, Zhang"}]} hope it helps`,
		"Title: Deep Residual Learning\nAuthors: He, Zhang\nYear: 2016\nDOI: 10.1109/CVPR.2016.90",
		`{"papers":[{"title":""}]}`,
		`{"papers":[null, 1, "x", {"title": {"nested": true}}]}`,
		"{{{{",
		"}}}}{",
		"```",
		strings.Repeat("{", 1000),
		string([]byte{0xfe, 0xff, '{', '}'}),
		"Title:\x00\nYear: 99999999999999999999",
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, raw string) {
		res := Parse(raw)

		switch res.Tier {
		case TierJSON, TierFenced, TierBrace, TierRegex:
			if len(res.Candidates) == 0 {
				t.Fatalf("tier %s with no candidates", res.Tier)
			}
		case TierNone:
			if len(res.Candidates) != 0 {
				t.Fatalf("TierNone with %d candidates", len(res.Candidates))
			}
		default:
			t.Fatalf("unknown tier %q", res.Tier)
		}
	})
}
