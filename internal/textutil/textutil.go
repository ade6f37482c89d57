package textutil

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// normalizer bundles the transform chain and caser used by Fold. Both keep
// internal buffers between calls and must not be shared across goroutines, so
// instances are pooled instead of held in package-level variables.
type normalizer struct {
	// Decompose, strip combining marks, recompose. Makes "Résumé" match "resume".
	deaccent transform.Transformer
	folder   cases.Caser
}

var normalizers = sync.Pool{
	New: func() interface{} {
		return &normalizer{
			deaccent: transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
			folder:   cases.Fold(),
		}
	},
}

// Fold normalizes text for keyword matching: case folding plus diacritic removal.
func Fold(s string) string {
	n := normalizers.Get().(*normalizer)
	defer normalizers.Put(n)

	out, _, err := transform.String(n.deaccent, s)
	if err != nil {
		out = s
	}
	return n.folder.String(out)
}

// Truncate cuts text to at most max bytes while keeping it valid UTF-8.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	truncated := s[:max]
	for !utf8.ValidString(truncated) && len(truncated) > 0 {
		truncated = truncated[:len(truncated)-1]
	}
	return truncated
}

// Snippet produces a single-line preview of a message body.
func Snippet(body string, max int) string {
	return Truncate(strings.Join(strings.Fields(body), " "), max)
}
