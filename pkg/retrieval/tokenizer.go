package retrieval

import "strings"

// stopwords is a small English stopword list, enough to keep the naive
// Jaccard text-match from being dominated by function words (resolved
// in Open Question #2: a whitespace tokenizer plus stopword filter
// rather than a full NLP dependency with no grounding in the example
// pack).
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {},
	"with": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {},
	"this": {}, "that": {}, "it": {}, "as": {}, "by": {}, "from": {},
}

// tokenize lower-cases, strips punctuation, splits on whitespace, and
// drops stopwords and empty tokens.
func tokenize(text string) []string {
	lower := strings.ToLower(text)
	stripped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ', r == '\t', r == '\n':
			return r
		default:
			return ' '
		}
	}, lower)

	fields := strings.Fields(stripped)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}
