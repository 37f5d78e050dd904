package retrieval

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// stopWords are dropped from queries and documents. The list covers the
// function words that dominate meeting transcripts.
var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		a about above after again all also am an and any are as at be because been
		before being below between both but by can could did do does doing down
		during each few for from further get got had has have having he her here
		hers him his how i if in into is it its just let me more most my no nor
		not now of off on once only or other our ours out over own same she so
		some such than that the their them then there these they this those
		through to too under until up us very was we were what when where which
		while who whom why will with would yeah you your yours okay ok um uh like
		meeting meetings`) {
		stopWords[w] = struct{}{}
	}
}

// Tokenize splits text into normalized terms: NFKC normalized, case folded,
// split on anything that is not a letter or digit, with stop words and
// single letters removed.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	folded := cases.Fold().String(norm.NFKC.String(text))
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	terms := fields[:0]
	for _, f := range fields {
		if _, stop := stopWords[f]; stop {
			continue
		}
		if len([]rune(f)) < 2 && !unicode.IsDigit([]rune(f)[0]) {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

// termCounts returns the frequency of each term in text.
func termCounts(text string) map[string]int {
	counts := make(map[string]int)
	for _, t := range Tokenize(text) {
		counts[t]++
	}
	return counts
}

// queryTerms returns the distinct terms of q in first-seen order.
func queryTerms(q string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range Tokenize(q) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
