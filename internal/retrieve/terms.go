package retrieve

import (
	"strings"
	"unicode"
)

const maxKeywordTerms = 6

// stopwords are dropped from keyword fallback terms
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "do": true, "does": true, "did": true,
	"have": true, "has": true, "had": true, "be": true, "been": true,
	"will": true, "would": true, "could": true, "should": true, "can": true,
	"may": true, "might": true, "must": true, "not": true, "no": true,
	"and": true, "or": true, "but": true, "if": true, "than": true,
	"as": true, "at": true, "by": true, "for": true, "from": true,
	"in": true, "into": true, "of": true, "on": true, "to": true,
	"with": true, "about": true, "it": true, "its": true, "this": true,
	"that": true, "what": true, "which": true, "who": true, "how": true,
	"when": true, "where": true, "why": true, "you": true, "me": true,
	"i": true, "my": true, "your": true, "we": true, "they": true,
	"there": true, "any": true, "all": true, "some": true, "get": true,
	"need": true, "tell": true, "please": true,
}

// KeywordTerms returns up to six distinct lowercase non-stopword terms of
// query, in query order. Tokens keep letters, digits and hyphens so form
// names like "i-130" survive.
func KeywordTerms(query string) []string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})

	seen := make(map[string]bool)
	var terms []string
	for _, w := range words {
		w = strings.Trim(w, "-")
		if len(w) < 2 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
		if len(terms) == maxKeywordTerms {
			break
		}
	}
	return terms
}
