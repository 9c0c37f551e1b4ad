package credcheck

import (
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"github.com/ppiankov/credence/internal/retrieve"
)

// maxFuzzyChars bounds how many characters of page text fuzzy matching scans
const maxFuzzyChars = 60_000

// normalize lowercases s and collapses whitespace runs to one space
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ContainsExact reports whether needle occurs in text ignoring case and
// whitespace differences
func ContainsExact(text, needle string) bool {
	n := normalize(needle)
	if n == "" {
		return false
	}
	return strings.Contains(normalize(text), n)
}

// FuzzyMatch returns the best Sørensen–Dice bigram similarity between needle
// and any run of consecutive page sentences at least as long as needle.
func FuzzyMatch(text, needle string) float64 {
	needle = normalize(needle)
	if needle == "" || strings.TrimSpace(text) == "" {
		return 0
	}
	text = retrieve.Truncate(text, maxFuzzyChars)

	dice := metrics.NewSorensenDice()
	dice.CaseSensitive = false
	dice.NgramSize = 2

	sentences := splitSentences(normalize(text))
	best := 0.0
	for i := range sentences {
		window := sentences[i]
		best = max(best, strutil.Similarity(needle, window, dice))
		for j := i + 1; j < len(sentences) && len(window) < len(needle); j++ {
			window += " " + sentences[j]
			best = max(best, strutil.Similarity(needle, window, dice))
		}
		if best == 1 {
			break
		}
	}
	return best
}

// splitSentences splits text on sentence terminators followed by a space
func splitSentences(text string) []string {
	var (
		sentences []string
		current   strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	for i, r := range text {
		current.WriteRune(r)
		if (r == '.' || r == '!' || r == '?' || r == ';') && i+1 < len(text) && text[i+1] == ' ' {
			flush()
		}
	}
	flush()
	return sentences
}
