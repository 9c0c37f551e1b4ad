package claims

import (
	"strings"

	"github.com/ppiankov/credence/internal/model"
)

const (
	minTokenLen   = 4
	minTokenRatio = 0.5
)

// Validate downgrades sourced claims whose significant tokens (longer than
// three characters) mostly do not appear in the cited document. Claims
// without a source are returned unchanged; they are already unverified.
func Validate(claims []model.Claim, docs []model.Document) []model.Claim {
	out := make([]model.Claim, len(claims))
	for i, c := range claims {
		out[i] = c
		if c.Source == nil {
			out[i].Verified = false
			continue
		}

		doc, ok := findDoc(c.Source, docs)
		if !ok {
			out[i].Verified = false
			continue
		}
		if ratio, ok := TokenOverlap(c.Text, doc.Content); ok && ratio < minTokenRatio {
			out[i].Verified = false
		}
	}
	return out
}

// TokenOverlap returns the share of significant claim tokens found in text.
// ok is false when the claim has no significant tokens.
func TokenOverlap(claim, text string) (ratio float64, ok bool) {
	var tokens []string
	for _, t := range strings.Fields(strings.ToLower(claim)) {
		t = strings.Trim(t, `.,;:!?"'()[]`)
		if len(t) >= minTokenLen {
			tokens = append(tokens, t)
		}
	}
	if len(tokens) == 0 {
		return 0, false
	}

	lower := strings.ToLower(text)
	hits := 0
	for _, t := range tokens {
		if strings.Contains(lower, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(tokens)), true
}

func findDoc(src *model.ClaimSource, docs []model.Document) (model.Document, bool) {
	for _, d := range docs {
		if src.URL != "" && d.SourceURL == src.URL {
			return d, true
		}
		if d.Title() == src.Title {
			return d, true
		}
	}
	return model.Document{}, false
}
