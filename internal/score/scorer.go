package score

import (
	"fmt"
	"unicode/utf8"

	"github.com/ppiankov/credence/internal/embed"
	"github.com/ppiankov/credence/internal/model"
)

const summaryAnswerChars = 500

// Fuse sets e.FinalScore from the weighted signals and records the formula
func (p Policy) Fuse(e *model.Evidence) float64 {
	w := p.Weights
	e.FinalScore = embed.Clamp01(w.Snippet*e.SnippetMatch + w.NLI*e.NLIConfidence + w.Domain*e.DomainWeight + w.Freshness*e.Freshness)
	e.Formula = fmt.Sprintf("clamp01(%.2f*snippet(%.3f) + %.2f*nli(%.3f) + %.2f*domain(%.3f) + %.2f*fresh(%.3f)) = %.3f",
		w.Snippet, e.SnippetMatch, w.NLI, e.NLIConfidence, w.Domain, e.DomainWeight, w.Freshness, e.Freshness, e.FinalScore)
	return e.FinalScore
}

// CitationScore is the base score of a citation under a policy with
// citation bases. Policies without them score 0.
func (p Policy) CitationScore(authoritative bool, snippet string) float64 {
	c := p.Citation
	if c == nil {
		return 0
	}
	quoted := utf8.RuneCountInString(snippet) > c.SnippetMin
	if authoritative {
		if quoted {
			return c.Authoritative + c.AuthoritativeSnippet
		}
		return c.Authoritative
	}
	if quoted {
		return c.Other + c.OtherSnippet
	}
	return c.Other
}

// ClaimScore aggregates evidence scores into one claim score. No evidence
// scores exactly 0.
func (p Policy) ClaimScore(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}

	var s float64
	switch p.Aggregate {
	case AggregateMean:
		for _, v := range scores {
			s += v
		}
		s /= float64(len(scores))
	default:
		for _, v := range scores {
			s = max(s, v)
		}
	}

	if r := p.Counts; r != nil {
		switch {
		case len(scores) == 1:
			s *= r.SingleCitationFactor
		case r.ManyCitations > 0 && len(scores) >= r.ManyCitations:
			s *= r.ManyCitationFactor
		}
	}
	return embed.Clamp01(s)
}

// Decide maps a score to its band
func (p Policy) Decide(s float64) model.Decision {
	switch {
	case s >= p.Bands.Verified:
		return model.DecisionVerified
	case s >= p.Bands.Probable:
		return model.DecisionProbable
	default:
		return model.DecisionReject
	}
}

// Adjust applies the authoritative citation count rules to an overall decision
func (p Policy) Adjust(d model.Decision, authoritative, total int) model.Decision {
	r := p.Counts
	if r == nil {
		return d
	}
	if d == model.DecisionProbable && total > 0 &&
		authoritative >= r.UpgradeMinAuthoritative &&
		float64(authoritative)/float64(total) >= r.UpgradeMinRatio {
		d = model.DecisionVerified
	}
	if d == model.DecisionVerified && authoritative < r.DowngradeMinAuthoritative {
		d = model.DecisionProbable
	}
	return d
}

// Overall builds the request verdict from the per-claim verdicts: the mean
// claim score, its band, then the count rules.
func (p Policy) Overall(answerText string, results []model.ClaimVerdict) model.OverallVerdict {
	summary := model.VerdictSummary{
		Policy:      p.Name,
		TotalClaims: len(results),
		AnswerText:  truncate(answerText, summaryAnswerChars),
	}

	var sum float64
	for _, r := range results {
		sum += r.BestScore
		summary.TotalCitations += len(r.Evidence)
		for _, e := range r.Evidence {
			if e.Authoritative {
				summary.AuthoritativeCitations++
			}
		}
	}

	var overall float64
	if len(results) > 0 {
		overall = sum / float64(len(results))
	}
	decision := p.Adjust(p.Decide(overall), summary.AuthoritativeCitations, summary.TotalCitations)

	if results == nil {
		results = []model.ClaimVerdict{}
	}
	return model.OverallVerdict{
		Decision: decision,
		Overall:  overall,
		Results:  results,
		Summary:  summary,
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
