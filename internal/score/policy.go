// Package score holds the evidence fusion policies. Both verification modes
// share one decision path; only the numbers differ.
package score

import "strings"

// Weights are the linear fusion weights of the evidence signals
type Weights struct {
	Snippet   float64 `json:"snippet"`
	NLI       float64 `json:"nli"`
	Domain    float64 `json:"domain"`
	Freshness float64 `json:"freshness"`
}

// Bands map a score to a decision
type Bands struct {
	Verified float64 `json:"verified"`
	Probable float64 `json:"probable"`
}

// Aggregate says how evidence scores become a claim score
type Aggregate string

const (
	// AggregateMax keeps the strongest citation
	AggregateMax Aggregate = "max"
	// AggregateMean averages citations
	AggregateMean Aggregate = "mean"
)

// CitationBase scores a citation from its domain and quote alone
type CitationBase struct {
	Authoritative        float64 `json:"authoritative"`
	AuthoritativeSnippet float64 `json:"authoritative_snippet_bonus"`
	Other                float64 `json:"other"`
	OtherSnippet         float64 `json:"other_snippet_bonus"`
	// SnippetMin is the quote length, in characters, a citation must exceed
	// to earn either bonus
	SnippetMin int `json:"snippet_min"`
}

// CountRules adjust scores and decisions by citation counts
type CountRules struct {
	SingleCitationFactor float64 `json:"single_citation_factor"`
	ManyCitations        int     `json:"many_citations"`
	ManyCitationFactor   float64 `json:"many_citation_factor"`

	// UpgradeMinAuthoritative and UpgradeMinRatio lift an overall
	// probable to verified
	UpgradeMinAuthoritative int     `json:"upgrade_min_authoritative"`
	UpgradeMinRatio         float64 `json:"upgrade_min_ratio"`

	// DowngradeMinAuthoritative is the authoritative citation count an
	// overall verified needs to stand
	DowngradeMinAuthoritative int `json:"downgrade_min_authoritative"`
}

// Policy is a complete fusion configuration
type Policy struct {
	Name      string        `json:"name"`
	Weights   Weights       `json:"weights"`
	Bands     Bands         `json:"bands"`
	Aggregate Aggregate     `json:"aggregate"`
	Citation  *CitationBase `json:"citation,omitempty"`
	Counts    *CountRules   `json:"counts,omitempty"`
}

const (
	NameFull   = "full"
	NameBypass = "bypass"
)

// Full re-derives every signal from the cited pages
var Full = Policy{
	Name:      NameFull,
	Weights:   Weights{Snippet: 0.35, NLI: 0.40, Domain: 0.20, Freshness: 0.05},
	Bands:     Bands{Verified: 0.85, Probable: 0.60},
	Aggregate: AggregateMax,
}

// Bypass scores citations from domain trust and quote presence without
// any network I/O
var Bypass = Policy{
	Name:      NameBypass,
	Bands:     Bands{Verified: 0.85, Probable: 0.60},
	Aggregate: AggregateMean,
	Citation: &CitationBase{
		Authoritative:        0.7,
		AuthoritativeSnippet: 0.3,
		Other:                0.3,
		OtherSnippet:         0.2,
		SnippetMin:           20,
	},
	Counts: &CountRules{
		SingleCitationFactor:      0.8,
		ManyCitations:             3,
		ManyCitationFactor:        1.1,
		UpgradeMinAuthoritative:   3,
		UpgradeMinRatio:           0.7,
		DowngradeMinAuthoritative: 2,
	},
}

// ByName returns the policy called name; "" selects Full
func ByName(name string) (Policy, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameFull:
		return Full, true
	case NameBypass:
		return Bypass, true
	}
	return Policy{}, false
}
