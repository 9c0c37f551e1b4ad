package authority

import "github.com/ppiankov/credence/internal/model"

// Weights assigns the per-domain trust weight used by credibility scoring
type Weights struct {
	table           map[string]float64
	domains         []string
	allowlist       []string
	allowlistWeight float64
	defaultWeight   float64
}

// NewWeights builds the weight table from verifier configuration
func NewWeights(cfg model.VerifyConfig) *Weights {
	w := &Weights{
		table:           make(map[string]float64, len(cfg.DomainWeights)),
		allowlist:       normalizeDomains(cfg.AuthoritativeDomains),
		allowlistWeight: cfg.AllowlistWeight,
		defaultWeight:   cfg.DefaultWeight,
	}
	for domain, weight := range cfg.DomainWeights {
		d := normalizeDomains([]string{domain})
		if len(d) == 0 {
			continue
		}
		w.table[d[0]] = weight
		w.domains = append(w.domains, d[0])
	}
	return w
}

// Weight returns the exact table weight for the most specific matching
// domain, the allowlist weight for other authoritative domains, and the
// default weight for everything else.
func (w *Weights) Weight(rawURL string) float64 {
	host := Host(rawURL)
	if host == "" {
		return w.defaultWeight
	}
	if domain := matchAny(host, w.domains); domain != "" {
		return w.table[domain]
	}
	if matchAny(host, w.allowlist) != "" {
		return w.allowlistWeight
	}
	return w.defaultWeight
}

// IsAuthoritative reports whether rawURL is on the authoritative allowlist
// or in the weight table
func (w *Weights) IsAuthoritative(rawURL string) bool {
	host := Host(rawURL)
	if host == "" {
		return false
	}
	return matchAny(host, w.allowlist) != "" || matchAny(host, w.domains) != ""
}
