// Package authority classifies source URLs by how much their domain can be
// trusted for U.S. immigration facts.
package authority

import (
	"net/url"
	"strings"
)

// Tier is the reranker's view of a domain
type Tier int

const (
	TierOther Tier = iota
	TierTrusted
	TierGov
	TierNews
)

// String returns the tier name
func (t Tier) String() string {
	switch t {
	case TierTrusted:
		return "trusted"
	case TierGov:
		return "gov"
	case TierNews:
		return "news"
	default:
		return "other"
	}
}

// Classifier sorts URLs into tiers
type Classifier struct {
	trusted []string
	news    []string
}

// NewClassifier creates a classifier from the trusted allowlist and news denylist
func NewClassifier(trusted, news []string) *Classifier {
	return &Classifier{
		trusted: normalizeDomains(trusted),
		news:    normalizeDomains(news),
	}
}

// Classify returns the tier of rawURL. Trusted and news lists win over the
// generic .gov rule.
func (c *Classifier) Classify(rawURL string) Tier {
	host := Host(rawURL)
	if host == "" {
		return TierOther
	}

	if matchAny(host, c.trusted) != "" {
		return TierTrusted
	}
	if matchAny(host, c.news) != "" {
		return TierNews
	}
	if strings.HasSuffix(host, ".gov") {
		return TierGov
	}
	return TierOther
}

// Host returns the lowercased hostname of rawURL without port or "www.".
// Scheme-less inputs such as "uscis.gov/h-1b" are accepted.
func Host(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	host := strings.ToLower(parsed.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// matchAny returns the longest domain in list that host equals or is a
// subdomain of, or "".
func matchAny(host string, list []string) string {
	best := ""
	for _, domain := range list {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			if len(domain) > len(best) {
				best = domain
			}
		}
	}
	return best
}

func normalizeDomains(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "www.")
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}
