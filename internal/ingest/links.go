package ingest

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var junkLink = regexp.MustCompile(`(\.jpg|\.jpeg|\.png|\.gif|\.svg|/login|/signup|/search|/subscribe)`)

// IsRootLike reports whether rawURL is a home page or a shallow path,
// the pages whose links are worth following
func IsRootLike(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.TrimSpace(u.Path)
	if path == "" || path == "/" {
		return true
	}
	return strings.Count(path, "/") <= 2
}

// DiscoverLinks filters links found on root down to same-host pages
// without query strings, skipping media and account pages. The result is
// sorted and holds at most limit entries.
func DiscoverLinks(root string, links []string, limit int) []string {
	base, err := url.Parse(root)
	if err != nil {
		return nil
	}
	host := strings.ToLower(base.Host)

	found := make(map[string]bool)
	for _, l := range links {
		u, err := url.Parse(l)
		if err != nil || !strings.HasPrefix(u.Scheme, "http") {
			continue
		}
		if strings.ToLower(u.Host) != host {
			continue
		}
		if junkLink.MatchString(strings.ToLower(l)) {
			continue
		}
		u.RawQuery = ""
		u.Fragment = ""
		clean := strings.TrimRight(u.String(), "/")
		if clean == strings.TrimRight(root, "/") {
			continue
		}
		found[clean] = true
	}

	out := make([]string, 0, len(found))
	for l := range found {
		out = append(out, l)
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
