package resourcecache

import (
	"net/url"
	"strings"
)

// Policy is the interception strategy applied to one class of request.
type Policy int

const (
	// CacheFirst serves stored entries without touching the network.
	CacheFirst Policy = iota
	// NetworkFirst always tries the network and falls back to the tier
	// only when the network is unreachable.
	NetworkFirst
	// StaleWhileRevalidate answers from the tier and refreshes it in the
	// background.
	StaleWhileRevalidate
)

func (p Policy) String() string {
	switch p {
	case CacheFirst:
		return "cache-first"
	case NetworkFirst:
		return "network-first"
	case StaleWhileRevalidate:
		return "stale-while-revalidate"
	}
	return "unknown"
}

// Tier base names; the cache appends its version, e.g. "tile-cache-v1".
const (
	TierAppShell = "app-shell-cache"
	TierAPI      = "api-cache"
	TierTile     = "tile-cache"
)

// SubdomainPlaceholder in a rule prefix matches the first label of the
// request host, so "https://{s}.tiles.example/" covers a.tiles.example,
// b.tiles.example and so on.
const SubdomainPlaceholder = "{s}"

var (
	DefaultTilePrefixes = []string{
		"https://{s}.basemaps.cartocdn.com/",
		"https://server.arcgisonline.com/",
	}
	DefaultAPIPrefixes = []string{
		"https://generativelanguage.googleapis.com/",
	}
)

// Rule routes requests whose URL starts with one of Prefixes to Tier.
type Rule struct {
	Tier     string
	Policy   Policy
	Prefixes []string
}

func (r Rule) Matches(u *url.URL) bool {
	if u == nil {
		return false
	}
	href := u.String()
	sub, _, _ := strings.Cut(u.Hostname(), ".")
	for _, p := range r.Prefixes {
		if strings.Contains(p, SubdomainPlaceholder) {
			if sub == "" {
				continue
			}
			p = strings.Replace(p, SubdomainPlaceholder, sub, 1)
		}
		if strings.HasPrefix(href, p) {
			return true
		}
	}
	return false
}

// DefaultRules returns the ordered rule set: tile imagery first, then the
// remote API. Anything unmatched falls through to the app-shell tier.
func DefaultRules(tilePrefixes, apiPrefixes []string) []Rule {
	if len(tilePrefixes) == 0 {
		tilePrefixes = DefaultTilePrefixes
	}
	if len(apiPrefixes) == 0 {
		apiPrefixes = DefaultAPIPrefixes
	}
	return []Rule{
		{Tier: TierTile, Policy: CacheFirst, Prefixes: tilePrefixes},
		{Tier: TierAPI, Policy: NetworkFirst, Prefixes: apiPrefixes},
	}
}
