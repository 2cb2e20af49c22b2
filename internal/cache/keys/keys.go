// Package keys derives deterministic cache identities for outgoing requests
// and storage key names for tiers.
package keys

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Identity derives a request identity from method, target and body. The
// target is canonicalized (scheme/host lower-cased, fragment dropped, query
// parameters sorted) so equivalent URLs share an entry. A body contributes
// its xxhash, so two POSTs with the same payload are the same query.
func Identity(method, target string, body []byte) string {
	m := strings.ToUpper(strings.TrimSpace(method))
	if m == "" {
		m = "GET"
	}
	id := m + " " + canonicalURL(target)
	if len(body) > 0 {
		id += fmt.Sprintf(" body=%016x", xxhash.Sum64(body))
	}
	return id
}

// TierName builds a version-qualified tier name, e.g. "tile-cache-v1".
func TierName(base, version string) string {
	b := sanitize(strings.ToLower(strings.TrimSpace(base)))
	v := sanitize(strings.ToLower(strings.TrimSpace(version)))
	if v == "" {
		return b
	}
	return b + "-" + v
}

// TierKey is the backend key holding the entries of tier under namespace ns.
func TierKey(ns, tier string) string {
	return sanitize(ns) + ":tier:" + sanitize(tier)
}

// RegistryKey is the backend key listing the tiers stored under ns.
func RegistryKey(ns string) string {
	return sanitize(ns) + ":tiers"
}

// Short is a compact fixed-width label for an identity, safe for logs.
func Short(identity string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(identity))
}

func canonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery != "" {
		q := u.Query()
		ks := make([]string, 0, len(q))
		for k := range q {
			ks = append(ks, k)
		}
		sort.Strings(ks)
		var b strings.Builder
		for i, k := range ks {
			vs := q[k]
			sort.Strings(vs)
			for j, v := range vs {
				if i > 0 || j > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(k))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
		u.RawQuery = b.String()
	}
	return u.String()
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-' || r == '.':
			out = r
		default:
			// Any other rune (including non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
