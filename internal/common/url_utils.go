package common

import (
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// trackingParams are query parameters stripped during canonicalization.
// Wildcard prefixes (utm_, mc_) are matched by prefix.
var trackingParams = map[string]bool{
	"fbclid":  true,
	"gclid":   true,
	"msclkid": true,
	"ref":     true,
	"source":  true,
}

var trackingPrefixes = []string{"utm_", "mc_"}

// CanonicalizeURL normalizes a URL for deduplication: lowercase scheme and
// host, trailing slash stripped, tracking parameters removed, remaining
// query keys sorted. Returns the input unchanged when it does not parse.
func CanonicalizeURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	// Strip tracking parameters
	q := u.Query()
	for key := range q {
		lower := strings.ToLower(key)
		if trackingParams[lower] {
			q.Del(key)
			continue
		}
		for _, prefix := range trackingPrefixes {
			if strings.HasPrefix(lower, prefix) {
				q.Del(key)
				break
			}
		}
	}

	// Rebuild query with sorted keys for stable output
	if len(q) == 0 {
		u.RawQuery = ""
	} else {
		keys := make([]string, 0, len(q))
		for key := range q {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		var parts []string
		for _, key := range keys {
			for _, val := range q[key] {
				parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(val))
			}
		}
		u.RawQuery = strings.Join(parts, "&")
	}

	u.Path = strings.TrimSuffix(u.Path, "/")

	return u.String()
}

// HostOf returns the lowercase host of a URL, empty when unparseable
func HostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// RootDomainOf returns the eTLD+1 of a URL host (e.g. "shop.example.co.uk"
// -> "example.co.uk"). Falls back to the host when the public suffix list
// cannot resolve it.
func RootDomainOf(rawURL string) string {
	host := HostOf(rawURL)
	if host == "" {
		return ""
	}
	root, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return root
}

// SameRootDomain reports whether two URLs share an eTLD+1
func SameRootDomain(a, b string) bool {
	ra := RootDomainOf(a)
	return ra != "" && ra == RootDomainOf(b)
}
