// Package canonical normalizes feed and article URLs into the dedup key.
//
// Rules, applied in order:
//   - only absolute http and https URLs are accepted
//   - scheme and host are lower-cased, the default port is dropped
//   - the fragment and any user info are dropped
//   - tracking query parameters are dropped (utm_* and a fixed list of click ids)
//   - the remaining query parameters are sorted by key, values keep their order
//   - an empty path becomes "/"
package canonical

import (
	"fmt"
	"net"
	"net/url"
	"panda/models"
	"sort"
	"strings"

	"github.com/samber/lo"
)

var trackingParams = []string{
	"fbclid", "gclid", "dclid", "msclkid", "mc_cid", "mc_eid", "igshid", "yclid",
	"_hsenc", "_hsmi", "ref_src", "spm",
}

// Canonicalizer applies the URL rules with an optional list of extra parameters to strip
type Canonicalizer struct {
	strip map[string]struct{}
}

func New(extraParams ...string) *Canonicalizer {
	strip := make(map[string]struct{}, len(trackingParams)+len(extraParams))
	for _, p := range lo.Union(trackingParams, extraParams) {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			strip[p] = struct{}{}
		}
	}
	return &Canonicalizer{strip: strip}
}

var defaultCanonicalizer = New()

// URL canonicalizes raw with the default rule set
func URL(raw string) (string, error) {
	return defaultCanonicalizer.URL(raw)
}

func (c *Canonicalizer) tracking(key string) bool {
	key = strings.ToLower(key)
	if strings.HasPrefix(key, "utm_") {
		return true
	}
	_, ok := c.strip[key]
	return ok
}

func (c *Canonicalizer) URL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: url %q: %v", models.ErrInvalid, raw, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: url %q is not http(s)", models.ErrInvalid, raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: url %q has no host", models.ErrInvalid, raw)
	}

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		// IPv6 literal
		u.Host = "[" + host + "]"
	} else {
		u.Host = host
	}

	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
		u.RawPath = ""
	}
	u.RawQuery = c.query(u.RawQuery)
	u.ForceQuery = false

	return u.String(), nil
}

// query keeps parameter encoding as given and only filters and sorts the pairs
func (c *Canonicalizer) query(raw string) string {
	if raw == "" {
		return ""
	}

	type pair struct {
		key, raw string
	}
	var pairs []pair
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		rawKey, _, _ := strings.Cut(part, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			key = rawKey
		}
		if c.tracking(key) {
			continue
		}
		pairs = append(pairs, pair{key: key, raw: part})
	}

	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })
	return strings.Join(lo.Map(pairs, func(p pair, _ int) string { return p.raw }), "&")
}
