// Package blocklist refuses hosts the operator never wants ingested.
package blocklist

import (
	"net/url"
	"slices"
	"strings"
)

// Blocklist matches exact hosts and "*.suffix" or ".suffix" wildcards. A
// wildcard also matches the bare suffix. The nil Blocklist blocks nothing.
type Blocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

// New builds a Blocklist from patterns. It returns nil when no pattern is
// usable.
func New(patterns []string) *Blocklist {
	b := &Blocklist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			b.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			b.addSuffix(strings.TrimPrefix(value, "."))
		default:
			b.exact[value] = struct{}{}
		}
	}
	if len(b.exact) == 0 && len(b.suffixes) == 0 {
		return nil
	}
	return b
}

func (b *Blocklist) addSuffix(suffix string) {
	if suffix != "" && !slices.Contains(b.suffixes, suffix) {
		b.suffixes = append(b.suffixes, suffix)
	}
}

// HostBlocked reports whether host matches an entry.
func (b *Blocklist) HostBlocked(host string) bool {
	if b == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, ok := b.exact[host]; ok {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// Blocked reports whether rawURL points at a blocked host. Unparseable URLs
// are not blocked here; the fetch rejects them.
func (b *Blocklist) Blocked(rawURL string) bool {
	if b == nil {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return b.HostBlocked(u.Hostname())
}
