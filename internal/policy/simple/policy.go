// Package simple holds the link-following policy for recursive crawls.
package simple

import (
	"net/url"
	"strings"
)

// Policy restricts a crawl to http(s) links on the seed host. Subdomains are
// not followed.
type Policy struct {
	host string
}

// New creates a Policy scoped to seedURL's host.
func New(seedURL string) *Policy {
	p := &Policy{}
	if u, err := url.Parse(seedURL); err == nil {
		p.host = strings.ToLower(u.Hostname())
	}
	return p
}

// AllowFetch reports whether rawURL may be visited.
func (p Policy) AllowFetch(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return p.host != "" && strings.EqualFold(u.Hostname(), p.host)
}
