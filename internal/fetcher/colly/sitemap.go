package collyfetcher

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"
)

// maxSitemapNesting bounds how deep sitemap indexes may point at other indexes.
const maxSitemapNesting = 3

func (f *Fetcher) sitemapLocations(ctx context.Context, sitemapURL string, depth int) ([]string, error) {
	p, err := f.fetch(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}
	pages, nested, err := parseSitemap(p.body)
	if err != nil {
		return nil, fmt.Errorf("sitemap %s: %w", sitemapURL, err)
	}
	if depth >= maxSitemapNesting {
		return pages, nil
	}
	for _, child := range nested {
		locs, err := f.sitemapLocations(ctx, child, depth+1)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("sitemap %s: %w", sitemapURL, ctx.Err())
			}
			f.logger.Warn("nested sitemap failed", zap.String("sitemap", child), zap.Error(err))
			continue
		}
		pages = append(pages, locs...)
	}
	return pages, nil
}

// parseSitemap returns page locations from a urlset and child sitemap
// locations from a sitemapindex.
func parseSitemap(body []byte) ([]string, []string, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("parse xml: %w", err)
	}
	pages := locations(doc, "//urlset/url/loc")
	nested := locations(doc, "//sitemapindex/sitemap/loc")
	if len(pages) == 0 && len(nested) == 0 && xmlquery.FindOne(doc, "//urlset|//sitemapindex") == nil {
		return nil, nil, fmt.Errorf("not a sitemap document")
	}
	return pages, nested, nil
}

func locations(doc *xmlquery.Node, expr string) []string {
	nodes := xmlquery.Find(doc, expr)
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if loc := strings.TrimSpace(n.InnerText()); loc != "" {
			out = append(out, loc)
		}
	}
	return out
}

// compileFilters turns filter patterns into a predicate. Each pattern must
// match at the start of the URL.
func compileFilters(filters []string) (func(string) bool, error) {
	patterns := make([]*regexp.Regexp, 0, len(filters))
	for _, raw := range filters {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		re, err := regexp.Compile("^(?:" + raw + ")")
		if err != nil {
			return nil, fmt.Errorf("invalid filter %q: %w", raw, err)
		}
		patterns = append(patterns, re)
	}
	return func(u string) bool {
		if len(patterns) == 0 {
			return true
		}
		for _, re := range patterns {
			if re.MatchString(u) {
				return true
			}
		}
		return false
	}, nil
}
