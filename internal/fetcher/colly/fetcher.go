// Package collyfetcher loads web documents for ingestion using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/ingest-progress/internal/ingest"
	"github.com/JakeFAU/ingest-progress/internal/metrics"
	"github.com/JakeFAU/ingest-progress/internal/policy/simple"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultMaxPages    = 200
	defaultConcurrency = 4
)

// ErrBlocked is returned for URLs on a blocked host.
var ErrBlocked = errors.New("host is blocked")

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// MaxPages caps the documents returned by LoadSitemap and Crawl.
	MaxPages int
	// Concurrency bounds parallel page loads for sitemaps.
	Concurrency int
}

// Limiter throttles requests per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Renderer returns the HTML of a page after JavaScript has run.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// Detector decides whether a fetched page needs a headless render.
type Detector interface {
	ShouldRender(status int, body []byte, text string) bool
}

// HostFilter rejects URLs that must never be fetched.
type HostFilter interface {
	Blocked(rawURL string) bool
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithLimiter throttles every request through l.
func WithLimiter(l Limiter) Option {
	return func(f *Fetcher) {
		f.limiter = l
	}
}

// WithRenderer enables headless re-rendering of pages d flags.
func WithRenderer(r Renderer, d Detector) Option {
	return func(f *Fetcher) {
		f.renderer = r
		f.detector = d
	}
}

// WithBlocklist skips every URL b rejects.
func WithBlocklist(b HostFilter) Option {
	return func(f *Fetcher) {
		f.blocklist = b
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// Fetcher implements ingest.Loader using Colly collectors.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
	limiter   Limiter
	renderer  Renderer
	detector  Detector
	blocklist HostFilter
	logger    *zap.Logger
}

var _ ingest.Loader = (*Fetcher)(nil)

// New builds a Fetcher.
func New(cfg Config, opts ...Option) *Fetcher {
	metrics.Init()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	f := &Fetcher{
		cfg:       cfg,
		transport: newHTTPTransport(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type page struct {
	url         string
	status      int
	contentType string
	body        []byte
}

// LoadPage fetches one page and extracts its text.
func (f *Fetcher) LoadPage(ctx context.Context, rawURL string) (ingest.Document, error) {
	p, err := f.fetch(ctx, rawURL)
	if err != nil {
		return ingest.Document{}, err
	}
	return f.document(ctx, p, "web_page")
}

// LoadSitemap reads a sitemap (or sitemap index) and loads every listed page
// matching one of filters. Filters are regular expressions anchored at the
// start of the URL; an empty list keeps everything. Pages that fail to load
// are skipped.
func (f *Fetcher) LoadSitemap(ctx context.Context, sitemapURL string, filters []string) ([]ingest.Document, error) {
	keep, err := compileFilters(filters)
	if err != nil {
		return nil, err
	}
	locs, err := f.sitemapLocations(ctx, sitemapURL, 0)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(locs))
	urls := make([]string, 0, len(locs))
	for _, loc := range locs {
		if _, dup := seen[loc]; dup || !keep(loc) {
			continue
		}
		seen[loc] = struct{}{}
		urls = append(urls, loc)
		if len(urls) == f.cfg.MaxPages {
			break
		}
	}
	f.logger.Debug("sitemap resolved",
		zap.String("sitemap", sitemapURL),
		zap.Int("listed", len(locs)),
		zap.Int("selected", len(urls)),
	)
	return f.loadAll(ctx, urls, "sitemap")
}

// Crawl follows same-host links from baseURL up to maxDepth levels, where the
// base page is level 1.
func (f *Fetcher) Crawl(ctx context.Context, baseURL string, maxDepth int) ([]ingest.Document, error) {
	if maxDepth < 1 {
		maxDepth = 1
	}
	if f.blocked(baseURL) {
		return nil, fmt.Errorf("crawl %s: %w", baseURL, ErrBlocked)
	}
	scope := simple.New(baseURL)
	collector := f.collector(ctx, false)
	collector.MaxDepth = maxDepth

	var (
		mu       sync.Mutex
		pages    []page
		requests int
		rootErr  error
	)
	collector.OnRequest(func(r *colly.Request) {
		mu.Lock()
		over := requests >= f.cfg.MaxPages
		if !over {
			requests++
		}
		mu.Unlock()
		if over {
			r.Abort()
			return
		}
		if err := f.wait(ctx, r.URL.String()); err != nil {
			r.Abort()
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		metrics.ObserveFetch(r.Request.URL.String(), strconv.Itoa(r.StatusCode), len(r.Body))
		if !isHTML(r.Headers.Get("Content-Type")) {
			return
		}
		mu.Lock()
		pages = append(pages, page{
			url:         r.Request.URL.String(),
			status:      r.StatusCode,
			contentType: r.Headers.Get("Content-Type"),
			body:        append([]byte(nil), r.Body...),
		})
		mu.Unlock()
	})
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if i := strings.IndexByte(link, '#'); i >= 0 {
			link = link[:i]
		}
		if link == "" || !scope.AllowFetch(link) || f.blocked(link) {
			return
		}
		// Revisits and depth overruns are expected; colly reports them as errors.
		_ = e.Request.Visit(link)
	})
	collector.OnError(func(r *colly.Response, err error) {
		target := ""
		if r != nil && r.Request != nil {
			target = r.Request.URL.String()
			metrics.ObserveFetch(target, strconv.Itoa(r.StatusCode), 0)
			if r.Request.Depth <= 1 {
				mu.Lock()
				rootErr = err
				mu.Unlock()
			}
		}
		f.logger.Warn("crawl page failed", zap.String("url", target), zap.Error(err))
	})

	if err := run(ctx, collector, baseURL); err != nil {
		return nil, err
	}
	mu.Lock()
	defer mu.Unlock()
	if rootErr != nil {
		return nil, fmt.Errorf("crawl %s: %w", baseURL, rootErr)
	}

	docs := make([]ingest.Document, 0, len(pages))
	for _, p := range pages {
		doc, err := f.document(ctx, p, "recursive")
		if err != nil {
			f.logger.Warn("extract failed", zap.String("url", p.url), zap.Error(err))
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (f *Fetcher) loadAll(ctx context.Context, urls []string, sourceType string) ([]ingest.Document, error) {
	results := make([]*ingest.Document, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)
	for i, u := range urls {
		g.Go(func() error {
			p, err := f.fetch(gctx, u)
			if err == nil {
				var doc ingest.Document
				doc, err = f.document(gctx, p, sourceType)
				if err == nil {
					results[i] = &doc
					return nil
				}
			}
			if ctxErr := gctx.Err(); ctxErr != nil {
				return ctxErr
			}
			f.logger.Warn("page load failed", zap.String("url", u), zap.Error(err))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load pages: %w", err)
	}
	docs := make([]ingest.Document, 0, len(urls))
	for _, doc := range results {
		if doc != nil {
			docs = append(docs, *doc)
		}
	}
	return docs, nil
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) (page, error) {
	if f.blocked(rawURL) {
		return page{}, fmt.Errorf("fetch %s: %w", rawURL, ErrBlocked)
	}
	if err := f.wait(ctx, rawURL); err != nil {
		return page{}, err
	}
	collector := f.collector(ctx, true)

	var (
		result   page
		status   int
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		result = page{
			url:         r.Request.URL.String(),
			status:      r.StatusCode,
			contentType: r.Headers.Get("Content-Type"),
			body:        append([]byte(nil), r.Body...),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	runErr := run(ctx, collector, rawURL)
	if runErr != nil && (ctx.Err() != nil || fetchErr == nil) {
		metrics.ObserveFetch(rawURL, "error", 0)
		return page{}, runErr
	}
	if fetchErr != nil {
		metrics.ObserveFetch(rawURL, statusLabel(status), 0)
		return page{}, fmt.Errorf("fetch %s: %w", rawURL, fetchErr)
	}
	metrics.ObserveFetch(rawURL, strconv.Itoa(result.status), len(result.body))
	return result, nil
}

// document extracts text from p, re-rendering it headlessly when the detector
// judges the static HTML incomplete. Render failures keep the static text.
func (f *Fetcher) document(ctx context.Context, p page, sourceType string) (ingest.Document, error) {
	title, text, err := ExtractText(p.body)
	if err != nil {
		return ingest.Document{}, fmt.Errorf("extract %s: %w", p.url, err)
	}
	rendered := false
	if f.renderer != nil && f.detector != nil && f.detector.ShouldRender(p.status, p.body, text) {
		html, renderErr := f.renderer.Render(ctx, p.url)
		switch {
		case renderErr != nil:
			metrics.ObserveHeadlessRender("error")
			f.logger.Warn("headless render failed", zap.String("url", p.url), zap.Error(renderErr))
		default:
			metrics.ObserveHeadlessRender("ok")
			if rTitle, rText, err := ExtractText([]byte(html)); err == nil && len(rText) > len(text) {
				if rTitle != "" {
					title = rTitle
				}
				text = rText
				rendered = true
			}
		}
	}
	return ingest.Document{
		Source:  p.url,
		Content: text,
		Metadata: map[string]string{
			"source_type":    sourceType,
			"title":          title,
			"content_type":   p.contentType,
			"content_length": strconv.Itoa(len(text)),
			"rendered":       strconv.FormatBool(rendered),
			"ingested_at":    time.Now().UTC().Format(time.RFC3339),
		},
	}, nil
}

func (f *Fetcher) blocked(rawURL string) bool {
	return f.blocklist != nil && f.blocklist.Blocked(rawURL)
}

func (f *Fetcher) wait(ctx context.Context, rawURL string) error {
	if f.limiter == nil {
		return nil
	}
	return f.limiter.Wait(ctx, rawURL)
}

// collector builds a fresh collector per call so visited-URL state never
// leaks between jobs.
func (f *Fetcher) collector(ctx context.Context, allowRevisit bool) *colly.Collector {
	c := colly.NewCollector(colly.Async(false), colly.StdlibContext(ctx))
	if f.cfg.UserAgent != "" {
		c.UserAgent = f.cfg.UserAgent
	}
	c.IgnoreRobotsTxt = !f.cfg.RespectRobots
	c.AllowURLRevisit = allowRevisit
	c.SetRequestTimeout(f.cfg.Timeout)
	c.WithTransport(f.transport)
	return c
}

func run(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func statusLabel(status int) string {
	if status == 0 {
		return "error"
	}
	return strconv.Itoa(status)
}

func isHTML(contentType string) bool {
	return contentType == "" || strings.Contains(strings.ToLower(contentType), "html")
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
