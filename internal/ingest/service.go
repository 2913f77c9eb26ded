package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds parallel page loads for multi-URL jobs.
const DefaultConcurrency = 4

// ServiceConfig tunes a Service.
type ServiceConfig struct {
	// Concurrency caps parallel page loads within one job.
	Concurrency int
	// ArchivePrefix is the object path prefix for archived documents.
	ArchivePrefix string
}

// Service loads sources for a Job, archives the raw text, and hands the
// documents to the Pipeline.
type Service struct {
	cfg      ServiceConfig
	loader   Loader
	pipeline *Pipeline
	archive  BlobStore
	hasher   Hasher
	logger   *zap.Logger
}

// NewService wires a Service. archive and hasher may be nil to skip archiving.
func NewService(cfg ServiceConfig, loader Loader, pipeline *Pipeline, archive BlobStore, hasher Hasher, logger *zap.Logger) *Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "documents"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:      cfg,
		loader:   loader,
		pipeline: pipeline,
		archive:  archive,
		hasher:   hasher,
		logger:   logger,
	}
}

// Process runs job to completion and returns the task result. It reports
// progress but leaves the terminal transition to the caller (see Run).
func (s *Service) Process(ctx context.Context, r Reporter, job Job) (map[string]any, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	docs, result, err := s.load(ctx, r, job)
	if err != nil {
		return nil, err
	}
	if archived := s.archiveDocs(ctx, job.TaskID, docs); archived > 0 {
		result["documents_archived"] = archived
	}
	count, err := s.pipeline.Ingest(ctx, r, job.TaskID, docs)
	if err != nil {
		return nil, err
	}
	result["chunks_created"] = count
	return result, nil
}

func (s *Service) load(ctx context.Context, r Reporter, job Job) ([]Document, map[string]any, error) {
	id := job.TaskID
	switch job.Kind {
	case KindWebpage:
		Report(r, id, Milestone{"Loading webpage...", 10}, 0, 1)
		Report(r, id, Milestone{"Extracting content...", 20}, 0, 1)
		doc, err := s.requireLoader().LoadPage(ctx, job.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("load webpage: %w", err)
		}
		return nonEmpty([]Document{doc}), map[string]any{
			"message": "Webpage ingested successfully",
			"url":     job.URL,
		}, nil

	case KindWebpages:
		n := len(job.URLs)
		Report(r, id, Milestone{fmt.Sprintf("Loading %d webpages...", n), 10}, 0, n)
		docs, failed, err := s.loadPages(ctx, r, id, job.URLs)
		if err != nil {
			return nil, nil, err
		}
		result := map[string]any{
			"message":        "Webpages ingested successfully",
			"urls_processed": n,
		}
		if failed > 0 {
			result["urls_failed"] = failed
		}
		return docs, result, nil

	case KindSitemap:
		Report(r, id, Milestone{"Loading sitemap...", 10}, 0, 1)
		Report(r, id, Milestone{"Extracting pages from sitemap...", 20}, 0, 1)
		docs, err := s.requireLoader().LoadSitemap(ctx, job.SitemapURL, job.FilterURLs)
		if err != nil {
			return nil, nil, fmt.Errorf("load sitemap: %w", err)
		}
		return nonEmpty(docs), map[string]any{
			"message":     "Sitemap ingested successfully",
			"sitemap_url": job.SitemapURL,
		}, nil

	case KindRecursive:
		depth := job.MaxDepth
		if depth == 0 {
			depth = DefaultMaxDepth
		}
		Report(r, id, Milestone{fmt.Sprintf("Crawling website (depth: %d)...", depth), 10}, 0, 1)
		Report(r, id, Milestone{"Extracting content from pages...", 20}, 0, 1)
		docs, err := s.requireLoader().Crawl(ctx, job.BaseURL, depth)
		if err != nil {
			return nil, nil, fmt.Errorf("crawl website: %w", err)
		}
		return nonEmpty(docs), map[string]any{
			"message":   "Website crawled and ingested successfully",
			"base_url":  job.BaseURL,
			"max_depth": depth,
		}, nil

	case KindText:
		n := len(job.Documents)
		Report(r, id, Milestone{"Loading documents...", 5}, 0, n)
		Report(r, id, Milestone{"Extracting content from documents...", 15}, 0, n)
		return nonEmpty(job.Documents), map[string]any{
			"message":             "Documents ingested successfully",
			"documents_processed": n,
		}, nil
	}
	return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, job.Kind)
}

// loadPages fetches urls in parallel. Individual failures are logged and
// counted; the job only fails when nothing could be loaded.
func (s *Service) loadPages(ctx context.Context, r Reporter, taskID string, urls []string) ([]Document, int, error) {
	loader := s.requireLoader()
	docs := make([]Document, len(urls))
	errs := make([]error, len(urls))

	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, u := range urls {
		g.Go(func() error {
			doc, err := loader.LoadPage(gctx, u)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				s.logger.Warn("page load failed",
					zap.String("task_id", taskID),
					zap.String("url", u),
					zap.Error(err),
				)
				errs[i] = err
			} else {
				docs[i] = doc
			}
			mu.Lock()
			done++
			Report(r, taskID, Milestone{"Extracting content...", 20}, done, len(urls))
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, fmt.Errorf("load webpages: %w", err)
	}

	var failed int
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	out := nonEmpty(docs)
	if len(out) == 0 && failed > 0 {
		return nil, failed, fmt.Errorf("load webpages: %w", errors.Join(errs...))
	}
	return out, failed, nil
}

// archiveDocs writes each document's text to the blob store and returns how
// many were written. Archive failures never fail the job.
func (s *Service) archiveDocs(ctx context.Context, taskID string, docs []Document) int {
	if s.archive == nil || s.hasher == nil {
		return 0
	}
	var written int
	for _, doc := range docs {
		body := []byte(doc.Content)
		digest, err := s.hasher.Hash(body)
		if err != nil {
			s.logger.Warn("hash document failed", zap.String("task_id", taskID), zap.Error(err))
			continue
		}
		key := path.Join(s.cfg.ArchivePrefix, taskID, digest+".txt")
		uri, err := s.archive.PutObject(ctx, key, "text/plain; charset=utf-8", bytes.NewReader(body))
		if err != nil {
			s.logger.Warn("archive document failed",
				zap.String("task_id", taskID),
				zap.String("source", doc.Source),
				zap.Error(err),
			)
			continue
		}
		written++
		s.logger.Debug("document archived", zap.String("task_id", taskID), zap.String("uri", uri))
	}
	return written
}

func (s *Service) requireLoader() Loader {
	if s.loader == nil {
		return missingLoader{}
	}
	return s.loader
}

// nonEmpty drops documents with no text.
func nonEmpty(docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if strings.TrimSpace(d.Content) != "" {
			out = append(out, d)
		}
	}
	return out
}

var errNoLoader = errors.New("web loader not configured")

type missingLoader struct{}

func (missingLoader) LoadPage(context.Context, string) (Document, error) {
	return Document{}, errNoLoader
}

func (missingLoader) LoadSitemap(context.Context, string, []string) ([]Document, error) {
	return nil, errNoLoader
}

func (missingLoader) Crawl(context.Context, string, int) ([]Document, error) {
	return nil, errNoLoader
}
