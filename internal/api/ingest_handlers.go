package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/ingest-progress/internal/dispatcher"
	"github.com/JakeFAU/ingest-progress/internal/ingest"
)

const queueFullMessage = "work queue full, try again later"

type webpageRequest struct {
	URL string `json:"url"`
}

type webpagesRequest struct {
	URLs []string `json:"urls"`
}

type sitemapRequest struct {
	SitemapURL string   `json:"sitemap_url"`
	FilterURLs []string `json:"filter_urls"`
}

type recursiveRequest struct {
	BaseURL  string `json:"base_url"`
	MaxDepth *int   `json:"max_depth"`
}

type textDocument struct {
	Source   string            `json:"source"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type textRequest struct {
	Documents []textDocument `json:"documents"`
}

func (s *Server) ingestWebpage(w http.ResponseWriter, r *http.Request) {
	var req webpageRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.submit(w, ingest.Job{Kind: ingest.KindWebpage, URL: strings.TrimSpace(req.URL)},
		"Webpage ingestion started.", nil)
}

func (s *Server) ingestWebpages(w http.ResponseWriter, r *http.Request) {
	var req webpagesRequest
	if !s.decode(w, r, &req) {
		return
	}
	urls := make([]string, 0, len(req.URLs))
	for _, u := range req.URLs {
		urls = append(urls, strings.TrimSpace(u))
	}
	s.submit(w, ingest.Job{Kind: ingest.KindWebpages, URLs: urls},
		"Webpages ingestion started.", map[string]any{"urls_count": len(urls)})
}

func (s *Server) ingestSitemap(w http.ResponseWriter, r *http.Request) {
	var req sitemapRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.submit(w, ingest.Job{
		Kind:       ingest.KindSitemap,
		SitemapURL: strings.TrimSpace(req.SitemapURL),
		FilterURLs: req.FilterURLs,
	}, "Sitemap ingestion started.", nil)
}

func (s *Server) ingestRecursive(w http.ResponseWriter, r *http.Request) {
	var req recursiveRequest
	if !s.decode(w, r, &req) {
		return
	}
	depth := s.cfg.Ingest.MaxDepthDefault
	if depth <= 0 {
		depth = ingest.DefaultMaxDepth
	}
	if req.MaxDepth != nil {
		depth = *req.MaxDepth
	}
	s.submit(w, ingest.Job{
		Kind:     ingest.KindRecursive,
		BaseURL:  strings.TrimSpace(req.BaseURL),
		MaxDepth: depth,
	}, "Website crawling started.", nil)
}

func (s *Server) ingestText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decode(w, r, &req) {
		return
	}
	docs := make([]ingest.Document, 0, len(req.Documents))
	for i, d := range req.Documents {
		if strings.TrimSpace(d.Content) == "" {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("documents[%d].content must not be empty", i))
			return
		}
		source := d.Source
		if source == "" {
			source = fmt.Sprintf("document-%d", i+1)
		}
		meta := map[string]string{"source_type": "text"}
		for k, v := range d.Metadata {
			meta[k] = v
		}
		docs = append(docs, ingest.Document{Source: source, Content: d.Content, Metadata: meta})
	}
	s.submit(w, ingest.Job{Kind: ingest.KindText, Documents: docs},
		"Document ingestion started.", map[string]any{"documents_received": len(docs)})
}

// decode reads a JSON body into dst, answering 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// submit registers a task for job and queues it. A job the queue cannot take
// fails its task right away so observers never wait on it.
func (s *Server) submit(w http.ResponseWriter, job ingest.Job, message string, extra map[string]any) {
	if err := job.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t := s.tasks.CreateTask(job.Kind.TaskType())
	job.TaskID = t.ID
	if err := s.jobs.Submit(job); err != nil {
		if errors.Is(err, dispatcher.ErrBusy) {
			s.tasks.FailTask(t.ID, queueFullMessage)
			s.logger.Warn("ingestion rejected", zap.String("task_id", t.ID), zap.String("kind", string(job.Kind)))
			writeError(w, http.StatusServiceUnavailable, queueFullMessage)
			return
		}
		s.tasks.FailTask(t.ID, "failed to queue ingestion job")
		s.logger.Error("submit ingestion job", zap.String("task_id", t.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to queue ingestion job")
		return
	}

	s.logger.Info("ingestion task queued",
		zap.String("task_id", t.ID),
		zap.String("task_type", t.Type),
	)
	payload := map[string]any{
		"task_id":    t.ID,
		"status":     t.Status,
		"message":    fmt.Sprintf("%s Use /api/tasks/%s to check progress.", message, t.ID),
		"status_url": "/api/tasks/" + t.ID,
		"stream_url": "/api/tasks/" + t.ID + "/stream",
	}
	for k, v := range extra {
		payload[k] = v
	}
	writeJSON(w, http.StatusAccepted, payload)
}
