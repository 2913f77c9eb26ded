package ingest

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/JakeFAU/ingest-progress/internal/task"
)

type recordingReporter struct {
	mu        sync.Mutex
	updates   []task.ProgressUpdate
	completed map[string]any
	failed    string
}

func (r *recordingReporter) UpdateProgress(_ string, u task.ProgressUpdate) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	return true
}

func (r *recordingReporter) CompleteTask(_ string, result map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = result
	return true
}

func (r *recordingReporter) FailTask(_ string, msg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = msg
	return true
}

func (r *recordingReporter) steps() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.updates))
	for i, u := range r.updates {
		out[i] = u.Step
	}
	return out
}

type memoryVectors struct {
	mu     sync.Mutex
	chunks []Chunk
	err    error
}

func (m *memoryVectors) AddChunks(_ context.Context, _ string, chunks []Chunk) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = append(m.chunks, chunks...)
	return nil
}

type fakeLoader struct {
	pages   map[string]string
	sitemap []Document
	crawl   []Document
	depth   int
}

func (f *fakeLoader) LoadPage(_ context.Context, url string) (Document, error) {
	body, ok := f.pages[url]
	if !ok {
		return Document{}, errors.New("404 " + url)
	}
	return Document{Source: url, Content: body}, nil
}

func (f *fakeLoader) LoadSitemap(context.Context, string, []string) ([]Document, error) {
	return f.sitemap, nil
}

func (f *fakeLoader) Crawl(_ context.Context, _ string, depth int) ([]Document, error) {
	f.depth = depth
	return f.crawl, nil
}

type brokenEmbedder struct{ short bool }

func (b brokenEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if b.short {
		return make([][]float32, len(texts)-1), nil
	}
	return nil, errors.New("model offline")
}

type fakeBlobs struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeBlobs) PutObject(_ context.Context, path, _ string, r io.Reader) (string, error) {
	if _, err := io.ReadAll(r); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, path)
	return "memory://" + path, nil
}
