package ingest

import (
	"context"
	"io"
)

// Document is one loaded source with its extracted text.
type Document struct {
	Source   string
	Content  string
	Metadata map[string]string
}

// Chunk is a slice of a Document ready for storage.
type Chunk struct {
	ID        string
	TaskID    string
	Source    string
	Index     int
	Content   string
	Embedding []float32
	Metadata  map[string]string
}

// Loader fetches documents from the web.
type Loader interface {
	LoadPage(ctx context.Context, url string) (Document, error)
	LoadSitemap(ctx context.Context, sitemapURL string, filters []string) ([]Document, error)
	Crawl(ctx context.Context, baseURL string, maxDepth int) ([]Document, error)
}

// Embedder turns texts into vectors, one per input.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore persists embedded chunks.
type VectorStore interface {
	AddChunks(ctx context.Context, taskID string, chunks []Chunk) error
}

// BlobStore archives raw document text.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Hasher produces content digests used as archive keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}
