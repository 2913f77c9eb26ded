package memory

import (
	"context"
	"errors"
	"maps"
	"sync"

	"github.com/JakeFAU/ingest-progress/internal/ingest"
)

// VectorStore keeps embedded chunks grouped by task.
type VectorStore struct {
	mu     sync.RWMutex
	chunks map[string][]ingest.Chunk
}

// NewVectorStore constructs an empty VectorStore.
func NewVectorStore() *VectorStore {
	return &VectorStore{chunks: make(map[string][]ingest.Chunk)}
}

// AddChunks appends copies of chunks under taskID.
func (s *VectorStore) AddChunks(_ context.Context, taskID string, chunks []ingest.Chunk) error {
	if taskID == "" {
		return errors.New("task id is required")
	}
	copied := make([]ingest.Chunk, len(chunks))
	for i, c := range chunks {
		c.Embedding = append([]float32(nil), c.Embedding...)
		c.Metadata = maps.Clone(c.Metadata)
		copied[i] = c
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[taskID] = append(s.chunks[taskID], copied...)
	return nil
}

// Chunks returns the chunks stored for taskID.
func (s *VectorStore) Chunks(taskID string) []ingest.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ingest.Chunk(nil), s.chunks[taskID]...)
}

// Count returns the total number of stored chunks.
func (s *VectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	for _, c := range s.chunks {
		n += len(c)
	}
	return n
}
