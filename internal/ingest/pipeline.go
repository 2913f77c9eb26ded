package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Pipeline failures.
var (
	ErrNoContent = errors.New("no content extracted from source")
	ErrNoChunks  = errors.New("no valid content after chunking")
	ErrEmbedding = errors.New("embedding generation failed")
)

// Pipeline milestones.
var (
	StepChunking       = Milestone{Step: "Chunking documents...", Percentage: 10}
	StepChunked        = Milestone{Step: "Chunking complete", Percentage: 30}
	StepEmbedding      = Milestone{Step: "Generating embeddings...", Percentage: 40}
	StepEmbedded       = Milestone{Step: "Embeddings generated", Percentage: 80}
	StepStoring        = Milestone{Step: "Storing in vector database...", Percentage: 90}
	StepPipelineFinish = Milestone{Step: "Complete", Percentage: 100}
)

// Pipeline runs chunk, embed, and store over loaded documents.
type Pipeline struct {
	splitter *Splitter
	embedder Embedder
	store    VectorStore
	logger   *zap.Logger
}

// NewPipeline wires the pipeline stages.
func NewPipeline(splitter *Splitter, embedder Embedder, store VectorStore, logger *zap.Logger) *Pipeline {
	if splitter == nil {
		splitter = NewSplitter(0, DefaultChunkOverlap)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{splitter: splitter, embedder: embedder, store: store, logger: logger}
}

// Ingest chunks docs, embeds the chunks, and stores them under taskID. It
// returns the number of chunks stored.
func (p *Pipeline) Ingest(ctx context.Context, r Reporter, taskID string, docs []Document) (int, error) {
	if len(docs) == 0 {
		return 0, ErrNoContent
	}

	Report(r, taskID, StepChunking, 0, len(docs))
	chunks := p.splitter.Split(docs)
	if len(chunks) == 0 {
		return 0, ErrNoChunks
	}
	n := len(chunks)
	Report(r, taskID, StepChunked, n, n)

	Report(r, taskID, StepEmbedding, 0, n)
	texts := make([]string, n)
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if len(vectors) != n {
		return 0, fmt.Errorf("%w: got %d vectors for %d chunks", ErrEmbedding, len(vectors), n)
	}
	Report(r, taskID, StepEmbedded, len(vectors), n)

	for i := range chunks {
		chunks[i].ID = uuid.NewString()
		chunks[i].TaskID = taskID
		chunks[i].Embedding = vectors[i]
	}

	Report(r, taskID, StepStoring, 0, n)
	if err := p.store.AddChunks(ctx, taskID, chunks); err != nil {
		return 0, fmt.Errorf("store chunks: %w", err)
	}
	Report(r, taskID, StepPipelineFinish, n, n)

	p.logger.Debug("chunks stored", zap.String("task_id", taskID), zap.Int("chunks", n))
	return n, nil
}
