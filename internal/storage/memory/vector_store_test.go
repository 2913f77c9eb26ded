package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ingest-progress/internal/ingest"
)

func TestVectorStoreAddChunks(t *testing.T) {
	t.Parallel()

	store := NewVectorStore()
	chunks := []ingest.Chunk{
		{ID: "c1", Content: "alpha", Embedding: []float32{1, 0}, Metadata: map[string]string{"k": "v"}},
		{ID: "c2", Content: "beta", Embedding: []float32{0, 1}},
	}
	require.NoError(t, store.AddChunks(context.Background(), "t1", chunks))
	require.NoError(t, store.AddChunks(context.Background(), "t2", chunks[:1]))
	require.Error(t, store.AddChunks(context.Background(), "", chunks))

	chunks[0].Embedding[0] = 9
	chunks[0].Metadata["k"] = "changed"

	got := store.Chunks("t1")
	require.Len(t, got, 2)
	require.Equal(t, float32(1), got[0].Embedding[0])
	require.Equal(t, "v", got[0].Metadata["k"])
	require.Equal(t, 3, store.Count())
	require.Empty(t, store.Chunks("missing"))
}
