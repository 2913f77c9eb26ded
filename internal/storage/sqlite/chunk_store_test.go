package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ingest-progress/internal/ingest"
)

func TestAddChunksRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := Open(ctx, MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	chunks := []ingest.Chunk{
		{ID: "c1", Source: "https://example.com", Index: 0, Content: "alpha", Embedding: []float32{0.6, 0.8}, Metadata: map[string]string{"source_type": "web_page"}},
		{ID: "c2", Source: "https://example.com", Index: 1, Content: "beta", Embedding: []float32{1, 0}},
	}
	require.NoError(t, store.AddChunks(ctx, "a1b2c3d4", chunks))
	require.NoError(t, store.AddChunks(ctx, "ffff0000", nil))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	got, err := store.Chunks(ctx, "a1b2c3d4")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "alpha", got[0].Content)
	require.Equal(t, []float32{0.6, 0.8}, got[0].Embedding)
	require.Equal(t, "web_page", got[0].Metadata["source_type"])
	require.Equal(t, map[string]string{}, got[1].Metadata)
	require.Equal(t, "a1b2c3d4", got[1].TaskID)
}

func TestAddChunksRollsBackOnDuplicate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := Open(ctx, MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	err = store.AddChunks(ctx, "t", []ingest.Chunk{
		{ID: "dup", Content: "one", Embedding: []float32{1}},
		{ID: "dup", Index: 1, Content: "two", Embedding: []float32{1}},
	})
	require.ErrorContains(t, err, "insert chunk 1")

	n, err := store.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestOpenFileCreatesDirectory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "chunks.db")

	store, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.AddChunks(ctx, "t", []ingest.Chunk{{ID: "x", Content: "c", Embedding: []float32{1}}}))
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "")
	require.Error(t, err)
}
