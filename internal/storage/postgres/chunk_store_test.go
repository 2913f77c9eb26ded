package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ingest-progress/internal/ingest"
)

func TestAddChunksInsertsRowsInTransaction(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewChunkStoreWithPool(mock, "")
	require.NoError(t, err)

	chunks := []ingest.Chunk{
		{ID: "0190c6c8-0000-7000-8000-000000000001", Source: "https://example.com", Index: 0, Content: "alpha", Embedding: []float32{0.6, 0.8}, Metadata: map[string]string{"source_type": "web_page"}},
		{ID: "0190c6c8-0000-7000-8000-000000000002", Source: "https://example.com", Index: 1, Content: "beta", Embedding: []float32{1, 0}},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO document_chunks").
		WithArgs(chunks[0].ID, "a1b2c3d4", chunks[0].Source, 0, "alpha", []float32{0.6, 0.8}, []byte(`{"source_type":"web_page"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO document_chunks").
		WithArgs(chunks[1].ID, "a1b2c3d4", chunks[1].Source, 1, "beta", []float32{1, 0}, []byte(`{}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.AddChunks(context.Background(), "a1b2c3d4", chunks))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddChunksRollsBackOnError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewChunkStoreWithPool(mock, "chunks")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chunks").
		WillReturnError(errors.New("unique violation"))
	mock.ExpectRollback()

	err = store.AddChunks(context.Background(), "t", []ingest.Chunk{{ID: "x", Content: "c", Embedding: []float32{1}}})
	require.ErrorContains(t, err, "unique violation")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddChunksEmptyIsNoOp(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewChunkStoreWithPool(mock, "")
	require.NoError(t, err)
	require.NoError(t, store.AddChunks(context.Background(), "t", nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewChunkStoreWithPool(mock, "")
	require.NoError(t, err)
	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTableNameValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChunkStoreWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewChunkStoreWithPool(mock, "chunks; DROP TABLE x")
	require.Error(t, err)

	_, err = NewChunkStore(context.Background(), ChunkStoreConfig{})
	require.Error(t, err)
}
