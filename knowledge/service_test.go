package knowledge

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"monthend_back/errdefs"
	"monthend_back/store"
)

// stubEmbedder returns a deterministic unit vector per input text.
type stubEmbedder struct {
	calls int
}

func (s *stubEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	s.calls++
	vectors := make([][]float32, len(inputs))
	for i, text := range inputs {
		vectors[i] = stubVector(text)
	}
	return vectors, nil
}

func stubVector(text string) []float32 {
	var sum uint32
	for _, b := range []byte(text) {
		sum = sum*31 + uint32(b)
	}
	angle := float64(sum%360) / 360 * 2 * math.Pi
	return []float32{float32(math.Cos(angle)), float32(math.Sin(angle))}
}

func newTestService(t *testing.T) (*Service, *stubEmbedder, *gorm.DB) {
	t.Helper()
	db, err := store.Open(store.Config{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	})
	require.NoError(t, err)

	embedder := &stubEmbedder{}
	svc, err := NewService(db, embedder, nil, "test-model")
	require.NoError(t, err)
	require.NoError(t, svc.AutoMigrate())
	return svc, embedder, db
}

func insertChunk(t *testing.T, svc *Service, db *gorm.DB, owner, document, text string, vector []float32) Chunk {
	t.Helper()
	chunk, err := svc.NewChunk(owner, document, "f.csv", 0, text, vector, nil)
	require.NoError(t, err)
	require.NoError(t, svc.InsertChunks(db, []Chunk{chunk}))
	return chunk
}

func TestInsertAndSearch(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()

	insertChunk(t, svc, db, "owner-a", "doc-1", "near", []float32{1, 0})
	insertChunk(t, svc, db, "owner-a", "doc-1", "far", []float32{0, 1})

	results, err := svc.Search(ctx, "owner-a", []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "near", results[0].Text)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Equal(t, "far", results[1].Text)
	assert.InDelta(t, 0.0, results[1].Score, 1e-9)
}

func TestSearchOwnerIsolation(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()

	insertChunk(t, svc, db, "owner-a", "doc-1", "mine", []float32{1, 0})
	insertChunk(t, svc, db, "owner-b", "doc-2", "theirs", []float32{1, 0})

	results, err := svc.Search(ctx, "owner-a", []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	for _, result := range results {
		assert.Equal(t, "owner-a", result.OwnerID)
	}

	count, err := svc.CountForOwner(ctx, "owner-b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSearchTopKValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Search(ctx, "owner-a", []float32{1, 0}, 0)
	assert.ErrorIs(t, err, errdefs.ErrInvalidInput)

	_, err = svc.Search(ctx, "owner-a", []float32{1, 0}, -3)
	assert.ErrorIs(t, err, errdefs.ErrInvalidInput)

	_, err = svc.Search(ctx, "owner-a", nil, 5)
	assert.ErrorIs(t, err, errdefs.ErrInvalidInput)

	_, err = svc.Search(ctx, " ", []float32{1, 0}, 5)
	assert.ErrorIs(t, err, errdefs.ErrInvalidInput)
}

func TestSearchTopKBeyondCountReturnsAll(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()

	insertChunk(t, svc, db, "owner-a", "doc-1", "only", []float32{1, 0})

	results, err := svc.Search(ctx, "owner-a", []float32{1, 0}, 50)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearchRecencyTieBreak(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()

	older, err := svc.NewChunk("owner-a", "doc-1", "f.csv", 0, "older", []float32{1, 0}, nil)
	require.NoError(t, err)
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	newer, err := svc.NewChunk("owner-a", "doc-1", "f.csv", 1, "newer", []float32{1, 0}, nil)
	require.NoError(t, err)
	newer.CreatedAt = time.Now().UTC()
	require.NoError(t, svc.InsertChunks(db, []Chunk{older, newer}))

	results, err := svc.Search(ctx, "owner-a", []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "newer", results[0].Text)
	assert.Equal(t, "older", results[1].Text)
}

func TestInsertDuplicateChunkID(t *testing.T) {
	svc, _, db := newTestService(t)

	chunk, err := svc.NewChunk("owner-a", "doc-1", "f.csv", 0, "text", []float32{1, 0}, nil)
	require.NoError(t, err)
	require.NoError(t, svc.InsertChunks(db, []Chunk{chunk}))

	clone := chunk
	clone.ID = 0
	err = svc.InsertChunks(db, []Chunk{clone})
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrDuplicateID)
}

func TestInsertRejectsRepeatedIDWithinBatch(t *testing.T) {
	svc, _, db := newTestService(t)

	chunk, err := svc.NewChunk("owner-a", "doc-1", "f.csv", 0, "text", []float32{1, 0}, nil)
	require.NoError(t, err)
	err = svc.InsertChunks(db, []Chunk{chunk, chunk})
	assert.ErrorIs(t, err, errdefs.ErrDuplicateID)
}

func TestDeleteForDocument(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()

	insertChunk(t, svc, db, "owner-a", "doc-1", "a", []float32{1, 0})
	insertChunk(t, svc, db, "owner-a", "doc-2", "b", []float32{1, 0})

	require.NoError(t, svc.DeleteForDocument(db, "doc-1"))

	count, err := svc.CountForOwner(ctx, "owner-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestEmbedTextsAlignment(t *testing.T) {
	svc, embedder, _ := newTestService(t)
	ctx := context.Background()

	texts := []string{"alpha", "beta", "gamma"}
	vectors, err := svc.EmbedTexts(ctx, texts)
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	for i, text := range texts {
		assert.Equal(t, stubVector(text), vectors[i])
	}
	assert.Equal(t, 1, embedder.calls)
}

func TestSearchTextRoundTrip(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()

	vectors, err := svc.EmbedTexts(ctx, []string{"row one text"})
	require.NoError(t, err)
	insertChunk(t, svc, db, "owner-a", "doc-1", "row one text", vectors[0])

	results, err := svc.SearchText(ctx, "owner-a", "row one text", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestNewChunkValidation(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.NewChunk("", "doc", "f.csv", 0, "t", []float32{1}, nil)
	assert.ErrorIs(t, err, errdefs.ErrInvalidInput)

	_, err = svc.NewChunk("owner", "", "f.csv", 0, "t", []float32{1}, nil)
	assert.ErrorIs(t, err, errdefs.ErrInvalidInput)

	_, err = svc.NewChunk("owner", "doc", "f.csv", 0, "t", nil, nil)
	assert.ErrorIs(t, err, errdefs.ErrInvalidInput)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{3, 4}, []float32{3, 4}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, cosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}
