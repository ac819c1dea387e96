package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"monthend_back/errdefs"
)

// Service stores row chunks with their embeddings and answers similarity
// queries over them. Retrieval is an exact cosine scan over the caller's own
// chunks; owners never see each other's data.
type Service struct {
	db       *gorm.DB
	embedder Embedder
	cache    *embeddingCache
}

// NewService wires the chunk store. The Redis client is optional and only
// enables the embedding cache; model names the embedding model for cache
// keying.
func NewService(db *gorm.DB, embedder Embedder, redisClient *redis.Client, model string) (*Service, error) {
	if db == nil {
		return nil, errors.New("knowledge: db handle is required")
	}
	if embedder == nil {
		return nil, errors.New("knowledge: embedder is required")
	}
	return &Service{
		db:       db,
		embedder: embedder,
		cache:    newEmbeddingCache(redisClient, model),
	}, nil
}

func (s *Service) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Chunk{}); err != nil {
		return fmt.Errorf("knowledge: migrate chunks: %w", err)
	}
	return nil
}

// EmbedTexts embeds the given texts in order, serving repeats from the cache
// when one is configured. Re-embedding the same text is idempotent either way.
func (s *Service) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	missing := make([]int, 0, len(texts))
	for i, text := range texts {
		if vector, ok := s.cache.get(ctx, text); ok {
			vectors[i] = vector
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return vectors, nil
	}

	batch := make([]string, len(missing))
	for i, idx := range missing {
		batch[i] = texts[idx]
	}
	fresh, err := s.embedder.Embed(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missing) {
		return nil, fmt.Errorf("knowledge: embedded %d of %d texts: %w",
			len(fresh), len(missing), errdefs.ErrEmbeddingService)
	}
	for i, idx := range missing {
		vectors[idx] = fresh[i]
		s.cache.store(ctx, texts[idx], fresh[i])
	}
	return vectors, nil
}

// NewChunk builds a chunk record ready for insert. The chunk id is generated
// here so callers never collide on ids they did not choose.
func (s *Service) NewChunk(ownerID, documentID, filename string, rowIndex int, text string, vector []float32, tags map[string]string) (Chunk, error) {
	if strings.TrimSpace(ownerID) == "" {
		return Chunk{}, fmt.Errorf("knowledge: owner id is required: %w", errdefs.ErrInvalidInput)
	}
	if strings.TrimSpace(documentID) == "" {
		return Chunk{}, fmt.Errorf("knowledge: document id is required: %w", errdefs.ErrInvalidInput)
	}
	if len(vector) == 0 {
		return Chunk{}, fmt.Errorf("knowledge: embedding vector is required: %w", errdefs.ErrInvalidInput)
	}

	embedding, err := json.Marshal(vector)
	if err != nil {
		return Chunk{}, fmt.Errorf("knowledge: encode embedding: %w", err)
	}

	chunk := Chunk{
		ChunkID:    uuid.NewString(),
		DocumentID: documentID,
		OwnerID:    ownerID,
		RowIndex:   rowIndex,
		Filename:   filename,
		Text:       text,
		Embedding:  datatypes.JSON(embedding),
	}
	if len(tags) > 0 {
		encoded, err := json.Marshal(tags)
		if err != nil {
			return Chunk{}, fmt.Errorf("knowledge: encode tags: %w", err)
		}
		chunk.Tags = datatypes.JSON(encoded)
	}
	return chunk, nil
}

// InsertChunks writes chunks inside the caller's transaction so documents and
// their chunks commit together. A chunk id that already exists rejects the
// whole batch.
func (s *Service) InsertChunks(tx *gorm.DB, chunks []Chunk) error {
	if tx == nil {
		return errors.New("knowledge: transaction handle is required")
	}
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, 0, len(chunks))
	seen := make(map[string]struct{}, len(chunks))
	for _, chunk := range chunks {
		if _, dup := seen[chunk.ChunkID]; dup {
			return fmt.Errorf("knowledge: chunk id %s repeated in batch: %w", chunk.ChunkID, errdefs.ErrDuplicateID)
		}
		seen[chunk.ChunkID] = struct{}{}
		ids = append(ids, chunk.ChunkID)
	}

	var existing int64
	if err := tx.Model(&Chunk{}).Where("chunk_id IN ?", ids).Count(&existing).Error; err != nil {
		return fmt.Errorf("knowledge: check chunk ids: %v: %w", err, errdefs.ErrStoreUnavailable)
	}
	if existing > 0 {
		return fmt.Errorf("knowledge: %d chunk ids already stored: %w", existing, errdefs.ErrDuplicateID)
	}

	if err := tx.CreateInBatches(chunks, 200).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("knowledge: chunk id already stored: %w", errdefs.ErrDuplicateID)
		}
		return fmt.Errorf("knowledge: insert chunks: %v: %w", err, errdefs.ErrStoreUnavailable)
	}
	return nil
}

// Search returns the owner's topK most similar chunks, best first. Ties on
// score break toward the newest chunk. Asking for more results than stored
// returns everything the owner has.
func (s *Service) Search(ctx context.Context, ownerID string, vector []float32, topK int) ([]ScoredChunk, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("knowledge: owner id is required: %w", errdefs.ErrInvalidInput)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("knowledge: top_k must be positive, got %d: %w", topK, errdefs.ErrInvalidInput)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("knowledge: query vector is required: %w", errdefs.ErrInvalidInput)
	}

	var chunks []Chunk
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("knowledge: load chunks: %v: %w", err, errdefs.ErrStoreUnavailable)
	}

	scored := make([]ScoredChunk, 0, len(chunks))
	for _, chunk := range chunks {
		stored := chunk.Vector()
		if len(stored) != len(vector) {
			continue
		}
		scored = append(scored, ScoredChunk{Chunk: chunk, Score: cosineSimilarity(vector, stored)})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if !scored[i].CreatedAt.Equal(scored[j].CreatedAt) {
			return scored[i].CreatedAt.After(scored[j].CreatedAt)
		}
		return scored[i].ID > scored[j].ID
	})

	if topK < len(scored) {
		scored = scored[:topK]
	}
	return scored, nil
}

// SearchText embeds the query and searches with the resulting vector.
func (s *Service) SearchText(ctx context.Context, ownerID, query string, topK int) ([]ScoredChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("knowledge: query text is required: %w", errdefs.ErrInvalidInput)
	}
	vectors, err := s.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("knowledge: query embedding missing: %w", errdefs.ErrEmbeddingService)
	}
	return s.Search(ctx, ownerID, vectors[0], topK)
}

// DeleteForDocument removes a document's chunks inside the caller's
// transaction.
func (s *Service) DeleteForDocument(tx *gorm.DB, documentID string) error {
	if tx == nil {
		return errors.New("knowledge: transaction handle is required")
	}
	if err := tx.Where("document_id = ?", documentID).Delete(&Chunk{}).Error; err != nil {
		return fmt.Errorf("knowledge: delete chunks: %v: %w", err, errdefs.ErrStoreUnavailable)
	}
	return nil
}

// CountForOwner reports how many chunks the owner has stored.
func (s *Service) CountForOwner(ctx context.Context, ownerID string) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&Chunk{}).
		Where("owner_id = ?", ownerID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("knowledge: count chunks: %v: %w", err, errdefs.ErrStoreUnavailable)
	}
	return count, nil
}

// cosineSimilarity computes the cosine of the angle between two equal-length
// vectors. A zero-norm vector scores 0 against everything.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
