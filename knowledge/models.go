package knowledge

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Chunk is one retrievable unit: the column-aware serialization of a source
// row plus its embedding vector. Text and vector are always written together
// in one insert; chunks are read-only afterward.
type Chunk struct {
	ID         uint64         `gorm:"primaryKey" json:"-"`
	ChunkID    string         `gorm:"size:64;not null;uniqueIndex" json:"chunk_id"`
	DocumentID string         `gorm:"size:64;not null;index" json:"document_id"`
	OwnerID    string         `gorm:"size:128;not null;index" json:"owner_id"`
	RowIndex   int            `gorm:"not null" json:"row_index"`
	Filename   string         `gorm:"size:255" json:"filename"`
	Text       string         `gorm:"type:text;not null" json:"chunk_text"`
	Embedding  datatypes.JSON `gorm:"type:json;not null" json:"-"`
	Tags       datatypes.JSON `gorm:"type:json" json:"tags,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (Chunk) TableName() string {
	return "chunks"
}

// Vector decodes the stored embedding.
func (c *Chunk) Vector() []float32 {
	if len(c.Embedding) == 0 {
		return nil
	}
	var vector []float32
	if err := json.Unmarshal(c.Embedding, &vector); err != nil {
		return nil
	}
	return vector
}

// ScoredChunk pairs a chunk with its similarity to a query vector.
type ScoredChunk struct {
	Chunk
	Score float64 `json:"score"`
}
