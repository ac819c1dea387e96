package chat

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one persisted message in a chat session. TurnIndex is monotonic
// within a session; user and assistant turns of one exchange are written in
// the same transaction.
type Turn struct {
	ID                uint64         `gorm:"primaryKey" json:"-"`
	SessionID         string         `gorm:"size:64;not null;uniqueIndex:idx_session_turn" json:"session_id"`
	TurnIndex         int            `gorm:"not null;uniqueIndex:idx_session_turn" json:"turn_index"`
	OwnerID           string         `gorm:"size:128;not null;index" json:"owner_id"`
	Role              string         `gorm:"size:16;not null" json:"role"`
	Text              string         `gorm:"type:text;not null" json:"text"`
	RetrievedChunkIDs datatypes.JSON `gorm:"type:json" json:"retrieved_chunk_ids,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

func (Turn) TableName() string {
	return "chat_turns"
}

// ChunkIDs decodes the chunk ids cited by an assistant turn.
func (t *Turn) ChunkIDs() []string {
	if len(t.RetrievedChunkIDs) == 0 {
		return nil
	}
	var ids []string
	if err := json.Unmarshal(t.RetrievedChunkIDs, &ids); err != nil {
		return nil
	}
	return ids
}

// Answer is the outcome of one chat exchange.
type Answer struct {
	Answer        string   `json:"answer"`
	CitedChunkIDs []string `json:"cited_chunk_ids"`
	Fallback      bool     `json:"fallback"`
}
