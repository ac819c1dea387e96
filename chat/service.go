// Package chat answers owner questions over their ingested rows. Every
// exchange retrieves the closest row chunks first and only calls the language
// model when retrieval found something; both turns are persisted before the
// answer is returned.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"monthend_back/errdefs"
	"monthend_back/knowledge"
	"monthend_back/llm"
)

// FallbackAnswer is returned verbatim when retrieval finds no chunks for the
// owner. The language model is not called in that case.
const FallbackAnswer = "No relevant data found for your question. Upload the related documents and ask again."

const systemInstruction = "You are an assistant for month-end close document review. " +
	"Answer using only the context rows provided below. Cite the source filename and row " +
	"number for every figure you mention. If the context does not cover the question, say so plainly."

// ModelClient is the slice of the language model client this package needs.
type ModelClient interface {
	Chat(ctx context.Context, messages []llm.Message) (llm.Result, error)
	ChatStream(ctx context.Context, messages []llm.Message, handler func(llm.StreamDelta) error) (llm.Result, error)
}

// Config bounds retrieval and context construction.
type Config struct {
	TopK            int
	HistoryTurns    int
	MaxContextChars int
}

func (cfg Config) withDefaults() Config {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 6
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = 4000
	}
	return cfg
}

// Service runs the retrieval-augmented exchanges and owns the chat_turns
// table.
type Service struct {
	db        *gorm.DB
	knowledge *knowledge.Service
	model     ModelClient
	cache     *turnCache
	cfg       Config
}

func NewService(db *gorm.DB, kn *knowledge.Service, model ModelClient, redisClient *redis.Client, cfg Config) (*Service, error) {
	if db == nil {
		return nil, errors.New("chat: db handle is required")
	}
	if kn == nil {
		return nil, errors.New("chat: knowledge service is required")
	}
	if model == nil {
		return nil, errors.New("chat: model client is required")
	}
	return &Service{
		db:        db,
		knowledge: kn,
		model:     model,
		cache:     newTurnCache(redisClient),
		cfg:       cfg.withDefaults(),
	}, nil
}

func (s *Service) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Turn{}); err != nil {
		return fmt.Errorf("chat: migrate turns: %w", err)
	}
	return nil
}

// Ask runs one exchange and returns the full answer.
func (s *Service) Ask(ctx context.Context, ownerID, sessionID, message string) (*Answer, error) {
	return s.exchange(ctx, ownerID, sessionID, message, nil)
}

// AskStream runs one exchange, forwarding model deltas to handler as they
// arrive. The fallback answer is delivered as a single delta.
func (s *Service) AskStream(ctx context.Context, ownerID, sessionID, message string, handler func(llm.StreamDelta) error) (*Answer, error) {
	if handler == nil {
		return nil, errors.New("chat: stream handler is required")
	}
	return s.exchange(ctx, ownerID, sessionID, message, handler)
}

func (s *Service) exchange(ctx context.Context, ownerID, sessionID, message string, handler func(llm.StreamDelta) error) (*Answer, error) {
	ownerID = strings.TrimSpace(ownerID)
	sessionID = strings.TrimSpace(sessionID)
	message = strings.TrimSpace(message)
	if ownerID == "" {
		return nil, fmt.Errorf("chat: owner id is required: %w", errdefs.ErrInvalidInput)
	}
	if sessionID == "" {
		return nil, fmt.Errorf("chat: session id is required: %w", errdefs.ErrInvalidInput)
	}
	if message == "" {
		return nil, fmt.Errorf("chat: message is required: %w", errdefs.ErrInvalidInput)
	}

	retrieved, err := s.knowledge.SearchText(ctx, ownerID, message, s.cfg.TopK)
	if err != nil {
		return nil, err
	}

	if len(retrieved) == 0 {
		if handler != nil {
			if err := handler(llm.StreamDelta{Content: FallbackAnswer, FullContent: FallbackAnswer}); err != nil {
				return nil, err
			}
			if err := handler(llm.StreamDelta{FullContent: FallbackAnswer, Done: true}); err != nil {
				return nil, err
			}
		}
		if err := s.persistExchange(ctx, ownerID, sessionID, message, FallbackAnswer, nil); err != nil {
			return nil, err
		}
		return &Answer{Answer: FallbackAnswer, Fallback: true}, nil
	}

	history, err := s.recentTurns(ctx, ownerID, sessionID)
	if err != nil {
		return nil, err
	}
	messages := BuildMessages(message, retrieved, history, s.cfg.MaxContextChars)

	var result llm.Result
	if handler != nil {
		result, err = s.model.ChatStream(ctx, messages, handler)
	} else {
		result, err = s.model.Chat(ctx, messages)
	}
	if err != nil {
		return nil, err
	}

	cited := make([]string, 0, len(retrieved))
	for _, chunk := range retrieved {
		cited = append(cited, chunk.ChunkID)
	}
	if err := s.persistExchange(ctx, ownerID, sessionID, message, result.Content, cited); err != nil {
		return nil, err
	}
	return &Answer{Answer: result.Content, CitedChunkIDs: cited}, nil
}

// BuildMessages assembles the model payload: system instruction with the
// bounded context block, the recent history, then the user's question.
// Exported so context construction stays testable without a live model.
func BuildMessages(question string, retrieved []knowledge.ScoredChunk, history []Turn, maxContextChars int) []llm.Message {
	var ctxBuilder strings.Builder
	for i, chunk := range retrieved {
		line := fmt.Sprintf("[%d] %s (row %d): %s\n", i+1, chunk.Filename, chunk.RowIndex, chunk.Text)
		if maxContextChars > 0 && ctxBuilder.Len()+len(line) > maxContextChars {
			break
		}
		ctxBuilder.WriteString(line)
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{
		Role:    "system",
		Content: systemInstruction + "\n\nContext rows:\n" + ctxBuilder.String(),
	})
	for _, turn := range history {
		messages = append(messages, llm.Message{Role: turn.Role, Content: turn.Text})
	}
	messages = append(messages, llm.Message{Role: RoleUser, Content: question})
	return messages
}

// History returns the session's turns in order, oldest first.
func (s *Service) History(ctx context.Context, ownerID, sessionID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 50
	}
	var turns []Turn
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND session_id = ?", ownerID, sessionID).
		Order("turn_index DESC").
		Limit(limit).
		Find(&turns).Error
	if err != nil {
		return nil, fmt.Errorf("chat: load turns: %v: %w", err, errdefs.ErrStoreUnavailable)
	}
	reverseTurns(turns)
	return turns, nil
}

func (s *Service) recentTurns(ctx context.Context, ownerID, sessionID string) ([]Turn, error) {
	if turns, ok := s.cache.get(ctx, ownerID, sessionID); ok {
		return turns, nil
	}
	turns, err := s.History(ctx, ownerID, sessionID, s.cfg.HistoryTurns)
	if err != nil {
		return nil, err
	}
	s.cache.store(ctx, ownerID, sessionID, turns)
	return turns, nil
}

// persistExchange writes the user and assistant turns together. The unique
// (session_id, turn_index) index turns a concurrent writer collision into an
// error instead of silent reordering.
func (s *Service) persistExchange(ctx context.Context, ownerID, sessionID, userText, assistantText string, citedIDs []string) error {
	var citedJSON datatypes.JSON
	if len(citedIDs) > 0 {
		encoded, err := json.Marshal(citedIDs)
		if err != nil {
			return fmt.Errorf("chat: encode cited chunk ids: %w", err)
		}
		citedJSON = datatypes.JSON(encoded)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var nextIndex int
		row := tx.Model(&Turn{}).
			Where("session_id = ?", sessionID).
			Select("COALESCE(MAX(turn_index), -1) + 1")
		if err := row.Scan(&nextIndex).Error; err != nil {
			return err
		}

		turns := []Turn{
			{
				SessionID: sessionID,
				TurnIndex: nextIndex,
				OwnerID:   ownerID,
				Role:      RoleUser,
				Text:      userText,
			},
			{
				SessionID:         sessionID,
				TurnIndex:         nextIndex + 1,
				OwnerID:           ownerID,
				Role:              RoleAssistant,
				Text:              assistantText,
				RetrievedChunkIDs: citedJSON,
			},
		}
		return tx.Create(&turns).Error
	})
	if err != nil {
		return fmt.Errorf("chat: persist turns: %v: %w", err, errdefs.ErrStoreUnavailable)
	}

	s.cache.invalidate(ctx, ownerID, sessionID)
	return nil
}

func reverseTurns(turns []Turn) {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
}
