package workflow

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"monthend_back/authorization"
	"monthend_back/cache"
	"monthend_back/chat"
	"monthend_back/checklist"
	"monthend_back/errdefs"
	"monthend_back/knowledge"
	"monthend_back/llm"
	"monthend_back/storage"
	"monthend_back/store"
)

const (
	maxUploadBytes = 32 * 1024 * 1024
	uploadTimeout  = 2 * time.Minute
	chatTimeout    = 90 * time.Second
	reportTimeout  = 90 * time.Second
)

// Module wires the orchestrator, chat service, and checklist behind the
// /workflow routes.
type Module struct {
	orchestrator *Orchestrator
	chat         *chat.Service
	checklist    *checklist.Service
	guard        *authorization.Guard
	upgrader     websocket.Upgrader
}

// RegisterRoutes builds the pipeline services on the shared database handle
// and mounts the workflow endpoints. The language model is optional: without
// it chat is unavailable and report narratives fall back to the deterministic
// summary.
func RegisterRoutes(router *gin.Engine, guard *authorization.Guard, db *gorm.DB) (*Module, error) {
	st, err := store.New(db)
	if err != nil {
		return nil, err
	}
	if err := st.AutoMigrate(); err != nil {
		return nil, err
	}

	embedCfg, err := knowledge.EmbedderConfigFromEnv()
	if err != nil {
		return nil, err
	}
	embedder, err := knowledge.NewHTTPEmbedder(embedCfg)
	if err != nil {
		return nil, err
	}

	redisClient, err := cache.Client()
	if err != nil {
		log.Printf("workflow: redis unavailable, caching disabled: %v", err)
		redisClient = nil
	}

	kn, err := knowledge.NewService(db, embedder, redisClient, embedCfg.Model)
	if err != nil {
		return nil, err
	}
	if err := kn.AutoMigrate(); err != nil {
		return nil, err
	}

	cl, err := checklist.NewService(db, st)
	if err != nil {
		return nil, err
	}
	if err := cl.AutoMigrate(); err != nil {
		return nil, err
	}

	var model *llm.Client
	if llmCfg, err := llm.ConfigFromEnv(); err != nil {
		log.Printf("workflow: language model disabled: %v", err)
	} else if model, err = llm.NewClient(llmCfg); err != nil {
		return nil, err
	}

	archive, err := storage.NewArchiveFromEnv()
	if err != nil {
		return nil, err
	}

	var orchestratorModel ModelClient
	if model != nil {
		orchestratorModel = model
	}
	var archiver Archiver
	if archive != nil {
		archiver = archive
	}
	orchestrator, err := NewOrchestrator(st, kn, cl, archiver, orchestratorModel)
	if err != nil {
		return nil, err
	}

	module := &Module{
		orchestrator: orchestrator,
		checklist:    cl,
		guard:        guard,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	if model != nil {
		chatService, err := chat.NewService(db, kn, model, redisClient, chat.Config{})
		if err != nil {
			return nil, err
		}
		if err := chatService.AutoMigrate(); err != nil {
			return nil, err
		}
		module.chat = chatService
	}

	group := router.Group("/workflow")
	if guard != nil {
		group.Use(guard.RequireAuthenticated())
	}
	group.POST("/upload", module.handleUpload)
	group.GET("/checklist", module.handleChecklist)
	group.POST("/report", module.handleReport)
	group.POST("/chat", module.handleChat)
	group.GET("/chat/stream", module.handleChatStream)
	group.GET("/documents", module.handleListDocuments)
	group.GET("/documents/:id/archive", module.handleArchiveLink)
	group.DELETE("/documents/:id", module.handleDeleteDocument)

	return module, nil
}

func (m *Module) ownerID(c *gin.Context) (string, bool) {
	owner := m.guard.OwnerID(c)
	if owner == "" {
		authorization.AbortMissingOwner(c)
		return "", false
	}
	return owner, true
}

func (m *Module) handleUpload(c *gin.Context) {
	owner, ok := m.ownerID(c)
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if fileHeader.Size > maxUploadBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file too large"})
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read file"})
		return
	}
	defer src.Close()

	content, err := io.ReadAll(io.LimitReader(src, maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read file"})
		return
	}
	if int64(len(content)) > maxUploadBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file too large"})
		return
	}

	ctx, cancel := contextWithTimeout(c, uploadTimeout)
	defer cancel()

	result, err := m.orchestrator.ProcessUpload(ctx, owner, fileHeader.Filename, content)
	if err != nil {
		log.Printf("workflow: upload %q for owner %s failed at %s: %v", fileHeader.Filename, owner, result.FailedStage, err)
		c.JSON(errdefs.HTTPStatus(err), gin.H{
			"error":        err.Error(),
			"state":        result.State,
			"failed_stage": result.FailedStage,
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (m *Module) handleChecklist(c *gin.Context) {
	owner, ok := m.ownerID(c)
	if !ok {
		return
	}
	status, err := m.checklist.Status(c.Request.Context(), owner)
	if err != nil {
		c.JSON(errdefs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (m *Module) handleReport(c *gin.Context) {
	owner, ok := m.ownerID(c)
	if !ok {
		return
	}

	ctx, cancel := contextWithTimeout(c, reportTimeout)
	defer cancel()

	report, err := m.orchestrator.ComposeReport(ctx, owner)
	if err != nil {
		c.JSON(errdefs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

type chatRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Message   string `json:"message" binding:"required"`
}

func (m *Module) handleChat(c *gin.Context) {
	owner, ok := m.ownerID(c)
	if !ok {
		return
	}
	if m.chat == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat is not configured"})
		return
	}

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	ctx, cancel := contextWithTimeout(c, chatTimeout)
	defer cancel()

	answer, err := m.chat.Ask(ctx, owner, req.SessionID, req.Message)
	if err != nil {
		status := errdefs.HTTPStatus(err)
		payload := gin.H{"error": err.Error()}
		if errdefs.Retryable(err) {
			payload["retryable"] = true
		}
		c.JSON(status, payload)
		return
	}
	c.JSON(http.StatusOK, answer)
}

// handleChatStream upgrades to a WebSocket, reads one chat request, and
// streams the answer as JSON frames: {"delta": ...} per increment, then a
// terminal frame with the persisted answer.
func (m *Module) handleChatStream(c *gin.Context) {
	owner, ok := m.ownerID(c)
	if !ok {
		return
	}
	if m.chat == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat is not configured"})
		return
	}

	conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("workflow: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var req chatRequest
	if err := conn.ReadJSON(&req); err != nil {
		_ = conn.WriteJSON(gin.H{"error": "invalid request payload"})
		return
	}
	if strings.TrimSpace(req.SessionID) == "" || strings.TrimSpace(req.Message) == "" {
		_ = conn.WriteJSON(gin.H{"error": "session_id and message are required"})
		return
	}

	ctx, cancel := contextWithTimeout(c, chatTimeout)
	defer cancel()

	answer, err := m.chat.AskStream(ctx, owner, req.SessionID, req.Message, func(delta llm.StreamDelta) error {
		if delta.Done {
			return nil
		}
		return conn.WriteJSON(gin.H{"delta": delta.Content})
	})
	if err != nil {
		_ = conn.WriteJSON(gin.H{"error": err.Error(), "retryable": errdefs.Retryable(err)})
		return
	}
	_ = conn.WriteJSON(gin.H{
		"done":            true,
		"answer":          answer.Answer,
		"cited_chunk_ids": answer.CitedChunkIDs,
		"fallback":        answer.Fallback,
	})
}

func (m *Module) handleListDocuments(c *gin.Context) {
	owner, ok := m.ownerID(c)
	if !ok {
		return
	}
	docs, err := m.orchestrator.ListDocuments(c.Request.Context(), owner)
	if err != nil {
		c.JSON(errdefs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

func (m *Module) handleArchiveLink(c *gin.Context) {
	owner, ok := m.ownerID(c)
	if !ok {
		return
	}
	documentID := strings.TrimSpace(c.Param("id"))
	if documentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "document id is required"})
		return
	}

	url, err := m.orchestrator.ArchiveLink(c.Request.Context(), owner, documentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			return
		}
		c.JSON(errdefs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (m *Module) handleDeleteDocument(c *gin.Context) {
	owner, ok := m.ownerID(c)
	if !ok {
		return
	}
	documentID := strings.TrimSpace(c.Param("id"))
	if documentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "document id is required"})
		return
	}

	err := m.orchestrator.DeleteDocument(c.Request.Context(), owner, documentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			return
		}
		c.JSON(errdefs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": documentID})
}

func contextWithTimeout(c *gin.Context, timeout time.Duration) (ctx context.Context, cancel context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), timeout)
}
