package api

import (
	"errors"
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"chatassist/internal/history"
	"chatassist/internal/models"
	"chatassist/internal/service/ai"
	"chatassist/internal/uploads"
	"chatassist/internal/worker"
)

type WorkerManager interface {
	HandleTurn(worker.TurnRequest) (string, []models.Turn, error)
	Purge(sessionID string) error
}

// Handler wires HTTP routes to the transcript store and the per-session
// chat workers.
type Handler struct {
	workers WorkerManager
	store   *history.Store
	uploads *uploads.Store
}

// NewHandler constructs a Handler instance.
func NewHandler(workers WorkerManager, store *history.Store, uploadStore *uploads.Store) *Handler {
	return &Handler{
		workers: workers,
		store:   store,
		uploads: uploadStore,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.POST("/chat", h.chat)
	router.POST("/upload", h.uploadMedia)
	router.GET("/sessions", h.listSessions)
	router.GET("/sessions/:session_id/messages", h.getSessionMessages)
	router.DELETE("/sessions/:session_id", h.deleteSession)
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	ModelName string `json:"model_name"`
}

type chatResponse struct {
	Reply        string        `json:"reply"`
	Conversation []models.Turn `json:"conversation"`
}

func (h *Handler) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "session_id is required"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "message is required"})
		return
	}

	reply, conversation, err := h.workers.HandleTurn(worker.TurnRequest{
		Context:   c.Request.Context(),
		SessionID: req.SessionID,
		Message:   req.Message,
		Model:     strings.TrimSpace(req.ModelName),
	})
	if err != nil {
		switch {
		case errors.Is(err, worker.ErrBusy):
			c.JSON(http.StatusTooManyRequests, gin.H{"detail": "server is busy, please retry"})
		case errors.Is(err, ai.ErrInference):
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		default:
			log.Printf("chat turn for session %s failed: %v", req.SessionID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, chatResponse{Reply: reply, Conversation: conversation})
}

func (h *Handler) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sessions": h.store.Sessions(),
	})
}

func (h *Handler) getSessionMessages(c *gin.Context) {
	sessionID := c.Param("session_id")
	turns, err := h.store.Get(sessionID)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":   sessionID,
		"conversation": turns,
	})
}

func (h *Handler) deleteSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	if err := h.workers.Purge(sessionID); err != nil {
		if errors.Is(err, history.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	if err := h.uploads.RemoveSession(sessionID); err != nil {
		log.Printf("remove uploads for session %s failed: %v", sessionID, err)
	}
	c.Status(http.StatusNoContent)
}

const maxUploadBytes = 10 << 20 // 10 MB

var allowedContentTypes = []string{
	"text/plain",
	"text/markdown",
	"application/pdf",
	"application/json",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"image/",
	"audio/",
	"video/",
}

func isAllowedContentType(ct string) bool {
	for _, allowed := range allowedContentTypes {
		if strings.HasPrefix(ct, allowed) {
			return true
		}
	}
	return false
}

func (h *Handler) uploadMedia(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(maxUploadBytes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid multipart form"})
		return
	}
	sessionID := strings.TrimSpace(c.PostForm("session_id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "session_id is required"})
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "file is required"})
		return
	}
	if file.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": "file too large"})
		return
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "open file failed"})
		return
	}
	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	_ = f.Close()
	contentType := http.DetectContentType(buf[:n])
	if !isAllowedContentType(contentType) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "unsupported file type"})
		return
	}

	filename := filepath.Base(file.Filename)
	if _, err := h.uploads.EnsureDir(sessionID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "create directory failed"})
		return
	}
	_, destPath, finalName := h.uploads.UniquePath(sessionID, filename)
	if err := c.SaveUploadedFile(file, destPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "save file failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"filename": finalName,
		"size":     file.Size,
		"message":  "Media uploaded successfully.",
	})
}
