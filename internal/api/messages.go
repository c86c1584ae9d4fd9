package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"waba-gateway/internal/dispatch"
	"waba-gateway/internal/models"
)

type MessageHandler struct {
	Dispatcher *dispatch.Dispatcher
	DB         *gorm.DB
}

func NewMessageHandler(dispatcher *dispatch.Dispatcher, db *gorm.DB) *MessageHandler {
	return &MessageHandler{Dispatcher: dispatcher, DB: db}
}

// SendText sends a free-form text message. A delivery failure still
// returns the persisted message; only a malformed request is an error.
func (h *MessageHandler) SendText(c *gin.Context) {
	var req struct {
		To   string `json:"to" binding:"required"`
		Body string `json:"body" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.Dispatcher.SendText(c.Request.Context(), tenantFrom(c), req.To, req.Body)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// SendTemplate sends an approved template with positional body parameters.
func (h *MessageHandler) SendTemplate(c *gin.Context) {
	var req struct {
		To         string   `json:"to" binding:"required"`
		TemplateID uint     `json:"template_id" binding:"required"`
		Params     []string `json:"params"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.Dispatcher.SendTemplate(c.Request.Context(), tenantFrom(c), req.To, req.TemplateID, req.Params)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// SendMedia sends an image, video, audio or document by link.
func (h *MessageHandler) SendMedia(c *gin.Context) {
	var req struct {
		To      string `json:"to" binding:"required"`
		Type    string `json:"type" binding:"required"`
		Link    string `json:"link" binding:"required"`
		Caption string `json:"caption"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.Dispatcher.SendMedia(c.Request.Context(), tenantFrom(c), req.To,
		models.MessageType(req.Type), req.Link, req.Caption)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// SendInteractive sends a button or list interactive message.
func (h *MessageHandler) SendInteractive(c *gin.Context) {
	var req struct {
		To          string               `json:"to" binding:"required"`
		Interactive dispatch.Interactive `json:"interactive" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.Dispatcher.SendInteractive(c.Request.Context(), tenantFrom(c), req.To, req.Interactive)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// GetMessages lists messages, optionally scoped to one conversation,
// newest first.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	q := h.DB.Where("tenant_id = ?", tenantFrom(c))

	if raw := c.Query("conversation_id"); raw != "" {
		convID, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation_id"})
			return
		}
		q = q.Where("conversation_id = ?", uint(convID))
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	var messages []models.Message
	if err := q.Order("id DESC").Limit(limit).Find(&messages).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	c.JSON(http.StatusOK, messages)
}
