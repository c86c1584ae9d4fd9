package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"waba-gateway/internal/conversation"
	"waba-gateway/internal/models"
)

type ConversationHandler struct {
	Tracker *conversation.Tracker
}

func NewConversationHandler(tracker *conversation.Tracker) *ConversationHandler {
	return &ConversationHandler{Tracker: tracker}
}

// GetConversations lists conversations with the most recent activity first.
func (h *ConversationHandler) GetConversations(c *gin.Context) {
	conversations, err := h.Tracker.List(tenantFrom(c))
	if err != nil {
		fail(c, err)
		return
	}
	if conversations == nil {
		conversations = []models.Conversation{}
	}
	c.JSON(http.StatusOK, conversations)
}

func (h *ConversationHandler) GetConversation(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	conv, err := h.Tracker.Get(tenantFrom(c), id)
	if err != nil {
		fail(c, err)
		return
	}

	open, err := h.Tracker.IsWindowOpen(conv.ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv, "window_open": open})
}

// CloseConversation marks a thread closed. The next message from either
// side reopens it.
func (h *ConversationHandler) CloseConversation(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := h.Tracker.Close(tenantFrom(c), id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Conversation closed"})
}

// ReassignConversation hands a thread to a different agent.
func (h *ConversationHandler) ReassignConversation(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req struct {
		AssignedTo string `json:"assigned_to" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.Tracker.Reassign(tenantFrom(c), id, req.AssignedTo); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Conversation reassigned"})
}
