// Package api exposes the gateway's REST surface.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"waba-gateway/internal/campaign"
	"waba-gateway/internal/conversation"
	"waba-gateway/internal/dispatch"
	"waba-gateway/internal/phone"
	"waba-gateway/internal/template"
)

// tenantFrom resolves the acting tenant from the X-Tenant-ID header.
// Single-tenant installs omit the header and land on tenant 1.
func tenantFrom(c *gin.Context) uint {
	raw := c.GetHeader("X-Tenant-ID")
	if raw == "" {
		return 1
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 1
	}
	return uint(id)
}

func idParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

// fail writes an error response with a status matching the error kind.
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, template.ErrNotFound),
		errors.Is(err, conversation.ErrNotFound),
		errors.Is(err, campaign.ErrNotFound),
		errors.Is(err, dispatch.ErrTemplateNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, campaign.ErrImmutable),
		errors.Is(err, campaign.ErrNotSendable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, template.ErrEmptyBody),
		errors.Is(err, dispatch.ErrTemplateNotSendable),
		errors.Is(err, dispatch.ErrInvalidMediaType),
		errors.Is(err, dispatch.ErrInvalidInteractiveKind),
		errors.Is(err, dispatch.ErrEmptyContent),
		errors.Is(err, campaign.ErrTemplateNotApproved),
		errors.Is(err, phone.ErrEmpty),
		errors.Is(err, phone.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
