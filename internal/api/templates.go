package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"waba-gateway/internal/models"
	"waba-gateway/internal/template"
)

type TemplateHandler struct {
	Manager *template.Manager
}

func NewTemplateHandler(manager *template.Manager) *TemplateHandler {
	return &TemplateHandler{Manager: manager}
}

// CreateTemplate registers a local pending template.
func (h *TemplateHandler) CreateTemplate(c *gin.Context) {
	var in template.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tmpl, err := h.Manager.Create(tenantFrom(c), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, tmpl)
}

func (h *TemplateHandler) GetTemplates(c *gin.Context) {
	templates, err := h.Manager.List(tenantFrom(c))
	if err != nil {
		fail(c, err)
		return
	}
	if templates == nil {
		templates = []models.Template{}
	}
	c.JSON(http.StatusOK, templates)
}

func (h *TemplateHandler) GetTemplate(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	tmpl, err := h.Manager.Get(tenantFrom(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tmpl)
}

// UpdateTemplate mutates non-workflow fields.
func (h *TemplateHandler) UpdateTemplate(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var in template.UpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tmpl, err := h.Manager.Update(tenantFrom(c), id, in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tmpl)
}

// SubmitTemplate pushes a pending template to the remote platform for review.
func (h *TemplateHandler) SubmitTemplate(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	tmpl, err := h.Manager.Submit(c.Request.Context(), tenantFrom(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tmpl)
}

// SyncTemplates pulls remote review decisions into local state.
func (h *TemplateHandler) SyncTemplates(c *gin.Context) {
	updated, err := h.Manager.SyncFromRemote(c.Request.Context(), tenantFrom(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// DeleteTemplate removes the template locally after a best-effort remote delete.
func (h *TemplateHandler) DeleteTemplate(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := h.Manager.Delete(c.Request.Context(), tenantFrom(c), id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Template deleted"})
}
