package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"waba-gateway/internal/campaign"
	"waba-gateway/internal/models"
)

type CampaignHandler struct {
	Runner *campaign.Runner
}

func NewCampaignHandler(runner *campaign.Runner) *CampaignHandler {
	return &CampaignHandler{Runner: runner}
}

func (h *CampaignHandler) CreateCampaign(c *gin.Context) {
	var in campaign.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmp, err := h.Runner.Create(tenantFrom(c), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, cmp)
}

func (h *CampaignHandler) GetCampaigns(c *gin.Context) {
	campaigns, err := h.Runner.List(tenantFrom(c))
	if err != nil {
		fail(c, err)
		return
	}
	if campaigns == nil {
		campaigns = []models.Campaign{}
	}
	c.JSON(http.StatusOK, campaigns)
}

func (h *CampaignHandler) GetCampaign(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	cmp, err := h.Runner.Get(tenantFrom(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cmp)
}

// UpdateCampaign mutates a campaign that has not entered sending yet.
func (h *CampaignHandler) UpdateCampaign(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var in campaign.UpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmp, err := h.Runner.Update(tenantFrom(c), id, in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cmp)
}

func (h *CampaignHandler) DeleteCampaign(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := h.Runner.Delete(tenantFrom(c), id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Campaign deleted"})
}

// SendCampaign starts dispatch for every recipient.
func (h *CampaignHandler) SendCampaign(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := h.Runner.Send(c.Request.Context(), tenantFrom(c), id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Campaign sending"})
}

// PauseCampaign halts dispatch of remaining recipients.
func (h *CampaignHandler) PauseCampaign(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := h.Runner.Pause(tenantFrom(c), id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Campaign paused"})
}

// ResumeCampaign continues a paused campaign from where it stopped.
func (h *CampaignHandler) ResumeCampaign(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := h.Runner.Resume(c.Request.Context(), tenantFrom(c), id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Campaign resumed"})
}
