// Package template manages the local template registry and its approval
// lifecycle against the remote platform.
package template

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"waba-gateway/internal/graph"
	"waba-gateway/internal/models"
	"waba-gateway/internal/phone"
	"waba-gateway/pkg/logx"
	"waba-gateway/pkg/metrics"
)

var (
	ErrNotFound  = errors.New("template not found")
	ErrEmptyBody = errors.New("template body is required")
)

// Registry is the slice of the Graph client the manager needs; tests swap
// in a fake.
type Registry interface {
	CreateTemplate(ctx context.Context, req graph.TemplateRequest) (*graph.TemplateCreateResponse, error)
	ListTemplates(ctx context.Context) ([]graph.RemoteTemplate, error)
	DeleteTemplate(ctx context.Context, name string) error
}

type Manager struct {
	db     *gorm.DB
	remote Registry
	log    *zap.SugaredLogger
}

func NewManager(db *gorm.DB, remote Registry) *Manager {
	return &Manager{db: db, remote: remote, log: logx.Named("template")}
}

type CreateInput struct {
	Name       string                 `json:"name" binding:"required"`
	Language   string                 `json:"language" binding:"required"`
	Category   string                 `json:"category"`
	HeaderText string                 `json:"header_text"`
	BodyText   string                 `json:"body_text" binding:"required"`
	FooterText string                 `json:"footer_text"`
	Buttons    []graph.TemplateButton `json:"buttons"`
}

// Create registers a local template in pending state. No external id is
// assigned until a successful submission.
func (m *Manager) Create(tenantID uint, in CreateInput) (*models.Template, error) {
	if strings.TrimSpace(in.BodyText) == "" {
		return nil, ErrEmptyBody
	}

	buttons := "[]"
	if len(in.Buttons) > 0 {
		raw, err := json.Marshal(in.Buttons)
		if err != nil {
			return nil, err
		}
		buttons = string(raw)
	}

	tmpl := models.Template{
		TenantID:   tenantID,
		Name:       phone.NormalizeTemplateName(in.Name),
		Language:   in.Language,
		Category:   in.Category,
		HeaderText: in.HeaderText,
		BodyText:   in.BodyText,
		FooterText: in.FooterText,
		Buttons:    buttons,
		Status:     models.TemplateStatusPending,
		IsActive:   true,
	}
	if err := m.db.Create(&tmpl).Error; err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// Submit builds the component list from stored fields and registers the
// template remotely. Success stores the returned external id and status;
// failure stores rejected with the parsed error reason. Re-submission after
// rejection overwrites the prior external id and status.
func (m *Manager) Submit(ctx context.Context, tenantID, templateID uint) (*models.Template, error) {
	tmpl, err := m.Get(tenantID, templateID)
	if err != nil {
		return nil, err
	}

	req := graph.TemplateRequest{
		Name:       tmpl.Name,
		Language:   tmpl.Language,
		Category:   tmpl.Category,
		Components: buildComponents(tmpl),
	}

	resp, err := m.remote.CreateTemplate(ctx, req)
	if err != nil {
		tmpl.Status = models.TemplateStatusRejected
		var apiErr *graph.APIError
		if errors.As(err, &apiErr) {
			tmpl.RejectionReason = apiErr.Message
		} else {
			// No recognizable error body; keep the raw response text.
			tmpl.RejectionReason = err.Error()
		}
		if dbErr := m.db.Save(tmpl).Error; dbErr != nil {
			return nil, dbErr
		}
		return tmpl, nil
	}

	tmpl.ExternalTemplateID = &resp.ID
	tmpl.Status = mapRemoteStatus(resp.Status)
	tmpl.RejectionReason = ""
	if tmpl.Status == models.TemplateStatusApproved {
		now := time.Now()
		tmpl.ApprovedAt = &now
	}
	if err := m.db.Save(tmpl).Error; err != nil {
		return nil, err
	}
	return tmpl, nil
}

// SyncFromRemote reconciles local approval state against the remote
// registry and returns the number of templates that changed.
func (m *Manager) SyncFromRemote(ctx context.Context, tenantID uint) (int, error) {
	remotes, err := m.remote.ListTemplates(ctx)
	if err != nil {
		return 0, err
	}

	byID := make(map[string]graph.RemoteTemplate, len(remotes))
	byName := make(map[string]graph.RemoteTemplate, len(remotes))
	for _, r := range remotes {
		byID[r.ID] = r
		byName[r.Name] = r
	}

	local, err := m.List(tenantID)
	if err != nil {
		return 0, err
	}

	changed := 0
	for i := range local {
		tmpl := &local[i]

		var remote graph.RemoteTemplate
		var ok bool
		if tmpl.ExternalTemplateID != nil {
			remote, ok = byID[*tmpl.ExternalTemplateID]
		}
		if !ok {
			remote, ok = byName[tmpl.Name]
		}
		if !ok {
			continue
		}

		status := mapRemoteStatus(remote.Status)
		if status == tmpl.Status {
			continue
		}

		if status == models.TemplateStatusApproved && tmpl.ApprovedAt == nil {
			now := time.Now()
			tmpl.ApprovedAt = &now
		}
		tmpl.Status = status
		if tmpl.ExternalTemplateID == nil {
			tmpl.ExternalTemplateID = &remote.ID
		}
		if err := m.db.Save(tmpl).Error; err != nil {
			return changed, err
		}
		changed++
		metrics.TemplatesSynced.Inc()
	}

	m.log.Infow("template sync complete", "tenant", tenantID, "changed", changed)
	return changed, nil
}

// Delete removes the local record after a best-effort remote delete. A
// remote failure is logged, never surfaced: local and remote converge
// eventually.
func (m *Manager) Delete(ctx context.Context, tenantID, templateID uint) error {
	tmpl, err := m.Get(tenantID, templateID)
	if err != nil {
		return err
	}

	if tmpl.ExternalTemplateID != nil {
		if err := m.remote.DeleteTemplate(ctx, tmpl.Name); err != nil {
			m.log.Warnw("remote template delete failed", "template", tmpl.Name, "err", err)
		}
	}

	return m.db.Delete(&models.Template{}, tmpl.ID).Error
}

type UpdateInput struct {
	Category   *string `json:"category"`
	HeaderText *string `json:"header_text"`
	BodyText   *string `json:"body_text"`
	FooterText *string `json:"footer_text"`
	IsActive   *bool   `json:"is_active"`
}

// Update mutates non-workflow fields only; approval state and the external
// id are owned by Submit and SyncFromRemote.
func (m *Manager) Update(tenantID, templateID uint, in UpdateInput) (*models.Template, error) {
	tmpl, err := m.Get(tenantID, templateID)
	if err != nil {
		return nil, err
	}

	if in.Category != nil {
		tmpl.Category = *in.Category
	}
	if in.HeaderText != nil {
		tmpl.HeaderText = *in.HeaderText
	}
	if in.BodyText != nil {
		tmpl.BodyText = *in.BodyText
	}
	if in.FooterText != nil {
		tmpl.FooterText = *in.FooterText
	}
	if in.IsActive != nil {
		tmpl.IsActive = *in.IsActive
	}

	if err := m.db.Save(tmpl).Error; err != nil {
		return nil, err
	}
	return tmpl, nil
}

func (m *Manager) Get(tenantID, templateID uint) (*models.Template, error) {
	var tmpl models.Template
	err := m.db.Where("id = ? AND tenant_id = ?", templateID, tenantID).First(&tmpl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tmpl, nil
}

func (m *Manager) List(tenantID uint) ([]models.Template, error) {
	var tmpls []models.Template
	if err := m.db.Where("tenant_id = ?", tenantID).Order("id").Find(&tmpls).Error; err != nil {
		return nil, err
	}
	return tmpls, nil
}

func buildComponents(tmpl *models.Template) []graph.TemplateComponent {
	var components []graph.TemplateComponent

	if tmpl.HeaderText != "" {
		components = append(components, graph.TemplateComponent{
			Type:   "HEADER",
			Format: "TEXT",
			Text:   tmpl.HeaderText,
		})
	}
	components = append(components, graph.TemplateComponent{
		Type: "BODY",
		Text: tmpl.BodyText,
	})
	if tmpl.FooterText != "" {
		components = append(components, graph.TemplateComponent{
			Type: "FOOTER",
			Text: tmpl.FooterText,
		})
	}

	var buttons []graph.TemplateButton
	if tmpl.Buttons != "" && tmpl.Buttons != "[]" {
		if err := json.Unmarshal([]byte(tmpl.Buttons), &buttons); err == nil && len(buttons) > 0 {
			components = append(components, graph.TemplateComponent{
				Type:    "BUTTONS",
				Buttons: buttons,
			})
		}
	}

	return components
}

func mapRemoteStatus(remote string) models.TemplateStatus {
	switch strings.ToUpper(remote) {
	case "APPROVED":
		return models.TemplateStatusApproved
	case "REJECTED", "DISABLED":
		return models.TemplateStatusRejected
	default:
		// PENDING, IN_REVIEW and anything unrecognized stays in flight.
		return models.TemplateStatusSubmitted
	}
}
