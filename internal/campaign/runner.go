// Package campaign batches the message dispatcher against a recipient set
// tied to one approved template.
package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"waba-gateway/internal/dispatch"
	"waba-gateway/internal/models"
	"waba-gateway/pkg/logx"
	"waba-gateway/pkg/metrics"
)

var (
	ErrNotFound            = errors.New("campaign not found")
	ErrTemplateNotApproved = errors.New("campaign template is not approved and active")
	ErrImmutable           = errors.New("campaign can no longer be modified")
	ErrNotSendable         = errors.New("campaign is not in a sendable state")
	ErrPaused              = errors.New("campaign is paused")
)

// Recipient is one audience member with its positional template parameters.
type Recipient struct {
	Phone  string   `json:"phone"`
	Params []string `json:"params,omitempty"`
}

// RecipientProvider supplies the audience for a campaign. Audience
// selection logic lives outside the gateway.
type RecipientProvider interface {
	Recipients(ctx context.Context, c *models.Campaign) ([]Recipient, error)
}

// StoredAudience reads the recipient list persisted on the campaign row.
type StoredAudience struct{}

func (StoredAudience) Recipients(_ context.Context, c *models.Campaign) ([]Recipient, error) {
	if c.Recipients == "" {
		return nil, nil
	}
	var recipients []Recipient
	if err := json.Unmarshal([]byte(c.Recipients), &recipients); err != nil {
		return nil, err
	}
	return recipients, nil
}

// JobPublisher pushes dispatch jobs onto the fan-out queue. rmq.Publisher
// satisfies it; a nil publisher selects inline dispatch.
type JobPublisher interface {
	PublishJSON(ctx context.Context, body []byte) error
}

// DispatchJob is one queued per-recipient send.
type DispatchJob struct {
	JobID      string   `json:"job_id"`
	TenantID   uint     `json:"tenant_id"`
	CampaignID uint     `json:"campaign_id"`
	TemplateID uint     `json:"template_id"`
	Phone      string   `json:"phone"`
	Params     []string `json:"params,omitempty"`
}

type Runner struct {
	db         *gorm.DB
	dispatcher *dispatch.Dispatcher
	provider   RecipientProvider
	pub        JobPublisher
	log        *zap.SugaredLogger
}

func NewRunner(db *gorm.DB, dispatcher *dispatch.Dispatcher, provider RecipientProvider, pub JobPublisher) *Runner {
	if provider == nil {
		provider = StoredAudience{}
	}
	return &Runner{db: db, dispatcher: dispatcher, provider: provider, pub: pub, log: logx.Named("campaign")}
}

type CreateInput struct {
	Name        string      `json:"name" binding:"required"`
	TemplateID  uint        `json:"template_id" binding:"required"`
	AudienceID  string      `json:"audience_id"`
	Recipients  []Recipient `json:"recipients"`
	ScheduledAt *time.Time  `json:"scheduled_at"`
}

func (r *Runner) Create(tenantID uint, in CreateInput) (*models.Campaign, error) {
	status := models.CampaignDraft
	if in.ScheduledAt != nil && in.ScheduledAt.After(time.Now()) {
		status = models.CampaignScheduled
	}

	recipients := ""
	if len(in.Recipients) > 0 {
		raw, err := json.Marshal(in.Recipients)
		if err != nil {
			return nil, err
		}
		recipients = string(raw)
	}

	c := models.Campaign{
		TenantID:    tenantID,
		Name:        in.Name,
		TemplateID:  in.TemplateID,
		AudienceID:  in.AudienceID,
		Recipients:  recipients,
		Status:      status,
		ScheduledAt: in.ScheduledAt,
	}
	if err := r.db.Create(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

type UpdateInput struct {
	Name        *string     `json:"name"`
	TemplateID  *uint       `json:"template_id"`
	AudienceID  *string     `json:"audience_id"`
	Recipients  []Recipient `json:"recipients"`
	ScheduledAt *time.Time  `json:"scheduled_at"`
}

// Update mutates a campaign that has not yet entered sending.
func (r *Runner) Update(tenantID, id uint, in UpdateInput) (*models.Campaign, error) {
	c, err := r.Get(tenantID, id)
	if err != nil {
		return nil, err
	}
	if !c.Mutable() {
		return nil, ErrImmutable
	}

	if in.Name != nil {
		c.Name = *in.Name
	}
	if in.TemplateID != nil {
		c.TemplateID = *in.TemplateID
	}
	if in.AudienceID != nil {
		c.AudienceID = *in.AudienceID
	}
	if in.Recipients != nil {
		raw, err := json.Marshal(in.Recipients)
		if err != nil {
			return nil, err
		}
		c.Recipients = string(raw)
	}
	if in.ScheduledAt != nil {
		c.ScheduledAt = in.ScheduledAt
		if c.Status == models.CampaignDraft && in.ScheduledAt.After(time.Now()) {
			c.Status = models.CampaignScheduled
		}
	}

	if err := r.db.Save(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Runner) Delete(tenantID, id uint) error {
	c, err := r.Get(tenantID, id)
	if err != nil {
		return err
	}
	if !c.Mutable() {
		return ErrImmutable
	}
	return r.db.Delete(&models.Campaign{}, c.ID).Error
}

func (r *Runner) Get(tenantID, id uint) (*models.Campaign, error) {
	var c models.Campaign
	err := r.db.Where("id = ? AND tenant_id = ?", id, tenantID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Runner) List(tenantID uint) ([]models.Campaign, error) {
	var cs []models.Campaign
	if err := r.db.Where("tenant_id = ?", tenantID).Order("id DESC").Find(&cs).Error; err != nil {
		return nil, err
	}
	return cs, nil
}

// Send moves the campaign into sending and dispatches one templated
// message per recipient. Entering sending requires the linked template to
// be approved and active; that violation is an error, never a silent
// downgrade.
func (r *Runner) Send(ctx context.Context, tenantID, id uint) error {
	c, err := r.Get(tenantID, id)
	if err != nil {
		return err
	}
	if c.Status != models.CampaignDraft && c.Status != models.CampaignScheduled {
		return ErrNotSendable
	}

	if err := r.requireSendableTemplate(tenantID, c.TemplateID); err != nil {
		return err
	}

	recipients, err := r.provider.Recipients(ctx, c)
	if err != nil {
		return err
	}

	if err := r.db.Model(c).Updates(map[string]any{
		"status":          models.CampaignSending,
		"recipient_count": len(recipients),
	}).Error; err != nil {
		return err
	}
	c.Status = models.CampaignSending
	c.RecipientCount = len(recipients)

	if r.pub != nil {
		return r.publishJobs(ctx, c, recipients)
	}
	return r.dispatchFrom(ctx, c, recipients, 0)
}

// Pause stops further dispatch of not-yet-sent recipients. Already-issued
// calls are not cancelled. A pause outside sending is a no-op.
func (r *Runner) Pause(tenantID, id uint) error {
	return r.transition(tenantID, id, models.CampaignSending, models.CampaignPaused)
}

// Resume continues dispatch from where the pause left off. A resume
// outside paused is a no-op.
func (r *Runner) Resume(ctx context.Context, tenantID, id uint) error {
	if err := r.transition(tenantID, id, models.CampaignPaused, models.CampaignSending); err != nil {
		return err
	}

	c, err := r.Get(tenantID, id)
	if err != nil {
		return err
	}
	if c.Status != models.CampaignSending {
		return nil // transition was a no-op
	}

	if r.pub != nil {
		return nil // queued jobs resume on their own once unpaused
	}

	recipients, err := r.provider.Recipients(ctx, c)
	if err != nil {
		return err
	}
	return r.dispatchFrom(ctx, c, recipients, c.SentCount+c.FailedCount)
}

// ProcessJob dispatches one queued recipient. Paused campaigns return
// ErrPaused so the consumer can requeue the job.
func (r *Runner) ProcessJob(ctx context.Context, job DispatchJob) error {
	c, err := r.Get(job.TenantID, job.CampaignID)
	if err != nil {
		return err
	}
	if c.Status == models.CampaignPaused {
		return ErrPaused
	}
	if c.Status != models.CampaignSending {
		r.log.Warnw("dropping job for inactive campaign", "campaign", c.ID, "status", c.Status)
		return nil
	}

	r.dispatchOne(ctx, c, Recipient{Phone: job.Phone, Params: job.Params})
	return r.finalizeIfComplete(job.TenantID, job.CampaignID)
}

func (r *Runner) publishJobs(ctx context.Context, c *models.Campaign, recipients []Recipient) error {
	for _, rec := range recipients {
		job := DispatchJob{
			JobID:      uuid.NewString(),
			TenantID:   c.TenantID,
			CampaignID: c.ID,
			TemplateID: c.TemplateID,
			Phone:      rec.Phone,
			Params:     rec.Params,
		}
		body, err := json.Marshal(job)
		if err != nil {
			return err
		}
		if err := r.pub.PublishJSON(ctx, body); err != nil {
			return err
		}
		metrics.CampaignJobsPublished.Inc()
	}
	if len(recipients) == 0 {
		return r.finalizeIfComplete(c.TenantID, c.ID)
	}
	return nil
}

func (r *Runner) dispatchFrom(ctx context.Context, c *models.Campaign, recipients []Recipient, offset int) error {
	for idx := offset; idx < len(recipients); idx++ {
		// Reload state so a concurrent pause stops further dispatch.
		current, err := r.Get(c.TenantID, c.ID)
		if err != nil {
			return err
		}
		if current.Status == models.CampaignPaused {
			return nil
		}

		r.dispatchOne(ctx, c, recipients[idx])
	}

	return r.finalizeIfComplete(c.TenantID, c.ID)
}

func (r *Runner) dispatchOne(ctx context.Context, c *models.Campaign, rec Recipient) {
	msg, err := r.dispatcher.SendTemplate(ctx, c.TenantID, rec.Phone, c.TemplateID, rec.Params)

	column := "sent_count"
	outcome := "sent"
	if err != nil || msg.Status == models.StatusFailed {
		column = "failed_count"
		outcome = "failed"
		if err != nil {
			r.log.Warnw("campaign recipient rejected", "campaign", c.ID, "phone", rec.Phone, "err", err)
		}
	}

	if msg != nil {
		if dbErr := r.db.Model(&models.Message{}).Where("id = ?", msg.ID).
			Update("campaign_id", c.ID).Error; dbErr != nil {
			r.log.Warnw("campaign link update failed", "message", msg.ID, "err", dbErr)
		}
	}

	if dbErr := r.db.Model(&models.Campaign{}).Where("id = ?", c.ID).
		Update(column, gorm.Expr(column+" + 1")).Error; dbErr != nil {
		r.log.Errorw("campaign counter update failed", "campaign", c.ID, "err", dbErr)
	}
	metrics.CampaignJobsProcessed.WithLabelValues(outcome).Inc()
}

func (r *Runner) finalizeIfComplete(tenantID, id uint) error {
	c, err := r.Get(tenantID, id)
	if err != nil {
		return err
	}
	if c.Status != models.CampaignSending {
		return nil
	}
	if c.SentCount+c.FailedCount < c.RecipientCount {
		return nil
	}

	now := time.Now()
	return r.db.Model(c).Updates(map[string]any{
		"status":  models.CampaignSent,
		"sent_at": now,
	}).Error
}

func (r *Runner) requireSendableTemplate(tenantID, templateID uint) error {
	var tmpl models.Template
	err := r.db.Where("id = ? AND tenant_id = ?", templateID, tenantID).First(&tmpl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrTemplateNotApproved
	}
	if err != nil {
		return err
	}
	if !tmpl.Sendable() {
		return ErrTemplateNotApproved
	}
	return nil
}

// transition flips from->to atomically; a mismatched current state leaves
// the row untouched and is a no-op.
func (r *Runner) transition(tenantID, id uint, from, to models.CampaignStatus) error {
	res := r.db.Model(&models.Campaign{}).
		Where("id = ? AND tenant_id = ? AND status = ?", id, tenantID, from).
		Update("status", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Verify the campaign exists so a bad id is still an error.
		if _, err := r.Get(tenantID, id); err != nil {
			return err
		}
	}
	return nil
}
