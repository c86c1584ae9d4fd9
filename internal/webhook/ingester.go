package webhook

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"waba-gateway/internal/conversation"
	"waba-gateway/internal/dispatch"
	"waba-gateway/internal/models"
	"waba-gateway/internal/phone"
	"waba-gateway/pkg/logx"
	"waba-gateway/pkg/metrics"
)

const expectedObject = "whatsapp_business_account"

// Broadcaster pushes ingested events to live listeners. The ws hub
// satisfies it; a nil-safe no-op is used when no hub is wired.
type Broadcaster interface {
	NotifyMessage(msg models.Message)
	NotifyStatus(externalID string, status models.MessageStatus)
	NotifyConversation(conv models.Conversation)
}

// Ingester is the sole inbound entry point. It is safe to invoke
// concurrently and more than once per event: the unique index on
// (tenant, external message id) absorbs duplicate deliveries.
type Ingester struct {
	db         *gorm.DB
	tracker    *conversation.Tracker
	dispatcher *dispatch.Dispatcher
	hub        Broadcaster
	autoRead   bool
	log        *zap.SugaredLogger
}

func NewIngester(db *gorm.DB, tracker *conversation.Tracker, dispatcher *dispatch.Dispatcher, hub Broadcaster, autoRead bool) *Ingester {
	return &Ingester{
		db:         db,
		tracker:    tracker,
		dispatcher: dispatcher,
		hub:        hub,
		autoRead:   autoRead,
		log:        logx.Named("webhook"),
	}
}

// Process walks every entry/change of the payload. A malformed unit is
// logged and skipped; it never aborts its siblings.
func (i *Ingester) Process(ctx context.Context, tenantID uint, p *Payload) {
	if p.Object != expectedObject {
		i.log.Warnw("unexpected webhook object", "object", p.Object)
		metrics.WebhookUnitsSkipped.Inc()
		return
	}

	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}

			names := make(map[string]string, len(change.Value.Contacts))
			for _, contact := range change.Value.Contacts {
				names[contact.WaID] = contact.Profile.Name
			}

			for _, m := range change.Value.Messages {
				if err := i.ingestMessage(ctx, tenantID, m, names); err != nil {
					i.log.Warnw("message unit skipped", "id", m.ID, "err", err)
					metrics.WebhookUnitsSkipped.Inc()
					continue
				}
				metrics.WebhookUnits.WithLabelValues("message").Inc()
			}

			for _, s := range change.Value.Statuses {
				if err := i.applyStatus(tenantID, s); err != nil {
					i.log.Warnw("status unit skipped", "id", s.ID, "status", s.Status, "err", err)
					metrics.WebhookUnitsSkipped.Inc()
					continue
				}
				metrics.WebhookUnits.WithLabelValues("status").Inc()
			}
		}
	}
}

func (i *Ingester) ingestMessage(ctx context.Context, tenantID uint, m IncomingMessage, names map[string]string) error {
	if m.ID == "" {
		return errors.New("message unit missing id")
	}

	from, err := phone.Normalize(m.From)
	if err != nil {
		return err
	}

	msgType, content, mediaURL, caption, err := describe(m)
	if err != nil {
		return err
	}

	var existing models.Message
	err = i.db.Where("tenant_id = ? AND external_message_id = ?", tenantID, m.ID).First(&existing).Error
	if err == nil {
		return nil // duplicate delivery
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	now := time.Now()
	externalID := m.ID
	msg := models.Message{
		TenantID:          tenantID,
		ExternalMessageID: &externalID,
		PhoneNumber:       from,
		Direction:         models.DirectionInbound,
		Type:              msgType,
		Content:           content,
		MediaURL:          mediaURL,
		Caption:           caption,
		Status:            models.StatusDelivered,
		DeliveredAt:       &now,
	}
	if err := i.db.Create(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil // concurrent duplicate delivery lost the race
		}
		return err
	}

	conv, err := i.tracker.Attach(tenantID, from, &msg)
	if err != nil {
		return err
	}
	if name, ok := names[m.From]; ok {
		if err := i.tracker.SetCustomerName(conv.ID, name); err != nil {
			i.log.Warnw("customer name update failed", "conversation", conv.ID, "err", err)
		}
	}

	if i.hub != nil {
		i.hub.NotifyMessage(msg)
	}

	if i.autoRead {
		if err := i.dispatcher.MarkRead(ctx, &msg); err != nil {
			i.log.Warnw("auto read receipt failed", "message", m.ID, "err", err)
		}
	}
	return nil
}

// describe maps the type-specific payload onto a content string.
func describe(m IncomingMessage) (models.MessageType, string, string, string, error) {
	switch m.Type {
	case "text":
		if m.Text == nil {
			return "", "", "", "", errors.New("text unit without body")
		}
		return models.MessageTypeText, m.Text.Body, "", "", nil
	case "image":
		return mediaContent(models.MessageTypeImage, m.Image, "[image]")
	case "video":
		return mediaContent(models.MessageTypeVideo, m.Video, "[video]")
	case "audio":
		return mediaContent(models.MessageTypeAudio, m.Audio, "[audio]")
	case "document":
		return mediaContent(models.MessageTypeDocument, m.Document, "[document]")
	case "interactive":
		if m.Interactive == nil {
			return "", "", "", "", errors.New("interactive unit without payload")
		}
		switch {
		case m.Interactive.ButtonReply != nil:
			return models.MessageTypeInteractive, m.Interactive.ButtonReply.Title, "", "", nil
		case m.Interactive.ListReply != nil:
			return models.MessageTypeInteractive, m.Interactive.ListReply.Title, "", "", nil
		}
		return "", "", "", "", errors.New("interactive unit without reply")
	case "button":
		if m.Button == nil {
			return "", "", "", "", errors.New("button unit without payload")
		}
		return models.MessageTypeInteractive, m.Button.Text, "", "", nil
	}
	return "", "", "", "", errors.New("unrecognized message type: " + m.Type)
}

func mediaContent(t models.MessageType, media *MediaPayload, placeholder string) (models.MessageType, string, string, string, error) {
	if media == nil {
		return "", "", "", "", errors.New(string(t) + " unit without media payload")
	}
	content := media.Caption
	if content == "" {
		content = placeholder
	}
	return t, content, media.ID, media.Caption, nil
}

// applyStatus advances an existing outbound message. Unknown external ids
// are ignored; there is no retroactive creation. Timestamps are recorded
// field-for-field even when events arrive out of order, the status itself
// only moves forward, and failed is terminal.
func (i *Ingester) applyStatus(tenantID uint, ev StatusEvent) error {
	var msg models.Message
	err := i.db.Where("tenant_id = ? AND external_message_id = ?", tenantID, ev.ID).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	status := models.MessageStatus(ev.Status)
	now := time.Now()
	var claimed bool

	switch status {
	case models.StatusSent:
		claimed, err = i.claimTimestamp(msg.ID, "sent_at", now)
	case models.StatusDelivered:
		claimed, err = i.claimTimestamp(msg.ID, "delivered_at", now)
	case models.StatusRead:
		claimed, err = i.claimTimestamp(msg.ID, "read_at", now)
	case models.StatusFailed:
		updates := map[string]any{"status": models.StatusFailed}
		if len(ev.Errors) > 0 {
			updates["error_code"] = strconv.Itoa(ev.Errors[0].Code)
			reason := ev.Errors[0].Message
			if reason == "" {
				reason = ev.Errors[0].Title
			}
			updates["error_message"] = reason
		}
		res := i.db.Model(&models.Message{}).
			Where("id = ? AND status <> ?", msg.ID, models.StatusFailed).
			Updates(updates)
		err = res.Error
		claimed = res.RowsAffected == 1
	default:
		return errors.New("unrecognized status: " + ev.Status)
	}
	if err != nil {
		return err
	}

	if status != models.StatusFailed && models.StatusRank(status) > models.StatusRank(msg.Status) {
		// Failed stays terminal even when the failure landed after our
		// snapshot was taken.
		if err := i.db.Model(&models.Message{}).
			Where("id = ? AND status <> ?", msg.ID, models.StatusFailed).
			Update("status", status).Error; err != nil {
			return err
		}
	}

	var convTouched bool
	if status == models.StatusRead {
		if err := i.tracker.UpdateFromStatus(&msg, models.StatusRead); err != nil {
			return err
		}
		convTouched = msg.ConversationID != nil
	}

	if ev.Conversation != nil && msg.ConversationID != nil {
		if ts, err := strconv.ParseInt(ev.Conversation.ExpirationTimestamp, 10, 64); err == nil && ts > 0 {
			if err := i.tracker.SetWindowExpiry(*msg.ConversationID, ev.Conversation.ID, time.Unix(ts, 0)); err != nil {
				i.log.Warnw("window expiry update failed", "conversation", *msg.ConversationID, "err", err)
			} else {
				convTouched = true
			}
		}
	}

	i.bumpCampaignCounters(&msg, status, claimed)

	if i.hub != nil {
		i.hub.NotifyStatus(ev.ID, status)
		if convTouched {
			var conv models.Conversation
			if err := i.db.First(&conv, *msg.ConversationID).Error; err == nil {
				i.hub.NotifyConversation(conv)
			}
		}
	}
	return nil
}

// claimTimestamp fills a per-status timestamp exactly once. The conditional
// write decides which of several concurrent duplicate events owns the
// transition.
func (i *Ingester) claimTimestamp(msgID uint, column string, ts time.Time) (bool, error) {
	res := i.db.Model(&models.Message{}).
		Where("id = ? AND "+column+" IS NULL", msgID).
		Update(column, ts)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// bumpCampaignCounters rolls webhook outcomes up onto the owning campaign.
// Only the event that claimed the message transition counts; a duplicate
// delivery arrives with claimed == false.
func (i *Ingester) bumpCampaignCounters(msg *models.Message, status models.MessageStatus, claimed bool) {
	if msg.CampaignID == nil || !claimed {
		return
	}

	var column string
	switch status {
	case models.StatusDelivered:
		column = "delivered_count"
	case models.StatusRead:
		column = "read_count"
	case models.StatusFailed:
		column = "failed_count"
	default:
		return
	}

	if err := i.db.Model(&models.Campaign{}).Where("id = ?", *msg.CampaignID).
		Update(column, gorm.Expr(column+" + 1")).Error; err != nil {
		i.log.Warnw("campaign counter update failed", "campaign", *msg.CampaignID, "err", err)
	}
}
