// Package conversation is the single authority for thread bookkeeping:
// window expiry, unread counts and message previews.
package conversation

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"waba-gateway/internal/models"
	"waba-gateway/pkg/logx"
)

const previewLength = 120

var ErrNotFound = errors.New("conversation not found")

type Tracker struct {
	db     *gorm.DB
	window time.Duration
}

func NewTracker(db *gorm.DB, window time.Duration) *Tracker {
	if window == 0 {
		window = 24 * time.Hour
	}
	return &Tracker{db: db, window: window}
}

// Attach finds or creates the thread for (tenant, phone), updates its
// bookkeeping and links the message to it. Inbound messages bump the unread
// count and extend the reply window; outbound messages never touch the
// window.
func (t *Tracker) Attach(tenantID uint, phoneNumber string, msg *models.Message) (*models.Conversation, error) {
	var conv models.Conversation

	err := t.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("tenant_id = ? AND phone_number = ?", tenantID, phoneNumber).First(&conv).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			conv = models.Conversation{
				TenantID:         tenantID,
				PhoneNumber:      phoneNumber,
				Status:           models.ConversationOpen,
				OpenedByCustomer: msg.Direction == models.DirectionInbound,
			}
			if err := tx.Create(&conv).Error; err != nil {
				// Lost a create race; the winner's row is the thread.
				if !errors.Is(err, gorm.ErrDuplicatedKey) {
					return err
				}
				if err := tx.Where("tenant_id = ? AND phone_number = ?", tenantID, phoneNumber).First(&conv).Error; err != nil {
					return err
				}
			}
		} else if err != nil {
			return err
		}

		// Column-level updates only; the unread increment runs in SQL so
		// concurrent deliveries to the same thread cannot lose each
		// other's bump, and fields owned by other writers stay untouched.
		now := time.Now()
		updates := map[string]any{
			"status":               models.ConversationOpen,
			"last_message_at":      now,
			"last_message_preview": truncatePreview(msg.Content),
		}
		if msg.Direction == models.DirectionInbound {
			updates["unread_count"] = gorm.Expr("unread_count + 1")
			updates["window_expires_at"] = now.Add(t.window)
		}
		if err := tx.Model(&models.Conversation{}).Where("id = ?", conv.ID).Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.First(&conv, conv.ID).Error; err != nil {
			return err
		}

		msg.ConversationID = &conv.ID
		return tx.Model(&models.Message{}).Where("id = ?", msg.ID).
			Update("conversation_id", conv.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// IsWindowOpen reports whether free-form replies are currently permitted.
// It only reports state; enforcement belongs to the remote platform.
func (t *Tracker) IsWindowOpen(conversationID uint) (bool, error) {
	var conv models.Conversation
	if err := t.db.First(&conv, conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrNotFound
		}
		return false, err
	}
	return conv.WindowExpiresAt != nil && conv.WindowExpiresAt.After(time.Now()), nil
}

// UpdateFromStatus applies conversation-side effects of a message status
// event: an observed read zeroes the thread's unread count.
func (t *Tracker) UpdateFromStatus(msg *models.Message, status models.MessageStatus) error {
	if status != models.StatusRead || msg.ConversationID == nil {
		return nil
	}
	return t.db.Model(&models.Conversation{}).Where("id = ?", *msg.ConversationID).
		Update("unread_count", 0).Error
}

// SetWindowExpiry propagates window data carried by a webhook status event.
func (t *Tracker) SetWindowExpiry(conversationID uint, externalID string, expiresAt time.Time) error {
	updates := map[string]any{"window_expires_at": expiresAt}
	if externalID != "" {
		updates["external_conversation_id"] = externalID
	}
	return t.db.Model(&models.Conversation{}).Where("id = ?", conversationID).
		Updates(updates).Error
}

// SetCustomerName records the display name reported by the platform.
func (t *Tracker) SetCustomerName(conversationID uint, name string) error {
	if name == "" {
		return nil
	}
	return t.db.Model(&models.Conversation{}).Where("id = ?", conversationID).
		Update("customer_name", name).Error
}

func (t *Tracker) Close(tenantID, conversationID uint) error {
	return t.mutate(tenantID, conversationID, map[string]any{"status": models.ConversationClosed})
}

func (t *Tracker) Reassign(tenantID, conversationID uint, assignee string) error {
	return t.mutate(tenantID, conversationID, map[string]any{"assigned_to": assignee})
}

func (t *Tracker) mutate(tenantID, conversationID uint, updates map[string]any) error {
	res := t.db.Model(&models.Conversation{}).
		Where("id = ? AND tenant_id = ?", conversationID, tenantID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *Tracker) Get(tenantID, conversationID uint) (*models.Conversation, error) {
	var conv models.Conversation
	err := t.db.Where("id = ? AND tenant_id = ?", conversationID, tenantID).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (t *Tracker) List(tenantID uint) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := t.db.Where("tenant_id = ?", tenantID).
		Order("last_message_at DESC NULLS LAST").Find(&convs).Error
	if err != nil {
		logx.Named("conversation").Errorw("list failed", "tenant", tenantID, "err", err)
		return nil, err
	}
	return convs, nil
}

func truncatePreview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLength {
		return content
	}
	return string(runes[:previewLength])
}
