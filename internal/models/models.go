package models

import (
	"time"
)

// Template approval workflow states.
type TemplateStatus string

const (
	TemplateStatusPending   TemplateStatus = "pending"
	TemplateStatusSubmitted TemplateStatus = "submitted"
	TemplateStatusApproved  TemplateStatus = "approved"
	TemplateStatusRejected  TemplateStatus = "rejected"
)

// Template is a reusable message shape awaiting or holding platform approval.
type Template struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	TenantID           uint           `gorm:"index;not null" json:"tenant_id"`
	Name               string         `gorm:"type:varchar(255);not null" json:"name"`
	ExternalTemplateID *string        `gorm:"type:varchar(255)" json:"external_template_id"`
	Language           string         `gorm:"type:varchar(50)" json:"language"`
	Category           string         `gorm:"type:varchar(100)" json:"category"`
	HeaderText         string         `gorm:"type:text" json:"header_text"`
	BodyText           string         `gorm:"type:text" json:"body_text"`
	FooterText         string         `gorm:"type:text" json:"footer_text"`
	Buttons            string         `gorm:"type:text" json:"buttons"` // JSON button definitions
	Status             TemplateStatus `gorm:"type:varchar(20);default:'pending'" json:"status"`
	IsActive           bool           `gorm:"default:true" json:"is_active"`
	RejectionReason    string         `gorm:"type:text" json:"rejection_reason"`
	ApprovedAt         *time.Time     `json:"approved_at"`
	CreatedAt          time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Template) TableName() string { return "templates" }

// Sendable reports whether the template may back outbound messages.
func (t *Template) Sendable() bool {
	return t.Status == TemplateStatusApproved && t.IsActive
}

type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

type MessageType string

const (
	MessageTypeText        MessageType = "text"
	MessageTypeImage       MessageType = "image"
	MessageTypeVideo       MessageType = "video"
	MessageTypeAudio       MessageType = "audio"
	MessageTypeDocument    MessageType = "document"
	MessageTypeInteractive MessageType = "interactive"
	MessageTypeTemplate    MessageType = "template"
)

// MediaType reports whether t is one of the sendable media kinds.
func (t MessageType) MediaType() bool {
	switch t {
	case MessageTypeImage, MessageTypeVideo, MessageTypeAudio, MessageTypeDocument:
		return true
	}
	return false
}

type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// StatusRank orders the delivery path. Failed is terminal and handled
// separately; it never participates in forward advancement.
func StatusRank(s MessageStatus) int {
	switch s {
	case StatusPending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return -1
}

// Message is one directional unit of communication. ExternalMessageID is
// the idempotency key for webhook-driven updates: at most one row per
// (tenant, external id).
type Message struct {
	ID                uint             `gorm:"primaryKey" json:"id"`
	TenantID          uint             `gorm:"not null;uniqueIndex:ux_messages_tenant_external" json:"tenant_id"`
	ExternalMessageID *string          `gorm:"type:varchar(255);uniqueIndex:ux_messages_tenant_external" json:"external_message_id"`
	CustomerID        *uint            `json:"customer_id"`
	OrderID           *uint            `json:"order_id"`
	ConversationID    *uint            `gorm:"index" json:"conversation_id"`
	CampaignID        *uint            `gorm:"index" json:"campaign_id"`
	PhoneNumber       string           `gorm:"type:varchar(50);index" json:"phone_number"`
	Direction         MessageDirection `gorm:"type:varchar(10);not null" json:"direction"`
	Type              MessageType      `gorm:"type:varchar(20);not null" json:"type"`
	TemplateID        *uint            `json:"template_id"`
	Content           string           `gorm:"type:text" json:"content"`
	MediaURL          string           `gorm:"type:text" json:"media_url"`
	Caption           string           `gorm:"type:text" json:"caption"`
	Status            MessageStatus    `gorm:"type:varchar(20);default:'pending'" json:"status"`
	ErrorCode         string           `gorm:"type:varchar(50)" json:"error_code"`
	ErrorMessage      string           `gorm:"type:text" json:"error_message"`
	SentAt            *time.Time       `json:"sent_at"`
	DeliveredAt       *time.Time       `json:"delivered_at"`
	ReadAt            *time.Time       `json:"read_at"`
	CreatedAt         time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Message) TableName() string { return "messages" }

type ConversationStatus string

const (
	ConversationOpen   ConversationStatus = "open"
	ConversationClosed ConversationStatus = "closed"
)

// Conversation is a per-phone-number thread within a tenant. One row per
// (tenant, phone); closed threads reopen on the next message.
type Conversation struct {
	ID                     uint               `gorm:"primaryKey" json:"id"`
	TenantID               uint               `gorm:"not null;uniqueIndex:ux_conversations_tenant_phone" json:"tenant_id"`
	ExternalConversationID string             `gorm:"type:varchar(255)" json:"external_conversation_id"`
	CustomerID             *uint              `json:"customer_id"`
	PhoneNumber            string             `gorm:"type:varchar(50);not null;uniqueIndex:ux_conversations_tenant_phone" json:"phone_number"`
	CustomerName           string             `gorm:"type:varchar(255)" json:"customer_name"`
	Status                 ConversationStatus `gorm:"type:varchar(10);default:'open'" json:"status"`
	AssignedTo             string             `gorm:"type:varchar(255)" json:"assigned_to"`
	LastMessageAt          *time.Time         `json:"last_message_at"`
	LastMessagePreview     string             `gorm:"type:varchar(255)" json:"last_message_preview"`
	UnreadCount            int                `gorm:"default:0" json:"unread_count"`
	OpenedByCustomer       bool               `json:"opened_by_customer"`
	WindowExpiresAt        *time.Time         `json:"window_expires_at"`
	CreatedAt              time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Conversation) TableName() string { return "conversations" }

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignPaused    CampaignStatus = "paused"
	CampaignSent      CampaignStatus = "sent"
)

// Campaign is a batch send tied to one template and one audience definition.
type Campaign struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	TenantID       uint           `gorm:"index;not null" json:"tenant_id"`
	Name           string         `gorm:"type:varchar(255);not null" json:"name"`
	TemplateID     uint           `gorm:"not null" json:"template_id"`
	AudienceID     string         `gorm:"type:varchar(255)" json:"audience_id"`
	Recipients     string         `gorm:"type:text" json:"recipients"` // JSON recipient list
	Status         CampaignStatus `gorm:"type:varchar(20);default:'draft'" json:"status"`
	ScheduledAt    *time.Time     `json:"scheduled_at"`
	SentAt         *time.Time     `json:"sent_at"`
	RecipientCount int            `gorm:"default:0" json:"recipient_count"`
	SentCount      int            `gorm:"default:0" json:"sent_count"`
	DeliveredCount int            `gorm:"default:0" json:"delivered_count"`
	ReadCount      int            `gorm:"default:0" json:"read_count"`
	FailedCount    int            `gorm:"default:0" json:"failed_count"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Campaign) TableName() string { return "campaigns" }

// Mutable reports whether field-level updates and deletes are still allowed.
func (c *Campaign) Mutable() bool {
	return c.Status == CampaignDraft || c.Status == CampaignScheduled || c.Status == CampaignPaused
}
