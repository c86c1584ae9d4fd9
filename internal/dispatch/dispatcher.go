// Package dispatch turns send intents into Graph API calls and persisted
// message rows. Every send persists a pending row before the network call
// so a crash mid-call still leaves an auditable record; the returned
// message reflects the outcome instead of raising transport errors.
package dispatch

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"waba-gateway/internal/conversation"
	"waba-gateway/internal/graph"
	"waba-gateway/internal/models"
	"waba-gateway/internal/phone"
	"waba-gateway/pkg/logx"
	"waba-gateway/pkg/metrics"
)

var (
	ErrTemplateNotFound       = errors.New("template not found")
	ErrTemplateNotSendable    = errors.New("template is not approved and active")
	ErrInvalidMediaType       = errors.New("media type must be image, video, audio or document")
	ErrInvalidInteractiveKind = errors.New("interactive type must be button or list")
	ErrEmptyContent           = errors.New("message content is required")
)

// Sender is the slice of the Graph client the dispatcher needs.
type Sender interface {
	SendMessage(ctx context.Context, msg graph.GenericMessage) (*graph.SendResponse, error)
	MarkRead(ctx context.Context, externalMessageID string) error
}

type Dispatcher struct {
	db      *gorm.DB
	sender  Sender
	tracker *conversation.Tracker
	log     *zap.SugaredLogger
}

func NewDispatcher(db *gorm.DB, sender Sender, tracker *conversation.Tracker) *Dispatcher {
	return &Dispatcher{db: db, sender: sender, tracker: tracker, log: logx.Named("dispatch")}
}

// SendTemplate sends an approved template with strictly positional body
// parameters. Precondition violations are returned; remote failures are
// folded into the message row.
func (d *Dispatcher) SendTemplate(ctx context.Context, tenantID uint, to string, templateID uint, params []string) (*models.Message, error) {
	dest, err := phone.Normalize(to)
	if err != nil {
		return nil, err
	}

	var tmpl models.Template
	if err := d.db.Where("id = ? AND tenant_id = ?", templateID, tenantID).First(&tmpl).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}
	if !tmpl.Sendable() {
		return nil, ErrTemplateNotSendable
	}

	payload := graph.GenericMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               dest,
		Type:             "template",
		Template: &graph.TemplateObj{
			Name:     tmpl.Name,
			Language: graph.LanguageObj{Code: tmpl.Language},
		},
	}
	if len(params) > 0 {
		component := graph.ComponentObj{Type: "body"}
		for _, p := range params {
			component.Parameters = append(component.Parameters, graph.ParameterObj{Type: "text", Text: p})
		}
		payload.Template.Components = []graph.ComponentObj{component}
	}

	msg := &models.Message{
		TenantID:    tenantID,
		PhoneNumber: dest,
		Direction:   models.DirectionOutbound,
		Type:        models.MessageTypeTemplate,
		TemplateID:  &tmpl.ID,
		Content:     tmpl.BodyText,
		Status:      models.StatusPending,
	}
	return d.execute(ctx, msg, payload)
}

// SendText sends a free-form text message. Window policy is enforced by
// the remote platform, not here: an expired window surfaces as a failed
// message, exactly like any other remote rejection.
func (d *Dispatcher) SendText(ctx context.Context, tenantID uint, to, body string) (*models.Message, error) {
	dest, err := phone.Normalize(to)
	if err != nil {
		return nil, err
	}
	if body == "" {
		return nil, ErrEmptyContent
	}

	payload := graph.GenericMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               dest,
		Type:             "text",
		Text:             &graph.TextObj{Body: body},
	}

	msg := &models.Message{
		TenantID:    tenantID,
		PhoneNumber: dest,
		Direction:   models.DirectionOutbound,
		Type:        models.MessageTypeText,
		Content:     body,
		Status:      models.StatusPending,
	}
	return d.execute(ctx, msg, payload)
}

// SendMedia sends an image, video, audio or document by link.
func (d *Dispatcher) SendMedia(ctx context.Context, tenantID uint, to string, mediaType models.MessageType, link, caption string) (*models.Message, error) {
	dest, err := phone.Normalize(to)
	if err != nil {
		return nil, err
	}
	if !mediaType.MediaType() {
		return nil, ErrInvalidMediaType
	}
	if link == "" {
		return nil, ErrEmptyContent
	}

	media := &graph.MediaObj{Link: link, Caption: caption}
	payload := graph.GenericMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               dest,
		Type:             string(mediaType),
	}
	switch mediaType {
	case models.MessageTypeImage:
		payload.Image = media
	case models.MessageTypeVideo:
		payload.Video = media
	case models.MessageTypeAudio:
		payload.Audio = &graph.MediaObj{Link: link}
	case models.MessageTypeDocument:
		payload.Document = media
	}

	msg := &models.Message{
		TenantID:    tenantID,
		PhoneNumber: dest,
		Direction:   models.DirectionOutbound,
		Type:        mediaType,
		Content:     caption,
		MediaURL:    link,
		Caption:     caption,
		Status:      models.StatusPending,
	}
	return d.execute(ctx, msg, payload)
}

// InteractiveButton is one reply button of a button-type interactive send.
type InteractiveButton struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// InteractiveSection is one section of a list-type interactive send.
type InteractiveSection struct {
	Title string `json:"title"`
	Rows  []struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"rows"`
}

// Interactive describes exactly the two supported interactive shapes.
type Interactive struct {
	Kind       string               `json:"kind"` // button or list
	Body       string               `json:"body"`
	Buttons    []InteractiveButton  `json:"buttons"`
	ListButton string               `json:"list_button"`
	Sections   []InteractiveSection `json:"sections"`
}

// SendInteractive sends a button or list interactive message; any other
// kind is rejected.
func (d *Dispatcher) SendInteractive(ctx context.Context, tenantID uint, to string, in Interactive) (*models.Message, error) {
	dest, err := phone.Normalize(to)
	if err != nil {
		return nil, err
	}
	if in.Body == "" {
		return nil, ErrEmptyContent
	}

	obj := &graph.InteractiveObj{
		Type: in.Kind,
		Body: graph.BodyObj{Text: in.Body},
	}

	switch in.Kind {
	case "button":
		for _, b := range in.Buttons {
			obj.Action.Buttons = append(obj.Action.Buttons, graph.ButtonObj{
				Type:  "reply",
				Reply: graph.ReplyObj{ID: b.ID, Title: b.Title},
			})
		}
	case "list":
		obj.Action.Button = in.ListButton
		for _, s := range in.Sections {
			section := graph.SectionObj{Title: s.Title}
			for _, r := range s.Rows {
				section.Rows = append(section.Rows, graph.RowObj{ID: r.ID, Title: r.Title, Description: r.Description})
			}
			obj.Action.Sections = append(obj.Action.Sections, section)
		}
	default:
		return nil, ErrInvalidInteractiveKind
	}

	payload := graph.GenericMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               dest,
		Type:             "interactive",
		Interactive:      obj,
	}

	msg := &models.Message{
		TenantID:    tenantID,
		PhoneNumber: dest,
		Direction:   models.DirectionOutbound,
		Type:        models.MessageTypeInteractive,
		Content:     in.Body,
		Status:      models.StatusPending,
	}
	return d.execute(ctx, msg, payload)
}

// MarkRead requests a read receipt for an inbound message.
func (d *Dispatcher) MarkRead(ctx context.Context, msg *models.Message) error {
	if msg.ExternalMessageID == nil {
		return errors.New("message has no external id")
	}
	return d.sender.MarkRead(ctx, *msg.ExternalMessageID)
}

// execute runs the persist-pending, call-remote, persist-outcome sequence.
// No locks are held across the network call; the pending row is an audit
// record, not a lock.
func (d *Dispatcher) execute(ctx context.Context, msg *models.Message, payload graph.GenericMessage) (*models.Message, error) {
	if err := d.db.Create(msg).Error; err != nil {
		return nil, err
	}

	resp, err := d.sender.SendMessage(ctx, payload)
	if err != nil {
		msg.Status = models.StatusFailed
		var apiErr *graph.APIError
		if errors.As(err, &apiErr) {
			msg.ErrorCode = strconv.Itoa(apiErr.Code)
			msg.ErrorMessage = apiErr.Message
		} else {
			msg.ErrorMessage = err.Error()
		}
		d.log.Warnw("send failed", "to", msg.PhoneNumber, "type", msg.Type, "err", err)
		metrics.MessagesDispatched.WithLabelValues(string(msg.Type), "failed").Inc()
	} else {
		externalID := resp.Messages[0].ID
		now := time.Now()
		msg.ExternalMessageID = &externalID
		msg.Status = models.StatusSent
		msg.SentAt = &now
		metrics.MessagesDispatched.WithLabelValues(string(msg.Type), "sent").Inc()
	}

	if err := d.db.Save(msg).Error; err != nil {
		return nil, err
	}

	if _, err := d.tracker.Attach(msg.TenantID, msg.PhoneNumber, msg); err != nil {
		d.log.Errorw("conversation attach failed", "message", msg.ID, "err", err)
	}

	return msg, nil
}
