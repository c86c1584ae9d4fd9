package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"waba-gateway/internal/conversation"
	"waba-gateway/internal/database"
	"waba-gateway/internal/graph"
	"waba-gateway/internal/models"
)

type fakeSender struct {
	err      error
	lastSent *graph.GenericMessage
	readIDs  []string
	nextID   int
}

func (f *fakeSender) SendMessage(_ context.Context, msg graph.GenericMessage) (*graph.SendResponse, error) {
	f.lastSent = &msg
	if f.err != nil {
		return nil, f.err
	}
	f.nextID++
	return &graph.SendResponse{
		Messages: []graph.SentMessage{{ID: fmt.Sprintf("wamid.%d", f.nextID)}},
	}, nil
}

func (f *fakeSender) MarkRead(_ context.Context, externalID string) error {
	f.readIDs = append(f.readIDs, externalID)
	return nil
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatal(err)
	}
	return db
}

func newDispatcher(t *testing.T, db *gorm.DB, sender *fakeSender) *Dispatcher {
	t.Helper()
	return NewDispatcher(db, sender, conversation.NewTracker(db, 24*time.Hour))
}

func approvedTemplate(t *testing.T, db *gorm.DB) *models.Template {
	t.Helper()
	tmpl := &models.Template{
		TenantID: 1,
		Name:     "order_update",
		Language: "en",
		BodyText: "Your order {{1}} has shipped.",
		Status:   models.TemplateStatusApproved,
		IsActive: true,
	}
	if err := db.Create(tmpl).Error; err != nil {
		t.Fatal(err)
	}
	return tmpl
}

func TestSendText_Success(t *testing.T) {
	db := testDB(t)
	sender := &fakeSender{}
	d := newDispatcher(t, db, sender)

	msg, err := d.SendText(context.Background(), 1, "+1 (555) 123-4567", "hello")
	if err != nil {
		t.Fatal(err)
	}

	if msg.Status != models.StatusSent {
		t.Fatalf("status = %s, want sent", msg.Status)
	}
	if msg.ExternalMessageID == nil || *msg.ExternalMessageID == "" {
		t.Fatal("no external id recorded")
	}
	if msg.SentAt == nil {
		t.Fatal("sent_at not set")
	}
	if msg.PhoneNumber != "+15551234567" {
		t.Fatalf("phone not normalized: %s", msg.PhoneNumber)
	}
	if sender.lastSent.To != "+15551234567" {
		t.Fatalf("payload to = %s", sender.lastSent.To)
	}
	if msg.ConversationID == nil {
		t.Fatal("message not attached to a conversation")
	}
}

func TestSendText_RemoteFailurePersisted(t *testing.T) {
	db := testDB(t)
	sender := &fakeSender{err: &graph.APIError{Message: "Message undeliverable", Code: 131026}}
	d := newDispatcher(t, db, sender)

	msg, err := d.SendText(context.Background(), 1, "+15551234567", "hello")
	if err != nil {
		t.Fatalf("remote failure must not surface as an error, got %v", err)
	}

	if msg.Status != models.StatusFailed {
		t.Fatalf("status = %s, want failed", msg.Status)
	}
	if msg.ErrorCode != "131026" {
		t.Fatalf("error code = %q", msg.ErrorCode)
	}
	if msg.ErrorMessage != "Message undeliverable" {
		t.Fatalf("error message = %q", msg.ErrorMessage)
	}
	if msg.ExternalMessageID != nil {
		t.Fatal("failed message has an external id")
	}

	// The row is persisted either way.
	var stored models.Message
	if err := db.First(&stored, msg.ID).Error; err != nil {
		t.Fatal(err)
	}
	if stored.Status != models.StatusFailed {
		t.Fatalf("stored status = %s", stored.Status)
	}
}

func TestSendText_TransportFailurePersisted(t *testing.T) {
	db := testDB(t)
	sender := &fakeSender{err: errors.New("dial tcp: connection refused")}
	d := newDispatcher(t, db, sender)

	msg, err := d.SendText(context.Background(), 1, "+15551234567", "hello")
	if err != nil {
		t.Fatalf("transport failure must not surface as an error, got %v", err)
	}
	if msg.Status != models.StatusFailed {
		t.Fatalf("status = %s, want failed", msg.Status)
	}
	if msg.ErrorCode != "" {
		t.Fatalf("transport failure should carry no remote code, got %q", msg.ErrorCode)
	}
	if !strings.Contains(msg.ErrorMessage, "connection refused") {
		t.Fatalf("error message = %q", msg.ErrorMessage)
	}
}

func TestSendText_PreconditionsRaise(t *testing.T) {
	db := testDB(t)
	d := newDispatcher(t, db, &fakeSender{})
	ctx := context.Background()

	if _, err := d.SendText(ctx, 1, "", "hello"); err == nil {
		t.Fatal("empty recipient accepted")
	}
	if _, err := d.SendText(ctx, 1, "not-a-phone", "hello"); err == nil {
		t.Fatal("invalid recipient accepted")
	}
	if _, err := d.SendText(ctx, 1, "+15551234567", ""); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("want ErrEmptyContent, got %v", err)
	}

	// Nothing was persisted for precondition failures.
	var count int64
	db.Model(&models.Message{}).Count(&count)
	if count != 0 {
		t.Fatalf("message rows = %d, want 0", count)
	}
}

func TestSendTemplate_Success(t *testing.T) {
	db := testDB(t)
	sender := &fakeSender{}
	d := newDispatcher(t, db, sender)
	tmpl := approvedTemplate(t, db)

	msg, err := d.SendTemplate(context.Background(), 1, "+15551234567", tmpl.ID, []string{"A-1001"})
	if err != nil {
		t.Fatal(err)
	}

	if msg.Status != models.StatusSent {
		t.Fatalf("status = %s", msg.Status)
	}
	if msg.TemplateID == nil || *msg.TemplateID != tmpl.ID {
		t.Fatal("template not linked")
	}

	p := sender.lastSent
	if p.Type != "template" || p.Template == nil {
		t.Fatal("payload is not a template message")
	}
	if p.Template.Name != "order_update" || p.Template.Language.Code != "en" {
		t.Fatalf("template payload: %+v", p.Template)
	}
	if len(p.Template.Components) != 1 || len(p.Template.Components[0].Parameters) != 1 {
		t.Fatalf("components: %+v", p.Template.Components)
	}
	if p.Template.Components[0].Parameters[0].Text != "A-1001" {
		t.Fatalf("param: %+v", p.Template.Components[0].Parameters[0])
	}
}

func TestSendTemplate_NoParamsOmitsComponents(t *testing.T) {
	db := testDB(t)
	sender := &fakeSender{}
	d := newDispatcher(t, db, sender)
	tmpl := approvedTemplate(t, db)

	if _, err := d.SendTemplate(context.Background(), 1, "+15551234567", tmpl.ID, nil); err != nil {
		t.Fatal(err)
	}
	if len(sender.lastSent.Template.Components) != 0 {
		t.Fatal("components present without params")
	}
}

func TestSendTemplate_Gating(t *testing.T) {
	db := testDB(t)
	d := newDispatcher(t, db, &fakeSender{})
	ctx := context.Background()

	if _, err := d.SendTemplate(ctx, 1, "+15551234567", 999, nil); !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("want ErrTemplateNotFound, got %v", err)
	}

	pending := &models.Template{TenantID: 1, Name: "wip", Language: "en", BodyText: "x", Status: models.TemplateStatusPending, IsActive: true}
	if err := db.Create(pending).Error; err != nil {
		t.Fatal(err)
	}
	if _, err := d.SendTemplate(ctx, 1, "+15551234567", pending.ID, nil); !errors.Is(err, ErrTemplateNotSendable) {
		t.Fatalf("want ErrTemplateNotSendable for pending, got %v", err)
	}

	inactive := &models.Template{TenantID: 1, Name: "old", Language: "en", BodyText: "x", Status: models.TemplateStatusApproved, IsActive: false}
	if err := db.Create(inactive).Error; err != nil {
		t.Fatal(err)
	}
	if _, err := d.SendTemplate(ctx, 1, "+15551234567", inactive.ID, nil); !errors.Is(err, ErrTemplateNotSendable) {
		t.Fatalf("want ErrTemplateNotSendable for inactive, got %v", err)
	}

	// Approved template of another tenant is invisible.
	other := approvedTemplate(t, db)
	if _, err := d.SendTemplate(ctx, 2, "+15551234567", other.ID, nil); !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("want ErrTemplateNotFound across tenants, got %v", err)
	}
}

func TestSendMedia(t *testing.T) {
	db := testDB(t)
	sender := &fakeSender{}
	d := newDispatcher(t, db, sender)
	ctx := context.Background()

	msg, err := d.SendMedia(ctx, 1, "+15551234567", models.MessageTypeImage, "https://cdn.example.com/a.jpg", "a caption")
	if err != nil {
		t.Fatal(err)
	}
	if msg.MediaURL != "https://cdn.example.com/a.jpg" || msg.Caption != "a caption" {
		t.Fatalf("media fields: %+v", msg)
	}
	if sender.lastSent.Image == nil || sender.lastSent.Image.Link == "" {
		t.Fatal("image payload missing")
	}

	if _, err := d.SendMedia(ctx, 1, "+15551234567", models.MessageTypeText, "https://x", ""); !errors.Is(err, ErrInvalidMediaType) {
		t.Fatalf("want ErrInvalidMediaType, got %v", err)
	}
	if _, err := d.SendMedia(ctx, 1, "+15551234567", models.MessageTypeImage, "", ""); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("want ErrEmptyContent, got %v", err)
	}
}

func TestSendInteractive(t *testing.T) {
	db := testDB(t)
	sender := &fakeSender{}
	d := newDispatcher(t, db, sender)
	ctx := context.Background()

	_, err := d.SendInteractive(ctx, 1, "+15551234567", Interactive{
		Kind: "button",
		Body: "Pick one",
		Buttons: []InteractiveButton{
			{ID: "yes", Title: "Yes"},
			{ID: "no", Title: "No"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := len(sender.lastSent.Interactive.Action.Buttons); got != 2 {
		t.Fatalf("buttons = %d, want 2", got)
	}

	if _, err := d.SendInteractive(ctx, 1, "+15551234567", Interactive{Kind: "carousel", Body: "x"}); !errors.Is(err, ErrInvalidInteractiveKind) {
		t.Fatalf("want ErrInvalidInteractiveKind, got %v", err)
	}
	if _, err := d.SendInteractive(ctx, 1, "+15551234567", Interactive{Kind: "button"}); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("want ErrEmptyContent, got %v", err)
	}
}

func TestOutboundDoesNotOpenWindow(t *testing.T) {
	db := testDB(t)
	d := newDispatcher(t, db, &fakeSender{})

	msg, err := d.SendText(context.Background(), 1, "+15551234567", "hello")
	if err != nil {
		t.Fatal(err)
	}

	var conv models.Conversation
	if err := db.First(&conv, *msg.ConversationID).Error; err != nil {
		t.Fatal(err)
	}
	if conv.WindowExpiresAt != nil {
		t.Fatal("outbound send opened a reply window")
	}
	if conv.UnreadCount != 0 {
		t.Fatalf("unread = %d after outbound", conv.UnreadCount)
	}
}

func TestMarkRead(t *testing.T) {
	db := testDB(t)
	sender := &fakeSender{}
	d := newDispatcher(t, db, sender)

	ext := "wamid.inbound.1"
	msg := &models.Message{TenantID: 1, ExternalMessageID: &ext, Direction: models.DirectionInbound, Type: models.MessageTypeText}
	if err := db.Create(msg).Error; err != nil {
		t.Fatal(err)
	}

	if err := d.MarkRead(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if len(sender.readIDs) != 1 || sender.readIDs[0] != ext {
		t.Fatalf("read ids: %v", sender.readIDs)
	}

	if err := d.MarkRead(context.Background(), &models.Message{}); err == nil {
		t.Fatal("mark read without external id accepted")
	}
}
