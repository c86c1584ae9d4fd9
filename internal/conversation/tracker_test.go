package conversation

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"waba-gateway/internal/database"
	"waba-gateway/internal/models"
)

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

func newMessage(t *testing.T, db *gorm.DB, direction models.MessageDirection, content string) *models.Message {
	t.Helper()
	msg := &models.Message{
		TenantID:    1,
		PhoneNumber: "+15551234567",
		Direction:   direction,
		Type:        models.MessageTypeText,
		Content:     content,
		Status:      models.StatusPending,
	}
	if err := db.Create(msg).Error; err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestAttach_CreatesThread(t *testing.T) {
	db := testDB(t)
	tr := NewTracker(db, 24*time.Hour)

	msg := newMessage(t, db, models.DirectionInbound, "hello")
	conv, err := tr.Attach(1, "+15551234567", msg)
	if err != nil {
		t.Fatal(err)
	}

	if conv.Status != models.ConversationOpen {
		t.Fatalf("status = %s, want open", conv.Status)
	}
	if !conv.OpenedByCustomer {
		t.Fatal("inbound-created thread not marked customer-opened")
	}
	if conv.UnreadCount != 1 {
		t.Fatalf("unread = %d, want 1", conv.UnreadCount)
	}
	if msg.ConversationID == nil || *msg.ConversationID != conv.ID {
		t.Fatal("message not linked to conversation")
	}
}

func TestAttach_UnreadIncrementsFromStoredValue(t *testing.T) {
	db := testDB(t)
	tr := NewTracker(db, 24*time.Hour)

	msg := newMessage(t, db, models.DirectionInbound, "hello")
	conv, err := tr.Attach(1, "+15551234567", msg)
	if err != nil {
		t.Fatal(err)
	}

	// Another writer lands between our deliveries. The increment must be
	// applied to whatever the row holds, not to a stale in-memory copy,
	// and columns owned by other writers stay untouched.
	if err := db.Model(&models.Conversation{}).Where("id = ?", conv.ID).
		Updates(map[string]any{"unread_count": 7, "assigned_to": "sam"}).Error; err != nil {
		t.Fatal(err)
	}

	msg2 := newMessage(t, db, models.DirectionInbound, "again")
	conv, err = tr.Attach(1, "+15551234567", msg2)
	if err != nil {
		t.Fatal(err)
	}
	if conv.UnreadCount != 8 {
		t.Fatalf("unread = %d, want 8", conv.UnreadCount)
	}
	if conv.AssignedTo != "sam" {
		t.Fatalf("assignment clobbered: %q", conv.AssignedTo)
	}
}

func TestAttach_ReusesThreadPerPhone(t *testing.T) {
	db := testDB(t)
	tr := NewTracker(db, 24*time.Hour)

	first, err := tr.Attach(1, "+15551234567", newMessage(t, db, models.DirectionInbound, "a"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := tr.Attach(1, "+15551234567", newMessage(t, db, models.DirectionOutbound, "b"))
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected one thread per phone, got %d and %d", first.ID, second.ID)
	}

	var count int64
	db.Model(&models.Conversation{}).Count(&count)
	if count != 1 {
		t.Fatalf("conversation rows = %d, want 1", count)
	}
}

func TestAttach_InboundExtendsWindow(t *testing.T) {
	db := testDB(t)
	tr := NewTracker(db, time.Hour)

	conv, err := tr.Attach(1, "+15551234567", newMessage(t, db, models.DirectionInbound, "hi"))
	if err != nil {
		t.Fatal(err)
	}
	if conv.WindowExpiresAt == nil {
		t.Fatal("inbound message did not set window expiry")
	}
	remaining := time.Until(*conv.WindowExpiresAt)
	if remaining < 59*time.Minute || remaining > time.Hour {
		t.Fatalf("window expiry off: %v remaining", remaining)
	}

	open, err := tr.IsWindowOpen(conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !open {
		t.Fatal("window should be open after inbound message")
	}
}

func TestAttach_OutboundNeverTouchesWindow(t *testing.T) {
	db := testDB(t)
	tr := NewTracker(db, time.Hour)

	conv, err := tr.Attach(1, "+15551234567", newMessage(t, db, models.DirectionOutbound, "promo"))
	if err != nil {
		t.Fatal(err)
	}
	if conv.WindowExpiresAt != nil {
		t.Fatal("outbound message set a window expiry")
	}

	open, err := tr.IsWindowOpen(conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if open {
		t.Fatal("window open without any inbound message")
	}

	// An inbound opens it, a later outbound must not shrink or extend it.
	conv, err = tr.Attach(1, "+15551234567", newMessage(t, db, models.DirectionInbound, "hi"))
	if err != nil {
		t.Fatal(err)
	}
	before := *conv.WindowExpiresAt

	conv, err = tr.Attach(1, "+15551234567", newMessage(t, db, models.DirectionOutbound, "reply"))
	if err != nil {
		t.Fatal(err)
	}
	if conv.WindowExpiresAt == nil || !conv.WindowExpiresAt.Equal(before) {
		t.Fatalf("outbound changed window expiry: %v -> %v", before, conv.WindowExpiresAt)
	}
}

func TestAttach_ReopensClosedThread(t *testing.T) {
	db := testDB(t)
	tr := NewTracker(db, time.Hour)

	conv, err := tr.Attach(1, "+15551234567", newMessage(t, db, models.DirectionInbound, "hi"))
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Close(1, conv.ID); err != nil {
		t.Fatal(err)
	}

	conv, err = tr.Attach(1, "+15551234567", newMessage(t, db, models.DirectionInbound, "back again"))
	if err != nil {
		t.Fatal(err)
	}
	if conv.Status != models.ConversationOpen {
		t.Fatalf("status = %s, want open after new message", conv.Status)
	}
}

func TestAttach_PreviewTruncation(t *testing.T) {
	db := testDB(t)
	tr := NewTracker(db, time.Hour)

	long := strings.Repeat("x", 500)
	conv, err := tr.Attach(1, "+15551234567", newMessage(t, db, models.DirectionInbound, long))
	if err != nil {
		t.Fatal(err)
	}
	if got := len([]rune(conv.LastMessagePreview)); got != 120 {
		t.Fatalf("preview length = %d, want 120", got)
	}

	short := "short one"
	conv, err = tr.Attach(1, "+15551234567", newMessage(t, db, models.DirectionInbound, short))
	if err != nil {
		t.Fatal(err)
	}
	if conv.LastMessagePreview != short {
		t.Fatalf("preview = %q, want %q", conv.LastMessagePreview, short)
	}
}

func TestAttach_TenantsIsolated(t *testing.T) {
	db := testDB(t)
	tr := NewTracker(db, time.Hour)

	a, err := tr.Attach(1, "+15551234567", newMessage(t, db, models.DirectionInbound, "t1"))
	if err != nil {
		t.Fatal(err)
	}

	msg := &models.Message{
		TenantID:    2,
		PhoneNumber: "+15551234567",
		Direction:   models.DirectionInbound,
		Type:        models.MessageTypeText,
		Content:     "t2",
	}
	if err := db.Create(msg).Error; err != nil {
		t.Fatal(err)
	}
	b, err := tr.Attach(2, "+15551234567", msg)
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == b.ID {
		t.Fatal("tenants share a conversation row")
	}
}

func TestUpdateFromStatus_ReadClearsUnread(t *testing.T) {
	db := testDB(t)
	tr := NewTracker(db, time.Hour)

	conv, err := tr.Attach(1, "+15551234567", newMessage(t, db, models.DirectionInbound, "a"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Attach(1, "+15551234567", newMessage(t, db, models.DirectionInbound, "b")); err != nil {
		t.Fatal(err)
	}

	out := newMessage(t, db, models.DirectionOutbound, "reply")
	out.ConversationID = &conv.ID
	if err := tr.UpdateFromStatus(out, models.StatusRead); err != nil {
		t.Fatal(err)
	}

	got, err := tr.Get(1, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.UnreadCount != 0 {
		t.Fatalf("unread = %d, want 0 after read", got.UnreadCount)
	}

	// Non-read statuses are a no-op.
	if _, err := tr.Attach(1, "+15551234567", newMessage(t, db, models.DirectionInbound, "c")); err != nil {
		t.Fatal(err)
	}
	if err := tr.UpdateFromStatus(out, models.StatusDelivered); err != nil {
		t.Fatal(err)
	}
	got, _ = tr.Get(1, conv.ID)
	if got.UnreadCount != 1 {
		t.Fatalf("unread = %d, want 1 after delivered", got.UnreadCount)
	}
}

func TestSetWindowExpiry(t *testing.T) {
	db := testDB(t)
	tr := NewTracker(db, time.Hour)

	conv, err := tr.Attach(1, "+15551234567", newMessage(t, db, models.DirectionInbound, "a"))
	if err != nil {
		t.Fatal(err)
	}

	expiry := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	if err := tr.SetWindowExpiry(conv.ID, "conv-ext-1", expiry); err != nil {
		t.Fatal(err)
	}

	got, err := tr.Get(1, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ExternalConversationID != "conv-ext-1" {
		t.Fatalf("external id = %q", got.ExternalConversationID)
	}
	if got.WindowExpiresAt == nil || !got.WindowExpiresAt.Equal(expiry) {
		t.Fatalf("window expiry = %v, want %v", got.WindowExpiresAt, expiry)
	}
}

func TestCloseAndReassign_UnknownThread(t *testing.T) {
	db := testDB(t)
	tr := NewTracker(db, time.Hour)

	if err := tr.Close(1, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if err := tr.Reassign(1, 999, "agent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestList_MostRecentFirst(t *testing.T) {
	db := testDB(t)
	tr := NewTracker(db, time.Hour)

	if _, err := tr.Attach(1, "+15551230001", newMessage(t, db, models.DirectionInbound, "older")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := tr.Attach(1, "+15551230002", newMessage(t, db, models.DirectionInbound, "newer")); err != nil {
		t.Fatal(err)
	}

	convs, err := tr.List(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 {
		t.Fatalf("len = %d, want 2", len(convs))
	}
	if convs[0].PhoneNumber != "+15551230002" {
		t.Fatalf("most recent thread not first: %s", convs[0].PhoneNumber)
	}
}
