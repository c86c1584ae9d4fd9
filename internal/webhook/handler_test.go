package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"waba-gateway/internal/models"
	"waba-gateway/internal/signature"
)

func newTestRouter(t *testing.T, secret string) (*gin.Engine, *fixture) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := newFixture(t, false)
	h := NewHandler("verify-me", signature.NewVerifier(secret), f.ingester)

	r := gin.New()
	r.GET("/webhook", h.Verify)
	r.POST("/webhook", h.Receive)
	return r, f
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerify_Handshake(t *testing.T) {
	r, _ := newTestRouter(t, "")

	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.String() != "12345" {
		t.Fatalf("challenge echo = %q", w.Body.String())
	}
}

func TestVerify_WrongToken(t *testing.T) {
	r, _ := newTestRouter(t, "")

	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestVerify_MissingParams(t *testing.T) {
	r, _ := newTestRouter(t, "")

	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestReceive_SignedDelivery(t *testing.T) {
	r, f := newTestRouter(t, "app-secret")
	body := messagePayload(textUnit)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set(signatureHeader, sign("app-secret", []byte(body)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var count int64
	f.db.Model(&models.Message{}).Count(&count)
	if count != 1 {
		t.Fatalf("message rows = %d", count)
	}
}

func TestReceive_BadSignatureRejected(t *testing.T) {
	r, f := newTestRouter(t, "app-secret")
	body := messagePayload(textUnit)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set(signatureHeader, sign("wrong-secret", []byte(body)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}

	var count int64
	f.db.Model(&models.Message{}).Count(&count)
	if count != 0 {
		t.Fatal("rejected payload was ingested")
	}
}

func TestReceive_NoSecretSkipsVerification(t *testing.T) {
	r, f := newTestRouter(t, "")
	body := messagePayload(textUnit)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var count int64
	f.db.Model(&models.Message{}).Count(&count)
	if count != 1 {
		t.Fatal("unsigned payload not ingested without a secret")
	}
}

func TestReceive_MalformedJSON(t *testing.T) {
	r, _ := newTestRouter(t, "")

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestReceive_TenantHeader(t *testing.T) {
	r, f := newTestRouter(t, "")
	body := messagePayload(textUnit)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("X-Tenant-ID", "7")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var msg models.Message
	if err := f.db.Where("external_message_id = ?", "wamid.in.1").First(&msg).Error; err != nil {
		t.Fatal(err)
	}
	if msg.TenantID != 7 {
		t.Fatalf("tenant = %d, want 7", msg.TenantID)
	}
}
