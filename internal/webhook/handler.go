package webhook

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"waba-gateway/internal/signature"
	"waba-gateway/pkg/logx"
)

const signatureHeader = "X-Hub-Signature-256"

// Handler exposes the verification handshake and the callback endpoint.
type Handler struct {
	verifyToken string
	verifier    *signature.Verifier
	ingester    *Ingester
}

func NewHandler(verifyToken string, verifier *signature.Verifier, ingester *Ingester) *Handler {
	if !verifier.Enforced() {
		logx.Named("webhook").Warn("no app secret configured; webhook signatures are NOT verified")
	}
	return &Handler{verifyToken: verifyToken, verifier: verifier, ingester: ingester}
}

// Verify answers the platform's subscription handshake by echoing the
// challenge.
func (h *Handler) Verify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "" || token == "" {
		c.Status(http.StatusBadRequest)
		return
	}
	if mode != "subscribe" || token != h.verifyToken {
		c.Status(http.StatusForbidden)
		return
	}
	c.String(http.StatusOK, challenge)
}

// Receive authenticates and ingests one callback delivery. The platform
// retries non-2xx responses, so processing errors inside a unit are
// swallowed after logging; only authentication and malformed JSON reject
// the whole request.
func (h *Handler) Receive(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	if !h.verifier.Verify(body, c.GetHeader(signatureHeader)) {
		c.Status(http.StatusUnauthorized)
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	h.ingester.Process(c.Request.Context(), tenantFrom(c), &payload)
	c.Status(http.StatusOK)
}

// tenantFrom resolves the tenant scope of a request; single-tenant
// deployments omit the header and land on tenant 1.
func tenantFrom(c *gin.Context) uint {
	if raw := c.GetHeader("X-Tenant-ID"); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 32); err == nil && id > 0 {
			return uint(id)
		}
	}
	return 1
}
