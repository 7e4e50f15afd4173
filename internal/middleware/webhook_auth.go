package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/kevin07696/pos-payments/pkg/observability"
	"go.uber.org/zap"
)

// SignatureHeader carries the provider's HMAC-SHA256 hex digest of the
// request body
const SignatureHeader = "X-Webhook-Signature"

// WebhookAuth verifies provider webhook signatures before any state is
// touched. Unverifiable payloads are rejected with no side effects and no
// transaction materialization.
type WebhookAuth struct {
	secret []byte
	logger *zap.Logger
}

// NewWebhookAuth creates a webhook authenticator with a shared secret
func NewWebhookAuth(secret string, logger *zap.Logger) *WebhookAuth {
	return &WebhookAuth{
		secret: []byte(secret),
		logger: logger,
	}
}

// Middleware wraps a webhook handler with signature verification
func (a *WebhookAuth) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		signature := r.Header.Get(SignatureHeader)
		if signature == "" {
			observability.RecordWebhookEvent("unknown", "unverified")
			a.logger.Warn("webhook missing signature",
				zap.String("path", r.URL.Path))
			http.Error(w, "missing signature", http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			a.logger.Error("failed to read webhook body", zap.Error(err))
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		// Restore body for the downstream handler
		r.Body = io.NopCloser(bytes.NewBuffer(body))

		expected := a.sign(body)
		if !hmac.Equal([]byte(signature), []byte(expected)) {
			observability.RecordWebhookEvent("unknown", "unverified")
			a.logger.Warn("webhook signature verification failed",
				zap.String("path", r.URL.Path))
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}

// Sign computes the hex HMAC-SHA256 digest of body. Exposed for clients
// and tests that need to produce valid signatures.
func (a *WebhookAuth) Sign(body []byte) string {
	return a.sign(body)
}

func (a *WebhookAuth) sign(body []byte) string {
	h := hmac.New(sha256.New, a.secret)
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
