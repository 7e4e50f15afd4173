package middleware_test

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kevin07696/pos-payments/internal/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWebhookAuth_ValidSignature(t *testing.T) {
	auth := middleware.NewWebhookAuth("whsec_test", zap.NewNop())
	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)

	var handlerBody []byte
	handler := auth.Middleware(func(w http.ResponseWriter, r *http.Request) {
		var err error
		handlerBody, err = io.ReadAll(r.Body)
		require.NoError(t, err)
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/provider", bytes.NewReader(body))
	req.Header.Set(middleware.SignatureHeader, auth.Sign(body))
	rec := httptest.NewRecorder()

	handler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	// Body is restored for the downstream handler
	assert.Equal(t, body, handlerBody)
}

func TestWebhookAuth_MissingSignature(t *testing.T) {
	auth := middleware.NewWebhookAuth("whsec_test", zap.NewNop())

	called := false
	handler := auth.Middleware(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/provider", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()

	handler(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func TestWebhookAuth_InvalidSignature(t *testing.T) {
	auth := middleware.NewWebhookAuth("whsec_test", zap.NewNop())

	called := false
	handler := auth.Middleware(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/provider", bytes.NewReader([]byte(`{}`)))
	req.Header.Set(middleware.SignatureHeader, "deadbeef")
	rec := httptest.NewRecorder()

	handler(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func TestWebhookAuth_TamperedBody(t *testing.T) {
	auth := middleware.NewWebhookAuth("whsec_test", zap.NewNop())
	signed := []byte(`{"amount":1000}`)
	tampered := []byte(`{"amount":9999}`)

	called := false
	handler := auth.Middleware(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/provider", bytes.NewReader(tampered))
	req.Header.Set(middleware.SignatureHeader, auth.Sign(signed))
	rec := httptest.NewRecorder()

	handler(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}
