// Package webhook receives provider event notifications and feeds them
// to the reconciler.
package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/kevin07696/pos-payments/internal/domain"
	"github.com/kevin07696/pos-payments/internal/services/reconcile"
	"github.com/kevin07696/pos-payments/pkg/observability"
	"go.uber.org/zap"
)

// envelope is the provider's event wrapper
type envelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// Handler acknowledges provider events after the reconciler applies them
type Handler struct {
	reconciler *reconcile.Reconciler
	logger     *zap.Logger
}

// NewHandler creates a webhook handler
func NewHandler(r *reconcile.Reconciler, logger *zap.Logger) *Handler {
	return &Handler{reconciler: r, logger: logger}
}

// HandleEvent processes a single provider event
// Endpoint: POST /api/v1/webhooks/stripe
func (h *Handler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("reading webhook body", zap.Error(err))
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		h.logger.Warn("malformed webhook envelope", zap.Error(err))
		http.Error(w, "malformed event", http.StatusBadRequest)
		return
	}
	if env.ID == "" || env.Type == "" {
		h.logger.Warn("webhook envelope missing id or type")
		http.Error(w, "malformed event", http.StatusBadRequest)
		return
	}

	h.logger.Info("webhook event received",
		zap.String("event_id", env.ID),
		zap.String("event_type", env.Type))

	err = h.reconciler.Handle(r.Context(), reconcile.Event{
		ID:     env.ID,
		Type:   env.Type,
		Object: env.Data.Object,
	})
	if err != nil {
		// 4xx tells the provider a retry cannot help; anything else
		// gets a 500 so the provider redelivers.
		if domain.IsValidationError(err) || domain.IsNotFoundError(err) || isConflict(err) {
			observability.RecordWebhookEvent(env.Type, "rejected")
			h.logger.Warn("webhook event rejected",
				zap.String("event_id", env.ID),
				zap.String("event_type", env.Type),
				zap.Error(err))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		observability.RecordWebhookEvent(env.Type, "failed")
		h.logger.Error("webhook event failed",
			zap.String("event_id", env.ID),
			zap.String("event_type", env.Type),
			zap.Error(err))
		http.Error(w, "event processing failed", http.StatusInternalServerError)
		return
	}

	observability.RecordWebhookEvent(env.Type, "applied")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"received":true}`))
}

func isConflict(err error) bool {
	return errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrTxnInvalidState)
}
