// Package payment exposes the synchronous payment API: intent creation,
// capture, cancellation, refunds and payment snapshots.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/kevin07696/pos-payments/internal/domain"
	"github.com/kevin07696/pos-payments/internal/services/ledger"
	"github.com/kevin07696/pos-payments/internal/services/strategy"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LedgerReader is the read-only slice of the state service the handler
// needs for snapshots and refund routing
type LedgerReader interface {
	GetPayment(ctx context.Context, paymentID string) (*ledger.PaymentSnapshot, error)
	GetTransaction(ctx context.Context, transactionID string) (*domain.PaymentTransaction, error)
}

// Handler serves the synchronous payment endpoints
type Handler struct {
	registry        *strategy.Registry
	ledger          LedgerReader
	defaultProvider string
	logger          *zap.Logger
}

// NewHandler creates a payment handler
func NewHandler(registry *strategy.Registry, l LedgerReader, defaultProvider string, logger *zap.Logger) *Handler {
	return &Handler{
		registry:        registry,
		ledger:          l,
		defaultProvider: defaultProvider,
		logger:          logger,
	}
}

type createIntentRequest struct {
	OrderID    string          `json:"order_id"`
	OrderTotal decimal.Decimal `json:"order_total"`
	Amount     decimal.Decimal `json:"amount"`
	Tip        decimal.Decimal `json:"tip"`
	Surcharge  decimal.Decimal `json:"surcharge"`
	Method     string          `json:"method"`
	Provider   string          `json:"provider"`
	Currency   string          `json:"currency"`

	// PaymentMethod is a saved provider payment method id (online flows)
	PaymentMethod string `json:"payment_method"`
	GiftCardCode  string `json:"gift_card_code"`
}

type createIntentResponse struct {
	TransactionID   string           `json:"transaction_id"`
	IntentID        string           `json:"intent_id,omitempty"`
	ClientSecret    string           `json:"client_secret,omitempty"`
	AppliedAmount   decimal.Decimal  `json:"applied_amount"`
	RemainingAmount decimal.Decimal  `json:"remaining_amount"`
	Payment         *paymentView     `json:"payment"`
	Transaction     *transactionView `json:"transaction"`
}

// CreateIntent starts a payment attempt for an order
// Endpoint: POST /api/v1/payments/intents
func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.ErrValidationFailed.WithDetail("reason", "malformed request body"))
		return
	}
	if req.OrderID == "" {
		h.writeError(w, domain.ErrValidationMissingField.WithDetail("field", "order_id"))
		return
	}
	method := domain.PaymentMethod(req.Method)
	if !domain.ValidPaymentMethod(method) {
		h.writeError(w, domain.ErrValidationFailed.WithDetail("method", req.Method))
		return
	}

	provider := req.Provider
	if provider == "" {
		provider = h.defaultProvider
	}
	strat, err := h.registry.Resolve(method, provider)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.Info("create intent request",
		zap.String("order_id", req.OrderID),
		zap.String("method", req.Method),
		zap.String("provider", provider),
		zap.String("amount", req.Amount.String()))

	result, err := strat.Process(r.Context(), strategy.ProcessRequest{
		OrderID:            req.OrderID,
		AmountDue:          req.OrderTotal,
		Amount:             req.Amount,
		Tip:                req.Tip,
		Surcharge:          req.Surcharge,
		Currency:           req.Currency,
		PaymentMethodToken: req.PaymentMethod,
		GiftCardCode:       req.GiftCardCode,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, createIntentResponse{
		TransactionID:   result.Transaction.ID,
		IntentID:        result.IntentID,
		ClientSecret:    result.ClientSecret,
		AppliedAmount:   result.AppliedAmount,
		RemainingAmount: result.RemainingAmount,
		Payment:         toPaymentView(result.Payment),
		Transaction:     toTransactionView(result.Transaction),
	})
}

// CaptureIntent captures a terminal intent and confirms the transaction
// Endpoint: POST /api/v1/payments/intents/{intent_id}/capture
func (h *Handler) CaptureIntent(w http.ResponseWriter, r *http.Request) {
	intentID := r.PathValue("intent_id")
	if intentID == "" {
		h.writeError(w, domain.ErrValidationMissingField.WithDetail("field", "intent_id"))
		return
	}

	terminal, err := h.registry.ResolveTerminal(domain.PaymentMethodCardTerminal, h.defaultProvider)
	if err != nil {
		h.writeError(w, err)
		return
	}

	payment, err := terminal.CapturePayment(r.Context(), intentID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"payment": toPaymentView(payment)})
}

// CancelIntent cancels a terminal intent and the local attempt
// Endpoint: POST /api/v1/payments/intents/{intent_id}/cancel
func (h *Handler) CancelIntent(w http.ResponseWriter, r *http.Request) {
	intentID := r.PathValue("intent_id")
	if intentID == "" {
		h.writeError(w, domain.ErrValidationMissingField.WithDetail("field", "intent_id"))
		return
	}

	terminal, err := h.registry.ResolveTerminal(domain.PaymentMethodCardTerminal, h.defaultProvider)
	if err != nil {
		h.writeError(w, err)
		return
	}

	payment, err := terminal.CancelAction(r.Context(), intentID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  string(payment.Status),
		"payment": toPaymentView(payment),
	})
}

type refundRequest struct {
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason"`
	Provider      string          `json:"provider"`
}

// Refund applies an incremental refund to one transaction
// Endpoint: POST /api/v1/payments/{payment_id}/refund
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	paymentID := r.PathValue("payment_id")

	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.ErrValidationFailed.WithDetail("reason", "malformed request body"))
		return
	}
	if req.TransactionID == "" {
		h.writeError(w, domain.ErrValidationMissingField.WithDetail("field", "transaction_id"))
		return
	}

	txn, err := h.ledger.GetTransaction(r.Context(), req.TransactionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if txn.PaymentID != paymentID {
		h.writeError(w, domain.ErrTxnNotFound.
			WithDetail("transaction_id", req.TransactionID).
			WithDetail("payment_id", paymentID))
		return
	}

	provider := req.Provider
	if provider == "" {
		provider = h.defaultProvider
	}
	strat, err := h.registry.Resolve(txn.Method, provider)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.Info("refund request",
		zap.String("payment_id", paymentID),
		zap.String("transaction_id", req.TransactionID),
		zap.String("amount", req.Amount.String()))

	payment, err := strat.Refund(r.Context(), txn, req.Amount, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"payment": toPaymentView(payment)})
}

// GetPayment returns a payment snapshot with its attempt history
// Endpoint: GET /api/v1/payments/{payment_id}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := r.PathValue("payment_id")

	snapshot, err := h.ledger.GetPayment(r.Context(), paymentID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	views := make([]*transactionView, 0, len(snapshot.Transactions))
	for _, txn := range snapshot.Transactions {
		views = append(views, toTransactionView(txn))
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"payment":      toPaymentView(snapshot.Payment),
		"transactions": views,
	})
}

// ConnectionToken mints a terminal connection token
// Endpoint: POST /api/v1/terminal/connection-token
func (h *Handler) ConnectionToken(w http.ResponseWriter, r *http.Request) {
	terminal, err := h.registry.ResolveTerminal(domain.PaymentMethodCardTerminal, h.defaultProvider)
	if err != nil {
		h.writeError(w, err)
		return
	}

	token, err := terminal.CreateConnectionToken(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"secret": token})
}

type paymentView struct {
	ID              string          `json:"id"`
	Number          int64           `json:"number"`
	OrderID         string          `json:"order_id"`
	Status          string          `json:"status"`
	TotalAmountDue  decimal.Decimal `json:"total_amount_due"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	TotalTips       decimal.Decimal `json:"total_tips"`
	TotalSurcharges decimal.Decimal `json:"total_surcharges"`
	TotalCollected  decimal.Decimal `json:"total_collected"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type transactionView struct {
	ID                    string          `json:"id"`
	PaymentID             string          `json:"payment_id"`
	ProviderTransactionID string          `json:"provider_transaction_id,omitempty"`
	Amount                decimal.Decimal `json:"amount"`
	Tip                   decimal.Decimal `json:"tip"`
	Surcharge             decimal.Decimal `json:"surcharge"`
	Method                string          `json:"method"`
	Status                string          `json:"status"`
	RefundedAmount        decimal.Decimal `json:"refunded_amount"`
	CardBrand             string          `json:"card_brand,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
}

func toPaymentView(p *domain.Payment) *paymentView {
	if p == nil {
		return nil
	}
	return &paymentView{
		ID:              p.ID,
		Number:          p.Number,
		OrderID:         p.OrderID,
		Status:          string(p.Status),
		TotalAmountDue:  p.TotalAmountDue,
		AmountPaid:      p.AmountPaid,
		TotalTips:       p.TotalTips,
		TotalSurcharges: p.TotalSurcharges,
		TotalCollected:  p.TotalCollected,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func toTransactionView(t *domain.PaymentTransaction) *transactionView {
	if t == nil {
		return nil
	}
	return &transactionView{
		ID:                    t.ID,
		PaymentID:             t.PaymentID,
		ProviderTransactionID: t.ProviderTransactionID,
		Amount:                t.Amount,
		Tip:                   t.Tip,
		Surcharge:             t.Surcharge,
		Method:                string(t.Method),
		Status:                string(t.Status),
		RefundedAmount:        t.RefundedAmount,
		CardBrand:             t.CardBrand,
		CreatedAt:             t.CreatedAt,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("encoding response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case domain.IsNotFoundError(err):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrTxnInvalidState):
		status = http.StatusConflict
	case domain.IsValidationError(err):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrGiftCardExpired), errors.Is(err, domain.ErrGiftCardRedeemed):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrProviderDeclined):
		status = http.StatusPaymentRequired
	case domain.IsProviderError(err):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	} else {
		h.logger.Warn("request rejected", zap.Error(err), zap.Int("status", status))
	}

	body := map[string]interface{}{
		"error": map[string]interface{}{
			"code":    string(domain.GetErrorCode(err)),
			"message": err.Error(),
		},
	}
	var derr *domain.DomainError
	if errors.As(err, &derr) && len(derr.Details) > 0 {
		body["error"].(map[string]interface{})["details"] = derr.Details
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
