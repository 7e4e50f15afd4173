package webhook_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kevin07696/pos-payments/internal/domain"
	handler "github.com/kevin07696/pos-payments/internal/handlers/webhook"
	"github.com/kevin07696/pos-payments/internal/middleware"
	"github.com/kevin07696/pos-payments/internal/services/ledger"
	"github.com/kevin07696/pos-payments/internal/services/notify"
	"github.com/kevin07696/pos-payments/internal/services/reconcile"
	"github.com/kevin07696/pos-payments/internal/testutil/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const webhookSecret = "whsec_test"

type env struct {
	ledger   *ledger.Service
	payments *mocks.PaymentRepository
	txns     *mocks.TransactionRepository
	auth     *middleware.WebhookAuth
	endpoint http.HandlerFunc
}

func newEnv(t *testing.T) *env {
	t.Helper()

	db := &mocks.DBPort{}
	payments := mocks.NewPaymentRepository()
	txns := mocks.NewTransactionRepository()
	logger := &mocks.NopLogger{}
	led := ledger.NewService(db, payments, txns, notify.NewNotifier(logger), logger)

	h := handler.NewHandler(reconcile.NewReconciler(led, logger), zap.NewNop())
	auth := middleware.NewWebhookAuth(webhookSecret, zap.NewNop())

	return &env{
		ledger:   led,
		payments: payments,
		txns:     txns,
		auth:     auth,
		endpoint: auth.Middleware(h.HandleEvent),
	}
}

// seedIntent creates a payment with one pending card transaction joined to
// the given provider intent id
func (e *env) seedIntent(t *testing.T, orderID, intentID, amount string) (paymentID, txnID string) {
	t.Helper()
	ctx := context.Background()

	p, err := e.ledger.InitiatePaymentAttempt(ctx, domain.Order{
		ID:        orderID,
		AmountDue: decimal.RequireFromString(amount),
	})
	require.NoError(t, err)

	txn, err := e.ledger.CreatePendingTransaction(ctx, ledger.CreateTransactionParams{
		PaymentID:             p.ID,
		Amount:                decimal.RequireFromString(amount),
		Tip:                   decimal.Zero,
		Surcharge:             decimal.Zero,
		Method:                domain.PaymentMethodCardOnline,
		ProviderTransactionID: intentID,
	})
	require.NoError(t, err)
	return p.ID, txn.ID
}

func (e *env) post(t *testing.T, body string, signed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(body))
	if signed {
		req.Header.Set(middleware.SignatureHeader, e.auth.Sign([]byte(body)))
	}
	rec := httptest.NewRecorder()
	e.endpoint(rec, req)
	return rec
}

func succeededEvent(eventID, intentID, txnID string, amountCents int64) string {
	return fmt.Sprintf(`{
		"id": %q,
		"type": "payment_intent.succeeded",
		"data": {"object": {
			"id": %q,
			"amount": %d,
			"status": "succeeded",
			"metadata": {"transaction_id": %q},
			"charges": {"data": [{"payment_method_details": {"card": {"brand": "visa"}}}]}
		}}
	}`, eventID, intentID, amountCents, txnID)
}

func TestHandleEvent_SucceededConfirmsPayment(t *testing.T) {
	e := newEnv(t)
	paymentID, txnID := e.seedIntent(t, "order-1", "pi_1", "50.00")

	rec := e.post(t, succeededEvent("evt_1", "pi_1", txnID, 5000), true)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())

	snapshot, err := e.ledger.GetPayment(context.Background(), paymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, snapshot.Payment.Status)
	require.Len(t, snapshot.Transactions, 1)
	assert.Equal(t, "visa", snapshot.Transactions[0].CardBrand)
}

func TestHandleEvent_RedeliveryIsIdempotent(t *testing.T) {
	e := newEnv(t)
	paymentID, txnID := e.seedIntent(t, "order-1", "pi_1", "50.00")

	body := succeededEvent("evt_1", "pi_1", txnID, 5000)
	require.Equal(t, http.StatusOK, e.post(t, body, true).Code)
	require.Equal(t, http.StatusOK, e.post(t, body, true).Code)

	snapshot, err := e.ledger.GetPayment(context.Background(), paymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, snapshot.Payment.Status)
	require.Len(t, snapshot.Transactions, 1)
}

func TestHandleEvent_MissingSignature(t *testing.T) {
	e := newEnv(t)
	_, txnID := e.seedIntent(t, "order-1", "pi_1", "50.00")

	rec := e.post(t, succeededEvent("evt_1", "pi_1", txnID, 5000), false)

	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// the event must not have been applied
	txn, err := e.ledger.GetTransaction(context.Background(), txnID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPending, txn.Status)
}

func TestHandleEvent_TamperedBody(t *testing.T) {
	e := newEnv(t)
	_, txnID := e.seedIntent(t, "order-1", "pi_1", "50.00")

	body := succeededEvent("evt_1", "pi_1", txnID, 5000)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(body))
	req.Header.Set(middleware.SignatureHeader, e.auth.Sign([]byte(body+" ")))
	rec := httptest.NewRecorder()
	e.endpoint(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleEvent_MalformedEnvelope(t *testing.T) {
	e := newEnv(t)

	rec := e.post(t, `{"id": "evt_1"`, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.post(t, `{"id": "evt_1", "data": {"object": {}}}`, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleEvent_MalformedIntentPayload(t *testing.T) {
	e := newEnv(t)

	rec := e.post(t, `{
		"id": "evt_1",
		"type": "payment_intent.succeeded",
		"data": {"object": "not an intent"}
	}`, true)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleEvent_UnknownTypeAcknowledged(t *testing.T) {
	e := newEnv(t)

	rec := e.post(t, `{
		"id": "evt_1",
		"type": "customer.created",
		"data": {"object": {"id": "cus_1"}}
	}`, true)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
}

func TestHandleEvent_RefundEvent(t *testing.T) {
	e := newEnv(t)
	paymentID, txnID := e.seedIntent(t, "order-1", "pi_1", "30.00")
	require.Equal(t, http.StatusOK, e.post(t, succeededEvent("evt_1", "pi_1", txnID, 3000), true).Code)

	refund := `{
		"id": "evt_2",
		"type": "refund.succeeded",
		"data": {"object": {
			"id": "re_1",
			"amount": 3000,
			"status": "succeeded",
			"payment_intent": "pi_1"
		}}
	}`
	rec := e.post(t, refund, true)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snapshot, err := e.ledger.GetPayment(context.Background(), paymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, snapshot.Payment.Status)
}

func TestHandleEvent_MaterializesUnseenIntent(t *testing.T) {
	e := newEnv(t)

	body := `{
		"id": "evt_1",
		"type": "payment_intent.succeeded",
		"data": {"object": {
			"id": "pi_unseen",
			"amount": 5000,
			"status": "succeeded",
			"metadata": {"order_id": "order-9"},
			"charges": {"data": [{"payment_method_details": {"card": {"brand": "amex"}}}]}
		}}
	}`
	rec := e.post(t, body, true)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	txn, err := e.ledger.GetTransactionByProviderID(context.Background(), "pi_unseen")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusSuccessful, txn.Status)
	assert.Equal(t, "amex", txn.CardBrand)
}
