// Package reconcile brings local transaction state into agreement with the
// provider's asynchronous truth. Delivery is at-least-once and possibly
// reordered, so every path here is safe to run twice, in either order, for
// the same event.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/kevin07696/pos-payments/internal/domain"
	"github.com/kevin07696/pos-payments/internal/domain/ports"
	"github.com/kevin07696/pos-payments/internal/services/ledger"
	"github.com/kevin07696/pos-payments/pkg/observability"
	"github.com/shopspring/decimal"
)

// Event is the parsed provider event envelope
type Event struct {
	ID   string
	Type string

	// Object is the event's data.object payload
	Object json.RawMessage
}

// Provider event types the reconciler acts on
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
	EventIntentCanceled  = "payment_intent.canceled"
	EventRefundSucceeded = "refund.succeeded"
)

// Resolution is the result of locating the transaction an event targets.
// Materialized is true when no local attempt record existed and a PENDING
// shadow transaction was created from the event's embedded metadata.
type Resolution struct {
	Txn          *domain.PaymentTransaction
	Materialized bool
}

// Ledger is the slice of the payment state service the reconciler drives
type Ledger interface {
	InitiatePaymentAttempt(ctx context.Context, order domain.Order) (*domain.Payment, error)
	CreatePendingTransaction(ctx context.Context, params ledger.CreateTransactionParams) (*domain.PaymentTransaction, error)
	ConfirmSuccessfulTransaction(ctx context.Context, transactionID string, update ledger.ProviderUpdate) (*domain.Payment, error)
	RecordFailedTransaction(ctx context.Context, transactionID string, update ledger.ProviderUpdate) (*domain.Payment, error)
	CancelTransaction(ctx context.Context, transactionID string) (*domain.Payment, error)
	ApplyRefund(ctx context.Context, params ledger.RefundParams) (*domain.Payment, error)
	GetTransaction(ctx context.Context, transactionID string) (*domain.PaymentTransaction, error)
	GetTransactionByProviderID(ctx context.Context, providerTxnID string) (*domain.PaymentTransaction, error)
}

// Reconciler maps provider events onto ledger operations
type Reconciler struct {
	ledger Ledger
	logger ports.Logger
}

// NewReconciler creates a reconciler
func NewReconciler(l Ledger, logger ports.Logger) *Reconciler {
	return &Reconciler{ledger: l, logger: logger}
}

// intentObject is the slice of a provider payment intent payload the
// reconciler reads
type intentObject struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Status   string `json:"status"`
	Metadata struct {
		TransactionID string `json:"transaction_id"`
		OrderID       string `json:"order_id"`
		PaymentID     string `json:"payment_id"`

		// Minor-unit strings; provider metadata values are always strings
		Tip       string `json:"tip"`
		Surcharge string `json:"surcharge"`
	} `json:"metadata"`
	Charges struct {
		Data []struct {
			PaymentMethodDetails struct {
				Card struct {
					Brand string `json:"brand"`
				} `json:"card"`
			} `json:"payment_method_details"`
		} `json:"data"`
	} `json:"charges"`
}

// refundObject is the slice of a provider refund payload the reconciler
// reads
type refundObject struct {
	ID            string `json:"id"`
	Amount        int64  `json:"amount"`
	Status        string `json:"status"`
	PaymentIntent string `json:"payment_intent"`
}

// Handle applies one provider event to the ledger. Unknown event types are
// logged and acknowledged so the provider is not encouraged to retry an
// endpoint that will never succeed. The returned error means the event was
// understood but could not be applied.
func (r *Reconciler) Handle(ctx context.Context, event Event) error {
	switch event.Type {
	case EventIntentSucceeded:
		return r.handleIntentSucceeded(ctx, event)
	case EventIntentFailed:
		return r.handleIntentFailed(ctx, event)
	case EventIntentCanceled:
		return r.handleIntentCanceled(ctx, event)
	case EventRefundSucceeded:
		return r.handleRefundSucceeded(ctx, event)
	default:
		r.logger.Info("ignoring unknown provider event",
			ports.String("event_id", event.ID),
			ports.String("event_type", event.Type))
		return nil
	}
}

func (r *Reconciler) handleIntentSucceeded(ctx context.Context, event Event) error {
	var intent intentObject
	if err := json.Unmarshal(event.Object, &intent); err != nil {
		return domain.ErrValidationFailed.WithDetail("reason", "malformed intent payload")
	}

	res, err := r.resolveOrMaterialize(ctx, &intent, event.Object)
	if err != nil {
		return err
	}

	cardBrand := intentCardBrand(&intent)

	// Short-circuit when the synchronous path already finished with full
	// detail; re-confirming would only rewrite identical state
	if res.Txn.Status == domain.TransactionStatusSuccessful && (cardBrand == "" || res.Txn.CardBrand != "") {
		r.logger.Info("intent already confirmed",
			ports.String("event_id", event.ID),
			ports.String("transaction_id", res.Txn.ID))
		return nil
	}

	_, err = r.ledger.ConfirmSuccessfulTransaction(ctx, res.Txn.ID, ledger.ProviderUpdate{
		ProviderTransactionID: intent.ID,
		RawResponse:           event.Object,
		CardBrand:             cardBrand,
	})
	if err != nil {
		return err
	}

	r.logger.Info("intent success reconciled",
		ports.String("event_id", event.ID),
		ports.String("transaction_id", res.Txn.ID),
		ports.Bool("materialized", res.Materialized))
	return nil
}

func (r *Reconciler) handleIntentFailed(ctx context.Context, event Event) error {
	var intent intentObject
	if err := json.Unmarshal(event.Object, &intent); err != nil {
		return domain.ErrValidationFailed.WithDetail("reason", "malformed intent payload")
	}

	res, err := r.resolveOrMaterialize(ctx, &intent, event.Object)
	if err != nil {
		return err
	}

	_, err = r.ledger.RecordFailedTransaction(ctx, res.Txn.ID, ledger.ProviderUpdate{
		ProviderTransactionID: intent.ID,
		RawResponse:           event.Object,
	})
	if err != nil {
		return err
	}

	r.logger.Info("intent failure reconciled",
		ports.String("event_id", event.ID),
		ports.String("transaction_id", res.Txn.ID),
		ports.Bool("materialized", res.Materialized))
	return nil
}

func (r *Reconciler) handleIntentCanceled(ctx context.Context, event Event) error {
	var intent intentObject
	if err := json.Unmarshal(event.Object, &intent); err != nil {
		return domain.ErrValidationFailed.WithDetail("reason", "malformed intent payload")
	}

	// Nothing local to cancel is a valid outcome; a cancellation for an
	// attempt we never recorded needs no shadow record
	txn, err := r.resolve(ctx, &intent)
	if err != nil {
		if errors.Is(err, domain.ErrTxnNotFound) {
			r.logger.Info("cancellation for unknown intent acknowledged",
				ports.String("event_id", event.ID),
				ports.String("intent_id", intent.ID))
			return nil
		}
		return err
	}

	if _, err := r.ledger.CancelTransaction(ctx, txn.ID); err != nil {
		return err
	}

	r.logger.Info("intent cancellation reconciled",
		ports.String("event_id", event.ID),
		ports.String("transaction_id", txn.ID))
	return nil
}

func (r *Reconciler) handleRefundSucceeded(ctx context.Context, event Event) error {
	var refund refundObject
	if err := json.Unmarshal(event.Object, &refund); err != nil {
		return domain.ErrValidationFailed.WithDetail("reason", "malformed refund payload")
	}
	if refund.PaymentIntent == "" {
		return domain.ErrValidationMissingField.WithDetail("field", "payment_intent")
	}

	txn, err := r.ledger.GetTransactionByProviderID(ctx, refund.PaymentIntent)
	if err != nil {
		if errors.Is(err, domain.ErrTxnNotFound) {
			// A refund for money this ledger never recorded cannot be
			// represented; acknowledge so the provider stops retrying
			r.logger.Warn("refund for unknown intent acknowledged",
				ports.String("event_id", event.ID),
				ports.String("intent_id", refund.PaymentIntent),
				ports.String("refund_id", refund.ID))
			return nil
		}
		return err
	}

	// ApplyRefund drops the event when this refund id is already in the
	// transaction's audit trail
	_, err = r.ledger.ApplyRefund(ctx, ledger.RefundParams{
		TransactionID:    txn.ID,
		Amount:           fromMinorUnits(refund.Amount),
		ProviderRefundID: refund.ID,
		RawResponse:      event.Object,
	})
	if err != nil {
		return err
	}

	r.logger.Info("refund reconciled",
		ports.String("event_id", event.ID),
		ports.String("transaction_id", txn.ID),
		ports.String("refund_id", refund.ID))
	return nil
}

// resolve finds the local transaction for an intent without creating one
func (r *Reconciler) resolve(ctx context.Context, intent *intentObject) (*domain.PaymentTransaction, error) {
	txn, err := r.ledger.GetTransactionByProviderID(ctx, intent.ID)
	if err == nil {
		return txn, nil
	}
	if !errors.Is(err, domain.ErrTxnNotFound) {
		return nil, err
	}

	// The intent may predate the external id write; the metadata carries
	// the local transaction id the intent was created for
	if intent.Metadata.TransactionID != "" {
		return r.ledger.GetTransaction(ctx, intent.Metadata.TransactionID)
	}
	return nil, domain.ErrTxnNotFound.WithDetail("intent_id", intent.ID)
}

// resolveOrMaterialize finds the local transaction for an intent, creating
// a PENDING shadow record from the event metadata when the webhook raced
// ahead of the synchronous code path
func (r *Reconciler) resolveOrMaterialize(ctx context.Context, intent *intentObject, raw json.RawMessage) (*Resolution, error) {
	txn, err := r.resolve(ctx, intent)
	if err == nil {
		return &Resolution{Txn: txn}, nil
	}
	if !errors.Is(err, domain.ErrTxnNotFound) {
		return nil, err
	}

	// The intent total carries tip and surcharge; the metadata split
	// restores the breakdown so the shadow attempt books the same amounts
	// the synchronous path would have
	tip := metadataAmount(intent.Metadata.Tip)
	surcharge := metadataAmount(intent.Metadata.Surcharge)
	amount := fromMinorUnits(intent.Amount).Sub(tip).Sub(surcharge)
	if !amount.IsPositive() {
		// Inconsistent metadata; book the full total rather than lose it
		amount = fromMinorUnits(intent.Amount)
		tip = decimal.Zero
		surcharge = decimal.Zero
	}

	paymentID := intent.Metadata.PaymentID
	if paymentID == "" {
		if intent.Metadata.OrderID == "" {
			return nil, domain.ErrTxnNotFound.
				WithDetail("intent_id", intent.ID).
				WithDetail("reason", "event carries no order or payment reference")
		}
		payment, err := r.ledger.InitiatePaymentAttempt(ctx, domain.Order{
			ID:        intent.Metadata.OrderID,
			AmountDue: amount,
		})
		if err != nil {
			return nil, err
		}
		paymentID = payment.ID
	}

	txn, err = r.ledger.CreatePendingTransaction(ctx, ledger.CreateTransactionParams{
		PaymentID:             paymentID,
		Amount:                amount,
		Tip:                   tip,
		Surcharge:             surcharge,
		Method:                domain.PaymentMethodCardOnline,
		ProviderTransactionID: intent.ID,
		ProviderResponse:      raw,
	})
	if err != nil {
		return nil, err
	}

	observability.RecordShadowTransaction()
	r.logger.Warn("materialized shadow transaction for unseen intent",
		ports.String("intent_id", intent.ID),
		ports.String("transaction_id", txn.ID),
		ports.String("payment_id", paymentID))

	return &Resolution{Txn: txn, Materialized: true}, nil
}

func intentCardBrand(intent *intentObject) string {
	if len(intent.Charges.Data) == 0 {
		return ""
	}
	return intent.Charges.Data[0].PaymentMethodDetails.Card.Brand
}

// fromMinorUnits converts provider integer cents to a decimal amount
func fromMinorUnits(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}

// metadataAmount parses a minor-unit metadata value, zero when absent or
// malformed
func metadataAmount(v string) decimal.Decimal {
	if v == "" {
		return decimal.Zero
	}
	cents, err := strconv.ParseInt(v, 10, 64)
	if err != nil || cents < 0 {
		return decimal.Zero
	}
	return fromMinorUnits(cents)
}
