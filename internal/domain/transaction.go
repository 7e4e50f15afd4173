package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus represents the lifecycle state of a single attempt to
// move money
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "PENDING"
	TransactionStatusSuccessful TransactionStatus = "SUCCESSFUL"
	TransactionStatusFailed     TransactionStatus = "FAILED"
	TransactionStatusCanceled   TransactionStatus = "CANCELED"
	TransactionStatusRefunded   TransactionStatus = "REFUNDED"
)

// CountsAsPaid returns true if the transaction contributes to the gross
// amount_paid aggregate. Refunded transactions still count: refunds are
// tracked on RefundedAmount, never by subtracting from amount_paid.
func (s TransactionStatus) CountsAsPaid() bool {
	return s == TransactionStatusSuccessful || s == TransactionStatusRefunded
}

// IsTerminal returns true for states a transaction never leaves, except
// SUCCESSFUL -> REFUNDED via a full refund
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TransactionStatusFailed, TransactionStatusCanceled, TransactionStatusRefunded:
		return true
	}
	return false
}

// PaymentMethod identifies how money was acquired for one transaction
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "CASH"
	PaymentMethodCardTerminal PaymentMethod = "CARD_TERMINAL"
	PaymentMethodCardOnline   PaymentMethod = "CARD_ONLINE"
	PaymentMethodGiftCard     PaymentMethod = "GIFT_CARD"
)

// ValidPaymentMethod reports whether m is a known payment method
func ValidPaymentMethod(m PaymentMethod) bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCardTerminal, PaymentMethodCardOnline, PaymentMethodGiftCard:
		return true
	}
	return false
}

// PaymentTransaction is one concrete attempt to move money against a
// Payment: one card swipe, one cash tender, one online charge.
type PaymentTransaction struct {
	ID        string
	PaymentID string

	// ProviderTransactionID is the external id assigned by the payment
	// provider (e.g. a payment intent id). It is the idempotency join key
	// used by reconciliation to map asynchronous events back to this row.
	ProviderTransactionID string

	Amount    decimal.Decimal
	Tip       decimal.Decimal
	Surcharge decimal.Decimal
	Method    PaymentMethod
	Status    TransactionStatus

	// RefundedAmount is monotonically non-decreasing and never exceeds
	// Amount. The transaction moves to REFUNDED only when the cumulative
	// refund equals Amount.
	RefundedAmount decimal.Decimal

	// RefundIDs is the audit trail of provider refund ids already applied.
	// Reconciliation consults it before applying a refund event a second
	// time.
	RefundIDs []string

	// ProviderResponse holds the last known raw provider payload, kept for
	// audit and for extracting nested identifiers (charge id, card brand)
	// without another provider round-trip.
	ProviderResponse json.RawMessage

	// CardBrand is denormalized from ProviderResponse when known
	CardBrand string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasRefundID returns true if the provider refund id was already applied
func (t *PaymentTransaction) HasRefundID(refundID string) bool {
	for _, id := range t.RefundIDs {
		if id == refundID {
			return true
		}
	}
	return false
}

// RemainingRefundable returns how much of the transaction can still be
// refunded
func (t *PaymentTransaction) RemainingRefundable() decimal.Decimal {
	return t.Amount.Sub(t.RefundedAmount)
}

// CanBeRefunded returns true if the transaction has collected money that
// has not been fully returned
func (t *PaymentTransaction) CanBeRefunded() bool {
	return t.Status.CountsAsPaid() && t.RefundedAmount.LessThan(t.Amount)
}

// CanBeCanceled returns true while the attempt has not finalized. Successful
// transactions are never canceled; reversing them requires a refund.
func (t *PaymentTransaction) CanBeCanceled() bool {
	return t.Status == TransactionStatusPending
}
