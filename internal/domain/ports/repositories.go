package ports

import (
	"context"

	"github.com/kevin07696/pos-payments/internal/domain"
)

// PaymentRepository defines persistence for the Payment aggregate.
// Mutating flows load the row with GetByOrderIDForUpdate/GetByIDForUpdate
// inside a transaction so the read-recompute-write cycle is serialized per
// payment.
type PaymentRepository interface {
	Create(ctx context.Context, tx DBTX, payment *domain.Payment) error

	GetByID(ctx context.Context, db DBTX, id string) (*domain.Payment, error)
	GetByOrderID(ctx context.Context, db DBTX, orderID string) (*domain.Payment, error)

	// GetByIDForUpdate acquires an exclusive row-level lock on the payment
	GetByIDForUpdate(ctx context.Context, tx DBTX, id string) (*domain.Payment, error)

	// GetByOrderIDForUpdate acquires an exclusive row-level lock on the
	// payment for the order; returns domain.ErrPaymentNotFound when absent
	GetByOrderIDForUpdate(ctx context.Context, tx DBTX, orderID string) (*domain.Payment, error)

	// Update persists status and the derived aggregate amounts
	Update(ctx context.Context, tx DBTX, payment *domain.Payment) error
}

// TransactionRepository defines persistence for payment transactions
type TransactionRepository interface {
	Create(ctx context.Context, tx DBTX, txn *domain.PaymentTransaction) error

	GetByID(ctx context.Context, db DBTX, id string) (*domain.PaymentTransaction, error)

	// GetByProviderTransactionID resolves the reconciliation join key;
	// returns domain.ErrTxnNotFound when no local attempt record exists
	GetByProviderTransactionID(ctx context.Context, db DBTX, providerTxnID string) (*domain.PaymentTransaction, error)

	// ListByPaymentID returns all transactions for a payment ordered by
	// created_at ASC, the order the recomputation replays them in
	ListByPaymentID(ctx context.Context, db DBTX, paymentID string) ([]*domain.PaymentTransaction, error)

	// Update persists status, refunded amount, refund audit trail and the
	// raw provider response
	Update(ctx context.Context, tx DBTX, txn *domain.PaymentTransaction) error
}

// GiftCardRepository defines persistence for gift cards
type GiftCardRepository interface {
	Create(ctx context.Context, tx DBTX, card *domain.GiftCard) error

	GetByCode(ctx context.Context, db DBTX, code string) (*domain.GiftCard, error)

	// GetByCodeForUpdate acquires an exclusive row-level lock so the
	// balance debit is a serialized read-modify-write
	GetByCodeForUpdate(ctx context.Context, tx DBTX, code string) (*domain.GiftCard, error)

	UpdateBalance(ctx context.Context, tx DBTX, card *domain.GiftCard) error
}
