package strategy

import (
	"context"

	"github.com/kevin07696/pos-payments/internal/domain"
	"github.com/kevin07696/pos-payments/internal/domain/ports"
	"github.com/kevin07696/pos-payments/internal/services/ledger"
	"github.com/shopspring/decimal"
)

// CashStrategy handles cash tenders. No external provider exists, so an
// attempt is confirmed synchronously and a refund is local bookkeeping.
type CashStrategy struct {
	ledger Ledger
	logger ports.Logger
}

// NewCashStrategy creates the cash strategy
func NewCashStrategy(l Ledger, logger ports.Logger) *CashStrategy {
	return &CashStrategy{ledger: l, logger: logger}
}

// Process records a cash tender and immediately confirms it
func (s *CashStrategy) Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	payment, err := s.ledger.InitiatePaymentAttempt(ctx, domain.Order{
		ID:        req.OrderID,
		AmountDue: req.AmountDue,
	})
	if err != nil {
		return nil, err
	}

	txn, err := s.ledger.CreatePendingTransaction(ctx, ledger.CreateTransactionParams{
		PaymentID: payment.ID,
		Amount:    req.Amount,
		Tip:       req.Tip,
		Surcharge: req.Surcharge,
		Method:    domain.PaymentMethodCash,
	})
	if err != nil {
		return nil, err
	}

	payment, err = s.ledger.ConfirmSuccessfulTransaction(ctx, txn.ID, ledger.ProviderUpdate{})
	if err != nil {
		return nil, err
	}

	txn, err = s.ledger.GetTransaction(ctx, txn.ID)
	if err != nil {
		return nil, err
	}

	return &ProcessResult{
		Payment:         payment,
		Transaction:     txn,
		AppliedAmount:   req.Amount,
		RemainingAmount: decimal.Zero,
	}, nil
}

// Refund returns cash from the drawer; only the ledger changes
func (s *CashStrategy) Refund(ctx context.Context, txn *domain.PaymentTransaction, amount decimal.Decimal, reason string) (*domain.Payment, error) {
	return s.ledger.ApplyRefund(ctx, ledger.RefundParams{
		TransactionID: txn.ID,
		Amount:        amount,
		Reason:        reason,
	})
}
