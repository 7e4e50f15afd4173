package strategy

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/pos-payments/internal/domain"
	"github.com/kevin07696/pos-payments/internal/domain/ports"
	"github.com/kevin07696/pos-payments/internal/services/ledger"
	"github.com/shopspring/decimal"
)

// giftCardReceipt is stored as the transaction's provider response so a
// later refund can locate the card without a separate linking column
type giftCardReceipt struct {
	GiftCardCode string `json:"gift_card_code"`
	Requested    string `json:"requested"`
	Applied      string `json:"applied"`
}

// GiftCardStrategy funds attempts from stored-value cards. The balance
// debit is a locked read-modify-write so two simultaneous attempts cannot
// overspend the same card.
type GiftCardStrategy struct {
	db     ports.DBPort
	cards  ports.GiftCardRepository
	ledger Ledger
	logger ports.Logger
}

// NewGiftCardStrategy creates the gift card strategy
func NewGiftCardStrategy(db ports.DBPort, cards ports.GiftCardRepository, l Ledger, logger ports.Logger) *GiftCardStrategy {
	return &GiftCardStrategy{db: db, cards: cards, ledger: l, logger: logger}
}

// Process debits the card by up to the requested amount and confirms a
// transaction for what was actually applied. The caller must route any
// remainder to another funding source.
func (s *GiftCardStrategy) Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	if req.GiftCardCode == "" {
		return nil, domain.ErrValidationMissingField.WithDetail("field", "gift_card_code")
	}

	payment, err := s.ledger.InitiatePaymentAttempt(ctx, domain.Order{
		ID:        req.OrderID,
		AmountDue: req.AmountDue,
	})
	if err != nil {
		return nil, err
	}

	applied, err := s.debit(ctx, req.GiftCardCode, req.Amount)
	if err != nil {
		return nil, err
	}

	receipt, _ := json.Marshal(giftCardReceipt{
		GiftCardCode: req.GiftCardCode,
		Requested:    req.Amount.String(),
		Applied:      applied.String(),
	})

	txn, err := s.ledger.CreatePendingTransaction(ctx, ledger.CreateTransactionParams{
		PaymentID:        payment.ID,
		Amount:           applied,
		Tip:              req.Tip,
		Surcharge:        req.Surcharge,
		Method:           domain.PaymentMethodGiftCard,
		ProviderResponse: receipt,
	})
	if err != nil {
		s.compensate(ctx, req.GiftCardCode, applied)
		return nil, err
	}

	payment, err = s.ledger.ConfirmSuccessfulTransaction(ctx, txn.ID, ledger.ProviderUpdate{})
	if err != nil {
		s.compensate(ctx, req.GiftCardCode, applied)
		return nil, err
	}

	txn, err = s.ledger.GetTransaction(ctx, txn.ID)
	if err != nil {
		return nil, err
	}

	return &ProcessResult{
		Payment:         payment,
		Transaction:     txn,
		AppliedAmount:   applied,
		RemainingAmount: req.Amount.Sub(applied),
	}, nil
}

// Refund credits value back onto the originating card and applies the
// refund to the ledger. Like the card path, the money moves first: the
// ledger never records a refund the card does not hold, and a failed
// ledger write takes the credit back so a retry starts clean.
func (s *GiftCardStrategy) Refund(ctx context.Context, txn *domain.PaymentTransaction, amount decimal.Decimal, reason string) (*domain.Payment, error) {
	var receipt giftCardReceipt
	if err := json.Unmarshal(txn.ProviderResponse, &receipt); err != nil || receipt.GiftCardCode == "" {
		return nil, domain.ErrTxnInvalidState.
			WithDetail("transaction_id", txn.ID).
			WithDetail("reason", "transaction carries no gift card reference")
	}

	// Local refundable check before any balance movement; the ledger
	// revalidates under the payment row lock
	current, err := s.ledger.GetTransaction(ctx, txn.ID)
	if err != nil {
		return nil, err
	}
	if !current.CanBeRefunded() {
		return nil, domain.ErrTxnInvalidState.
			WithDetail("transaction_id", current.ID).
			WithDetail("status", string(current.Status))
	}
	if amount.GreaterThan(current.RemainingRefundable()) {
		return nil, domain.ErrInsufficientRefundable.
			WithDetail("requested", amount.String()).
			WithDetail("refundable", current.RemainingRefundable().String())
	}

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		card, err := s.cards.GetByCodeForUpdate(ctx, tx, receipt.GiftCardCode)
		if err != nil {
			return err
		}
		if err := card.Credit(amount); err != nil {
			return err
		}
		card.UpdatedAt = time.Now()
		return s.cards.UpdateBalance(ctx, tx, card)
	})
	if err != nil {
		return nil, err
	}

	payment, err := s.ledger.ApplyRefund(ctx, ledger.RefundParams{
		TransactionID:    current.ID,
		Amount:           amount,
		ProviderRefundID: "gcr_" + uuid.New().String(),
		Reason:           reason,
	})
	if err != nil {
		s.takeBack(ctx, receipt.GiftCardCode, amount)
		return nil, err
	}

	return payment, nil
}

func (s *GiftCardStrategy) debit(ctx context.Context, code string, requested decimal.Decimal) (decimal.Decimal, error) {
	var applied decimal.Decimal
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		card, err := s.cards.GetByCodeForUpdate(ctx, tx, code)
		if err != nil {
			return err
		}
		applied, err = card.Debit(requested, time.Now())
		if err != nil {
			return err
		}
		card.UpdatedAt = time.Now()
		return s.cards.UpdateBalance(ctx, tx, card)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return applied, nil
}

// takeBack reverses a card credit whose ledger refund could not be
// recorded. Failure here leaves the card over-credited in the customer's
// favor; it is logged, never silently absorbed.
func (s *GiftCardStrategy) takeBack(ctx context.Context, code string, amount decimal.Decimal) {
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		card, err := s.cards.GetByCodeForUpdate(ctx, tx, code)
		if err != nil {
			return err
		}
		if _, err := card.Debit(amount, time.Now()); err != nil {
			return err
		}
		card.UpdatedAt = time.Now()
		return s.cards.UpdateBalance(ctx, tx, card)
	})
	if err != nil {
		s.logger.Error("gift card credit take-back failed",
			ports.String("gift_card_code", code),
			ports.String("amount", amount.String()),
			ports.Err(err))
	}
}

// compensate restores a debit whose transaction could not be recorded
func (s *GiftCardStrategy) compensate(ctx context.Context, code string, amount decimal.Decimal) {
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		card, err := s.cards.GetByCodeForUpdate(ctx, tx, code)
		if err != nil {
			return err
		}
		if err := card.Credit(amount); err != nil {
			return err
		}
		card.UpdatedAt = time.Now()
		return s.cards.UpdateBalance(ctx, tx, card)
	})
	if err != nil {
		s.logger.Error("gift card compensation failed",
			ports.String("gift_card_code", code),
			ports.String("amount", amount.String()),
			ports.Err(err))
	}
}
