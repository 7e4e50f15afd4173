package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/pos-payments/internal/domain"
	"github.com/kevin07696/pos-payments/internal/domain/ports"
	"github.com/kevin07696/pos-payments/internal/services/notify"
	"github.com/kevin07696/pos-payments/pkg/observability"
	"github.com/shopspring/decimal"
)

// CompletionNotifier receives the completion event fired on the transition
// into PAID
type CompletionNotifier interface {
	PaymentCompleted(ctx context.Context, event notify.PaymentCompleted)
}

// ProviderUpdate carries provider-side detail captured alongside a status
// change. All fields are optional; empty fields leave the stored value
// untouched.
type ProviderUpdate struct {
	ProviderTransactionID string
	RawResponse           json.RawMessage
	CardBrand             string
}

// CreateTransactionParams describes a new payment attempt
type CreateTransactionParams struct {
	PaymentID             string
	Amount                decimal.Decimal
	Tip                   decimal.Decimal
	Surcharge             decimal.Decimal
	Method                domain.PaymentMethod
	ProviderTransactionID string
	ProviderResponse      json.RawMessage
}

// RefundParams describes an incremental refund against one transaction
type RefundParams struct {
	TransactionID string
	Amount        decimal.Decimal

	// ProviderRefundID is the provider's id for this refund. When set it is
	// recorded in the transaction's audit trail and used to drop duplicate
	// deliveries of the same refund event.
	ProviderRefundID string

	Reason      string
	RawResponse json.RawMessage
}

// PaymentSnapshot is a read-only view of a payment and its attempt history
type PaymentSnapshot struct {
	Payment      *domain.Payment
	Transactions []*domain.PaymentTransaction
}

// Service is the sole owner of Payment.Status and the transaction status
// columns. Every mutating entry point locks the Payment row, rewrites the
// affected transaction, recomputes the aggregates from the full transaction
// set and validates the resulting status transition centrally. Nothing else
// in the codebase writes these columns.
type Service struct {
	db          ports.DBPort
	paymentRepo ports.PaymentRepository
	txnRepo     ports.TransactionRepository
	notifier    CompletionNotifier
	logger      ports.Logger
}

// NewService creates the payment state service
func NewService(
	db ports.DBPort,
	paymentRepo ports.PaymentRepository,
	txnRepo ports.TransactionRepository,
	notifier CompletionNotifier,
	logger ports.Logger,
) *Service {
	return &Service{
		db:          db,
		paymentRepo: paymentRepo,
		txnRepo:     txnRepo,
		notifier:    notifier,
		logger:      logger,
	}
}

// InitiatePaymentAttempt gets or creates the Payment for an order and moves
// it into PENDING. If the order total changed before any money moved, the
// snapshot of the amount due is refreshed.
func (s *Service) InitiatePaymentAttempt(ctx context.Context, order domain.Order) (*domain.Payment, error) {
	if order.ID == "" {
		return nil, domain.ErrValidationMissingField.WithDetail("field", "order_id")
	}
	if order.AmountDue.IsNegative() {
		return nil, domain.ErrValidationAmountInvalid.WithDetail("amount_due", order.AmountDue.String())
	}

	var payment *domain.Payment

	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		existing, err := s.paymentRepo.GetByOrderIDForUpdate(ctx, tx, order.ID)
		if err != nil {
			if !domain.IsNotFoundError(err) {
				return err
			}

			// First attempt for this order. Created UNPAID and immediately
			// moved to PENDING, persisted as one write.
			if !order.AmountDue.IsPositive() {
				return domain.ErrValidationAmountInvalid.
					WithDetail("amount_due", order.AmountDue.String()).
					WithDetail("reason", "a new payment needs a positive amount due")
			}
			now := time.Now()
			payment = &domain.Payment{
				ID:              uuid.New().String(),
				OrderID:         order.ID,
				Status:          domain.PaymentStatusPending,
				TotalAmountDue:  order.AmountDue,
				AmountPaid:      decimal.Zero,
				TotalTips:       decimal.Zero,
				TotalSurcharges: decimal.Zero,
				TotalCollected:  decimal.Zero,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			return s.paymentRepo.Create(ctx, tx, payment)
		}

		// Refresh the due amount only while no money has moved. A zero
		// incoming total means the caller omitted it on a follow-up
		// attempt, not that the order became free; applying it would
		// let any confirmed tender satisfy the payment.
		changed := false
		if existing.AmountPaid.IsZero() && order.AmountDue.IsPositive() && !existing.TotalAmountDue.Equal(order.AmountDue) {
			existing.TotalAmountDue = order.AmountDue
			changed = true
		}

		switch existing.Status {
		case domain.PaymentStatusUnpaid:
			existing.Status = domain.PaymentStatusPending
			changed = true
		case domain.PaymentStatusPending:
			// Already initiated; idempotent
		default:
			return domain.ErrInvalidTransition.
				WithDetail("from", string(existing.Status)).
				WithDetail("to", string(domain.PaymentStatusPending))
		}

		if changed {
			existing.UpdatedAt = time.Now()
			if err := s.paymentRepo.Update(ctx, tx, existing); err != nil {
				return err
			}
		}

		payment = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment attempt initiated",
		ports.String("payment_id", payment.ID),
		ports.String("order_id", order.ID),
		ports.String("status", string(payment.Status)))

	return payment, nil
}

// CreatePendingTransaction records a new attempt under the payment. The
// payment row is locked so the attempt cannot land on a payment that is
// concurrently being finalized or refunded to terminal state.
func (s *Service) CreatePendingTransaction(ctx context.Context, params CreateTransactionParams) (*domain.PaymentTransaction, error) {
	if !domain.ValidPaymentMethod(params.Method) {
		return nil, domain.ErrValidationFailed.WithDetail("method", string(params.Method))
	}
	if !params.Amount.IsPositive() {
		return nil, domain.ErrValidationAmountInvalid.WithDetail("amount", params.Amount.String())
	}
	if params.Tip.IsNegative() || params.Surcharge.IsNegative() {
		return nil, domain.ErrValidationAmountInvalid
	}

	var txn *domain.PaymentTransaction

	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		payment, err := s.paymentRepo.GetByIDForUpdate(ctx, tx, params.PaymentID)
		if err != nil {
			return err
		}
		if payment.Status.IsTerminal() {
			return domain.ErrInvalidTransition.
				WithDetail("from", string(payment.Status)).
				WithDetail("reason", "payment is terminal")
		}

		now := time.Now()
		txn = &domain.PaymentTransaction{
			ID:                    uuid.New().String(),
			PaymentID:             payment.ID,
			ProviderTransactionID: params.ProviderTransactionID,
			Amount:                params.Amount,
			Tip:                   params.Tip,
			Surcharge:             params.Surcharge,
			Method:                params.Method,
			Status:                domain.TransactionStatusPending,
			RefundedAmount:        decimal.Zero,
			ProviderResponse:      params.ProviderResponse,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		if err := s.txnRepo.Create(ctx, tx, txn); err != nil {
			return err
		}

		_, err = s.recompute(ctx, tx, payment)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("pending transaction created",
		ports.String("transaction_id", txn.ID),
		ports.String("payment_id", txn.PaymentID),
		ports.String("method", string(txn.Method)),
		ports.String("amount", txn.Amount.String()))

	return txn, nil
}

// AttachProviderIntent persists the provider-assigned external id onto a
// transaction immediately after intent creation, so a webhook arriving
// before capture completes can still resolve the local record.
func (s *Service) AttachProviderIntent(ctx context.Context, transactionID string, update ProviderUpdate) (*domain.PaymentTransaction, error) {
	var txn *domain.PaymentTransaction

	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		txn, err = s.txnRepo.GetByID(ctx, tx, transactionID)
		if err != nil {
			return err
		}

		applyProviderUpdate(txn, update)
		txn.UpdatedAt = time.Now()
		return s.txnRepo.Update(ctx, tx, txn)
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// ConfirmSuccessfulTransaction marks the transaction SUCCESSFUL and
// recomputes the payment aggregate in the same locked scope. Idempotent:
// if the payment is already PAID the current state is returned unchanged,
// and re-confirming an already successful transaction does not move money
// twice. The completion notifier fires exactly once, on the transition
// into PAID, after the database transaction commits.
func (s *Service) ConfirmSuccessfulTransaction(ctx context.Context, transactionID string, update ProviderUpdate) (*domain.Payment, error) {
	var (
		payment    *domain.Payment
		becamePaid bool
		confirmed  *domain.PaymentTransaction
	)

	err := s.withLockedPayment(ctx, transactionID, func(ctx context.Context, tx pgx.Tx, p *domain.Payment, txn *domain.PaymentTransaction) error {
		payment = p

		// No double-completion: a PAID payment is returned as-is
		if p.Status == domain.PaymentStatusPaid {
			return nil
		}

		switch txn.Status {
		case domain.TransactionStatusPending:
			txn.Status = domain.TransactionStatusSuccessful
			confirmed = txn
		case domain.TransactionStatusSuccessful, domain.TransactionStatusRefunded:
			// Already counted; fall through so late-arriving provider
			// detail (card brand, raw payload) still lands
		default:
			return domain.ErrTxnInvalidState.
				WithDetail("transaction_id", txn.ID).
				WithDetail("status", string(txn.Status))
		}

		applyProviderUpdate(txn, update)
		txn.UpdatedAt = time.Now()
		if err := s.txnRepo.Update(ctx, tx, txn); err != nil {
			return err
		}

		var err error
		becamePaid, err = s.recompute(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, err
	}

	if confirmed != nil {
		observability.RecordTransaction(string(confirmed.Method), string(confirmed.Status), toCents(confirmed.Amount))
	}
	if becamePaid {
		observability.RecordPaymentCompleted()
		s.notifier.PaymentCompleted(ctx, notify.PaymentCompleted{
			Payment: payment,
			OrderID: payment.OrderID,
		})
	}

	s.logger.Info("transaction confirmed",
		ports.String("transaction_id", transactionID),
		ports.String("payment_id", payment.ID),
		ports.String("payment_status", string(payment.Status)),
		ports.Bool("became_paid", becamePaid))

	return payment, nil
}

// RecordFailedTransaction marks a pending transaction FAILED and re-derives
// the payment status from whatever successful history remains. A failure
// event landing on an already terminal transaction is a no-op; money
// already collected is never regressed.
func (s *Service) RecordFailedTransaction(ctx context.Context, transactionID string, update ProviderUpdate) (*domain.Payment, error) {
	var (
		payment *domain.Payment
		failed  *domain.PaymentTransaction
	)

	err := s.withLockedPayment(ctx, transactionID, func(ctx context.Context, tx pgx.Tx, p *domain.Payment, txn *domain.PaymentTransaction) error {
		payment = p

		if txn.Status == domain.TransactionStatusPending {
			txn.Status = domain.TransactionStatusFailed
			applyProviderUpdate(txn, update)
			txn.UpdatedAt = time.Now()
			if err := s.txnRepo.Update(ctx, tx, txn); err != nil {
				return err
			}
			failed = txn
		}

		_, err := s.recompute(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	if failed != nil {
		observability.RecordTransaction(string(failed.Method), string(failed.Status), toCents(failed.Amount))
	}

	s.logger.Info("transaction failed",
		ports.String("transaction_id", transactionID),
		ports.String("payment_id", payment.ID),
		ports.String("payment_status", string(payment.Status)))

	return payment, nil
}

// CancelTransaction cancels a single pending attempt. Successful
// transactions are never canceled; reversing them requires a refund.
func (s *Service) CancelTransaction(ctx context.Context, transactionID string) (*domain.Payment, error) {
	var (
		payment  *domain.Payment
		canceled *domain.PaymentTransaction
	)

	err := s.withLockedPayment(ctx, transactionID, func(ctx context.Context, tx pgx.Tx, p *domain.Payment, txn *domain.PaymentTransaction) error {
		payment = p

		switch txn.Status {
		case domain.TransactionStatusPending:
			txn.Status = domain.TransactionStatusCanceled
			txn.UpdatedAt = time.Now()
			if err := s.txnRepo.Update(ctx, tx, txn); err != nil {
				return err
			}
			canceled = txn
		case domain.TransactionStatusFailed, domain.TransactionStatusCanceled:
			// Already finalized without moving money; idempotent
		default:
			return domain.ErrTxnInvalidState.
				WithDetail("transaction_id", txn.ID).
				WithDetail("status", string(txn.Status)).
				WithDetail("reason", "successful transactions require a refund")
		}

		_, err := s.recompute(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	if canceled != nil {
		observability.RecordTransaction(string(canceled.Method), string(canceled.Status), toCents(canceled.Amount))
	}

	s.logger.Info("transaction canceled",
		ports.String("transaction_id", transactionID),
		ports.String("payment_status", string(payment.Status)))

	return payment, nil
}

// CancelPaymentProcess cancels every still-pending transaction under the
// payment and re-derives status from what is left
func (s *Service) CancelPaymentProcess(ctx context.Context, paymentID string) (*domain.Payment, error) {
	var payment *domain.Payment

	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		payment, err = s.paymentRepo.GetByIDForUpdate(ctx, tx, paymentID)
		if err != nil {
			return err
		}

		txns, err := s.txnRepo.ListByPaymentID(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		for _, txn := range txns {
			if txn.Status != domain.TransactionStatusPending {
				continue
			}
			txn.Status = domain.TransactionStatusCanceled
			txn.UpdatedAt = time.Now()
			if err := s.txnRepo.Update(ctx, tx, txn); err != nil {
				return err
			}
		}

		_, err = s.recompute(ctx, tx, payment)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment process canceled",
		ports.String("payment_id", paymentID),
		ports.String("payment_status", string(payment.Status)))

	return payment, nil
}

// ApplyRefund applies an incremental refund to one transaction and
// recomputes the payment aggregate. Idempotent by provider refund id: a
// refund event already present in the transaction's audit trail is dropped
// without touching state. The transaction moves to REFUNDED only when the
// cumulative refund equals the original amount.
func (s *Service) ApplyRefund(ctx context.Context, params RefundParams) (*domain.Payment, error) {
	if !params.Amount.IsPositive() {
		return nil, domain.ErrValidationAmountInvalid.WithDetail("amount", params.Amount.String())
	}

	var (
		payment *domain.Payment
		applied *domain.PaymentTransaction
	)

	err := s.withLockedPayment(ctx, params.TransactionID, func(ctx context.Context, tx pgx.Tx, p *domain.Payment, txn *domain.PaymentTransaction) error {
		payment = p

		if params.ProviderRefundID != "" && txn.HasRefundID(params.ProviderRefundID) {
			s.logger.Info("duplicate refund event dropped",
				ports.String("transaction_id", txn.ID),
				ports.String("provider_refund_id", params.ProviderRefundID))
			return nil
		}

		if !txn.CanBeRefunded() {
			return domain.ErrTxnInvalidState.
				WithDetail("transaction_id", txn.ID).
				WithDetail("status", string(txn.Status)).
				WithDetail("reason", "transaction has no refundable amount")
		}
		if params.Amount.GreaterThan(txn.RemainingRefundable()) {
			return domain.ErrInsufficientRefundable.
				WithDetail("requested", params.Amount.String()).
				WithDetail("refundable", txn.RemainingRefundable().String())
		}

		txn.RefundedAmount = txn.RefundedAmount.Add(params.Amount)
		if params.ProviderRefundID != "" {
			txn.RefundIDs = append(txn.RefundIDs, params.ProviderRefundID)
		}
		if txn.RefundedAmount.Equal(txn.Amount) {
			txn.Status = domain.TransactionStatusRefunded
		}
		if len(params.RawResponse) > 0 {
			txn.ProviderResponse = params.RawResponse
		}
		txn.UpdatedAt = time.Now()
		if err := s.txnRepo.Update(ctx, tx, txn); err != nil {
			return err
		}
		applied = txn

		_, err := s.recompute(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	if applied != nil {
		observability.RecordRefund(string(applied.Method), toCents(params.Amount))
	}

	s.logger.Info("refund applied",
		ports.String("transaction_id", params.TransactionID),
		ports.String("amount", params.Amount.String()),
		ports.String("payment_status", string(payment.Status)))

	return payment, nil
}

// GetPayment returns a read-only snapshot of the payment and its history
func (s *Service) GetPayment(ctx context.Context, paymentID string) (*PaymentSnapshot, error) {
	payment, err := s.paymentRepo.GetByID(ctx, s.db.GetDB(), paymentID)
	if err != nil {
		return nil, err
	}
	txns, err := s.txnRepo.ListByPaymentID(ctx, s.db.GetDB(), paymentID)
	if err != nil {
		return nil, err
	}
	return &PaymentSnapshot{Payment: payment, Transactions: txns}, nil
}

// GetPaymentByOrderID returns the payment snapshot for an order
func (s *Service) GetPaymentByOrderID(ctx context.Context, orderID string) (*PaymentSnapshot, error) {
	payment, err := s.paymentRepo.GetByOrderID(ctx, s.db.GetDB(), orderID)
	if err != nil {
		return nil, err
	}
	txns, err := s.txnRepo.ListByPaymentID(ctx, s.db.GetDB(), payment.ID)
	if err != nil {
		return nil, err
	}
	return &PaymentSnapshot{Payment: payment, Transactions: txns}, nil
}

// GetTransaction returns one transaction by local id
func (s *Service) GetTransaction(ctx context.Context, transactionID string) (*domain.PaymentTransaction, error) {
	return s.txnRepo.GetByID(ctx, s.db.GetDB(), transactionID)
}

// GetTransactionByProviderID resolves the reconciliation join key
func (s *Service) GetTransactionByProviderID(ctx context.Context, providerTxnID string) (*domain.PaymentTransaction, error) {
	return s.txnRepo.GetByProviderTransactionID(ctx, s.db.GetDB(), providerTxnID)
}

// withLockedPayment resolves the transaction, then opens a database
// transaction that locks the owning Payment row and re-reads the
// transaction under the lock before invoking fn. This is the serialization
// point between the synchronous capture path and webhook delivery.
func (s *Service) withLockedPayment(
	ctx context.Context,
	transactionID string,
	fn func(ctx context.Context, tx pgx.Tx, payment *domain.Payment, txn *domain.PaymentTransaction) error,
) error {
	// Unlocked read to discover the owning payment id
	ref, err := s.txnRepo.GetByID(ctx, s.db.GetDB(), transactionID)
	if err != nil {
		return err
	}

	return s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		payment, err := s.paymentRepo.GetByIDForUpdate(ctx, tx, ref.PaymentID)
		if err != nil {
			return err
		}

		// Re-read under the lock; the unlocked copy may be stale
		txn, err := s.txnRepo.GetByID(ctx, tx, transactionID)
		if err != nil {
			return err
		}

		return fn(ctx, tx, payment, txn)
	})
}

// recompute replays the full transaction set, derives the next payment
// status and persists the result. The caller must hold the payment row
// lock. Returns true when this recomputation moved the payment into PAID.
func (s *Service) recompute(ctx context.Context, tx pgx.Tx, payment *domain.Payment) (bool, error) {
	txns, err := s.txnRepo.ListByPaymentID(ctx, tx, payment.ID)
	if err != nil {
		return false, err
	}

	agg := ComputeAggregates(txns)
	next := DeriveStatus(agg, payment.TotalAmountDue)

	if !payment.Status.CanTransitionTo(next) {
		return false, domain.ErrInvalidTransition.
			WithDetail("from", string(payment.Status)).
			WithDetail("to", string(next))
	}

	becamePaid := payment.Status != domain.PaymentStatusPaid && next == domain.PaymentStatusPaid

	agg.ApplyTo(payment)
	payment.Status = next
	payment.UpdatedAt = time.Now()

	if err := s.paymentRepo.Update(ctx, tx, payment); err != nil {
		return false, err
	}
	return becamePaid, nil
}

func applyProviderUpdate(txn *domain.PaymentTransaction, update ProviderUpdate) {
	if update.ProviderTransactionID != "" {
		txn.ProviderTransactionID = update.ProviderTransactionID
	}
	if len(update.RawResponse) > 0 {
		txn.ProviderResponse = update.RawResponse
	}
	if update.CardBrand != "" {
		txn.CardBrand = update.CardBrand
	}
}

// toCents converts a decimal money amount to integer cents for metrics
func toCents(d decimal.Decimal) int64 {
	return d.Shift(2).IntPart()
}
