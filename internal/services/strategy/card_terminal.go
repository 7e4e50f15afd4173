package strategy

import (
	"context"

	"github.com/kevin07696/pos-payments/internal/domain"
	"github.com/kevin07696/pos-payments/internal/domain/ports"
	"github.com/kevin07696/pos-payments/internal/services/ledger"
	"github.com/shopspring/decimal"
)

// CardTerminalStrategy drives attended card terminals through the provider
// gateway. The intent is created 1:1 with a fresh PENDING transaction and
// the provider id is persisted immediately, so a webhook can resolve the
// attempt even if capture never completes locally. Capture confirms
// synchronously for immediate UI feedback; the webhook is an
// eventual-consistency backstop, not the only confirmation path.
type CardTerminalStrategy struct {
	gateway ports.ProviderGateway
	ledger  Ledger
	logger  ports.Logger
}

// NewCardTerminalStrategy creates the terminal strategy
func NewCardTerminalStrategy(gateway ports.ProviderGateway, l Ledger, logger ports.Logger) *CardTerminalStrategy {
	return &CardTerminalStrategy{gateway: gateway, ledger: l, logger: logger}
}

// Process opens an intent for the terminal to collect against
func (s *CardTerminalStrategy) Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	return s.CreatePaymentIntent(ctx, req)
}

// CreatePaymentIntent records a PENDING attempt, opens a manual-capture
// intent at the provider and persists the external id on the attempt.
// The provider call happens outside any row lock.
func (s *CardTerminalStrategy) CreatePaymentIntent(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
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
		Method:    domain.PaymentMethodCardTerminal,
	})
	if err != nil {
		return nil, err
	}

	intent, err := s.gateway.CreateIntent(ctx, &ports.CreateIntentRequest{
		TransactionID: txn.ID,
		Amount:        txn.Amount.Add(txn.Tip).Add(txn.Surcharge),
		Tip:           txn.Tip,
		Surcharge:     txn.Surcharge,
		Currency:      req.Currency,
		CaptureManual: true,
		OrderID:       req.OrderID,
		PaymentID:     payment.ID,
	})
	if err != nil {
		return nil, s.recordProviderFailure(ctx, txn.ID, err)
	}

	txn, err = s.ledger.AttachProviderIntent(ctx, txn.ID, ledger.ProviderUpdate{
		ProviderTransactionID: intent.ID,
		RawResponse:           intent.RawResponse,
	})
	if err != nil {
		return nil, err
	}

	return &ProcessResult{
		Payment:         payment,
		Transaction:     txn,
		ClientSecret:    intent.ClientSecret,
		IntentID:        intent.ID,
		AppliedAmount:   decimal.Zero,
		RemainingAmount: req.Amount,
	}, nil
}

// CapturePayment captures the intent at the provider and confirms the
// transaction synchronously
func (s *CardTerminalStrategy) CapturePayment(ctx context.Context, intentID string) (*domain.Payment, error) {
	txn, err := s.ledger.GetTransactionByProviderID(ctx, intentID)
	if err != nil {
		return nil, err
	}

	intent, err := s.gateway.CaptureIntent(ctx, intentID, txn.ID)
	if err != nil {
		return nil, s.recordProviderFailure(ctx, txn.ID, err)
	}

	return s.ledger.ConfirmSuccessfulTransaction(ctx, txn.ID, ledger.ProviderUpdate{
		RawResponse: intent.RawResponse,
		CardBrand:   intent.CardBrand,
	})
}

// CancelAction cancels the intent at the provider and the local attempt
func (s *CardTerminalStrategy) CancelAction(ctx context.Context, intentID string) (*domain.Payment, error) {
	txn, err := s.ledger.GetTransactionByProviderID(ctx, intentID)
	if err != nil {
		return nil, err
	}

	intent, err := s.gateway.CancelIntent(ctx, intentID, txn.ID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ledger.AttachProviderIntent(ctx, txn.ID, ledger.ProviderUpdate{
		RawResponse: intent.RawResponse,
	}); err != nil {
		return nil, err
	}

	return s.ledger.CancelTransaction(ctx, txn.ID)
}

// CreateConnectionToken mints a token the terminal uses to reach the
// provider directly
func (s *CardTerminalStrategy) CreateConnectionToken(ctx context.Context) (string, error) {
	return s.gateway.CreateConnectionToken(ctx)
}

// Refund refunds a captured terminal transaction at the provider
func (s *CardTerminalStrategy) Refund(ctx context.Context, txn *domain.PaymentTransaction, amount decimal.Decimal, reason string) (*domain.Payment, error) {
	return refundThroughProvider(ctx, s.gateway, s.ledger, txn, amount, reason)
}

func (s *CardTerminalStrategy) recordProviderFailure(ctx context.Context, txnID string, cause error) error {
	update := ledger.ProviderUpdate{RawResponse: providerFailurePayload(cause)}
	if _, err := s.ledger.RecordFailedTransaction(ctx, txnID, update); err != nil {
		s.logger.Error("recording provider failure",
			ports.String("transaction_id", txnID),
			ports.Err(err))
	}
	return cause
}
