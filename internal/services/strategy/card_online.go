package strategy

import (
	"context"

	"github.com/kevin07696/pos-payments/internal/domain"
	"github.com/kevin07696/pos-payments/internal/domain/ports"
	"github.com/kevin07696/pos-payments/internal/services/ledger"
	"github.com/shopspring/decimal"
)

// CardOnlineStrategy handles unattended online card payments. With a saved
// payment method the intent is created and confirmed in one call; otherwise
// the client secret is handed back for a provider-hosted flow and terminal
// confirmation arrives via webhook.
type CardOnlineStrategy struct {
	gateway ports.ProviderGateway
	ledger  Ledger
	logger  ports.Logger
}

// NewCardOnlineStrategy creates the online card strategy
func NewCardOnlineStrategy(gateway ports.ProviderGateway, l Ledger, logger ports.Logger) *CardOnlineStrategy {
	return &CardOnlineStrategy{gateway: gateway, ledger: l, logger: logger}
}

// Process creates the intent, confirming immediately when a saved payment
// method is supplied
func (s *CardOnlineStrategy) Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
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
		Method:    domain.PaymentMethodCardOnline,
	})
	if err != nil {
		return nil, err
	}

	confirmNow := req.PaymentMethodToken != ""

	intent, err := s.gateway.CreateIntent(ctx, &ports.CreateIntentRequest{
		TransactionID: txn.ID,
		Amount:        txn.Amount.Add(txn.Tip).Add(txn.Surcharge),
		Tip:           txn.Tip,
		Surcharge:     txn.Surcharge,
		Currency:      req.Currency,
		PaymentMethod: req.PaymentMethodToken,
		ConfirmNow:    confirmNow,
		OrderID:       req.OrderID,
		PaymentID:     payment.ID,
	})
	if err != nil {
		update := ledger.ProviderUpdate{RawResponse: providerFailurePayload(err)}
		if _, ferr := s.ledger.RecordFailedTransaction(ctx, txn.ID, update); ferr != nil {
			s.logger.Error("recording provider failure",
				ports.String("transaction_id", txn.ID),
				ports.Err(ferr))
		}
		return nil, err
	}

	if intent.Status == ports.IntentStatusSucceeded {
		// Saved payment method settled synchronously
		payment, err = s.ledger.ConfirmSuccessfulTransaction(ctx, txn.ID, ledger.ProviderUpdate{
			ProviderTransactionID: intent.ID,
			RawResponse:           intent.RawResponse,
			CardBrand:             intent.CardBrand,
		})
		if err != nil {
			return nil, err
		}
	} else {
		// Hosted flow finishes out-of-band; persist the join key now so
		// the webhook can resolve this attempt
		if _, err = s.ledger.AttachProviderIntent(ctx, txn.ID, ledger.ProviderUpdate{
			ProviderTransactionID: intent.ID,
			RawResponse:           intent.RawResponse,
		}); err != nil {
			return nil, err
		}
	}

	txn, err = s.ledger.GetTransaction(ctx, txn.ID)
	if err != nil {
		return nil, err
	}

	result := &ProcessResult{
		Payment:         payment,
		Transaction:     txn,
		ClientSecret:    intent.ClientSecret,
		IntentID:        intent.ID,
		AppliedAmount:   decimal.Zero,
		RemainingAmount: req.Amount,
	}
	if txn.Status == domain.TransactionStatusSuccessful {
		result.AppliedAmount = req.Amount
		result.RemainingAmount = decimal.Zero
	}
	return result, nil
}

// Refund refunds an online card transaction at the provider
func (s *CardOnlineStrategy) Refund(ctx context.Context, txn *domain.PaymentTransaction, amount decimal.Decimal, reason string) (*domain.Payment, error) {
	return refundThroughProvider(ctx, s.gateway, s.ledger, txn, amount, reason)
}
