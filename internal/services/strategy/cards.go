package strategy

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/kevin07696/pos-payments/internal/domain"
	"github.com/kevin07696/pos-payments/internal/domain/ports"
	"github.com/kevin07696/pos-payments/internal/services/ledger"
	"github.com/shopspring/decimal"
)

// refundThroughProvider is the shared refund path for card strategies.
// The local refundable check runs before any provider call; the ledger
// revalidates under the payment row lock when the refund is applied.
func refundThroughProvider(
	ctx context.Context,
	gateway ports.ProviderGateway,
	l Ledger,
	txn *domain.PaymentTransaction,
	amount decimal.Decimal,
	reason string,
) (*domain.Payment, error) {
	if !amount.IsPositive() {
		return nil, domain.ErrValidationAmountInvalid.WithDetail("amount", amount.String())
	}

	current, err := l.GetTransaction(ctx, txn.ID)
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
	if current.ProviderTransactionID == "" {
		return nil, domain.ErrTxnInvalidState.
			WithDetail("transaction_id", current.ID).
			WithDetail("reason", "transaction has no provider reference")
	}

	refund, err := gateway.RefundIntent(ctx, current.ProviderTransactionID, amount, reason, current.ID)
	if err != nil {
		return nil, err
	}

	return l.ApplyRefund(ctx, ledger.RefundParams{
		TransactionID:    current.ID,
		Amount:           amount,
		ProviderRefundID: refund.ID,
		Reason:           reason,
		RawResponse:      refund.RawResponse,
	})
}

// providerFailurePayload serializes a provider error into a payload
// suitable for the transaction's provider_response audit column
func providerFailurePayload(cause error) json.RawMessage {
	payload := map[string]interface{}{"error": cause.Error()}
	var derr *domain.DomainError
	if errors.As(cause, &derr) {
		payload["code"] = string(derr.Code)
		for k, v := range derr.Details {
			payload[k] = v
		}
	}
	raw, _ := json.Marshal(payload)
	return raw
}
