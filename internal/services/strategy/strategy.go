// Package strategy holds the method-specific execution logic for payment
// attempts. One implementation exists per payment method and provider;
// dispatch is an explicit registry lookup, so adding a provider never
// touches the state machine.
package strategy

import (
	"context"

	"github.com/kevin07696/pos-payments/internal/domain"
	"github.com/kevin07696/pos-payments/internal/services/ledger"
	"github.com/shopspring/decimal"
)

// ProcessRequest describes one payment attempt against an order
type ProcessRequest struct {
	OrderID string

	// AmountDue is the order total snapshot supplied by the caller; the
	// engine never computes it
	AmountDue decimal.Decimal

	// Amount is what this attempt tries to collect; split payments issue
	// several attempts
	Amount    decimal.Decimal
	Tip       decimal.Decimal
	Surcharge decimal.Decimal
	Currency  string

	// PaymentMethodToken is a saved provider payment method id; when set,
	// online strategies create-and-confirm in one call
	PaymentMethodToken string

	// GiftCardCode selects the card for gift card attempts
	GiftCardCode string
}

// ProcessResult is what a strategy produced for one attempt
type ProcessResult struct {
	Payment     *domain.Payment
	Transaction *domain.PaymentTransaction

	// ClientSecret and IntentID are set when the provider opened an intent
	// that a terminal or hosted flow finishes out-of-band
	ClientSecret string
	IntentID     string

	// AppliedAmount is how much was actually collected. Gift cards may
	// cover less than requested; the caller routes RemainingAmount to
	// another strategy.
	AppliedAmount   decimal.Decimal
	RemainingAmount decimal.Decimal
}

// Strategy executes and refunds attempts for one payment method
type Strategy interface {
	Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error)

	// Refund applies an incremental refund to a transaction this strategy
	// produced. Over-refunds are rejected before any provider call.
	Refund(ctx context.Context, txn *domain.PaymentTransaction, amount decimal.Decimal, reason string) (*domain.Payment, error)
}

// TerminalStrategy is implemented by strategies backing attended card
// terminals
type TerminalStrategy interface {
	Strategy

	CreatePaymentIntent(ctx context.Context, req ProcessRequest) (*ProcessResult, error)
	CapturePayment(ctx context.Context, intentID string) (*domain.Payment, error)
	CancelAction(ctx context.Context, intentID string) (*domain.Payment, error)
	CreateConnectionToken(ctx context.Context) (string, error)
}

// Ledger is the slice of the payment state service the strategies drive.
// Strategies never write ledger state themselves.
type Ledger interface {
	InitiatePaymentAttempt(ctx context.Context, order domain.Order) (*domain.Payment, error)
	CreatePendingTransaction(ctx context.Context, params ledger.CreateTransactionParams) (*domain.PaymentTransaction, error)
	AttachProviderIntent(ctx context.Context, transactionID string, update ledger.ProviderUpdate) (*domain.PaymentTransaction, error)
	ConfirmSuccessfulTransaction(ctx context.Context, transactionID string, update ledger.ProviderUpdate) (*domain.Payment, error)
	RecordFailedTransaction(ctx context.Context, transactionID string, update ledger.ProviderUpdate) (*domain.Payment, error)
	CancelTransaction(ctx context.Context, transactionID string) (*domain.Payment, error)
	ApplyRefund(ctx context.Context, params ledger.RefundParams) (*domain.Payment, error)
	GetTransaction(ctx context.Context, transactionID string) (*domain.PaymentTransaction, error)
	GetTransactionByProviderID(ctx context.Context, providerTxnID string) (*domain.PaymentTransaction, error)
}

type registryKey struct {
	method   domain.PaymentMethod
	provider string
}

// Registry maps (method, provider) to a strategy. Methods without an
// external provider (cash, gift card) register with an empty provider
// string and resolve regardless of the provider the caller names.
type Registry struct {
	strategies map[registryKey]Strategy
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[registryKey]Strategy)}
}

// Register binds a strategy to a method and provider pair
func (r *Registry) Register(method domain.PaymentMethod, provider string, s Strategy) {
	r.strategies[registryKey{method: method, provider: provider}] = s
}

// Resolve looks up the strategy for a method and provider
func (r *Registry) Resolve(method domain.PaymentMethod, provider string) (Strategy, error) {
	if s, ok := r.strategies[registryKey{method: method, provider: provider}]; ok {
		return s, nil
	}
	// Provider-less methods match any provider the caller names
	if s, ok := r.strategies[registryKey{method: method}]; ok {
		return s, nil
	}
	return nil, domain.ErrValidationFailed.
		WithDetail("method", string(method)).
		WithDetail("provider", provider)
}

// ResolveTerminal looks up a terminal-capable strategy
func (r *Registry) ResolveTerminal(method domain.PaymentMethod, provider string) (TerminalStrategy, error) {
	s, err := r.Resolve(method, provider)
	if err != nil {
		return nil, err
	}
	ts, ok := s.(TerminalStrategy)
	if !ok {
		return nil, domain.ErrValidationFailed.
			WithDetail("method", string(method)).
			WithDetail("reason", "method does not support terminal operations")
	}
	return ts, nil
}
