package ports

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// IntentStatus is the provider-side state of a payment intent
type IntentStatus string

const (
	IntentStatusRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentStatusRequiresCapture       IntentStatus = "requires_capture"
	IntentStatusProcessing            IntentStatus = "processing"
	IntentStatusSucceeded             IntentStatus = "succeeded"
	IntentStatusCanceled              IntentStatus = "canceled"
)

// CreateIntentRequest asks the provider to open a payment intent.
// TransactionID is the local transaction id, passed through as idempotency
// metadata so retries after network failures are safe.
type CreateIntentRequest struct {
	TransactionID string
	Amount        decimal.Decimal

	// Tip and Surcharge are the portions of Amount that are not payment
	// toward the order. Carried in intent metadata so an attempt
	// materialized from a webhook restores the same split.
	Tip       decimal.Decimal
	Surcharge decimal.Decimal

	Currency      string
	CaptureManual bool // terminal flows capture explicitly
	PaymentMethod string
	ConfirmNow    bool // create-and-confirm for saved payment methods
	OrderID       string
	PaymentID     string
	Description   string
}

// Intent is the provider's view of a payment intent
type Intent struct {
	ID           string
	ClientSecret string
	Status       IntentStatus
	Amount       decimal.Decimal
	CardBrand    string
	RawResponse  json.RawMessage
}

// Refund is the provider's view of a refund
type Refund struct {
	ID          string
	IntentID    string
	Amount      decimal.Decimal
	Status      string
	RawResponse json.RawMessage
}

// ProviderGateway is the outbound interface to the card payment provider.
// Every call is idempotent from the engine's perspective: the local
// transaction id rides along as the idempotency key.
type ProviderGateway interface {
	CreateIntent(ctx context.Context, req *CreateIntentRequest) (*Intent, error)
	GetIntent(ctx context.Context, intentID string) (*Intent, error)
	CaptureIntent(ctx context.Context, intentID string, transactionID string) (*Intent, error)
	CancelIntent(ctx context.Context, intentID string, transactionID string) (*Intent, error)
	RefundIntent(ctx context.Context, intentID string, amount decimal.Decimal, reason, transactionID string) (*Refund, error)

	// CreateConnectionToken mints a short-lived token a card terminal uses
	// to talk to the provider directly
	CreateConnectionToken(ctx context.Context) (string, error)
}
