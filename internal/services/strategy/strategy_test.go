package strategy_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kevin07696/pos-payments/internal/domain"
	"github.com/kevin07696/pos-payments/internal/domain/ports"
	"github.com/kevin07696/pos-payments/internal/services/ledger"
	"github.com/kevin07696/pos-payments/internal/services/notify"
	"github.com/kevin07696/pos-payments/internal/services/strategy"
	"github.com/kevin07696/pos-payments/internal/testutil/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockProviderGateway mocks the provider gateway
type MockProviderGateway struct {
	mock.Mock
}

func (m *MockProviderGateway) CreateIntent(ctx context.Context, req *ports.CreateIntentRequest) (*ports.Intent, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.Intent), args.Error(1)
}

func (m *MockProviderGateway) GetIntent(ctx context.Context, intentID string) (*ports.Intent, error) {
	args := m.Called(ctx, intentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.Intent), args.Error(1)
}

func (m *MockProviderGateway) CaptureIntent(ctx context.Context, intentID, transactionID string) (*ports.Intent, error) {
	args := m.Called(ctx, intentID, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.Intent), args.Error(1)
}

func (m *MockProviderGateway) CancelIntent(ctx context.Context, intentID, transactionID string) (*ports.Intent, error) {
	args := m.Called(ctx, intentID, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.Intent), args.Error(1)
}

func (m *MockProviderGateway) RefundIntent(ctx context.Context, intentID string, amount decimal.Decimal, reason, transactionID string) (*ports.Refund, error) {
	args := m.Called(ctx, intentID, amount, reason, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.Refund), args.Error(1)
}

func (m *MockProviderGateway) CreateConnectionToken(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

type env struct {
	db       *mocks.DBPort
	payments *mocks.PaymentRepository
	txns     *mocks.TransactionRepository
	cards    *mocks.GiftCardRepository
	gateway  *MockProviderGateway
	ledger   *ledger.Service
}

func newEnv() *env {
	db := &mocks.DBPort{}
	payments := mocks.NewPaymentRepository()
	txns := mocks.NewTransactionRepository()
	cards := mocks.NewGiftCardRepository()
	notifier := notify.NewNotifier(mocks.NopLogger{})
	return &env{
		db:       db,
		payments: payments,
		txns:     txns,
		cards:    cards,
		gateway:  new(MockProviderGateway),
		ledger:   ledger.NewService(db, payments, txns, notifier, mocks.NopLogger{}),
	}
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRegistry_Resolve(t *testing.T) {
	e := newEnv()
	registry := strategy.NewRegistry()

	cash := strategy.NewCashStrategy(e.ledger, mocks.NopLogger{})
	terminal := strategy.NewCardTerminalStrategy(e.gateway, e.ledger, mocks.NopLogger{})
	registry.Register(domain.PaymentMethodCash, "", cash)
	registry.Register(domain.PaymentMethodCardTerminal, "stripe", terminal)

	got, err := registry.Resolve(domain.PaymentMethodCardTerminal, "stripe")
	require.NoError(t, err)
	assert.Same(t, strategy.Strategy(terminal), got)

	// Provider-less methods resolve regardless of the provider named
	got, err = registry.Resolve(domain.PaymentMethodCash, "stripe")
	require.NoError(t, err)
	assert.Same(t, strategy.Strategy(cash), got)

	_, err = registry.Resolve(domain.PaymentMethodCardTerminal, "clover")
	assert.ErrorIs(t, err, domain.ErrValidationFailed)

	ts, err := registry.ResolveTerminal(domain.PaymentMethodCardTerminal, "stripe")
	require.NoError(t, err)
	assert.Same(t, strategy.TerminalStrategy(terminal), ts)

	_, err = registry.ResolveTerminal(domain.PaymentMethodCash, "")
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
}

func TestCashStrategy_ProcessFullPayment(t *testing.T) {
	e := newEnv()
	cash := strategy.NewCashStrategy(e.ledger, mocks.NopLogger{})

	result, err := cash.Process(context.Background(), strategy.ProcessRequest{
		OrderID:   "order-1",
		AmountDue: money("50.00"),
		Amount:    money("50.00"),
		Tip:       money("5.00"),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusPaid, result.Payment.Status)
	assert.Equal(t, domain.TransactionStatusSuccessful, result.Transaction.Status)
	assert.True(t, result.Payment.AmountPaid.Equal(money("50.00")))
	assert.True(t, result.Payment.TotalTips.Equal(money("5.00")))
	assert.True(t, result.Payment.TotalCollected.Equal(money("55.00")))
}

func TestCashStrategy_Refund(t *testing.T) {
	e := newEnv()
	cash := strategy.NewCashStrategy(e.ledger, mocks.NopLogger{})
	ctx := context.Background()

	result, err := cash.Process(ctx, strategy.ProcessRequest{
		OrderID:   "order-1",
		AmountDue: money("30.00"),
		Amount:    money("30.00"),
	})
	require.NoError(t, err)

	payment, err := cash.Refund(ctx, result.Transaction, money("30.00"), "customer return")
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusRefunded, payment.Status)
	assert.True(t, payment.AmountPaid.Equal(money("30.00")))
}

func TestGiftCardStrategy_PartialCoverage(t *testing.T) {
	e := newEnv()
	gift := strategy.NewGiftCardStrategy(e.db, e.cards, e.ledger, mocks.NopLogger{})
	ctx := context.Background()

	require.NoError(t, e.cards.Create(ctx, nil, &domain.GiftCard{
		ID:              "gc-1",
		Code:            "GIFT-30",
		OriginalBalance: money("30.00"),
		CurrentBalance:  money("30.00"),
	}))

	result, err := gift.Process(ctx, strategy.ProcessRequest{
		OrderID:      "order-1",
		AmountDue:    money("50.00"),
		Amount:       money("50.00"),
		GiftCardCode: "GIFT-30",
	})
	require.NoError(t, err)

	assert.True(t, result.AppliedAmount.Equal(money("30.00")))
	assert.True(t, result.RemainingAmount.Equal(money("20.00")))
	assert.Equal(t, domain.PaymentStatusPartiallyPaid, result.Payment.Status)

	card, err := e.cards.GetByCode(ctx, nil, "GIFT-30")
	require.NoError(t, err)
	assert.True(t, card.CurrentBalance.IsZero())
	assert.Equal(t, domain.GiftCardStatusRedeemed, card.Status(time.Now()))
}

func TestGiftCardStrategy_RefundCreditsCard(t *testing.T) {
	e := newEnv()
	gift := strategy.NewGiftCardStrategy(e.db, e.cards, e.ledger, mocks.NopLogger{})
	ctx := context.Background()

	require.NoError(t, e.cards.Create(ctx, nil, &domain.GiftCard{
		ID:              "gc-1",
		Code:            "GIFT-50",
		OriginalBalance: money("50.00"),
		CurrentBalance:  money("50.00"),
	}))

	result, err := gift.Process(ctx, strategy.ProcessRequest{
		OrderID:      "order-1",
		AmountDue:    money("50.00"),
		Amount:       money("50.00"),
		GiftCardCode: "GIFT-50",
	})
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusPaid, result.Payment.Status)

	payment, err := gift.Refund(ctx, result.Transaction, money("20.00"), "item returned")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPartiallyRefunded, payment.Status)

	card, err := e.cards.GetByCode(ctx, nil, "GIFT-50")
	require.NoError(t, err)
	assert.True(t, card.CurrentBalance.Equal(money("20.00")))

	// The refund leaves an audit entry on the transaction like card
	// refunds do
	txn, err := e.ledger.GetTransaction(ctx, result.Transaction.ID)
	require.NoError(t, err)
	assert.Len(t, txn.RefundIDs, 1)
}

func TestGiftCardStrategy_OverRefundLeavesBalanceUntouched(t *testing.T) {
	e := newEnv()
	gift := strategy.NewGiftCardStrategy(e.db, e.cards, e.ledger, mocks.NopLogger{})
	ctx := context.Background()

	require.NoError(t, e.cards.Create(ctx, nil, &domain.GiftCard{
		ID:              "gc-1",
		Code:            "GIFT-50",
		OriginalBalance: money("50.00"),
		CurrentBalance:  money("50.00"),
	}))

	result, err := gift.Process(ctx, strategy.ProcessRequest{
		OrderID:      "order-1",
		AmountDue:    money("50.00"),
		Amount:       money("50.00"),
		GiftCardCode: "GIFT-50",
	})
	require.NoError(t, err)

	_, err = gift.Refund(ctx, result.Transaction, money("80.00"), "oops")
	assert.ErrorIs(t, err, domain.ErrInsufficientRefundable)

	// Rejected before any balance movement
	card, err := e.cards.GetByCode(ctx, nil, "GIFT-50")
	require.NoError(t, err)
	assert.True(t, card.CurrentBalance.IsZero())
}

// failingRefundLedger drops the ledger write after the card credit has
// already happened
type failingRefundLedger struct {
	strategy.Ledger
}

func (f *failingRefundLedger) ApplyRefund(ctx context.Context, params ledger.RefundParams) (*domain.Payment, error) {
	return nil, errors.New("connection reset by peer")
}

func TestGiftCardStrategy_FailedLedgerRefundTakesCreditBack(t *testing.T) {
	e := newEnv()
	gift := strategy.NewGiftCardStrategy(e.db, e.cards, e.ledger, mocks.NopLogger{})
	ctx := context.Background()

	require.NoError(t, e.cards.Create(ctx, nil, &domain.GiftCard{
		ID:              "gc-1",
		Code:            "GIFT-50",
		OriginalBalance: money("50.00"),
		CurrentBalance:  money("50.00"),
	}))

	result, err := gift.Process(ctx, strategy.ProcessRequest{
		OrderID:      "order-1",
		AmountDue:    money("50.00"),
		Amount:       money("50.00"),
		GiftCardCode: "GIFT-50",
	})
	require.NoError(t, err)

	failing := strategy.NewGiftCardStrategy(e.db, e.cards, &failingRefundLedger{Ledger: e.ledger}, mocks.NopLogger{})
	_, err = failing.Refund(ctx, result.Transaction, money("20.00"), "item returned")
	require.Error(t, err)

	// The credit applied before the failed ledger write was taken back,
	// so the ledger and the card still agree and a retry starts clean
	card, err := e.cards.GetByCode(ctx, nil, "GIFT-50")
	require.NoError(t, err)
	assert.True(t, card.CurrentBalance.IsZero())

	txn, err := e.ledger.GetTransaction(ctx, result.Transaction.ID)
	require.NoError(t, err)
	assert.True(t, txn.RefundedAmount.IsZero())

	// The retry against the real ledger succeeds exactly once
	payment, err := gift.Refund(ctx, result.Transaction, money("20.00"), "item returned")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPartiallyRefunded, payment.Status)

	card, err = e.cards.GetByCode(ctx, nil, "GIFT-50")
	require.NoError(t, err)
	assert.True(t, card.CurrentBalance.Equal(money("20.00")))
}

func TestGiftCardStrategy_ExpiredCard(t *testing.T) {
	e := newEnv()
	gift := strategy.NewGiftCardStrategy(e.db, e.cards, e.ledger, mocks.NopLogger{})
	ctx := context.Background()

	expired := time.Now().Add(-24 * time.Hour)
	require.NoError(t, e.cards.Create(ctx, nil, &domain.GiftCard{
		ID:              "gc-1",
		Code:            "GIFT-OLD",
		OriginalBalance: money("50.00"),
		CurrentBalance:  money("50.00"),
		ExpiresAt:       &expired,
	}))

	_, err := gift.Process(ctx, strategy.ProcessRequest{
		OrderID:      "order-1",
		AmountDue:    money("50.00"),
		Amount:       money("50.00"),
		GiftCardCode: "GIFT-OLD",
	})
	assert.ErrorIs(t, err, domain.ErrGiftCardExpired)
}

func TestCardTerminal_CreateIntentPersistsJoinKey(t *testing.T) {
	e := newEnv()
	terminal := strategy.NewCardTerminalStrategy(e.gateway, e.ledger, mocks.NopLogger{})
	ctx := context.Background()

	e.gateway.On("CreateIntent", ctx, mock.MatchedBy(func(req *ports.CreateIntentRequest) bool {
		return req.CaptureManual && req.Amount.Equal(money("40.00"))
	})).Return(&ports.Intent{
		ID:           "pi_1",
		ClientSecret: "pi_1_secret",
		Status:       ports.IntentStatusRequiresPaymentMethod,
		RawResponse:  []byte(`{"id":"pi_1"}`),
	}, nil)

	result, err := terminal.CreatePaymentIntent(ctx, strategy.ProcessRequest{
		OrderID:   "order-1",
		AmountDue: money("40.00"),
		Amount:    money("40.00"),
		Currency:  "usd",
	})
	require.NoError(t, err)

	assert.Equal(t, "pi_1", result.IntentID)
	assert.Equal(t, "pi_1_secret", result.ClientSecret)
	assert.Equal(t, domain.TransactionStatusPending, result.Transaction.Status)
	assert.Equal(t, "pi_1", result.Transaction.ProviderTransactionID)

	// The webhook path can already resolve the attempt
	txn, err := e.ledger.GetTransactionByProviderID(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, result.Transaction.ID, txn.ID)
	e.gateway.AssertExpectations(t)
}

func TestCardTerminal_CreateIntentProviderFailure(t *testing.T) {
	e := newEnv()
	terminal := strategy.NewCardTerminalStrategy(e.gateway, e.ledger, mocks.NopLogger{})
	ctx := context.Background()

	e.gateway.On("CreateIntent", ctx, mock.Anything).
		Return(nil, domain.ErrProviderError.WithDetail("status", 502))

	_, err := terminal.CreatePaymentIntent(ctx, strategy.ProcessRequest{
		OrderID:   "order-1",
		AmountDue: money("40.00"),
		Amount:    money("40.00"),
		Currency:  "usd",
	})
	assert.ErrorIs(t, err, domain.ErrProviderError)

	// The attempt is finalized FAILED with the failure recorded
	snapshot, err := e.ledger.GetPaymentByOrderID(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, snapshot.Transactions, 1)
	assert.Equal(t, domain.TransactionStatusFailed, snapshot.Transactions[0].Status)
	assert.Contains(t, string(snapshot.Transactions[0].ProviderResponse), "PROVIDER_ERROR")
	assert.Equal(t, domain.PaymentStatusUnpaid, snapshot.Payment.Status)
}

func TestCardTerminal_CaptureConfirmsSynchronously(t *testing.T) {
	e := newEnv()
	terminal := strategy.NewCardTerminalStrategy(e.gateway, e.ledger, mocks.NopLogger{})
	ctx := context.Background()

	e.gateway.On("CreateIntent", ctx, mock.Anything).Return(&ports.Intent{
		ID:          "pi_1",
		Status:      ports.IntentStatusRequiresPaymentMethod,
		RawResponse: []byte(`{"id":"pi_1"}`),
	}, nil)

	result, err := terminal.CreatePaymentIntent(ctx, strategy.ProcessRequest{
		OrderID:   "order-1",
		AmountDue: money("40.00"),
		Amount:    money("40.00"),
		Currency:  "usd",
	})
	require.NoError(t, err)

	e.gateway.On("CaptureIntent", ctx, "pi_1", result.Transaction.ID).Return(&ports.Intent{
		ID:          "pi_1",
		Status:      ports.IntentStatusSucceeded,
		CardBrand:   "visa",
		RawResponse: []byte(`{"id":"pi_1","status":"succeeded"}`),
	}, nil)

	payment, err := terminal.CapturePayment(ctx, "pi_1")
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusPaid, payment.Status)
	txn, err := e.ledger.GetTransaction(ctx, result.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusSuccessful, txn.Status)
	assert.Equal(t, "visa", txn.CardBrand)
	e.gateway.AssertExpectations(t)
}

func TestCardTerminal_CancelAction(t *testing.T) {
	e := newEnv()
	terminal := strategy.NewCardTerminalStrategy(e.gateway, e.ledger, mocks.NopLogger{})
	ctx := context.Background()

	e.gateway.On("CreateIntent", ctx, mock.Anything).Return(&ports.Intent{
		ID:          "pi_1",
		Status:      ports.IntentStatusRequiresPaymentMethod,
		RawResponse: []byte(`{"id":"pi_1"}`),
	}, nil)
	e.gateway.On("CancelIntent", ctx, "pi_1", mock.Anything).Return(&ports.Intent{
		ID:          "pi_1",
		Status:      ports.IntentStatusCanceled,
		RawResponse: []byte(`{"id":"pi_1","status":"canceled"}`),
	}, nil)

	result, err := terminal.CreatePaymentIntent(ctx, strategy.ProcessRequest{
		OrderID:   "order-1",
		AmountDue: money("40.00"),
		Amount:    money("40.00"),
		Currency:  "usd",
	})
	require.NoError(t, err)

	payment, err := terminal.CancelAction(ctx, "pi_1")
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusUnpaid, payment.Status)
	txn, err := e.ledger.GetTransaction(ctx, result.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCanceled, txn.Status)
}

func TestCardRefund_RejectedBeforeProviderCall(t *testing.T) {
	e := newEnv()
	terminal := strategy.NewCardTerminalStrategy(e.gateway, e.ledger, mocks.NopLogger{})
	ctx := context.Background()

	e.gateway.On("CreateIntent", ctx, mock.Anything).Return(&ports.Intent{
		ID:          "pi_1",
		Status:      ports.IntentStatusRequiresPaymentMethod,
		RawResponse: []byte(`{"id":"pi_1"}`),
	}, nil)
	e.gateway.On("CaptureIntent", ctx, "pi_1", mock.Anything).Return(&ports.Intent{
		ID:          "pi_1",
		Status:      ports.IntentStatusSucceeded,
		RawResponse: []byte(`{"id":"pi_1"}`),
	}, nil)

	result, err := terminal.CreatePaymentIntent(ctx, strategy.ProcessRequest{
		OrderID:   "order-1",
		AmountDue: money("40.00"),
		Amount:    money("40.00"),
		Currency:  "usd",
	})
	require.NoError(t, err)
	_, err = terminal.CapturePayment(ctx, "pi_1")
	require.NoError(t, err)

	_, err = terminal.Refund(ctx, result.Transaction, money("60.00"), "over")
	assert.ErrorIs(t, err, domain.ErrInsufficientRefundable)
	e.gateway.AssertNotCalled(t, "RefundIntent", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCardOnline_SavedMethodConfirmsSynchronously(t *testing.T) {
	e := newEnv()
	online := strategy.NewCardOnlineStrategy(e.gateway, e.ledger, mocks.NopLogger{})
	ctx := context.Background()

	e.gateway.On("CreateIntent", ctx, mock.MatchedBy(func(req *ports.CreateIntentRequest) bool {
		return req.ConfirmNow && req.PaymentMethod == "pm_saved"
	})).Return(&ports.Intent{
		ID:          "pi_1",
		Status:      ports.IntentStatusSucceeded,
		CardBrand:   "mastercard",
		RawResponse: []byte(`{"id":"pi_1","status":"succeeded"}`),
	}, nil)

	result, err := online.Process(ctx, strategy.ProcessRequest{
		OrderID:            "order-1",
		AmountDue:          money("25.00"),
		Amount:             money("25.00"),
		Currency:           "usd",
		PaymentMethodToken: "pm_saved",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusPaid, result.Payment.Status)
	assert.Equal(t, domain.TransactionStatusSuccessful, result.Transaction.Status)
	assert.Equal(t, "mastercard", result.Transaction.CardBrand)
	assert.True(t, result.AppliedAmount.Equal(money("25.00")))
}

func TestCardOnline_HostedFlowStaysPending(t *testing.T) {
	e := newEnv()
	online := strategy.NewCardOnlineStrategy(e.gateway, e.ledger, mocks.NopLogger{})
	ctx := context.Background()

	e.gateway.On("CreateIntent", ctx, mock.MatchedBy(func(req *ports.CreateIntentRequest) bool {
		return !req.ConfirmNow
	})).Return(&ports.Intent{
		ID:           "pi_1",
		ClientSecret: "pi_1_secret",
		Status:       ports.IntentStatusRequiresPaymentMethod,
		RawResponse:  []byte(`{"id":"pi_1"}`),
	}, nil)

	result, err := online.Process(ctx, strategy.ProcessRequest{
		OrderID:   "order-1",
		AmountDue: money("25.00"),
		Amount:    money("25.00"),
		Currency:  "usd",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusPending, result.Payment.Status)
	assert.Equal(t, domain.TransactionStatusPending, result.Transaction.Status)
	assert.Equal(t, "pi_1_secret", result.ClientSecret)
	assert.True(t, result.AppliedAmount.IsZero())
}
