package ledger_test

import (
	"context"
	"testing"

	"github.com/kevin07696/pos-payments/internal/domain"
	"github.com/kevin07696/pos-payments/internal/services/ledger"
	"github.com/kevin07696/pos-payments/internal/services/notify"
	"github.com/kevin07696/pos-payments/internal/testutil/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	events []notify.PaymentCompleted
}

func (n *recordingNotifier) PaymentCompleted(ctx context.Context, event notify.PaymentCompleted) {
	n.events = append(n.events, event)
}

type fixture struct {
	service      *ledger.Service
	payments     *mocks.PaymentRepository
	transactions *mocks.TransactionRepository
	notifier     *recordingNotifier
}

func newFixture() *fixture {
	payments := mocks.NewPaymentRepository()
	transactions := mocks.NewTransactionRepository()
	notifier := &recordingNotifier{}
	service := ledger.NewService(&mocks.DBPort{}, payments, transactions, notifier, mocks.NopLogger{})
	return &fixture{
		service:      service,
		payments:     payments,
		transactions: transactions,
		notifier:     notifier,
	}
}

func (f *fixture) initiate(t *testing.T, orderID, due string) *domain.Payment {
	t.Helper()
	payment, err := f.service.InitiatePaymentAttempt(context.Background(), domain.Order{
		ID:        orderID,
		AmountDue: decimal.RequireFromString(due),
	})
	require.NoError(t, err)
	return payment
}

func (f *fixture) addPending(t *testing.T, paymentID, amount string, method domain.PaymentMethod) *domain.PaymentTransaction {
	t.Helper()
	txn, err := f.service.CreatePendingTransaction(context.Background(), ledger.CreateTransactionParams{
		PaymentID: paymentID,
		Amount:    decimal.RequireFromString(amount),
		Tip:       decimal.Zero,
		Surcharge: decimal.Zero,
		Method:    method,
	})
	require.NoError(t, err)
	return txn
}

func TestInitiatePaymentAttempt_CreatesPendingPayment(t *testing.T) {
	f := newFixture()

	payment := f.initiate(t, "order-1", "50.00")

	assert.Equal(t, domain.PaymentStatusPending, payment.Status)
	assert.Equal(t, "order-1", payment.OrderID)
	assert.True(t, payment.TotalAmountDue.Equal(decimal.RequireFromString("50.00")))
	assert.True(t, payment.AmountPaid.IsZero())
	assert.EqualValues(t, 1, payment.Number)
}

func TestInitiatePaymentAttempt_GetOrCreateIsIdempotent(t *testing.T) {
	f := newFixture()

	first := f.initiate(t, "order-1", "50.00")
	second := f.initiate(t, "order-1", "50.00")

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.payments.CreateN)
}

func TestInitiatePaymentAttempt_RefreshesDueBeforeMoneyMoves(t *testing.T) {
	f := newFixture()

	f.initiate(t, "order-1", "50.00")
	refreshed := f.initiate(t, "order-1", "65.00")

	assert.True(t, refreshed.TotalAmountDue.Equal(decimal.RequireFromString("65.00")))
}

func TestInitiatePaymentAttempt_ZeroDueOnNewOrderRejected(t *testing.T) {
	f := newFixture()

	_, err := f.service.InitiatePaymentAttempt(context.Background(), domain.Order{
		ID:        "order-1",
		AmountDue: decimal.Zero,
	})

	assert.ErrorIs(t, err, domain.ErrValidationAmountInvalid)
	assert.Equal(t, 0, f.payments.CreateN)
}

func TestInitiatePaymentAttempt_OmittedTotalKeepsSnapshot(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	payment := f.initiate(t, "order-1", "100.00")

	// A follow-up attempt that omits the order total decodes to zero;
	// the recorded due amount must survive it, or a partial tender would
	// satisfy the payment and fire completion
	again := f.initiate(t, "order-1", "0")
	require.True(t, again.TotalAmountDue.Equal(decimal.RequireFromString("100.00")))

	txn := f.addPending(t, payment.ID, "40.00", domain.PaymentMethodCash)
	updated, err := f.service.ConfirmSuccessfulTransaction(ctx, txn.ID, ledger.ProviderUpdate{})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusPartiallyPaid, updated.Status)
	assert.True(t, updated.TotalAmountDue.Equal(decimal.RequireFromString("100.00")))
	assert.Empty(t, f.notifier.events)
}

func TestInitiatePaymentAttempt_RejectedOncePaid(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	payment := f.initiate(t, "order-1", "50.00")
	txn := f.addPending(t, payment.ID, "50.00", domain.PaymentMethodCash)
	_, err := f.service.ConfirmSuccessfulTransaction(ctx, txn.ID, ledger.ProviderUpdate{})
	require.NoError(t, err)

	_, err = f.service.InitiatePaymentAttempt(ctx, domain.Order{
		ID:        "order-1",
		AmountDue: decimal.RequireFromString("50.00"),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestConfirm_CashFullPayment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	payment := f.initiate(t, "order-1", "50.00")
	txn := f.addPending(t, payment.ID, "50.00", domain.PaymentMethodCash)

	updated, err := f.service.ConfirmSuccessfulTransaction(ctx, txn.ID, ledger.ProviderUpdate{})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusPaid, updated.Status)
	assert.True(t, updated.AmountPaid.Equal(decimal.RequireFromString("50.00")))
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, "order-1", f.notifier.events[0].OrderID)
}

func TestConfirm_SplitPayment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	payment := f.initiate(t, "order-1", "100.00")
	a := f.addPending(t, payment.ID, "40.00", domain.PaymentMethodCardTerminal)
	b := f.addPending(t, payment.ID, "60.00", domain.PaymentMethodCardTerminal)

	afterA, err := f.service.ConfirmSuccessfulTransaction(ctx, a.ID, ledger.ProviderUpdate{})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPartiallyPaid, afterA.Status)
	assert.Empty(t, f.notifier.events)

	afterB, err := f.service.ConfirmSuccessfulTransaction(ctx, b.ID, ledger.ProviderUpdate{})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, afterB.Status)
	assert.True(t, afterB.AmountPaid.Equal(decimal.RequireFromString("100.00")))
	assert.Len(t, f.notifier.events, 1)
}

func TestConfirm_NotifierFiresExactlyOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	payment := f.initiate(t, "order-1", "50.00")
	txn := f.addPending(t, payment.ID, "50.00", domain.PaymentMethodCardTerminal)

	// Synchronous capture and the webhook backstop both confirm the same
	// transaction; completion must only fire for the first
	first, err := f.service.ConfirmSuccessfulTransaction(ctx, txn.ID, ledger.ProviderUpdate{})
	require.NoError(t, err)
	second, err := f.service.ConfirmSuccessfulTransaction(ctx, txn.ID, ledger.ProviderUpdate{})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusPaid, first.Status)
	assert.Equal(t, domain.PaymentStatusPaid, second.Status)
	assert.True(t, first.AmountPaid.Equal(second.AmountPaid))
	assert.Len(t, f.notifier.events, 1)
}

func TestConfirm_RecordsProviderDetail(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	payment := f.initiate(t, "order-1", "50.00")
	txn := f.addPending(t, payment.ID, "50.00", domain.PaymentMethodCardOnline)

	_, err := f.service.ConfirmSuccessfulTransaction(ctx, txn.ID, ledger.ProviderUpdate{
		ProviderTransactionID: "pi_123",
		RawResponse:           []byte(`{"id":"pi_123","status":"succeeded"}`),
		CardBrand:             "visa",
	})
	require.NoError(t, err)

	stored, err := f.service.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusSuccessful, stored.Status)
	assert.Equal(t, "pi_123", stored.ProviderTransactionID)
	assert.Equal(t, "visa", stored.CardBrand)
	assert.JSONEq(t, `{"id":"pi_123","status":"succeeded"}`, string(stored.ProviderResponse))
}

func TestConfirm_FailedTransactionCannotBeResurrected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	payment := f.initiate(t, "order-1", "50.00")
	txn := f.addPending(t, payment.ID, "50.00", domain.PaymentMethodCardTerminal)
	_, err := f.service.RecordFailedTransaction(ctx, txn.ID, ledger.ProviderUpdate{})
	require.NoError(t, err)

	_, err = f.service.ConfirmSuccessfulTransaction(ctx, txn.ID, ledger.ProviderUpdate{})
	assert.ErrorIs(t, err, domain.ErrTxnInvalidState)
}

func TestRecordFailed_RevertsToUnpaid(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	payment := f.initiate(t, "order-1", "50.00")
	txn := f.addPending(t, payment.ID, "50.00", domain.PaymentMethodCardTerminal)

	updated, err := f.service.RecordFailedTransaction(ctx, txn.ID, ledger.ProviderUpdate{
		RawResponse: []byte(`{"error":{"code":"card_declined"}}`),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusUnpaid, updated.Status)
	assert.True(t, updated.AmountPaid.IsZero())
	assert.Empty(t, f.notifier.events)
}

func TestRecordFailed_NeverRegressesCollectedMoney(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	payment := f.initiate(t, "order-1", "100.00")
	a := f.addPending(t, payment.ID, "40.00", domain.PaymentMethodCash)
	b := f.addPending(t, payment.ID, "60.00", domain.PaymentMethodCardTerminal)

	_, err := f.service.ConfirmSuccessfulTransaction(ctx, a.ID, ledger.ProviderUpdate{})
	require.NoError(t, err)

	updated, err := f.service.RecordFailedTransaction(ctx, b.ID, ledger.ProviderUpdate{})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusPartiallyPaid, updated.Status)
	assert.True(t, updated.AmountPaid.Equal(decimal.RequireFromString("40.00")))
}

func TestRecordFailed_TerminalTransactionIsNoOp(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	payment := f.initiate(t, "order-1", "50.00")
	txn := f.addPending(t, payment.ID, "50.00", domain.PaymentMethodCardTerminal)
	_, err := f.service.ConfirmSuccessfulTransaction(ctx, txn.ID, ledger.ProviderUpdate{})
	require.NoError(t, err)

	// A stale failure event after the confirm must not undo the payment
	updated, err := f.service.RecordFailedTransaction(ctx, txn.ID, ledger.ProviderUpdate{})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusPaid, updated.Status)
	stored, err := f.service.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusSuccessful, stored.Status)
}

func TestCancelTransaction(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	payment := f.initiate(t, "order-1", "50.00")
	txn := f.addPending(t, payment.ID, "50.00", domain.PaymentMethodCardTerminal)

	updated, err := f.service.CancelTransaction(ctx, txn.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusUnpaid, updated.Status)
	stored, err := f.service.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCanceled, stored.Status)
}

func TestCancelTransaction_SuccessfulRequiresRefund(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	payment := f.initiate(t, "order-1", "50.00")
	txn := f.addPending(t, payment.ID, "50.00", domain.PaymentMethodCash)
	_, err := f.service.ConfirmSuccessfulTransaction(ctx, txn.ID, ledger.ProviderUpdate{})
	require.NoError(t, err)

	_, err = f.service.CancelTransaction(ctx, txn.ID)
	assert.ErrorIs(t, err, domain.ErrTxnInvalidState)
}

func TestCancelPaymentProcess_CancelsOnlyPending(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	payment := f.initiate(t, "order-1", "100.00")
	paid := f.addPending(t, payment.ID, "40.00", domain.PaymentMethodCash)
	pending := f.addPending(t, payment.ID, "60.00", domain.PaymentMethodCardTerminal)
	_, err := f.service.ConfirmSuccessfulTransaction(ctx, paid.ID, ledger.ProviderUpdate{})
	require.NoError(t, err)

	updated, err := f.service.CancelPaymentProcess(ctx, payment.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusPartiallyPaid, updated.Status)
	assert.True(t, updated.AmountPaid.Equal(decimal.RequireFromString("40.00")))

	storedPaid, err := f.service.GetTransaction(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusSuccessful, storedPaid.Status)

	storedPending, err := f.service.GetTransaction(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCanceled, storedPending.Status)
}

func TestApplyRefund_IncrementalToFullRefund(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	payment := f.initiate(t, "order-1", "30.00")
	txn := f.addPending(t, payment.ID, "30.00", domain.PaymentMethodCardTerminal)
	_, err := f.service.ConfirmSuccessfulTransaction(ctx, txn.ID, ledger.ProviderUpdate{})
	require.NoError(t, err)

	partial, err := f.service.ApplyRefund(ctx, ledger.RefundParams{
		TransactionID:    txn.ID,
		Amount:           decimal.RequireFromString("10.00"),
		ProviderRefundID: "re_1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPartiallyRefunded, partial.Status)

	stored, err := f.service.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusSuccessful, stored.Status)
	assert.True(t, stored.RefundedAmount.Equal(decimal.RequireFromString("10.00")))

	full, err := f.service.ApplyRefund(ctx, ledger.RefundParams{
		TransactionID:    txn.ID,
		Amount:           decimal.RequireFromString("20.00"),
		ProviderRefundID: "re_2",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, full.Status)

	// Gross accounting: amount_paid keeps the original collected amount
	assert.True(t, full.AmountPaid.Equal(decimal.RequireFromString("30.00")))

	stored, err = f.service.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusRefunded, stored.Status)
	assert.True(t, stored.RefundedAmount.Equal(decimal.RequireFromString("30.00")))
	assert.Equal(t, []string{"re_1", "re_2"}, stored.RefundIDs)
}

func TestApplyRefund_DuplicateProviderRefundIDIsDropped(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	payment := f.initiate(t, "order-1", "50.00")
	txn := f.addPending(t, payment.ID, "50.00", domain.PaymentMethodCardOnline)
	_, err := f.service.ConfirmSuccessfulTransaction(ctx, txn.ID, ledger.ProviderUpdate{})
	require.NoError(t, err)

	params := ledger.RefundParams{
		TransactionID:    txn.ID,
		Amount:           decimal.RequireFromString("20.00"),
		ProviderRefundID: "re_dup",
	}

	_, err = f.service.ApplyRefund(ctx, params)
	require.NoError(t, err)
	_, err = f.service.ApplyRefund(ctx, params)
	require.NoError(t, err)

	stored, err := f.service.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.True(t, stored.RefundedAmount.Equal(decimal.RequireFromString("20.00")))
	assert.Equal(t, []string{"re_dup"}, stored.RefundIDs)
}

func TestApplyRefund_RejectsOverRefund(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	payment := f.initiate(t, "order-1", "50.00")
	txn := f.addPending(t, payment.ID, "50.00", domain.PaymentMethodCash)
	_, err := f.service.ConfirmSuccessfulTransaction(ctx, txn.ID, ledger.ProviderUpdate{})
	require.NoError(t, err)

	_, err = f.service.ApplyRefund(ctx, ledger.RefundParams{
		TransactionID: txn.ID,
		Amount:        decimal.RequireFromString("60.00"),
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientRefundable)
}

func TestApplyRefund_RejectsPendingTransaction(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	payment := f.initiate(t, "order-1", "50.00")
	txn := f.addPending(t, payment.ID, "50.00", domain.PaymentMethodCardTerminal)

	_, err := f.service.ApplyRefund(ctx, ledger.RefundParams{
		TransactionID: txn.ID,
		Amount:        decimal.RequireFromString("10.00"),
	})
	assert.ErrorIs(t, err, domain.ErrTxnInvalidState)
}

func TestCreatePendingTransaction_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	payment := f.initiate(t, "order-1", "50.00")

	_, err := f.service.CreatePendingTransaction(ctx, ledger.CreateTransactionParams{
		PaymentID: payment.ID,
		Amount:    decimal.Zero,
		Method:    domain.PaymentMethodCash,
	})
	assert.ErrorIs(t, err, domain.ErrValidationAmountInvalid)

	_, err = f.service.CreatePendingTransaction(ctx, ledger.CreateTransactionParams{
		PaymentID: payment.ID,
		Amount:    decimal.RequireFromString("10.00"),
		Method:    domain.PaymentMethod("BARTER"),
	})
	assert.ErrorIs(t, err, domain.ErrValidationFailed)

	_, err = f.service.CreatePendingTransaction(ctx, ledger.CreateTransactionParams{
		PaymentID: "missing",
		Amount:    decimal.RequireFromString("10.00"),
		Method:    domain.PaymentMethodCash,
	})
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
}

func TestGetPayment_SnapshotIncludesHistory(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	payment := f.initiate(t, "order-1", "100.00")
	f.addPending(t, payment.ID, "40.00", domain.PaymentMethodCash)
	f.addPending(t, payment.ID, "60.00", domain.PaymentMethodCardTerminal)

	snapshot, err := f.service.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.ID, snapshot.Payment.ID)
	assert.Len(t, snapshot.Transactions, 2)

	byOrder, err := f.service.GetPaymentByOrderID(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, payment.ID, byOrder.Payment.ID)
}
