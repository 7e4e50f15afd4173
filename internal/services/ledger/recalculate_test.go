package ledger_test

import (
	"testing"
	"time"

	"github.com/kevin07696/pos-payments/internal/domain"
	"github.com/kevin07696/pos-payments/internal/services/ledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func txn(status domain.TransactionStatus, amount, tip, refunded string) *domain.PaymentTransaction {
	return &domain.PaymentTransaction{
		Status:         status,
		Amount:         decimal.RequireFromString(amount),
		Tip:            decimal.RequireFromString(tip),
		Surcharge:      decimal.Zero,
		RefundedAmount: decimal.RequireFromString(refunded),
		CreatedAt:      time.Now(),
	}
}

func TestComputeAggregates_GrossAccounting(t *testing.T) {
	// A refunded transaction still counts toward the gross amount paid;
	// the refund shows up in TotalRefunded instead
	txns := []*domain.PaymentTransaction{
		txn(domain.TransactionStatusSuccessful, "40.00", "5.00", "0"),
		txn(domain.TransactionStatusRefunded, "60.00", "0", "60.00"),
		txn(domain.TransactionStatusFailed, "25.00", "0", "0"),
		txn(domain.TransactionStatusCanceled, "10.00", "0", "0"),
	}

	agg := ledger.ComputeAggregates(txns)

	assert.True(t, agg.AmountPaid.Equal(decimal.RequireFromString("100.00")))
	assert.True(t, agg.TotalTips.Equal(decimal.RequireFromString("5.00")))
	assert.True(t, agg.TotalCollected.Equal(decimal.RequireFromString("105.00")))
	assert.True(t, agg.TotalRefunded.Equal(decimal.RequireFromString("60.00")))
	assert.False(t, agg.HasPending)
}

func TestComputeAggregates_PendingFlag(t *testing.T) {
	txns := []*domain.PaymentTransaction{
		txn(domain.TransactionStatusPending, "30.00", "0", "0"),
	}

	agg := ledger.ComputeAggregates(txns)

	assert.True(t, agg.AmountPaid.IsZero())
	assert.True(t, agg.HasPending)
}

func TestComputeAggregates_Empty(t *testing.T) {
	agg := ledger.ComputeAggregates(nil)

	assert.True(t, agg.AmountPaid.IsZero())
	assert.True(t, agg.TotalCollected.IsZero())
	assert.False(t, agg.HasPending)
}

func TestDeriveStatus(t *testing.T) {
	due := decimal.RequireFromString("100.00")

	tests := []struct {
		name string
		txns []*domain.PaymentTransaction
		want domain.PaymentStatus
	}{
		{
			name: "no transactions",
			txns: nil,
			want: domain.PaymentStatusUnpaid,
		},
		{
			name: "only pending attempt",
			txns: []*domain.PaymentTransaction{
				txn(domain.TransactionStatusPending, "100.00", "0", "0"),
			},
			want: domain.PaymentStatusPending,
		},
		{
			name: "failed attempt only",
			txns: []*domain.PaymentTransaction{
				txn(domain.TransactionStatusFailed, "100.00", "0", "0"),
			},
			want: domain.PaymentStatusUnpaid,
		},
		{
			name: "partial coverage",
			txns: []*domain.PaymentTransaction{
				txn(domain.TransactionStatusSuccessful, "40.00", "0", "0"),
			},
			want: domain.PaymentStatusPartiallyPaid,
		},
		{
			name: "split payment covers due",
			txns: []*domain.PaymentTransaction{
				txn(domain.TransactionStatusSuccessful, "40.00", "0", "0"),
				txn(domain.TransactionStatusSuccessful, "60.00", "0", "0"),
			},
			want: domain.PaymentStatusPaid,
		},
		{
			name: "overpayment is still paid",
			txns: []*domain.PaymentTransaction{
				txn(domain.TransactionStatusSuccessful, "120.00", "0", "0"),
			},
			want: domain.PaymentStatusPaid,
		},
		{
			name: "partial refund",
			txns: []*domain.PaymentTransaction{
				txn(domain.TransactionStatusSuccessful, "100.00", "0", "30.00"),
			},
			want: domain.PaymentStatusPartiallyRefunded,
		},
		{
			name: "full refund",
			txns: []*domain.PaymentTransaction{
				txn(domain.TransactionStatusRefunded, "100.00", "0", "100.00"),
			},
			want: domain.PaymentStatusRefunded,
		},
		{
			name: "refund across split funding",
			txns: []*domain.PaymentTransaction{
				txn(domain.TransactionStatusRefunded, "40.00", "0", "40.00"),
				txn(domain.TransactionStatusRefunded, "60.00", "0", "60.00"),
			},
			want: domain.PaymentStatusRefunded,
		},
		{
			name: "pending alongside collected money",
			txns: []*domain.PaymentTransaction{
				txn(domain.TransactionStatusSuccessful, "40.00", "0", "0"),
				txn(domain.TransactionStatusPending, "60.00", "0", "0"),
			},
			want: domain.PaymentStatusPartiallyPaid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := ledger.ComputeAggregates(tt.txns)
			assert.Equal(t, tt.want, ledger.DeriveStatus(agg, due))
		})
	}
}

func TestDeriveStatus_Idempotent(t *testing.T) {
	// Re-deriving on an unchanged transaction set never flickers
	txns := []*domain.PaymentTransaction{
		txn(domain.TransactionStatusSuccessful, "50.00", "0", "10.00"),
	}
	due := decimal.RequireFromString("50.00")

	first := ledger.DeriveStatus(ledger.ComputeAggregates(txns), due)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, ledger.DeriveStatus(ledger.ComputeAggregates(txns), due))
	}
}
