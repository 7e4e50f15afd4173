package ledger

import (
	"github.com/kevin07696/pos-payments/internal/domain"
	"github.com/shopspring/decimal"
)

// Aggregates is the computed state of a payment's transaction set.
// Computed by replaying all transactions in chronological order (WAL-style);
// the persisted Payment columns are a cache of this computation, never an
// independent source of truth.
type Aggregates struct {
	// AmountPaid is the gross sum over transactions that are or were
	// SUCCESSFUL, including ones later refunded. Refunds reduce
	// TotalRefunded, never AmountPaid.
	AmountPaid decimal.Decimal

	TotalTips       decimal.Decimal
	TotalSurcharges decimal.Decimal

	// TotalCollected = AmountPaid + TotalTips + TotalSurcharges
	TotalCollected decimal.Decimal

	// TotalRefunded is the sum of refunded_amount over all transactions
	TotalRefunded decimal.Decimal

	// HasPending is true while at least one attempt has not finalized
	HasPending bool
}

// ComputeAggregates replays transaction history to determine the payment's
// aggregate amounts. Transactions MUST be ordered by created_at ASC.
func ComputeAggregates(transactions []*domain.PaymentTransaction) *Aggregates {
	agg := &Aggregates{
		AmountPaid:      decimal.Zero,
		TotalTips:       decimal.Zero,
		TotalSurcharges: decimal.Zero,
		TotalCollected:  decimal.Zero,
		TotalRefunded:   decimal.Zero,
	}

	for _, txn := range transactions {
		if txn.Status == domain.TransactionStatusPending {
			agg.HasPending = true
		}

		// FAILED and CANCELED attempts never moved money
		if !txn.Status.CountsAsPaid() {
			continue
		}

		agg.AmountPaid = agg.AmountPaid.Add(txn.Amount)
		agg.TotalTips = agg.TotalTips.Add(txn.Tip)
		agg.TotalSurcharges = agg.TotalSurcharges.Add(txn.Surcharge)
		agg.TotalRefunded = agg.TotalRefunded.Add(txn.RefundedAmount)
	}

	agg.TotalCollected = agg.AmountPaid.Add(agg.TotalTips).Add(agg.TotalSurcharges)

	return agg
}

// DeriveStatus maps the computed aggregates onto the payment state machine.
// The result is a pure function of the transaction set and the amount due;
// re-deriving on an unchanged set always yields the same status.
func DeriveStatus(agg *Aggregates, totalAmountDue decimal.Decimal) domain.PaymentStatus {
	switch {
	case agg.AmountPaid.IsZero():
		if agg.HasPending {
			return domain.PaymentStatusPending
		}
		return domain.PaymentStatusUnpaid

	case agg.TotalRefunded.IsPositive():
		if agg.TotalRefunded.GreaterThanOrEqual(agg.AmountPaid) {
			return domain.PaymentStatusRefunded
		}
		return domain.PaymentStatusPartiallyRefunded

	case agg.AmountPaid.GreaterThanOrEqual(totalAmountDue):
		return domain.PaymentStatusPaid

	default:
		return domain.PaymentStatusPartiallyPaid
	}
}

// ApplyTo writes the computed amounts onto the payment row
func (agg *Aggregates) ApplyTo(payment *domain.Payment) {
	payment.AmountPaid = agg.AmountPaid
	payment.TotalTips = agg.TotalTips
	payment.TotalSurcharges = agg.TotalSurcharges
	payment.TotalCollected = agg.TotalCollected
}
