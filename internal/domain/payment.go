package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus represents the aggregate state of all money movement
// against one order
type PaymentStatus string

const (
	PaymentStatusUnpaid            PaymentStatus = "UNPAID"
	PaymentStatusPending           PaymentStatus = "PENDING"
	PaymentStatusPartiallyPaid     PaymentStatus = "PARTIALLY_PAID"
	PaymentStatusPaid              PaymentStatus = "PAID"
	PaymentStatusPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
	PaymentStatusRefunded          PaymentStatus = "REFUNDED"
)

// paymentTransitions is the adjacency table for the payment state machine.
// Self-transitions are always legal (recomputation is idempotent) and are
// handled in CanTransitionTo rather than listed here.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusUnpaid:  {PaymentStatusPending, PaymentStatusPartiallyPaid, PaymentStatusPaid},
	PaymentStatusPending: {PaymentStatusUnpaid, PaymentStatusPartiallyPaid, PaymentStatusPaid},
	PaymentStatusPartiallyPaid: {
		PaymentStatusPaid,
		PaymentStatusPartiallyRefunded,
		PaymentStatusRefunded,
	},
	PaymentStatusPaid: {
		PaymentStatusPartiallyPaid,
		PaymentStatusPartiallyRefunded,
		PaymentStatusRefunded,
	},
	PaymentStatusPartiallyRefunded: {PaymentStatusRefunded},
	PaymentStatusRefunded:          {}, // terminal
}

// CanTransitionTo returns true if the payment status can move to target.
// A status can always "transition" to itself so that re-running the
// recomputation on an unchanged transaction set never fails.
func (s PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	if s == target {
		return true
	}
	for _, allowed := range paymentTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no further transitions are possible
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusRefunded
}

// Payment is the aggregate ledger record for one order. Status and the
// derived amount fields are owned exclusively by the ledger state service;
// nothing else writes them.
type Payment struct {
	ID              string
	Number          int64 // sequential human-readable payment number
	OrderID         string
	Status          PaymentStatus
	TotalAmountDue  decimal.Decimal
	AmountPaid      decimal.Decimal // gross: includes later-refunded amounts
	TotalTips       decimal.Decimal
	TotalSurcharges decimal.Decimal
	TotalCollected  decimal.Decimal
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsSettled returns true once the amount collected covers the amount due
func (p *Payment) IsSettled() bool {
	return p.AmountPaid.GreaterThanOrEqual(p.TotalAmountDue)
}

// Order is the slice of an order this engine consumes. Total computation
// (tax, discounts, adjustments) happens upstream.
type Order struct {
	ID        string
	AmountDue decimal.Decimal
}
