package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// GiftCardStatus is derived from balance and expiry, never stored
// independently
type GiftCardStatus string

const (
	GiftCardStatusActive   GiftCardStatus = "ACTIVE"
	GiftCardStatusRedeemed GiftCardStatus = "REDEEMED"
	GiftCardStatusExpired  GiftCardStatus = "EXPIRED"
)

// GiftCard is an independent stored-value account used as one funding
// source by the strategy layer. It is not coupled to the payment state
// machine beyond the debit performed during an attempt.
type GiftCard struct {
	ID              string
	Code            string
	OriginalBalance decimal.Decimal
	CurrentBalance  decimal.Decimal
	ExpiresAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Status derives the card status at the given instant
func (g *GiftCard) Status(now time.Time) GiftCardStatus {
	if g.ExpiresAt != nil && now.After(*g.ExpiresAt) {
		return GiftCardStatusExpired
	}
	if g.CurrentBalance.LessThanOrEqual(decimal.Zero) {
		return GiftCardStatusRedeemed
	}
	return GiftCardStatusActive
}

// Debit reduces the balance by up to requested and returns how much was
// actually applied. Callers are responsible for routing any remainder to
// another funding source.
func (g *GiftCard) Debit(requested decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if requested.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrValidationAmountInvalid
	}
	switch g.Status(now) {
	case GiftCardStatusExpired:
		return decimal.Zero, ErrGiftCardExpired
	case GiftCardStatusRedeemed:
		return decimal.Zero, ErrGiftCardRedeemed
	}
	applied := decimal.Min(requested, g.CurrentBalance)
	g.CurrentBalance = g.CurrentBalance.Sub(applied)
	return applied, nil
}

// Credit returns value to the card, capped at the original balance
func (g *GiftCard) Credit(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrValidationAmountInvalid
	}
	next := g.CurrentBalance.Add(amount)
	if next.GreaterThan(g.OriginalBalance) {
		return ErrGiftCardOverCredit
	}
	g.CurrentBalance = next
	return nil
}
