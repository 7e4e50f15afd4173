package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kevin07696/pos-payments/internal/domain"
	"github.com/kevin07696/pos-payments/internal/domain/ports"
)

const giftCardColumns = `id, code, original_balance, current_balance,
	expires_at, created_at, updated_at`

// GiftCardRepository implements ports.GiftCardRepository on PostgreSQL
type GiftCardRepository struct {
	pool *pgxpool.Pool
}

// NewGiftCardRepository creates a new gift card repository
func NewGiftCardRepository(db ports.DBPort) *GiftCardRepository {
	return &GiftCardRepository{pool: db.GetDB()}
}

// Create inserts a new gift card
func (r *GiftCardRepository) Create(ctx context.Context, tx ports.DBTX, card *domain.GiftCard) error {
	original, err := decimalToNumeric(card.OriginalBalance)
	if err != nil {
		return err
	}
	current, err := decimalToNumeric(card.CurrentBalance)
	if err != nil {
		return err
	}

	row := executor(tx, r.pool).QueryRow(ctx, `
		INSERT INTO gift_cards (id, code, original_balance, current_balance, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		card.ID, card.Code, original, current, nullTimestamp(card.ExpiresAt),
	)
	if err := row.Scan(&card.CreatedAt, &card.UpdatedAt); err != nil {
		return fmt.Errorf("create gift card: %w", err)
	}
	return nil
}

// GetByCode retrieves a gift card by its code
func (r *GiftCardRepository) GetByCode(ctx context.Context, db ports.DBTX, code string) (*domain.GiftCard, error) {
	row := executor(db, r.pool).QueryRow(ctx,
		`SELECT `+giftCardColumns+` FROM gift_cards WHERE code = $1`, code)
	return scanGiftCard(row)
}

// GetByCodeForUpdate loads the card holding an exclusive row lock so the
// balance debit cannot race a concurrent attempt on the same card
func (r *GiftCardRepository) GetByCodeForUpdate(ctx context.Context, tx ports.DBTX, code string) (*domain.GiftCard, error) {
	row := executor(tx, r.pool).QueryRow(ctx,
		`SELECT `+giftCardColumns+` FROM gift_cards WHERE code = $1 FOR UPDATE`, code)
	return scanGiftCard(row)
}

// UpdateBalance persists the card balance
func (r *GiftCardRepository) UpdateBalance(ctx context.Context, tx ports.DBTX, card *domain.GiftCard) error {
	current, err := decimalToNumeric(card.CurrentBalance)
	if err != nil {
		return err
	}

	tag, err := executor(tx, r.pool).Exec(ctx, `
		UPDATE gift_cards
		SET current_balance = $2, updated_at = NOW()
		WHERE id = $1`,
		card.ID, current,
	)
	if err != nil {
		return fmt.Errorf("update gift card balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrGiftCardNotFound.WithDetail("gift_card_id", card.ID)
	}
	return nil
}

// scanGiftCard converts one row into a domain gift card
func scanGiftCard(row pgx.Row) (*domain.GiftCard, error) {
	var (
		card      domain.GiftCard
		original  pgtype.Numeric
		current   pgtype.Numeric
		expiresAt pgtype.Timestamptz
	)

	err := row.Scan(&card.ID, &card.Code, &original, &current, &expiresAt,
		&card.CreatedAt, &card.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrGiftCardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan gift card: %w", err)
	}

	if card.OriginalBalance, err = numericToDecimal(original); err != nil {
		return nil, fmt.Errorf("convert original_balance: %w", err)
	}
	if card.CurrentBalance, err = numericToDecimal(current); err != nil {
		return nil, fmt.Errorf("convert current_balance: %w", err)
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		card.ExpiresAt = &t
	}
	return &card, nil
}
