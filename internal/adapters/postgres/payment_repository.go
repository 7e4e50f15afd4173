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

const paymentColumns = `id, number, order_id, status, total_amount_due,
	amount_paid, total_tips, total_surcharges, total_collected,
	created_at, updated_at`

// PaymentRepository implements ports.PaymentRepository on PostgreSQL
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db ports.DBPort) *PaymentRepository {
	return &PaymentRepository{pool: db.GetDB()}
}

// Create inserts a new payment. The sequential payment number is assigned
// by the payments_number_seq sequence.
func (r *PaymentRepository) Create(ctx context.Context, tx ports.DBTX, payment *domain.Payment) error {
	totalDue, err := decimalToNumeric(payment.TotalAmountDue)
	if err != nil {
		return err
	}

	row := executor(tx, r.pool).QueryRow(ctx, `
		INSERT INTO payments (id, number, order_id, status, total_amount_due)
		VALUES ($1, nextval('payments_number_seq'), $2, $3, $4)
		RETURNING number, created_at, updated_at`,
		payment.ID, payment.OrderID, string(payment.Status), totalDue,
	)

	if err := row.Scan(&payment.Number, &payment.CreatedAt, &payment.UpdatedAt); err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// GetByID retrieves a payment by its id
func (r *PaymentRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*domain.Payment, error) {
	row := executor(db, r.pool).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	return scanPayment(row)
}

// GetByOrderID retrieves the payment for an order
func (r *PaymentRepository) GetByOrderID(ctx context.Context, db ports.DBTX, orderID string) (*domain.Payment, error) {
	row := executor(db, r.pool).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = $1`, orderID)
	return scanPayment(row)
}

// GetByIDForUpdate loads the payment holding an exclusive row lock until
// the enclosing transaction ends
func (r *PaymentRepository) GetByIDForUpdate(ctx context.Context, tx ports.DBTX, id string) (*domain.Payment, error) {
	row := executor(tx, r.pool).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id)
	return scanPayment(row)
}

// GetByOrderIDForUpdate loads the payment for an order holding an exclusive
// row lock until the enclosing transaction ends
func (r *PaymentRepository) GetByOrderIDForUpdate(ctx context.Context, tx ports.DBTX, orderID string) (*domain.Payment, error) {
	row := executor(tx, r.pool).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 FOR UPDATE`, orderID)
	return scanPayment(row)
}

// Update persists status and the derived aggregate amounts
func (r *PaymentRepository) Update(ctx context.Context, tx ports.DBTX, payment *domain.Payment) error {
	totalDue, err := decimalToNumeric(payment.TotalAmountDue)
	if err != nil {
		return err
	}
	amountPaid, err := decimalToNumeric(payment.AmountPaid)
	if err != nil {
		return err
	}
	tips, err := decimalToNumeric(payment.TotalTips)
	if err != nil {
		return err
	}
	surcharges, err := decimalToNumeric(payment.TotalSurcharges)
	if err != nil {
		return err
	}
	collected, err := decimalToNumeric(payment.TotalCollected)
	if err != nil {
		return err
	}

	tag, err := executor(tx, r.pool).Exec(ctx, `
		UPDATE payments
		SET status = $2,
		    total_amount_due = $3,
		    amount_paid = $4,
		    total_tips = $5,
		    total_surcharges = $6,
		    total_collected = $7,
		    updated_at = NOW()
		WHERE id = $1`,
		payment.ID, string(payment.Status), totalDue, amountPaid, tips, surcharges, collected,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPaymentNotFound.WithDetail("payment_id", payment.ID)
	}
	return nil
}

// scanPayment converts one row into a domain payment
func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var (
		p          domain.Payment
		status     string
		totalDue   pgtype.Numeric
		amountPaid pgtype.Numeric
		tips       pgtype.Numeric
		surcharges pgtype.Numeric
		collected  pgtype.Numeric
	)

	err := row.Scan(&p.ID, &p.Number, &p.OrderID, &status, &totalDue,
		&amountPaid, &tips, &surcharges, &collected, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment: %w", err)
	}

	p.Status = domain.PaymentStatus(status)
	if p.TotalAmountDue, err = numericToDecimal(totalDue); err != nil {
		return nil, fmt.Errorf("convert total_amount_due: %w", err)
	}
	if p.AmountPaid, err = numericToDecimal(amountPaid); err != nil {
		return nil, fmt.Errorf("convert amount_paid: %w", err)
	}
	if p.TotalTips, err = numericToDecimal(tips); err != nil {
		return nil, fmt.Errorf("convert total_tips: %w", err)
	}
	if p.TotalSurcharges, err = numericToDecimal(surcharges); err != nil {
		return nil, fmt.Errorf("convert total_surcharges: %w", err)
	}
	if p.TotalCollected, err = numericToDecimal(collected); err != nil {
		return nil, fmt.Errorf("convert total_collected: %w", err)
	}
	return &p, nil
}
