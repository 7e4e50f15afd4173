package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kevin07696/pos-payments/internal/domain"
	"github.com/kevin07696/pos-payments/internal/domain/ports"
)

const transactionColumns = `id, payment_id, provider_transaction_id, amount,
	tip, surcharge, method, status, refunded_amount, refund_ids,
	provider_response, card_brand, created_at, updated_at`

// TransactionRepository implements ports.TransactionRepository on PostgreSQL
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db ports.DBPort) *TransactionRepository {
	return &TransactionRepository{pool: db.GetDB()}
}

// Create inserts a new payment transaction
func (r *TransactionRepository) Create(ctx context.Context, tx ports.DBTX, txn *domain.PaymentTransaction) error {
	amount, err := decimalToNumeric(txn.Amount)
	if err != nil {
		return err
	}
	tip, err := decimalToNumeric(txn.Tip)
	if err != nil {
		return err
	}
	surcharge, err := decimalToNumeric(txn.Surcharge)
	if err != nil {
		return err
	}
	refunded, err := decimalToNumeric(txn.RefundedAmount)
	if err != nil {
		return err
	}

	refundIDs, err := json.Marshal(txn.RefundIDs)
	if err != nil {
		return fmt.Errorf("marshal refund ids: %w", err)
	}
	providerResponse := txn.ProviderResponse
	if providerResponse == nil {
		providerResponse = json.RawMessage("null")
	}

	row := executor(tx, r.pool).QueryRow(ctx, `
		INSERT INTO payment_transactions (
			id, payment_id, provider_transaction_id, amount, tip, surcharge,
			method, status, refunded_amount, refund_ids, provider_response,
			card_brand
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`,
		txn.ID, txn.PaymentID, nullText(txn.ProviderTransactionID),
		amount, tip, surcharge, string(txn.Method), string(txn.Status),
		refunded, refundIDs, providerResponse, nullText(txn.CardBrand),
	)

	if err := row.Scan(&txn.CreatedAt, &txn.UpdatedAt); err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a transaction by its id
func (r *TransactionRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*domain.PaymentTransaction, error) {
	row := executor(db, r.pool).QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM payment_transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

// GetByProviderTransactionID resolves a transaction by the provider's id
func (r *TransactionRepository) GetByProviderTransactionID(ctx context.Context, db ports.DBTX, providerTxnID string) (*domain.PaymentTransaction, error) {
	row := executor(db, r.pool).QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM payment_transactions WHERE provider_transaction_id = $1`,
		providerTxnID)
	return scanTransaction(row)
}

// ListByPaymentID returns all transactions for a payment in chronological
// order, the order the aggregate recomputation replays them in
func (r *TransactionRepository) ListByPaymentID(ctx context.Context, db ports.DBTX, paymentID string) ([]*domain.PaymentTransaction, error) {
	rows, err := executor(db, r.pool).Query(ctx,
		`SELECT `+transactionColumns+` FROM payment_transactions
		 WHERE payment_id = $1 ORDER BY created_at ASC`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []*domain.PaymentTransaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txns, nil
}

// Update persists status, refund state and the raw provider response
func (r *TransactionRepository) Update(ctx context.Context, tx ports.DBTX, txn *domain.PaymentTransaction) error {
	refunded, err := decimalToNumeric(txn.RefundedAmount)
	if err != nil {
		return err
	}
	refundIDs, err := json.Marshal(txn.RefundIDs)
	if err != nil {
		return fmt.Errorf("marshal refund ids: %w", err)
	}
	providerResponse := txn.ProviderResponse
	if providerResponse == nil {
		providerResponse = json.RawMessage("null")
	}

	tag, err := executor(tx, r.pool).Exec(ctx, `
		UPDATE payment_transactions
		SET provider_transaction_id = $2,
		    status = $3,
		    refunded_amount = $4,
		    refund_ids = $5,
		    provider_response = $6,
		    card_brand = $7,
		    updated_at = NOW()
		WHERE id = $1`,
		txn.ID, nullText(txn.ProviderTransactionID), string(txn.Status),
		refunded, refundIDs, providerResponse, nullText(txn.CardBrand),
	)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTxnNotFound.WithDetail("transaction_id", txn.ID)
	}
	return nil
}

// scanTransaction converts one row into a domain transaction
func scanTransaction(row pgx.Row) (*domain.PaymentTransaction, error) {
	var (
		txn           domain.PaymentTransaction
		providerTxnID pgtype.Text
		amount        pgtype.Numeric
		tip           pgtype.Numeric
		surcharge     pgtype.Numeric
		method        string
		status        string
		refunded      pgtype.Numeric
		refundIDs     []byte
		rawResponse   []byte
		cardBrand     pgtype.Text
	)

	err := row.Scan(&txn.ID, &txn.PaymentID, &providerTxnID, &amount, &tip,
		&surcharge, &method, &status, &refunded, &refundIDs, &rawResponse,
		&cardBrand, &txn.CreatedAt, &txn.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTxnNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	txn.ProviderTransactionID = providerTxnID.String
	txn.Method = domain.PaymentMethod(method)
	txn.Status = domain.TransactionStatus(status)
	txn.CardBrand = cardBrand.String

	if txn.Amount, err = numericToDecimal(amount); err != nil {
		return nil, fmt.Errorf("convert amount: %w", err)
	}
	if txn.Tip, err = numericToDecimal(tip); err != nil {
		return nil, fmt.Errorf("convert tip: %w", err)
	}
	if txn.Surcharge, err = numericToDecimal(surcharge); err != nil {
		return nil, fmt.Errorf("convert surcharge: %w", err)
	}
	if txn.RefundedAmount, err = numericToDecimal(refunded); err != nil {
		return nil, fmt.Errorf("convert refunded_amount: %w", err)
	}

	if len(refundIDs) > 0 {
		if err := json.Unmarshal(refundIDs, &txn.RefundIDs); err != nil {
			return nil, fmt.Errorf("unmarshal refund ids: %w", err)
		}
	}
	if len(rawResponse) > 0 && string(rawResponse) != "null" {
		txn.ProviderResponse = json.RawMessage(rawResponse)
	}
	return &txn, nil
}
