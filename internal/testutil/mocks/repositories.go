package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/kevin07696/pos-payments/internal/domain"
	"github.com/kevin07696/pos-payments/internal/domain/ports"
)

// PaymentRepository is an in-memory implementation of
// ports.PaymentRepository. Values are copied on the way in and out so
// callers cannot mutate stored state without going through Update.
type PaymentRepository struct {
	mu      sync.Mutex
	byID    map[string]*domain.Payment
	nextSeq int64
	CreateN int
	UpdateN int
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{byID: make(map[string]*domain.Payment)}
}

func (r *PaymentRepository) Create(ctx context.Context, tx ports.DBTX, payment *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSeq++
	payment.Number = r.nextSeq
	r.byID[payment.ID] = copyPayment(payment)
	r.CreateN++
	return nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	return copyPayment(p), nil
}

func (r *PaymentRepository) GetByOrderID(ctx context.Context, db ports.DBTX, orderID string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byID {
		if p.OrderID == orderID {
			return copyPayment(p), nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}

func (r *PaymentRepository) GetByIDForUpdate(ctx context.Context, tx ports.DBTX, id string) (*domain.Payment, error) {
	return r.GetByID(ctx, tx, id)
}

func (r *PaymentRepository) GetByOrderIDForUpdate(ctx context.Context, tx ports.DBTX, orderID string) (*domain.Payment, error) {
	return r.GetByOrderID(ctx, tx, orderID)
}

func (r *PaymentRepository) Update(ctx context.Context, tx ports.DBTX, payment *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[payment.ID]; !ok {
		return domain.ErrPaymentNotFound
	}
	r.byID[payment.ID] = copyPayment(payment)
	r.UpdateN++
	return nil
}

// TransactionRepository is an in-memory implementation of
// ports.TransactionRepository
type TransactionRepository struct {
	mu      sync.Mutex
	byID    map[string]*domain.PaymentTransaction
	order   []string // insertion order, stands in for created_at ASC
	UpdateN int
}

func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{byID: make(map[string]*domain.PaymentTransaction)}
}

func (r *TransactionRepository) Create(ctx context.Context, tx ports.DBTX, txn *domain.PaymentTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[txn.ID] = copyTransaction(txn)
	r.order = append(r.order, txn.ID)
	return nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*domain.PaymentTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrTxnNotFound
	}
	return copyTransaction(t), nil
}

func (r *TransactionRepository) GetByProviderTransactionID(ctx context.Context, db ports.DBTX, providerTxnID string) (*domain.PaymentTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		if t := r.byID[id]; t.ProviderTransactionID != "" && t.ProviderTransactionID == providerTxnID {
			return copyTransaction(t), nil
		}
	}
	return nil, domain.ErrTxnNotFound
}

func (r *TransactionRepository) ListByPaymentID(ctx context.Context, db ports.DBTX, paymentID string) ([]*domain.PaymentTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.PaymentTransaction
	for _, id := range r.order {
		if t := r.byID[id]; t.PaymentID == paymentID {
			out = append(out, copyTransaction(t))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *TransactionRepository) Update(ctx context.Context, tx ports.DBTX, txn *domain.PaymentTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[txn.ID]; !ok {
		return domain.ErrTxnNotFound
	}
	r.byID[txn.ID] = copyTransaction(txn)
	r.UpdateN++
	return nil
}

// GiftCardRepository is an in-memory implementation of
// ports.GiftCardRepository
type GiftCardRepository struct {
	mu     sync.Mutex
	byCode map[string]*domain.GiftCard
}

func NewGiftCardRepository() *GiftCardRepository {
	return &GiftCardRepository{byCode: make(map[string]*domain.GiftCard)}
}

func (r *GiftCardRepository) Create(ctx context.Context, tx ports.DBTX, card *domain.GiftCard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byCode[card.Code] = copyGiftCard(card)
	return nil
}

func (r *GiftCardRepository) GetByCode(ctx context.Context, db ports.DBTX, code string) (*domain.GiftCard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byCode[code]
	if !ok {
		return nil, domain.ErrGiftCardNotFound
	}
	return copyGiftCard(c), nil
}

func (r *GiftCardRepository) GetByCodeForUpdate(ctx context.Context, tx ports.DBTX, code string) (*domain.GiftCard, error) {
	return r.GetByCode(ctx, tx, code)
}

func (r *GiftCardRepository) UpdateBalance(ctx context.Context, tx ports.DBTX, card *domain.GiftCard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byCode[card.Code]; !ok {
		return domain.ErrGiftCardNotFound
	}
	r.byCode[card.Code] = copyGiftCard(card)
	return nil
}

func copyPayment(p *domain.Payment) *domain.Payment {
	clone := *p
	return &clone
}

func copyTransaction(t *domain.PaymentTransaction) *domain.PaymentTransaction {
	clone := *t
	clone.RefundIDs = append([]string(nil), t.RefundIDs...)
	clone.ProviderResponse = append([]byte(nil), t.ProviderResponse...)
	return &clone
}

func copyGiftCard(c *domain.GiftCard) *domain.GiftCard {
	clone := *c
	return &clone
}
