package notify

import (
	"context"

	"github.com/kevin07696/pos-payments/internal/domain"
	"github.com/kevin07696/pos-payments/internal/domain/ports"
)

// PaymentCompleted is the domain event fired when a payment transitions
// into PAID. It is emitted exactly once per payment.
type PaymentCompleted struct {
	Payment *domain.Payment
	OrderID string
}

// Subscriber consumes completion events. Downstream effects (order
// completion, inventory deduction, customer notification) implement this
// and register at process start; the ledger has no knowledge of them.
type Subscriber interface {
	HandlePaymentCompleted(ctx context.Context, event PaymentCompleted)
}

// SubscriberFunc adapts a function to the Subscriber interface
type SubscriberFunc func(ctx context.Context, event PaymentCompleted)

// HandlePaymentCompleted calls f
func (f SubscriberFunc) HandlePaymentCompleted(ctx context.Context, event PaymentCompleted) {
	f(ctx, event)
}

// Notifier delivers completion events to an explicit subscriber list in
// registration order. No hidden global dispatch: the list is assembled in
// main and fixed before the first payment is processed.
type Notifier struct {
	subscribers []Subscriber
	logger      ports.Logger
}

// NewNotifier creates a notifier with no subscribers
func NewNotifier(logger ports.Logger) *Notifier {
	return &Notifier{logger: logger}
}

// Subscribe appends a subscriber. Not safe to call once events are
// flowing; wire everything up before starting the server.
func (n *Notifier) Subscribe(s Subscriber) {
	n.subscribers = append(n.subscribers, s)
}

// PaymentCompleted delivers the event to every subscriber. A panicking
// subscriber is isolated so one consumer cannot suppress delivery to the
// rest.
func (n *Notifier) PaymentCompleted(ctx context.Context, event PaymentCompleted) {
	n.logger.Info("payment completed",
		ports.String("payment_id", event.Payment.ID),
		ports.String("order_id", event.OrderID),
		ports.String("amount_paid", event.Payment.AmountPaid.String()))

	for _, s := range n.subscribers {
		n.deliver(ctx, s, event)
	}
}

func (n *Notifier) deliver(ctx context.Context, s Subscriber, event PaymentCompleted) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("completion subscriber panicked",
				ports.String("payment_id", event.Payment.ID),
				ports.Field{Key: "panic", Value: r})
		}
	}()
	s.HandlePaymentCompleted(ctx, event)
}
