package api

import "context"

// Charger takes payment for an order.
type Charger interface {
	// Charge charges amount (in the shop currency) to the card behind
	// paymentToken and returns the payment identifier.
	Charge(ctx context.Context, paymentToken string, amount float64, description string) (string, error)
}

// Message is an outgoing customer email.
type Message struct {
	To      string
	Subject string
	Text    string
}

// Notifier delivers customer emails.
type Notifier interface {
	// Notify sends msg and returns the delivery identifier.
	Notify(ctx context.Context, msg Message) (string, error)
}

// ChargerFunc adapts a function to [Charger].
type ChargerFunc func(ctx context.Context, paymentToken string, amount float64, description string) (string, error)

// Charge calls f.
func (f ChargerFunc) Charge(ctx context.Context, paymentToken string, amount float64, description string) (string, error) {
	return f(ctx, paymentToken, amount, description)
}

// NotifierFunc adapts a function to [Notifier].
type NotifierFunc func(ctx context.Context, msg Message) (string, error)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, msg Message) (string, error) {
	return f(ctx, msg)
}

type noopCharger struct{}

func (noopCharger) Charge(context.Context, string, float64, string) (string, error) { return "", nil }

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Message) (string, error) { return "", nil }
