package notify

import (
	"context"
	"errors"
	"fmt"
)

// Notifier is a best-effort outbound notification sink.
// Implementations log their own failures and never panic or return errors;
// the bool result only tells the caller whether delivery succeeded.
type Notifier interface {
	SendMessage(ctx context.Context, text string) bool
	SendAlert(ctx context.Context, market string, price float64, kind string, threshold float64) bool
	SendTrade(ctx context.Context, side, market string, price, quantity, total float64, orderID string) bool
}

// NotificationError wraps a failed delivery. It never leaves a Notifier.
type NotificationError struct {
	Sink string
	Err  error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("%s notification failed: %v", e.Sink, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// ErrDisabled is returned by sinks constructed without a destination.
var ErrDisabled = errors.New("sink disabled")

// Nop discards every notification.
type Nop struct{}

func (Nop) SendMessage(context.Context, string) bool { return true }

func (Nop) SendAlert(context.Context, string, float64, string, float64) bool { return true }

func (Nop) SendTrade(context.Context, string, string, float64, float64, float64, string) bool {
	return true
}

// Multi fans every notification out to all sinks. It reports success when at
// least one sink delivered.
type Multi []Notifier

func (m Multi) SendMessage(ctx context.Context, text string) bool {
	ok := false
	for _, n := range m {
		ok = n.SendMessage(ctx, text) || ok
	}
	return ok
}

func (m Multi) SendAlert(ctx context.Context, market string, price float64, kind string, threshold float64) bool {
	ok := false
	for _, n := range m {
		ok = n.SendAlert(ctx, market, price, kind, threshold) || ok
	}
	return ok
}

func (m Multi) SendTrade(ctx context.Context, side, market string, price, quantity, total float64, orderID string) bool {
	ok := false
	for _, n := range m {
		ok = n.SendTrade(ctx, side, market, price, quantity, total, orderID) || ok
	}
	return ok
}
