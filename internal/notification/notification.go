package notification

import (
	"context"
	"log/slog"

	"github.com/kopa-credit/kopa/internal/money"
)

const (
	// KindObligationSettled indicates an installment was paid in full.
	KindObligationSettled = "obligation_settled"
	// KindObligationOverdue indicates an installment passed its grace deadline.
	KindObligationOverdue = "obligation_overdue"
)

// Message describes a settlement or overdue event payload. The core only
// emits these; delivery (SMS, email, push) belongs to a downstream system.
type Message struct {
	Kind         string
	Destination  string // owner identifier
	ObligationID string
	Amount       money.Money
	Body         string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		"kind", message.Kind,
		"destination", message.Destination,
		"obligation_id", message.ObligationID,
		"amount", message.Amount.String(),
		"body", message.Body,
	)
	return nil
}
