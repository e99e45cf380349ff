package notification

import (
	"context"
	"log/slog"
	"sync"
)

const (
	KindWalletCredited      = "wallet_credited"
	KindTransferReceived    = "transfer_received"
	KindWithdrawalRequested = "withdrawal_requested"
	KindEscrowHeld          = "escrow_held"
	KindEscrowReleased      = "escrow_released"
	KindEscrowRefunded      = "escrow_refunded"
	KindEscrowDisputed      = "escrow_disputed"
	KindOrderStatus         = "order_status"
	KindVerificationCode    = "verification_code"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems (push, SMS, email).
// Delivery is best effort; callers log and continue on error.
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

// Send writes the message to the structured logger. Verification codes are
// never logged in clear.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	body := message.Body
	if message.Kind == KindVerificationCode {
		body = "[redacted]"
	}
	n.logger.Info("notification", "kind", message.Kind, "destination", message.Destination, "body", body)
	return nil
}

// Recorder keeps every message in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

// Send records the message.
func (r *Recorder) Send(_ context.Context, message Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return nil
}

// Messages returns a copy of the recorded messages, optionally filtered by kind.
func (r *Recorder) Messages(kind string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.messages {
		if kind == "" || m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}
