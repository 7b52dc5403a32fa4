package outbound

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Error codes reported by the outbound channel.
const (
	CodeRateLimited          = "rate_limited"
	CodeTimeout              = "timeout"
	CodeRecipientUnreachable = "recipient_unreachable"
	CodeContentRejected      = "content_rejected"
)

// SendError classifies a failed delivery. RateLimited and Timeout are
// transient and worth retrying; the rest are permanent.
type SendError struct {
	Code    string
	Message string
}

func (e *SendError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Transient reports whether the error may succeed on retry.
func (e *SendError) Transient() bool {
	return e.Code == CodeRateLimited || e.Code == CodeTimeout
}

// IsTransient classifies an arbitrary error from a sender. Unclassified
// errors are treated as transient so a flaky gateway does not permanently
// fail targets.
func IsTransient(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return se.Transient()
	}
	return true
}

// ErrorCode extracts the SendError code, or "unknown".
func ErrorCode(err error) string {
	var se *SendError
	if errors.As(err, &se) {
		return se.Code
	}
	return "unknown"
}

// Sender is the outbound message channel. Implementations must be safe for
// concurrent use by multiple executor workers.
type Sender interface {
	Send(ctx context.Context, recipientID int, text string) error
}

// LogSender logs instead of sending. Used in development and for test-mode
// campaigns.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, recipientID int, text string) error {
	s.logger.Info("message sent (log sender)",
		zap.Int("recipient_id", recipientID),
		zap.Int("text_len", len(text)),
	)
	return nil
}
