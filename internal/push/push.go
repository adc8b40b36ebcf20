// Package push delivers rendered notifications to user devices.
package push

import (
	"context"
	"errors"
	"log/slog"

	"github.com/foxzi/reengage/internal/personalize"
)

// ErrPermanent marks a delivery that must not be retried
var ErrPermanent = errors.New("permanent delivery failure")

// Result holds per-device delivery counts
type Result struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// Sender delivers a message to every device of a user
type Sender interface {
	Send(ctx context.Context, userID string, msg personalize.Message) (Result, error)
}

// DeliveryError represents a delivery error with type information
type DeliveryError struct {
	Temporary bool
	Message   string
	Err       error
}

func (e *DeliveryError) Error() string {
	return e.Message
}

// Unwrap exposes ErrPermanent for permanent failures so errors.Is works
func (e *DeliveryError) Unwrap() []error {
	var errs []error
	if !e.Temporary {
		errs = append(errs, ErrPermanent)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Permanent wraps err as a non-retryable delivery error
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &DeliveryError{Temporary: false, Message: err.Error(), Err: err}
}

// IsTemporary checks if the error is worth retrying
func IsTemporary(err error) bool {
	if errors.Is(err, ErrPermanent) {
		return false
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Temporary
	}
	return true // Assume temporary if unknown
}

// LogSender only logs messages. Used when no delivery transport is configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a sender that writes messages to the log
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send implements Sender
func (s *LogSender) Send(ctx context.Context, userID string, msg personalize.Message) (Result, error) {
	s.logger.Info("push notification",
		"user_id", userID,
		"title", msg.Title,
		"url", msg.URL,
		"variant_id", msg.Data["variantId"],
	)
	return Result{Success: 1}, nil
}
