package sms

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Sender delivers a text message to a phone number.
type Sender interface {
	Send(ctx context.Context, phone, message string) error
	Provider() string
}

// DevSender writes messages to the log instead of delivering them.
type DevSender struct {
	logger *zap.Logger
}

// NewDevSender constructs a DevSender.
func NewDevSender(logger *zap.Logger) *DevSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DevSender{logger: logger.Named("sms.dev")}
}

// Send logs the message.
func (d *DevSender) Send(_ context.Context, phone, message string) error {
	d.logger.Info("dev sms", zap.String("to", phone), zap.String("message", message))
	return nil
}

// Provider implements Sender.
func (d *DevSender) Provider() string { return "dev" }

// NormalisePhone strips formatting characters, leaving digits only
// (+91 98765-43210 becomes 919876543210).
func NormalisePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
