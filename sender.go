package goGuard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrEthical07/goGuard/internal/phone"
)

// CodeMessage is one OTP handed to a CodeSender. Code is the only place the
// plaintext exists after SendOTP returns.
type CodeMessage struct {
	Phone     string
	Channel   string
	Purpose   string
	Code      string
	ExpiresAt time.Time
}

// CodeSender delivers codes over SMS, voice or any other channel. A
// returned error fails the send with ErrOTPDeliveryFailed.
type CodeSender interface {
	SendCode(ctx context.Context, msg CodeMessage) error
}

// CodeSenderFunc adapts a function to CodeSender.
type CodeSenderFunc func(ctx context.Context, msg CodeMessage) error

func (f CodeSenderFunc) SendCode(ctx context.Context, msg CodeMessage) error {
	return f(ctx, msg)
}

// LogSender writes codes to a logger. It is for local development and is
// rejected by Build in ProductionMode.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) SendCode(_ context.Context, msg CodeMessage) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("otp code (development sender)",
		slog.String("phone", phone.Mask(msg.Phone)),
		slog.String("channel", msg.Channel),
		slog.String("purpose", msg.Purpose),
		slog.String("code", msg.Code),
		slog.Time("expires_at", msg.ExpiresAt),
	)
	return nil
}

// CaptureSender keeps every message in memory.
type CaptureSender struct {
	mu       sync.Mutex
	messages []CodeMessage
}

func (s *CaptureSender) SendCode(_ context.Context, msg CodeMessage) error {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	return nil
}

// Messages returns a copy of all captured messages in send order.
func (s *CaptureSender) Messages() []CodeMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CodeMessage(nil), s.messages...)
}

// Last returns the most recent message for a normalized phone.
func (s *CaptureSender) Last(phoneNumber string) (CodeMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Phone == phoneNumber {
			return s.messages[i], true
		}
	}
	return CodeMessage{}, false
}
