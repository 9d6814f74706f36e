package email

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
)

// Sender delivers transactional email.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Message is a single outbound email.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
	Tag      string
}

// Validate checks the fields every provider requires.
func (m Message) Validate() error {
	if _, err := mail.ParseAddress(m.To); err != nil {
		return fmt.Errorf("%w: recipient %q", ErrInvalidMessage, m.To)
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidMessage)
	}
	if m.HTMLBody == "" && m.TextBody == "" {
		return fmt.Errorf("%w: body is required", ErrInvalidMessage)
	}
	return nil
}

// LogSender writes messages to the log instead of delivering them.
// It is used in development and whenever Postmark is not configured.
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "email not delivered (log sender)",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("tag", msg.Tag),
	)
	return nil
}
