package email

import (
	"context"
	"errors"
	"fmt"
	"net/mail"

	"github.com/mrz1836/postmark"
)

// PostmarkSender delivers email through Postmark's transactional API.
type PostmarkSender struct {
	client *postmark.Client
	config Config
}

// NewPostmarkSender validates cfg and returns a Postmark-backed sender.
func NewPostmarkSender(cfg Config) (*PostmarkSender, error) {
	if cfg.PostmarkServerToken == "" {
		return nil, fmt.Errorf("%w: PostmarkServerToken is required", ErrInvalidConfig)
	}
	for name, addr := range map[string]string{"SenderEmail": cfg.SenderEmail, "SupportEmail": cfg.SupportEmail} {
		if _, err := mail.ParseAddress(addr); err != nil {
			return nil, fmt.Errorf("%w: %s must be a valid email address", ErrInvalidConfig, name)
		}
	}

	return &PostmarkSender{
		client: postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		config: cfg,
	}, nil
}

// Send replies go to the support address.
func (s *PostmarkSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:       s.config.SenderEmail,
		ReplyTo:    s.config.SupportEmail,
		To:         msg.To,
		Subject:    msg.Subject,
		Tag:        msg.Tag,
		HTMLBody:   msg.HTMLBody,
		TextBody:   msg.TextBody,
		TrackOpens: false,
	})
	if err != nil {
		return errors.Join(ErrFailedToSendEmail, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrFailedToSendEmail, fmt.Errorf("postmark error %d: %s", resp.ErrorCode, resp.Message))
	}
	return nil
}
