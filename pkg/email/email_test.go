package email_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paygate/pkg/email"
)

func TestNewPostmarkSender(t *testing.T) {
	t.Parallel()

	valid := email.Config{
		PostmarkServerToken: "server-token",
		SenderEmail:         "billing@example.com",
		SupportEmail:        "support@example.com",
	}
	s, err := email.NewPostmarkSender(valid)
	require.NoError(t, err)
	assert.NotNil(t, s)
	assert.True(t, valid.Enabled())

	noToken := valid
	noToken.PostmarkServerToken = ""
	_, err = email.NewPostmarkSender(noToken)
	assert.ErrorIs(t, err, email.ErrInvalidConfig)
	assert.False(t, noToken.Enabled())

	badSender := valid
	badSender.SenderEmail = "not-an-email"
	_, err = email.NewPostmarkSender(badSender)
	assert.ErrorIs(t, err, email.ErrInvalidConfig)
}

func TestMessage_Validate(t *testing.T) {
	t.Parallel()

	ok := email.Message{To: "a@example.com", Subject: "Hi", TextBody: "body"}
	assert.NoError(t, ok.Validate())

	for name, msg := range map[string]email.Message{
		"recipient": {To: "nope", Subject: "Hi", TextBody: "x"},
		"subject":   {To: "a@example.com", TextBody: "x"},
		"body":      {To: "a@example.com", Subject: "Hi"},
	} {
		assert.ErrorIs(t, msg.Validate(), email.ErrInvalidMessage, name)
	}
}

func TestLogSender(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	s := email.NewLogSender(slog.New(slog.NewTextHandler(buf, nil)))
	require.NoError(t, s.Send(context.Background(), email.Message{
		To:       "user@example.com",
		Subject:  "Your trial ends soon",
		TextBody: "hello",
		Tag:      "trial-ending",
	}))
	assert.Contains(t, buf.String(), "to=user@example.com")
	assert.Contains(t, buf.String(), "tag=trial-ending")
}
