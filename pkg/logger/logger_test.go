package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paygate/pkg/logger"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("json by default", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithAttr(slog.String("svc", "paygate")))
		log.Info("hello")

		entry := decode(t, buf)
		assert.Equal(t, "INFO", entry["level"])
		assert.Equal(t, "hello", entry["msg"])
		assert.Equal(t, "paygate", entry["svc"])
	})

	t.Run("development environment logs text at debug", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithEnvironment("local", "paygate"), logger.WithOutput(buf))
		log.Debug("details")
		assert.Contains(t, buf.String(), "level=DEBUG")
		assert.Contains(t, buf.String(), "env=development")
	})

	t.Run("production environment filters debug", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithEnvironment("production", "paygate"), logger.WithOutput(buf))
		log.Debug("hidden")
		assert.Empty(t, buf.String())
	})

	t.Run("invalid format panics", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() { logger.New(logger.WithFormat("xml")) })
	})
}

func TestContextWith(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := logger.New(logger.WithOutput(buf))

	ctx := logger.ContextWith(context.Background(), logger.EventID("evt_1"))
	ctx = logger.ContextWith(ctx, logger.EventType("invoice.payment_failed"))
	log.InfoContext(ctx, "processed", logger.Error(errors.New("boom")))

	entry := decode(t, buf)
	assert.Equal(t, "evt_1", entry["event_id"])
	assert.Equal(t, "invoice.payment_failed", entry["event_type"])
	assert.Equal(t, "boom", entry["error"])
}

func TestContextExtractors(t *testing.T) {
	t.Parallel()

	type key struct{}
	buf := &bytes.Buffer{}
	log := logger.New(
		logger.WithOutput(buf),
		logger.WithContextExtractors(nil, func(ctx context.Context) (slog.Attr, bool) {
			v, ok := ctx.Value(key{}).(string)
			return slog.String("request_id", v), ok
		}),
	)

	log.InfoContext(context.WithValue(context.Background(), key{}, "req-1"), "hello")
	assert.Equal(t, "req-1", decode(t, buf)["request_id"])
}

func TestAttrs(t *testing.T) {
	t.Parallel()

	assert.True(t, logger.Error(nil).Equal(slog.Attr{}))
	assert.True(t, logger.AccountID(nil).Equal(slog.Attr{}))
	assert.Equal(t, "coupon_code", logger.CouponCode("WELCOME30").Key)
	assert.Equal(t, "session_id", logger.SessionID("cs_1").Key)
}
