package requestid_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paygate/pkg/requestid"
)

func serve(t *testing.T, header string) (fromCtx, echoed string) {
	t.Helper()
	h := requestid.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = requestid.FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil)
	if header != "" {
		req.Header.Set(requestid.Header, header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	return fromCtx, rec.Header().Get(requestid.Header)
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	t.Run("keeps a valid id", func(t *testing.T) {
		t.Parallel()
		got, echoed := serve(t, "chk_01HX-retry_2")
		assert.Equal(t, "chk_01HX-retry_2", got)
		assert.Equal(t, got, echoed)
	})

	for _, bad := range []string{"", "a b", "x<script>", "../../etc", strings.Repeat("a", 129)} {
		t.Run("replaces "+bad, func(t *testing.T) {
			t.Parallel()
			got, echoed := serve(t, bad)
			assert.NotEmpty(t, got)
			assert.NotEqual(t, bad, got)
			assert.Equal(t, got, echoed)
		})
	}
}

func TestLoggerExtractor(t *testing.T) {
	t.Parallel()

	extract := requestid.LoggerExtractor()

	_, ok := extract(context.Background())
	assert.False(t, ok)

	attr, ok := extract(requestid.WithContext(context.Background(), "req-1"))
	require.True(t, ok)
	assert.Equal(t, "request_id", attr.Key)
	assert.Equal(t, "req-1", attr.Value.String())
}
