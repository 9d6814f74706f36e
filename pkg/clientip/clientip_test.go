package clientip_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/paygate/pkg/clientip"
)

func TestGetIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "remote addr", remote: "198.51.100.4:1234", want: "198.51.100.4"},
		{name: "remote without port", remote: "198.51.100.4", want: "198.51.100.4"},
		{name: "cloudflare wins", headers: map[string]string{"CF-Connecting-IP": "203.0.113.9", "X-Forwarded-For": "10.0.0.1"}, want: "203.0.113.9"},
		{name: "first valid forwarded entry", headers: map[string]string{"X-Forwarded-For": "garbage, 203.0.113.5, 10.0.0.1"}, want: "203.0.113.5"},
		{name: "invalid header falls through", headers: map[string]string{"CF-Connecting-IP": "nope", "X-Real-IP": "203.0.113.7"}, want: "203.0.113.7"},
		{name: "ipv6 normalized", headers: map[string]string{"X-Real-IP": "2001:DB8::1"}, want: "2001:db8::1"},
		{name: "nothing valid", remote: "not-an-ip", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientip.GetIP(req))
		})
	}
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	var got string
	h := clientip.Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = clientip.FromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "203.0.113.1", got)

	attr, ok := clientip.LoggerExtractor()(clientip.WithContext(context.Background(), got))
	assert.True(t, ok)
	assert.Equal(t, "client_ip", attr.Key)

	_, ok = clientip.LoggerExtractor()(context.Background())
	assert.False(t, ok)
}
