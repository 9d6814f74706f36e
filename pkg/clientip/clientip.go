// Package clientip resolves the caller's address behind proxies and load balancers.
package clientip

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// Headers are consulted in order before RemoteAddr. X-Forwarded-For may hold
// a list; its first valid entry wins.
var Headers = []string{"CF-Connecting-IP", "DO-Connecting-IP", "X-Forwarded-For", "X-Real-IP"}

// GetIP returns the normalized client address or "" when none is valid.
func GetIP(r *http.Request) string {
	for _, h := range Headers {
		v := r.Header.Get(h)
		if v == "" {
			continue
		}
		for candidate := range strings.SplitSeq(v, ",") {
			if ip := parseIP(candidate); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return parseIP(r.RemoteAddr)
	}
	return parseIP(host)
}

func parseIP(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}

type contextKey struct{}

func WithContext(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, contextKey{}, ip)
}

func FromContext(ctx context.Context) string {
	ip, _ := ctx.Value(contextKey{}).(string)
	return ip
}

// LoggerExtractor adds client_ip to records logged with a request context.
func LoggerExtractor() func(ctx context.Context) (slog.Attr, bool) {
	return func(ctx context.Context) (slog.Attr, bool) {
		if ip := FromContext(ctx); ip != "" {
			return slog.String("client_ip", ip), true
		}
		return slog.Attr{}, false
	}
}
