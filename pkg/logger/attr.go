package logger

import (
	"log/slog"
	"time"
)

// Error records err under the key "error". A nil err yields an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// AccountID records the account identifier under the key "account_id".
func AccountID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("account_id", id)
}

// EventID records the processor event id, the replay key for webhook deliveries.
func EventID(id string) slog.Attr {
	return slog.String("event_id", id)
}

func EventType(eventType string) slog.Attr {
	return slog.String("event_type", eventType)
}

// SessionID records the processor checkout session id.
func SessionID(id string) slog.Attr {
	return slog.String("session_id", id)
}

func CouponCode(code string) slog.Attr {
	return slog.String("coupon_code", code)
}

func Provider(name string) slog.Attr {
	return slog.String("provider", name)
}

func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}
