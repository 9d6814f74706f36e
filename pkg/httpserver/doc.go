// Package httpserver runs an http.Handler with signal-aware graceful shutdown
// and provides a JSON health-check handler for readiness checks.
package httpserver
