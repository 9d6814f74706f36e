// Package httpx holds the JSON envelope, HTTP error values and body helpers
// shared by the HTTP handlers.
package httpx
