package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dmitrymomot/paygate/pkg/validator"
)

// Response is the JSON envelope every endpoint writes.
type Response struct {
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message,omitempty"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
	Error   *ErrorDetail   `json:"error,omitempty"`
}

type ErrorDetail struct {
	Code    string              `json:"code,omitempty"`
	Message string              `json:"message,omitempty"`
	Details map[string][]string `json:"details,omitempty"`
}

// JSON writes data with the given status.
func JSON(w http.ResponseWriter, status int, data any, meta map[string]any) {
	write(w, status, Response{Code: "ok", Data: data, Meta: meta})
}

// Error writes err as a JSON error envelope. ValidationErrors become 422 with
// per-field details, HTTPError uses its own code, anything else is a 500 with
// a generic message so internal details never leak.
func Error(w http.ResponseWriter, err error) {
	var (
		httpErr HTTPError
		ve      validator.ValidationErrors
	)
	switch {
	case errors.As(err, &ve):
		write(w, http.StatusUnprocessableEntity, Response{
			Code:  "validation_error",
			Error: &ErrorDetail{Code: "validation_error", Message: ve.Error(), Details: ve.Details()},
		})
	case errors.As(err, &httpErr):
		msg := httpErr.Message
		if msg == "" {
			msg = http.StatusText(httpErr.Code)
		}
		write(w, httpErr.Code, Response{Code: httpErr.Key, Error: &ErrorDetail{Code: httpErr.Key, Message: msg}})
	default:
		write(w, http.StatusInternalServerError, Response{
			Code:  ErrInternalServerError.Key,
			Error: &ErrorDetail{Code: ErrInternalServerError.Key, Message: http.StatusText(http.StatusInternalServerError)},
		})
	}
}

func write(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// DecodeJSON reads at most maxBytes of r's body into v and rejects unknown fields.
func DecodeJSON(r *http.Request, v any, maxBytes int64) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBytes+1))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) && r.ContentLength > maxBytes {
			return ErrRequestTooLarge
		}
		return ErrBadRequest.WithMessage(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}

// ReadBody reads the raw body, failing if it exceeds maxBytes. Webhook
// signatures are computed over these exact bytes.
func ReadBody(r *http.Request, maxBytes int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return nil, ErrBadRequest.WithMessage("failed to read body")
	}
	if int64(len(body)) > maxBytes {
		return nil, ErrRequestTooLarge
	}
	return body, nil
}
