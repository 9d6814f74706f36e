package httpx_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paygate/pkg/httpx"
	"github.com/dmitrymomot/paygate/pkg/validator"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) httpx.Response {
	t.Helper()
	var body httpx.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestError(t *testing.T) {
	t.Parallel()

	t.Run("validation errors", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		httpx.Error(rec, validator.Apply(validator.Required("email", "")))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		body := decode(t, rec)
		require.NotNil(t, body.Error)
		assert.Equal(t, []string{"field is required"}, body.Error.Details["email"])
	})

	t.Run("http error keeps its message", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		httpx.Error(rec, httpx.ErrConflict.WithMessage("coupon exhausted"))
		assert.Equal(t, http.StatusConflict, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "conflict", body.Code)
		assert.Equal(t, "coupon exhausted", body.Error.Message)
	})

	t.Run("unknown errors are opaque", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		httpx.Error(rec, errors.New("pq: password authentication failed"))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "password")
	})
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	var v struct {
		Email string `json:"email"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.co"}`))
	require.NoError(t, httpx.DecodeJSON(req, &v, 1024))
	assert.Equal(t, "a@b.co", v.Email)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"other":1}`))
	err := httpx.DecodeJSON(req, &v, 1024)
	var httpErr httpx.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestReadBody(t *testing.T) {
	t.Parallel()

	body, err := httpx.ReadBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader("abc")), 3)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(body))

	_, err = httpx.ReadBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader("abcd")), 3)
	assert.ErrorIs(t, err, httpx.ErrRequestTooLarge)
}
