package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		detail string
	}{
		{fmt.Errorf("user 7: %w", ErrNotFound), http.StatusNotFound, "user 7: resource not found"},
		{fmt.Errorf("%w: bad key", ErrValidation), http.StatusBadRequest, "validation failed: bad key"},
		{fmt.Errorf("manage_users: %w", ErrForbidden), http.StatusForbidden, ""},
		{ErrUnauthorized, http.StatusUnauthorized, ""},
		{fmt.Errorf("dial: %w", ErrUpstream), http.StatusBadGateway, ""},
		{errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)

		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tc.status, body.Status)
		assert.Equal(t, tc.detail, body.Detail)
	}
}

func TestForbiddenIsGeneric(t *testing.T) {
	rec := httptest.NewRecorder()
	Forbidden(rec)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"title":"Access Denied","status":403}`, rec.Body.String())
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var target struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a","extra":1}`))
	assert.Error(t, DecodeJSON(req, &target))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a"}`))
	require.NoError(t, DecodeJSON(req, &target))
	assert.Equal(t, "a", target.Name)
}
