package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusByKind(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validation(CodeWeakPassword, "weak"), http.StatusBadRequest},
		{Unauthenticated(CodeTokenExpired, "expired"), http.StatusUnauthorized},
		{Forbidden("nope"), http.StatusForbidden},
		{RateLimited(0), http.StatusTooManyRequests},
		{Conflict(CodeEmailExists, "taken"), http.StatusConflict},
		{NotFound("missing"), http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.err), tc.err.Error())
	}
}

func TestFromUnwrapsWrappedErrors(t *testing.T) {
	base := Unauthenticated(CodeInvalidCredentials, "Invalid credentials")
	wrapped := fmt.Errorf("login: %w", base)

	assert.Equal(t, CodeInvalidCredentials, CodeOf(wrapped))
	assert.Equal(t, KindAuthentication, KindOf(wrapped))
}

func TestInternalHidesCause(t *testing.T) {
	cause := errors.New("pq: connection refused")
	resp := ToResponse(Internal(cause))

	assert.Equal(t, CodeInternal, resp.Code)
	assert.NotContains(t, resp.Message, "connection refused")
	assert.ErrorIs(t, Internal(cause), cause)
}
