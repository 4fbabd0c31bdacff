package security

import (
	"crypto/subtle"
	"net/http"
)

const (
	CSRFHeader = "X-CSRF-Token"
	CSRFCookie = "csrfToken"
)

// CsrfGuard implements the double-submit cookie check. It keeps no state.
type CsrfGuard struct{}

func NewCsrfGuard() CsrfGuard {
	return CsrfGuard{}
}

func (CsrfGuard) Issue() (string, error) {
	return RandomToken(32)
}

func (CsrfGuard) Validate(headerToken, cookieToken string) bool {
	if headerToken == "" || cookieToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(headerToken), []byte(cookieToken)) == 1
}

func (CsrfGuard) RequiresProtection(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
