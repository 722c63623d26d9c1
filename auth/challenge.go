package auth

import (
	"fmt"
	"net/http"
	"strings"
)

// AuthenticationChallenge describes an HTTP challenge (status + WWW-Authenticate header).
type AuthenticationChallenge struct {
	Status          int
	WWWAuthenticate string
}

// Write emits the challenge on the response.
func (c *AuthenticationChallenge) Write(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", c.WWWAuthenticate)
	w.WriteHeader(c.Status)
}

// NewAuthenticationRequired builds a challenge indicating credentials are required.
// scheme is the challenge scheme advertised to clients, typically "Bearer".
func NewAuthenticationRequired(scheme string) *AuthenticationChallenge {
	return &AuthenticationChallenge{
		Status:          http.StatusUnauthorized,
		WWWAuthenticate: scheme,
	}
}

// NewInvalidAuthorizationHeader builds a challenge for a malformed Authorization header.
func NewInvalidAuthorizationHeader(scheme string) *AuthenticationChallenge {
	return &AuthenticationChallenge{
		Status:          http.StatusBadRequest,
		WWWAuthenticate: fmt.Sprintf(`%s error="invalid_request", error_description="Invalid Authorization header"`, scheme),
	}
}

// NewInvalidTokenChallenge builds a challenge indicating the token is invalid.
// An empty description yields the bare error code.
func NewInvalidTokenChallenge(scheme string, description string) *AuthenticationChallenge {
	header := fmt.Sprintf(`%s error="invalid_token"`, scheme)
	if description != "" {
		header += fmt.Sprintf(`, error_description="%s"`, sanitizeParam(description))
	}
	return &AuthenticationChallenge{
		Status:          http.StatusUnauthorized,
		WWWAuthenticate: header,
	}
}

// NewInsufficientScopeChallenge builds a challenge indicating missing authorization.
func NewInsufficientScopeChallenge(scheme string, description string) *AuthenticationChallenge {
	header := fmt.Sprintf(`%s error="insufficient_scope"`, scheme)
	if description != "" {
		header += fmt.Sprintf(`, error_description="%s"`, sanitizeParam(description))
	}
	return &AuthenticationChallenge{
		Status:          http.StatusForbidden,
		WWWAuthenticate: header,
	}
}

// sanitizeParam keeps header parameter values within the quoted-string
// grammar: double quotes and control characters are replaced.
func sanitizeParam(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '"' {
			return '\''
		}
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, s)
}
