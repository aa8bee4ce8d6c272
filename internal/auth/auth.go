// Package auth gates HTTP access to documents. It is deliberately small:
// a single static bearer token covers the single-user deployment model, and
// the interface leaves room for a real identity provider.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthorized is returned when a request carries no valid credential.
var ErrUnauthorized = errors.New("unauthorized")

// Authorizer decides whether a request may touch documents, returning the
// owning user id. It is consulted before any storage access.
type Authorizer interface {
	Authorize(r *http.Request) (string, error)
}

type staticToken struct {
	token string
}

// NewStaticToken authorizes requests bearing the configured token. An empty
// token disables the check (open, single-user mode).
func NewStaticToken(token string) Authorizer {
	return &staticToken{token: token}
}

func (a *staticToken) Authorize(r *http.Request) (string, error) {
	if a.token == "" {
		return "local", nil
	}
	header := r.Header.Get("Authorization")
	presented, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(a.token)) != 1 {
		return "", ErrUnauthorized
	}
	return "local", nil
}
