package httpapi

import (
	"net/http"
	"strings"

	"sitecart/internal/fault"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID string
	SiteID string
}

// Authenticator resolves the caller behind a request. The platform's
// edge terminates sessions and forwards identity headers; this service
// trusts them but still refuses requests that lack one.
type Authenticator interface {
	Authenticate(r *http.Request) (Identity, error)
}

// HeaderAuthenticator reads the identity headers set by the edge
// proxy: X-User-ID for the caller and X-Site-ID for the storefront
// scope.
type HeaderAuthenticator struct{}

func (HeaderAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if userID == "" {
		return Identity{}, fault.New(fault.KindUnauthenticated, "missing X-User-ID")
	}
	return Identity{
		UserID: userID,
		SiteID: strings.TrimSpace(r.Header.Get("X-Site-ID")),
	}, nil
}

// StaticTokenGuard protects internal endpoints with a shared token.
// An empty configured token disables the endpoints entirely.
type StaticTokenGuard struct {
	Token string
}

func (g StaticTokenGuard) Check(r *http.Request) error {
	if g.Token == "" {
		return fault.New(fault.KindForbidden, "internal endpoints are disabled")
	}
	got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if got != g.Token {
		return fault.New(fault.KindUnauthenticated, "invalid internal token")
	}
	return nil
}
