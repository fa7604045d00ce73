package httpapi

import "net/http"

// AuthError carries the auth-failure kind spec.md §4.G/§7 calls
// AuthFailed.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return "httpapi: auth failed: " + e.Reason }

// Authenticator is the boundary seam for the auth collaborator spec.md
// §1 places out of scope: "a pure function (client_ip, token) -> Ok |
// Err(kind)". Production sign-up/login/JWT/rate-limiting machinery lives
// outside this module; only this interface is consumed.
type Authenticator interface {
	Authenticate(clientIP, token string) error
}

// AllowAll is the trivial default Authenticator: every request passes.
// Hardening auth is explicitly out of scope for the core (spec.md §1);
// a real deployment supplies its own Authenticator.
type AllowAll struct{}

func (AllowAll) Authenticate(clientIP, token string) error { return nil }

// deleteAuthCookie matches spec.md §7's "401, cookie cleared" AuthFailed
// behavior: an expired cookie header instructs the client to drop it.
func deleteAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:   "lattice_session",
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}
