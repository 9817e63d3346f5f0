package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// Middleware authenticates bearer tokens and enforces the policy.
type Middleware struct {
	verifier *Verifier
	policy   Policy
}

// NewMiddleware returns nil for an empty secret; a nil Middleware passes
// every request through.
func NewMiddleware(secret []byte, policy Policy) *Middleware {
	verifier := NewVerifier(secret)
	if verifier == nil {
		return nil
	}
	return &Middleware{verifier: verifier, policy: policy}
}

func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		required, ok := m.policy.RequiredRole(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		id, err := m.verifier.Verify(bearerToken(r))
		switch {
		case errors.Is(err, ErrMissingToken):
			deny(w, http.StatusUnauthorized, "bearer token required")
			return
		case err != nil:
			deny(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		if !id.Role.Satisfies(required) {
			deny(w, http.StatusForbidden, "role "+string(id.Role)+" cannot access this resource")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func deny(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}
