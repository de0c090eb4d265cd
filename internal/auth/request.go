package auth

import (
	"net/http"
	"strings"
)

// TokenFromRequest reads a bearer token from the Authorization header, falling
// back to the token query parameter browsers use for WebSocket upgrades.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
