// Package bearer extracts bearer tokens from requests.
package bearer

import (
	"net/http"
	"strings"
)

// FromHeader parses "Bearer <token>" case-insensitively.
func FromHeader(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if len(v) < 7 || !strings.EqualFold(v[:7], "bearer ") {
		return "", false
	}
	t := strings.TrimSpace(v[7:])
	return t, t != ""
}

// FromRequest looks at the Authorization header and then at the token query parameter.
func FromRequest(r *http.Request) (string, bool) {
	if t, ok := FromHeader(r.Header.Get("Authorization")); ok {
		return t, true
	}
	t := r.URL.Query().Get("token")
	return t, t != ""
}
