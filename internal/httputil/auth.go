package httputil

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerMatches reports whether r carries "Authorization: Bearer <token>".
// The comparison runs in constant time.
func BearerMatches(r *http.Request, token string) bool {
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}
