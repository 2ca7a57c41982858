package http

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
)

// extractBearerToken reads the token from an "Authorization: Bearer <token>"
// header, returning "" if the header is absent or malformed.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimPrefix(auth, prefix)
}

// tokensEqual compares a request-supplied token against the configured one
// in constant time, over SHA-256 digests so the comparison cost and result
// never leak the candidate's length or a prefix match.
func tokensEqual(candidate, configured string) bool {
	if candidate == "" || configured == "" {
		return false
	}
	a := sha256.Sum256([]byte(candidate))
	b := sha256.Sum256([]byte(configured))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
