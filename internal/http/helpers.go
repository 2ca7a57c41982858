package http

import (
	"encoding/json"
	"net/http"
	"regexp"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// writeJSON encodes data as the JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// extractUserID reads the caller's identity from the X-User-ID header, set
// by an upstream auth proxy or trusted client.
func extractUserID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

// isValidSlug reports whether s is a lowercase alphanumeric-and-hyphen
// identifier suitable for use as an MCP server name or similar resource key.
func isValidSlug(s string) bool {
	return s != "" && slugPattern.MatchString(s)
}
