package service

import (
	"net/http"
	"net/url"
	"strings"
)

// VendorKeyHeader is the Google-specific header carrying a raw API key.
const VendorKeyHeader = "x-goog-api-key"

// apiKeyQueryParams are the query parameters searched for a key, in priority order.
var apiKeyQueryParams = []string{"key", "api_key", "apikey", "token", "access_token"}

// ExtractAPIKey locates a caller-supplied API key. Search order, first match wins:
// the x-goog-api-key header, the Authorization header (either "Bearer <token>"
// or a bare token containing no space), then the query parameters key, api_key,
// apikey, token, access_token. Returns ok=false when no carrier holds a key.
func ExtractAPIKey(header http.Header, query url.Values) (string, bool) {
	if v := strings.TrimSpace(header.Get(VendorKeyHeader)); v != "" {
		return v, true
	}

	if auth := strings.TrimSpace(header.Get("Authorization")); auth != "" {
		const bearer = "bearer "
		if len(auth) > len(bearer) && strings.EqualFold(auth[:len(bearer)], bearer) {
			if tok := strings.TrimSpace(auth[len(bearer):]); tok != "" {
				return tok, true
			}
		} else if !strings.Contains(auth, " ") {
			return auth, true
		}
	}

	for _, p := range apiKeyQueryParams {
		if v := query.Get(p); v != "" {
			return v, true
		}
	}

	return "", false
}
