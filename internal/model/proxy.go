// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// Version identifies the upstream Gemini API surface a request targets.
type Version string

// Supported upstream API versions.
const (
	VersionV1     Version = "v1"
	VersionV1Beta Version = "v1beta"
)

// ParseVersion returns the Version matching s, or ok=false for anything else.
func ParseVersion(s string) (Version, bool) {
	switch Version(s) {
	case VersionV1:
		return VersionV1, true
	case VersionV1Beta:
		return VersionV1Beta, true
	}
	return "", false
}

// ProxyRequest represents a client request to be forwarded upstream.
// Body holds the raw request bytes; it is read up-front (bounded by the
// server body limit) because version negotiation inspects the JSON payload.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// ErrorEnvelope is the JSON error shape the Gemini API itself uses. Local
// errors (401, 502) are surfaced in the same envelope so clients see one
// error format regardless of where the failure occurred.
type ErrorEnvelope struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the code, message and canonical status of an error.
type ErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// NewErrorEnvelope builds an ErrorEnvelope.
func NewErrorEnvelope(code int, message, status string) ErrorEnvelope {
	return ErrorEnvelope{Error: ErrorDetail{Code: code, Message: message, Status: status}}
}
