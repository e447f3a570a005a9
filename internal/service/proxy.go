// Package service implements the request transformation pipeline: API-key
// extraction, version negotiation, body compatibility and upstream request
// construction.
package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"gemini-proxy-go/internal/client"
	"gemini-proxy-go/internal/config"
	"gemini-proxy-go/internal/metrics"
	"gemini-proxy-go/internal/model"
)

// ErrMissingAPIKey is returned when no API key is resolvable from the request
// or the configured fallback.
var ErrMissingAPIKey = errors.New("API key not found")

// allowedUpstreamHosts restricts which hosts the proxy will forward to.
var allowedUpstreamHosts = map[string]bool{
	"generativelanguage.googleapis.com": true,
}

// strippedQueryParams are removed from the outbound query string. The key
// carriers are replaced by the resolved key; debug is proxy-internal.
var strippedQueryParams = []string{"key", "api_key", "apikey", "token", "access_token", "debug"}

// excludedRequestHeaders (lowercase) are never forwarded upstream.
var excludedRequestHeaders = map[string]bool{
	"host":            true,
	"connection":      true,
	"content-length":  true,
	"x-goog-api-key":  true,
	"authorization":   true,
	"x-api-key":       true,
	"api-key":         true,
	"accept-encoding": true,
}

// forwardableResponseHeaders are the only response headers relayed to the
// client, besides any x-goog-* header.
var forwardableResponseHeaders = map[string]bool{
	"Content-Type":     true,
	"Content-Encoding": true,
	"Cache-Control":    true,
	"Expires":          true,
	"Last-Modified":    true,
	"Etag":             true,
	"Vary":             true,
	"X-Cache":          true,
	"X-Cache-Status":   true,
}

// vendorHeaderPrefix marks Google response headers that pass through unfiltered.
const vendorHeaderPrefix = "x-goog-"

const userAgent = "gemini-proxy-go/1.0"

// bodyMethods are the methods for which a request body is forwarded upstream.
var bodyMethods = map[string]bool{
	http.MethodPost:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
}

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client  *client.GeminiClient
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	baseURL *url.URL
}

// NewProxyService creates a ProxyService. The metrics parameter is optional;
// pass nil to disable pipeline metrics recording.
func NewProxyService(c *client.GeminiClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}

	if !allowedUpstreamHosts[u.Hostname()] {
		return nil, fmt.Errorf("upstream host %q is not in the allowlist", u.Hostname())
	}

	return &ProxyService{
		client:  c,
		cfg:     cfg,
		logger:  logger.With("component", "proxy_service"),
		metrics: m,
		baseURL: u,
	}, nil
}

// NewProxyServiceForTest creates a ProxyService without host allowlist validation.
// This is intended only for tests that use httptest servers on localhost.
func NewProxyServiceForTest(c *client.GeminiClient, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}

	return &ProxyService{
		client:  c,
		cfg:     cfg,
		logger:  logger.With("component", "proxy_service"),
		baseURL: u,
	}, nil
}

// ResolveAPIKey returns the API key for a request: the request's own carriers
// first (header, Authorization, query), then the configured fallback key.
func (s *ProxyService) ResolveAPIKey(header http.Header, query url.Values) (string, bool) {
	if key, ok := ExtractAPIKey(header, query); ok {
		return key, true
	}
	if s.cfg.Gemini.APIKey != "" {
		return s.cfg.Gemini.APIKey, true
	}
	return "", false
}

// Describe reports how a request would be handled without forwarding it.
// Used by the debug introspection endpoint; never exposes the key itself.
func (s *ProxyService) Describe(pr *model.ProxyRequest) (apiKeyFound bool, version model.Version) {
	_, apiKeyFound = s.ResolveAPIKey(pr.Header, pr.Query)
	version = NegotiateVersion(pr.Path, ParseBody(pr.Body), s.cfg.DefaultVersion())
	return apiKeyFound, version
}

// Forward sends a ProxyRequest through the transformation pipeline and on to
// the upstream Gemini API. The caller is responsible for closing the response
// body. Returns ErrMissingAPIKey before any outbound call when no key is
// resolvable.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	apiKey, ok := s.ResolveAPIKey(pr.Header, pr.Query)
	if !ok {
		return nil, ErrMissingAPIKey
	}

	parsed := ParseBody(pr.Body)
	version := NegotiateVersion(pr.Path, parsed, s.cfg.DefaultVersion())
	if s.metrics != nil {
		s.metrics.TargetVersion.WithLabelValues(string(version)).Inc()
	}

	outBody := pr.Body
	if parsed != nil {
		adapted, removed := AdaptBody(parsed, version)
		if removed > 0 {
			b, err := json.Marshal(adapted)
			if err != nil {
				return nil, fmt.Errorf("encode adapted body: %w", err)
			}
			outBody = b
			if s.metrics != nil {
				s.metrics.RestrictedFieldsStripped.Add(float64(removed))
			}
			s.logger.Debug("stripped restricted fields",
				"count", removed,
				"version", string(version),
			)
		}
	}

	upstreamURL := s.buildUpstreamURL(pr.Path, pr.Query, version, apiKey)
	header := s.filterRequestHeaders(pr.Header)

	var bodyReader io.Reader
	if bodyMethods[pr.Method] && len(outBody) > 0 {
		bodyReader = bytes.NewReader(outBody)
	}

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
		"version", string(version),
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, upstreamURL, header, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	resp.Header = s.filterResponseHeaders(resp.Header)
	return resp, nil
}

// buildUpstreamURL assembles the outbound URL. An explicit version prefix in
// the inbound path is kept verbatim; otherwise the negotiated version is
// prepended. Key-carrier and debug query parameters are removed from a copy
// of the query before the resolved key is inserted.
func (s *ProxyService) buildUpstreamURL(path string, query url.Values, version model.Version, apiKey string) string {
	u := *s.baseURL

	if _, ok := VersionFromPath(path); ok {
		u.Path = path
	} else {
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		u.Path = "/" + string(version) + path
	}

	q := make(url.Values, len(query))
	for k, v := range query {
		q[k] = v
	}
	for _, p := range strippedQueryParams {
		q.Del(p)
	}
	q.Set("key", apiKey)
	u.RawQuery = q.Encode()

	return u.String()
}

// filterRequestHeaders builds the outbound header set: JSON content type and
// the proxy's agent string by default, then every inbound header not in the
// exclusion set, inbound values winning on collision.
func (s *ProxyService) filterRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	dst.Set("Content-Type", "application/json")
	dst.Set("User-Agent", userAgent)

	for key, vals := range src {
		if excludedRequestHeaders[strings.ToLower(key)] {
			continue
		}
		dst[http.CanonicalHeaderKey(key)] = vals
	}
	return dst
}

// filterResponseHeaders keeps allow-listed headers plus any x-goog-* header;
// everything else from upstream is dropped.
func (s *ProxyService) filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for key, vals := range src {
		canonical := http.CanonicalHeaderKey(key)
		if forwardableResponseHeaders[canonical] || strings.HasPrefix(strings.ToLower(key), vendorHeaderPrefix) {
			dst[canonical] = vals
		}
	}
	return dst
}
