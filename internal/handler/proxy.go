package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"

	"gemini-proxy-go/internal/config"
	"gemini-proxy-go/internal/model"
	"gemini-proxy-go/internal/service"
)

// keyPattern matches key-carrying query parameter values in URLs embedded in
// error messages (key=, api_key=, apikey=, ...).
var keyPattern = regexp.MustCompile(`(?i)(key=)[^&\s"]+`)

// ProxyHandler forwards API requests to the upstream Gemini API.
type ProxyHandler struct {
	service *service.ProxyService
	cfg     *config.Config
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, cfg *config.Config, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		cfg:     cfg,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the request to the upstream Gemini API and streams the
// response back. When debug mode is requested (and not disabled by config)
// it answers with a diagnostic payload instead of relaying.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, model.NewErrorEnvelope(
			http.StatusBadRequest, "failed to read request body", "INVALID_ARGUMENT"))
	}
	_ = req.Body.Close()

	pr := &model.ProxyRequest{
		Ctx:    req.Context(),
		Method: req.Method,
		Path:   req.URL.Path,
		Query:  req.URL.Query(),
		Header: req.Header,
		Body:   body,
	}

	if !h.cfg.Proxy.DisableDebug && debugRequested(pr) {
		return h.handleDebug(c, pr)
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Copy filtered response headers
	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)
	h.relay(c, resp.Body, req.URL.Path)
	return nil
}

// relay streams the upstream body to the client chunk by chunk, flushing after
// each read so event-stream payloads are delivered as they arrive. If the
// stream fails mid-relay the status has already been sent; the client receives
// a truncated response and the failure is only logged. The read/write loop
// also provides backpressure: a slow client stalls reads from upstream.
func (h *ProxyHandler) relay(c echo.Context, body io.Reader, path string) {
	w := c.Response()
	buf := make([]byte, 32*1024)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				h.logger.Error("writing response to client",
					"err", werr,
					"path", path,
				)
				return
			}
			w.Flush()
		}
		if rerr == io.EOF {
			return
		}
		if rerr != nil {
			h.logger.Error("streaming response body",
				"err", rerr,
				"path", path,
			)
			return
		}
	}
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", sanitizeError(err),
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, service.ErrMissingAPIKey) {
		return c.JSON(http.StatusUnauthorized, model.NewErrorEnvelope(
			http.StatusUnauthorized, "API key not found", "UNAUTHENTICATED"))
	}

	msg := fmt.Sprintf("Failed to connect to Google Gemini API: %s", sanitizeError(err))
	return c.JSON(http.StatusBadGateway, model.NewErrorEnvelope(
		http.StatusBadGateway, msg, "BAD_GATEWAY"))
}

// sanitizeError redacts API keys from error messages that may contain upstream URLs.
func sanitizeError(err error) string {
	return keyPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
}
