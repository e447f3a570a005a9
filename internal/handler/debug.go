package handler

import (
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"

	"gemini-proxy-go/internal/model"
)

var processStart = time.Now()

// debugInfo is the diagnostic payload returned when debug mode is requested.
// It reports whether a key was resolvable, never the key itself.
type debugInfo struct {
	Method        string  `json:"method"`
	Path          string  `json:"path"`
	APIKeyFound   bool    `json:"api_key_found"`
	TargetVersion string  `json:"target_version"`
	GoVersion     string  `json:"go_version"`
	Goroutines    int     `json:"goroutines"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// debugRequested reports whether the request asks for debug introspection via
// the debug query flag or the X-Debug-Mode header.
func debugRequested(pr *model.ProxyRequest) bool {
	if v := pr.Query.Get("debug"); v == "true" || v == "1" {
		return true
	}
	if v := pr.Header.Get("X-Debug-Mode"); v == "true" || v == "1" {
		return true
	}
	return false
}

// handleDebug answers with request diagnostics instead of relaying upstream.
func (h *ProxyHandler) handleDebug(c echo.Context, pr *model.ProxyRequest) error {
	found, version := h.service.Describe(pr)

	return c.JSON(http.StatusOK, debugInfo{
		Method:        pr.Method,
		Path:          pr.Path,
		APIKeyFound:   found,
		TargetVersion: string(version),
		GoVersion:     runtime.Version(),
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: time.Since(processStart).Seconds(),
	})
}
