package service

import (
	"encoding/json"
	"strings"

	"gemini-proxy-go/internal/model"
)

// restrictedFields are request features only the v1beta surface supports.
// Their presence forces v1beta; a v1-bound body has them stripped.
var restrictedFields = []string{"systemInstruction", "tool_config", "tool_calls"}

// ParseBody decodes raw request bytes into a generic JSON value.
// Returns nil for an empty or non-JSON body; the pipeline treats that as
// "no structured body" rather than an error.
func ParseBody(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// VersionFromPath returns the version pinned by an explicit /v1/ or /v1beta/
// path prefix. The embedded segment is authoritative when present.
func VersionFromPath(path string) (model.Version, bool) {
	for _, v := range []model.Version{model.VersionV1Beta, model.VersionV1} {
		if strings.HasPrefix(path, "/"+string(v)+"/") {
			return v, true
		}
	}
	return "", false
}

// NegotiateVersion decides which upstream API version a request must target.
// An explicit path prefix wins outright; otherwise the body is scanned for
// v1beta-only features; otherwise def applies.
func NegotiateVersion(path string, body any, def model.Version) model.Version {
	if v, ok := VersionFromPath(path); ok {
		return v
	}
	if bodyRequiresBeta(body) {
		return model.VersionV1Beta
	}
	return def
}

// bodyRequiresBeta reports whether the body root or any contents[*].parts[*]
// element carries a truthy restricted field. Malformed shapes never error;
// anything that is not the expected object/array simply does not match.
func bodyRequiresBeta(body any) bool {
	obj, ok := body.(map[string]any)
	if !ok {
		return false
	}
	if hasRestrictedField(obj) {
		return true
	}

	contents, ok := obj["contents"].([]any)
	if !ok {
		return false
	}
	for _, c := range contents {
		cm, ok := c.(map[string]any)
		if !ok {
			continue
		}
		parts, ok := cm["parts"].([]any)
		if !ok {
			continue
		}
		for _, p := range parts {
			if pm, ok := p.(map[string]any); ok && hasRestrictedField(pm) {
				return true
			}
		}
	}
	return false
}

func hasRestrictedField(m map[string]any) bool {
	for _, f := range restrictedFields {
		if v, ok := m[f]; ok && truthy(v) {
			return true
		}
	}
	return false
}

// truthy mirrors the permissive presence check: null, false, empty string
// and zero do not count as a feature being used.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	default:
		return true
	}
}
