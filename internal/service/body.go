package service

import (
	"gemini-proxy-go/internal/model"
)

// AdaptBody returns a body safe to send to the target version, plus the number
// of restricted fields removed. For any target other than v1 the body is
// returned as-is. For v1 a new tree is built with every occurrence of the
// restricted fields removed, at any depth, in every object; the input is
// never mutated.
func AdaptBody(body any, v model.Version) (any, int) {
	if v != model.VersionV1 || body == nil {
		return body, 0
	}
	return stripRestricted(body)
}

// stripRestricted is a pure recursive transform over a generic JSON value.
// It returns a fresh tree so the caller's original body stays intact.
func stripRestricted(node any) (any, int) {
	switch n := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		removed := 0
		for k, v := range n {
			if isRestrictedField(k) {
				removed++
				continue
			}
			child, r := stripRestricted(v)
			out[k] = child
			removed += r
		}
		return out, removed
	case []any:
		out := make([]any, len(n))
		removed := 0
		for i, v := range n {
			child, r := stripRestricted(v)
			out[i] = child
			removed += r
		}
		return out, removed
	default:
		return n, 0
	}
}

func isRestrictedField(name string) bool {
	for _, f := range restrictedFields {
		if name == f {
			return true
		}
	}
	return false
}
