package mesh

import (
	"encoding/json"
	"strings"
)

// ParsePath normalizes a raw forwarding-path field into an ordered sequence
// of uppercase 2-character prefixes. The field arrives either as a native
// list of strings or as a JSON-encoded string of such a list; both are
// accepted. Malformed input yields an empty path rather than an error: one
// corrupt packet must not abort a batch.
func ParsePath(raw any) []Prefix {
	switch v := raw.(type) {
	case nil:
		return nil
	case []Prefix:
		return normalizePath(prefixesToStrings(v))
	case []string:
		return normalizePath(v)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil
			}
			parts = append(parts, s)
		}
		return normalizePath(parts)
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil
		}
		var parts []string
		if err := json.Unmarshal([]byte(trimmed), &parts); err != nil {
			return nil
		}
		return normalizePath(parts)
	default:
		return nil
	}
}

// ParseEffectivePath parses a raw path and strips a trailing element matching
// the local node's prefix. The local node is implicit in how the packet was
// received, not a real hop to be resolved. Returns the effective path and its
// length.
func ParseEffectivePath(raw any, local Prefix) ([]Prefix, int) {
	path := ParsePath(raw)
	path = StripLocalHop(path, local)
	return path, len(path)
}

// StripLocalHop removes a trailing element equal to the local prefix.
func StripLocalHop(path []Prefix, local Prefix) []Prefix {
	if local == "" || len(path) == 0 {
		return path
	}
	if path[len(path)-1] == local {
		return path[:len(path)-1]
	}
	return path
}

func normalizePath(parts []string) []Prefix {
	out := make([]Prefix, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if len(p) != 2 || !isHexPair(p) {
			continue
		}
		out = append(out, Prefix(p))
	}
	return out
}

func prefixesToStrings(in []Prefix) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		out = append(out, string(p))
	}
	return out
}

func isHexPair(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
