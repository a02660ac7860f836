// Package httpheaders manipulates the header maps attached to HTTP server
// configs. Keys are matched case-insensitively so a config-supplied
// "authorization" entry and the token-derived "Authorization" entry never
// coexist on the wire.
package httpheaders

import "strings"

// Set writes a header, replacing any existing entry whose key differs only
// in case. A blank name is ignored.
func Set(headers map[string]string, name, value string) map[string]string {
	name = strings.TrimSpace(name)
	if name == "" {
		return headers
	}
	if headers == nil {
		headers = make(map[string]string, 1)
	}
	if existing, ok := Lookup(headers, name); ok && existing != name {
		delete(headers, existing)
	}
	headers[name] = value
	return headers
}

// Merge copies src into a fresh map with case-insensitive replacement.
func Merge(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for name, value := range src {
		out = Set(out, name, value)
	}
	return out
}

// Lookup finds the stored key equal to name under case folding.
func Lookup(headers map[string]string, name string) (string, bool) {
	for key := range headers {
		if strings.EqualFold(strings.TrimSpace(key), strings.TrimSpace(name)) {
			return key, true
		}
	}
	return "", false
}
