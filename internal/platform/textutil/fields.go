// Package textutil cleans free-form key/value input posted by booking forms.
package textutil

import "strings"

// CleanFields trims keys and values and drops entries whose key is blank.
// It returns nil when nothing survives.
func CleanFields(values map[string]string) map[string]string {
	var out map[string]string
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if out == nil {
			out = make(map[string]string, len(values))
		}
		out[key] = strings.TrimSpace(value)
	}
	return out
}

// PartitionFields cleans values and splits them by key prefix. Either result
// is nil when it would be empty.
func PartitionFields(values map[string]string, prefix string) (matched, rest map[string]string) {
	for key, value := range CleanFields(values) {
		if prefix != "" && strings.HasPrefix(key, prefix) {
			if matched == nil {
				matched = make(map[string]string)
			}
			matched[key] = value
			continue
		}
		if rest == nil {
			rest = make(map[string]string)
		}
		rest[key] = value
	}
	return matched, rest
}
