// Package limits enforces payload size ceilings before serialization.
//
// The reporting API rejects oversized fields, so strings, attribute maps
// and list payloads are clamped proactively instead of letting the server
// reject them. All functions are pure and never fail on normal inputs.
package limits

import (
	"encoding/json"
	"fmt"
	"sort"
)

const (
	// PathLimit is the maximum length of a result path.
	PathLimit = 1024
	// NameLimit is the maximum length of a result name.
	NameLimit = 300
	// AttributeKeyLimit is the maximum length of an attribute key.
	AttributeKeyLimit = 65
	// AttributeValueLimit is the maximum length of an attribute value and
	// the JSON byte budget for list/map payloads.
	AttributeValueLimit = 256
	// MessageLimit is the maximum length of a failure message.
	MessageLimit = 64 * 1024

	// overflowMarker is appended to truncated list/map payloads when it
	// still fits the budget.
	overflowMarker = "..."
)

// ClampString truncates s to limit characters. Strings at or under the
// limit are returned unchanged, so clamping is idempotent.
func ClampString(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// ClampAttributes clamps every key to AttributeKeyLimit and every string
// value to AttributeValueLimit. When two distinct keys clamp to the same
// truncated key, the first one (in sorted key order) wins and the rest are
// dropped.
func ClampAttributes(attributes map[string]any) map[string]any {
	if len(attributes) == 0 {
		return map[string]any{}
	}

	limited := make(map[string]any, len(attributes))
	for _, key := range sortedKeys(attributes) {
		clampedKey := ClampString(key, AttributeKeyLimit)
		if clampedKey == "" {
			continue
		}
		if _, exists := limited[clampedKey]; exists {
			continue
		}

		value := attributes[key]
		if s, ok := value.(string); ok {
			limited[clampedKey] = ClampString(s, AttributeValueLimit)
		} else {
			limited[clampedKey] = value
		}
	}
	return limited
}

// LimitListStrings appends items while the JSON-encoded accumulated list
// stays within the byte budget. When truncation occurs, an overflow marker
// item is appended if it still fits.
func LimitListStrings(values []string, limit int) []string {
	limited := []string{}
	for _, value := range values {
		if jsonLen(append(limited, value)) > limit {
			break
		}
		limited = append(limited, value)
	}

	if len(limited) < len(values) {
		if jsonLen(append(limited, overflowMarker)) <= limit {
			limited = append(limited, overflowMarker)
		}
	}
	return limited
}

// LimitMapStrings adds entries (in sorted key order, so truncation is
// deterministic) while the JSON-encoded accumulated map stays within the
// byte budget. Values that cannot be JSON-encoded are replaced by their
// string representation. An overflow marker entry is added on truncation
// when it fits.
func LimitMapStrings(values map[string]any, limit int) map[string]any {
	limited := map[string]any{}
	if len(values) == 0 {
		return limited
	}

	truncated := false
	for _, key := range sortedKeys(values) {
		value := values[key]
		if _, err := json.Marshal(value); err != nil {
			value = fmt.Sprintf("%v", value)
		}

		limited[key] = value
		if mapJSONLen(limited) > limit {
			delete(limited, key)
			truncated = true
			break
		}
	}

	if truncated || len(limited) < len(values) {
		limited[overflowMarker] = overflowMarker
		if mapJSONLen(limited) > limit {
			delete(limited, overflowMarker)
		}
	}
	return limited
}

func jsonLen(values []string) int {
	data, err := json.Marshal(values)
	if err != nil {
		return 0
	}
	return len(data)
}

func mapJSONLen(values map[string]any) int {
	data, err := json.Marshal(values)
	if err != nil {
		return 0
	}
	return len(data)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
