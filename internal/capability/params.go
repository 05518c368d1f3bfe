package capability

import (
	"fmt"
	"strings"
)

// stringParam returns the first non-empty string value under any of the
// given keys. Non-string scalars are rendered with fmt.
func stringParam(params map[string]any, keys ...string) string {
	for _, key := range keys {
		value, ok := params[key]
		if !ok || value == nil {
			continue
		}
		switch v := value.(type) {
		case string:
			if v != "" {
				return v
			}
		case float64, int, bool:
			return fmt.Sprint(v)
		}
	}
	return ""
}

// actionHas reports whether the classified action name carries any of the
// given verbs.
func actionHas(action string, verbs ...string) bool {
	action = strings.ToLower(action)
	for _, verb := range verbs {
		if strings.Contains(action, verb) {
			return true
		}
	}
	return false
}
