package secrets

import (
	"errors"
	"strings"
)

// ErrTimeoutTooShort is returned when a session timeout below the minimum is
// requested.
var ErrTimeoutTooShort = errors.New("session timeout must be at least 60 seconds")

// wipeValue recursively overwrites sensitive leaves in place before the
// containing structure is dropped: strings are replaced with '*' of equal
// length, all other scalars with nil. The same walk serves credential and
// plan wipes.
func wipeValue(v map[string]interface{}) {
	for k, child := range v {
		v[k] = wiped(child)
	}
}

func wiped(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		wipeValue(t)
		return t
	case []interface{}:
		for i, e := range t {
			t[i] = wiped(e)
		}
		return t
	case string:
		return strings.Repeat("*", len(t))
	case nil:
		return nil
	default:
		// Numbers, booleans, and anything else scalar.
		return nil
	}
}

// copyMap returns an independent deep copy of a JSON-like mapping so callers
// can never mutate stored state (and the store can never mutate theirs).
func copyMap(v map[string]interface{}) map[string]interface{} {
	if v == nil {
		return nil
	}
	out := make(map[string]interface{}, len(v))
	for k, child := range v {
		out[k] = copyValue(child)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return copyMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		// Scalars are copied by value.
		return t
	}
}
