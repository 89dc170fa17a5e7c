// Package normalize expands one flat parameter map into N fully-scalar maps,
// one per addressed target.
//
// A bulk-eligible key may be supplied as a scalar (the value is broadcast to
// every item) or as an array (item i gets array[i % len] — cycling, not
// truncation or null-padding). Keys outside the bulk set pass through unchanged
// into every item. Every item's value depends only on the source value and the
// item index, so items are independently dispatchable; ordering matters only for
// side-effect sequencing downstream.
package normalize

import (
	"encoding/json"
	"strings"

	berr "opbridge/errors"
)

// KeySet is the set of bulk-eligible parameter names for one operation kind.
type KeySet map[string]struct{}

// NewKeySet builds a KeySet from names.
func NewKeySet(keys ...string) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Has reports whether key is bulk-eligible.
func (s KeySet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Expand computes the fan-out length N and produces N scalar parameter maps.
//
// N is the explicit count when count > 0, otherwise max(longest bulk array, 1).
// An explicit count combined with an array of any length cycles the array, the
// same as an implicit fan-out; a zero-length bulk array is a validation error
// either way. A null element inside an array is a legal cycled value (callers
// use it to request per-item defaults).
func Expand(params map[string]any, bulkKeys KeySet, count int) ([]map[string]any, error) {
	decoded, err := decodeStringArrays(params, bulkKeys)
	if err != nil {
		return nil, err
	}

	maxLen := 0
	arrays := make(map[string][]any)
	for key := range bulkKeys {
		value, ok := decoded[key]
		if !ok {
			continue
		}
		arr, isArray := value.([]any)
		if !isArray {
			continue
		}
		if len(arr) == 0 {
			return nil, &berr.ValidationError{Key: key, Reason: "bulk array must not be empty"}
		}
		arrays[key] = arr
		if len(arr) > maxLen {
			maxLen = len(arr)
		}
	}

	n := count
	if n <= 0 {
		n = maxLen
		if n < 1 {
			n = 1
		}
	}

	items := make([]map[string]any, n)
	for i := 0; i < n; i++ {
		item := make(map[string]any, len(decoded))
		for key, value := range decoded {
			if !bulkKeys.Has(key) {
				// Non-bulk keys are copied unchanged into every item
				item[key] = value
				continue
			}
			if arr, isArray := arrays[key]; isArray {
				item[key] = arr[i%len(arr)]
			} else {
				// Scalar bulk value broadcasts to every item
				item[key] = value
			}
		}
		items[i] = item
	}
	return items, nil
}

// decodeStringArrays resolves JSON-string-encoded arrays: callers sometimes
// pass "[1,2,3]" as a string for a bulk key instead of a native array. A string
// that looks like an array but fails to parse is a validation error, never a
// silent scalar. Strings that don't look like arrays stay scalars.
func decodeStringArrays(params map[string]any, bulkKeys KeySet) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for key, value := range params {
		out[key] = value
		if !bulkKeys.Has(key) {
			continue
		}
		str, isString := value.(string)
		if !isString || !strings.HasPrefix(strings.TrimSpace(str), "[") {
			continue
		}
		var arr []any
		if err := json.Unmarshal([]byte(str), &arr); err != nil {
			return nil, &berr.ValidationError{Key: key, Reason: "string looks like a JSON array but does not parse: " + err.Error()}
		}
		out[key] = arr
	}
	return out, nil
}
