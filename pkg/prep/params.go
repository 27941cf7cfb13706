package prep

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/openfroyo/stateprep/pkg/state"
)

// params is a read view over step parameters that treats empty values as absent.
type params map[string]any

// empty reports whether v counts as an absent parameter value.
func empty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case bool:
		return !val
	case int:
		return val == 0
	case int64:
		return val == 0
	case float64:
		return val == 0
	case json.Number:
		f, err := val.Float64()
		return err == nil && f == 0
	case []any:
		return len(val) == 0
	case []string:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}

// get returns the value of key unless it is absent or empty.
func (p params) get(key string) (any, bool) {
	v, ok := p[key]
	if !ok || empty(v) {
		return nil, false
	}
	return v, true
}

// keys returns the keys of non-empty parameters in sorted order.
func (p params) keys() []string {
	keys := make([]string, 0, len(p))
	for _, k := range state.SortedKeys(map[string]any(p)) {
		if !empty(p[k]) {
			keys = append(keys, k)
		}
	}
	return keys
}

// str returns a non-empty scalar parameter as a string. A non-scalar value is a
// malformed step.
func (p params) str(key string) (string, bool, error) {
	v, ok := p.get(key)
	if !ok {
		return "", false, nil
	}
	s, ok := scalarString(v)
	if !ok {
		return "", false, state.NewStepError(state.CodeMalformedStep,
			"parameter %q must be a scalar, got %T", key, v)
	}
	return s, true, nil
}

// scalarString renders a scalar value in its input form.
func scalarString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return strconv.FormatInt(int64(val), 10), true
		}
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case bool:
		if val {
			return "True", true
		}
		return "False", true
	default:
		return "", false
	}
}

// truthy implements the input convention for booleans: true or the literal "True".
func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val == "True"
	default:
		return false
	}
}

// integer parses an integer-valued parameter.
func integer(key string, v any) (int64, error) {
	switch val := v.(type) {
	case int:
		return int64(val), nil
	case int64:
		return val, nil
	case float64:
		if val == math.Trunc(val) {
			return int64(val), nil
		}
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n, nil
		}
	case string:
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, state.NewStepError(state.CodeMalformedStep,
		"parameter %q must be an integer, got %s", key, describe(v))
}

func describe(v any) string {
	if s, ok := scalarString(v); ok {
		return strconv.Quote(s)
	}
	return fmt.Sprintf("%T", v)
}

// attributes is the attribute map of a record under construction.
type attributes map[string]any

func (a attributes) setIf(key string, v any, ok bool) {
	if ok {
		a[key] = v
	}
}

// rename copies parameter from into attribute to when it is present.
func (a attributes) rename(p params, from, to string) {
	if v, ok := p.get(from); ok {
		a[to] = v
	}
}

// copyTo copies the listed attributes that are set into dst.
func (a attributes) copyTo(dst attributes, keys ...string) {
	for _, k := range keys {
		if v, ok := a[k]; ok {
			dst[k] = v
		}
	}
}

func (a attributes) copy() attributes {
	out := make(attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}
