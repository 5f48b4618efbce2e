package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Model-produced arguments are loosely typed: numbers come as float64,
// numeric strings, or json.Number, and scalars sometimes arrive wrapped
// in a one-element array. These helpers are the only place that
// tolerance lives.

// unwrapSingle returns the sole element of a one-element slice, or v.
func unwrapSingle(v any) any {
	switch s := v.(type) {
	case []any:
		if len(s) == 1 {
			return s[0]
		}
	case []string:
		if len(s) == 1 {
			return s[0]
		}
	}
	return v
}

// argString returns the string at key. present is false when the key is
// missing or null.
func argString(args map[string]any, key string) (value string, present bool, err error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return "", false, nil
	}
	switch v := unwrapSingle(raw).(type) {
	case string:
		return v, true, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true, nil
	case json.Number:
		return v.String(), true, nil
	case bool:
		return strconv.FormatBool(v), true, nil
	case nil:
		return "", false, nil
	default:
		return "", true, invalidArgument("%s must be a string", key)
	}
}

// argInt returns the integer at key. present is false when the key is
// missing, null, or an empty string. Integral values outside the int64
// range saturate at its bounds.
func argInt(args map[string]any, key string) (value int64, present bool, err error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return 0, false, nil
	}
	switch v := unwrapSingle(raw).(type) {
	case float64:
		return floatInt(v, key)
	case int:
		return int64(v), true, nil
	case int64:
		return v, true, nil
	case json.Number:
		return numericString(v.String(), key)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false, nil
		}
		return numericString(s, key)
	case nil:
		return 0, false, nil
	default:
		return 0, true, invalidArgument("%s must be an integer", key)
	}
}

func numericString(s, key string) (int64, bool, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err == nil || errors.Is(err, strconv.ErrRange) {
		// ParseInt saturates on range errors.
		return n, true, nil
	}
	f, ferr := strconv.ParseFloat(s, 64)
	if ferr != nil && !errors.Is(ferr, strconv.ErrRange) {
		return 0, true, invalidArgument("%s must be an integer, got %q", key, s)
	}
	return floatInt(f, key)
}

// floatInt converts an integral float, clamping to the int64 range.
// Converting an out-of-range float directly is implementation-defined.
func floatInt(v float64, key string) (int64, bool, error) {
	switch {
	case v != math.Trunc(v): // also NaN
		return 0, true, invalidArgument("%s must be an integer", key)
	case v >= math.MaxInt64:
		return math.MaxInt64, true, nil
	case v <= math.MinInt64:
		return math.MinInt64, true, nil
	}
	return int64(v), true, nil
}

// argTaskRef reads the task_id / title locator pair shared by the
// single-task tools.
func argTaskRef(args map[string]any) (taskID *int64, title string, err error) {
	id, ok, err := argInt(args, "task_id")
	if err != nil {
		return nil, "", err
	}
	if ok {
		taskID = &id
	}
	title, _, err = argString(args, "title")
	if err != nil {
		return nil, "", err
	}
	return taskID, strings.TrimSpace(title), nil
}

// argLimit reads an optional limit and normalizes it.
func argLimit(args map[string]any) (int, error) {
	n, ok, err := argInt(args, "limit")
	if err != nil {
		return 0, err
	}
	if !ok {
		return DefaultLimit, nil
	}
	if n > math.MaxInt32 {
		n = math.MaxInt32
	}
	return NormalizeLimit(int(n)), nil
}

func describe(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
