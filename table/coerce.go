package table

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/graphtable/lattice/introspect"
)

// Coercion turns loosely-typed input values (query params and JSON write
// payloads decode to strings, float64s, bools, maps and slices) into the
// normalized Go value for a column's introspected type. Failures surface
// as field-keyed validation messages, never as panics or opaque errors.

// coerceValue normalizes v for column c. nil stays nil; the caller
// checks nullability separately.
func coerceValue(c introspect.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if c.Array {
		vs, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("must be an array")
		}
		elem := c
		elem.Array = false
		out := make([]any, len(vs))
		for i, e := range vs {
			ev, err := coerceValue(elem, e)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	}
	switch c.Type {
	case "string":
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("must be a string")
		}
		if c.Length > 0 && len(s) > c.Length {
			return nil, fmt.Errorf("must be at most %d characters", c.Length)
		}
		return s, nil
	case "integer":
		return coerceInt(v)
	case "number":
		return coerceFloat(v)
	case "boolean":
		return coerceBool(v)
	case "uuid":
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("must be a uuid")
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("must be a uuid")
		}
		return id.String(), nil
	case "timestamp":
		return coerceTime(v, time.RFC3339)
	case "date":
		return coerceTime(v, "2006-01-02")
	case "json":
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("must be valid json")
		}
		return string(data), nil
	default:
		return v, nil
	}
}

func coerceInt(v any) (any, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) {
			return nil, fmt.Errorf("must be an integer")
		}
		return int64(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("must be an integer")
		}
		return i, nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("must be an integer")
		}
		return i, nil
	default:
		return nil, fmt.Errorf("must be an integer")
	}
}

func coerceFloat(v any) (any, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("must be a number")
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return nil, fmt.Errorf("must be a number")
		}
		return f, nil
	default:
		return nil, fmt.Errorf("must be a number")
	}
}

func coerceBool(v any) (any, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch b {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
	}
	return nil, fmt.Errorf("must be a boolean")
}

func coerceTime(v any, layout string) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		parsed, err := time.Parse(layout, t)
		if err != nil && layout != time.RFC3339 {
			parsed, err = time.Parse(time.RFC3339, t)
		}
		if err != nil {
			return nil, fmt.Errorf("must be a valid date")
		}
		return parsed, nil
	default:
		return nil, fmt.Errorf("must be a valid date")
	}
}

// placeholderFor returns the deterministic stand-in used for a foreign
// key whose referenced row has not been inserted yet, typed so the key
// still passes type checks.
func placeholderFor(c introspect.Column) any {
	switch c.Type {
	case "uuid":
		return uuid.Nil.String()
	case "integer":
		return int64(0)
	case "number":
		return float64(0)
	case "string":
		return ""
	default:
		return int64(0)
	}
}

// isPlaceholder reports whether v is a value placeholderFor produces.
func isPlaceholder(v any) bool {
	switch id := v.(type) {
	case nil:
		return true
	case string:
		return id == "" || id == uuid.Nil.String()
	case int64:
		return id == 0
	case int:
		return id == 0
	case float64:
		return id == 0
	default:
		return false
	}
}
