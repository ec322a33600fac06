// Package codec converts actions and scalar/geometry values to and from the
// wire JSON representation used by the remote changes protocol.
package codec

import (
	"fmt"
	"time"
)

// SerializeValue converts a scalar field value to its null-safe JSON wire
// form. Date/time values become RFC 3339 strings; everything else passes
// through unchanged.
func SerializeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(time.RFC3339)
	default:
		return v
	}
}

// DeserializeValue converts a wire value back to its in-memory form using the
// field's declared datatype. Unknown datatypes pass the value through.
func DeserializeValue(v interface{}, datatype string) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch datatype {
	case "DATE", "TIME", "DATETIME":
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string for %s value, got %T", datatype, v)
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q: %w", datatype, s, err)
		}
		return t, nil
	case "INTEGER", "BIGINT":
		switch n := v.(type) {
		case float64:
			return int64(n), nil
		case int64:
			return n, nil
		}
		return nil, fmt.Errorf("expected number for %s value, got %T", datatype, v)
	default:
		return v, nil
	}
}
