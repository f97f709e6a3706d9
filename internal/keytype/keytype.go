// Package keytype defines the closed set of column types a partition key,
// resource id, or secondary index key may have. The type is fixed when the
// owning catalog entity is configured, so all value checks happen against a
// known tag instead of runtime type inspection.
package keytype

import (
	"fmt"
	"strconv"
	"time"
)

// Type tags one of the supported key column types.
type Type string

const (
	String  Type = "string"
	Int64   Type = "int64"
	Float64 Type = "float64"
	Time    Type = "time"
)

// timeLayout is the canonical wire format for time-typed keys.
const timeLayout = time.RFC3339Nano

// Parse converts a configuration string into a Type.
func Parse(s string) (Type, error) {
	switch Type(s) {
	case String, Int64, Float64, Time:
		return Type(s), nil
	}
	return "", fmt.Errorf("unknown key type %q", s)
}

// Valid reports whether t is one of the supported types.
func (t Type) Valid() bool {
	switch t {
	case String, Int64, Float64, Time:
		return true
	}
	return false
}

// SQLType returns the column definition used for keys of this type. The
// spelling is accepted by both supported node dialects.
func (t Type) SQLType() string {
	switch t {
	case String:
		return "VARCHAR(255)"
	case Int64:
		return "BIGINT"
	case Float64:
		return "DOUBLE PRECISION"
	case Time:
		return "TIMESTAMP"
	}
	return ""
}

// Normalize checks that v matches the tag and converts it to the canonical
// Go representation (string, int64, float64, or time.Time).
func (t Type) Normalize(v interface{}) (interface{}, error) {
	switch t {
	case String:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case Int64:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		}
	case Float64:
		switch f := v.(type) {
		case float32:
			return float64(f), nil
		case float64:
			return f, nil
		}
	case Time:
		if ts, ok := v.(time.Time); ok {
			return ts.UTC(), nil
		}
	default:
		return nil, fmt.Errorf("unknown key type %q", string(t))
	}
	return nil, fmt.Errorf("value %v (%T) does not match key type %q", v, v, string(t))
}

// ParseValue converts the string form of a key (HTTP parameters, CLI
// arguments) into its canonical Go representation.
func (t Type) ParseValue(s string) (interface{}, error) {
	switch t {
	case String:
		return s, nil
	case Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing int64 key: %w", err)
		}
		return n, nil
	case Float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing float64 key: %w", err)
		}
		return f, nil
	case Time:
		ts, err := time.Parse(timeLayout, s)
		if err != nil {
			return nil, fmt.Errorf("parsing time key: %w", err)
		}
		return ts.UTC(), nil
	}
	return nil, fmt.Errorf("unknown key type %q", string(t))
}

// FormatValue renders a canonical key value as a string. Used for cache keys
// and log output; round-trips with ParseValue.
func (t Type) FormatValue(v interface{}) (string, error) {
	normalized, err := t.Normalize(v)
	if err != nil {
		return "", err
	}
	switch t {
	case String:
		return normalized.(string), nil
	case Int64:
		return strconv.FormatInt(normalized.(int64), 10), nil
	case Float64:
		return strconv.FormatFloat(normalized.(float64), 'g', -1, 64), nil
	case Time:
		return normalized.(time.Time).Format(timeLayout), nil
	}
	return "", fmt.Errorf("unknown key type %q", string(t))
}
