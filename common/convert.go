package common

import (
	"fmt"
	"strconv"
)

// ConvertToFloat64 coerces a loosely-typed exchange payload field into a
// float64. Numeric fields in REST and stream payloads usually arrive as
// JSON strings ("30000.12"); decoders occasionally surface them as native
// numbers instead. Empty and nil values coerce to zero.
func ConvertToFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case string:
		if v == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, &ParseError{v, "float64", fmt.Sprintf("unable to convert string: %s", err.Error())}
		}
		return f, nil
	case nil:
		return 0, nil
	default:
		return 0, &ParseError{value, "float64", "unsupported type"}
	}
}
