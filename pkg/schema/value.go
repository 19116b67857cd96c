package schema

import "time"

// ValueKind is the closed set of value shapes a payload field may hold.
type ValueKind uint8

// Value kinds. Reference values are strings at runtime; the kind is only
// distinguishable through the declaring field's type.
const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBoolean
	KindObject
	KindList
	KindReference
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindObject:
		return "object"
	case KindList:
		return "list"
	case KindReference:
		return "reference"
	default:
		return "unknown"
	}
}

// IsScalar reports whether values of this kind can be rendered into an index key.
func (k ValueKind) IsScalar() bool {
	return k == KindString || k == KindNumber || k == KindBoolean || k == KindReference
}

// KindOf classifies a JSON-compatible value. Go numeric types all map to
// [KindNumber]; time.Time is treated as a string (RFC 3339).
func KindOf(v any) ValueKind {
	switch v.(type) {
	case nil:
		return KindNull
	case string, time.Time:
		return KindString
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return KindNumber
	case bool:
		return KindBoolean
	case map[string]any:
		return KindObject
	case []any, []string:
		return KindList
	default:
		return KindObject
	}
}
