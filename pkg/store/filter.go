package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/jp"

	"github.com/calvinalkan/contentdb/pkg/schema"
)

// Operator is a filter comparison.
type Operator string

// Supported operators. Ternary filters use a lower bound (gt/gte) on the left
// and an upper bound (lt/lte) on the right.
const (
	OpEq         Operator = "eq"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpStartsWith Operator = "startsWith"
	OpIn         Operator = "in"
)

// Filter is a binary or ternary predicate over one payload value.
//
// PathExpression is a JSONPath into the payload; a bare field name is
// accepted. When the path yields a list, the filter matches if any element
// matches.
type Filter struct {
	PathExpression string           `json:"pathExpression"`
	Type           schema.FieldType `json:"type"`

	Operator Operator `json:"operator,omitempty"`
	Operand  any      `json:"operand,omitempty"`

	LeftOperator  Operator `json:"leftOperator,omitempty"`
	LeftOperand   any      `json:"leftOperand,omitempty"`
	RightOperator Operator `json:"rightOperator,omitempty"`
	RightOperand  any      `json:"rightOperand,omitempty"`
}

// IsTernary reports whether f is a range filter.
func (f Filter) IsTernary() bool {
	return f.LeftOperator != "" || f.RightOperator != ""
}

// Validate checks the operator set is well formed.
func (f Filter) Validate() error {
	if f.PathExpression == "" {
		return fmt.Errorf("%w: filter has no path expression", ErrInvalidQuery)
	}

	if f.IsTernary() {
		if f.Operator != "" {
			return fmt.Errorf("%w: filter %q mixes binary and ternary operators", ErrInvalidQuery, f.PathExpression)
		}

		if f.LeftOperator != OpGt && f.LeftOperator != OpGte {
			return fmt.Errorf("%w: left operator %q must be gt or gte", ErrInvalidQuery, f.LeftOperator)
		}

		if f.RightOperator != OpLt && f.RightOperator != OpLte {
			return fmt.Errorf("%w: right operator %q must be lt or lte", ErrInvalidQuery, f.RightOperator)
		}

		return nil
	}

	switch f.Operator {
	case OpEq, OpGt, OpGte, OpLt, OpLte, OpStartsWith:
	case OpIn:
		if _, ok := f.Operand.([]any); !ok {
			return fmt.Errorf("%w: operand of %q must be a list", ErrInvalidQuery, OpIn)
		}
	default:
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, f.Operator)
	}

	return nil
}

// Matcher evaluates a filter chain against payloads. All filters must match.
type Matcher struct {
	filters []compiledFilter
}

type compiledFilter struct {
	Filter

	expr jp.Expr
}

// NewMatcher validates and compiles a filter chain. A nil or empty chain
// matches everything.
func NewMatcher(chain []Filter) (*Matcher, error) {
	m := &Matcher{filters: make([]compiledFilter, 0, len(chain))}

	for _, f := range chain {
		err := f.Validate()
		if err != nil {
			return nil, err
		}

		src := f.PathExpression
		if !strings.HasPrefix(src, "$") && !strings.HasPrefix(src, "@") {
			src = "$." + src
		}

		x, err := jp.ParseString(src)
		if err != nil {
			return nil, fmt.Errorf("%w: path %q: %w", ErrInvalidQuery, f.PathExpression, err)
		}

		m.filters = append(m.filters, compiledFilter{Filter: f, expr: x})
	}

	return m, nil
}

// Empty reports whether the chain has no filters.
func (m *Matcher) Empty() bool {
	return m == nil || len(m.filters) == 0
}

// Match reports whether payload satisfies every filter.
func (m *Matcher) Match(payload Payload) bool {
	if m.Empty() {
		return true
	}

	for _, f := range m.filters {
		if !f.match(payload) {
			return false
		}
	}

	return true
}

func (f compiledFilter) match(payload Payload) bool {
	for _, v := range f.expr.Get(payload) {
		if list, ok := v.([]any); ok {
			for _, el := range list {
				if f.matchValue(el) {
					return true
				}
			}

			continue
		}

		if f.matchValue(v) {
			return true
		}
	}

	return false
}

func (f compiledFilter) matchValue(v any) bool {
	if f.IsTernary() {
		return compare(f.Type, f.LeftOperator, v, f.LeftOperand) &&
			compare(f.Type, f.RightOperator, v, f.RightOperand)
	}

	if f.Operator == OpIn {
		list, _ := f.Operand.([]any)
		for _, candidate := range list {
			if compare(f.Type, OpEq, v, candidate) {
				return true
			}
		}

		return false
	}

	return compare(f.Type, f.Operator, v, f.Operand)
}

// compare applies op to value and operand, coercing both to the filter type.
// Values that cannot be coerced never match.
func compare(t schema.FieldType, op Operator, value, operand any) bool {
	switch t {
	case schema.TypeNumber:
		a, ok := toNumber(value)
		if !ok {
			return false
		}

		b, ok := toNumber(operand)
		if !ok {
			return false
		}

		return ordered(op, cmpFloat(a, b), "", "")
	case schema.TypeBoolean:
		a, ok := toBool(value)
		if !ok {
			return false
		}

		b, ok := toBool(operand)
		if !ok {
			return false
		}

		return op == OpEq && a == b
	default:
		a, ok := value.(string)
		if !ok {
			return false
		}

		b := fmt.Sprint(operand)

		return ordered(op, strings.Compare(a, b), a, b)
	}
}

func ordered(op Operator, c int, a, b string) bool {
	switch op {
	case OpEq:
		return c == 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	case OpStartsWith:
		return b != "" && strings.HasPrefix(a, b)
	default:
		return false
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func toNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()

		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(x, 64)

		return f, err == nil
	default:
		return 0, false
	}
}

func toBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		b, err := strconv.ParseBool(x)

		return b, err == nil
	default:
		return false, false
	}
}
