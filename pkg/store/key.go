package store

import (
	"strconv"
	"strings"

	"github.com/calvinalkan/contentdb/pkg/schema"
)

// KeySeparator joins the components of an index key. It sorts below every
// printable character so shorter values order before their extensions.
const KeySeparator = "\x1d"

// Key derives the index key for the document at docPath.
//
// The default (empty) definition keys by path. Otherwise each field's value is
// rendered as text and joined with [KeySeparator], followed by the path so keys
// stay unique. ok is false when the payload is missing a field or holds a
// non-scalar value for it; such documents are left out of the index.
func (d IndexDefinition) Key(docPath string, payload Payload) (string, bool) {
	if len(d.Fields) == 0 {
		return docPath, true
	}

	var b strings.Builder

	for _, f := range d.Fields {
		s, ok := RenderValue(payload[f.Name], f.Pad)
		if !ok {
			return "", false
		}

		b.WriteString(s)
		b.WriteString(KeySeparator)
	}

	b.WriteString(docPath)

	return b.String(), true
}

// RenderValue renders a scalar as index text. Numbers are padded when pad is set.
func RenderValue(v any, pad *Pad) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case float64:
		return padLeft(strconv.FormatFloat(x, 'f', -1, 64), pad), true
	case int:
		return padLeft(strconv.Itoa(x), pad), true
	case int64:
		return padLeft(strconv.FormatInt(x, 10), pad), true
	default:
		return "", false
	}
}

// padLeft pads the integer part of a rendered number to pad.MaxLength, so
// "3.5" becomes "0003.5" and sorts between "0003" and "0004". A leading minus
// sign stays in front of the padding. Negative values sort below every
// non-negative value but not among themselves.
func padLeft(s string, pad *Pad) string {
	if pad == nil || pad.FillString == "" {
		return s
	}

	sign, digits := "", s
	if rest, ok := strings.CutPrefix(s, "-"); ok {
		sign, digits = "-", rest
	}

	intPart, frac, hasFrac := strings.Cut(digits, ".")
	if len(intPart) < pad.MaxLength {
		var b strings.Builder

		for b.Len()+len(intPart) < pad.MaxLength {
			b.WriteString(pad.FillString)
		}

		intPart = b.String()[:pad.MaxLength-len(intPart)] + intPart
	}

	if hasFrac {
		intPart += "." + frac
	}

	return sign + intPart
}

// NumericPad returns the padding for a field type, or nil for non-numeric types.
func NumericPad(t schema.FieldType, fill string, width int) *Pad {
	if t != schema.TypeNumber {
		return nil
	}

	if fill == "" {
		fill = DefaultNumericFill
	}

	if width <= 0 {
		width = DefaultNumericLPad
	}

	return &Pad{FillString: fill, MaxLength: width}
}
