package transcode

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrUnterminatedFrontmatter is returned when an opening "---" line has no
// matching closing line.
var ErrUnterminatedFrontmatter = errors.New("unterminated frontmatter")

const frontmatterDelimiter = "---"

// isoLayout matches the millisecond ISO 8601 form used for datetime fields.
const isoLayout = "2006-01-02T15:04:05.000Z07:00"

// splitFrontmatter separates a leading YAML block from the body.
//
// The block must start on the first line. The body is everything after the
// closing delimiter's line ending, returned verbatim so that
// [marshalFrontmatter] followed by splitFrontmatter is lossless. Input without
// an opening delimiter has no frontmatter and is returned whole as body.
func splitFrontmatter(src []byte) ([]byte, []byte, error) {
	first, rest, ok := cutLine(src)
	if !ok && len(first) == 0 {
		return nil, src, nil
	}

	if string(trimCR(first)) != frontmatterDelimiter {
		return nil, src, nil
	}

	start := len(src) - len(rest)
	offset := start

	for len(rest) > 0 {
		line, next, _ := cutLine(rest)
		if string(trimCR(line)) == frontmatterDelimiter {
			return src[start:offset], next, nil
		}

		offset += len(rest) - len(next)
		rest = next
	}

	return nil, nil, ErrUnterminatedFrontmatter
}

// cutLine returns the line up to (not including) '\n' and the remainder after it.
func cutLine(b []byte) ([]byte, []byte, bool) {
	line, rest, ok := bytes.Cut(b, []byte{'\n'})

	return line, rest, ok
}

func trimCR(line []byte) []byte {
	return bytes.TrimSuffix(line, []byte{'\r'})
}

func decodeFrontmatter(block []byte) (map[string]any, error) {
	fields := map[string]any{}

	if len(bytes.TrimSpace(block)) == 0 {
		return fields, nil
	}

	var raw any

	err := yaml.Unmarshal(block, &raw)
	if err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}

	obj, ok := normalize(raw).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("yaml: frontmatter must be a mapping, got %T", raw)
	}

	return obj, nil
}

// marshalOptions configures [marshalFrontmatter].
type marshalOptions struct {
	keyPriority []string
}

// MarshalOption configures frontmatter serialization.
type MarshalOption func(*marshalOptions)

// WithKeyPriority emits the given keys first, in order, before the remaining
// keys in lexical order. Keys missing from the data are skipped.
func WithKeyPriority(keys ...string) MarshalOption {
	return func(o *marshalOptions) {
		o.keyPriority = append(o.keyPriority, keys...)
	}
}

// marshalFrontmatter renders fields as a delimited YAML block. Key order is
// deterministic so that repeated writes of the same data produce identical files.
func marshalFrontmatter(fields map[string]any, opts ...MarshalOption) ([]byte, error) {
	var o marshalOptions
	for _, opt := range opts {
		opt(&o)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		if !slices.Contains(o.keyPriority, k) {
			keys = append(keys, k)
		}
	}

	slices.Sort(keys)

	ordered := make([]string, 0, len(fields))
	for _, k := range o.keyPriority {
		if _, ok := fields[k]; ok && !slices.Contains(ordered, k) {
			ordered = append(ordered, k)
		}
	}

	ordered = append(ordered, keys...)

	var buf bytes.Buffer

	buf.WriteString(frontmatterDelimiter + "\n")

	if len(ordered) > 0 {
		doc := &yaml.Node{Kind: yaml.MappingNode}

		for _, k := range ordered {
			keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}
			valueNode := &yaml.Node{}

			err := valueNode.Encode(fields[k])
			if err != nil {
				return nil, fmt.Errorf("yaml: encode %q: %w", k, err)
			}

			doc.Content = append(doc.Content, keyNode, valueNode)
		}

		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)

		err := enc.Encode(doc)
		if err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}

		err = enc.Close()
		if err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}
	}

	buf.WriteString(frontmatterDelimiter + "\n")

	return buf.Bytes(), nil
}

// normalize converts decoded YAML/JSON values into the JSON value model used
// for payloads: objects are map[string]any, lists []any, numbers float64.
func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = normalize(val)
		}

		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[fmt.Sprint(k)] = normalize(val)
		}

		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = normalize(val)
		}

		return out
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case uint64:
		return float64(x)
	case float32:
		return float64(x)
	case time.Time:
		// Only explicitly tagged (!!timestamp) values decode to time.Time.
		return x.UTC().Format(isoLayout)
	default:
		return v
	}
}
