// Package transcode converts documents between their on-disk form and the
// payload form stored in the index.
//
// Markdown and MDX files carry a YAML frontmatter block followed by a body;
// the body is exposed under the reserved [BodyKey]. JSON files are plain
// objects. Read-time metadata keys (see [MetadataKeys]) never reach disk.
//
// All values are normalized to the JSON value model: objects are
// map[string]any, lists []any, numbers float64.
package transcode

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/calvinalkan/contentdb/pkg/schema"
)

// BodyKey is the payload key holding a markdown document's body.
const BodyKey = "$_body"

// MetadataKeys are attached to documents at read time and stripped on write.
var MetadataKeys = []string{"_collection", "_id", "_relativePath", "_keepTemplateKey", schema.TemplateKey}

// ErrUnsupportedFormat is returned for file extensions with no codec.
var ErrUnsupportedFormat = errors.New("unsupported format")

// FormatOf returns the format for a document path, based on its extension.
func FormatOf(docPath string) (schema.Format, error) {
	switch strings.ToLower(path.Ext(docPath)) {
	case ".md", ".markdown":
		return schema.FormatMarkdown, nil
	case ".mdx":
		return schema.FormatMDX, nil
	case ".json":
		return schema.FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, path.Ext(docPath))
	}
}

// Parse decodes raw file contents into a payload. For markdown the body is
// returned under [BodyKey]. Empty JSON input decodes to an empty object.
func Parse(raw []byte, format schema.Format) (map[string]any, error) {
	switch {
	case format.IsMarkdown():
		block, body, err := splitFrontmatter(raw)
		if err != nil {
			return nil, err
		}

		fields, err := decodeFrontmatter(block)
		if err != nil {
			return nil, err
		}

		fields[BodyKey] = string(body)

		return fields, nil
	case format == schema.FormatJSON:
		if len(bytes.TrimSpace(raw)) == 0 {
			return map[string]any{}, nil
		}

		var v any

		err := json.Unmarshal(raw, &v)
		if err != nil {
			return nil, fmt.Errorf("json: %w", err)
		}

		obj, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("json: document must be an object, got %T", v)
		}

		return obj, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// Stringify encodes a payload into file contents. Metadata keys and [BodyKey]
// are excluded from the frontmatter/object; the template discriminator is
// emitted first when keepTemplateKey is set.
func Stringify(payload map[string]any, format schema.Format, keepTemplateKey bool) ([]byte, error) {
	fields := make(map[string]any, len(payload))

	for k, v := range payload {
		if k == BodyKey || isMetadataKey(k) {
			continue
		}

		fields[k] = v
	}

	if keepTemplateKey {
		if tmpl, ok := payload[schema.TemplateKey]; ok {
			fields[schema.TemplateKey] = tmpl
		}
	}

	switch {
	case format.IsMarkdown():
		body, err := bodyString(payload[BodyKey])
		if err != nil {
			return nil, err
		}

		out, err := marshalFrontmatter(fields, WithKeyPriority(schema.TemplateKey))
		if err != nil {
			return nil, err
		}

		return append(out, body...), nil
	case format == schema.FormatJSON:
		out, err := json.MarshalIndent(fields, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("json: %w", err)
		}

		return out, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func bodyString(v any) (string, error) {
	switch b := v.(type) {
	case nil:
		return "", nil
	case string:
		return b, nil
	default:
		return "", fmt.Errorf("%s must be a string, got %T", BodyKey, v)
	}
}

func isMetadataKey(k string) bool {
	for _, m := range MetadataKeys {
		if k == m {
			return true
		}
	}

	return false
}

// Hoist rewrites document-shaped data into payload shape by moving bodyField
// to [BodyKey]. The input is not modified. An absent body field hoists as an
// empty body, matching what [Parse] reads back from the written file.
func Hoist(data map[string]any, bodyField string) map[string]any {
	out := make(map[string]any, len(data))

	for k, v := range data {
		if k == bodyField {
			continue
		}

		out[k] = v
	}

	out[BodyKey] = ""
	if v, ok := data[bodyField]; ok {
		out[BodyKey] = v
	}

	return out
}

// Unhoist is the inverse of [Hoist]. Payloads without [BodyKey] are copied
// unchanged.
func Unhoist(payload map[string]any, bodyField string) map[string]any {
	out := make(map[string]any, len(payload))

	for k, v := range payload {
		if k == BodyKey {
			continue
		}

		out[k] = v
	}

	if v, ok := payload[BodyKey]; ok {
		out[bodyField] = v
	}

	return out
}
