// Package schema holds the read-only content schema consumed by the database:
// collections, templates, fields and declared indexes.
//
// The schema is persisted as a JSON artifact (see [Raw]) and compiled once per
// process with [Compile]. Compilation validates the parts the database relies
// on for correctness:
//   - collection names are unique and non-empty
//   - collection path prefixes do not overlap (segment-aware: "posts" and
//     "posts-drafts" are disjoint, "posts" and "posts/drafts" overlap)
//   - a collection declares either fields or templates, never both
//   - a template declares at most one body field
//
// Field-level validation of document contents is not performed here.
package schema

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
)

// ErrInvalid is returned by [Compile] for schemas the database cannot serve.
var ErrInvalid = errors.New("invalid schema")

// ErrAmbiguousTemplate indicates a document in a union collection did not name
// one of the collection's templates.
var ErrAmbiguousTemplate = errors.New("ambiguous template")

// TemplateKey is the payload key naming the template of a document in a union
// collection.
const TemplateKey = "_template"

// Format is the on-disk serialization format of a collection's documents.
type Format string

// Supported formats.
const (
	FormatMarkdown Format = "md"
	FormatMDX      Format = "mdx"
	FormatJSON     Format = "json"
)

// IsMarkdown reports whether documents carry front-matter plus a body.
func (f Format) IsMarkdown() bool {
	return f == FormatMarkdown || f == FormatMDX || f == "markdown"
}

// Extension returns the file extension (with dot) for the format.
func (f Format) Extension() string {
	if f == "markdown" {
		return ".md"
	}

	return "." + string(f)
}

// FieldType names the declared type of a field.
type FieldType string

// Field types understood by the index compiler. Unknown types are carried
// through and treated as strings.
const (
	TypeString    FieldType = "string"
	TypeNumber    FieldType = "number"
	TypeBoolean   FieldType = "boolean"
	TypeDatetime  FieldType = "datetime"
	TypeImage     FieldType = "image"
	TypeReference FieldType = "reference"
	TypeRichText  FieldType = "rich-text"
	TypeObject    FieldType = "object"
)

// ValueKind returns the kind of value a field of this type holds.
func (t FieldType) ValueKind() ValueKind {
	switch t {
	case TypeNumber:
		return KindNumber
	case TypeBoolean:
		return KindBoolean
	case TypeReference:
		return KindReference
	case TypeObject, TypeRichText:
		return KindObject
	case TypeString, TypeDatetime, TypeImage:
		return KindString
	default:
		return KindString
	}
}

// Field describes one field of a template.
type Field struct {
	Name    string    `json:"name"`
	Type    FieldType `json:"type"`
	Label   string    `json:"label,omitempty"`
	IsBody  bool      `json:"isBody,omitempty"`
	List    bool      `json:"list,omitempty"`
	Indexed *bool     `json:"indexed,omitempty"`
	Fields  []Field   `json:"fields,omitempty"`
}

// IsIndexed reports whether the field gets an implicit single-field index.
// Object fields never do; other fields unless explicitly marked indexed=false.
func (f *Field) IsIndexed() bool {
	if f.Type == TypeObject {
		return false
	}

	return f.Indexed == nil || *f.Indexed
}

// IsBodyCandidate reports whether the field is the document body.
func (f *Field) IsBodyCandidate() bool {
	return f.IsBody && (f.Type == TypeString || f.Type == TypeRichText)
}

// Template is the field schema for one document variant.
type Template struct {
	Name   string  `json:"name"`
	Label  string  `json:"label,omitempty"`
	Fields []Field `json:"fields"`
}

// BodyField returns the field hoisted into the document body, if any.
func (t *Template) BodyField() (*Field, bool) {
	for i := range t.Fields {
		if t.Fields[i].IsBodyCandidate() {
			return &t.Fields[i], true
		}
	}

	return nil, false
}

// Field looks up a field by name.
func (t *Template) Field(name string) (*Field, bool) {
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return &t.Fields[i], true
		}
	}

	return nil, false
}

// IndexFieldRef references a field from a declared compound index.
type IndexFieldRef struct {
	Name string `json:"name"`
}

// IndexDecl is a user-declared compound index.
type IndexDecl struct {
	Name   string          `json:"name"`
	Fields []IndexFieldRef `json:"fields"`
}

// Collection groups documents sharing a path prefix, a format and a template
// (or a set of templates for union collections).
type Collection struct {
	Name      string      `json:"name"`
	Label     string      `json:"label,omitempty"`
	Path      string      `json:"path"`
	Format    Format      `json:"format,omitempty"`
	Fields    []Field     `json:"fields,omitempty"`
	Templates []Template  `json:"templates,omitempty"`
	Indexes   []IndexDecl `json:"indexes,omitempty"`
}

// IsUnion reports whether documents choose one of several templates through
// the [TemplateKey] discriminator.
func (c *Collection) IsUnion() bool {
	return len(c.Templates) > 0
}

// Owns reports whether the document at docPath belongs to the collection.
// Matching is segment-aware: "posts" owns "posts/a.md" but not "posts-old/a.md".
func (c *Collection) Owns(docPath string) bool {
	if c.Path == "" {
		return true
	}

	return docPath == c.Path || strings.HasPrefix(docPath, c.Path+"/")
}

// RelativePath returns docPath relative to the collection root.
func (c *Collection) RelativePath(docPath string) string {
	rel := strings.TrimPrefix(docPath, c.Path)

	return strings.Trim(rel, "/")
}

// Template resolves the template used by a document. For union collections
// name must match one of the declared templates; for single-template
// collections name is ignored and the collection's own fields are returned
// under the collection name.
func (c *Collection) Template(name string) (*Template, error) {
	if !c.IsUnion() {
		return &Template{Name: c.Name, Label: c.Label, Fields: c.Fields}, nil
	}

	if name == "" {
		return nil, fmt.Errorf("collection %q: %s is required: %w", c.Name, TemplateKey, ErrAmbiguousTemplate)
	}

	for i := range c.Templates {
		if c.Templates[i].Name == name {
			return &c.Templates[i], nil
		}
	}

	return nil, fmt.Errorf("collection %q: unknown template %q: %w", c.Name, name, ErrAmbiguousTemplate)
}

// FieldType resolves the type of a field referenced by name. For union
// collections the first template declaring the field wins.
func (c *Collection) FieldType(name string) (FieldType, bool) {
	for i := range c.Fields {
		if c.Fields[i].Name == name {
			return c.Fields[i].Type, true
		}
	}

	for i := range c.Templates {
		if f, ok := c.Templates[i].Field(name); ok {
			return f.Type, true
		}
	}

	return "", false
}

// Raw is the persisted content schema artifact.
type Raw struct {
	Collections []Collection `json:"collections"`
}

// Schema is a compiled, immutable schema. Safe for concurrent use.
type Schema struct {
	raw         Raw
	collections []*Collection
	byName      map[string]*Collection
}

// Compile validates raw and returns a compiled schema. The input is copied;
// later changes to raw are not observed.
func Compile(raw Raw) (*Schema, error) {
	s := &Schema{
		raw:         raw,
		collections: make([]*Collection, 0, len(raw.Collections)),
		byName:      make(map[string]*Collection, len(raw.Collections)),
	}

	for i := range raw.Collections {
		c := raw.Collections[i]
		c.Path = normalizePath(c.Path)

		err := validateCollection(&c)
		if err != nil {
			return nil, err
		}

		if _, dup := s.byName[c.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate collection %q", ErrInvalid, c.Name)
		}

		for _, other := range s.collections {
			if other.Owns(c.Path) || c.Owns(other.Path) {
				return nil, fmt.Errorf("%w: collection %q path %q overlaps collection %q path %q",
					ErrInvalid, c.Name, c.Path, other.Name, other.Path)
			}
		}

		s.collections = append(s.collections, &c)
		s.byName[c.Name] = &c
	}

	return s, nil
}

func validateCollection(c *Collection) error {
	if c.Name == "" {
		return fmt.Errorf("%w: collection name is empty (path %q)", ErrInvalid, c.Path)
	}

	if len(c.Fields) > 0 && len(c.Templates) > 0 {
		return fmt.Errorf("%w: collection %q declares both fields and templates", ErrInvalid, c.Name)
	}

	switch c.Format {
	case "":
		c.Format = FormatMarkdown
	case FormatMarkdown, FormatMDX, FormatJSON, "markdown":
	default:
		return fmt.Errorf("%w: collection %q: unsupported format %q", ErrInvalid, c.Name, c.Format)
	}

	templates := c.Templates
	if !c.IsUnion() {
		templates = []Template{{Name: c.Name, Fields: c.Fields}}
	}

	seen := make(map[string]struct{}, len(templates))

	for i := range templates {
		t := &templates[i]
		if t.Name == "" {
			return fmt.Errorf("%w: collection %q: template name is empty", ErrInvalid, c.Name)
		}

		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("%w: collection %q: duplicate template %q", ErrInvalid, c.Name, t.Name)
		}

		seen[t.Name] = struct{}{}

		bodies := 0

		for j := range t.Fields {
			if t.Fields[j].Name == "" {
				return fmt.Errorf("%w: collection %q template %q: field name is empty", ErrInvalid, c.Name, t.Name)
			}

			if t.Fields[j].IsBodyCandidate() {
				bodies++
			}
		}

		if bodies > 1 {
			return fmt.Errorf("%w: collection %q template %q: %d body fields, at most one allowed",
				ErrInvalid, c.Name, t.Name, bodies)
		}
	}

	for _, idx := range c.Indexes {
		if idx.Name == "" || len(idx.Fields) == 0 {
			return fmt.Errorf("%w: collection %q: index needs a name and at least one field", ErrInvalid, c.Name)
		}
	}

	return nil
}

// Raw returns the schema as it was compiled.
func (s *Schema) Raw() Raw {
	return s.raw
}

// Collections returns the collections in declaration order.
func (s *Schema) Collections() []*Collection {
	return slices.Clone(s.collections)
}

// Collection looks up a collection by name.
func (s *Schema) Collection(name string) (*Collection, bool) {
	c, ok := s.byName[name]

	return c, ok
}

// CollectionForPath returns the collection owning docPath.
func (s *Schema) CollectionForPath(docPath string) (*Collection, bool) {
	for _, c := range s.collections {
		if c.Owns(docPath) {
			return c, true
		}
	}

	return nil, false
}

// normalizePath cleans a collection path into slash-separated form without
// leading or trailing slashes. The root collection path is "".
func normalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.Trim(path.Clean("/"+p), "/")

	return p
}
