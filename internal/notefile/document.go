// Package notefile implements the on-disk note format: a YAML frontmatter
// header between --- delimiters, a blank line, and a free-form Markdown body.
//
// The header is handled as a yaml.Node tree, never as text. Field mutations
// go through Parse → Set → Serialize so that untouched fields keep their
// original quoting, ordering and comments; patching serialized text with
// string or regex operations is how quoted values end up double-quoted.
package notefile

import (
	"bytes"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const delimiter = "---"

// Document is one parsed note file. The zero value is an empty note; use
// Parse for existing content and New for a fresh note.
type Document struct {
	raw    []byte     // original bytes, returned verbatim while untouched
	header *yaml.Node // mapping node, nil when the file has no header
	body   string
	dirty  bool
}

// New returns an empty document with a header ready for Set calls.
func New() *Document {
	return &Document{
		header: &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"},
		dirty:  true,
	}
}

// Parse splits raw content into header and body. A missing, unterminated or
// malformed header is not an error: the whole content becomes the body and
// the document carries no header fields. Parse never fails; the error return
// exists for future format revisions.
func Parse(data []byte) (*Document, error) {
	d := &Document{raw: data, body: string(data)}

	block, rest, ok := splitHeader(data)
	if !ok {
		return d, nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(block, &root); err != nil {
		// Malformed YAML: treat the whole file as body.
		return d, nil
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return d, nil
	}

	d.header = root.Content[0]
	d.body = strings.TrimLeft(string(rest), "\n\r")
	return d, nil
}

// splitHeader returns the YAML block between the leading delimiters and the
// remaining content after the closing delimiter line.
func splitHeader(data []byte) (block, rest []byte, ok bool) {
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delimiter)) {
		return nil, nil, false
	}
	after := trimmed[len(delimiter):]
	if len(after) > 0 && after[0] == '\r' {
		after = after[1:]
	}
	if len(after) == 0 || after[0] != '\n' {
		// "---something" is a horizontal rule or plain text, not a header.
		return nil, nil, false
	}
	after = after[1:]

	idx := bytes.Index(after, []byte("\n"+delimiter))
	if idx < 0 {
		return nil, nil, false
	}
	block = after[:idx]
	rest = after[idx+1+len(delimiter):]
	// Drop the remainder of the closing delimiter line.
	if nl := bytes.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	} else {
		rest = nil
	}
	return block, rest, true
}

// Serialize renders the document. While no field has been mutated it returns
// the original bytes unchanged, byte for byte. After a mutation the header
// node tree is re-encoded; untouched fields keep their style and order.
func (d *Document) Serialize() []byte {
	if !d.dirty {
		return d.raw
	}

	var buf bytes.Buffer
	if d.header != nil && len(d.header.Content) > 0 {
		buf.WriteString(delimiter + "\n")
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		// Encoding a mapping node cannot fail; the tree was built by the
		// yaml parser or by Set.
		_ = enc.Encode(d.header)
		_ = enc.Close()
		buf.WriteString(delimiter + "\n")
		if d.body != "" {
			buf.WriteString("\n")
		}
	}
	buf.WriteString(d.body)
	return buf.Bytes()
}

// Body returns the note body without the header block.
func (d *Document) Body() string {
	return d.body
}

// SetBody replaces the note body.
func (d *Document) SetBody(body string) {
	d.body = body
	d.dirty = true
}

// HasHeader reports whether the document carries a parseable header.
func (d *Document) HasHeader() bool {
	return d.header != nil
}

// find returns the value node for key, or nil.
func (d *Document) find(key string) *yaml.Node {
	if d.header == nil {
		return nil
	}
	c := d.header.Content
	for i := 0; i+1 < len(c); i += 2 {
		if c[i].Value == key {
			return c[i+1]
		}
	}
	return nil
}

// Get returns the raw scalar string for key, or "" when absent or not a
// scalar.
func (d *Document) Get(key string) string {
	n := d.find(key)
	if n == nil || n.Kind != yaml.ScalarNode {
		return ""
	}
	return n.Value
}

// GetStrings returns a string-array field. A single scalar value is treated
// as a one-element array.
func (d *Document) GetStrings(key string) []string {
	n := d.find(key)
	if n == nil {
		return nil
	}
	switch n.Kind {
	case yaml.ScalarNode:
		if v := strings.TrimSpace(n.Value); v != "" {
			return []string{v}
		}
		return nil
	case yaml.SequenceNode:
		var out []string
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode {
				continue
			}
			if v := strings.TrimSpace(item.Value); v != "" {
				out = append(out, v)
			}
		}
		return out
	}
	return nil
}

// Set assigns a header field, creating the header when the document has
// none. Existing keys are updated in place so field order is stable.
func (d *Document) Set(key string, value any) {
	if d.header == nil {
		d.header = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	}

	val := &yaml.Node{}
	// Encode cannot fail for strings, numbers, bools and string slices,
	// which is all callers pass.
	_ = val.Encode(value)

	c := d.header.Content
	for i := 0; i+1 < len(c); i += 2 {
		if c[i].Value == key {
			c[i+1] = val
			d.dirty = true
			return
		}
	}
	keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
	d.header.Content = append(d.header.Content, keyNode, val)
	d.dirty = true
}

// SetTime stores a timestamp field in RFC 3339 form.
func (d *Document) SetTime(key string, t time.Time) {
	d.Set(key, t.UTC().Format(time.RFC3339))
}

// Fields decodes the header into a plain map for API responses. Returns nil
// when there is no header.
func (d *Document) Fields() map[string]any {
	if d.header == nil {
		return nil
	}
	var m map[string]any
	if err := d.header.Decode(&m); err != nil {
		return nil
	}
	return m
}

// ID returns the identity header field.
func (d *Document) ID() string {
	return d.Get("id")
}

// SetID stamps the identity field. Only the identity manager calls this, and
// only when the field is absent or being regenerated after a collision.
func (d *Document) SetID(id string) {
	d.Set("id", id)
}

// Title returns the title header field.
func (d *Document) Title() string {
	return d.Get("title")
}

// Tags returns the tags header field.
func (d *Document) Tags() []string {
	return d.GetStrings("tags")
}

// Created returns the created header timestamp, zero when absent or
// unparseable.
func (d *Document) Created() time.Time {
	return parseTime(d.Get("created"))
}

// Updated returns the updated header timestamp, zero when absent or
// unparseable.
func (d *Document) Updated() time.Time {
	return parseTime(d.Get("updated"))
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// FirstHeading returns the text of the first Markdown H1 in body, used as a
// title fallback for notes without a title field.
func FirstHeading(body string) string {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
