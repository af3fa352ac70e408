// Package render turns document trees into HTML fragments for the
// explorer pages, and provides the display filters used by its templates.
package render

import (
	"strings"
	"unicode"
)

// DefaultCollapseAfter is the sequence length above which a sequence is
// shown collapsed.
const DefaultCollapseAfter = 20

// Context carries the position of a value inside its document and the
// lookups used while rendering it. Contexts are values; Child returns a
// new one and never modifies the receiver.
type Context struct {
	path          []string
	descriptions  map[string]string
	collapseAfter int
}

// NewContext returns a root context. descriptions maps dotted key paths
// such as "properties.eo:platform" to human readable titles. A
// collapseAfter of zero or less uses DefaultCollapseAfter.
func NewContext(descriptions map[string]string, collapseAfter int) Context {
	if collapseAfter <= 0 {
		collapseAfter = DefaultCollapseAfter
	}
	return Context{descriptions: descriptions, collapseAfter: collapseAfter}
}

// Child returns the context of the value stored under key.
func (c Context) Child(key string) Context {
	path := make([]string, len(c.path), len(c.path)+1)
	copy(path, c.path)
	c.path = append(path, key)
	return c
}

// Path is the sequence of mapping keys leading to the current value.
func (c Context) Path() []string {
	out := make([]string, len(c.path))
	copy(out, c.path)
	return out
}

// Description returns the title registered for the current key path.
func (c Context) Description() string {
	if len(c.descriptions) == 0 || len(c.path) == 0 {
		return ""
	}
	return c.descriptions[strings.Join(c.path, ".")]
}

// CollapseAfter is the longest sequence shown expanded.
func (c Context) CollapseAfter() int {
	if c.collapseAfter <= 0 {
		return DefaultCollapseAfter
	}
	return c.collapseAfter
}

// KeyClass is the CSS class of the current key path: "key-" followed by
// the path segments joined with "-". Characters outside letters, digits,
// "_" and "-" become "_".
func (c Context) KeyClass() string {
	if len(c.path) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("key")
	for _, seg := range c.path {
		b.WriteByte('-')
		for _, r := range seg {
			if r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r) {
				b.WriteRune(r)
			} else {
				b.WriteByte('_')
			}
		}
	}
	return b.String()
}
