package render

import (
	"html/template"
	"strconv"
	"strings"

	"go-cube-explorer/internal/document"
)

// ElementKind mirrors document.Kind for visual tree nodes.
type ElementKind int

const (
	NullElement ElementKind = iota
	TextElement
	MapElement
	ListElement
	OtherElement
)

// Element is one node of the visual tree built from a document. Mapping
// values carry the key they are stored under; sequence items do not.
type Element struct {
	Kind        ElementKind
	Key         string
	Class       string
	Description string
	Text        string
	Collapsed   bool
	Count       int
	Children    []*Element
}

// Build converts a document into a visual tree. The input is never
// modified.
func Build(n *document.Node, ctx Context) *Element {
	if n == nil {
		return &Element{Kind: NullElement}
	}
	switch n.Kind {
	case document.Null:
		return &Element{Kind: NullElement}
	case document.Scalar:
		return &Element{Kind: TextElement, Text: n.String()}
	case document.Mapping:
		el := &Element{Kind: MapElement, Count: len(n.Entries), Children: make([]*Element, 0, len(n.Entries))}
		for _, e := range n.Entries {
			cctx := ctx.Child(e.Key)
			child := Build(e.Value, cctx)
			child.Key = e.Key
			child.Class = cctx.KeyClass()
			child.Description = cctx.Description()
			el.Children = append(el.Children, child)
		}
		return el
	case document.Sequence:
		el := &Element{
			Kind:      ListElement,
			Count:     len(n.Items),
			Collapsed: len(n.Items) > ctx.CollapseAfter(),
			Children:  make([]*Element, 0, len(n.Items)),
		}
		for _, it := range n.Items {
			el.Children = append(el.Children, Build(it, ctx))
		}
		return el
	}
	return &Element{Kind: OtherElement, Text: n.String()}
}

// Render builds and serialises a document in one step.
func Render(n *document.Node, ctx Context) template.HTML {
	return Build(n, ctx).HTML()
}

// HTML serialises the visual tree.
func (e *Element) HTML() template.HTML {
	var b strings.Builder
	e.write(&b)
	return template.HTML(b.String())
}

func (e *Element) write(b *strings.Builder) {
	switch e.Kind {
	case NullElement:
		b.WriteString(`<span class="doc-value null"></span>`)
	case TextElement:
		b.WriteString(`<span class="doc-value">`)
		b.WriteString(template.HTMLEscapeString(e.Text))
		b.WriteString(`</span>`)
	case OtherElement:
		b.WriteString(`<span class="doc-value doc-other">`)
		b.WriteString(template.HTMLEscapeString(e.Text))
		b.WriteString(`</span>`)
	case MapElement:
		b.WriteString(`<div class="doc-map">`)
		for _, c := range e.Children {
			b.WriteString(`<div class="doc-entry`)
			if c.Class != "" {
				b.WriteByte(' ')
				b.WriteString(template.HTMLEscapeString(c.Class))
			}
			b.WriteString(`"><span class="doc-key"`)
			if c.Description != "" {
				b.WriteString(` title="`)
				b.WriteString(template.HTMLEscapeString(c.Description))
				b.WriteByte('"')
			}
			b.WriteByte('>')
			b.WriteString(template.HTMLEscapeString(c.Key))
			b.WriteString(`:</span> `)
			c.write(b)
			b.WriteString(`</div>`)
		}
		b.WriteString(`</div>`)
	case ListElement:
		if e.Collapsed {
			b.WriteString(`<details class="doc-collapsed"><summary>`)
			b.WriteString(strconv.Itoa(e.Count))
			b.WriteString(` items</summary>`)
		}
		b.WriteString(`<ul class="doc-list">`)
		for _, c := range e.Children {
			b.WriteString(`<li>`)
			c.write(b)
			b.WriteString(`</li>`)
		}
		b.WriteString(`</ul>`)
		if e.Collapsed {
			b.WriteString(`</details>`)
		}
	}
}
