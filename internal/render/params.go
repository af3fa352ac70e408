package render

import (
	"html/template"
	"strings"

	"go-cube-explorer/internal/document"
)

// ParamState says how a param row value was obtained.
type ParamState int

const (
	ParamPresent ParamState = iota
	ParamNull
	ParamInferred
	ParamAlwaysEmpty
)

func (s ParamState) String() string {
	switch s {
	case ParamPresent:
		return "present"
	case ParamNull:
		return "null"
	case ParamInferred:
		return "inferred"
	case ParamAlwaysEmpty:
		return "always-empty"
	}
	return "unknown"
}

// ParamRow is one displayed key of a param list.
type ParamRow struct {
	Key   string
	Value *document.Node
	State ParamState
}

// Params selects the rows of a param list from a mapping of values.
//
// A key is listed when showNulls is set, when its value is non-null, or
// when the fallback mapping has an entry for it. A null value takes a
// non-null fallback value and is marked inferred; a null fallback marks it
// always empty.
func Params(values, fallback *document.Node, showNulls bool) []ParamRow {
	if values == nil || values.Kind != document.Mapping {
		return nil
	}
	rows := make([]ParamRow, 0, len(values.Entries))
	for _, e := range values.Entries {
		fb, inFallback := fallback.Get(e.Key)
		if !e.Value.IsNull() {
			rows = append(rows, ParamRow{Key: e.Key, Value: e.Value, State: ParamPresent})
			continue
		}
		switch {
		case inFallback && !fb.IsNull():
			rows = append(rows, ParamRow{Key: e.Key, Value: fb, State: ParamInferred})
		case inFallback:
			rows = append(rows, ParamRow{Key: e.Key, Value: document.NewNull(), State: ParamAlwaysEmpty})
		case showNulls:
			rows = append(rows, ParamRow{Key: e.Key, Value: document.NewNull(), State: ParamNull})
		}
	}
	return rows
}

// RenderParams renders the rows chosen by Params as a definition list.
// Values are rendered with Build under the row key.
func RenderParams(values, fallback *document.Node, showNulls bool, ctx Context) template.HTML {
	var b strings.Builder
	b.WriteString(`<dl class="param-list">`)
	for _, row := range Params(values, fallback, showNulls) {
		cctx := ctx.Child(row.Key)
		b.WriteString(`<dt class="`)
		b.WriteString(template.HTMLEscapeString(cctx.KeyClass()))
		b.WriteByte('"')
		if d := cctx.Description(); d != "" {
			b.WriteString(` title="`)
			b.WriteString(template.HTMLEscapeString(d))
			b.WriteByte('"')
		}
		b.WriteByte('>')
		b.WriteString(template.HTMLEscapeString(row.Key))
		b.WriteString(`</dt><dd class="param-`)
		b.WriteString(row.State.String())
		b.WriteByte('"')
		switch row.State {
		case ParamInferred:
			b.WriteString(` title="inferred from product"`)
		case ParamAlwaysEmpty:
			b.WriteString(` title="always empty for this product"`)
		}
		b.WriteByte('>')
		b.WriteString(string(Build(row.Value, cctx).HTML()))
		b.WriteString(`</dd>`)
	}
	b.WriteString(`</dl>`)
	return template.HTML(b.String())
}
