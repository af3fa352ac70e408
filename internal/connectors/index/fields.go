package index

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"go-cube-explorer/internal/document"
)

// Field is a search field declared by a metadata type: a named offset into
// dataset documents, or a pair of offset lists for range fields.
type Field struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Type        string     `json:"type"`
	Offset      []string   `json:"offset,omitempty"`
	MinOffset   [][]string `json:"min_offset,omitempty"`
	MaxOffset   [][]string `json:"max_offset,omitempty"`
}

// IsRange reports whether the field has begin and end values.
func (f Field) IsRange() bool { return strings.HasSuffix(f.Type, "-range") }

// IsTime reports whether field values are timestamps.
func (f Field) IsTime() bool { return strings.HasPrefix(f.Type, "datetime") }

// IsNumeric reports whether field values are numbers.
func (f Field) IsNumeric() bool {
	base := strings.TrimSuffix(f.Type, "-range")
	return base == "integer" || base == "numeric" || base == "double" || base == "float"
}

// DocPath is the dotted document path of the field, used to look up its
// description while rendering. Range fields use their first min offset.
func (f Field) DocPath() string {
	if len(f.Offset) > 0 {
		return strings.Join(f.Offset, ".")
	}
	if len(f.MinOffset) > 0 {
		return strings.Join(f.MinOffset[0], ".")
	}
	return ""
}

// parseFields reads dataset.search_fields of a metadata type definition.
func parseFields(definition []byte) map[string]Field {
	out := map[string]Field{}
	gjson.GetBytes(definition, "dataset.search_fields").ForEach(func(key, value gjson.Result) bool {
		f := Field{
			Name:        key.String(),
			Description: value.Get("description").String(),
			Type:        value.Get("type").String(),
			Offset:      stringList(value.Get("offset")),
		}
		if f.Type == "" {
			f.Type = "string"
		}
		for _, o := range value.Get("min_offset").Array() {
			f.MinOffset = append(f.MinOffset, stringList(o))
		}
		for _, o := range value.Get("max_offset").Array() {
			f.MaxOffset = append(f.MaxOffset, stringList(o))
		}
		out[f.Name] = f
		return true
	})
	return out
}

// parseOffsets reads the fixed dataset offsets (id, label, creation_dt,
// sources, grid_spatial and friends) of a metadata type definition.
func parseOffsets(definition []byte) map[string][]string {
	out := map[string][]string{}
	gjson.GetBytes(definition, "dataset").ForEach(func(key, value gjson.Result) bool {
		if key.String() == "search_fields" || !value.IsArray() {
			return true
		}
		out[key.String()] = stringList(value)
		return true
	})
	return out
}

func stringList(r gjson.Result) []string {
	if !r.IsArray() {
		return nil
	}
	items := r.Array()
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.String())
	}
	return out
}

// gjsonPath escapes an offset into a gjson path.
func gjsonPath(offset []string) string {
	parts := make([]string, 0, len(offset))
	for _, seg := range offset {
		var b strings.Builder
		for _, r := range seg {
			switch r {
			case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%', ':':
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, ".")
}

func lookup(doc []byte, offset []string) gjson.Result {
	if len(offset) == 0 {
		return gjson.Result{}
	}
	return gjson.GetBytes(doc, gjsonPath(offset))
}

func firstOf(doc []byte, offsets [][]string) gjson.Result {
	for _, o := range offsets {
		if r := lookup(doc, o); r.Exists() && r.Type != gjson.Null {
			return r
		}
	}
	return gjson.Result{}
}

// Bounds returns the raw begin and end of a range field, or the single
// value twice for other fields. Missing values do not Exist.
func (f Field) Bounds(doc []byte) (begin, end gjson.Result) {
	if f.IsRange() {
		return firstOf(doc, f.MinOffset), firstOf(doc, f.MaxOffset)
	}
	r := lookup(doc, f.Offset)
	return r, r
}

// Present reports whether the document holds the field's offset at all,
// null values included.
func (f Field) Present(doc []byte) bool {
	if f.IsRange() {
		for _, o := range append(append([][]string{}, f.MinOffset...), f.MaxOffset...) {
			if lookup(doc, o).Exists() {
				return true
			}
		}
		return false
	}
	return lookup(doc, f.Offset).Exists()
}

// Value is the display value of the field in doc. Range fields become
// "begin to end" text with a bullet for a missing side.
func (f Field) Value(doc []byte) *document.Node {
	if !f.IsRange() {
		return resultNode(lookup(doc, f.Offset))
	}
	begin, end := f.Bounds(doc)
	if !begin.Exists() && !end.Exists() {
		return document.NewNull()
	}
	return document.NewString(rangeText(begin) + " to " + rangeText(end))
}

func rangeText(r gjson.Result) string {
	if !r.Exists() || r.Type == gjson.Null {
		return "•"
	}
	if t, ok := parseTime(r.String()); ok {
		return t.Format("2006-01-02 15:04:05")
	}
	return r.String()
}

func resultNode(r gjson.Result) *document.Node {
	if !r.Exists() {
		return document.NewNull()
	}
	switch r.Type {
	case gjson.Null:
		return document.NewNull()
	case gjson.False:
		return document.NewBool(false)
	case gjson.True:
		return document.NewBool(true)
	case gjson.Number:
		return document.NewNumber(r.Raw)
	case gjson.String:
		return document.NewString(r.String())
	}
	n, err := document.ParseJSON([]byte(r.Raw))
	if err != nil {
		return document.NewString(r.Raw)
	}
	return n
}

// FieldValues evaluates every field against doc, in field name order.
// With presentOnly set, fields whose offsets are absent from doc are
// skipped.
func FieldValues(fields map[string]Field, doc []byte, presentOnly bool) *document.Node {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	out := document.NewMapping()
	for _, name := range names {
		f := fields[name]
		if presentOnly && !f.Present(doc) {
			continue
		}
		out.Entries = append(out.Entries, document.Entry{Key: name, Value: f.Value(doc)})
	}
	return out
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02",
}

// parseTime reads the timestamp forms found in dataset documents. Times
// without a zone are UTC.
func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Query filters datasets on one search field. Equals applies to plain
// fields; Begin and End bound range and scalar fields, either may be
// empty.
type Query struct {
	Field  Field
	Equals string
	Begin  string
	End    string
}

// Match reports whether doc satisfies q. Range fields match when their
// range overlaps [Begin, End].
func (q Query) Match(doc []byte) bool {
	lo, hi := q.Field.Bounds(doc)
	if q.Equals != "" {
		if !lo.Exists() {
			return false
		}
		if q.Field.IsRange() {
			return compare(q.Field, lo.String(), q.Equals) <= 0 && compare(q.Field, q.Equals, hi.String()) <= 0
		}
		return compare(q.Field, lo.String(), q.Equals) == 0
	}
	if q.Begin == "" && q.End == "" {
		return true
	}
	if !lo.Exists() && !hi.Exists() {
		return false
	}
	if q.Begin != "" && hi.Exists() && compare(q.Field, hi.String(), q.Begin) < 0 {
		return false
	}
	if q.End != "" && lo.Exists() && compare(q.Field, lo.String(), q.End) > 0 {
		return false
	}
	return true
}

func compare(f Field, a, b string) int {
	if f.IsNumeric() {
		x, errA := strconv.ParseFloat(a, 64)
		y, errB := strconv.ParseFloat(b, 64)
		if errA == nil && errB == nil {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	if f.IsTime() {
		x, okA := parseTime(a)
		y, okB := parseTime(b)
		if okA && okB {
			return x.Compare(y)
		}
	}
	return strings.Compare(a, b)
}

// Extent pulls the values the summary store keeps for a dataset out of its
// document, using the offsets of its metadata type.
type Extent struct {
	CenterTime   time.Time
	CreationTime *time.Time
	RegionCode   string
	SizeBytes    *int64
	CRS          string
	HasFootprint bool
}

// ExtractExtent derives the summary extent of a dataset document. The
// center time is the midpoint of the "time" field range. It fails when the
// document has no usable time.
func (mt *MetadataType) ExtractExtent(doc []byte) (Extent, error) {
	var out Extent
	tf, ok := mt.Fields["time"]
	if !ok {
		return out, fmt.Errorf("metadata type %s has no time field", mt.Name)
	}
	lo, hi := tf.Bounds(doc)
	begin, okBegin := parseTime(lo.String())
	end, okEnd := parseTime(hi.String())
	switch {
	case okBegin && okEnd:
		out.CenterTime = begin.Add(end.Sub(begin) / 2)
	case okBegin:
		out.CenterTime = begin
	case okEnd:
		out.CenterTime = end
	default:
		return out, fmt.Errorf("dataset has no time value")
	}

	if r := lookup(doc, mt.Offsets["creation_dt"]); r.Exists() {
		if t, ok := parseTime(r.String()); ok {
			out.CreationTime = &t
		}
	}

	if f, ok := mt.Fields["region_code"]; ok {
		if r := lookup(doc, f.Offset); r.Exists() && r.Type != gjson.Null {
			out.RegionCode = r.String()
		}
	}
	if out.RegionCode == "" {
		path, okPath := mt.Fields["sat_path"]
		row, okRow := mt.Fields["sat_row"]
		if okPath && okRow {
			p, _ := path.Bounds(doc)
			r, _ := row.Bounds(doc)
			if p.Exists() && r.Exists() {
				out.RegionCode = fmt.Sprintf("%d_%d", p.Int(), r.Int())
			}
		}
	}

	sizeOffset := []string{"size_bytes"}
	if f, ok := mt.Fields["size_bytes"]; ok && len(f.Offset) > 0 {
		sizeOffset = f.Offset
	}
	if r := lookup(doc, sizeOffset); r.Exists() && r.Type == gjson.Number {
		v := r.Int()
		out.SizeBytes = &v
	}

	grid := mt.Offsets["grid_spatial"]
	if r := gjson.GetBytes(doc, "crs"); r.Exists() && r.Type == gjson.String {
		out.CRS = r.String()
	} else if len(grid) > 0 {
		if r := lookup(doc, append(append([]string{}, grid...), "spatial_reference")); r.Exists() && r.Type == gjson.String {
			out.CRS = r.String()
		}
	}

	out.HasFootprint = gjson.GetBytes(doc, "geometry").IsObject()
	if !out.HasFootprint && len(grid) > 0 {
		out.HasFootprint = lookup(doc, append(append([]string{}, grid...), "valid_data")).Exists() ||
			lookup(doc, append(append([]string{}, grid...), "geo_ref_points")).Exists()
	}
	return out, nil
}
