package render

import (
	"fmt"
	"html/template"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"go-cube-explorer/internal/document"
)

// PrintableTimeLayout is the layout of timestamps shown on pages.
const PrintableTimeLayout = "2006-01-02 15:04:05"

// Range is a begin/end pair shown by QueryValue as "begin to end".
type Range struct {
	Begin any
	End   any
}

// PrintableTime formats t for display. The zero time prints as "".
func PrintableTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(PrintableTimeLayout)
}

// QueryValue formats a search field value: ranges as "a to b", times as
// printable times and missing values as a bullet.
func QueryValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "•"
	case Range:
		return QueryValue(t.Begin) + " to " + QueryValue(t.End)
	case *Range:
		if t == nil {
			return "•"
		}
		return QueryValue(*t)
	case time.Time:
		return PrintableTime(t)
	case *time.Time:
		if t == nil {
			return "•"
		}
		return PrintableTime(*t)
	case *document.Node:
		if t.IsNull() {
			return "•"
		}
		return t.String()
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprint(v)
}

// MonthName returns the abbreviated English month name for 1..12.
func MonthName(month int) string {
	if month < 1 || month > 12 {
		return ""
	}
	return time.Month(month).String()[:3]
}

// TimeSince describes how long before now t was, using the largest
// non-zero unit: "3 days ago", "1 hour ago". Differences under a second,
// or times in the future, give "just now".
func TimeSince(t, now time.Time) string {
	diff := now.Sub(t)
	if diff < time.Second {
		return "just now"
	}
	days := int(diff / (24 * time.Hour))
	secs := int((diff % (24 * time.Hour)) / time.Second)
	periods := []struct {
		n        int
		singular string
		plural   string
	}{
		{days / 365, "year", "years"},
		{days / 30, "month", "months"},
		{days / 7, "week", "weeks"},
		{days, "day", "days"},
		{secs / 3600, "hour", "hours"},
		{secs / 60, "minute", "minutes"},
		{secs, "second", "seconds"},
	}
	for _, p := range periods {
		if p.n == 0 {
			continue
		}
		unit := p.plural
		if p.n == 1 {
			unit = p.singular
		}
		return fmt.Sprintf("%d %s ago", p.n, unit)
	}
	return "just now"
}

// ISO8601Duration formats d as an ISO-8601 duration such as "PT6H30M23S".
// Sub-second precision is dropped.
func ISO8601Duration(d time.Duration) string {
	total := int64(d / time.Second)
	if total < 0 {
		total = -total
	}
	days := total / 86400
	h := total / 3600 % 24
	m := total / 60 % 60
	s := total % 60

	var b strings.Builder
	b.WriteByte('P')
	if days > 0 {
		fmt.Fprintf(&b, "%dD", days)
	}
	if total == 0 {
		b.WriteString("T0S")
		return b.String()
	}
	if h > 0 || m > 0 || s > 0 {
		b.WriteByte('T')
	}
	if h > 0 {
		fmt.Fprintf(&b, "%dH", h)
	}
	if m > 0 {
		fmt.Fprintf(&b, "%dM", m)
	}
	if s > 0 {
		fmt.Fprintf(&b, "%dS", s)
	}
	return b.String()
}

// SizeOf formats a byte count with IEC units.
func SizeOf(n int64) string {
	if n < 0 {
		return ""
	}
	return humanize.IBytes(uint64(n))
}

// Count formats n with thousands separators.
func Count(n int64) string {
	return humanize.Comma(n)
}

// DatasetLabel picks the display name of a dataset: its label when it has
// one, else the file or folder name of its local location, else its id.
// Generic metadata file names are replaced by their folder name.
func DatasetLabel(label, localURI, id string) string {
	if label != "" {
		return label
	}
	if localURI != "" {
		p := strings.TrimRight(strings.TrimPrefix(localURI, "file://"), "/")
		name := path.Base(p)
		if name == "ga-metadata.yaml" || name == "agdc-metadata.yaml" {
			return path.Base(path.Dir(p))
		}
		return name
	}
	return id
}

// PrintableDataset returns the escaped label, struck through when the
// dataset is archived.
func PrintableDataset(label string, archived bool) template.HTML {
	escaped := template.HTMLEscapeString(label)
	if archived {
		return template.HTML("<del>" + escaped + "</del>")
	}
	return template.HTML(escaped)
}

// Funcs is the template function map for explorer pages.
func Funcs(collapseAfter int) template.FuncMap {
	return template.FuncMap{
		"printableTime": func(v any) string {
			switch t := v.(type) {
			case time.Time:
				return PrintableTime(t)
			case *time.Time:
				if t == nil {
					return ""
				}
				return PrintableTime(*t)
			}
			return ""
		},
		"queryValue": QueryValue,
		"monthName":  MonthName,
		"timesince": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return TimeSince(t, time.Now())
		},
		"isoDuration":      ISO8601Duration,
		"sizeof":           SizeOf,
		"count":            Count,
		"printableDataset": PrintableDataset,
		"renderDoc": func(n *document.Node, descriptions map[string]string) template.HTML {
			return Render(n, NewContext(descriptions, collapseAfter))
		},
		"renderParams": func(values, fallback *document.Node, showNulls bool, descriptions map[string]string) template.HTML {
			return RenderParams(values, fallback, showNulls, NewContext(descriptions, collapseAfter))
		},
	}
}
