package http

import (
	"bytes"
	"encoding/csv"
	"fmt"
	nethttp "net/http"
	"strconv"
	"strings"
	"time"

	"go-cube-explorer/internal/document"
	"go-cube-explorer/internal/summary"
)

const (
	datasetDocSuffix = ".odc-metadata.yaml"
	productDocSuffix = ".odc-product.yaml"
	typeDocSuffix    = ".odc-type.yaml"
)

func orderedDoc(n *document.Node) *document.Node {
	return document.Ordered(n)
}

// writeYAML sends doc as ordered YAML headed by a comment naming the
// document type and where it was fetched from.
func (e *explorer) writeYAML(w nethttp.ResponseWriter, r *nethttp.Request, doc *document.Node, docType string) {
	header := fmt.Sprintf("%s\nurl: %s", docType, e.absoluteURL(r, r.URL.Path))
	out, err := document.ToYAML(orderedDoc(doc), header)
	if err != nil {
		e.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	w.WriteHeader(nethttp.StatusOK)
	_, _ = w.Write(out)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// aboutCSVHandler serves "/about.csv": one row per product.
func (e *explorer) aboutCSVHandler(w nethttp.ResponseWriter, r *nethttp.Request) {
	products, err := e.productList(r.Context())
	if err != nil {
		e.fail(w, r, err)
		return
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	_ = cw.Write([]string{"name", "dataset_count", "time_earliest", "time_latest", "last_refresh", "indexed", "description"})
	for _, p := range products {
		row := []string{p.Name, strconv.FormatInt(p.DatasetCount(), 10), "", "", "", strconv.FormatBool(p.Indexed), p.Description}
		if s := p.Summary; s != nil {
			row[2] = formatOptionalTime(s.TimeEarliest)
			row[3] = formatOptionalTime(s.TimeLatest)
			if !s.LastRefresh.IsZero() {
				row[4] = s.LastRefresh.UTC().Format(time.RFC3339)
			}
		}
		_ = cw.Write(row)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		e.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="products.csv"`)
	w.WriteHeader(nethttp.StatusOK)
	_, _ = buf.WriteTo(w)
}

// productsTextHandler serves "/products.txt": product names, one per line.
func (e *explorer) productsTextHandler(w nethttp.ResponseWriter, r *nethttp.Request) {
	products, err := e.productList(r.Context())
	if err != nil {
		e.fail(w, r, err)
		return
	}
	var b strings.Builder
	for _, p := range products {
		b.WriteString(p.Name)
		b.WriteByte('\n')
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(nethttp.StatusOK)
	_, _ = w.Write([]byte(b.String()))
}

type productJSON struct {
	Name            string     `json:"name"`
	Description     string     `json:"description,omitempty"`
	Indexed         bool       `json:"indexed"`
	Summarised      bool       `json:"summarised"`
	DatasetCount    int64      `json:"dataset_count"`
	TimeEarliest    *time.Time `json:"time_earliest,omitempty"`
	TimeLatest      *time.Time `json:"time_latest,omitempty"`
	SourceProducts  []string   `json:"source_products,omitempty"`
	DerivedProducts []string   `json:"derived_products,omitempty"`
	LastRefresh     *time.Time `json:"last_refresh,omitempty"`
}

// productsAPIHandler serves "/api/products".
func (e *explorer) productsAPIHandler(w nethttp.ResponseWriter, r *nethttp.Request) {
	products, err := e.productList(r.Context())
	if err != nil {
		e.fail(w, r, err)
		return
	}
	out := make([]productJSON, 0, len(products))
	for _, p := range products {
		item := productJSON{Name: p.Name, Description: p.Description, Indexed: p.Indexed}
		if s := p.Summary; s != nil {
			item.Summarised = true
			item.DatasetCount = s.DatasetCount
			item.TimeEarliest = s.TimeEarliest
			item.TimeLatest = s.TimeLatest
			item.SourceProducts = s.SourceProducts
			item.DerivedProducts = s.DerivedProducts
			if !s.LastRefresh.IsZero() {
				t := s.LastRefresh
				item.LastRefresh = &t
			}
		}
		out = append(out, item)
	}
	writeJSON(w, nethttp.StatusOK, map[string]any{
		"meta": map[string]any{"count": len(out)},
		"data": out,
	})
}

type overviewJSON struct {
	Product                   string            `json:"product"`
	Period                    string            `json:"period"`
	DatasetCount              int64             `json:"dataset_count"`
	TimelinePeriod            string            `json:"timeline_period,omitempty"`
	Timeline                  map[string]int    `json:"timeline"`
	RegionCounts              map[string]int    `json:"region_counts"`
	TimeBegin                 *time.Time        `json:"time_begin,omitempty"`
	TimeEnd                   *time.Time        `json:"time_end,omitempty"`
	FootprintCount            int64             `json:"footprint_count"`
	SizeBytes                 *int64            `json:"size_bytes,omitempty"`
	CRSes                     []string          `json:"crses"`
	NewestDatasetCreationTime *time.Time        `json:"newest_dataset_creation_time,omitempty"`
	GeneratedAt               *time.Time        `json:"generated_at,omitempty"`
	Links                     map[string]string `json:"links"`
}

func newOverviewJSON(key summary.Key, o *summary.TimePeriodOverview) overviewJSON {
	out := overviewJSON{
		Product:                   key.Product,
		Period:                    string(key.Period()),
		DatasetCount:              o.DatasetCount,
		TimelinePeriod:            string(o.TimelinePeriod),
		Timeline:                  make(map[string]int, len(o.TimelineCounts)),
		RegionCounts:              o.RegionCounts,
		FootprintCount:            o.FootprintCount,
		SizeBytes:                 o.SizeBytes,
		CRSes:                     o.CRSes,
		NewestDatasetCreationTime: o.NewestDatasetCreationTime,
		Links: map[string]string{
			"overview": "/" + key.Product + periodPath(key),
			"datasets": "/datasets/" + key.Product + periodPath(key),
		},
	}
	if key.Product == "" {
		out.Links = map[string]string{"overview": "/about"}
	}
	for t, c := range o.TimelineCounts {
		out.Timeline[t.Format("2006-01-02")] = c
	}
	if out.RegionCounts == nil {
		out.RegionCounts = map[string]int{}
	}
	if out.CRSes == nil {
		out.CRSes = []string{}
	}
	if !o.TimeRange.Begin.IsZero() {
		t := o.TimeRange.Begin
		out.TimeBegin = &t
	}
	if !o.TimeRange.End.IsZero() {
		t := o.TimeRange.End
		out.TimeEnd = &t
	}
	if !o.GeneratedAt.IsZero() {
		t := o.GeneratedAt
		out.GeneratedAt = &t
	}
	return out
}

// summaryAPIHandler serves "/api/summary/{product}[/{year}[/{month}[/{day}]]]",
// and the all-products overview at "/api/summary".
func (e *explorer) summaryAPIHandler(w nethttp.ResponseWriter, r *nethttp.Request) {
	parts := splitPath(strings.TrimPrefix(r.URL.Path, "/api/summary"))
	ctx := r.Context()
	var key summary.Key
	if len(parts) > 0 {
		if _, err := e.findProduct(ctx, parts[0]); err != nil {
			e.fail(w, r, err)
			return
		}
		var err error
		if key, err = parseKey(parts[0], parts[1:]); err != nil {
			e.fail(w, r, err)
			return
		}
	}
	o, err := e.overview(ctx, key)
	if err != nil {
		e.fail(w, r, err)
		return
	}
	if o == nil {
		e.fail(w, r, fmt.Errorf("%w: no summary generated for %s", errNotFound, key))
		return
	}
	writeJSON(w, nethttp.StatusOK, newOverviewJSON(key, o))
}
