package http

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	nethttp "net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"go-cube-explorer/internal/cache"
	"go-cube-explorer/internal/config"
	"go-cube-explorer/internal/connectors/index"
	"go-cube-explorer/internal/connectors/summarystore"
	"go-cube-explorer/internal/logs"
	"go-cube-explorer/internal/summary"
)

var (
	errNotFound       = errors.New("not found")
	errBadRequest     = errors.New("bad request")
	errIndexDisabled  = errors.New("index database integration disabled (set APP_INDEX_DB_ENABLED=true)")
	errSummaryMissing = errors.New("summary store disabled (set APP_SUMMARY_SQLITE_PATH)")
)

// indexReader is the part of the index store the pages read.
type indexReader interface {
	ListMetadataTypes(ctx context.Context) ([]*index.MetadataType, error)
	GetMetadataType(ctx context.Context, name string) (*index.MetadataType, error)
	ListProducts(ctx context.Context) ([]*index.Product, error)
	GetProduct(ctx context.Context, name string) (*index.Product, error)
	GetDataset(ctx context.Context, id uuid.UUID) (*index.Dataset, error)
	SourceDatasets(ctx context.Context, id uuid.UUID, limit int) ([]index.Linked, int, error)
	DerivedDatasets(ctx context.Context, id uuid.UUID, limit int) ([]index.Linked, int, error)
	SearchDatasets(ctx context.Context, p *index.Product, queries []index.Query, limit int) ([]*index.Dataset, bool, error)
	ServiceStats(ctx context.Context) (*index.ServiceStats, error)
}

// summaryReader is the summary store as seen by the pages.
type summaryReader interface {
	summary.Store
	Search(ctx context.Context, product string, r summary.TimeRange, limit int) ([]summary.DatasetExtent, bool, error)
	RegionDatasets(ctx context.Context, product, region string, limit int) ([]summary.DatasetExtent, int64, error)
	QualityStats(ctx context.Context) ([]summarystore.QualityStat, error)
	GenerationTimes(ctx context.Context) (map[string]time.Time, error)
	ServiceStats(ctx context.Context) (*summarystore.ServiceStats, error)
}

// productEntry is one product as known to either store.
type productEntry struct {
	Name        string                  `json:"name"`
	Description string                  `json:"description,omitempty"`
	Indexed     bool                    `json:"indexed"`
	Summary     *summary.ProductSummary `json:"-"`
}

func (p productEntry) DatasetCount() int64 {
	if p.Summary == nil {
		return 0
	}
	return p.Summary.DatasetCount
}

type explorer struct {
	cfg       config.Config
	index     indexReader
	summaries summaryReader
	gen       *summary.Generator
	overviews *cache.TTL[*summary.TimePeriodOverview]
	products  *cache.TTL[[]productEntry]
	pages     map[string]*template.Template
	log       *slog.Logger
	now       func() time.Time
}

func newExplorer(cfg config.Config, logger *slog.Logger) *explorer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SearchHardLimit <= 0 {
		cfg.SearchHardLimit = 500
	}
	if cfg.ProvenanceDisplayLimit <= 0 {
		cfg.ProvenanceDisplayLimit = 25
	}
	return &explorer{
		cfg:       cfg,
		overviews: cache.New[*summary.TimePeriodOverview](cfg.SummaryCacheTTL),
		products:  cache.New[[]productEntry](cfg.ProductListCacheTTL),
		pages:     parsePages(pageFuncs(cfg.SequenceCollapseAfter)),
		log:       logger,
		now:       time.Now,
	}
}

// useSummaries wires a summary store and a generator over it. idx may be
// nil, in which case the generator only reads.
func (e *explorer) useSummaries(store summaryReader, idx summary.Index) {
	e.summaries = store
	e.gen = summary.NewGenerator(idx, store, summary.Options{
		Location:         e.cfg.Location(),
		RefreshOlderThan: e.cfg.GenRefreshOlderThan,
		ExtentBatchSize:  e.cfg.GenExtentBatchSize,
		LinkedSampleSize: e.cfg.LinkedProductSampleSize,
		Workers:          e.cfg.GenWorkers,
		Logger:           e.log,
	})
	e.gen.OnUpdate(func(key summary.Key, o *summary.TimePeriodOverview) {
		recordSummaryUpdate(string(key.Period()), o.DatasetCount)
		e.overviews.Delete(key.String())
	})
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// wantsJSON reports whether the client prefers JSON over HTML.
func wantsJSON(r *nethttp.Request) bool {
	if strings.EqualFold(r.URL.Query().Get("format"), "json") {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errNotFound), errors.Is(err, index.ErrNotFound), errors.Is(err, summary.ErrUnknownProduct):
		return nethttp.StatusNotFound
	case errors.Is(err, errBadRequest):
		return nethttp.StatusBadRequest
	case errors.Is(err, errIndexDisabled), errors.Is(err, errSummaryMissing):
		return nethttp.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nethttp.ErrHandlerTimeout):
		return nethttp.StatusGatewayTimeout
	}
	return nethttp.StatusInternalServerError
}

// fail answers a request with the status mapped from err: JSON for API
// routes and JSON clients, an error page otherwise.
func (e *explorer) fail(w nethttp.ResponseWriter, r *nethttp.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == nethttp.StatusInternalServerError {
		logs.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		msg = "internal error"
	}
	if strings.HasPrefix(r.URL.Path, "/api/") || wantsJSON(r) {
		writeJSON(w, code, map[string]any{"error": msg})
		return
	}
	e.render(w, r, code, "error", nethttp.StatusText(code), map[string]any{
		"Status":  code,
		"Message": msg,
	})
}

func (e *explorer) requireIndex() error {
	if e.index == nil {
		return errIndexDisabled
	}
	return nil
}

func (e *explorer) requireSummaries() error {
	if e.summaries == nil || e.gen == nil {
		return errSummaryMissing
	}
	return nil
}

// productList merges the products of both stores, by name.
func (e *explorer) productList(ctx context.Context) ([]productEntry, error) {
	if v, ok := e.products.Get("all"); ok {
		recordCacheLookup("products", true)
		return v, nil
	}
	recordCacheLookup("products", false)
	return e.products.GetOrLoad(ctx, "all", e.loadProducts)
}

func (e *explorer) loadProducts(ctx context.Context) ([]productEntry, error) {
	byName := map[string]*productEntry{}
	if e.summaries != nil {
		start := time.Now()
		summaries, err := e.summaries.ListProducts(ctx)
		recordDBQuery("summary", "ListProducts", time.Since(start).Seconds(), err)
		if err != nil {
			return nil, err
		}
		for _, s := range summaries {
			byName[s.Name] = &productEntry{Name: s.Name, Summary: s}
		}
	}
	if e.index != nil {
		start := time.Now()
		indexed, err := e.index.ListProducts(ctx)
		recordDBQuery("index", "ListProducts", time.Since(start).Seconds(), err)
		if err != nil {
			return nil, err
		}
		for _, p := range indexed {
			entry, ok := byName[p.Name]
			if !ok {
				entry = &productEntry{Name: p.Name}
				byName[p.Name] = entry
			}
			entry.Indexed = true
			entry.Description = p.Description
		}
	}
	out := make([]productEntry, 0, len(byName))
	for _, p := range byName {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (e *explorer) findProduct(ctx context.Context, name string) (productEntry, error) {
	products, err := e.productList(ctx)
	if err != nil {
		return productEntry{}, err
	}
	for _, p := range products {
		if p.Name == name {
			return p, nil
		}
	}
	return productEntry{}, fmt.Errorf("%w: unknown product %q", errNotFound, name)
}

// overview returns the overview for key, nil when none is generated yet.
func (e *explorer) overview(ctx context.Context, key summary.Key) (*summary.TimePeriodOverview, error) {
	if err := e.requireSummaries(); err != nil {
		return nil, err
	}
	if v, ok := e.overviews.Get(key.String()); ok {
		recordCacheLookup("overview", true)
		return v, nil
	}
	recordCacheLookup("overview", false)
	return e.overviews.GetOrLoad(ctx, key.String(), func(ctx context.Context) (*summary.TimePeriodOverview, error) {
		start := time.Now()
		o, err := e.gen.Get(ctx, key)
		recordDBQuery("summary", "GetOverview", time.Since(start).Seconds(), err)
		return o, err
	})
}

// parseKey reads optional year, month and day segments for product.
func parseKey(product string, segments []string) (summary.Key, error) {
	key, err := summary.ParseKey(product, segments)
	if err != nil {
		return summary.Key{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return key, nil
}

func parseLimit(r *nethttp.Request, def, max int) int {
	limit := def
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		limit = max
	}
	return limit
}

// periodPath is the URL suffix of a key's year, month and day.
func periodPath(key summary.Key) string {
	var b strings.Builder
	for _, v := range []int{key.Year, key.Month, key.Day} {
		if v == 0 {
			break
		}
		fmt.Fprintf(&b, "/%d", v)
	}
	return b.String()
}

// bucketKey is the key of the period a timeline bucket starts.
func bucketKey(product string, t time.Time, period summary.PeriodType) summary.Key {
	key := summary.Key{Product: product, Year: t.Year()}
	switch period {
	case summary.PeriodDay:
		key.Month, key.Day = int(t.Month()), t.Day()
	case summary.PeriodMonth:
		key.Month = int(t.Month())
	}
	return key
}

func (e *explorer) absoluteURL(r *nethttp.Request, path string) string {
	if e.cfg.PublicBaseURL != "" {
		return e.cfg.PublicBaseURL + path
	}
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host + path
}
