package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrUnknownProduct is returned for products with no refreshed summary.
var ErrUnknownProduct = errors.New("summary: unknown product")

// DatasetExtent is the per-dataset row kept by the store for summarising.
type DatasetExtent struct {
	ID           string
	Product      string
	CenterTime   time.Time
	CreationTime *time.Time
	RegionCode   string
	SizeBytes    *int64
	CRS          string
	HasFootprint bool
	Added        time.Time
}

// LinkKind selects the direction of product lineage.
type LinkKind string

const (
	LinkSource  LinkKind = "source"
	LinkDerived LinkKind = "derived"
)

// Index is the read side of the data cube used during refreshes.
type Index interface {
	ProductNames(ctx context.Context) ([]string, error)
	ExtentsAddedSince(ctx context.Context, product string, since time.Time, fn func(DatasetExtent) error) error
	LinkedProducts(ctx context.Context, product string, kind LinkKind, sampleSize int) ([]string, error)
}

// Store persists product extents, dataset extents and period overviews.
type Store interface {
	GetProduct(ctx context.Context, name string) (*ProductSummary, error)
	ListProducts(ctx context.Context) ([]*ProductSummary, error)
	PutProduct(ctx context.Context, p *ProductSummary) error
	Get(ctx context.Context, key Key) (*TimePeriodOverview, error)
	Put(ctx context.Context, key Key, o *TimePeriodOverview) error
	CalculateSummary(ctx context.Context, product string, r TimeRange, loc *time.Location) (*TimePeriodOverview, error)
	AddExtents(ctx context.Context, extents []DatasetExtent) error
	DeleteExtents(ctx context.Context, product string) error
	LatestExtentAdded(ctx context.Context, product string) (time.Time, error)
	ProductExtent(ctx context.Context, product string) (count int64, earliest, latest *time.Time, err error)
}

// Options tune a Generator. Zero values take defaults.
type Options struct {
	Location         *time.Location
	RefreshOlderThan time.Duration
	ExtentBatchSize  int
	LinkedSampleSize int
	Workers          int
	Logger           *slog.Logger
	Now              func() time.Time
}

// Listener is told about every overview the generator computes.
type Listener func(key Key, o *TimePeriodOverview)

// Generator computes overviews, reading stored ones where it can.
type Generator struct {
	index Index
	store Store
	opts  Options
	log   *slog.Logger

	mu        sync.RWMutex
	listeners []Listener
}

// NewGenerator returns a generator over store. index may be nil for
// read-only use, in which case refreshes fail.
func NewGenerator(index Index, store Store, opts Options) *Generator {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.RefreshOlderThan == 0 {
		opts.RefreshOlderThan = 24 * time.Hour
	}
	if opts.ExtentBatchSize <= 0 {
		opts.ExtentBatchSize = 500
	}
	if opts.LinkedSampleSize <= 0 {
		opts.LinkedSampleSize = 1000
	}
	if opts.Workers <= 0 {
		opts.Workers = 3
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Generator{index: index, store: store, opts: opts, log: log}
}

// Location is the time zone used to group datasets into days.
func (g *Generator) Location() *time.Location { return g.opts.Location }

// OnUpdate registers l to be called after each computed overview.
func (g *Generator) OnUpdate(l Listener) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, l)
}

func (g *Generator) notify(key Key, o *TimePeriodOverview) {
	g.mu.RLock()
	ls := append([]Listener(nil), g.listeners...)
	g.mu.RUnlock()
	for _, l := range ls {
		l(key, o)
	}
}

// Get returns the stored overview for key, or nil when none is stored.
// Day overviews are never stored and are calculated on each call.
func (g *Generator) Get(ctx context.Context, key Key) (*TimePeriodOverview, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if key.Period() == PeriodDay {
		return g.store.CalculateSummary(ctx, key.Product, key.Range(g.opts.Location), g.opts.Location)
	}
	return g.store.Get(ctx, key)
}

// GetOrUpdate returns the stored overview for key, computing and storing
// it when missing.
func (g *Generator) GetOrUpdate(ctx context.Context, key Key) (*TimePeriodOverview, error) {
	o, err := g.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if o != nil {
		return o, nil
	}
	return g.Update(ctx, key, false)
}

// Update recomputes the overview for key and stores it. Months are
// calculated from dataset extents, years merge their months, a product
// merges its years and the empty product name merges every product.
// With force set, children are recomputed as well instead of read.
func (g *Generator) Update(ctx context.Context, key Key, force bool) (*TimePeriodOverview, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	child := g.GetOrUpdate
	if force {
		child = func(ctx context.Context, k Key) (*TimePeriodOverview, error) { return g.Update(ctx, k, true) }
	}

	var (
		o   *TimePeriodOverview
		err error
	)
	switch key.Period() {
	case PeriodDay:
		o, err = g.store.CalculateSummary(ctx, key.Product, key.Range(g.opts.Location), g.opts.Location)
		if err != nil {
			return nil, err
		}
		g.notify(key, o)
		return o, nil
	case PeriodMonth:
		o, err = g.store.CalculateSummary(ctx, key.Product, key.Range(g.opts.Location), g.opts.Location)
	case PeriodYear:
		o, err = g.mergeChildren(ctx, child, key, 12, func(k Key, i int) Key { k.Month = i + 1; return k })
	default:
		if key.Product == "" {
			o, err = g.mergeAllProducts(ctx, child)
			break
		}
		var p *ProductSummary
		p, err = g.store.GetProduct(ctx, key.Product)
		if err != nil {
			return nil, err
		}
		years := g.productYears(p)
		o, err = g.mergeChildren(ctx, child, key, len(years), func(k Key, i int) Key { k.Year = years[i]; return k })
	}
	if err != nil {
		return nil, err
	}

	if err := g.put(ctx, key, o); err != nil {
		return nil, err
	}
	g.notify(key, o)
	return o, nil
}

func (g *Generator) mergeChildren(ctx context.Context, child func(context.Context, Key) (*TimePeriodOverview, error), parent Key, n int, at func(Key, int) Key) (*TimePeriodOverview, error) {
	periods := make([]*TimePeriodOverview, 0, n)
	for i := 0; i < n; i++ {
		o, err := child(ctx, at(parent, i))
		if err != nil {
			return nil, err
		}
		periods = append(periods, o)
	}
	return AddPeriods(periods), nil
}

func (g *Generator) mergeAllProducts(ctx context.Context, child func(context.Context, Key) (*TimePeriodOverview, error)) (*TimePeriodOverview, error) {
	products, err := g.store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	periods := make([]*TimePeriodOverview, 0, len(products))
	for _, p := range products {
		o, err := child(ctx, Key{Product: p.Name})
		if err != nil {
			return nil, err
		}
		periods = append(periods, o)
	}
	return AddPeriods(periods), nil
}

func (g *Generator) productYears(p *ProductSummary) []int {
	if p == nil || p.DatasetCount == 0 || p.TimeEarliest == nil || p.TimeLatest == nil {
		return nil
	}
	first := p.TimeEarliest.In(g.opts.Location).Year()
	last := p.TimeLatest.In(g.opts.Location).Year()
	years := make([]int, 0, last-first+1)
	for y := first; y <= last; y++ {
		years = append(years, y)
	}
	return years
}

// put stores o unless it is an empty period outside the product's time
// range.
func (g *Generator) put(ctx context.Context, key Key, o *TimePeriodOverview) error {
	if o.DatasetCount == 0 && key.Year != 0 {
		p, err := g.store.GetProduct(ctx, key.Product)
		if err != nil && !errors.Is(err, ErrUnknownProduct) {
			return err
		}
		if p == nil || p.TimeLatest == nil || p.TimeEarliest == nil {
			return nil
		}
		loc := g.opts.Location
		month, day := key.Month, key.Day
		if month == 0 {
			month = 12
		}
		if day == 0 {
			day = 28
		}
		if time.Date(key.Year, time.Month(month), day, 0, 0, 0, 0, loc).Before(*p.TimeEarliest) {
			return nil
		}
		month, day = key.Month, key.Day
		if month == 0 {
			month = 1
		}
		if day == 0 {
			day = 1
		}
		if time.Date(key.Year, time.Month(month), day, 0, 0, 0, 0, loc).After(*p.TimeLatest) {
			return nil
		}
	}
	return g.store.Put(ctx, key, o)
}

// RefreshProduct brings the stored dataset extents of a product up to
// date with the index and recomputes its extent and lineage links. It is
// skipped, returning refreshed=false, when the last refresh is younger
// than the configured age unless force is set. recreate drops the
// existing extents first.
func (g *Generator) RefreshProduct(ctx context.Context, name string, force, recreate bool) (added int, refreshed bool, err error) {
	if g.index == nil {
		return 0, false, fmt.Errorf("refresh %s: no index configured", name)
	}
	now := g.opts.Now()
	prev, err := g.store.GetProduct(ctx, name)
	if err != nil && !errors.Is(err, ErrUnknownProduct) {
		return 0, false, err
	}
	if prev != nil && !force && !recreate && prev.LastRefreshAge(now) < g.opts.RefreshOlderThan {
		g.log.Debug("product refresh skipped", "product", name, "age", prev.LastRefreshAge(now).String())
		return 0, false, nil
	}

	var (
		since  time.Time
		before int64
	)
	if recreate {
		if err := g.store.DeleteExtents(ctx, name); err != nil {
			return 0, false, err
		}
	} else {
		since, err = g.store.LatestExtentAdded(ctx, name)
		if err != nil {
			return 0, false, err
		}
		if before, _, _, err = g.store.ProductExtent(ctx, name); err != nil {
			return 0, false, err
		}
	}

	batch := make([]DatasetExtent, 0, g.opts.ExtentBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := g.store.AddExtents(ctx, batch); err != nil {
			return err
		}
		added += len(batch)
		batch = batch[:0]
		return nil
	}
	err = g.index.ExtentsAddedSince(ctx, name, since, func(e DatasetExtent) error {
		batch = append(batch, e)
		if len(batch) >= g.opts.ExtentBatchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return added, false, fmt.Errorf("refresh %s extents: %w", name, err)
	}

	count, earliest, latest, err := g.store.ProductExtent(ctx, name)
	if err != nil {
		return added, false, err
	}
	// Rows added at since are read again; only growth counts as added.
	added = int(count - before)
	sources, err := g.index.LinkedProducts(ctx, name, LinkSource, g.opts.LinkedSampleSize)
	if err != nil {
		return added, false, err
	}
	derived, err := g.index.LinkedProducts(ctx, name, LinkDerived, g.opts.LinkedSampleSize)
	if err != nil {
		return added, false, err
	}
	g.log.Info("product refreshed", "product", name, "added", added, "datasets", count,
		"sources", len(sources), "derived", len(derived))

	err = g.store.PutProduct(ctx, &ProductSummary{
		Name:            name,
		DatasetCount:    count,
		TimeEarliest:    earliest,
		TimeLatest:      latest,
		SourceProducts:  sources,
		DerivedProducts: derived,
		LastRefresh:     now,
	})
	return added, err == nil, err
}

// RunOptions select what a generation run does per product.
type RunOptions struct {
	ForceRefresh    bool
	RecreateExtents bool
	// RefreshStats recomputes overviews even when the extent refresh was
	// skipped or added nothing.
	RefreshStats bool
}

// Result reports the outcome of generating one product.
type Result struct {
	Product      string
	DatasetCount int64
	Added        int
	Duration     time.Duration
	Err          error
}

// GenerateProduct refreshes one product and brings its overviews up to
// date.
func (g *Generator) GenerateProduct(ctx context.Context, name string, ro RunOptions) Result {
	start := g.opts.Now()
	res := Result{Product: name}
	added, refreshed, err := g.RefreshProduct(ctx, name, ro.ForceRefresh, ro.RecreateExtents)
	res.Added = added
	if err != nil {
		res.Err = err
		res.Duration = g.opts.Now().Sub(start)
		return res
	}

	key := Key{Product: name}
	var o *TimePeriodOverview
	if ro.ForceRefresh || ro.RefreshStats || (refreshed && added > 0) {
		o, err = g.Update(ctx, key, true)
	} else {
		o, err = g.GetOrUpdate(ctx, key)
	}
	res.Duration = g.opts.Now().Sub(start)
	if err != nil {
		res.Err = err
		return res
	}
	res.DatasetCount = o.DatasetCount
	return res
}

// Run generates products concurrently with at most Options.Workers in
// flight. A failing product never stops the others. report, when non-nil,
// is called once per product as it finishes, never concurrently.
func (g *Generator) Run(ctx context.Context, products []string, ro RunOptions, report func(Result)) (completed, failures int) {
	names := append([]string(nil), products...)
	sort.Strings(names)

	var (
		eg errgroup.Group
		mu sync.Mutex
	)
	eg.SetLimit(g.opts.Workers)
	for _, name := range names {
		name := name
		eg.Go(func() error {
			res := g.GenerateProduct(ctx, name, ro)
			if res.Err != nil {
				g.log.Error("product generation failed", "product", name, "err", res.Err)
			}
			mu.Lock()
			defer mu.Unlock()
			if res.Err != nil {
				failures++
			} else {
				completed++
			}
			if report != nil {
				report(res)
			}
			return nil
		})
	}
	_ = eg.Wait()
	return completed, failures
}
