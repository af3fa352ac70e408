package summary

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu        sync.Mutex
	products  map[string]*ProductSummary
	overviews map[Key]*TimePeriodOverview
	extents   map[string]DatasetExtent
	puts      []Key
	calcs     int
}

func newMemStore() *memStore {
	return &memStore{
		products:  map[string]*ProductSummary{},
		overviews: map[Key]*TimePeriodOverview{},
		extents:   map[string]DatasetExtent{},
	}
}

func (m *memStore) GetProduct(_ context.Context, name string) (*ProductSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[name]
	if !ok {
		return nil, ErrUnknownProduct
	}
	return p, nil
}

func (m *memStore) ListProducts(_ context.Context) ([]*ProductSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ProductSummary, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) PutProduct(_ context.Context, p *ProductSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.Name] = p
	return nil
}

func (m *memStore) Get(_ context.Context, key Key) (*TimePeriodOverview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overviews[key], nil
}

func (m *memStore) Put(_ context.Context, key Key, o *TimePeriodOverview) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overviews[key] = o
	m.puts = append(m.puts, key)
	return nil
}

func (m *memStore) CalculateSummary(_ context.Context, product string, r TimeRange, loc *time.Location) (*TimePeriodOverview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calcs++
	var rows []DatasetExtent
	for _, e := range m.extents {
		if e.Product == product {
			rows = append(rows, e)
		}
	}
	return Summarise(rows, r, loc, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)), nil
}

func (m *memStore) AddExtents(_ context.Context, extents []DatasetExtent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range extents {
		m.extents[e.ID] = e
	}
	return nil
}

func (m *memStore) DeleteExtents(_ context.Context, product string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.extents {
		if e.Product == product {
			delete(m.extents, id)
		}
	}
	return nil
}

func (m *memStore) LatestExtentAdded(_ context.Context, product string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest time.Time
	for _, e := range m.extents {
		if e.Product == product && e.Added.After(latest) {
			latest = e.Added
		}
	}
	return latest, nil
}

func (m *memStore) ProductExtent(_ context.Context, product string) (int64, *time.Time, *time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		count            int64
		earliest, latest *time.Time
	)
	for _, e := range m.extents {
		if e.Product != product {
			continue
		}
		count++
		t := e.CenterTime
		if earliest == nil || t.Before(*earliest) {
			earliest = &t
		}
		if latest == nil || t.After(*latest) {
			latest = &t
		}
	}
	return count, earliest, latest, nil
}

type memIndex struct {
	extents map[string][]DatasetExtent
	fail    map[string]error
	// failAfter makes the next read of a product fail once after that many rows.
	failAfter map[string]int
	calls     map[string]int
	mu        sync.Mutex
}

func (x *memIndex) ProductNames(context.Context) ([]string, error) {
	var out []string
	for name := range x.extents {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (x *memIndex) ExtentsAddedSince(_ context.Context, product string, since time.Time, fn func(DatasetExtent) error) error {
	x.mu.Lock()
	if x.calls == nil {
		x.calls = map[string]int{}
	}
	x.calls[product]++
	x.mu.Unlock()
	if err := x.fail[product]; err != nil {
		return err
	}
	x.mu.Lock()
	limit, limited := x.failAfter[product]
	delete(x.failAfter, product)
	x.mu.Unlock()
	sent := 0
	for _, e := range x.extents[product] {
		if e.Added.Before(since) {
			continue
		}
		if limited && sent == limit {
			return errors.New("connection reset")
		}
		if err := fn(e); err != nil {
			return err
		}
		sent++
	}
	return nil
}

func (x *memIndex) LinkedProducts(_ context.Context, product string, kind LinkKind, _ int) ([]string, error) {
	if kind == LinkSource && product == "ls8_nbar" {
		return []string{"ls8_level1"}, nil
	}
	return nil, nil
}

func utc(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func extent(id, product string, center time.Time, region string, size int64) DatasetExtent {
	return DatasetExtent{
		ID:           id,
		Product:      product,
		CenterTime:   center,
		RegionCode:   region,
		SizeBytes:    &size,
		CRS:          "EPSG:32655",
		HasFootprint: true,
		Added:        utc(2019, 1, 1, 0),
	}
}

func TestKey_PeriodStartDayAndParse(t *testing.T) {
	require.Equal(t, PeriodAll, Key{Product: "p"}.Period())
	require.Equal(t, time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC), Key{Product: "p"}.StartDay())
	require.Equal(t, time.Date(2018, 3, 1, 0, 0, 0, 0, time.UTC), Key{Product: "p", Year: 2018, Month: 3}.StartDay())

	k, err := ParseKey("p", []string{"2018", "2", "28"})
	require.NoError(t, err)
	require.Equal(t, PeriodDay, k.Period())
	require.Equal(t, "p/2018/2", k.Parent().String())

	_, err = ParseKey("p", []string{"2018", "2", "30"})
	require.Error(t, err)
	_, err = ParseKey("p", []string{"2018", "x"})
	require.Error(t, err)
	_, err = ParseKey("p", []string{"1", "2", "3", "4"})
	require.Error(t, err)
}

func TestAsTimeRange(t *testing.T) {
	require.Equal(t, TimeRange{Begin: utc(2018, 1, 1, 0), End: utc(2019, 1, 1, 0)}, AsTimeRange(2018, 0, 0, nil))
	require.Equal(t, TimeRange{Begin: utc(2018, 12, 1, 0), End: utc(2019, 1, 1, 0)}, AsTimeRange(2018, 12, 0, time.UTC))
	require.Equal(t, TimeRange{Begin: utc(2018, 8, 3, 0), End: utc(2018, 8, 4, 0)}, AsTimeRange(2018, 8, 3, time.UTC))
	require.True(t, AsTimeRange(0, 0, 0, time.UTC).IsZero())
}

func TestSummarise_GroupsByLocalDay(t *testing.T) {
	darwin, err := time.LoadLocation("Australia/Darwin")
	require.NoError(t, err)

	// 15:00 UTC is 00:30 the next day in Darwin.
	rows := []DatasetExtent{
		extent("a", "p", utc(2018, 1, 1, 15), "90_84", 10),
		extent("b", "p", utc(2018, 1, 2, 1), "90_84", 20),
		extent("c", "p", utc(2018, 1, 5, 1), "91_84", 30),
		extent("d", "p", utc(2018, 3, 5, 1), "91_84", 30),
	}
	o := Summarise(rows, AsTimeRange(2018, 1, 0, darwin), darwin, utc(2020, 1, 1, 0))

	require.EqualValues(t, 3, o.DatasetCount)
	want := map[time.Time]int{}
	for d := 1; d <= 31; d++ {
		want[utc(2018, 1, d, 0)] = 0
	}
	want[utc(2018, 1, 2, 0)] = 2
	want[utc(2018, 1, 5, 0)] = 1
	if diff := cmp.Diff(want, o.TimelineCounts); diff != "" {
		t.Fatalf("timeline mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, map[string]int{"90_84": 2, "91_84": 1}, o.RegionCounts)
	require.EqualValues(t, 60, *o.SizeBytes)
	require.Equal(t, []string{"EPSG:32655"}, o.CRSes)
	require.EqualValues(t, 3, o.FootprintCount)
	require.Equal(t, PeriodDay, o.TimelinePeriod)
}

func TestAddPeriods_MergesAndSkipsEmpty(t *testing.T) {
	created1 := utc(2018, 2, 1, 0)
	created2 := utc(2018, 3, 1, 0)
	size := int64(5)
	a := &TimePeriodOverview{
		DatasetCount:              2,
		TimelineCounts:            map[time.Time]int{utc(2018, 1, 1, 0): 2},
		TimelinePeriod:            PeriodDay,
		RegionCounts:              map[string]int{"x": 2},
		TimeRange:                 AsTimeRange(2018, 1, 0, time.UTC),
		SizeBytes:                 &size,
		CRSes:                     []string{"EPSG:4326"},
		NewestDatasetCreationTime: &created1,
		GeneratedAt:               utc(2019, 1, 2, 0),
	}
	b := &TimePeriodOverview{
		DatasetCount:              1,
		TimelineCounts:            map[time.Time]int{utc(2018, 2, 3, 0): 1},
		TimelinePeriod:            PeriodDay,
		RegionCounts:              map[string]int{"x": 1, "y": 0},
		TimeRange:                 AsTimeRange(2018, 2, 0, time.UTC),
		CRSes:                     []string{"EPSG:3577"},
		NewestDatasetCreationTime: &created2,
		GeneratedAt:               utc(2019, 1, 1, 0),
	}
	empty := Empty()
	empty.TimeRange = AsTimeRange(2017, 1, 0, time.UTC)

	o := AddPeriods([]*TimePeriodOverview{a, nil, empty, b})
	require.EqualValues(t, 3, o.DatasetCount)
	require.Equal(t, 3, o.RegionCounts["x"])
	require.Equal(t, TimeRange{Begin: utc(2018, 1, 1, 0), End: utc(2018, 3, 1, 0)}, o.TimeRange)
	require.Equal(t, created2, *o.NewestDatasetCreationTime)
	require.Equal(t, utc(2019, 1, 1, 0), o.GeneratedAt)
	require.Equal(t, []string{"EPSG:3577", "EPSG:4326"}, o.CRSes)
	require.EqualValues(t, 5, *o.SizeBytes)

	require.EqualValues(t, 0, AddPeriods(nil).DatasetCount)
}

func TestAddPeriods_RegroupsLongTimelines(t *testing.T) {
	counts := map[time.Time]int{}
	start := utc(2017, 1, 1, 0)
	for i := 0; i < 400; i++ {
		counts[start.AddDate(0, 0, i)] = 1
	}
	o := AddPeriods([]*TimePeriodOverview{{DatasetCount: 400, TimelineCounts: counts, TimelinePeriod: PeriodDay}})
	require.Equal(t, PeriodMonth, o.TimelinePeriod)
	require.Equal(t, 31, o.TimelineCounts[utc(2017, 1, 1, 0)])
	require.Len(t, o.TimelineCounts, 14)

	total := 0
	for _, c := range o.TimelineCounts {
		total += c
	}
	require.Equal(t, 400, total)
}

func TestSummarise_UnboundedRangeHasNoEmptyDays(t *testing.T) {
	rows := []DatasetExtent{extent("a", "p", utc(2018, 1, 1, 1), "", 1)}
	o := Summarise(rows, TimeRange{}, time.UTC, utc(2020, 1, 1, 0))
	require.Equal(t, map[time.Time]int{utc(2018, 1, 1, 0): 1}, o.TimelineCounts)
}

func TestAddPeriods_SparseDecadesRegroupByMonth(t *testing.T) {
	var years []*TimePeriodOverview
	for y := 2001; y <= 2020; y++ {
		var months []*TimePeriodOverview
		for m := 1; m <= 12; m++ {
			r := AsTimeRange(y, m, 0, time.UTC)
			rows := []DatasetExtent{extent(fmt.Sprintf("%d-%d", y, m), "p", r.Begin.Add(36*time.Hour), "", 1)}
			months = append(months, Summarise(rows, r, time.UTC, utc(2020, 1, 1, 0)))
		}
		years = append(years, AddPeriods(months))
	}

	o := AddPeriods(years)
	require.EqualValues(t, 240, o.DatasetCount)
	require.Equal(t, PeriodMonth, o.TimelinePeriod)
	require.Len(t, o.TimelineCounts, 240)
	require.Equal(t, 1, o.TimelineCounts[utc(2020, 12, 1, 0)])
}

func TestAddPeriods_MixedPeriodsMergeAtCoarsest(t *testing.T) {
	leap := AddPeriods([]*TimePeriodOverview{Summarise(
		[]DatasetExtent{extent("a", "p", utc(2020, 2, 29, 1), "", 1)},
		AsTimeRange(2020, 0, 0, time.UTC), time.UTC, utc(2021, 1, 1, 0))})
	require.Equal(t, PeriodMonth, leap.TimelinePeriod)

	plain := Summarise([]DatasetExtent{extent("b", "p", utc(2019, 6, 15, 1), "", 1)},
		AsTimeRange(2019, 6, 0, time.UTC), time.UTC, utc(2021, 1, 1, 0))
	require.Equal(t, PeriodDay, plain.TimelinePeriod)

	o := AddPeriods([]*TimePeriodOverview{plain, leap})
	require.Equal(t, PeriodMonth, o.TimelinePeriod)
	require.Len(t, o.TimelineCounts, 13)
	require.Equal(t, 1, o.TimelineCounts[utc(2019, 6, 1, 0)])
	require.Equal(t, 1, o.TimelineCounts[utc(2020, 2, 1, 0)])
}

func TestAddPeriods_ShortYearKeepsDays(t *testing.T) {
	r := AsTimeRange(2018, 3, 0, time.UTC)
	month := Summarise([]DatasetExtent{extent("a", "p", utc(2018, 3, 2, 1), "", 1)}, r, time.UTC, utc(2020, 1, 1, 0))
	o := AddPeriods([]*TimePeriodOverview{month})
	require.Equal(t, PeriodDay, o.TimelinePeriod)
	require.Len(t, o.TimelineCounts, 31)
}

func newTestGenerator(idx Index, store Store) *Generator {
	return NewGenerator(idx, store, Options{
		Location: time.UTC,
		Workers:  2,
		Now:      func() time.Time { return utc(2019, 6, 1, 0) },
	})
}

func TestGenerator_GenerateProductStoresPeriods(t *testing.T) {
	store := newMemStore()
	idx := &memIndex{extents: map[string][]DatasetExtent{
		"ls8_nbar": {
			extent("a", "ls8_nbar", utc(2017, 12, 30, 1), "90_84", 1),
			extent("b", "ls8_nbar", utc(2018, 1, 2, 1), "90_84", 1),
			extent("c", "ls8_nbar", utc(2018, 1, 9, 1), "91_84", 1),
		},
	}}
	gen := newTestGenerator(idx, store)

	var updated []Key
	gen.OnUpdate(func(k Key, _ *TimePeriodOverview) { updated = append(updated, k) })

	res := gen.GenerateProduct(context.Background(), "ls8_nbar", RunOptions{})
	require.NoError(t, res.Err)
	require.EqualValues(t, 3, res.DatasetCount)
	require.Equal(t, 3, res.Added)

	p, err := store.GetProduct(context.Background(), "ls8_nbar")
	require.NoError(t, err)
	require.Equal(t, []string{"ls8_level1"}, p.SourceProducts)
	require.Equal(t, utc(2017, 12, 30, 1), *p.TimeEarliest)

	all, err := store.Get(context.Background(), Key{Product: "ls8_nbar"})
	require.NoError(t, err)
	require.NotNil(t, all)
	require.EqualValues(t, 3, all.DatasetCount)

	// Empty months outside the product range are not stored.
	inRange, _ := store.Get(context.Background(), Key{Product: "ls8_nbar", Year: 2017, Month: 12})
	require.NotNil(t, inRange)
	outside, _ := store.Get(context.Background(), Key{Product: "ls8_nbar", Year: 2017, Month: 1})
	require.Nil(t, outside)
	feb, _ := store.Get(context.Background(), Key{Product: "ls8_nbar", Year: 2018, Month: 2})
	require.Nil(t, feb)

	require.Contains(t, updated, Key{Product: "ls8_nbar"})
	require.Contains(t, updated, Key{Product: "ls8_nbar", Year: 2018})
}

func TestGenerator_AllProductsOverviewIsStored(t *testing.T) {
	store := newMemStore()
	idx := &memIndex{extents: map[string][]DatasetExtent{
		"a": {extent("a1", "a", utc(2018, 1, 1, 1), "90_84", 1)},
		"b": {extent("b1", "b", utc(2018, 2, 1, 1), "90_84", 1), extent("b2", "b", utc(2018, 2, 3, 1), "91_84", 1)},
	}}
	gen := newTestGenerator(idx, store)
	ctx := context.Background()

	completed, failures := gen.Run(ctx, []string{"a", "b"}, RunOptions{}, nil)
	require.Equal(t, 2, completed)
	require.Zero(t, failures)

	_, err := gen.Update(ctx, Key{}, false)
	require.NoError(t, err)

	all, err := store.Get(ctx, Key{})
	require.NoError(t, err)
	require.NotNil(t, all)
	require.EqualValues(t, 3, all.DatasetCount)
	require.Equal(t, map[string]int{"90_84": 2, "91_84": 1}, all.RegionCounts)
}

func TestGenerator_RefreshSkipsRecentProducts(t *testing.T) {
	store := newMemStore()
	idx := &memIndex{extents: map[string][]DatasetExtent{"p": {extent("a", "p", utc(2018, 1, 1, 1), "", 1)}}}
	gen := newTestGenerator(idx, store)
	ctx := context.Background()

	store.products["p"] = &ProductSummary{Name: "p", LastRefresh: utc(2019, 5, 31, 12)}
	added, refreshed, err := gen.RefreshProduct(ctx, "p", false, false)
	require.NoError(t, err)
	require.False(t, refreshed)
	require.Zero(t, added)

	added, refreshed, err = gen.RefreshProduct(ctx, "p", true, false)
	require.NoError(t, err)
	require.True(t, refreshed)
	require.Equal(t, 1, added)
}

func TestGenerator_RefreshResumesWithinTheSameSecond(t *testing.T) {
	store := newMemStore()
	a := extent("a", "p", utc(2018, 1, 1, 1), "", 1)
	b := extent("b", "p", utc(2018, 1, 2, 1), "", 1)
	idx := &memIndex{
		extents:   map[string][]DatasetExtent{"p": {a, b}},
		failAfter: map[string]int{"p": 1},
	}
	gen := NewGenerator(idx, store, Options{
		Location:        time.UTC,
		ExtentBatchSize: 1,
		Now:             func() time.Time { return utc(2019, 6, 1, 0) },
	})
	ctx := context.Background()

	_, _, err := gen.RefreshProduct(ctx, "p", true, false)
	require.Error(t, err)
	require.Len(t, store.extents, 1)

	added, refreshed, err := gen.RefreshProduct(ctx, "p", true, false)
	require.NoError(t, err)
	require.True(t, refreshed)
	require.Equal(t, 1, added)
	require.Len(t, store.extents, 2)

	added, _, err = gen.RefreshProduct(ctx, "p", true, false)
	require.NoError(t, err)
	require.Zero(t, added)
}

func TestGenerator_GetDaysAreCalculatedNotStored(t *testing.T) {
	store := newMemStore()
	store.extents["a"] = extent("a", "p", utc(2018, 1, 1, 1), "", 1)
	gen := newTestGenerator(nil, store)

	o, err := gen.Get(context.Background(), Key{Product: "p", Year: 2018, Month: 1, Day: 1})
	require.NoError(t, err)
	require.EqualValues(t, 1, o.DatasetCount)
	require.Empty(t, store.puts)

	_, err = gen.Update(context.Background(), Key{Product: "p", Year: 2018, Month: 1, Day: 1}, false)
	require.NoError(t, err)
	require.Empty(t, store.puts)

	_, _, err = gen.RefreshProduct(context.Background(), "p", false, false)
	require.Error(t, err)
}

func TestGenerator_RunCountsFailuresWithoutStopping(t *testing.T) {
	store := newMemStore()
	idx := &memIndex{
		extents: map[string][]DatasetExtent{
			"a": {extent("a1", "a", utc(2018, 1, 1, 1), "", 1)},
			"b": nil,
			"c": {extent("c1", "c", utc(2018, 1, 1, 1), "", 1)},
		},
		fail: map[string]error{"b": errors.New("boom")},
	}
	gen := newTestGenerator(idx, store)

	var reported []string
	completed, failures := gen.Run(context.Background(), []string{"c", "b", "a"}, RunOptions{}, func(r Result) {
		reported = append(reported, fmt.Sprintf("%s:%v", r.Product, r.Err != nil))
	})
	require.Equal(t, 2, completed)
	require.Equal(t, 1, failures)
	sort.Strings(reported)
	require.Equal(t, []string{"a:false", "b:true", "c:false"}, reported)
}
