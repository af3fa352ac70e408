package summarystore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"go-cube-explorer/internal/summary"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "summaries.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ptrTime(t time.Time) *time.Time { return &t }

func ptrInt(v int64) *int64 { return &v }

func sampleExtents() []summary.DatasetExtent {
	added := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	return []summary.DatasetExtent{
		{
			ID: "a", Product: "ls7", CenterTime: time.Date(2018, 2, 3, 1, 0, 0, 0, time.UTC),
			CreationTime: ptrTime(time.Date(2018, 3, 1, 0, 0, 0, 0, time.UTC)),
			RegionCode:   "90_84", SizeBytes: ptrInt(100), CRS: "EPSG:32755", HasFootprint: true,
			Added: added,
		},
		{
			ID: "b", Product: "ls7", CenterTime: time.Date(2018, 2, 20, 12, 0, 0, 0, time.UTC),
			RegionCode: "90_84", SizeBytes: ptrInt(50), CRS: "EPSG:32755", HasFootprint: true,
			Added: added.Add(time.Hour),
		},
		{
			ID: "c", Product: "ls7", CenterTime: time.Date(2019, 7, 1, 0, 0, 0, 0, time.UTC),
			Added: added.Add(2 * time.Hour),
		},
		{
			ID: "d", Product: "ls8", CenterTime: time.Date(2018, 2, 4, 0, 0, 0, 0, time.UTC),
			RegionCode: "91_84", Added: added,
		},
	}
}

func TestProductRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetProduct(ctx, "ls7")
	require.True(t, errors.Is(err, ErrUnknownProduct))
	require.True(t, errors.Is(err, summary.ErrUnknownProduct))

	refreshed := time.Date(2020, 5, 6, 7, 8, 9, 0, time.UTC)
	in := &summary.ProductSummary{
		Name:           "ls7",
		DatasetCount:   3,
		TimeEarliest:   ptrTime(time.Date(2018, 2, 3, 1, 0, 0, 0, time.UTC)),
		TimeLatest:     ptrTime(time.Date(2019, 7, 1, 0, 0, 0, 0, time.UTC)),
		SourceProducts: []string{"ls7_level1"},
		LastRefresh:    refreshed,
	}
	require.NoError(t, s.PutProduct(ctx, in))

	in.DatasetCount = 4
	require.NoError(t, s.PutProduct(ctx, in))

	got, err := s.GetProduct(ctx, "ls7")
	require.NoError(t, err)
	require.NotZero(t, got.ID)
	got.ID = 0
	want := *in
	want.DerivedProducts = []string{}
	if diff := cmp.Diff(&want, got); diff != "" {
		t.Fatalf("product mismatch (-want +got):\n%s", diff)
	}

	all, err := s.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestExtents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	latest, err := s.LatestExtentAdded(ctx, "ls7")
	require.NoError(t, err)
	require.True(t, latest.IsZero())

	require.NoError(t, s.AddExtents(ctx, sampleExtents()))
	// Re-adding replaces rows instead of duplicating them.
	require.NoError(t, s.AddExtents(ctx, sampleExtents()[:1]))

	count, first, last, err := s.ProductExtent(ctx, "ls7")
	require.NoError(t, err)
	require.EqualValues(t, 3, count)
	require.Equal(t, time.Date(2018, 2, 3, 1, 0, 0, 0, time.UTC), *first)
	require.Equal(t, time.Date(2019, 7, 1, 0, 0, 0, 0, time.UTC), *last)

	latest, err = s.LatestExtentAdded(ctx, "ls7")
	require.NoError(t, err)
	require.Equal(t, time.Date(2020, 1, 1, 2, 0, 0, 0, time.UTC), latest)

	feb := summary.AsTimeRange(2018, 2, 0, time.UTC)
	found, more, err := s.Search(ctx, "ls7", feb, 1)
	require.NoError(t, err)
	require.True(t, more)
	require.Len(t, found, 1)
	require.Equal(t, "a", found[0].ID)
	require.EqualValues(t, 100, *found[0].SizeBytes)
	require.True(t, found[0].HasFootprint)

	region, total, err := s.RegionDatasets(ctx, "ls7", "90_84", 10)
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Equal(t, []string{"b", "a"}, []string{region[0].ID, region[1].ID})

	require.NoError(t, s.DeleteExtents(ctx, "ls7"))
	count, first, _, err = s.ProductExtent(ctx, "ls7")
	require.NoError(t, err)
	require.Zero(t, count)
	require.Nil(t, first)
}

func TestCalculateSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddExtents(ctx, sampleExtents()))

	o, err := s.CalculateSummary(ctx, "ls7", summary.AsTimeRange(2018, 2, 0, time.UTC), time.UTC)
	require.NoError(t, err)
	require.EqualValues(t, 2, o.DatasetCount)
	require.EqualValues(t, 2, o.FootprintCount)
	require.EqualValues(t, 150, *o.SizeBytes)
	require.Equal(t, map[string]int{"90_84": 2}, o.RegionCounts)
	require.Equal(t, []string{"EPSG:32755"}, o.CRSes)
	require.Len(t, o.TimelineCounts, 28)

	all, err := s.CalculateSummary(ctx, "", summary.AsTimeRange(2018, 2, 0, time.UTC), time.UTC)
	require.NoError(t, err)
	require.EqualValues(t, 3, all.DatasetCount)
}

func TestOverviewRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := summary.Key{Product: "ls7", Year: 2018, Month: 2}

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.Nil(t, got)

	in := &summary.TimePeriodOverview{
		DatasetCount: 2,
		TimelineCounts: map[time.Time]int{
			time.Date(2018, 2, 3, 0, 0, 0, 0, time.UTC):  1,
			time.Date(2018, 2, 20, 0, 0, 0, 0, time.UTC): 1,
		},
		TimelinePeriod:            summary.PeriodDay,
		RegionCounts:              map[string]int{"90_84": 2},
		TimeRange:                 summary.AsTimeRange(2018, 2, 0, time.UTC),
		FootprintCount:            2,
		SizeBytes:                 ptrInt(150),
		CRSes:                     []string{"EPSG:32755"},
		NewestDatasetCreationTime: ptrTime(time.Date(2018, 3, 1, 0, 0, 0, 0, time.UTC)),
		GeneratedAt:               time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.Put(ctx, key, in))

	got, err = s.Get(ctx, key)
	require.NoError(t, err)
	if diff := cmp.Diff(in, got); diff != "" {
		t.Fatalf("overview mismatch (-want +got):\n%s", diff)
	}

	other, err := s.Get(ctx, summary.Key{Product: "ls7", Year: 2018})
	require.NoError(t, err)
	require.Nil(t, other)

	require.NoError(t, s.Put(ctx, summary.Key{Product: "ls7"}, in))
	times, err := s.GenerationTimes(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]time.Time{"ls7": in.GeneratedAt}, times)
}

func TestQualityAndServiceStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddExtents(ctx, sampleExtents()))

	stats, err := s.QualityStats(ctx)
	require.NoError(t, err)
	want := []QualityStat{
		{Product: "ls7", Datasets: 3, MissingRegion: 1, MissingSize: 1, MissingCreation: 2, MissingFootprint: 1},
		{Product: "ls8", Datasets: 1, MissingSize: 1, MissingCreation: 1, MissingFootprint: 1},
	}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Fatalf("quality mismatch (-want +got):\n%s", diff)
	}
	require.True(t, stats[0].HasProblems())

	svc, err := s.ServiceStats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 4, svc.DatasetExtents)
	require.Nil(t, svc.OldestRefresh)
}

type fakeIndex struct {
	extents []summary.DatasetExtent
}

func (f *fakeIndex) ProductNames(context.Context) ([]string, error) { return []string{"ls7"}, nil }

func (f *fakeIndex) ExtentsAddedSince(_ context.Context, product string, since time.Time, fn func(summary.DatasetExtent) error) error {
	for _, e := range f.extents {
		if e.Product == product && !e.Added.Before(since) {
			if err := fn(e); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *fakeIndex) LinkedProducts(context.Context, string, summary.LinkKind, int) ([]string, error) {
	return nil, nil
}

func TestGeneratorAgainstSQLite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	g := summary.NewGenerator(&fakeIndex{extents: sampleExtents()}, s, summary.Options{
		Location: time.UTC,
		Now:      func() time.Time { return now },
	})

	res := g.GenerateProduct(ctx, "ls7", summary.RunOptions{})
	require.NoError(t, res.Err)
	require.Equal(t, 3, res.Added)
	require.EqualValues(t, 3, res.DatasetCount)

	year, err := s.Get(ctx, summary.Key{Product: "ls7", Year: 2019})
	require.NoError(t, err)
	require.NotNil(t, year)
	require.EqualValues(t, 1, year.DatasetCount)

	// Months before the product's first dataset are not stored.
	jan, err := s.Get(ctx, summary.Key{Product: "ls7", Year: 2018, Month: 1})
	require.NoError(t, err)
	require.Nil(t, jan)

	// A second run within the refresh age adds nothing.
	res = g.GenerateProduct(ctx, "ls7", summary.RunOptions{})
	require.NoError(t, res.Err)
	require.Zero(t, res.Added)
}

func TestRefreshPicksUpDatasetsAddedInTheLatestSecond(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	idx := &fakeIndex{extents: sampleExtents()}
	g := summary.NewGenerator(idx, s, summary.Options{
		Location: time.UTC,
		Now:      func() time.Time { return time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC) },
	})

	added, _, err := g.RefreshProduct(ctx, "ls7", true, false)
	require.NoError(t, err)
	require.Equal(t, 3, added)

	latest, err := s.LatestExtentAdded(ctx, "ls7")
	require.NoError(t, err)
	idx.extents = append(idx.extents, summary.DatasetExtent{
		ID: "e", Product: "ls7", CenterTime: time.Date(2019, 8, 1, 0, 0, 0, 0, time.UTC), Added: latest,
	})

	added, _, err = g.RefreshProduct(ctx, "ls7", true, false)
	require.NoError(t, err)
	require.Equal(t, 1, added)
	count, _, _, err := s.ProductExtent(ctx, "ls7")
	require.NoError(t, err)
	require.EqualValues(t, 4, count)
}

func TestDropAndInit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddExtents(ctx, sampleExtents()))
	require.NoError(t, s.Drop(ctx))
	require.NoError(t, s.Init(ctx))

	count, _, _, err := s.ProductExtent(ctx, "ls7")
	require.NoError(t, err)
	require.Zero(t, count)
}
