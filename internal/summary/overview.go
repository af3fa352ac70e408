package summary

import (
	"sort"
	"time"
)

// MaxTimelineBuckets is the most buckets a merged timeline keeps before
// regrouping into the next coarser period.
const MaxTimelineBuckets = 365

// TimePeriodOverview aggregates the datasets of one product over one
// period.
type TimePeriodOverview struct {
	DatasetCount int64
	// TimelineCounts maps bucket start days (UTC midnight) to dataset counts.
	TimelineCounts map[time.Time]int
	TimelinePeriod PeriodType
	RegionCounts   map[string]int
	TimeRange      TimeRange
	FootprintCount int64
	SizeBytes      *int64
	CRSes          []string

	NewestDatasetCreationTime *time.Time
	GeneratedAt               time.Time
}

// Empty returns an overview with no datasets.
func Empty() *TimePeriodOverview {
	return &TimePeriodOverview{
		TimelineCounts: map[time.Time]int{},
		RegionCounts:   map[string]int{},
	}
}

// AddPeriods merges child periods into one overview. Nil and empty
// periods are ignored. Children are merged at the coarsest timeline period
// among them. When the merged timeline has more than
// MaxTimelineBuckets buckets, day buckets are regrouped into months and
// month buckets into years.
func AddPeriods(periods []*TimePeriodOverview) *TimePeriodOverview {
	nonEmpty := make([]*TimePeriodOverview, 0, len(periods))
	for _, p := range periods {
		if p != nil && p.DatasetCount > 0 {
			nonEmpty = append(nonEmpty, p)
		}
	}
	if len(nonEmpty) == 0 {
		return Empty()
	}

	out := Empty()
	for _, p := range nonEmpty {
		if periodRank[p.TimelinePeriod] > periodRank[out.TimelinePeriod] {
			out.TimelinePeriod = p.TimelinePeriod
		}
	}
	crses := map[string]struct{}{}
	for i, p := range nonEmpty {
		out.DatasetCount += p.DatasetCount
		out.FootprintCount += p.FootprintCount
		for t, c := range p.TimelineCounts {
			out.TimelineCounts[bucketStart(t, out.TimelinePeriod)] += c
		}
		for r, c := range p.RegionCounts {
			out.RegionCounts[r] += c
		}
		if p.SizeBytes != nil {
			total := *p.SizeBytes
			if out.SizeBytes != nil {
				total += *out.SizeBytes
			}
			out.SizeBytes = &total
		}
		for _, c := range p.CRSes {
			crses[c] = struct{}{}
		}

		if i == 0 || earlierBegin(p.TimeRange.Begin, out.TimeRange.Begin) {
			out.TimeRange.Begin = p.TimeRange.Begin
		}
		if i == 0 || laterEnd(p.TimeRange.End, out.TimeRange.End) {
			out.TimeRange.End = p.TimeRange.End
		}
		if p.NewestDatasetCreationTime != nil &&
			(out.NewestDatasetCreationTime == nil || p.NewestDatasetCreationTime.After(*out.NewestDatasetCreationTime)) {
			t := *p.NewestDatasetCreationTime
			out.NewestDatasetCreationTime = &t
		}
		if !p.GeneratedAt.IsZero() && (out.GeneratedAt.IsZero() || p.GeneratedAt.Before(out.GeneratedAt)) {
			out.GeneratedAt = p.GeneratedAt
		}
	}
	out.CRSes = sortedKeys(crses)
	out.TimelineCounts, out.TimelinePeriod = regroup(out.TimelineCounts, out.TimelinePeriod)
	return out
}

// earlierBegin treats a zero begin as unbounded, so it always wins.
func earlierBegin(candidate, current time.Time) bool {
	if current.IsZero() {
		return false
	}
	return candidate.IsZero() || candidate.Before(current)
}

// laterEnd treats a zero end as unbounded, so it always wins.
func laterEnd(candidate, current time.Time) bool {
	if current.IsZero() {
		return false
	}
	return candidate.IsZero() || candidate.After(current)
}

// periodRank orders timeline periods from finest to coarsest.
var periodRank = map[PeriodType]int{PeriodDay: 1, PeriodMonth: 2, PeriodYear: 3}

// bucketStart is the start of the period-sized bucket holding t.
func bucketStart(t time.Time, period PeriodType) time.Time {
	switch period {
	case PeriodMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case PeriodYear:
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

func regroup(counts map[time.Time]int, period PeriodType) (map[time.Time]int, PeriodType) {
	if len(counts) <= MaxTimelineBuckets {
		return counts, period
	}
	var next PeriodType
	switch period {
	case PeriodDay:
		next = PeriodMonth
	case PeriodMonth:
		next = PeriodYear
	default:
		return counts, period
	}
	out := make(map[time.Time]int, len(counts)/28+1)
	for t, c := range counts {
		out[bucketStart(t, next)] += c
	}
	return out, next
}

// SortedRegions returns region codes ordered by code.
func (o *TimePeriodOverview) SortedRegions() []string {
	if o == nil {
		return nil
	}
	set := make(map[string]struct{}, len(o.RegionCounts))
	for r := range o.RegionCounts {
		set[r] = struct{}{}
	}
	return sortedKeys(set)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ProductSummary is the extent of one product as last refreshed from the
// index.
type ProductSummary struct {
	ID              int64
	Name            string
	DatasetCount    int64
	TimeEarliest    *time.Time
	TimeLatest      *time.Time
	SourceProducts  []string
	DerivedProducts []string
	LastRefresh     time.Time
}

// LastRefreshAge is how long ago the product was refreshed.
func (p *ProductSummary) LastRefreshAge(now time.Time) time.Duration {
	if p == nil || p.LastRefresh.IsZero() {
		return 0
	}
	return now.Sub(p.LastRefresh)
}
