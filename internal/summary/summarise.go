package summary

import "time"

// Summarise aggregates the extents whose center time falls in r into an
// overview bucketed by day in loc. When r is bounded every day in it gets a
// bucket, zero when no dataset falls on it, so merged timelines regroup by
// the span they cover.
func Summarise(extents []DatasetExtent, r TimeRange, loc *time.Location, now time.Time) *TimePeriodOverview {
	if loc == nil {
		loc = time.UTC
	}
	o := Empty()
	o.TimelinePeriod = PeriodDay
	o.TimeRange = r
	o.GeneratedAt = now.UTC()
	if !r.Begin.IsZero() && !r.End.IsZero() {
		for d := r.Begin.In(loc); d.Before(r.End); d = d.AddDate(0, 0, 1) {
			o.TimelineCounts[DayBucket(d, loc)] = 0
		}
	}

	crses := map[string]struct{}{}
	for _, e := range extents {
		if !r.Contains(e.CenterTime) {
			continue
		}
		o.DatasetCount++
		o.TimelineCounts[DayBucket(e.CenterTime, loc)]++
		if e.RegionCode != "" {
			o.RegionCounts[e.RegionCode]++
		}
		if e.HasFootprint {
			o.FootprintCount++
		}
		if e.SizeBytes != nil {
			total := *e.SizeBytes
			if o.SizeBytes != nil {
				total += *o.SizeBytes
			}
			o.SizeBytes = &total
		}
		if e.CRS != "" {
			crses[e.CRS] = struct{}{}
		}
		if e.CreationTime != nil && (o.NewestDatasetCreationTime == nil || e.CreationTime.After(*o.NewestDatasetCreationTime)) {
			t := *e.CreationTime
			o.NewestDatasetCreationTime = &t
		}
	}
	o.CRSes = sortedKeys(crses)
	o.TimelineCounts, o.TimelinePeriod = regroup(o.TimelineCounts, o.TimelinePeriod)
	return o
}

// DayBucket is the local calendar day of t in loc, as UTC midnight.
func DayBucket(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, time.UTC)
}
