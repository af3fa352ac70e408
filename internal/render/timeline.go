package render

import (
	"sort"
	"time"
)

// Bar is one column of a timeline histogram.
type Bar struct {
	Start         time.Time
	Label         string
	Count         int
	HeightPercent float64
	Link          string
}

// Timeline turns bucketed dataset counts into histogram bars ordered by
// time. Buckets missing between the first and last are added with a zero
// count when period is "day", "month" or "year". link may be nil.
func Timeline(counts map[time.Time]int, period string, link func(time.Time) string) []Bar {
	if len(counts) == 0 {
		return nil
	}
	starts := make([]time.Time, 0, len(counts))
	for t := range counts {
		starts = append(starts, t)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	if step := periodStep(period); step != nil {
		filled := make([]time.Time, 0, len(starts))
		last := starts[len(starts)-1]
		for t := starts[0]; !t.After(last); t = step(t) {
			filled = append(filled, t)
		}
		starts = filled
	}

	peak := 0
	for _, t := range starts {
		if c := counts[t]; c > peak {
			peak = c
		}
	}

	bars := make([]Bar, 0, len(starts))
	for _, t := range starts {
		c := counts[t]
		bar := Bar{Start: t, Label: periodLabel(t, period), Count: c}
		if peak > 0 {
			bar.HeightPercent = float64(c) * 100 / float64(peak)
		}
		if link != nil {
			bar.Link = link(t)
		}
		bars = append(bars, bar)
	}
	return bars
}

func periodStep(period string) func(time.Time) time.Time {
	switch period {
	case "day":
		return func(t time.Time) time.Time { return t.AddDate(0, 0, 1) }
	case "month":
		return func(t time.Time) time.Time { return t.AddDate(0, 1, 0) }
	case "year":
		return func(t time.Time) time.Time { return t.AddDate(1, 0, 0) }
	}
	return nil
}

func periodLabel(t time.Time, period string) string {
	switch period {
	case "year":
		return t.Format("2006")
	case "month":
		return t.Format("Jan 2006")
	}
	return t.Format("2 Jan 2006")
}
