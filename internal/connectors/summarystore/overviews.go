package summarystore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	json "github.com/goccy/go-json"

	"go-cube-explorer/internal/summary"
)

func encodeTimeline(counts map[time.Time]int) (string, error) {
	out := make(map[string]int, len(counts))
	for t, n := range counts {
		out[t.UTC().Format(dayLayout)] = n
	}
	b, err := json.Marshal(out)
	return string(b), err
}

func decodeTimeline(raw string) (map[time.Time]int, error) {
	var in map[string]int
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, err
	}
	out := make(map[time.Time]int, len(in))
	for k, n := range in {
		t, err := time.Parse(dayLayout, k)
		if err != nil {
			return nil, err
		}
		out[t] = n
	}
	return out, nil
}

// Get returns the stored overview for key, or nil when none is stored.
func (s *Store) Get(ctx context.Context, key summary.Key) (*summary.TimePeriodOverview, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var (
		o                        summary.TimePeriodOverview
		timeline, regions, crses string
		period                   string
		begin, end, newest       sql.NullString
		size                     sql.NullInt64
		generated                string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT dataset_count, timeline, timeline_period, regions, time_earliest, time_latest,
       footprint_count, size_bytes, crses, newest_dataset_creation_time, generation_time
FROM time_overview
WHERE product = ? AND period_type = ? AND start_day = ?;
`, key.Product, string(key.Period()), key.StartDay().Format(dayLayout)).Scan(
		&o.DatasetCount, &timeline, &period, &regions, &begin, &end,
		&o.FootprintCount, &size, &crses, &newest, &generated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	o.TimelinePeriod = summary.PeriodType(period)
	if o.TimelineCounts, err = decodeTimeline(timeline); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(regions), &o.RegionCounts); err != nil {
		return nil, err
	}
	if o.RegionCounts == nil {
		o.RegionCounts = map[string]int{}
	}
	if o.CRSes, err = decodeList(crses); err != nil {
		return nil, err
	}
	if b, err := parseNullTime(begin); err != nil {
		return nil, err
	} else if b != nil {
		o.TimeRange.Begin = *b
	}
	if e, err := parseNullTime(end); err != nil {
		return nil, err
	} else if e != nil {
		o.TimeRange.End = *e
	}
	if o.NewestDatasetCreationTime, err = parseNullTime(newest); err != nil {
		return nil, err
	}
	if size.Valid {
		v := size.Int64
		o.SizeBytes = &v
	}
	if o.GeneratedAt, err = parseTime(generated); err != nil {
		return nil, err
	}
	return &o, nil
}

// Put stores o under key, replacing any previous overview.
func (s *Store) Put(ctx context.Context, key summary.Key, o *summary.TimePeriodOverview) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	timeline, err := encodeTimeline(o.TimelineCounts)
	if err != nil {
		return err
	}
	regions := o.RegionCounts
	if regions == nil {
		regions = map[string]int{}
	}
	regionsJSON, err := json.Marshal(regions)
	if err != nil {
		return err
	}
	crses, err := encodeList(o.CRSes)
	if err != nil {
		return err
	}
	generated := o.GeneratedAt
	if generated.IsZero() {
		generated = s.now()
	}
	begin, end := o.TimeRange.Begin, o.TimeRange.End

	_, err = s.db.ExecContext(ctx, `
INSERT INTO time_overview (
  product, period_type, start_day, dataset_count, timeline, timeline_period, regions,
  time_earliest, time_latest, footprint_count, size_bytes, crses,
  newest_dataset_creation_time, generation_time
)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(product, period_type, start_day) DO UPDATE SET
  dataset_count = excluded.dataset_count,
  timeline = excluded.timeline,
  timeline_period = excluded.timeline_period,
  regions = excluded.regions,
  time_earliest = excluded.time_earliest,
  time_latest = excluded.time_latest,
  footprint_count = excluded.footprint_count,
  size_bytes = excluded.size_bytes,
  crses = excluded.crses,
  newest_dataset_creation_time = excluded.newest_dataset_creation_time,
  generation_time = excluded.generation_time;
`, key.Product, string(key.Period()), key.StartDay().Format(dayLayout), o.DatasetCount, timeline,
		string(o.TimelinePeriod), string(regionsJSON), nullTime(&begin), nullTime(&end),
		o.FootprintCount, nullInt(o.SizeBytes), crses, nullTime(o.NewestDatasetCreationTime), formatTime(generated))
	return err
}

// GenerationTimes returns the generation time of the stored whole-product
// overview of each product that has one.
func (s *Store) GenerationTimes(ctx context.Context) (map[string]time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
SELECT product, generation_time
FROM time_overview
WHERE period_type = 'all' AND product <> '';
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]time.Time{}
	for rows.Next() {
		var name, generated string
		if err := rows.Scan(&name, &generated); err != nil {
			return nil, err
		}
		t, err := parseTime(generated)
		if err != nil {
			return nil, err
		}
		out[name] = t
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
