package summarystore

import (
	"context"
	"database/sql"
	"time"
)

// ServiceStats contains summary database health and volume counters.
type ServiceStats struct {
	PingMS           int64      `json:"ping_ms"`
	Products         int64      `json:"products"`
	DatasetExtents   int64      `json:"dataset_extents"`
	StoredOverviews  int64      `json:"stored_overviews"`
	OldestRefresh    *time.Time `json:"oldest_refresh,omitempty"`
	NewestGeneration *time.Time `json:"newest_generation,omitempty"`
}

// ServiceStats returns summary store health and counters.
func (s *Store) ServiceStats(ctx context.Context) (*ServiceStats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	start := time.Now()
	if err := s.db.PingContext(ctx); err != nil {
		return nil, err
	}
	out := &ServiceStats{PingMS: time.Since(start).Milliseconds()}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM product;`).Scan(&out.Products); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dataset_spatial;`).Scan(&out.DatasetExtents); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM time_overview;`).Scan(&out.StoredOverviews); err != nil {
		return nil, err
	}

	var oldest, newest sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(last_refresh) FROM product;`).Scan(&oldest); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(generation_time) FROM time_overview;`).Scan(&newest); err != nil {
		return nil, err
	}
	var err error
	if out.OldestRefresh, err = parseNullTime(oldest); err != nil {
		return nil, err
	}
	if out.NewestGeneration, err = parseNullTime(newest); err != nil {
		return nil, err
	}
	return out, nil
}

// QualityStat counts the stored extents of a product lacking each
// optional value.
type QualityStat struct {
	Product          string `json:"product"`
	Datasets         int64  `json:"datasets"`
	MissingRegion    int64  `json:"missing_region"`
	MissingSize      int64  `json:"missing_size"`
	MissingCreation  int64  `json:"missing_creation_time"`
	MissingFootprint int64  `json:"missing_footprint"`
}

// HasProblems reports whether any dataset lacks a value.
func (q QualityStat) HasProblems() bool {
	return q.MissingRegion+q.MissingSize+q.MissingCreation+q.MissingFootprint > 0
}

// QualityStats reports extent completeness per product.
func (s *Store) QualityStats(ctx context.Context) ([]QualityStat, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
SELECT product,
       COUNT(*),
       SUM(CASE WHEN region_code IS NULL THEN 1 ELSE 0 END),
       SUM(CASE WHEN size_bytes IS NULL THEN 1 ELSE 0 END),
       SUM(CASE WHEN creation_time IS NULL THEN 1 ELSE 0 END),
       SUM(CASE WHEN has_footprint = 0 THEN 1 ELSE 0 END)
FROM dataset_spatial
GROUP BY product
ORDER BY product;
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]QualityStat, 0)
	for rows.Next() {
		var q QualityStat
		if err := rows.Scan(&q.Product, &q.Datasets, &q.MissingRegion, &q.MissingSize, &q.MissingCreation, &q.MissingFootprint); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
