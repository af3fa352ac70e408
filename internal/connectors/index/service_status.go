package index

import (
	"context"
	"database/sql"
	"time"
)

// ServiceStats contains lightweight DB health and volume counters.
type ServiceStats struct {
	PingMS           int64 `json:"ping_ms"`
	UptimeSeconds    int64 `json:"uptime_seconds"`
	MetadataTypes    int64 `json:"metadata_types"`
	Products         int64 `json:"products"`
	DatasetsActive   int64 `json:"datasets_active"`
	DatasetsArchived int64 `json:"datasets_archived"`
	DatasetsAdded24h int64 `json:"datasets_added_24h"`
}

// ServiceStats returns index database health and dataset counters.
func (s *Store) ServiceStats(ctx context.Context) (*ServiceStats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	start := time.Now()
	if err := s.db.PingContext(ctx); err != nil {
		return nil, err
	}

	out := &ServiceStats{
		PingMS: time.Since(start).Milliseconds(),
	}

	var statusName string
	var statusValue sql.NullString
	if err := s.db.QueryRowContext(ctx, `SHOW GLOBAL STATUS LIKE 'Uptime';`).Scan(&statusName, &statusValue); err == nil && statusValue.Valid {
		if v, err := time.ParseDuration(statusValue.String + "s"); err == nil {
			out.UptimeSeconds = int64(v.Seconds())
		}
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM metadata_type;`).Scan(&out.MetadataTypes); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dataset_type;`).Scan(&out.Products); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `
SELECT
  COALESCE(SUM(archived IS NULL), 0),
  COALESCE(SUM(archived IS NOT NULL), 0),
  COALESCE(SUM(added >= UTC_TIMESTAMP() - INTERVAL 24 HOUR), 0)
FROM dataset;
	`).Scan(&out.DatasetsActive, &out.DatasetsArchived, &out.DatasetsAdded24h); err != nil {
		return nil, err
	}

	return out, nil
}
