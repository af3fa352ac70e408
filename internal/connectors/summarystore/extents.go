package summarystore

import (
	"context"
	"database/sql"
	"time"

	"go-cube-explorer/internal/summary"
)

// AddExtents inserts or replaces dataset extents in one transaction.
func (s *Store) AddExtents(ctx context.Context, extents []summary.DatasetExtent) error {
	if len(extents) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT OR REPLACE INTO dataset_spatial (
  id, product, center_time, creation_time, region_code, size_bytes, crs, has_footprint, added
)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range extents {
		added := e.Added
		if added.IsZero() {
			added = s.now()
		}
		footprint := 0
		if e.HasFootprint {
			footprint = 1
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.Product, formatTime(e.CenterTime), nullTime(e.CreationTime),
			nullString(e.RegionCode), nullInt(e.SizeBytes), nullString(e.CRS), footprint, formatTime(added)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteExtents removes every dataset extent of a product.
func (s *Store) DeleteExtents(ctx context.Context, product string) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `DELETE FROM dataset_spatial WHERE product = ?;`, product)
	return err
}

// LatestExtentAdded is the index added time of the newest stored extent of
// a product, zero when there is none.
func (s *Store) LatestExtentAdded(ctx context.Context, product string) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var latest sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(added) FROM dataset_spatial WHERE product = ?;`, product).Scan(&latest); err != nil {
		return time.Time{}, err
	}
	t, err := parseNullTime(latest)
	if err != nil || t == nil {
		return time.Time{}, err
	}
	return *t, nil
}

// ProductExtent counts the stored extents of a product and returns the
// earliest and latest center times, nil when the product has none.
func (s *Store) ProductExtent(ctx context.Context, product string) (int64, *time.Time, *time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var (
		count            int64
		earliest, latest sql.NullString
	)
	if err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*), MIN(center_time), MAX(center_time)
FROM dataset_spatial
WHERE product = ?;
`, product).Scan(&count, &earliest, &latest); err != nil {
		return 0, nil, nil, err
	}
	first, err := parseNullTime(earliest)
	if err != nil {
		return 0, nil, nil, err
	}
	last, err := parseNullTime(latest)
	if err != nil {
		return 0, nil, nil, err
	}
	return count, first, last, nil
}

const extentColumns = `id, product, center_time, creation_time, region_code, size_bytes, crs, has_footprint, added`

func scanExtent(scan func(...any) error) (summary.DatasetExtent, error) {
	var (
		e                     summary.DatasetExtent
		center, added         string
		creation, region, crs sql.NullString
		size                  sql.NullInt64
	)
	if err := scan(&e.ID, &e.Product, &center, &creation, &region, &size, &crs, &e.HasFootprint, &added); err != nil {
		return e, err
	}
	var err error
	if e.CenterTime, err = parseTime(center); err != nil {
		return e, err
	}
	if e.Added, err = parseTime(added); err != nil {
		return e, err
	}
	if e.CreationTime, err = parseNullTime(creation); err != nil {
		return e, err
	}
	e.RegionCode = region.String
	e.CRS = crs.String
	if size.Valid {
		v := size.Int64
		e.SizeBytes = &v
	}
	return e, nil
}

// rangeClause narrows a query on center_time to r. An empty product
// matches every product.
func rangeClause(product string, r summary.TimeRange) (string, []any) {
	where := ` WHERE 1 = 1`
	args := make([]any, 0, 3)
	if product != "" {
		where += ` AND product = ?`
		args = append(args, product)
	}
	if !r.Begin.IsZero() {
		where += ` AND center_time >= ?`
		args = append(args, formatTime(r.Begin))
	}
	if !r.End.IsZero() {
		where += ` AND center_time < ?`
		args = append(args, formatTime(r.End))
	}
	return where, args
}

func (s *Store) queryExtents(ctx context.Context, query string, args ...any) ([]summary.DatasetExtent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]summary.DatasetExtent, 0)
	for rows.Next() {
		e, err := scanExtent(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CalculateSummary summarises the stored extents of product (every
// product when empty) whose center time falls in r, grouping days in loc.
func (s *Store) CalculateSummary(ctx context.Context, product string, r summary.TimeRange, loc *time.Location) (*summary.TimePeriodOverview, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	where, args := rangeClause(product, r)
	extents, err := s.queryExtents(ctx, `SELECT `+extentColumns+` FROM dataset_spatial`+where+`;`, args...)
	if err != nil {
		return nil, err
	}
	return summary.Summarise(extents, r, loc, s.now()), nil
}

// Search returns up to limit extents of product in r ordered by center
// time, and whether more exist.
func (s *Store) Search(ctx context.Context, product string, r summary.TimeRange, limit int) ([]summary.DatasetExtent, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	where, args := rangeClause(product, r)
	args = append(args, limit+1)
	out, err := s.queryExtents(ctx, `SELECT `+extentColumns+` FROM dataset_spatial`+where+` ORDER BY center_time, id LIMIT ?;`, args...)
	if err != nil {
		return nil, false, err
	}
	if len(out) > limit {
		return out[:limit], true, nil
	}
	return out, false, nil
}

// RegionDatasets returns up to limit extents of one region of a product,
// newest first, and the total number in the region.
func (s *Store) RegionDatasets(ctx context.Context, product, region string, limit int) ([]summary.DatasetExtent, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var total int64
	if err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM dataset_spatial WHERE product = ? AND region_code = ?;
`, product, region).Scan(&total); err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return nil, 0, nil
	}
	out, err := s.queryExtents(ctx, `
SELECT `+extentColumns+`
FROM dataset_spatial
WHERE product = ? AND region_code = ?
ORDER BY center_time DESC, id
LIMIT ?;
`, product, region, limit)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
