// Package summarystore keeps the explorer's own SQLite database: refreshed
// product extents, per-dataset time and region extents, and the stored
// time-period overviews.
package summarystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"go-cube-explorer/internal/summary"
)

// ErrUnknownProduct is returned for products never refreshed.
var ErrUnknownProduct = summary.ErrUnknownProduct

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const dayLayout = "2006-01-02"

var schema = []string{
	`
CREATE TABLE IF NOT EXISTS product (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL UNIQUE,
  dataset_count INTEGER NOT NULL DEFAULT 0,
  time_earliest TEXT NULL,
  time_latest TEXT NULL,
  source_products TEXT NOT NULL DEFAULT '[]',
  derived_products TEXT NOT NULL DEFAULT '[]',
  last_refresh TEXT NOT NULL
);
`,
	`
CREATE TABLE IF NOT EXISTS time_overview (
  product TEXT NOT NULL,
  period_type TEXT NOT NULL,
  start_day TEXT NOT NULL,
  dataset_count INTEGER NOT NULL,
  timeline TEXT NOT NULL,
  timeline_period TEXT NOT NULL,
  regions TEXT NOT NULL,
  time_earliest TEXT NULL,
  time_latest TEXT NULL,
  footprint_count INTEGER NOT NULL DEFAULT 0,
  size_bytes INTEGER NULL,
  crses TEXT NOT NULL DEFAULT '[]',
  newest_dataset_creation_time TEXT NULL,
  generation_time TEXT NOT NULL,
  PRIMARY KEY (product, period_type, start_day)
);
`,
	`
CREATE TABLE IF NOT EXISTS dataset_spatial (
  id TEXT PRIMARY KEY,
  product TEXT NOT NULL,
  center_time TEXT NOT NULL,
  creation_time TEXT NULL,
  region_code TEXT NULL,
  size_bytes INTEGER NULL,
  crs TEXT NULL,
  has_footprint INTEGER NOT NULL DEFAULT 0,
  added TEXT NOT NULL
);
`,
	`CREATE INDEX IF NOT EXISTS idx_ds_product_time ON dataset_spatial(product, center_time);`,
	`CREATE INDEX IF NOT EXISTS idx_ds_product_region ON dataset_spatial(product, region_code);`,
	`CREATE INDEX IF NOT EXISTS idx_ds_product_added ON dataset_spatial(product, added);`,
}

// Store manages summaries in SQLite.
type Store struct {
	db           *sql.DB
	queryTimeout time.Duration
	now          func() time.Time
}

// NewSQLiteStore opens (creating when missing) the summary database at
// path.
func NewSQLiteStore(path string, queryTimeout time.Duration) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path required")
	}
	if queryTimeout <= 0 {
		queryTimeout = 20 * time.Second
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, queryTimeout: queryTimeout, now: time.Now}
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Init creates the schema when missing.
func (s *Store) Init(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Drop removes every table of the schema.
func (s *Store) Drop(ctx context.Context) error {
	for _, table := range []string{"time_overview", "dataset_spatial", "product"} {
		if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+table+`;`); err != nil {
			return err
		}
	}
	return nil
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func encodeList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	return string(b), err
}

func decodeList(raw string) ([]string, error) {
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

const productColumns = `id, name, dataset_count, time_earliest, time_latest, source_products, derived_products, last_refresh`

func scanProduct(scan func(...any) error) (*summary.ProductSummary, error) {
	var (
		p                summary.ProductSummary
		earliest, latest sql.NullString
		sources, derived string
		lastRefresh      string
	)
	if err := scan(&p.ID, &p.Name, &p.DatasetCount, &earliest, &latest, &sources, &derived, &lastRefresh); err != nil {
		return nil, err
	}
	var err error
	if p.TimeEarliest, err = parseNullTime(earliest); err != nil {
		return nil, err
	}
	if p.TimeLatest, err = parseNullTime(latest); err != nil {
		return nil, err
	}
	if p.SourceProducts, err = decodeList(sources); err != nil {
		return nil, err
	}
	if p.DerivedProducts, err = decodeList(derived); err != nil {
		return nil, err
	}
	if p.LastRefresh, err = parseTime(lastRefresh); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProduct returns the refreshed extent of the named product or
// ErrUnknownProduct.
func (s *Store) GetProduct(ctx context.Context, name string) (*summary.ProductSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	p, err := scanProduct(s.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM product WHERE name = ?;`, name).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %q: %w", name, ErrUnknownProduct)
	}
	return p, err
}

// ListProducts returns every refreshed product by name.
func (s *Store) ListProducts(ctx context.Context) ([]*summary.ProductSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM product ORDER BY name;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*summary.ProductSummary, 0)
	for rows.Next() {
		p, err := scanProduct(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// PutProduct inserts or replaces the extent of a product.
func (s *Store) PutProduct(ctx context.Context, p *summary.ProductSummary) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	sources, err := encodeList(p.SourceProducts)
	if err != nil {
		return err
	}
	derived, err := encodeList(p.DerivedProducts)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO product (name, dataset_count, time_earliest, time_latest, source_products, derived_products, last_refresh)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
  dataset_count = excluded.dataset_count,
  time_earliest = excluded.time_earliest,
  time_latest = excluded.time_latest,
  source_products = excluded.source_products,
  derived_products = excluded.derived_products,
  last_refresh = excluded.last_refresh;
`, p.Name, p.DatasetCount, nullTime(p.TimeEarliest), nullTime(p.TimeLatest), sources, derived, formatTime(p.LastRefresh))
	return err
}

var _ summary.Store = (*Store)(nil)
