// Package index reads the data cube index database: metadata types,
// products, datasets, their locations and lineage. Access is read-only.
//
// Expected tables:
//
//	metadata_type    (id, name, definition JSON, added)
//	dataset_type     (id, name, metadata_type_ref, definition JSON, added)
//	dataset          (id CHAR(36), dataset_type_ref, metadata JSON, archived NULL, added)
//	dataset_location (id, dataset_ref, uri_scheme, uri_body, added, archived NULL)
//	dataset_source   (dataset_ref, classifier, source_dataset_ref)
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"go-cube-explorer/internal/config"
	"go-cube-explorer/internal/document"
)

// ErrNotFound is returned when a named record does not exist.
var ErrNotFound = errors.New("index: not found")

// MetadataType describes how to read the documents of datasets.
type MetadataType struct {
	ID          int64
	Name        string
	Description string
	Definition  *document.Node
	Raw         []byte
	Fields      map[string]Field
	Offsets     map[string][]string
	Added       *time.Time
}

// Descriptions maps the dotted document path of every search field to its
// description.
func (mt *MetadataType) Descriptions() map[string]string {
	if mt == nil {
		return nil
	}
	out := make(map[string]string, len(mt.Fields))
	for _, f := range mt.Fields {
		if p := f.DocPath(); p != "" && f.Description != "" {
			out[p] = f.Description
		}
	}
	return out
}

// Product is a named collection of datasets.
type Product struct {
	ID           int64
	Name         string
	Description  string
	Definition   *document.Node
	Raw          []byte
	MetadataType *MetadataType
	Added        *time.Time
}

// MetadataRaw is the JSON of the product's metadata section, matched by
// every dataset of the product.
func (p *Product) MetadataRaw() []byte {
	r := gjson.GetBytes(p.Raw, "metadata")
	if !r.Exists() {
		return []byte("{}")
	}
	return []byte(r.Raw)
}

// ProductType is the product_type of the product metadata, "" if unset.
func (p *Product) ProductType() string {
	return gjson.GetBytes(p.Raw, "metadata.product_type").String()
}

// License is the license named by the product, "" if unset.
func (p *Product) License() string {
	if f, ok := p.MetadataType.fieldsOrNil()["license"]; ok {
		if v := f.Value(p.MetadataRaw()); !v.IsNull() {
			return v.String()
		}
	}
	return gjson.GetBytes(p.Raw, "license").String()
}

// FixedFields are the search field values every dataset of the product
// shares, taken from the product's metadata section. Fields the section
// does not mention are omitted.
func (p *Product) FixedFields() *document.Node {
	return FieldValues(p.MetadataType.fieldsOrNil(), p.MetadataRaw(), true)
}

func (mt *MetadataType) fieldsOrNil() map[string]Field {
	if mt == nil {
		return nil
	}
	return mt.Fields
}

// Location is one URI a dataset is stored at.
type Location struct {
	URI      string
	Added    *time.Time
	Archived *time.Time
}

// Dataset is one indexed dataset with its metadata document.
type Dataset struct {
	ID          uuid.UUID
	ProductID   int64
	ProductName string
	Metadata    *document.Node
	Raw         []byte
	Archived    *time.Time
	Added       *time.Time
	Locations   []Location
}

// LocalURI is the first active file location, "" if none.
func (d *Dataset) LocalURI() string {
	for _, l := range d.Locations {
		if l.Archived == nil && strings.HasPrefix(l.URI, "file:") {
			return l.URI
		}
	}
	return ""
}

// Label is the label offset value of the dataset, "" if unset.
func (d *Dataset) Label(mt *MetadataType) string {
	if mt == nil {
		return ""
	}
	r := lookup(d.Raw, mt.Offsets["label"])
	if !r.Exists() || r.Type == gjson.Null {
		return ""
	}
	return r.String()
}

// Fields evaluates the search fields of mt against the dataset.
func (d *Dataset) Fields(mt *MetadataType) *document.Node {
	return FieldValues(mt.fieldsOrNil(), d.Raw, false)
}

// Store wraps MySQL access to the data cube index.
type Store struct {
	db           *sql.DB
	queryTimeout time.Duration
	dbName       string
}

// NewStore creates a MySQL-backed store.
func NewStore(cfg config.Config) (*Store, error) {
	db, err := sql.Open("mysql", cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}

	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.IndexDBConnTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		db:           db,
		queryTimeout: cfg.IndexDBQueryTimeout,
		dbName:       cfg.IndexDBName,
	}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ParseMetadataType builds a metadata type from its JSON definition.
func ParseMetadataType(name string, definition []byte) (*MetadataType, error) {
	return newMetadataType(0, name, definition, sql.NullTime{})
}

func newMetadataType(id int64, name string, raw []byte, added sql.NullTime) (*MetadataType, error) {
	def, err := document.ParseJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("metadata type %s: %w", name, err)
	}
	mt := &MetadataType{
		ID:          id,
		Name:        name,
		Description: gjson.GetBytes(raw, "description").String(),
		Definition:  def,
		Raw:         raw,
		Fields:      parseFields(raw),
		Offsets:     parseOffsets(raw),
	}
	if added.Valid {
		t := added.Time.UTC()
		mt.Added = &t
	}
	return mt, nil
}

const metadataTypeColumns = `id, name, definition, added`

func scanMetadataType(scan func(...any) error) (*MetadataType, error) {
	var (
		id    int64
		name  string
		raw   []byte
		added sql.NullTime
	)
	if err := scan(&id, &name, &raw, &added); err != nil {
		return nil, err
	}
	return newMetadataType(id, name, raw, added)
}

// ListMetadataTypes returns every metadata type ordered by name.
func (s *Store) ListMetadataTypes(ctx context.Context) ([]*MetadataType, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT `+metadataTypeColumns+` FROM metadata_type ORDER BY name;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*MetadataType, 0)
	for rows.Next() {
		mt, err := scanMetadataType(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, mt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetMetadataType returns the named metadata type or ErrNotFound.
func (s *Store) GetMetadataType(ctx context.Context, name string) (*MetadataType, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	mt, err := scanMetadataType(s.db.QueryRowContext(ctx,
		`SELECT `+metadataTypeColumns+` FROM metadata_type WHERE name = ?;`, name).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("metadata type %q: %w", name, ErrNotFound)
	}
	return mt, err
}

const productQuery = `
SELECT p.id, p.name, p.definition, p.added,
       m.id, m.name, m.definition, m.added
FROM dataset_type p
JOIN metadata_type m
  ON m.id = p.metadata_type_ref
`

func scanProduct(scan func(...any) error) (*Product, error) {
	var (
		p       Product
		added   sql.NullTime
		mtID    int64
		mtName  string
		mtRaw   []byte
		mtAdded sql.NullTime
	)
	if err := scan(&p.ID, &p.Name, &p.Raw, &added, &mtID, &mtName, &mtRaw, &mtAdded); err != nil {
		return nil, err
	}
	def, err := document.ParseJSON(p.Raw)
	if err != nil {
		return nil, fmt.Errorf("product %s: %w", p.Name, err)
	}
	p.Definition = def
	p.Description = gjson.GetBytes(p.Raw, "description").String()
	if added.Valid {
		t := added.Time.UTC()
		p.Added = &t
	}
	mt, err := newMetadataType(mtID, mtName, mtRaw, mtAdded)
	if err != nil {
		return nil, err
	}
	p.MetadataType = mt
	return &p, nil
}

// ListProducts returns every product with its metadata type, by name.
func (s *Store) ListProducts(ctx context.Context) ([]*Product, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, productQuery+` ORDER BY p.name;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*Product, 0)
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

// GetProduct returns the named product or ErrNotFound.
func (s *Store) GetProduct(ctx context.Context, name string) (*Product, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	p, err := scanProduct(s.db.QueryRowContext(ctx, productQuery+` WHERE p.name = ?;`, name).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %q: %w", name, ErrNotFound)
	}
	return p, err
}

// ProductNames lists product names in order.
func (s *Store) ProductNames(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT name FROM dataset_type ORDER BY name;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

const datasetQuery = `
SELECT d.id, d.dataset_type_ref, p.name, d.metadata, d.archived, d.added
FROM dataset d
JOIN dataset_type p
  ON p.id = d.dataset_type_ref
`

func scanDataset(scan func(...any) error) (*Dataset, error) {
	var (
		d        Dataset
		id       string
		archived sql.NullTime
		added    sql.NullTime
	)
	if err := scan(&id, &d.ProductID, &d.ProductName, &d.Raw, &archived, &added); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("dataset id %q: %w", id, err)
	}
	d.ID = parsed
	md, err := document.ParseJSON(d.Raw)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", id, err)
	}
	d.Metadata = md
	if archived.Valid {
		t := archived.Time.UTC()
		d.Archived = &t
	}
	if added.Valid {
		t := added.Time.UTC()
		d.Added = &t
	}
	return &d, nil
}

// GetDataset returns one dataset with all its locations, archived ones
// included, or ErrNotFound.
func (s *Store) GetDataset(ctx context.Context, id uuid.UUID) (*Dataset, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	d, err := scanDataset(s.db.QueryRowContext(ctx, datasetQuery+` WHERE d.id = ?;`, id.String()).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dataset %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT CONCAT(uri_scheme, ':', uri_body), added, archived
FROM dataset_location
WHERE dataset_ref = ?
ORDER BY added, id;
`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			loc             Location
			added, archived sql.NullTime
		)
		if err := rows.Scan(&loc.URI, &added, &archived); err != nil {
			return nil, err
		}
		if added.Valid {
			t := added.Time.UTC()
			loc.Added = &t
		}
		if archived.Valid {
			t := archived.Time.UTC()
			loc.Archived = &t
		}
		d.Locations = append(d.Locations, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return d, nil
}

// GetDatasets loads the given datasets, keeping the order of ids and
// skipping ids that do not exist. Locations are not loaded.
func (s *Store) GetDatasets(ctx context.Context, ids []string) ([]*Dataset, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx,
		datasetQuery+` WHERE d.id IN (`+placeholders(len(ids))+`);`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]*Dataset, len(ids))
	for rows.Next() {
		d, err := scanDataset(rows.Scan)
		if err != nil {
			return nil, err
		}
		byID[d.ID.String()] = d
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*Dataset, 0, len(byID))
	for _, id := range ids {
		if d, ok := byID[strings.ToLower(id)]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
