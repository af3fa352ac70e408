package index

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"go-cube-explorer/internal/summary"
)

// Linked is one provenance link of a dataset.
type Linked struct {
	Classifier string
	Dataset    *Dataset
}

// SourceDatasets returns up to limit datasets the given dataset was
// derived from, with the total number of sources.
func (s *Store) SourceDatasets(ctx context.Context, id uuid.UUID, limit int) ([]Linked, int, error) {
	return s.linkedDatasets(ctx, `
SELECT ds.classifier, ds.source_dataset_ref
FROM dataset_source ds
WHERE ds.dataset_ref = ?
ORDER BY ds.classifier, ds.source_dataset_ref
`, `SELECT COUNT(*) FROM dataset_source WHERE dataset_ref = ?;`, id, limit)
}

// DerivedDatasets returns up to limit datasets derived from the given
// dataset, with the total number of derived datasets.
func (s *Store) DerivedDatasets(ctx context.Context, id uuid.UUID, limit int) ([]Linked, int, error) {
	return s.linkedDatasets(ctx, `
SELECT ds.classifier, ds.dataset_ref
FROM dataset_source ds
WHERE ds.source_dataset_ref = ?
ORDER BY ds.classifier, ds.dataset_ref
`, `SELECT COUNT(*) FROM dataset_source WHERE source_dataset_ref = ?;`, id, limit)
}

func (s *Store) linkedDatasets(ctx context.Context, query, countQuery string, id uuid.UUID, limit int) ([]Linked, int, error) {
	if limit <= 0 {
		limit = 25
	}
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, id.String()).Scan(&total); err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return nil, 0, nil
	}

	rows, err := s.db.QueryContext(ctx, query+` LIMIT ?;`, id.String(), limit)
	if err != nil {
		return nil, 0, err
	}
	classifiers := map[string]string{}
	ids := make([]string, 0, limit)
	for rows.Next() {
		var classifier, ref string
		if err := rows.Scan(&classifier, &ref); err != nil {
			rows.Close()
			return nil, 0, err
		}
		classifiers[ref] = classifier
		ids = append(ids, ref)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, 0, err
	}

	datasets, err := s.GetDatasets(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	out := make([]Linked, 0, len(datasets))
	for _, d := range datasets {
		out = append(out, Linked{Classifier: classifiers[d.ID.String()], Dataset: d})
	}
	return out, total, nil
}

// LinkedProducts lists the distinct products of source (or derived)
// datasets, sampled over at most sampleSize datasets of the product.
func (s *Store) LinkedProducts(ctx context.Context, product string, kind summary.LinkKind, sampleSize int) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	own, other := "dataset_ref", "source_dataset_ref"
	if kind == summary.LinkDerived {
		own, other = other, own
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT DISTINCT lp.name
FROM (
  SELECT d.id
  FROM dataset d
  JOIN dataset_type p
    ON p.id = d.dataset_type_ref
  WHERE p.name = ?
    AND d.archived IS NULL
  LIMIT ?
) sample
JOIN dataset_source ds
  ON ds.`+own+` = sample.id
JOIN dataset ld
  ON ld.id = ds.`+other+`
JOIN dataset_type lp
  ON lp.id = ld.dataset_type_ref
ORDER BY lp.name;
`, product, sampleSize)
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

// extentsSinceQuery is inclusive of since: the index keeps whole seconds,
// so rows sharing the newest stored second are read again and replaced.
const extentsSinceQuery = `
SELECT d.id, d.metadata, d.added
FROM dataset d
WHERE d.dataset_type_ref = ?
  AND d.archived IS NULL
  AND d.added >= ?
ORDER BY d.added, d.id;
`

// ExtentsAddedSince streams the summary extents of active datasets of a
// product added at or after since, in added order. Datasets whose
// documents carry no usable time are skipped.
func (s *Store) ExtentsAddedSince(ctx context.Context, product string, since time.Time, fn func(summary.DatasetExtent) error) error {
	p, err := s.GetProduct(ctx, product)
	if err != nil {
		return err
	}

	// Streaming reads are not bounded by the query timeout.
	rows, err := s.db.QueryContext(ctx, extentsSinceQuery, p.ID, since.UTC())
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    string
			raw   []byte
			added sql.NullTime
		)
		if err := rows.Scan(&id, &raw, &added); err != nil {
			return err
		}
		ext, err := p.MetadataType.ExtractExtent(raw)
		if err != nil {
			continue
		}
		e := summary.DatasetExtent{
			ID:           id,
			Product:      product,
			CenterTime:   ext.CenterTime,
			CreationTime: ext.CreationTime,
			RegionCode:   ext.RegionCode,
			SizeBytes:    ext.SizeBytes,
			CRS:          ext.CRS,
			HasFootprint: ext.HasFootprint,
		}
		if added.Valid {
			e.Added = added.Time.UTC()
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

var _ summary.Index = (*Store)(nil)
