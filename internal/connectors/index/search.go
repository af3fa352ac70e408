package index

import (
	"context"
	"sort"
	"strings"
)

// ParseQuery turns request arguments into field queries against mt.
// "name" sets an exact value, "name-begin" and "name-end" bound a range.
// Reversed bounds are swapped. Arguments naming no search field are
// ignored.
func ParseQuery(mt *MetadataType, args map[string][]string) []Query {
	byField := map[string]*Query{}
	get := func(name string) *Query {
		f, ok := mt.fieldsOrNil()[name]
		if !ok {
			return nil
		}
		q, ok := byField[name]
		if !ok {
			q = &Query{Field: f}
			byField[name] = q
		}
		return q
	}
	for arg, values := range args {
		if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
			continue
		}
		v := strings.TrimSpace(values[0])
		switch {
		case strings.HasSuffix(arg, "-begin"):
			if q := get(strings.TrimSuffix(arg, "-begin")); q != nil {
				q.Begin = v
			}
		case strings.HasSuffix(arg, "-end"):
			if q := get(strings.TrimSuffix(arg, "-end")); q != nil {
				q.End = v
			}
		default:
			if q := get(arg); q != nil {
				q.Equals = v
			}
		}
	}

	names := make([]string, 0, len(byField))
	for name := range byField {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Query, 0, len(names))
	for _, name := range names {
		q := *byField[name]
		if q.Begin != "" && q.End != "" && compare(q.Field, q.Begin, q.End) > 0 {
			q.Begin, q.End = q.End, q.Begin
		}
		out = append(out, q)
	}
	return out
}

// SearchDatasets returns up to limit active datasets of p matching every
// query, newest first. The returned flag reports whether more matches
// exist beyond limit.
func (s *Store) SearchDatasets(ctx context.Context, p *Product, queries []Query, limit int) ([]*Dataset, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, datasetQuery+`
WHERE d.dataset_type_ref = ?
  AND d.archived IS NULL
ORDER BY d.added DESC, d.id;
`, p.ID)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	out := make([]*Dataset, 0)
	for rows.Next() {
		d, err := scanDataset(rows.Scan)
		if err != nil {
			return nil, false, err
		}
		if !matchAll(queries, d.Raw) {
			continue
		}
		if len(out) == limit {
			return out, true, nil
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return out, false, nil
}

func matchAll(queries []Query, doc []byte) bool {
	for _, q := range queries {
		if !q.Match(doc) {
			return false
		}
	}
	return true
}
