package store

import (
	"context"

	"github.com/wanyview/kaidison-system/internal/model"
)

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n); err != nil {
		return 0, storageErr(err, "count memories")
	}
	return n, nil
}

// CountByLayer returns per-layer counts. Layers without records are omitted.
func (s *SQLiteStore) CountByLayer(ctx context.Context) (map[model.Layer]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT layer, COUNT(*) FROM memories GROUP BY layer`)
	if err != nil {
		return nil, storageErr(err, "count by layer")
	}
	defer rows.Close()

	out := map[model.Layer]int{}
	for rows.Next() {
		var layer string
		var n int
		if err := rows.Scan(&layer, &n); err != nil {
			return nil, storageErr(err, "count by layer")
		}
		out[model.Layer(layer)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "count by layer")
	}
	return out, nil
}

func (s *SQLiteStore) SumAccessCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(access_count), 0) FROM memories`).Scan(&n)
	if err != nil {
		return 0, storageErr(err, "sum access count")
	}
	return n, nil
}

// CountByImportanceBand buckets records into high (>= 0.8), medium (>= 0.5)
// and low. Empty bands are omitted.
func (s *SQLiteStore) CountByImportanceBand(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT CASE
			WHEN importance >= 0.8 THEN 'high'
			WHEN importance >= 0.5 THEN 'medium'
			ELSE 'low'
		END AS band, COUNT(*)
		FROM memories GROUP BY band`)
	if err != nil {
		return nil, storageErr(err, "count by importance")
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var band string
		var n int
		if err := rows.Scan(&band, &n); err != nil {
			return nil, storageErr(err, "count by importance")
		}
		out[band] = n
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "count by importance")
	}
	return out, nil
}
