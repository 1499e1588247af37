// Package sink deduplicates extracted records and defines the persistent
// merge they are handed to.
package sink

import (
	"context"

	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/model"
)

// Merger persists records idempotently: only records whose storage key is
// absent from durable storage are added, existing rows are never updated.
// Merge returns the number of rows actually added.
type Merger interface {
	Merge(ctx context.Context, records []model.ForecastRecord) (int64, error)
}

// Dedupe drops records whose storage key was already seen in the batch,
// keeping the first occurrence and the input order.
func Dedupe(records []model.ForecastRecord) []model.ForecastRecord {
	seen := make(map[model.StorageKey]struct{}, len(records))
	out := make([]model.ForecastRecord, 0, len(records))
	for _, r := range records {
		k := r.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}
