package ingestion

import (
	"context"
	"fmt"
	"time"
)

// DefaultBatchSize is the number of fact rows written per insert statement.
const DefaultBatchSize = 100

// writeRows inserts rows through store in batches. Duplicate keys are ignored by
// the store; any other failure aborts the remaining batches.
func writeRows[R, K any](ctx context.Context, store FactStore[R, K], table string, rows []R, batchSize int) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := store.BulkInsert(ctx, rows, batchSize)
	if err != nil {
		return n, &StoreError{
			Kind: ErrWrite,
			Op:   fmt.Sprintf("insert %s rows", table),
			Err:  err,
		}
	}

	return n, nil
}

type dedupeKey struct {
	date     time.Time
	isPublic bool
}

// DedupeTimeSeries collapses items that would land on the same fact row, i.e. that
// share a date and visibility. Per row the last force_write item wins; without one,
// the last item wins. Surviving items keep their relative order.
func DedupeTimeSeries(items []TimeSeriesItem) []TimeSeriesItem {
	winner := make(map[dedupeKey]int, len(items))

	for i, item := range items {
		key := dedupeKey{date: item.Date.UTC(), isPublic: item.IsPublic}

		prev, seen := winner[key]
		if !seen || item.ForceWrite || !items[prev].ForceWrite {
			winner[key] = i
		}
	}

	if len(winner) == len(items) {
		return items
	}

	out := make([]TimeSeriesItem, 0, len(winner))

	for i, item := range items {
		if winner[dedupeKey{date: item.Date.UTC(), isPublic: item.IsPublic}] == i {
			out = append(out, item)
		}
	}

	return out
}
