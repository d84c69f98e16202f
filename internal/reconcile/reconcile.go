// ABOUTME: Merges incrementally pushed records into an existing ordered collection
// ABOUTME: Dedupes by domain identifier and optionally sorts newest first

package reconcile

import (
	"slices"

	"github.com/2389/cardea-console/internal/model"
)

// KeyFunc extracts the identifier of an item. ok=false means the item has no
// usable identifier; the item is still kept but never matched.
type KeyFunc[T any] func(T) (key string, ok bool)

// TimeFunc extracts the creation timestamp used for ordering.
type TimeFunc[T any] func(T) (model.Timestamp, bool)

// Merge combines a held collection with an incoming batch.
//
// Every incoming item is emitted in batch order, replacing any old item with
// the same identifier. Old items the batch did not mention follow, in their
// original order: the controller pushes deltas that may omit unchanged
// records. Within the batch the last occurrence of an identifier wins.
// Merge never modifies old or incoming.
func Merge[T any](old, incoming []T, key KeyFunc[T]) []T {
	out := make([]T, 0, len(old)+len(incoming))
	index := make(map[string]int, len(incoming))

	for _, item := range incoming {
		k, ok := key(item)
		if !ok {
			out = append(out, item)
			continue
		}
		if i, seen := index[k]; seen {
			out[i] = item
			continue
		}
		index[k] = len(out)
		out = append(out, item)
	}

	for _, item := range old {
		k, ok := key(item)
		if !ok {
			out = append(out, item)
			continue
		}
		if _, seen := index[k]; seen {
			continue
		}
		index[k] = len(out)
		out = append(out, item)
	}

	return out
}

// SortNewestFirst stable-sorts list in place by descending timestamp. Items
// without a timestamp sink to the end keeping their relative order.
func SortNewestFirst[T any](list []T, ts TimeFunc[T]) {
	slices.SortStableFunc(list, func(a, b T) int {
		ta, oka := ts(a)
		tb, okb := ts(b)
		switch {
		case oka && okb:
			return tb.Compare(ta)
		case oka:
			return -1
		case okb:
			return 1
		}
		return 0
	})
}
