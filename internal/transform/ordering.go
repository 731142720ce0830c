package transform

import (
	"cmp"
	"slices"

	"golang.org/x/sync/errgroup"
)

// indexGroup is the positions of the items sharing one key.
type indexGroup[K cmp.Ordered] struct {
	Key     K
	Indices []int // ascending
}

// groupIndices groups positions 0..n-1 by key, skipping items without one.
// Groups are returned in ascending key order.
func groupIndices[K cmp.Ordered](n int, key func(i int) (K, bool)) []indexGroup[K] {
	pos := make(map[K]int)
	var groups []indexGroup[K]
	for i := 0; i < n; i++ {
		k, ok := key(i)
		if !ok {
			continue
		}
		g, seen := pos[k]
		if !seen {
			g = len(groups)
			pos[k] = g
			groups = append(groups, indexGroup[K]{Key: k})
		}
		groups[g].Indices = append(groups[g].Indices, i)
	}

	slices.SortFunc(groups, func(a, b indexGroup[K]) int {
		return cmp.Compare(a.Key, b.Key)
	})
	return groups
}

// compareEvents orders events by (event_time, event_id).
func compareEvents(a, b *EnrichedEvent) int {
	if c := a.EventTime.Compare(b.EventTime); c != 0 {
		return c
	}
	return cmp.Compare(a.EventID, b.EventID)
}

// sortByEventOrder sorts event positions by (event_time, event_id).
func sortByEventOrder(events []EnrichedEvent, idx []int) {
	slices.SortFunc(idx, func(a, b int) int {
		return compareEvents(&events[a], &events[b])
	})
}

// latestEvent returns the position of the maximum event under (event_time, event_id).
func latestEvent(events []EnrichedEvent, idx []int) int {
	best := idx[0]
	for _, i := range idx[1:] {
		if compareEvents(&events[i], &events[best]) > 0 {
			best = i
		}
	}
	return best
}

// forEachGroup runs fn for 0..n-1 on at most workers goroutines. Each call
// must only write state owned by its group.
func forEachGroup(workers, n int, fn func(i int)) {
	if workers < 1 {
		workers = 1
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			fn(i)
			return nil
		})
	}
	g.Wait()
}
