package conflict

import (
	"container/heap"
	"slices"
	"sort"
	"time"

	"dayplan/internal/model"
)

// DetectBatch returns, for every timed event in pool, the number of other
// pool events it overlaps. All-day events get no entry; conflict-free timed
// events map to 0. Entries sharing an ID accumulate into one counter.
//
// Events are swept in start order while a min-heap keyed by end holds the
// ones still running. At activation the heap size is the number of earlier
// overlapping events; later overlapping events are counted by binary search
// over the sorted starts. Every pair is counted once for each side in
// O(n log n), however dense the overlaps are.
func DetectBatch(pool []model.CalendarEvent) (map[model.EventID]int, error) {
	events, err := timedSorted(pool)
	if err != nil {
		return nil, err
	}

	starts := make([]time.Time, len(events))
	for i, ev := range events {
		starts[i] = ev.Interval.Start
	}

	counts := make(map[model.EventID]int, len(events))
	active := &endHeap{}
	for i, ev := range events {
		for active.Len() > 0 && !active.peek().Interval.End.After(ev.Interval.Start) {
			heap.Pop(active)
		}
		earlier := active.Len()

		// Starts are sorted, so the events starting before ev ends are a
		// prefix; the ones after i in that prefix overlap ev.
		end := ev.Interval.End
		startingBefore := sort.Search(len(starts), func(j int) bool {
			return !starts[j].Before(end)
		})
		later := startingBefore - i - 1

		counts[ev.ID] += earlier + later
		heap.Push(active, ev)
	}
	return counts, nil
}

// Pair is one overlapping pair found by OverlappingPairs. A starts no later
// than B.
type Pair struct {
	A       model.CalendarEvent `json:"a"`
	B       model.CalendarEvent `json:"b"`
	Overlap model.TimeInterval  `json:"overlap"`
}

// OverlappingPairs lists every overlapping pair of timed pool events once,
// using the same sweep as DetectBatch with the active set enumerated.
// Cost is O(n log n + k) for k pairs. Pairs come out ordered by B, then A.
func OverlappingPairs(pool []model.CalendarEvent) ([]Pair, error) {
	events, err := timedSorted(pool)
	if err != nil {
		return nil, err
	}

	var pairs []Pair
	active := &endHeap{}
	for _, ev := range events {
		for active.Len() > 0 && !active.peek().Interval.End.After(ev.Interval.Start) {
			heap.Pop(active)
		}

		running := slices.Clone(active.items)
		slices.SortFunc(running, compareEvents)
		for _, other := range running {
			overlap, ok := other.Interval.Intersection(ev.Interval)
			if !ok {
				continue
			}
			pairs = append(pairs, Pair{A: other, B: ev, Overlap: overlap})
		}
		heap.Push(active, ev)
	}
	return pairs, nil
}

// timedSorted drops all-day events, validates the rest and sorts them by
// start, end and ID.
func timedSorted(pool []model.CalendarEvent) ([]model.CalendarEvent, error) {
	events := make([]model.CalendarEvent, 0, len(pool))
	for _, ev := range pool {
		if ev.AllDay {
			continue
		}
		if err := ev.Interval.Validate(); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	slices.SortFunc(events, compareEvents)
	return events, nil
}

// endHeap is a min-heap of running events keyed by interval end.
type endHeap struct {
	items []model.CalendarEvent
}

func (h *endHeap) Len() int { return len(h.items) }

func (h *endHeap) Less(i, j int) bool {
	return h.items[i].Interval.End.Before(h.items[j].Interval.End)
}

func (h *endHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *endHeap) Push(x any) { h.items = append(h.items, x.(model.CalendarEvent)) }

func (h *endHeap) Pop() any {
	n := len(h.items)
	it := h.items[n-1]
	h.items = h.items[:n-1]
	return it
}

func (h *endHeap) peek() model.CalendarEvent { return h.items[0] }
