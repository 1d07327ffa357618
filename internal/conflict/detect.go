// Package conflict finds time-interval overlaps between calendar events.
//
// All-day events never take part in conflict arithmetic. Intervals are
// half-open, so back-to-back events do not conflict.
package conflict

import (
	"cmp"
	"slices"
	"time"

	"dayplan/internal/model"
)

// Detect returns the pool events that overlap candidate by a strictly
// positive amount, ordered by the conflicting event's start, end and ID.
//
// excludeID removes the candidate's own stored version when editing; an
// empty excludeID excludes nothing. A malformed candidate or timed pool
// interval fails the whole call with a *model.ValidationError.
func Detect(candidate model.TimeInterval, candidateAllDay bool, excludeID model.EventID, pool []model.CalendarEvent) ([]model.EventConflict, error) {
	if candidateAllDay {
		return nil, nil
	}
	if err := candidate.Validate(); err != nil {
		return nil, err
	}

	var conflicts []model.EventConflict
	for _, ev := range pool {
		if ev.AllDay || (excludeID != "" && ev.ID == excludeID) {
			continue
		}
		if err := ev.Interval.Validate(); err != nil {
			return nil, err
		}

		overlap, ok := candidate.Intersection(ev.Interval)
		if !ok {
			continue
		}
		conflicts = append(conflicts, model.EventConflict{
			Event:          ev,
			OverlapStart:   overlap.Start,
			OverlapEnd:     overlap.End,
			OverlapMinutes: int(overlap.Duration() / time.Minute),
		})
	}

	slices.SortFunc(conflicts, func(a, b model.EventConflict) int {
		return compareEvents(a.Event, b.Event)
	})
	return conflicts, nil
}

// HasConflict reports whether Detect would return anything.
func HasConflict(candidate model.TimeInterval, candidateAllDay bool, excludeID model.EventID, pool []model.CalendarEvent) (bool, error) {
	conflicts, err := Detect(candidate, candidateAllDay, excludeID, pool)
	if err != nil {
		return false, err
	}
	return len(conflicts) > 0, nil
}

func compareEvents(a, b model.CalendarEvent) int {
	if c := a.Interval.Start.Compare(b.Interval.Start); c != 0 {
		return c
	}
	if c := a.Interval.End.Compare(b.Interval.End); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}
