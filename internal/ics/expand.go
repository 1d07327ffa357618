package ics

import (
	"cmp"
	"slices"
	"time"

	"github.com/samber/mo"

	appLog "dayplan/internal/log"
	"dayplan/internal/model"
	"dayplan/internal/recurrence"
)

const defaultMaxOccurrencesPerSeed = 5000

// WorkingSetConfig controls how feeds are flattened into a working set.
type WorkingSetConfig struct {
	// RangeStart / RangeEnd define the half-open window [RangeStart, RangeEnd).
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerSeed caps the occurrences one seed may contribute.
	// Zero means defaultMaxOccurrencesPerSeed.
	MaxOccurrencesPerSeed int
}

// WorkingSet is the flat, non-recurring event list covering a range, ready
// for conflict detection.
type WorkingSet struct {
	Events []model.CalendarEvent
	// Truncated lists seeds that hit MaxOccurrencesPerSeed.
	Truncated []model.EventID
	// Occurrences counts events produced by expanding seeds.
	Occurrences int
}

// BuildWorkingSet expands every seed in feeds over the configured range
// and keeps the non-recurring events intersecting it.
//
// Occurrences get ID "<seed id>@<RFC3339 UTC start>" and lose their
// recurrence. Starts listed in the seed's ExDates, and starts falling on
// one of its ExDays in the seed's own zone, are dropped. An
// Override replaces the occurrence at its RecurrenceID (a cancelled one
// just removes it). A seed whose rule fails validation is logged and
// skipped. The result is sorted by start, end and ID.
func BuildWorkingSet(feeds []Feed, cfg WorkingSetConfig) (WorkingSet, error) {
	var ws WorkingSet
	if err := model.CheckRange(cfg.RangeStart, cfg.RangeEnd); err != nil {
		return ws, err
	}
	if cfg.MaxOccurrencesPerSeed <= 0 {
		cfg.MaxOccurrencesPerSeed = defaultMaxOccurrencesPerSeed
	}

	for _, feed := range feeds {
		replaced := overrideIndex(feed.Overrides)

		for _, ev := range feed.Events {
			rule, ok := ev.Recurrence.Get()
			if !ok {
				if ev.Interval.IntersectsRange(cfg.RangeStart, cfg.RangeEnd) {
					ws.Events = append(ws.Events, ev)
				}
				continue
			}

			n, truncated := expandSeed(&ws, ev, rule, replaced[ev.ID], cfg)
			ws.Occurrences += n
			if truncated {
				ws.Truncated = append(ws.Truncated, ev.ID)
				appLog.Warn("expand: seed truncated at cap", "seed", ev.ID, "source", ev.SourceID, "cap", cfg.MaxOccurrencesPerSeed)
			}
		}

		for _, ov := range feed.Overrides {
			if ov.Cancelled {
				continue
			}
			occ := ov.Event
			occ.ID = model.OccurrenceID(ov.SeedID, ov.RecurrenceID)
			occ.Recurrence = mo.None[model.RecurrenceRule]()
			occ.ExDates = nil
			occ.ExDays = nil
			if occ.Interval.IntersectsRange(cfg.RangeStart, cfg.RangeEnd) {
				ws.Events = append(ws.Events, occ)
			}
		}
	}

	slices.SortFunc(ws.Events, func(a, b model.CalendarEvent) int {
		if c := a.Interval.Start.Compare(b.Interval.Start); c != 0 {
			return c
		}
		if c := a.Interval.End.Compare(b.Interval.End); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return ws, nil
}

// expandSeed appends the seed's occurrences to ws and reports how many were
// added and whether the cap stopped the expansion.
func expandSeed(ws *WorkingSet, seed model.CalendarEvent, rule model.RecurrenceRule, skip []time.Time, cfg WorkingSetConfig) (int, bool) {
	occurrences, err := recurrence.Expand(rule, seed.Interval, cfg.RangeStart, cfg.RangeEnd)
	if err != nil {
		appLog.Warn("expand: seed skipped", "seed", seed.ID, "source", seed.SourceID, "err", err)
		return 0, false
	}

	n := 0
	for iv := range occurrences {
		if containsInstant(seed.ExDates, iv.Start) || onExcludedDay(seed.ExDays, iv.Start) || containsInstant(skip, iv.Start) {
			continue
		}
		if n == cfg.MaxOccurrencesPerSeed {
			return n, true
		}

		occ := seed
		occ.ID = model.OccurrenceID(seed.ID, iv.Start)
		occ.Interval = iv
		occ.Recurrence = mo.None[model.RecurrenceRule]()
		occ.ExDates = nil
		occ.ExDays = nil
		ws.Events = append(ws.Events, occ)
		n++
	}
	return n, false
}

// overrideIndex maps each seed to the occurrence starts its overrides
// replace.
func overrideIndex(overrides []Override) map[model.EventID][]time.Time {
	idx := make(map[model.EventID][]time.Time, len(overrides))
	for _, ov := range overrides {
		idx[ov.SeedID] = append(idx[ov.SeedID], ov.RecurrenceID)
	}
	return idx
}

func containsInstant(ts []time.Time, t time.Time) bool {
	return slices.ContainsFunc(ts, t.Equal)
}

// onExcludedDay reports whether t falls on the calendar date of any day.
func onExcludedDay(days []time.Time, t time.Time) bool {
	y, m, d := t.Date()
	return slices.ContainsFunc(days, func(day time.Time) bool {
		dy, dm, dd := day.Date()
		return dy == y && dm == m && dd == d
	})
}
