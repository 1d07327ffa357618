// Package recurrence expands recurrence rules into concrete occurrences.
package recurrence

import (
	"iter"
	"slices"
	"time"

	"dayplan/internal/model"
)

// Expand returns the occurrences of rule seeded at seed that intersect
// [rangeStart, rangeEnd), in strictly increasing start order.
//
// The seed, the rule and the range are validated before anything is
// returned; an error never comes with a partial result. The sequence is
// lazy and restartable: nothing is generated until it is ranged over, and
// generation stops as soon as the consumer does.
//
// Calendar arithmetic (day-of-month, weekdays, wall clock) is done in the
// location of seed.Start.
func Expand(rule model.RecurrenceRule, seed model.TimeInterval, rangeStart, rangeEnd time.Time) (iter.Seq[model.TimeInterval], error) {
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	if err := rule.Validate(seed.Start); err != nil {
		return nil, err
	}
	if err := model.CheckRange(rangeStart, rangeEnd); err != nil {
		return nil, err
	}

	dur := seed.Duration()
	limit, counted := rule.End.CountLimit()
	until, bounded := rule.End.UntilTime()

	return func(yield func(model.TimeInterval) bool) {
		gen := newGenerator(rule, seed.Start)
		if !counted {
			// COUNT needs every candidate from the anchor; other rules may
			// start just before the first one that can reach the range.
			gen.skipTo(rangeStart.Add(-dur))
		}

		generated := 0
		for {
			start := gen.next()
			if counted && generated >= limit {
				return
			}
			if bounded && start.After(until) {
				return
			}
			if !start.Before(rangeEnd) {
				return
			}
			generated++

			occ := model.TimeInterval{Start: start, End: start.Add(dur)}
			if occ.End.After(rangeStart) {
				if !yield(occ) {
					return
				}
			}
		}
	}, nil
}

// ExpandAll collects Expand into a slice.
func ExpandAll(rule model.RecurrenceRule, seed model.TimeInterval, rangeStart, rangeEnd time.Time) ([]model.TimeInterval, error) {
	seq, err := Expand(rule, seed, rangeStart, rangeEnd)
	if err != nil {
		return nil, err
	}
	return slices.Collect(seq), nil
}

// generator produces candidate starts in strictly increasing order. Every
// candidate is computed from the anchor so month-end clamping never drifts
// (Jan 31, Feb 29, Mar 31 rather than Jan 31, Feb 29, Mar 29).
type generator struct {
	rule   model.RecurrenceRule
	anchor time.Time

	step int
	// Weekly rules with explicit weekdays: Monday offsets in ascending order
	// and the next slot to emit within the current block.
	offsets []int
	slot    int
}

func newGenerator(rule model.RecurrenceRule, anchor time.Time) *generator {
	g := &generator{rule: rule, anchor: anchor}
	if rule.Frequency == model.Weekly && len(rule.Weekdays) > 0 {
		g.offsets = make([]int, 0, len(rule.Weekdays))
		for _, wd := range rule.Weekdays {
			g.offsets = append(g.offsets, model.MondayOffset(wd))
		}
		slices.Sort(g.offsets)
	}
	return g
}

func (g *generator) next() time.Time {
	if g.offsets == nil {
		c := g.candidate(g.step)
		g.step++
		return c
	}

	for {
		if g.slot == len(g.offsets) {
			g.step++
			g.slot = 0
		}
		day := g.blockStart(g.step).AddDate(0, 0, g.offsets[g.slot])
		g.slot++
		c := model.AtClock(day, g.anchor)
		if g.step == 0 && c.Before(g.anchor) {
			continue
		}
		return c
	}
}

// candidate is the k-th start for rules with one occurrence per period.
func (g *generator) candidate(k int) time.Time {
	n := k * g.rule.Interval
	switch g.rule.Frequency {
	case model.Daily:
		return g.anchor.AddDate(0, 0, n)
	case model.Weekly:
		return g.anchor.AddDate(0, 0, 7*n)
	case model.Monthly:
		return model.AddMonthsClamped(g.anchor, n)
	default:
		return model.AddYearsClamped(g.anchor, n)
	}
}

// blockStart is Monday 00:00 of the k-th interval-week block.
func (g *generator) blockStart(k int) time.Time {
	return model.StartOfWeek(g.anchor).AddDate(0, 0, 7*k*g.rule.Interval)
}

// skipTo advances the generator past periods whose candidates all start at
// or before target. Only whole periods are skipped, so no candidate after
// target is ever lost.
func (g *generator) skipTo(target time.Time) {
	if !target.After(g.anchor) {
		return
	}

	var est int
	switch g.rule.Frequency {
	case model.Daily:
		est = model.DaysBetween(g.anchor, target) / g.rule.Interval
	case model.Weekly:
		est = model.DaysBetween(g.anchor, target) / (7 * g.rule.Interval)
	case model.Monthly:
		est = model.MonthsBetween(g.anchor, target) / g.rule.Interval
	default:
		est = model.MonthsBetween(g.anchor, target) / (12 * g.rule.Interval)
	}

	k := max(est, 0)
	if g.offsets != nil {
		// Every candidate of block k-1 precedes the start of block k.
		for k > 0 && g.blockStart(k).After(target) {
			k--
		}
		g.step, g.slot = k, 0
		return
	}
	for k > 0 && g.candidate(k-1).After(target) {
		k--
	}
	g.step = k
}
