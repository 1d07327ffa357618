// Package agenda turns configured ICS feeds into a conflict-annotated
// snapshot of the visible horizon and keeps it fresh.
package agenda

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dayplan/internal/conflict"
	"dayplan/internal/ics"
	appLog "dayplan/internal/log"
	"dayplan/internal/metrics"
	"dayplan/internal/model"
)

// ErrNoFeeds is returned when every configured source failed.
var ErrNoFeeds = errors.New("agenda: no feed could be loaded")

// FeedLoader supplies parsed feeds for one build.
type FeedLoader interface {
	LoadFeeds(ctx context.Context) ([]ics.Feed, []error)
}

// ICSLoader fetches and parses ICS sources.
type ICSLoader struct {
	Fetcher  *ics.Fetcher
	Sources  []ics.Source
	Location *time.Location
}

// LoadFeeds fetches every source and parses the bodies. Per-source
// failures are returned alongside the feeds that did load.
func (l *ICSLoader) LoadFeeds(ctx context.Context) ([]ics.Feed, []error) {
	results, errs := l.Fetcher.FetchAll(ctx, l.Sources)

	feeds := make([]ics.Feed, 0, len(results))
	for _, res := range results {
		feed, err := ics.ParseICS(res.Source, res.Body, l.Location)
		if err != nil {
			appLog.Error("agenda: parse failed for source", err, "id", res.Source.ID)
			errs = append(errs, fmt.Errorf("ics source %s: %w", res.Source.ID, err))
			continue
		}
		feeds = append(feeds, feed)
	}
	return feeds, errs
}

// Options shape the snapshot window.
type Options struct {
	// Location is the local calendar; nil means UTC.
	Location *time.Location
	// WeekStart is passed through to API clients ("monday" or "sunday").
	WeekStart             string
	HorizonDays           int
	BackfillDays          int
	MaxOccurrencesPerSeed int
}

// Snapshot is one immutable build of the working set with its conflicts.
type Snapshot struct {
	BuiltAt    time.Time `json:"built_at"`
	RangeStart time.Time `json:"range_start"`
	RangeEnd   time.Time `json:"range_end"`
	Timezone   string    `json:"timezone"`
	WeekStart  string    `json:"week_start"`

	Events    []model.CalendarEvent `json:"events"`
	Truncated []model.EventID       `json:"truncated,omitempty"`

	// ConflictCounts has an entry for every timed event.
	ConflictCounts map[model.EventID]int `json:"conflict_counts"`
	Pairs          []conflict.Pair       `json:"pairs"`

	SourceErrors []string `json:"source_errors,omitempty"`

	// Parsed feeds behind the build, kept so other windows can be derived
	// without fetching again.
	loc                   *time.Location
	feeds                 []ics.Feed
	maxOccurrencesPerSeed int
}

// Conflicting returns how many timed events overlap at least one other.
func (s *Snapshot) Conflicting() int {
	n := 0
	for _, c := range s.ConflictCounts {
		if c > 0 {
			n++
		}
	}
	return n
}

// Check runs single-candidate detection against the snapshot's events.
func (s *Snapshot) Check(candidate model.TimeInterval, allDay bool, excludeID model.EventID) ([]model.EventConflict, error) {
	return conflict.Detect(candidate, allDay, excludeID, s.Events)
}

// Location returns the local calendar the snapshot was built in.
func (s *Snapshot) Location() *time.Location {
	if s.loc == nil {
		return time.UTC
	}
	return s.loc
}

// Window derives a snapshot covering [start, end) from the same feeds.
// BuiltAt and SourceErrors carry over. An inverted range is a
// model.RangeError.
func (s *Snapshot) Window(start, end time.Time) (*Snapshot, error) {
	out := &Snapshot{
		BuiltAt:               s.BuiltAt,
		Timezone:              s.Timezone,
		WeekStart:             s.WeekStart,
		SourceErrors:          s.SourceErrors,
		loc:                   s.loc,
		feeds:                 s.feeds,
		maxOccurrencesPerSeed: s.maxOccurrencesPerSeed,
	}
	if _, err := out.fill(start, end); err != nil {
		return nil, err
	}
	return out, nil
}

// fill computes the working set, batch counts and pairs for [start, end).
func (s *Snapshot) fill(start, end time.Time) (ics.WorkingSet, error) {
	ws, err := ics.BuildWorkingSet(s.feeds, ics.WorkingSetConfig{
		RangeStart:            start,
		RangeEnd:              end,
		MaxOccurrencesPerSeed: s.maxOccurrencesPerSeed,
	})
	if err != nil {
		return ws, fmt.Errorf("agenda: working set: %w", err)
	}

	counts, err := conflict.DetectBatch(ws.Events)
	if err != nil {
		return ws, fmt.Errorf("agenda: batch conflicts: %w", err)
	}
	pairs, err := conflict.OverlappingPairs(ws.Events)
	if err != nil {
		return ws, fmt.Errorf("agenda: overlapping pairs: %w", err)
	}

	s.RangeStart, s.RangeEnd = start, end
	s.Events = ws.Events
	s.Truncated = ws.Truncated
	s.ConflictCounts = counts
	s.Pairs = pairs
	if s.Events == nil {
		s.Events = []model.CalendarEvent{}
	}
	if s.Pairs == nil {
		s.Pairs = []conflict.Pair{}
	}
	return ws, nil
}

// DayWindow returns [local midnight - backfill days, local midnight + days).
func DayWindow(now time.Time, loc *time.Location, backfill, days int) (time.Time, time.Time) {
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return midnight.AddDate(0, 0, -backfill), midnight.AddDate(0, 0, days)
}

// Builder assembles snapshots.
type Builder struct {
	loader FeedLoader
	opts   Options
	rec    metrics.Recorder
	now    func() time.Time
}

// NewBuilder creates a Builder. A nil rec records nothing.
func NewBuilder(loader FeedLoader, opts Options, rec metrics.Recorder) *Builder {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Builder{loader: loader, opts: opts, rec: rec, now: time.Now}
}

// Window returns [local midnight - backfill days, local midnight + horizon days).
func (b *Builder) Window(now time.Time) (time.Time, time.Time) {
	return DayWindow(now, b.opts.Location, b.opts.BackfillDays, b.opts.HorizonDays)
}

// Build loads feeds and computes the working set and its conflicts.
// It fails only when nothing could be loaded from a non-empty source list
// or the detector rejects the working set.
func (b *Builder) Build(ctx context.Context) (*Snapshot, error) {
	now := b.now()
	rangeStart, rangeEnd := b.Window(now)

	feeds, loadErrs := b.loader.LoadFeeds(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(feeds) == 0 && len(loadErrs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrNoFeeds, errors.Join(loadErrs...))
	}

	snap := &Snapshot{
		BuiltAt:               now,
		Timezone:              b.opts.Location.String(),
		WeekStart:             b.opts.WeekStart,
		loc:                   b.opts.Location,
		feeds:                 feeds,
		maxOccurrencesPerSeed: b.opts.MaxOccurrencesPerSeed,
	}
	ws, err := snap.fill(rangeStart, rangeEnd)
	if err != nil {
		return nil, err
	}
	b.rec.ObserveWorkingSet(ws.Occurrences, len(ws.Truncated))
	for _, e := range loadErrs {
		snap.SourceErrors = append(snap.SourceErrors, e.Error())
	}
	b.rec.SetConflictingEvents(snap.Conflicting())

	appLog.Info("agenda: snapshot built",
		"events", len(snap.Events),
		"occurrences", ws.Occurrences,
		"truncated", len(snap.Truncated),
		"conflicting", snap.Conflicting(),
		"pairs", len(snap.Pairs),
		"source_errors", len(snap.SourceErrors),
		"range_start", rangeStart.Format(time.RFC3339),
		"range_end", rangeEnd.Format(time.RFC3339),
	)
	return snap, nil
}
