package agenda

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dayplan/internal/ics"
	"dayplan/internal/model"
)

type stubLoader struct {
	mu    sync.Mutex
	feeds []ics.Feed
	errs  []error
	calls int
}

func (l *stubLoader) LoadFeeds(context.Context) ([]ics.Feed, []error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.feeds, l.errs
}

func (l *stubLoader) set(feeds []ics.Feed, errs []error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.feeds, l.errs = feeds, errs
}

type recordingRecorder struct {
	mu          sync.Mutex
	occurrences int
	truncated   int
	conflicting int
	refreshes   map[string]int
	checks      map[string]int
}

func newRecorder() *recordingRecorder {
	return &recordingRecorder{refreshes: map[string]int{}, checks: map[string]int{}}
}

func (r *recordingRecorder) ObserveWorkingSet(occ, trunc int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.occurrences += occ
	r.truncated += trunc
}

func (r *recordingRecorder) SetConflictingEvents(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicting = n
}

func (r *recordingRecorder) ObserveRefresh(result string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshes[result]++
}

func (r *recordingRecorder) ObserveConflictCheck(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[result]++
}

var fixedNow = time.Date(2024, 5, 6, 13, 37, 0, 0, time.UTC) // Monday

func at(d, hh, mm int) time.Time {
	return time.Date(2024, 5, d, hh, mm, 0, 0, time.UTC)
}

func sampleFeeds() []ics.Feed {
	return []ics.Feed{{
		Source: ics.Source{ID: "work"},
		Events: []model.CalendarEvent{
			{
				ID:         "standup",
				SourceID:   "work",
				Interval:   model.TimeInterval{Start: at(6, 9, 0), End: at(6, 9, 30)},
				Recurrence: mo.Some(model.RecurrenceRule{Frequency: model.Daily, Interval: 1, End: model.Count(3)}),
			},
			{
				ID:       "review",
				SourceID: "work",
				Interval: model.TimeInterval{Start: at(7, 9, 15), End: at(7, 10, 0)},
			},
			{
				ID:       "offsite",
				SourceID: "work",
				AllDay:   true,
				Interval: model.TimeInterval{Start: at(7, 0, 0), End: at(8, 0, 0)},
			},
		},
	}}
}

func newTestBuilder(loader FeedLoader, rec *recordingRecorder) *Builder {
	b := NewBuilder(loader, Options{HorizonDays: 7, BackfillDays: 1, WeekStart: "monday"}, rec)
	b.now = func() time.Time { return fixedNow }
	return b
}

func TestBuilder_Window(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	b := NewBuilder(&stubLoader{}, Options{Location: seoul, HorizonDays: 7, BackfillDays: 1}, nil)
	start, end := b.Window(time.Date(2024, 5, 6, 20, 0, 0, 0, time.UTC)) // 05:00 May 7 in Seoul

	assert.Equal(t, time.Date(2024, 5, 6, 0, 0, 0, 0, seoul), start)
	assert.Equal(t, time.Date(2024, 5, 14, 0, 0, 0, 0, seoul), end)
}

func TestBuilder_Build(t *testing.T) {
	rec := newRecorder()
	loader := &stubLoader{feeds: sampleFeeds(), errs: []error{errors.New("ics source home: boom")}}

	snap, err := newTestBuilder(loader, rec).Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, at(5, 0, 0), snap.RangeStart)
	assert.Equal(t, at(13, 0, 0), snap.RangeEnd)
	assert.Equal(t, "UTC", snap.Timezone)
	assert.Equal(t, "monday", snap.WeekStart)
	assert.Len(t, snap.Events, 5) // 3 standups, review, offsite
	assert.Equal(t, []string{"ics source home: boom"}, snap.SourceErrors)

	assert.Equal(t, map[model.EventID]int{
		"standup@2024-05-06T09:00:00Z": 0,
		"standup@2024-05-07T09:00:00Z": 1,
		"standup@2024-05-08T09:00:00Z": 0,
		"review":                       1,
	}, snap.ConflictCounts)
	require.Len(t, snap.Pairs, 1)
	assert.Equal(t, model.EventID("standup@2024-05-07T09:00:00Z"), snap.Pairs[0].A.ID)
	assert.Equal(t, 2, snap.Conflicting())

	assert.Equal(t, 3, rec.occurrences)
	assert.Equal(t, 2, rec.conflicting)

	conflicts, err := snap.Check(model.TimeInterval{Start: at(8, 9, 10), End: at(8, 11, 0)}, false, "")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, 20, conflicts[0].OverlapMinutes)
}

func TestSnapshot_Window(t *testing.T) {
	snap, err := newTestBuilder(&stubLoader{feeds: sampleFeeds()}, newRecorder()).Build(context.Background())
	require.NoError(t, err)

	day, err := snap.Window(at(7, 0, 0), at(8, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, at(7, 0, 0), day.RangeStart)
	assert.Equal(t, at(8, 0, 0), day.RangeEnd)
	assert.Equal(t, snap.BuiltAt, day.BuiltAt)
	assert.Len(t, day.Events, 3) // standup, review, offsite
	assert.Equal(t, map[model.EventID]int{
		"standup@2024-05-07T09:00:00Z": 1,
		"review":                       1,
	}, day.ConflictCounts)
	require.Len(t, day.Pairs, 1)

	// The source snapshot is untouched.
	assert.Len(t, snap.Events, 5)
	assert.Equal(t, at(5, 0, 0), snap.RangeStart)

	empty, err := snap.Window(at(20, 0, 0), at(27, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, empty.Events)
	assert.NotNil(t, empty.Pairs)

	_, err = snap.Window(at(8, 0, 0), at(7, 0, 0))
	assert.ErrorIs(t, err, model.ErrRange)
}

func TestDayWindow(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	start, end := DayWindow(time.Date(2024, 5, 6, 20, 0, 0, 0, time.UTC), seoul, 0, 30)
	assert.Equal(t, time.Date(2024, 5, 7, 0, 0, 0, 0, seoul), start)
	assert.Equal(t, time.Date(2024, 6, 6, 0, 0, 0, 0, seoul), end)
}

func TestBuilder_BuildFailures(t *testing.T) {
	loader := &stubLoader{errs: []error{errors.New("down")}}
	_, err := newTestBuilder(loader, newRecorder()).Build(context.Background())
	assert.ErrorIs(t, err, ErrNoFeeds)

	// No sources at all is an empty snapshot, not a failure.
	snap, err := newTestBuilder(&stubLoader{}, newRecorder()).Build(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Events)
	assert.NotNil(t, snap.Pairs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = newTestBuilder(&stubLoader{feeds: sampleFeeds()}, newRecorder()).Build(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRefresher_KeepsPreviousOnFailure(t *testing.T) {
	rec := newRecorder()
	loader := &stubLoader{feeds: sampleFeeds()}
	r := NewRefresher(newTestBuilder(loader, rec), rec)
	assert.Nil(t, r.Snapshot())

	first, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, r.Snapshot())

	loader.set(nil, []error{errors.New("down")})
	_, err = r.Refresh(context.Background())
	require.Error(t, err)
	assert.Same(t, first, r.Snapshot())

	assert.Equal(t, map[string]int{"ok": 1, "error": 1}, rec.refreshes)
}

func TestRefresher_StartStop(t *testing.T) {
	r := NewRefresher(newTestBuilder(&stubLoader{}, newRecorder()), nil)
	assert.Error(t, r.Start("not a schedule", time.UTC))

	require.NoError(t, r.Start("@every 1h", time.UTC))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.Stop(ctx)

	// Stop without Start is a no-op.
	NewRefresher(newTestBuilder(&stubLoader{}, newRecorder()), nil).Stop(ctx)
}

func TestICSLoader(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.ics")
	bad := filepath.Join(dir, "bad.ics")
	require.NoError(t, os.WriteFile(good, []byte("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nBEGIN:VEVENT\r\nUID:one\r\nDTSTART:20240506T090000Z\r\nDTEND:20240506T100000Z\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"), 0o600))
	require.NoError(t, os.WriteFile(bad, nil, 0o600))

	loader := &ICSLoader{
		Fetcher:  ics.NewFetcher(t.TempDir()),
		Sources:  []ics.Source{{ID: "good", Path: good}, {ID: "bad", Path: bad}},
		Location: time.UTC,
	}
	feeds, errs := loader.LoadFeeds(context.Background())
	require.Len(t, feeds, 1)
	require.Len(t, feeds[0].Events, 1)
	assert.Equal(t, model.EventID("one"), feeds[0].Events[0].ID)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "bad")
}
