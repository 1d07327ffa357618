package ics

import (
	"strings"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dayplan/internal/model"
)

func utc(y int, m time.Month, d, hh int) time.Time {
	return time.Date(y, m, d, hh, 0, 0, 0, time.UTC)
}

func ids(events []model.CalendarEvent) []model.EventID {
	out := make([]model.EventID, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.ID)
	}
	return out
}

func TestBuildWorkingSet(t *testing.T) {
	daily := model.CalendarEvent{
		ID:         "daily",
		Interval:   model.TimeInterval{Start: utc(2024, 5, 1, 9), End: utc(2024, 5, 1, 10)},
		Recurrence: mo.Some(model.RecurrenceRule{Frequency: model.Daily, Interval: 1, End: model.Never()}),
		ExDates:    []time.Time{utc(2024, 5, 3, 9)},
	}
	single := model.CalendarEvent{
		ID:       "review",
		Interval: model.TimeInterval{Start: utc(2024, 5, 2, 9), End: utc(2024, 5, 2, 11)},
	}
	outside := model.CalendarEvent{
		ID:       "old",
		Interval: model.TimeInterval{Start: utc(2024, 4, 1, 9), End: utc(2024, 4, 1, 10)},
	}
	feeds := []Feed{{
		Source: Source{ID: "work"},
		Events: []model.CalendarEvent{single, daily, outside},
		Overrides: []Override{
			{SeedID: "daily", RecurrenceID: utc(2024, 5, 4, 9), Event: model.CalendarEvent{
				ID:       "daily",
				Title:    "moved",
				Interval: model.TimeInterval{Start: utc(2024, 5, 4, 15), End: utc(2024, 5, 4, 16)},
			}},
			{SeedID: "daily", RecurrenceID: utc(2024, 5, 2, 9), Cancelled: true},
		},
	}}

	ws, err := BuildWorkingSet(feeds, WorkingSetConfig{RangeStart: utc(2024, 5, 1, 0), RangeEnd: utc(2024, 5, 5, 0)})
	require.NoError(t, err)

	assert.Equal(t, []model.EventID{
		"daily@2024-05-01T09:00:00Z",
		"review",
		"daily@2024-05-04T09:00:00Z", // override, moved to 15:00
	}, ids(ws.Events))
	assert.Equal(t, 1, ws.Occurrences)
	assert.Empty(t, ws.Truncated)

	for _, ev := range ws.Events {
		assert.False(t, ev.IsSeed())
		assert.Empty(t, ev.ExDates)
	}
	assert.Equal(t, "moved", ws.Events[2].Title)
	assert.Equal(t, 15, ws.Events[2].Interval.Start.Hour())
}

func TestBuildWorkingSet_Truncation(t *testing.T) {
	seed := model.CalendarEvent{
		ID:         "hourly-ish",
		Interval:   model.TimeInterval{Start: utc(2024, 1, 1, 8), End: utc(2024, 1, 1, 9)},
		Recurrence: mo.Some(model.RecurrenceRule{Frequency: model.Daily, Interval: 1, End: model.Never()}),
	}
	ws, err := BuildWorkingSet([]Feed{{Events: []model.CalendarEvent{seed}}}, WorkingSetConfig{
		RangeStart:            utc(2024, 1, 1, 0),
		RangeEnd:              utc(2025, 1, 1, 0),
		MaxOccurrencesPerSeed: 10,
	})
	require.NoError(t, err)
	assert.Len(t, ws.Events, 10)
	assert.Equal(t, 10, ws.Occurrences)
	assert.Equal(t, []model.EventID{"hourly-ish"}, ws.Truncated)
}

func TestBuildWorkingSet_InvalidSeedSkipped(t *testing.T) {
	bad := model.CalendarEvent{
		ID:         "bad",
		Interval:   model.TimeInterval{Start: utc(2024, 1, 1, 8), End: utc(2024, 1, 1, 9)},
		Recurrence: mo.Some(model.RecurrenceRule{Frequency: model.Daily, Interval: 0, End: model.Never()}),
	}
	good := model.CalendarEvent{
		ID:       "good",
		Interval: model.TimeInterval{Start: utc(2024, 1, 1, 8), End: utc(2024, 1, 1, 9)},
	}
	ws, err := BuildWorkingSet([]Feed{{Events: []model.CalendarEvent{bad, good}}}, WorkingSetConfig{
		RangeStart: utc(2024, 1, 1, 0),
		RangeEnd:   utc(2024, 1, 2, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, []model.EventID{"good"}, ids(ws.Events))
}

func TestBuildWorkingSet_BadRange(t *testing.T) {
	_, err := BuildWorkingSet(nil, WorkingSetConfig{RangeStart: utc(2024, 1, 2, 0), RangeEnd: utc(2024, 1, 1, 0)})
	assert.ErrorIs(t, err, model.ErrRange)
}

func TestBuildWorkingSet_FromICS(t *testing.T) {
	body := calendar(`
UID:standup
DTSTART:20240506T090000Z
DTEND:20240506T091500Z
RRULE:FREQ=WEEKLY;BYDAY=MO,WE,FR;COUNT=6
EXDATE:20240508T090000Z
`)
	feed, err := ParseICS(testSource, body, time.UTC)
	require.NoError(t, err)

	ws, err := BuildWorkingSet([]Feed{feed}, WorkingSetConfig{RangeStart: utc(2024, 5, 1, 0), RangeEnd: utc(2024, 6, 1, 0)})
	require.NoError(t, err)

	var days []int
	for _, ev := range ws.Events {
		days = append(days, ev.Interval.Start.Day())
		assert.Equal(t, "work", ev.SourceID)
	}
	assert.Equal(t, []int{6, 10, 13, 15, 17}, days)
}

func TestBuildWorkingSet_DateOnlyExdate(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	body := calendar(`
UID:standup
DTSTART;TZID=Asia/Seoul:20240513T090000
DTEND;TZID=Asia/Seoul:20240513T093000
RRULE:FREQ=DAILY;COUNT=5
EXDATE;VALUE=DATE:20240515
`, `
UID:offsite
DTSTART;VALUE=DATE:20240513
RRULE:FREQ=DAILY;COUNT=3
EXDATE;VALUE=DATE:20240514
`)
	feed, err := ParseICS(testSource, body, seoul)
	require.NoError(t, err)
	require.Len(t, feed.Events, 2)
	standup := feed.Events[0]
	assert.Empty(t, standup.ExDates)
	require.Len(t, standup.ExDays, 1)

	ws, err := BuildWorkingSet([]Feed{feed}, WorkingSetConfig{
		RangeStart: time.Date(2024, 5, 1, 0, 0, 0, 0, seoul),
		RangeEnd:   time.Date(2024, 6, 1, 0, 0, 0, 0, seoul),
	})
	require.NoError(t, err)

	days := map[string][]int{}
	for _, ev := range ws.Events {
		seed, _, _ := strings.Cut(string(ev.ID), "@")
		days[seed] = append(days[seed], ev.Interval.Start.In(seoul).Day())
		assert.Empty(t, ev.ExDays)
	}
	assert.Equal(t, []int{13, 14, 16, 17}, days["standup"])
	assert.Equal(t, []int{13, 15}, days["offsite"])
}
