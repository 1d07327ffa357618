package ics

import (
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dayplan/internal/model"
)

func calendar(events ...string) []byte {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//dayplan//test//EN\r\n")
	for _, ev := range events {
		b.WriteString("BEGIN:VEVENT\r\n")
		for _, line := range strings.Split(strings.TrimSpace(ev), "\n") {
			b.WriteString(strings.TrimSpace(line))
			b.WriteString("\r\n")
		}
		b.WriteString("END:VEVENT\r\n")
	}
	b.WriteString("END:VCALENDAR\r\n")
	return []byte(b.String())
}

var testSource = Source{ID: "work", Name: "Work", URL: "https://example.com/work.ics"}

func TestParseICS_Basic(t *testing.T) {
	body := calendar(`
UID:standup
SUMMARY:Standup
LOCATION:Room 1
DTSTART:20240506T090000Z
DTEND:20240506T091500Z
RRULE:FREQ=WEEKLY;BYDAY=MO,WE,FR;COUNT=6
EXDATE:20240508T090000Z
`, `
UID:lunch
SUMMARY:Lunch
DTSTART;TZID=Asia/Seoul:20240506T120000
DTEND;TZID=Asia/Seoul:20240506T130000
`)

	feed, err := ParseICS(testSource, body, time.UTC)
	require.NoError(t, err)
	require.Len(t, feed.Events, 2)
	assert.Empty(t, feed.Overrides)

	standup := feed.Events[0]
	assert.Equal(t, model.EventID("standup"), standup.ID)
	assert.Equal(t, "work", standup.SourceID)
	assert.Equal(t, "Standup", standup.Title)
	assert.Equal(t, "Room 1", standup.Location.OrEmpty())
	assert.False(t, standup.AllDay)
	assert.Equal(t, 15*time.Minute, standup.Interval.Duration())

	rule, ok := standup.Recurrence.Get()
	require.True(t, ok)
	assert.Equal(t, model.Weekly, rule.Frequency)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday, time.Friday}, rule.Weekdays)
	n, _ := rule.End.CountLimit()
	assert.Equal(t, 6, n)
	require.Len(t, standup.ExDates, 1)
	assert.True(t, standup.ExDates[0].Equal(time.Date(2024, 5, 8, 9, 0, 0, 0, time.UTC)))

	lunch := feed.Events[1]
	assert.False(t, lunch.IsSeed())
	assert.True(t, lunch.Interval.Start.Equal(time.Date(2024, 5, 6, 3, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Asia/Seoul", lunch.Interval.Start.Location().String())
	assert.False(t, lunch.Location.IsPresent())
}

func TestParseICS_Defaults(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	body := calendar(`
SUMMARY:No UID, no end
DTSTART:20240506T100000
`, `
UID:holiday
SUMMARY:Holiday
DTSTART;VALUE=DATE:20240506
`, `
UID:workshop
DTSTART:20240506T100000Z
DURATION:PT1H30M
`, `
UID:dropped
STATUS:CANCELLED
DTSTART:20240506T100000Z
`)

	feed, err := ParseICS(testSource, body, seoul)
	require.NoError(t, err)
	require.Len(t, feed.Events, 3)

	floating := feed.Events[0]
	assert.NotEmpty(t, floating.ID)
	assert.Equal(t, time.Date(2024, 5, 6, 10, 0, 0, 0, seoul), floating.Interval.Start)
	assert.Equal(t, time.Hour, floating.Interval.Duration())

	holiday := feed.Events[1]
	assert.True(t, holiday.AllDay)
	assert.Equal(t, time.Date(2024, 5, 6, 0, 0, 0, 0, seoul), holiday.Interval.Start)
	assert.Equal(t, time.Date(2024, 5, 7, 0, 0, 0, 0, seoul), holiday.Interval.End)

	assert.Equal(t, 90*time.Minute, feed.Events[2].Interval.Duration())
}

func TestParseICS_UnsupportedRuleKeepsEvent(t *testing.T) {
	body := calendar(`
UID:nth
DTSTART:20240506T090000Z
DTEND:20240506T100000Z
RRULE:FREQ=MONTHLY;BYDAY=1MO
`)
	feed, err := ParseICS(testSource, body, nil)
	require.NoError(t, err)
	require.Len(t, feed.Events, 1)
	assert.False(t, feed.Events[0].IsSeed())
}

func TestParseICS_OverridesAndSkips(t *testing.T) {
	body := calendar(`
UID:weekly
DTSTART:20240506T090000Z
DTEND:20240506T100000Z
RRULE:FREQ=WEEKLY
`, `
UID:weekly
RECURRENCE-ID:20240513T090000Z
DTSTART:20240513T140000Z
DTEND:20240513T150000Z
`, `
UID:weekly
RECURRENCE-ID:20240520T090000Z
STATUS:CANCELLED
DTSTART:20240520T090000Z
DTEND:20240520T100000Z
`, `
UID:backwards
DTSTART:20240506T100000Z
DTEND:20240506T090000Z
`)

	feed, err := ParseICS(testSource, body, time.UTC)
	require.NoError(t, err)
	require.Len(t, feed.Events, 1, "backwards event is skipped")
	require.Len(t, feed.Overrides, 2)

	moved := feed.Overrides[0]
	assert.Equal(t, model.EventID("weekly"), moved.SeedID)
	assert.True(t, moved.RecurrenceID.Equal(time.Date(2024, 5, 13, 9, 0, 0, 0, time.UTC)))
	assert.False(t, moved.Cancelled)
	assert.Equal(t, 14, moved.Event.Interval.Start.Hour())
	assert.True(t, feed.Overrides[1].Cancelled)
}

func TestParseICS_Errors(t *testing.T) {
	_, err := ParseICS(testSource, nil, time.UTC)
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		days    int
		d       time.Duration
		wantErr bool
	}{
		{"PT1H", 0, time.Hour, false},
		{"P1D", 1, 0, false},
		{"P2W", 14, 0, false},
		{"P1DT2H30M15S", 1, 2*time.Hour + 30*time.Minute + 15*time.Second, false},
		{"-PT15M", 0, -15 * time.Minute, false},
		{"P", 0, 0, true},
		{"PT", 0, 0, true},
		{"1H", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			days, d, err := parseDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.days, days)
			assert.Equal(t, tt.d, d)
		})
	}
}
