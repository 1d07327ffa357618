package ics

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/samber/mo"

	appLog "dayplan/internal/log"
	"dayplan/internal/model"
	"dayplan/internal/recurrence"
)

// Override is a VEVENT carrying RECURRENCE-ID: it replaces the occurrence
// of SeedID that would have started at RecurrenceID.
type Override struct {
	SeedID       model.EventID
	RecurrenceID time.Time
	// Cancelled overrides only remove the original occurrence.
	Cancelled bool
	Event     model.CalendarEvent
}

// Feed is the parsed content of one ICS source.
type Feed struct {
	Source    Source
	Events    []model.CalendarEvent
	Overrides []Override
}

// ParseICS parses one ICS payload. Floating and DATE values are resolved in
// loc; a nil loc means UTC.
//
// Rules applied per VEVENT:
//   - missing UID: a random EventID is generated
//   - DATE-valued DTSTART: all-day event
//   - missing DTEND: DURATION if present, else one day (all-day) or one hour
//   - RRULE outside the supported model: logged, event kept non-recurring
//   - EXDATE values collected into ExDates, DATE values into ExDays
//   - STATUS:CANCELLED events are dropped
//
// A VEVENT that cannot be parsed is logged and skipped.
func ParseICS(src Source, body []byte, loc *time.Location) (Feed, error) {
	feed := Feed{Source: src}
	if len(body) == 0 {
		return feed, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.UTC
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return feed, fmt.Errorf("ics parse: %w", err)
	}

	for _, ve := range cal.Events() {
		p, perr := parseVEvent(src, ve, loc)
		if perr != nil {
			appLog.Warn("ics vevent skipped", "id", src.ID, "err", perr)
			continue
		}
		switch {
		case p.override != nil:
			feed.Overrides = append(feed.Overrides, *p.override)
		case p.cancelled:
			appLog.Debug("ics cancelled event dropped", "id", src.ID, "uid", p.event.ID)
		default:
			feed.Events = append(feed.Events, p.event)
		}
	}

	appLog.Info("ics parse completed", "id", src.ID, "events", len(feed.Events), "overrides", len(feed.Overrides))
	return feed, nil
}

type parsedVEvent struct {
	event     model.CalendarEvent
	cancelled bool
	override  *Override
}

func parseVEvent(src Source, ve *ical.VEvent, loc *time.Location) (parsedVEvent, error) {
	var out parsedVEvent
	ev := &out.event
	ev.SourceID = src.ID

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil && strings.TrimSpace(p.Value) != "" {
		ev.ID = model.EventID(strings.TrimSpace(p.Value))
	} else {
		ev.ID = model.NewEventID()
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.Title = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil && p.Value != "" {
		ev.Location = mo.Some(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		out.cancelled = strings.EqualFold(strings.TrimSpace(p.Value), "CANCELLED")
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, fmt.Errorf("uid %s: missing DTSTART", ev.ID)
	}
	start, allDay, err := parseICSTime(dtStart.Value, dtStart.ICalParameters, loc)
	if err != nil {
		return out, fmt.Errorf("uid %s: DTSTART: %w", ev.ID, err)
	}
	ev.AllDay = allDay

	end, err := eventEnd(ve, start, allDay, loc)
	if err != nil {
		return out, fmt.Errorf("uid %s: %w", ev.ID, err)
	}
	ev.Interval = model.TimeInterval{Start: start, End: end}
	if err := ev.Interval.Validate(); err != nil {
		return out, fmt.Errorf("uid %s: %w", ev.ID, err)
	}

	if rid := ve.GetProperty(ical.ComponentPropertyRecurrenceId); rid != nil {
		t, _, err := parseICSTime(rid.Value, rid.ICalParameters, loc)
		if err != nil {
			return out, fmt.Errorf("uid %s: RECURRENCE-ID: %w", ev.ID, err)
		}
		out.override = &Override{SeedID: ev.ID, RecurrenceID: t, Cancelled: out.cancelled, Event: *ev}
		return out, nil
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil && p.Value != "" {
		rule, err := recurrence.ParseRRule(p.Value, start.Location())
		switch {
		case err != nil:
			appLog.Warn("ics rrule not supported, keeping single event", "id", src.ID, "uid", ev.ID, "rrule", p.Value, "err", err)
		case rule.Validate(start) != nil:
			appLog.Warn("ics rrule invalid for DTSTART, keeping single event", "id", src.ID, "uid", ev.ID, "rrule", p.Value, "err", rule.Validate(start))
		default:
			ev.Recurrence = mo.Some(rule)
		}
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, dateOnly, err := parseICSTime(part, p.ICalParameters, loc)
			if err != nil {
				appLog.Debug("ics exdate ignored", "uid", ev.ID, "value", part, "err", err)
				continue
			}
			if dateOnly {
				ev.ExDays = append(ev.ExDays, t)
			} else {
				ev.ExDates = append(ev.ExDates, t)
			}
		}
	}

	return out, nil
}

func eventEnd(ve *ical.VEvent, start time.Time, allDay bool, loc *time.Location) (time.Time, error) {
	if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil {
		end, _, err := parseICSTime(p.Value, p.ICalParameters, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("DTEND: %w", err)
		}
		return end, nil
	}
	if p := ve.GetProperty(ical.ComponentPropertyDuration); p != nil {
		days, d, err := parseDuration(p.Value)
		if err != nil {
			return time.Time{}, fmt.Errorf("DURATION: %w", err)
		}
		return start.AddDate(0, 0, days).Add(d), nil
	}
	if allDay {
		return start.AddDate(0, 0, 1), nil
	}
	return start.Add(time.Hour), nil
}

// parseICSTime parses a DATE or DATE-TIME value with its TZID/VALUE
// parameters. UTC values stay in UTC, TZID values use that zone, floating
// and DATE values use loc. allDay reports a DATE value.
func parseICSTime(v string, params map[string][]string, loc *time.Location) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}

	if tzs, ok := params[string(ical.ParameterTzid)]; ok && len(tzs) > 0 && tzs[0] != "" {
		tz, err := time.LoadLocation(strings.Trim(tzs[0], `"`))
		if err != nil {
			appLog.Debug("ics unknown TZID, using calendar zone", "tzid", tzs[0])
		} else {
			loc = tz
		}
	}

	isDate := !strings.Contains(v, "T")
	if vs, ok := params[string(ical.ParameterValue)]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		isDate = true
	}

	switch {
	case isDate:
		t, err := time.ParseInLocation("20060102", strings.TrimSuffix(v, "Z"), loc)
		return t, true, err
	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err
	default:
		t, err := time.ParseInLocation("20060102T150405", v, loc)
		return t, false, err
	}
}

var durationPattern = regexp.MustCompile(`^([+-])?P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// parseDuration parses an RFC 5545 DURATION into calendar days plus an
// exact duration, so that day parts follow the wall clock across DST.
func parseDuration(v string) (int, time.Duration, error) {
	m := durationPattern.FindStringSubmatch(strings.TrimSpace(v))
	if m == nil || v == "P" || strings.HasSuffix(v, "T") {
		return 0, 0, fmt.Errorf("malformed duration %q", v)
	}
	num := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}

	days := num(m[2])*7 + num(m[3])
	d := time.Duration(num(m[4]))*time.Hour +
		time.Duration(num(m[5]))*time.Minute +
		time.Duration(num(m[6]))*time.Second
	if m[1] == "-" {
		days, d = -days, -d
	}
	return days, d, nil
}
