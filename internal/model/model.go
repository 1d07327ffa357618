package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// EventID is an opaque event identifier. Expanded occurrences use
// "<seed id>@<RFC3339 start>".
type EventID string

// NewEventID returns a random identifier for events that arrive without one.
func NewEventID() EventID {
	return EventID(uuid.NewString())
}

// CalendarEvent is a plain event record as supplied by a data store.
// An event whose Recurrence is present is a seed; its Interval defines the
// first occurrence's anchor start and every occurrence's duration.
type CalendarEvent struct {
	ID       EventID      `json:"id"`
	SourceID string       `json:"source_id,omitempty"`
	Interval TimeInterval `json:"interval"`
	AllDay   bool         `json:"all_day"`
	Title    string       `json:"title"`

	Location   mo.Option[string]         `json:"location"`
	Recurrence mo.Option[RecurrenceRule] `json:"recurrence"`

	// ExDates lists occurrence starts removed from a seed (ICS EXDATE).
	ExDates []time.Time `json:"exdates,omitempty"`
	// ExDays lists whole dates removed from a seed (EXDATE;VALUE=DATE).
	// Every occurrence starting on such a date is dropped.
	ExDays []time.Time `json:"exdays,omitempty"`
}

// IsSeed reports whether the event carries a recurrence rule.
func (e CalendarEvent) IsSeed() bool {
	return e.Recurrence.IsPresent()
}

// Validate checks the interval of timed events and the rule of seeds.
// All-day events skip the interval check; they never take part in
// interval arithmetic.
func (e CalendarEvent) Validate() error {
	if !e.AllDay {
		if err := e.Interval.Validate(); err != nil {
			return err
		}
	}
	if rule, ok := e.Recurrence.Get(); ok {
		return rule.Validate(e.Interval.Start)
	}
	return nil
}

// OccurrenceID is the stable identifier of one occurrence of a seed.
func OccurrenceID(seed EventID, start time.Time) EventID {
	return EventID(string(seed) + "@" + start.UTC().Format(time.RFC3339))
}

// EventConflict is a strictly positive overlap between a candidate and Event.
type EventConflict struct {
	Event          CalendarEvent `json:"event"`
	OverlapStart   time.Time     `json:"overlap_start"`
	OverlapEnd     time.Time     `json:"overlap_end"`
	OverlapMinutes int           `json:"overlap_minutes"`
}
