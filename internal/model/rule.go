package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Frequency is the period a RecurrenceRule advances by.
type Frequency int

const (
	Daily Frequency = iota + 1
	Weekly
	Monthly
	Yearly
)

func (f Frequency) String() string {
	switch f {
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	case Yearly:
		return "yearly"
	default:
		return fmt.Sprintf("frequency(%d)", int(f))
	}
}

// ParseFrequency accepts the lower-case names produced by String, case-insensitively.
func ParseFrequency(s string) (Frequency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily":
		return Daily, nil
	case "weekly":
		return Weekly, nil
	case "monthly":
		return Monthly, nil
	case "yearly":
		return Yearly, nil
	}
	return 0, validationErrorf("frequency", "unknown frequency %q", s)
}

func (f Frequency) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Frequency) UnmarshalText(b []byte) error {
	v, err := ParseFrequency(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

type endKind int

const (
	endNever endKind = iota
	endUntil
	endCount
)

// RecurrenceEnd bounds a rule: Never, Until(instant) or Count(n). The zero
// value is Never.
type RecurrenceEnd struct {
	kind  endKind
	until time.Time
	count int
}

func Never() RecurrenceEnd { return RecurrenceEnd{} }

func Until(t time.Time) RecurrenceEnd { return RecurrenceEnd{kind: endUntil, until: t} }

func Count(n int) RecurrenceEnd { return RecurrenceEnd{kind: endCount, count: n} }

func (e RecurrenceEnd) IsNever() bool { return e.kind == endNever }

func (e RecurrenceEnd) UntilTime() (time.Time, bool) {
	return e.until, e.kind == endUntil
}

func (e RecurrenceEnd) CountLimit() (int, bool) {
	return e.count, e.kind == endCount
}

func (e RecurrenceEnd) String() string {
	switch e.kind {
	case endUntil:
		return "until " + e.until.Format(time.RFC3339)
	case endCount:
		return fmt.Sprintf("count %d", e.count)
	default:
		return "never"
	}
}

type recurrenceEndJSON struct {
	Type  string     `json:"type"`
	Until *time.Time `json:"until,omitempty"`
	Count int        `json:"count,omitempty"`
}

func (e RecurrenceEnd) MarshalJSON() ([]byte, error) {
	out := recurrenceEndJSON{Type: "never"}
	switch e.kind {
	case endUntil:
		u := e.until
		out.Type, out.Until = "until", &u
	case endCount:
		out.Type, out.Count = "count", e.count
	}
	return json.Marshal(out)
}

func (e *RecurrenceEnd) UnmarshalJSON(b []byte) error {
	var in recurrenceEndJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	switch in.Type {
	case "", "never":
		*e = Never()
	case "until":
		if in.Until == nil {
			return validationErrorf("end", "until requires a timestamp")
		}
		*e = Until(*in.Until)
	case "count":
		*e = Count(in.Count)
	default:
		return validationErrorf("end", "unknown end type %q", in.Type)
	}
	return nil
}

// RecurrenceRule describes how a seed event repeats. Weekdays only matter for
// Weekly rules; empty means the seed's own weekday.
type RecurrenceRule struct {
	Frequency Frequency      `json:"frequency"`
	Interval  int            `json:"interval"`
	Weekdays  []time.Weekday `json:"weekdays,omitempty"`
	End       RecurrenceEnd  `json:"end"`
}

// Validate checks the rule against the seed's start instant.
func (r RecurrenceRule) Validate(seedStart time.Time) error {
	switch r.Frequency {
	case Daily, Weekly, Monthly, Yearly:
	default:
		return validationErrorf("frequency", "unknown frequency %d", int(r.Frequency))
	}
	if r.Interval < 1 {
		return validationErrorf("interval", "must be >= 1, got %d", r.Interval)
	}
	var seen [7]bool
	for _, wd := range r.Weekdays {
		if wd < time.Sunday || wd > time.Saturday {
			return validationErrorf("weekdays", "ordinal %d outside 0..6", int(wd))
		}
		if seen[wd] {
			return validationErrorf("weekdays", "%s listed twice", wd)
		}
		seen[wd] = true
	}
	if n, ok := r.End.CountLimit(); ok && n < 1 {
		return validationErrorf("count", "must be >= 1, got %d", n)
	}
	if u, ok := r.End.UntilTime(); ok && u.Before(seedStart) {
		return validationErrorf("until", "%s is before seed start %s",
			u.Format(time.RFC3339), seedStart.Format(time.RFC3339))
	}
	return nil
}

func (r RecurrenceRule) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s every %d", r.Frequency, r.Interval)
	if len(r.Weekdays) > 0 {
		names := make([]string, len(r.Weekdays))
		for i, wd := range r.Weekdays {
			names[i] = wd.String()[:3]
		}
		fmt.Fprintf(&b, " on %s", strings.Join(names, ","))
	}
	b.WriteString(", ")
	b.WriteString(r.End.String())
	return b.String()
}
