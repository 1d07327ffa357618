package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"dayplan/internal/model"
)

// ErrUnsupportedRule marks RRULE features the rule model cannot express.
var ErrUnsupportedRule = errors.New("unsupported RRULE")

// rrule-go numbers weekdays from Monday; time.Weekday from Sunday.
var rruleWeekdays = [7]rrule.Weekday{
	time.Sunday:    rrule.SU,
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
}

// ParseRRule converts an iCalendar RRULE value (with or without the
// "RRULE:" prefix) into a RecurrenceRule. UNTIL values without a zone are
// read in loc. Only FREQ, INTERVAL, COUNT, UNTIL, WKST=MO and plain BYDAY
// on weekly rules are supported.
func ParseRRule(value string, loc *time.Location) (model.RecurrenceRule, error) {
	if loc == nil {
		loc = time.UTC
	}
	opt, err := rrule.StrToROptionInLocation(strings.TrimSpace(value), loc)
	if err != nil {
		return model.RecurrenceRule{}, fmt.Errorf("parse RRULE %q: %w", value, err)
	}

	var rule model.RecurrenceRule
	switch opt.Freq {
	case rrule.DAILY:
		rule.Frequency = model.Daily
	case rrule.WEEKLY:
		rule.Frequency = model.Weekly
	case rrule.MONTHLY:
		rule.Frequency = model.Monthly
	case rrule.YEARLY:
		rule.Frequency = model.Yearly
	default:
		return model.RecurrenceRule{}, fmt.Errorf("%w: FREQ=%s", ErrUnsupportedRule, opt.Freq)
	}

	if part := unsupportedPart(opt); part != "" {
		return model.RecurrenceRule{}, fmt.Errorf("%w: %s", ErrUnsupportedRule, part)
	}

	rule.Interval = opt.Interval
	if rule.Interval == 0 {
		rule.Interval = 1
	}

	if len(opt.Byweekday) > 0 {
		if rule.Frequency != model.Weekly {
			return model.RecurrenceRule{}, fmt.Errorf("%w: BYDAY with FREQ=%s", ErrUnsupportedRule, opt.Freq)
		}
		for _, wd := range opt.Byweekday {
			if wd.N() != 0 {
				return model.RecurrenceRule{}, fmt.Errorf("%w: BYDAY=%s", ErrUnsupportedRule, wd)
			}
			rule.Weekdays = append(rule.Weekdays, time.Weekday((wd.Day()+1)%7))
		}
	}

	switch {
	case opt.Count != 0 && !opt.Until.IsZero():
		return model.RecurrenceRule{}, fmt.Errorf("%w: COUNT and UNTIL together", ErrUnsupportedRule)
	case opt.Count != 0:
		rule.End = model.Count(opt.Count)
	case !opt.Until.IsZero():
		rule.End = model.Until(opt.Until)
	}

	return rule, nil
}

func unsupportedPart(opt *rrule.ROption) string {
	switch {
	case opt.Wkst != rrule.MO:
		return "WKST=" + opt.Wkst.String()
	case len(opt.Bysetpos) > 0:
		return "BYSETPOS"
	case len(opt.Bymonth) > 0:
		return "BYMONTH"
	case len(opt.Bymonthday) > 0:
		return "BYMONTHDAY"
	case len(opt.Byyearday) > 0:
		return "BYYEARDAY"
	case len(opt.Byweekno) > 0:
		return "BYWEEKNO"
	case len(opt.Byhour) > 0:
		return "BYHOUR"
	case len(opt.Byminute) > 0:
		return "BYMINUTE"
	case len(opt.Bysecond) > 0:
		return "BYSECOND"
	case len(opt.Byeaster) > 0:
		return "BYEASTER"
	}
	return ""
}

// ROption converts rule into an rrule-go option anchored at dtstart.
func ROption(rule model.RecurrenceRule, dtstart time.Time) rrule.ROption {
	opt := rrule.ROption{
		Dtstart:  dtstart,
		Interval: rule.Interval,
		Wkst:     rrule.MO,
	}
	switch rule.Frequency {
	case model.Daily:
		opt.Freq = rrule.DAILY
	case model.Weekly:
		opt.Freq = rrule.WEEKLY
	case model.Monthly:
		opt.Freq = rrule.MONTHLY
	default:
		opt.Freq = rrule.YEARLY
	}
	for _, wd := range rule.Weekdays {
		opt.Byweekday = append(opt.Byweekday, rruleWeekdays[wd])
	}
	if n, ok := rule.End.CountLimit(); ok {
		opt.Count = n
	}
	if u, ok := rule.End.UntilTime(); ok {
		opt.Until = u
	}
	return opt
}

// FormatRRule renders rule as an RRULE value (without the "RRULE:" prefix).
func FormatRRule(rule model.RecurrenceRule) string {
	opt := ROption(rule, time.Time{})
	return opt.RRuleString()
}
