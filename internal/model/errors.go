package model

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels for errors.Is checks at package boundaries.
var (
	ErrValidation = errors.New("validation failed")
	ErrRange      = errors.New("invalid range")
)

// ValidationError reports a malformed rule or interval. Field names the
// violated constraint (interval, count, weekdays, until, frequency, end).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func validationErrorf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// RangeError is returned when a query range ends before it starts.
type RangeError struct {
	Start time.Time
	End   time.Time
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range end %s is before range start %s",
		e.End.Format(time.RFC3339), e.Start.Format(time.RFC3339))
}

func (e *RangeError) Is(target error) bool {
	return target == ErrRange
}

// CheckRange returns a *RangeError when end < start. An empty range is valid.
func CheckRange(start, end time.Time) error {
	if end.Before(start) {
		return &RangeError{Start: start, End: end}
	}
	return nil
}
