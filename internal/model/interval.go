package model

import "time"

// TimeInterval is the half-open interval [Start, End).
type TimeInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewInterval builds an interval, rejecting end <= start.
func NewInterval(start, end time.Time) (TimeInterval, error) {
	iv := TimeInterval{Start: start, End: end}
	if err := iv.Validate(); err != nil {
		return TimeInterval{}, err
	}
	return iv, nil
}

// Validate reports a *ValidationError when the interval is empty or inverted.
func (iv TimeInterval) Validate() error {
	if !iv.End.After(iv.Start) {
		return validationErrorf("interval", "end %s is not after start %s",
			iv.End.Format(time.RFC3339), iv.Start.Format(time.RFC3339))
	}
	return nil
}

func (iv TimeInterval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Intersection returns the overlap of two intervals. ok is false unless the
// overlap has positive length, so touching intervals do not intersect.
func (iv TimeInterval) Intersection(other TimeInterval) (TimeInterval, bool) {
	start := iv.Start
	if other.Start.After(start) {
		start = other.Start
	}
	end := iv.End
	if other.End.Before(end) {
		end = other.End
	}
	if !end.After(start) {
		return TimeInterval{}, false
	}
	return TimeInterval{Start: start, End: end}, true
}

// Overlaps reports whether the intervals share a positive-length span.
func (iv TimeInterval) Overlaps(other TimeInterval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// IntersectsRange reports whether iv intersects [rangeStart, rangeEnd).
func (iv TimeInterval) IntersectsRange(rangeStart, rangeEnd time.Time) bool {
	return iv.Start.Before(rangeEnd) && iv.End.After(rangeStart)
}

// Contains reports whether t lies inside [Start, End).
func (iv TimeInterval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}
