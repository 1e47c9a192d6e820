package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time with minute precision, stored as minutes
// since midnight.
type TimeOfDay int

const minutesPerDay = 24 * 60

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	t, err := time.Parse(TimeLayout, strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM", raw)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

// MustTime is ParseTimeOfDay for literals.
func MustTime(raw string) TimeOfDay {
	t, err := ParseTimeOfDay(raw)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) Valid() bool { return t >= 0 && t < minutesPerDay }

// Offset is the duration since midnight.
func (t TimeOfDay) Offset() time.Duration { return time.Duration(t) * time.Minute }

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseDate parses a calendar date in DateLayout. The result is midnight UTC
// and only its year, month and day are meaningful.
func ParseDate(raw string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", raw)
	}
	return d, nil
}

// MustDate is ParseDate for literals.
func MustDate(raw string) time.Time {
	d, err := ParseDate(raw)
	if err != nil {
		panic(err)
	}
	return d
}

// DateOnly drops the clock part of t, keeping its calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// At returns the instant of a calendar date and time of day in loc.
func At(date time.Time, tod TimeOfDay, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc).Add(tod.Offset())
}

// Interval is a busy [Start, End) range on a lab's calendar day.
type Interval struct {
	Start  TimeOfDay `json:"start_time"`
	End    TimeOfDay `json:"end_time"`
	Status string    `json:"status"`
}

// Overlaps reports whether half-open intervals [s1,e1) and [s2,e2) intersect.
func Overlaps(s1, e1, s2, e2 TimeOfDay) bool {
	return s1 < e2 && s2 < e1
}

type LabFilter struct {
	Status string
	Search string
}

type BookingFilter struct {
	Statuses []string
	LabID    string
	UserID   string
	From     time.Time // inclusive, zero means unbounded
	To       time.Time // inclusive, zero means unbounded
}

// Matches applies the filter to b in memory.
func (f BookingFilter) Matches(b *Booking) bool {
	if f.LabID != "" && b.LabID != f.LabID {
		return false
	}
	if f.UserID != "" && b.UserID != f.UserID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if s == b.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.From.IsZero() && b.Date.Before(DateOnly(f.From)) {
		return false
	}
	if !f.To.IsZero() && b.Date.After(DateOnly(f.To)) {
		return false
	}
	return true
}

type UserFilter struct {
	Role   string
	Status string
	Search string
}

// IdempotencyRecord is a stored response for a replayable request.
type IdempotencyRecord struct {
	Key         string    `json:"key"`
	InFlight    bool      `json:"in_flight"`
	StatusCode  int       `json:"status_code,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Body        []byte    `json:"body,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
