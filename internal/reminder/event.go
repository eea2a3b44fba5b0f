package reminder

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// LeadTime is how long before the event a reminder fires.
	LeadTime = 15 * time.Minute
	// Retention is how long after the event a reminder is kept.
	Retention = 24 * time.Hour
)

// TimestampLayout is the millisecond ISO-8601 form used on the wire.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

var ErrInvalidEventTime = errors.New("invalid event time")

// Event is a calendar event snapshot. The scheduler never looks at the
// descriptive fields; they are carried for the notifier.
type Event struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Date         Date   `json:"date"`
	Time         string `json:"time"` // HH:MM
	Type         string `json:"type"`
	Description  string `json:"description"`
	Location     string `json:"location,omitempty"`
	ContactPhone string `json:"contactPhone,omitempty"`
	ContactEmail string `json:"contactEmail,omitempty"`
}

// Date is a calendar date without a time of day.
//
// A Date decoded from a full timestamp remembers that instant: its calendar
// day depends on the zone it is read in (see In). Year, Month and Day then
// hold the day in the timestamp's own offset.
type Date struct {
	Year  int
	Month time.Month
	Day   int

	at time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Year: year, Month: month, Day: day}
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0 && d.at.IsZero()
}

// In returns the calendar day of d in loc. Dates built from a bare
// YYYY-MM-DD are returned unchanged.
func (d Date) In(loc *time.Location) Date {
	if d.at.IsZero() {
		return d
	}
	if loc == nil {
		loc = time.Local
	}
	return DateOf(d.at.In(loc))
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// ParseDate accepts YYYY-MM-DD or a full ISO-8601 timestamp. A timestamp
// keeps its instant so the day can be resolved in the scheduler's zone.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return DateOf(t), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q", s)
	}
	d := DateOf(t)
	d.at = t
	return d, nil
}

// MarshalJSON encodes the date as UTC midnight in ISO form, the shape a
// JavaScript Date serializes to. A decoded timestamp is written back as is.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	if !d.at.IsZero() {
		return json.Marshal(d.at.UTC().Format(TimestampLayout))
	}
	t := time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
	return json.Marshal(t.Format(TimestampLayout))
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

var timeLayouts = []string{"15:04", "15:04:05"}

// Instant combines the event date and wall-clock time in loc.
func (e Event) Instant(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	if e.Date.IsZero() {
		return time.Time{}, fmt.Errorf("%w: missing date", ErrInvalidEventTime)
	}
	d := e.Date.In(loc)
	raw := strings.TrimSpace(e.Time)
	for _, layout := range timeLayouts {
		tod, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		return time.Date(d.Year, d.Month, d.Day, tod.Hour(), tod.Minute(), tod.Second(), 0, loc), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q is not HH:MM", ErrInvalidEventTime, e.Time)
}

// ReminderTime is the instant the reminder for e fires.
func ReminderTime(e Event, loc *time.Location) (time.Time, error) {
	at, err := e.Instant(loc)
	if err != nil {
		return time.Time{}, err
	}
	return at.Add(-LeadTime), nil
}

// Stored is one entry of the persisted reminder set.
type Stored struct {
	ID           string    `json:"id"`
	EventID      string    `json:"eventId"`
	PhoneNumber  string    `json:"phoneNumber"`
	ReminderTime time.Time `json:"reminderTime"`
	Event        Event     `json:"event"`
	Sent         bool      `json:"sent"`
}

func (s Stored) MarshalJSON() ([]byte, error) {
	type alias Stored
	return json.Marshal(struct {
		alias
		ReminderTime string `json:"reminderTime"`
	}{alias: alias(s), ReminderTime: s.ReminderTime.UTC().Format(TimestampLayout)})
}

func (s *Stored) UnmarshalJSON(b []byte) error {
	type alias Stored
	aux := struct {
		*alias
		ReminderTime string `json:"reminderTime"`
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	t, err := time.Parse(time.RFC3339, aux.ReminderTime)
	if err != nil {
		return fmt.Errorf("reminderTime: %w", err)
	}
	s.ReminderTime = t.UTC()
	return nil
}

// expired reports whether the reminder's event is Retention or more in the past.
// Entries whose event time cannot be computed are treated as expired.
func (s Stored) expired(now time.Time, loc *time.Location) bool {
	at, err := s.Event.Instant(loc)
	if err != nil {
		return true
	}
	return now.Sub(at) >= Retention
}
