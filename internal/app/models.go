package app

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// Appointment statuses. Only accepted and completed appointments block time.
const (
	StatusPending   = "pending"
	StatusAccepted  = "accepted"
	StatusDenied    = "denied"
	StatusCompleted = "completed"
)

// Appointment sources.
const (
	SourceLocal    = "local"
	SourceCalendar = "calendar"
)

func validStatus(s string) bool {
	switch s {
	case StatusPending, StatusAccepted, StatusDenied, StatusCompleted:
		return true
	}
	return false
}

func isBusyStatus(s string) bool {
	return s == StatusAccepted || s == StatusCompleted
}

// Date is a civil calendar date without a zone. It marshals as YYYY-MM-DD.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) IsZero() bool { return d == Date{} }

// In returns midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) AddDays(n int) Date {
	return DateOf(time.Date(d.Year, d.Month, d.Day+n, 0, 0, 0, 0, time.UTC))
}

func (d Date) Before(o Date) bool {
	return d.In(time.UTC).Before(o.In(time.UTC))
}

func (d Date) Weekday() time.Weekday {
	return d.In(time.UTC).Weekday()
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// TimeOfDay is minutes since midnight. It marshals as HH:MM.
type TimeOfDay int

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	// accept "09:00:00" as stored by some clients
	if len(s) == 8 && s[5] == ':' {
		s = s[:5]
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return 0, err
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// On returns the instant at t on date d in loc.
func (t TimeOfDay) On(d Date, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, int(t)/60, int(t)%60, 0, 0, loc)
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// EndOfDay is the "24:00" closing time of a window that runs to midnight.
const EndOfDay TimeOfDay = 24 * 60

// ParseClosingTime is ParseTimeOfDay plus "24:00".
func ParseClosingTime(s string) (TimeOfDay, error) {
	if strings.TrimSpace(s) == "24:00" {
		return EndOfDay, nil
	}
	return ParseTimeOfDay(s)
}

func timeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

// DayHours is one weekday's opening window. End may be EndOfDay.
type DayHours struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

func (h *DayHours) UnmarshalJSON(b []byte) error {
	var raw struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	start, err := ParseTimeOfDay(raw.Start)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	end, err := ParseClosingTime(raw.End)
	if err != nil {
		return fmt.Errorf("end: %w", err)
	}
	h.Start, h.End = start, end
	return nil
}

// OperatingSchedule maps weekdays to opening hours. A missing weekday is
// closed. There is one schedule per deployment.
type OperatingSchedule struct {
	Hours     map[time.Weekday]DayHours `json:"-"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

// For returns the hours for wd and whether the business is open that day.
func (s OperatingSchedule) For(wd time.Weekday) (DayHours, bool) {
	h, ok := s.Hours[wd]
	return h, ok
}

type Client struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type Appointment struct {
	ID              int64      `json:"id"`
	ClientID        int64      `json:"client_id"`
	ClientName      string     `json:"client_name"`
	Service         string     `json:"service"`
	Urgency         string     `json:"urgency,omitempty"`
	Date            Date       `json:"date"`
	Time            *TimeOfDay `json:"time,omitempty"`
	Location        string     `json:"location,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	Status          string     `json:"status"`
	Source          string     `json:"source"`
	JournalID       *int64     `json:"journal_id,omitempty"`
	FinanceID       *int64     `json:"finance_id,omitempty"`
	ExternalEventID string     `json:"external_event_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// AllDay reports whether the appointment blocks its whole date.
func (a Appointment) AllDay() bool { return a.Time == nil }

// ExternalEvent is a transient read from the external calendar. Exactly one
// of the timed (Start/End) or all-day (StartDate/EndDate) forms is set;
// EndDate is exclusive.
type ExternalEvent struct {
	ID          string    `json:"id,omitempty"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	AllDay      bool      `json:"all_day"`
	Start       time.Time `json:"start,omitzero"`
	End         time.Time `json:"end,omitzero"`
	StartDate   Date      `json:"start_date,omitzero"`
	EndDate     Date      `json:"end_date,omitzero"`
}

// BusyInterval is a half-open range [Start, End).
type BusyInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps uses half-open semantics: touching intervals do not overlap.
func (b BusyInterval) Overlaps(o BusyInterval) bool {
	return b.Start.Before(o.End) && o.Start.Before(b.End)
}

// Slot DTO
type Slot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
}
