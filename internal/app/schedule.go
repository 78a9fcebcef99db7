package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// HoursInput is one weekday entry of a schedule update, as strings so that
// parse failures can name the field.
type HoursInput struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ScheduleUpdate maps lowercase weekday names to new hours. A nil entry
// closes that day; weekdays not present are left unchanged.
type ScheduleUpdate map[string]*HoursInput

// parsedUpdate is a validated ScheduleUpdate.
type parsedUpdate map[time.Weekday]*DayHours

func (u ScheduleUpdate) parse() (parsedUpdate, error) {
	out := make(parsedUpdate, len(u))
	for name, in := range u {
		wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, invalid("hours."+name, "unknown weekday")
		}
		key := "hours." + strings.ToLower(wd.String())
		if in == nil {
			out[wd] = nil
			continue
		}
		start, err := ParseTimeOfDay(in.Start)
		if err != nil {
			return nil, invalid(key+".start", "want HH:MM, got %q", in.Start)
		}
		end, err := ParseClosingTime(in.End)
		if err != nil {
			return nil, invalid(key+".end", "want HH:MM, got %q", in.End)
		}
		if start >= end {
			return nil, invalid(key, "start %s must be before end %s", start, end)
		}
		out[wd] = &DayHours{Start: start, End: end}
	}
	return out, nil
}

func (p parsedUpdate) applyTo(s *OperatingSchedule) {
	if s.Hours == nil {
		s.Hours = make(map[time.Weekday]DayHours)
	}
	for wd, h := range p {
		if h == nil {
			delete(s.Hours, wd)
			continue
		}
		s.Hours[wd] = *h
	}
}

// GetSchedule returns the operating hours; an unconfigured business has an
// empty schedule.
func (a *App) GetSchedule(ctx context.Context) (OperatingSchedule, error) {
	s, err := a.Store.GetSchedule(ctx)
	if err != nil {
		return OperatingSchedule{}, fmt.Errorf("failed to load schedule: %w", err)
	}
	return s, nil
}

// SetSchedule merges update into the stored schedule.
func (a *App) SetSchedule(ctx context.Context, update ScheduleUpdate) (OperatingSchedule, error) {
	parsed, err := update.parse()
	if err != nil {
		return OperatingSchedule{}, err
	}
	now := a.now().UTC()
	s, err := a.Store.UpdateSchedule(ctx, func(s *OperatingSchedule) error {
		parsed.applyTo(s)
		s.UpdatedAt = now
		return nil
	})
	if err != nil {
		return OperatingSchedule{}, fmt.Errorf("failed to save schedule: %w", err)
	}
	return s, nil
}

// scheduleJSON is the wire and storage form of OperatingSchedule.
type scheduleJSON struct {
	Hours     map[string]DayHours `json:"hours"`
	UpdatedAt *time.Time          `json:"updated_at,omitempty"`
}

func (s OperatingSchedule) MarshalJSON() ([]byte, error) {
	out := scheduleJSON{Hours: encodeHours(s.Hours)}
	if !s.UpdatedAt.IsZero() {
		out.UpdatedAt = &s.UpdatedAt
	}
	return json.Marshal(out)
}

func encodeHours(h map[time.Weekday]DayHours) map[string]DayHours {
	out := make(map[string]DayHours, len(h))
	for wd, v := range h {
		out[strings.ToLower(wd.String())] = v
	}
	return out
}

func decodeHours(raw []byte) (map[time.Weekday]DayHours, error) {
	var named map[string]DayHours
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &named); err != nil {
			return nil, err
		}
	}
	out := make(map[time.Weekday]DayHours, len(named))
	for name, v := range named {
		wd, ok := weekdayNames[name]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q in stored schedule", name)
		}
		out[wd] = v
	}
	return out, nil
}
