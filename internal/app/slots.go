package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	appLog "bookingsync/internal/log"
)

// SlotResult carries the bookable slots for a date plus the degraded flag
// from busy-time aggregation.
type SlotResult struct {
	Date     Date   `json:"date"`
	Slots    []Slot `json:"slots"`
	Degraded bool   `json:"degraded"`
	Warning  string `json:"warning,omitempty"`
}

// AvailableSlots returns the open slots for date in chronological order.
// Closed days, fully blocked days and days entirely in the past yield an
// empty list rather than an error.
func (a *App) AvailableSlots(ctx context.Context, date Date) (SlotResult, error) {
	res := SlotResult{Date: date, Slots: []Slot{}}

	sched, err := a.Store.GetSchedule(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to load schedule: %w", err)
	}
	hours, open := sched.For(date.Weekday())
	if !open {
		return res, nil
	}

	calendarDown := false
	if a.Sync.BeforeSlots && a.Calendar != nil {
		_, err := a.Reconcile(ctx)
		switch {
		case errors.Is(err, ErrUpstreamUnavailable):
			// already waited out one timeout; don't ask again
			calendarDown = true
		case err != nil:
			appLog.Error("on-demand reconcile failed", err, "date", date.String())
		}
	}

	busy, err := a.busyIntervals(ctx, date, calendarDown)
	if err != nil {
		return res, err
	}
	res.Degraded = busy.Degraded
	res.Warning = busy.Warning

	candidates := GenerateSlots(date, hours, a.SlotLength, a.Loc)
	res.Slots = append(res.Slots, FilterSlots(candidates, busy.Intervals, a.now())...)
	return res, nil
}

// GenerateSlots chunks the opening window into fixed-length slots. The last
// slot is kept only if it ends at or before closing.
func GenerateSlots(date Date, hours DayHours, slotLen time.Duration, loc *time.Location) []Slot {
	if slotLen <= 0 {
		return nil
	}
	open := hours.Start.On(date, loc)
	closing := hours.End.On(date, loc)

	var out []Slot
	for s := open; !s.Add(slotLen).After(closing); s = s.Add(slotLen) {
		out = append(out, Slot{Start: s, End: s.Add(slotLen), Available: true})
	}
	return out
}

// FilterSlots marks slots overlapping a busy interval or starting at or
// before now as unavailable and returns only the available ones.
func FilterSlots(candidates []Slot, busy []BusyInterval, now time.Time) []Slot {
	var out []Slot
	for _, s := range candidates {
		s.Available = s.Start.After(now)
		if s.Available {
			iv := BusyInterval{Start: s.Start, End: s.End}
			for _, b := range busy {
				if b.Overlaps(iv) {
					s.Available = false
					break
				}
			}
		}
		if s.Available {
			out = append(out, s)
		}
	}
	return out
}
