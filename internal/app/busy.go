package app

import (
	"context"
	"fmt"

	appLog "bookingsync/internal/log"
)

// BusyResult is the merged busy set for one date. Degraded is set when the
// external calendar could not be read and only local bookings were used.
type BusyResult struct {
	Intervals []BusyInterval
	Degraded  bool
	Warning   string
}

const degradedWarning = "external calendar unavailable; availability reflects local bookings only"

// BusyIntervals collects everything that blocks booking on date: busy local
// appointments and external calendar events. Overlaps are not merged.
func (a *App) BusyIntervals(ctx context.Context, date Date) (BusyResult, error) {
	return a.busyIntervals(ctx, date, false)
}

// busyIntervals skips the external calendar when calendarDown is set and
// reports the result as degraded.
func (a *App) busyIntervals(ctx context.Context, date Date, calendarDown bool) (BusyResult, error) {
	dayStart := date.In(a.Loc)
	dayEnd := date.AddDays(1).In(a.Loc)

	appts, err := a.Store.ListAppointments(ctx, AppointmentFilter{
		Date:     &date,
		Statuses: []string{StatusAccepted, StatusCompleted},
	})
	if err != nil {
		return BusyResult{}, fmt.Errorf("failed to list busy appointments for %s: %w", date, err)
	}

	var res BusyResult
	for _, ap := range appts {
		res.Intervals = append(res.Intervals, a.appointmentInterval(ap))
	}

	if a.Calendar == nil {
		return res, nil
	}

	if calendarDown {
		res.Degraded = true
		res.Warning = degradedWarning
		return res, nil
	}
	events, err := a.Calendar.ListEvents(ctx, dayStart, dayEnd)
	if err != nil {
		appLog.Error("external calendar unavailable, using local bookings only", err, "date", date.String())
		res.Degraded = true
		res.Warning = degradedWarning
		return res, nil
	}
	window := BusyInterval{Start: dayStart, End: dayEnd}
	for _, ev := range events {
		for _, iv := range a.eventIntervals(ev) {
			if iv.Overlaps(window) {
				res.Intervals = append(res.Intervals, iv)
			}
		}
	}
	return res, nil
}

// appointmentInterval blocks the default duration from the booked time, or
// the whole day for appointments without a time.
func (a *App) appointmentInterval(ap Appointment) BusyInterval {
	if ap.AllDay() {
		return BusyInterval{Start: ap.Date.In(a.Loc), End: ap.Date.AddDays(1).In(a.Loc)}
	}
	start := ap.Time.On(ap.Date, a.Loc)
	return BusyInterval{Start: start, End: start.Add(a.DefaultDuration)}
}

// eventIntervals maps timed events directly and expands all-day ranges to
// one full-day interval per covered day.
func (a *App) eventIntervals(ev ExternalEvent) []BusyInterval {
	if !ev.AllDay {
		return []BusyInterval{{Start: ev.Start, End: ev.End}}
	}
	days := ExpandAllDay(ev.StartDate, ev.EndDate)
	out := make([]BusyInterval, 0, len(days))
	for _, d := range days {
		out = append(out, BusyInterval{Start: d.In(a.Loc), End: d.AddDays(1).In(a.Loc)})
	}
	return out
}

// ExpandAllDay lists the days covered by an all-day range whose end date is
// exclusive. The last covered day is end minus one day; a range with end on
// or before start still covers start.
func ExpandAllDay(start, end Date) []Date {
	last := end.AddDays(-1)
	if last.Before(start) {
		last = start
	}
	var days []Date
	for d := start; !last.Before(d); d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}
