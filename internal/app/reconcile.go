package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	appLog "bookingsync/internal/log"
)

// StartOfDay is the time component of the natural key for all-day entries.
const StartOfDay TimeOfDay = 0

const untitledEvent = "Calendar event"

// NaturalKey identifies an appointment across the local store and the
// external calendar, which share no ids.
type NaturalKey struct {
	Date    Date
	Time    TimeOfDay
	Service string
}

// NaturalKeyOf returns the (date, time, service) key of a; all-day
// appointments use StartOfDay.
func NaturalKeyOf(a Appointment) NaturalKey {
	k := NaturalKey{Date: a.Date, Time: StartOfDay, Service: a.Service}
	if a.Time != nil {
		k.Time = *a.Time
	}
	return k
}

func importLabel(a Appointment) string {
	when := "all-day"
	if a.Time != nil {
		when = a.Time.String()
	}
	return a.Date.String() + " " + when + " " + a.Service
}

type ReconcileResult struct {
	RunID         string   `json:"run_id"`
	ImportedCount int      `json:"imported_count"`
	Imported      []string `json:"imported"`
	Skipped       int      `json:"skipped"`
}

// PlanImports converts external events into the appointments that would
// represent them locally: one per timed event and one per covered day of an
// all-day range. Client attribution is left to the caller.
func PlanImports(events []ExternalEvent, loc *time.Location) []Appointment {
	var out []Appointment
	for _, ev := range events {
		service := strings.TrimSpace(ev.Summary)
		if service == "" {
			service = untitledEvent
		}
		base := Appointment{
			Service:         service,
			Urgency:         "normal",
			Location:        ev.Location,
			Notes:           ev.Description,
			Status:          StatusAccepted,
			Source:          SourceCalendar,
			ExternalEventID: ev.ID,
		}
		if !ev.AllDay {
			start := ev.Start.In(loc)
			tod := timeOfDayOf(start)
			ap := base
			ap.Date = DateOf(start)
			ap.Time = &tod
			out = append(out, ap)
			continue
		}
		for _, d := range ExpandAllDay(ev.StartDate, ev.EndDate) {
			ap := base
			ap.Date = d
			out = append(out, ap)
		}
	}
	return out
}

// Reconcile imports external calendar events that have no local counterpart.
// All inserts of a run commit together or not at all, so a failed run can
// simply be retried by the next one.
func (a *App) Reconcile(ctx context.Context) (ReconcileResult, error) {
	res := ReconcileResult{RunID: uuid.NewString(), Imported: []string{}}
	if a.Calendar == nil {
		return res, fmt.Errorf("reconcile: %w: calendar not configured", ErrUpstreamUnavailable)
	}

	started := time.Now()
	from := DateOf(a.now()).AddDays(-a.Sync.LookbackDays).In(a.Loc)
	events, err := a.Calendar.ListEvents(ctx, from, time.Time{})
	if err != nil {
		appLog.Error("reconcile: external fetch failed", err, "run_id", res.RunID)
		return res, upstream("reconcile: list events", err)
	}

	candidates := PlanImports(events, a.Loc)
	var imported []string
	skipped := 0

	err = a.Store.InSyncTx(ctx, func(tx SyncTx) error {
		imported, skipped = nil, 0
		var owner *Client
		for _, c := range candidates {
			exists, err := tx.ExistsByNaturalKey(ctx, NaturalKeyOf(c))
			if err != nil {
				return fmt.Errorf("duplicate check for %s: %w", importLabel(c), err)
			}
			if exists {
				skipped++
				continue
			}
			if owner == nil {
				o, err := tx.FindOrCreateClient(ctx, a.Sync.OwnerEmail, a.Sync.OwnerName)
				if err != nil {
					return fmt.Errorf("calendar owner client: %w", err)
				}
				owner = &o
			}
			c.ClientID = owner.ID
			c.ClientName = owner.Name
			err = tx.InsertAppointment(ctx, &c)
			if errors.Is(err, ErrDuplicate) {
				// a concurrent run got there first
				skipped++
				continue
			}
			if err != nil {
				return fmt.Errorf("insert %s: %w", importLabel(c), err)
			}
			imported = append(imported, importLabel(c))
		}
		return nil
	})
	if err != nil {
		appLog.Error("reconcile: batch rolled back", err, "run_id", res.RunID, "candidates", len(candidates))
		return res, &ReconcileError{RunID: res.RunID, Err: err}
	}

	if imported != nil {
		res.Imported = imported
	}
	res.ImportedCount = len(res.Imported)
	res.Skipped = skipped
	appLog.Info("reconcile completed",
		"run_id", res.RunID,
		"events", len(events),
		"imported", res.ImportedCount,
		"skipped", res.Skipped,
		"duration", time.Since(started).String(),
	)
	return res, nil
}
