package app

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// Store abstracts persistence so the engine can run on PostgreSQL or in
// memory.
type Store interface {
	// GetSchedule returns an empty schedule when none has been saved.
	GetSchedule(ctx context.Context) (OperatingSchedule, error)
	// UpdateSchedule applies fn to the stored schedule under a row lock and
	// saves the result.
	UpdateSchedule(ctx context.Context, fn func(*OperatingSchedule) error) (OperatingSchedule, error)

	// CreateAppointment fills in ID and timestamps. It returns ErrDuplicate
	// when the natural key is already taken by a busy appointment.
	CreateAppointment(ctx context.Context, a *Appointment) error
	GetAppointment(ctx context.Context, id int64) (Appointment, error)
	// UpdateAppointment loads the row for update, applies fn and saves it.
	UpdateAppointment(ctx context.Context, id int64, fn func(*Appointment) error) (Appointment, error)
	DeleteAppointment(ctx context.Context, id int64) error
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error)
	SetExternalEventID(ctx context.Context, id int64, eventID string) error

	GetClient(ctx context.Context, id int64) (Client, error)
	FindOrCreateClient(ctx context.Context, email, name string) (Client, error)

	// InSyncTx runs fn in one transaction. Any error from fn rolls back
	// everything fn wrote.
	InSyncTx(ctx context.Context, fn func(SyncTx) error) error

	// LoadCalendarToken returns nil, nil when no token is stored.
	LoadCalendarToken(ctx context.Context) (*oauth2.Token, error)
	SaveCalendarToken(ctx context.Context, tok *oauth2.Token) error

	// SaveOAuthState records a connect-flow state value until expiresAt.
	SaveOAuthState(ctx context.Context, state string, expiresAt time.Time) error
	// ConsumeOAuthState removes state and reports whether it was issued and
	// still valid at now. A state can be consumed once.
	ConsumeOAuthState(ctx context.Context, state string, now time.Time) (bool, error)
}

// SyncTx is the slice of the store the reconciler uses inside its batch.
type SyncTx interface {
	FindOrCreateClient(ctx context.Context, email, name string) (Client, error)
	ExistsByNaturalKey(ctx context.Context, key NaturalKey) (bool, error)
	// InsertAppointment returns ErrDuplicate on a unique conflict without
	// aborting the transaction.
	InsertAppointment(ctx context.Context, a *Appointment) error
}

// AppointmentFilter narrows ListAppointments. Zero values match everything.
type AppointmentFilter struct {
	Date     *Date
	Statuses []string
}

func (f AppointmentFilter) matches(a Appointment) bool {
	if f.Date != nil && a.Date != *f.Date {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if a.Status == s {
			return true
		}
	}
	return false
}

// ExternalCalendar is the external calendar service. Implementations bound
// each call with their own timeout.
type ExternalCalendar interface {
	// ListEvents returns events overlapping [timeMin, timeMax) ordered by
	// start. A zero timeMax means no upper bound.
	ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]ExternalEvent, error)
	InsertEvent(ctx context.Context, ev ExternalEvent) (string, error)
}
