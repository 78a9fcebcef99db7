package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	appLog "bookingsync/internal/log"
)

type CreateAppointmentInput struct {
	ClientID    int64  `json:"client_id"`
	ClientEmail string `json:"client_email" binding:"omitempty,email"`
	ClientName  string `json:"client_name"`
	Service     string `json:"service" binding:"required"`
	Urgency     string `json:"urgency"`
	Date        string `json:"date" binding:"required,isodate"`
	Time        string `json:"time" binding:"omitempty,hhmm"`
	Location    string `json:"location"`
	Notes       string `json:"notes"`
	Status      string `json:"status" binding:"omitempty,oneof=pending accepted"`
}

// AppointmentPatch edits an accepted appointment. Nil fields are left
// unchanged; an empty Time turns the appointment into an all-day block.
type AppointmentPatch struct {
	Service  *string `json:"service"`
	Urgency  *string `json:"urgency"`
	Date     *string `json:"date" binding:"omitempty,isodate"`
	Time     *string `json:"time"`
	Location *string `json:"location"`
	Notes    *string `json:"notes"`
}

// WriteResult is a stored appointment plus a non-fatal warning when the
// external calendar could not be updated.
type WriteResult struct {
	Appointment Appointment `json:"appointment"`
	SyncWarning string      `json:"sync_warning,omitempty"`
}

// CreateAppointment stores a new appointment. Accepted appointments are
// pushed to the external calendar; a failed push is reported as a warning
// and the local row stays committed.
func (a *App) CreateAppointment(ctx context.Context, in CreateAppointmentInput) (WriteResult, error) {
	ap, err := a.buildAppointment(ctx, in)
	if err != nil {
		return WriteResult{}, err
	}
	if err := a.Store.CreateAppointment(ctx, &ap); err != nil {
		return WriteResult{}, fmt.Errorf("failed to create appointment: %w", err)
	}
	appLog.Info("appointment created", "id", ap.ID, "status", ap.Status, "date", ap.Date.String(), "service", ap.Service)

	res := WriteResult{Appointment: ap}
	if ap.Status == StatusAccepted {
		res.SyncWarning = a.pushToCalendar(ctx, &res.Appointment)
	}
	return res, nil
}

func (a *App) buildAppointment(ctx context.Context, in CreateAppointmentInput) (Appointment, error) {
	service := strings.TrimSpace(in.Service)
	if service == "" {
		return Appointment{}, invalid("service", "required")
	}
	if strings.TrimSpace(in.Date) == "" {
		return Appointment{}, invalid("date", "required")
	}
	date, err := ParseDate(in.Date)
	if err != nil {
		return Appointment{}, invalid("date", "want YYYY-MM-DD, got %q", in.Date)
	}
	tod, err := parseOptionalTime(in.Time)
	if err != nil {
		return Appointment{}, err
	}
	status := in.Status
	if status == "" {
		status = StatusPending
	}
	if status != StatusPending && status != StatusAccepted {
		return Appointment{}, invalid("status", "new appointments must be pending or accepted")
	}
	urgency := in.Urgency
	if urgency == "" {
		urgency = "normal"
	}

	client, err := a.resolveClient(ctx, in)
	if err != nil {
		return Appointment{}, err
	}
	name := strings.TrimSpace(in.ClientName)
	if name == "" {
		name = client.Name
	}

	return Appointment{
		ClientID:   client.ID,
		ClientName: name,
		Service:    service,
		Urgency:    urgency,
		Date:       date,
		Time:       tod,
		Location:   in.Location,
		Notes:      in.Notes,
		Status:     status,
		Source:     SourceLocal,
	}, nil
}

func (a *App) resolveClient(ctx context.Context, in CreateAppointmentInput) (Client, error) {
	if in.ClientID != 0 {
		c, err := a.Store.GetClient(ctx, in.ClientID)
		if errors.Is(err, ErrNotFound) {
			return Client{}, invalid("client_id", "client %d does not exist", in.ClientID)
		}
		if err != nil {
			return Client{}, fmt.Errorf("failed to load client: %w", err)
		}
		return c, nil
	}
	email := strings.ToLower(strings.TrimSpace(in.ClientEmail))
	if email == "" {
		return Client{}, invalid("client_id", "client_id or client_email is required")
	}
	name := strings.TrimSpace(in.ClientName)
	if name == "" {
		name = email
	}
	c, err := a.Store.FindOrCreateClient(ctx, email, name)
	if err != nil {
		return Client{}, fmt.Errorf("failed to resolve client %s: %w", email, err)
	}
	return c, nil
}

func parseOptionalTime(s string) (*TimeOfDay, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := ParseTimeOfDay(s)
	if err != nil {
		return nil, invalid("time", "want HH:MM, got %q", s)
	}
	return &t, nil
}

// pushToCalendar mirrors an accepted appointment to the external calendar
// and returns a warning for the caller when that fails.
func (a *App) pushToCalendar(ctx context.Context, ap *Appointment) string {
	if a.Calendar == nil {
		return "external calendar not configured; appointment saved locally only"
	}
	id, err := a.Calendar.InsertEvent(ctx, a.eventFor(*ap))
	if err != nil {
		appLog.Error("calendar push failed", err, "appointment_id", ap.ID)
		return "failed to add appointment to external calendar; saved locally only"
	}
	ap.ExternalEventID = id
	if err := a.Store.SetExternalEventID(ctx, ap.ID, id); err != nil {
		appLog.Error("failed to record external event id", err, "appointment_id", ap.ID, "event_id", id)
	}
	return ""
}

func (a *App) eventFor(ap Appointment) ExternalEvent {
	ev := ExternalEvent{
		Summary:     ap.Service,
		Description: ap.Notes,
		Location:    ap.Location,
	}
	if ap.AllDay() {
		ev.AllDay = true
		ev.StartDate = ap.Date
		ev.EndDate = ap.Date.AddDays(1)
		return ev
	}
	ev.Start = ap.Time.On(ap.Date, a.Loc)
	ev.End = ev.Start.Add(a.DefaultDuration)
	return ev
}

// UpdateAppointment edits an accepted appointment. Edits are not mirrored to
// the external calendar.
func (a *App) UpdateAppointment(ctx context.Context, id int64, p AppointmentPatch) (Appointment, error) {
	var date *Date
	if p.Date != nil {
		d, err := ParseDate(*p.Date)
		if err != nil {
			return Appointment{}, invalid("date", "want YYYY-MM-DD, got %q", *p.Date)
		}
		date = &d
	}
	var tod *TimeOfDay
	if p.Time != nil {
		t, err := parseOptionalTime(*p.Time)
		if err != nil {
			return Appointment{}, err
		}
		tod = t
	}
	if p.Service != nil && strings.TrimSpace(*p.Service) == "" {
		return Appointment{}, invalid("service", "must not be empty")
	}

	now := a.now().UTC()
	return a.Store.UpdateAppointment(ctx, id, func(ap *Appointment) error {
		if ap.Status != StatusAccepted {
			return fmt.Errorf("%w: only accepted appointments can be edited (status %s)", ErrInvalidTransition, ap.Status)
		}
		if p.Service != nil {
			ap.Service = strings.TrimSpace(*p.Service)
		}
		if p.Urgency != nil {
			ap.Urgency = *p.Urgency
		}
		if date != nil {
			ap.Date = *date
		}
		if p.Time != nil {
			ap.Time = tod
		}
		if p.Location != nil {
			ap.Location = *p.Location
		}
		if p.Notes != nil {
			ap.Notes = *p.Notes
		}
		ap.UpdatedAt = now
		return nil
	})
}

// AcceptAppointment moves a pending request to accepted and mirrors it to
// the external calendar the same way an accepted create does.
func (a *App) AcceptAppointment(ctx context.Context, id int64, location *string) (WriteResult, error) {
	now := a.now().UTC()
	ap, err := a.Store.UpdateAppointment(ctx, id, func(ap *Appointment) error {
		if ap.Status != StatusPending {
			return fmt.Errorf("%w: cannot accept a %s appointment", ErrInvalidTransition, ap.Status)
		}
		ap.Status = StatusAccepted
		if location != nil {
			ap.Location = *location
		}
		ap.UpdatedAt = now
		return nil
	})
	if err != nil {
		return WriteResult{}, err
	}
	res := WriteResult{Appointment: ap}
	res.SyncWarning = a.pushToCalendar(ctx, &res.Appointment)
	return res, nil
}

func (a *App) DenyAppointment(ctx context.Context, id int64, notes *string) (Appointment, error) {
	now := a.now().UTC()
	return a.Store.UpdateAppointment(ctx, id, func(ap *Appointment) error {
		if ap.Status != StatusPending {
			return fmt.Errorf("%w: cannot deny a %s appointment", ErrInvalidTransition, ap.Status)
		}
		ap.Status = StatusDenied
		if notes != nil {
			ap.Notes = *notes
		}
		ap.UpdatedAt = now
		return nil
	})
}

// CompleteAppointment closes an accepted appointment, optionally linking the
// journal entry and finance record produced by the visit.
func (a *App) CompleteAppointment(ctx context.Context, id int64, journalID, financeID *int64) (Appointment, error) {
	now := a.now().UTC()
	return a.Store.UpdateAppointment(ctx, id, func(ap *Appointment) error {
		if ap.Status != StatusAccepted {
			return fmt.Errorf("%w: cannot complete a %s appointment", ErrInvalidTransition, ap.Status)
		}
		ap.Status = StatusCompleted
		ap.JournalID = journalID
		ap.FinanceID = financeID
		ap.UpdatedAt = now
		return nil
	})
}

// DeleteAppointment removes the local row only.
func (a *App) DeleteAppointment(ctx context.Context, id int64) error {
	if err := a.Store.DeleteAppointment(ctx, id); err != nil {
		return fmt.Errorf("failed to delete appointment %d: %w", id, err)
	}
	return nil
}

func (a *App) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	for _, s := range f.Statuses {
		if !validStatus(s) {
			return nil, invalid("status", "unknown status %q", s)
		}
	}
	out, err := a.Store.ListAppointments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return out, nil
}
