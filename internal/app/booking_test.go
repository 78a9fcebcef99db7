package app

import (
	"context"
	"errors"
	"testing"
)

func newInput(status, hhmm string) CreateAppointmentInput {
	return CreateAppointmentInput{
		ClientEmail: "Jane@Example.com",
		ClientName:  "Jane",
		Service:     "Consult",
		Date:        "2024-06-03",
		Time:        hhmm,
		Location:    "Main St",
		Notes:       "first visit",
		Status:      status,
	}
}

func TestCreateAppointment_AcceptedIsPushed(t *testing.T) {
	cal := &fakeCalendar{}
	a := newTestApp(t, cal)
	ctx := context.Background()

	res, err := a.CreateAppointment(ctx, newInput(StatusAccepted, "10:00"))
	if err != nil {
		t.Fatalf("CreateAppointment: %v", err)
	}
	if res.SyncWarning != "" {
		t.Errorf("unexpected warning %q", res.SyncWarning)
	}
	if len(cal.inserted) != 1 {
		t.Fatalf("pushed %d events, want 1", len(cal.inserted))
	}
	ev := cal.inserted[0]
	if ev.Summary != "Consult" || ev.Description != "first visit" || ev.Location != "Main St" {
		t.Errorf("pushed event %+v", ev)
	}
	if !ev.Start.Equal(at(june3, "10:00")) || !ev.End.Equal(at(june3, "10:30")) {
		t.Errorf("pushed event spans %v-%v, want 10:00-10:30", ev.Start, ev.End)
	}

	stored, err := a.Store.GetAppointment(ctx, res.Appointment.ID)
	if err != nil {
		t.Fatalf("GetAppointment: %v", err)
	}
	if stored.ExternalEventID != "evt-1" || res.Appointment.ExternalEventID != "evt-1" {
		t.Errorf("ExternalEventID stored=%q returned=%q, want evt-1", stored.ExternalEventID, res.Appointment.ExternalEventID)
	}
	if stored.Source != SourceLocal || stored.ClientName != "Jane" {
		t.Errorf("stored %+v", stored)
	}
	client, _ := a.Store.GetClient(ctx, stored.ClientID)
	if client.Email != "jane@example.com" {
		t.Errorf("client email = %q, want lowercased", client.Email)
	}
}

func TestCreateAppointment_AllDayPush(t *testing.T) {
	cal := &fakeCalendar{}
	a := newTestApp(t, cal)

	if _, err := a.CreateAppointment(context.Background(), newInput(StatusAccepted, "")); err != nil {
		t.Fatalf("CreateAppointment: %v", err)
	}
	ev := cal.inserted[0]
	if !ev.AllDay || ev.StartDate != june3 || ev.EndDate != june3.AddDays(1) {
		t.Errorf("pushed %+v, want all-day event on %s", ev, june3)
	}
}

func TestCreateAppointment_PushFailureKeepsRow(t *testing.T) {
	cal := &fakeCalendar{insertErr: errors.New("quota exceeded")}
	a := newTestApp(t, cal)

	res, err := a.CreateAppointment(context.Background(), newInput(StatusAccepted, "10:00"))
	if err != nil {
		t.Fatalf("CreateAppointment must succeed when the push fails: %v", err)
	}
	if res.SyncWarning == "" {
		t.Error("expected a sync warning")
	}
	if _, err := a.Store.GetAppointment(context.Background(), res.Appointment.ID); err != nil {
		t.Errorf("local row missing: %v", err)
	}
}

func TestCreateAppointment_NoCalendarWarns(t *testing.T) {
	a := newTestApp(t, nil)
	res, err := a.CreateAppointment(context.Background(), newInput(StatusAccepted, "10:00"))
	if err != nil {
		t.Fatalf("CreateAppointment: %v", err)
	}
	if res.SyncWarning == "" {
		t.Error("expected a warning when no calendar is configured")
	}
}

func TestCreateAppointment_PendingIsNotPushed(t *testing.T) {
	cal := &fakeCalendar{}
	a := newTestApp(t, cal)

	res, err := a.CreateAppointment(context.Background(), newInput("", "10:00"))
	if err != nil {
		t.Fatalf("CreateAppointment: %v", err)
	}
	if res.Appointment.Status != StatusPending {
		t.Errorf("status = %q, want pending by default", res.Appointment.Status)
	}
	if len(cal.inserted) != 0 || res.SyncWarning != "" {
		t.Errorf("pending appointment pushed=%d warning=%q", len(cal.inserted), res.SyncWarning)
	}
}

func TestCreateAppointment_Validation(t *testing.T) {
	cases := []struct {
		name      string
		mutate    func(*CreateAppointmentInput)
		wantField string
	}{
		{"no client", func(in *CreateAppointmentInput) { in.ClientEmail = "" }, "client_id"},
		{"unknown client id", func(in *CreateAppointmentInput) { in.ClientID = 99 }, "client_id"},
		{"blank service", func(in *CreateAppointmentInput) { in.Service = "  " }, "service"},
		{"bad date", func(in *CreateAppointmentInput) { in.Date = "06/03/2024" }, "date"},
		{"bad time", func(in *CreateAppointmentInput) { in.Time = "10h" }, "time"},
		{"bad status", func(in *CreateAppointmentInput) { in.Status = StatusCompleted }, "status"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := newTestApp(t, nil)
			in := newInput(StatusAccepted, "10:00")
			tc.mutate(&in)
			_, err := a.CreateAppointment(context.Background(), in)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if ve.Field != tc.wantField {
				t.Errorf("Field = %q, want %q", ve.Field, tc.wantField)
			}
		})
	}
}

func TestCreateAppointment_DuplicateBusySlot(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()
	if _, err := a.CreateAppointment(ctx, newInput(StatusAccepted, "10:00")); err != nil {
		t.Fatalf("first CreateAppointment: %v", err)
	}
	_, err := a.CreateAppointment(ctx, newInput(StatusAccepted, "10:00"))
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
	// a pending request for the same slot is allowed
	if _, err := a.CreateAppointment(ctx, newInput(StatusPending, "10:00")); err != nil {
		t.Errorf("pending duplicate rejected: %v", err)
	}
}

func TestAppointmentLifecycle(t *testing.T) {
	cal := &fakeCalendar{}
	a := newTestApp(t, cal)
	ctx := context.Background()

	res, err := a.CreateAppointment(ctx, newInput(StatusPending, "10:00"))
	if err != nil {
		t.Fatalf("CreateAppointment: %v", err)
	}
	id := res.Appointment.ID

	svc := "Follow-up"
	if _, err := a.UpdateAppointment(ctx, id, AppointmentPatch{Service: &svc}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("editing a pending appointment: err = %v, want ErrInvalidTransition", err)
	}

	loc := "Room 2"
	accepted, err := a.AcceptAppointment(ctx, id, &loc)
	if err != nil {
		t.Fatalf("AcceptAppointment: %v", err)
	}
	if accepted.Appointment.Status != StatusAccepted || accepted.Appointment.Location != "Room 2" {
		t.Errorf("accepted = %+v", accepted.Appointment)
	}
	if len(cal.inserted) != 1 || accepted.Appointment.ExternalEventID == "" {
		t.Errorf("accept should push once, pushed %d", len(cal.inserted))
	}
	if _, err := a.AcceptAppointment(ctx, id, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second accept: err = %v, want ErrInvalidTransition", err)
	}

	empty := ""
	edited, err := a.UpdateAppointment(ctx, id, AppointmentPatch{Service: &svc, Time: &empty})
	if err != nil {
		t.Fatalf("UpdateAppointment: %v", err)
	}
	if edited.Service != "Follow-up" || !edited.AllDay() {
		t.Errorf("edited = %+v, want all-day Follow-up", edited)
	}
	if len(cal.inserted) != 1 {
		t.Error("edits must not be pushed")
	}

	journal := int64(7)
	done, err := a.CompleteAppointment(ctx, id, &journal, nil)
	if err != nil {
		t.Fatalf("CompleteAppointment: %v", err)
	}
	if done.Status != StatusCompleted || done.JournalID == nil || *done.JournalID != 7 || done.FinanceID != nil {
		t.Errorf("completed = %+v", done)
	}
	if _, err := a.DenyAppointment(ctx, id, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("deny completed: err = %v, want ErrInvalidTransition", err)
	}
}

func TestDenyAppointment(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()
	res, _ := a.CreateAppointment(ctx, newInput(StatusPending, "10:00"))

	notes := "fully booked"
	ap, err := a.DenyAppointment(ctx, res.Appointment.ID, &notes)
	if err != nil {
		t.Fatalf("DenyAppointment: %v", err)
	}
	if ap.Status != StatusDenied || ap.Notes != notes {
		t.Errorf("denied = %+v", ap)
	}
	if !ap.UpdatedAt.Equal(testNow) {
		t.Errorf("UpdatedAt = %v, want %v", ap.UpdatedAt, testNow)
	}
}

func TestAcceptAppointment_ConflictingSlot(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()
	seed(t, a, june3, "10:00", "Consult", StatusAccepted)
	res, _ := a.CreateAppointment(ctx, newInput(StatusPending, "10:00"))

	_, err := a.AcceptAppointment(ctx, res.Appointment.ID, nil)
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
	ap, _ := a.Store.GetAppointment(ctx, res.Appointment.ID)
	if ap.Status != StatusPending {
		t.Errorf("status = %q, want unchanged pending", ap.Status)
	}
}

func TestDeleteAppointment(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()
	ap := seed(t, a, june3, "10:00", "Consult", StatusAccepted)

	if err := a.DeleteAppointment(ctx, ap.ID); err != nil {
		t.Fatalf("DeleteAppointment: %v", err)
	}
	if err := a.DeleteAppointment(ctx, ap.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: err = %v, want ErrNotFound", err)
	}
}

func TestListAppointments(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()
	seed(t, a, june3, "11:00", "B", StatusAccepted)
	seed(t, a, june3, "", "A", StatusCompleted)
	seed(t, a, june3, "09:00", "C", StatusPending)
	seed(t, a, june3.AddDays(1), "09:00", "D", StatusAccepted)

	got, err := a.ListAppointments(ctx, AppointmentFilter{Date: &june3, Statuses: []string{StatusAccepted, StatusCompleted}})
	if err != nil {
		t.Fatalf("ListAppointments: %v", err)
	}
	if len(got) != 2 || got[0].Service != "A" || got[1].Service != "B" {
		t.Errorf("got %+v, want all-day A then B", got)
	}

	if _, err := a.ListAppointments(ctx, AppointmentFilter{Statuses: []string{"cancelled"}}); err == nil {
		t.Error("expected an error for an unknown status")
	}

	all, _ := a.ListAppointments(ctx, AppointmentFilter{})
	if len(all) != 4 {
		t.Errorf("unfiltered list has %d rows, want 4", len(all))
	}
}
