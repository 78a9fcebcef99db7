package app

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

// newPGTestStore connects to BOOKINGSYNC_TEST_DATABASE_URL and empties every
// table. The database is wiped, so never point it at real data.
func newPGTestStore(t *testing.T) *PGStore {
	t.Helper()
	url := os.Getenv("BOOKINGSYNC_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("BOOKINGSYNC_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := NewPGStore(ctx, url, 4)
	if err != nil {
		t.Fatalf("NewPGStore: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	_, err = s.DB.Exec(ctx, `TRUNCATE appointments, clients, operating_schedule,
		calendar_tokens, calendar_oauth_states RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return s
}

func pgAppointment(t *testing.T, s *PGStore, date Date, hhmm, service, status string) Appointment {
	t.Helper()
	c, err := s.FindOrCreateClient(context.Background(), "client@example.com", "Client")
	if err != nil {
		t.Fatalf("FindOrCreateClient: %v", err)
	}
	ap := Appointment{ClientID: c.ID, ClientName: c.Name, Service: service, Urgency: "normal",
		Date: date, Status: status, Source: SourceLocal}
	if hhmm != "" {
		ap.Time = tod(hhmm)
	}
	return ap
}

func TestPGStore_ReconcileTwice(t *testing.T) {
	s := newPGTestStore(t)
	a := newTestApp(t, &fakeCalendar{events: externalFixture()})
	a.Store = s
	ctx := context.Background()

	first, err := a.Reconcile(ctx)
	if err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	second, err := a.Reconcile(ctx)
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if first.ImportedCount != 3 || second.ImportedCount != 0 || second.Skipped != 3 {
		t.Errorf("runs imported %d then %d (skipped %d), want 3 then 0 (3)",
			first.ImportedCount, second.ImportedCount, second.Skipped)
	}

	all, err := s.ListAppointments(ctx, AppointmentFilter{})
	if err != nil {
		t.Fatalf("ListAppointments: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("stored %d appointments, want 3", len(all))
	}
	if all[0].Time == nil || all[0].Time.String() != "10:00" || all[0].Source != SourceCalendar {
		t.Errorf("first row = %+v, want the imported 10:00 event", all[0])
	}
}

func TestPGStore_UniqueConflictIsDuplicate(t *testing.T) {
	s := newPGTestStore(t)
	ctx := context.Background()

	first := pgAppointment(t, s, june3, "10:00", "Consult", StatusAccepted)
	if err := s.CreateAppointment(ctx, &first); err != nil {
		t.Fatalf("CreateAppointment: %v", err)
	}
	again := pgAppointment(t, s, june3, "10:00", "Consult", StatusCompleted)
	if err := s.CreateAppointment(ctx, &again); !errors.Is(err, ErrDuplicate) {
		t.Errorf("second busy insert err = %v, want ErrDuplicate", err)
	}
	pending := pgAppointment(t, s, june3, "10:00", "Consult", StatusPending)
	if err := s.CreateAppointment(ctx, &pending); err != nil {
		t.Errorf("pending rows may share a key: %v", err)
	}

	allDay := pgAppointment(t, s, june3, "", "Night shift", StatusAccepted)
	if err := s.CreateAppointment(ctx, &allDay); err != nil {
		t.Fatalf("all-day insert: %v", err)
	}
	midnight := pgAppointment(t, s, june3, "00:00", "Night shift", StatusAccepted)
	if err := s.CreateAppointment(ctx, &midnight); !errors.Is(err, ErrDuplicate) {
		t.Errorf("timed 00:00 next to all-day err = %v, want ErrDuplicate", err)
	}
}

func TestPGStore_SyncTxAbsorbsConflicts(t *testing.T) {
	s := newPGTestStore(t)
	ctx := context.Background()

	existing := pgAppointment(t, s, june3, "10:00", "Consult", StatusAccepted)
	if err := s.CreateAppointment(ctx, &existing); err != nil {
		t.Fatalf("CreateAppointment: %v", err)
	}

	err := s.InSyncTx(ctx, func(tx SyncTx) error {
		dup := pgAppointment(t, s, june3, "10:00", "Consult", StatusAccepted)
		if err := tx.InsertAppointment(ctx, &dup); !errors.Is(err, ErrDuplicate) {
			t.Errorf("conflicting insert err = %v, want ErrDuplicate", err)
		}
		fresh := pgAppointment(t, s, june3, "11:00", "Consult", StatusAccepted)
		return tx.InsertAppointment(ctx, &fresh)
	})
	if err != nil {
		t.Fatalf("InSyncTx: %v", err)
	}

	err = s.InSyncTx(ctx, func(tx SyncTx) error {
		doomed := pgAppointment(t, s, june3, "12:00", "Consult", StatusAccepted)
		if err := tx.InsertAppointment(ctx, &doomed); err != nil {
			return err
		}
		return errors.New("abort")
	})
	if err == nil {
		t.Fatal("expected the abort error")
	}

	all, _ := s.ListAppointments(ctx, AppointmentFilter{Date: &june3})
	if len(all) != 2 {
		t.Errorf("stored %d appointments, want the original and the 11:00 insert", len(all))
	}
}

func TestPGStore_OAuthState(t *testing.T) {
	s := newPGTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.SaveOAuthState(ctx, "issued", now.Add(oauthStateTTL)); err != nil {
		t.Fatalf("SaveOAuthState: %v", err)
	}
	if ok, err := s.ConsumeOAuthState(ctx, "issued", now); !ok || err != nil {
		t.Errorf("first consume = %v, %v; want true", ok, err)
	}
	if ok, _ := s.ConsumeOAuthState(ctx, "issued", now); ok {
		t.Error("state consumed twice")
	}
	if ok, _ := s.ConsumeOAuthState(ctx, "never-issued", now); ok {
		t.Error("unknown state accepted")
	}
}
