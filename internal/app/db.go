package app

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/oauth2"
)

//go:embed schema.sql
var schemaSQL string

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore is the PostgreSQL Store.
type PGStore struct {
	DB *pgxpool.Pool
}

func NewPGStore(ctx context.Context, url string, maxConns int32) (*PGStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return &PGStore{DB: pool}, nil
}

// Migrate creates missing tables and indexes. It is safe to run on every
// start.
func (s *PGStore) Migrate(ctx context.Context) error {
	if _, err := s.DB.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *PGStore) Close() {
	s.DB.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PGStore) GetSchedule(ctx context.Context) (OperatingSchedule, error) {
	var raw []byte
	var out OperatingSchedule
	err := s.DB.QueryRow(ctx, `SELECT hours, updated_at FROM operating_schedule WHERE id = 1`).
		Scan(&raw, &out.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return OperatingSchedule{Hours: map[time.Weekday]DayHours{}}, nil
	}
	if err != nil {
		return OperatingSchedule{}, err
	}
	if out.Hours, err = decodeHours(raw); err != nil {
		return OperatingSchedule{}, err
	}
	return out, nil
}

func (s *PGStore) UpdateSchedule(ctx context.Context, fn func(*OperatingSchedule) error) (OperatingSchedule, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return OperatingSchedule{}, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO operating_schedule (id) VALUES (1) ON CONFLICT (id) DO NOTHING`); err != nil {
		return OperatingSchedule{}, err
	}
	var raw []byte
	var sched OperatingSchedule
	err = tx.QueryRow(ctx, `SELECT hours, updated_at FROM operating_schedule WHERE id = 1 FOR UPDATE`).
		Scan(&raw, &sched.UpdatedAt)
	if err != nil {
		return OperatingSchedule{}, err
	}
	if sched.Hours, err = decodeHours(raw); err != nil {
		return OperatingSchedule{}, err
	}

	if err := fn(&sched); err != nil {
		return OperatingSchedule{}, err
	}

	encoded, err := json.Marshal(encodeHours(sched.Hours))
	if err != nil {
		return OperatingSchedule{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE operating_schedule SET hours = $1::jsonb, updated_at = $2 WHERE id = 1`,
		string(encoded), sched.UpdatedAt); err != nil {
		return OperatingSchedule{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return OperatingSchedule{}, err
	}
	return sched, nil
}

const appointmentColumns = `id, client_id, client_name, service, urgency, appt_date,
	to_char(appt_time, 'HH24:MI'), location, notes, status, source,
	journal_id, finance_id, external_event_id, created_at, updated_at`

func scanAppointment(row pgx.Row) (Appointment, error) {
	var ap Appointment
	var date time.Time
	var tm *string
	if err := row.Scan(&ap.ID, &ap.ClientID, &ap.ClientName, &ap.Service, &ap.Urgency, &date,
		&tm, &ap.Location, &ap.Notes, &ap.Status, &ap.Source,
		&ap.JournalID, &ap.FinanceID, &ap.ExternalEventID, &ap.CreatedAt, &ap.UpdatedAt); err != nil {
		return Appointment{}, err
	}
	ap.Date = DateOf(date)
	if tm != nil {
		t, err := ParseTimeOfDay(*tm)
		if err != nil {
			return Appointment{}, fmt.Errorf("bad stored time %q for appointment %d: %w", *tm, ap.ID, err)
		}
		ap.Time = &t
	}
	return ap, nil
}

func timeParam(t *TimeOfDay) any {
	if t == nil {
		return nil
	}
	return t.String()
}

// insertAppointment writes ap and fills in its id and timestamps. With
// skipConflict the natural-key conflict is absorbed by ON CONFLICT so the
// surrounding transaction stays usable.
func insertAppointment(ctx context.Context, q dbtx, ap *Appointment, skipConflict bool) error {
	now := time.Now().UTC()
	sql := `INSERT INTO appointments
          (client_id, client_name, service, urgency, appt_date, appt_time, location, notes,
           status, source, journal_id, finance_id, external_event_id, created_at, updated_at)
          VALUES ($1,$2,$3,$4,$5::date,$6::time,$7,$8,$9,$10,$11,$12,$13,$14,$14)`
	if skipConflict {
		sql += ` ON CONFLICT (appt_date, time_key, service) WHERE status IN ('accepted', 'completed') DO NOTHING`
	}
	sql += ` RETURNING id, created_at, updated_at`

	err := q.QueryRow(ctx, sql,
		ap.ClientID, ap.ClientName, ap.Service, ap.Urgency, ap.Date.String(), timeParam(ap.Time),
		ap.Location, ap.Notes, ap.Status, ap.Source, ap.JournalID, ap.FinanceID, ap.ExternalEventID, now,
	).Scan(&ap.ID, &ap.CreatedAt, &ap.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) && skipConflict {
		return ErrDuplicate
	}
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *PGStore) CreateAppointment(ctx context.Context, ap *Appointment) error {
	return insertAppointment(ctx, s.DB, ap, false)
}

func (s *PGStore) GetAppointment(ctx context.Context, id int64) (Appointment, error) {
	ap, err := scanAppointment(s.DB.QueryRow(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Appointment{}, fmt.Errorf("appointment %d: %w", id, ErrNotFound)
	}
	return ap, err
}

func (s *PGStore) UpdateAppointment(ctx context.Context, id int64, fn func(*Appointment) error) (Appointment, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return Appointment{}, err
	}
	defer tx.Rollback(ctx)

	ap, err := scanAppointment(tx.QueryRow(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Appointment{}, fmt.Errorf("appointment %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Appointment{}, err
	}

	if err := fn(&ap); err != nil {
		return Appointment{}, err
	}

	q := `UPDATE appointments
          SET service=$1, urgency=$2, appt_date=$3::date, appt_time=$4::time, location=$5,
              notes=$6, status=$7, journal_id=$8, finance_id=$9, external_event_id=$10, updated_at=$11
          WHERE id=$12`
	_, err = tx.Exec(ctx, q,
		ap.Service, ap.Urgency, ap.Date.String(), timeParam(ap.Time), ap.Location,
		ap.Notes, ap.Status, ap.JournalID, ap.FinanceID, ap.ExternalEventID, ap.UpdatedAt, id)
	if isUniqueViolation(err) {
		return Appointment{}, fmt.Errorf("%w: %s %s", ErrDuplicate, ap.Date, ap.Service)
	}
	if err != nil {
		return Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Appointment{}, err
	}
	return ap, nil
}

func (s *PGStore) DeleteAppointment(ctx context.Context, id int64) error {
	res, err := s.DB.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("appointment %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PGStore) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	var (
		conds []string
		args  []any
	)
	if f.Date != nil {
		args = append(args, f.Date.String())
		conds = append(conds, fmt.Sprintf("appt_date = $%d::date", len(args)))
	}
	if len(f.Statuses) > 0 {
		args = append(args, f.Statuses)
		conds = append(conds, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	q := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	q += ` ORDER BY appt_date, appt_time NULLS FIRST, id`

	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Appointment{}
	for rows.Next() {
		ap, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ap)
	}
	return out, rows.Err()
}

func (s *PGStore) SetExternalEventID(ctx context.Context, id int64, eventID string) error {
	res, err := s.DB.Exec(ctx, `UPDATE appointments SET external_event_id = $1 WHERE id = $2`, eventID, id)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("appointment %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PGStore) GetClient(ctx context.Context, id int64) (Client, error) {
	var c Client
	err := s.DB.QueryRow(ctx, `SELECT id, name, email, created_at FROM clients WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Email, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Client{}, fmt.Errorf("client %d: %w", id, ErrNotFound)
	}
	return c, err
}

// findOrCreateClient keeps the existing name when the email is known.
func findOrCreateClient(ctx context.Context, q dbtx, email, name string) (Client, error) {
	var c Client
	err := q.QueryRow(ctx,
		`INSERT INTO clients (name, email) VALUES ($1, $2)
         ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
         RETURNING id, name, email, created_at`,
		name, strings.ToLower(email),
	).Scan(&c.ID, &c.Name, &c.Email, &c.CreatedAt)
	return c, err
}

func (s *PGStore) FindOrCreateClient(ctx context.Context, email, name string) (Client, error) {
	return findOrCreateClient(ctx, s.DB, email, name)
}

func (s *PGStore) InSyncTx(ctx context.Context, fn func(SyncTx) error) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(pgSyncTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgSyncTx struct {
	tx pgx.Tx
}

func (t pgSyncTx) FindOrCreateClient(ctx context.Context, email, name string) (Client, error) {
	return findOrCreateClient(ctx, t.tx, email, name)
}

// ExistsByNaturalKey matches rows in any status.
func (t pgSyncTx) ExistsByNaturalKey(ctx context.Context, k NaturalKey) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM appointments WHERE appt_date = $1::date AND time_key = $2::time AND service = $3)`,
		k.Date.String(), k.Time.String(), k.Service,
	).Scan(&exists)
	return exists, err
}

func (t pgSyncTx) InsertAppointment(ctx context.Context, ap *Appointment) error {
	return insertAppointment(ctx, t.tx, ap, true)
}

func (s *PGStore) LoadCalendarToken(ctx context.Context) (*oauth2.Token, error) {
	var raw []byte
	err := s.DB.QueryRow(ctx, `SELECT token FROM calendar_tokens WHERE id = 1`).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("bad stored calendar token: %w", err)
	}
	return &tok, nil
}

func (s *PGStore) SaveCalendarToken(ctx context.Context, tok *oauth2.Token) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx,
		`INSERT INTO calendar_tokens (id, token, updated_at) VALUES (1, $1::jsonb, now())
         ON CONFLICT (id) DO UPDATE SET token = EXCLUDED.token, updated_at = now()`,
		string(raw))
	return err
}

func (s *PGStore) SaveOAuthState(ctx context.Context, state string, expiresAt time.Time) error {
	if _, err := s.DB.Exec(ctx, `DELETE FROM calendar_oauth_states WHERE expires_at < now()`); err != nil {
		return err
	}
	_, err := s.DB.Exec(ctx,
		`INSERT INTO calendar_oauth_states (state, expires_at) VALUES ($1, $2)`,
		state, expiresAt)
	return err
}

func (s *PGStore) ConsumeOAuthState(ctx context.Context, state string, now time.Time) (bool, error) {
	var exp time.Time
	err := s.DB.QueryRow(ctx,
		`DELETE FROM calendar_oauth_states WHERE state = $1 RETURNING expires_at`, state).Scan(&exp)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return now.Before(exp), nil
}
