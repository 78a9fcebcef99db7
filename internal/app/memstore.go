package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// MemStore is an in-memory Store for local runs without a database and for
// tests. It enforces the same natural-key uniqueness as the SQL schema.
type MemStore struct {
	mu sync.RWMutex
	st memState
}

type memState struct {
	schedule   OperatingSchedule
	appts      map[int64]Appointment
	clients    map[int64]Client
	emails     map[string]int64
	nextAppt   int64
	nextClient int64
	token      *oauth2.Token
	states     map[string]time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{st: memState{
		schedule: OperatingSchedule{Hours: map[time.Weekday]DayHours{}},
		appts:    map[int64]Appointment{},
		clients:  map[int64]Client{},
		emails:   map[string]int64{},
		states:   map[string]time.Time{},
	}}
}

func (st memState) clone() memState {
	out := st
	out.schedule.Hours = make(map[time.Weekday]DayHours, len(st.schedule.Hours))
	for k, v := range st.schedule.Hours {
		out.schedule.Hours[k] = v
	}
	out.appts = make(map[int64]Appointment, len(st.appts))
	for k, v := range st.appts {
		out.appts[k] = v
	}
	out.clients = make(map[int64]Client, len(st.clients))
	for k, v := range st.clients {
		out.clients[k] = v
	}
	out.emails = make(map[string]int64, len(st.emails))
	for k, v := range st.emails {
		out.emails[k] = v
	}
	out.states = make(map[string]time.Time, len(st.states))
	for k, v := range st.states {
		out.states[k] = v
	}
	return out
}

// conflicts reports whether a busy ap would collide with another busy row.
func (st *memState) conflicts(ap Appointment) bool {
	if !isBusyStatus(ap.Status) {
		return false
	}
	key := NaturalKeyOf(ap)
	for id, other := range st.appts {
		if id != ap.ID && isBusyStatus(other.Status) && NaturalKeyOf(other) == key {
			return true
		}
	}
	return false
}

func (st *memState) existsByKey(key NaturalKey) bool {
	for _, ap := range st.appts {
		if NaturalKeyOf(ap) == key {
			return true
		}
	}
	return false
}

func (st *memState) insert(ap *Appointment) error {
	if st.conflicts(*ap) {
		return ErrDuplicate
	}
	st.nextAppt++
	now := time.Now().UTC()
	ap.ID = st.nextAppt
	ap.CreatedAt = now
	ap.UpdatedAt = now
	st.appts[ap.ID] = *ap
	return nil
}

func (st *memState) findOrCreateClient(email, name string) Client {
	email = strings.ToLower(email)
	if id, ok := st.emails[email]; ok {
		return st.clients[id]
	}
	st.nextClient++
	c := Client{ID: st.nextClient, Name: name, Email: email, CreatedAt: time.Now().UTC()}
	st.clients[c.ID] = c
	st.emails[email] = c.ID
	return c
}

func (s *MemStore) GetSchedule(_ context.Context) (OperatingSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.clone().schedule, nil
}

func (s *MemStore) UpdateSchedule(_ context.Context, fn func(*OperatingSchedule) error) (OperatingSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched := s.st.clone().schedule
	if err := fn(&sched); err != nil {
		return OperatingSchedule{}, err
	}
	s.st.schedule = sched
	return s.st.clone().schedule, nil
}

func (s *MemStore) CreateAppointment(_ context.Context, ap *Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.insert(ap)
}

func (s *MemStore) GetAppointment(_ context.Context, id int64) (Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ap, ok := s.st.appts[id]
	if !ok {
		return Appointment{}, fmt.Errorf("appointment %d: %w", id, ErrNotFound)
	}
	return ap, nil
}

func (s *MemStore) UpdateAppointment(_ context.Context, id int64, fn func(*Appointment) error) (Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ap, ok := s.st.appts[id]
	if !ok {
		return Appointment{}, fmt.Errorf("appointment %d: %w", id, ErrNotFound)
	}
	if err := fn(&ap); err != nil {
		return Appointment{}, err
	}
	ap.ID = id
	if s.st.conflicts(ap) {
		return Appointment{}, fmt.Errorf("%w: %s %s", ErrDuplicate, ap.Date, ap.Service)
	}
	s.st.appts[id] = ap
	return ap, nil
}

func (s *MemStore) DeleteAppointment(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.appts[id]; !ok {
		return fmt.Errorf("appointment %d: %w", id, ErrNotFound)
	}
	delete(s.st.appts, id)
	return nil
}

// ListAppointments orders by date, then time with all-day rows first.
func (s *MemStore) ListAppointments(_ context.Context, f AppointmentFilter) ([]Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Appointment{}
	for _, ap := range s.st.appts {
		if f.matches(ap) {
			out = append(out, ap)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Date != b.Date {
			return a.Date.Before(b.Date)
		}
		if (a.Time == nil) != (b.Time == nil) {
			return a.Time == nil
		}
		if a.Time != nil && *a.Time != *b.Time {
			return *a.Time < *b.Time
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (s *MemStore) SetExternalEventID(_ context.Context, id int64, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ap, ok := s.st.appts[id]
	if !ok {
		return fmt.Errorf("appointment %d: %w", id, ErrNotFound)
	}
	ap.ExternalEventID = eventID
	s.st.appts[id] = ap
	return nil
}

func (s *MemStore) GetClient(_ context.Context, id int64) (Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.st.clients[id]
	if !ok {
		return Client{}, fmt.Errorf("client %d: %w", id, ErrNotFound)
	}
	return c, nil
}

func (s *MemStore) FindOrCreateClient(_ context.Context, email, name string) (Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.findOrCreateClient(email, name), nil
}

// InSyncTx runs fn against a copy of the state and swaps it in only when fn
// succeeds.
func (s *MemStore) InSyncTx(_ context.Context, fn func(SyncTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&memSyncTx{st: &work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

type memSyncTx struct {
	st *memState
}

func (t *memSyncTx) FindOrCreateClient(_ context.Context, email, name string) (Client, error) {
	return t.st.findOrCreateClient(email, name), nil
}

func (t *memSyncTx) ExistsByNaturalKey(_ context.Context, key NaturalKey) (bool, error) {
	return t.st.existsByKey(key), nil
}

func (t *memSyncTx) InsertAppointment(_ context.Context, ap *Appointment) error {
	return t.st.insert(ap)
}

func (s *MemStore) LoadCalendarToken(_ context.Context) (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.st.token == nil {
		return nil, nil
	}
	tok := *s.st.token
	return &tok, nil
}

func (s *MemStore) SaveCalendarToken(_ context.Context, tok *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tok
	s.st.token = &cp
	return nil
}

func (s *MemStore) SaveOAuthState(_ context.Context, state string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	issued := expiresAt.Add(-oauthStateTTL)
	for k, exp := range s.st.states {
		if exp.Before(issued) {
			delete(s.st.states, k)
		}
	}
	s.st.states[state] = expiresAt
	return nil
}

func (s *MemStore) ConsumeOAuthState(_ context.Context, state string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.st.states[state]
	if !ok {
		return false, nil
	}
	delete(s.st.states, state)
	return now.Before(exp), nil
}
