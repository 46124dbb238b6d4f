// Package localstore is an in-process backend for dev and tests. Each
// collection lives JSON-serialized under a well-known key (users,
// attendance, timetable, lectureAttendance), and every operation is a
// read-modify-write of the whole collection serialized by one mutex,
// matching the single-writer assumption the system is scoped to.
package localstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"faceattend/internal/attendance"
	"faceattend/internal/identity"
	"faceattend/internal/timetable"
)

const (
	keyUsers      = "users"
	keyAttendance = "attendance"
	keyTimetable  = "timetable"
	keyLectures   = "lectureAttendance"
)

// Store holds the serialized collections.
type Store struct {
	mu   sync.Mutex
	data map[string][]byte
}

// New creates an empty store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// load unmarshals the collection under key into out; a missing key leaves
// out at its zero value.
func (s *Store) load(key string, out interface{}) error {
	raw, ok := s.data[key]
	if !ok {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (s *Store) save(key string, in interface{}) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	s.data[key] = raw
	return nil
}

// Users views the store as an identity.Store.
func (s *Store) Users() identity.Store { return &userView{s} }

// Attendance views the store as an attendance.Store.
func (s *Store) Attendance() attendance.Store { return &attendanceView{s} }

// Timetable views the store as a timetable.Store.
func (s *Store) Timetable() timetable.Store { return &timetableView{s} }

type userView struct{ s *Store }

type storedUser struct {
	identity.User
	PasswordHash string `json:"passwordHash"`
}

func (v *userView) all() ([]identity.User, error) {
	var stored []storedUser
	if err := v.s.load(keyUsers, &stored); err != nil {
		return nil, err
	}
	users := make([]identity.User, 0, len(stored))
	for _, su := range stored {
		u := su.User
		u.PasswordHash = su.PasswordHash
		users = append(users, u)
	}
	return users, nil
}

func (v *userView) saveAll(users []identity.User) error {
	stored := make([]storedUser, 0, len(users))
	for _, u := range users {
		stored = append(stored, storedUser{User: u, PasswordHash: u.PasswordHash})
	}
	return v.s.save(keyUsers, stored)
}

func (v *userView) FindByRollNumber(_ context.Context, rollNumber string) (*identity.User, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	users, err := v.all()
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].RollNumber == rollNumber {
			u := users[i]
			return &u, nil
		}
	}
	return nil, nil
}

func (v *userView) FindByID(_ context.Context, id string) (*identity.User, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	users, err := v.all()
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].ID == id {
			u := users[i]
			return &u, nil
		}
	}
	return nil, nil
}

func (v *userView) Insert(_ context.Context, u identity.User) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	users, err := v.all()
	if err != nil {
		return err
	}
	users = append(users, u)
	return v.saveAll(users)
}

func (v *userView) List(_ context.Context) ([]identity.User, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	users, err := v.all()
	if err != nil {
		return nil, err
	}
	sort.Slice(users, func(i, j int) bool { return users[i].RollNumber < users[j].RollNumber })
	return users, nil
}

func (v *userView) CountByRole(_ context.Context, role identity.Role) (int, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	users, err := v.all()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, u := range users {
		if u.Role == role {
			n++
		}
	}
	return n, nil
}

type attendanceView struct{ s *Store }

func (v *attendanceView) Append(_ context.Context, rec attendance.Record) (attendance.Record, bool, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var records []attendance.Record
	if err := v.s.load(keyAttendance, &records); err != nil {
		return attendance.Record{}, false, err
	}
	for _, existing := range records {
		if existing.UserID == rec.UserID && existing.Date == rec.Date {
			return existing, false, nil
		}
	}
	records = append(records, rec)
	if err := v.s.save(keyAttendance, records); err != nil {
		return attendance.Record{}, false, err
	}
	return rec, true, nil
}

func (v *attendanceView) ListByUser(_ context.Context, userID string) ([]attendance.Record, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var records []attendance.Record
	if err := v.s.load(keyAttendance, &records); err != nil {
		return nil, err
	}
	var out []attendance.Record
	for _, rec := range records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].Time > out[j].Time
	})
	return out, nil
}

func (v *attendanceView) ListByDate(_ context.Context, date string) ([]attendance.Record, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var records []attendance.Record
	if err := v.s.load(keyAttendance, &records); err != nil {
		return nil, err
	}
	var out []attendance.Record
	for _, rec := range records {
		if rec.Date == date {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

func (v *attendanceView) CountByDate(ctx context.Context, date string) (int, error) {
	recs, err := v.ListByDate(ctx, date)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

type timetableView struct{ s *Store }

func (v *timetableView) Assignments(_ context.Context) (map[string]timetable.Assignment, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	cells := make(map[string]timetable.Assignment)
	if err := v.s.load(keyTimetable, &cells); err != nil {
		return nil, err
	}
	return cells, nil
}

func (v *timetableView) PutAssignment(_ context.Context, day, slot string, a timetable.Assignment) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	cells := make(map[string]timetable.Assignment)
	if err := v.s.load(keyTimetable, &cells); err != nil {
		return err
	}
	if a.Status == "" {
		a.Status = timetable.StatusScheduled
	}
	cells[timetable.CellKey(day, slot)] = a
	return v.s.save(keyTimetable, cells)
}

func (v *timetableView) GetAssignment(ctx context.Context, day, slot string) (*timetable.Assignment, error) {
	cells, err := v.Assignments(ctx)
	if err != nil {
		return nil, err
	}
	a, ok := cells[timetable.CellKey(day, slot)]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (v *timetableView) AppendEvent(_ context.Context, ev timetable.Event) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var events []timetable.Event
	if err := v.s.load(keyLectures, &events); err != nil {
		return err
	}
	events = append(events, ev)
	return v.s.save(keyLectures, events)
}

func (v *timetableView) ListEvents(_ context.Context) ([]timetable.Event, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var events []timetable.Event
	if err := v.s.load(keyLectures, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (v *timetableView) CurrentStatus(ctx context.Context, day, slot string) (string, error) {
	events, err := v.ListEvents(ctx)
	if err != nil {
		return "", err
	}
	status := timetable.StatusScheduled
	for _, ev := range events {
		if ev.Day == day && ev.Slot == slot {
			status = ev.Status
		}
	}
	return status, nil
}
