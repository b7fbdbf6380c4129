package appointment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/dental-clinic-scheduling/internal/config"
	redisclient "github.com/hackgods/dental-clinic-scheduling/internal/redis"
)

// Monday 2025-03-03 08:00 UTC.
var testNow = time.Date(2025, time.March, 3, 8, 0, 0, 0, time.UTC)

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

func at(day, hour, minute int) time.Time {
	return time.Date(2025, time.March, day, hour, minute, 0, 0, time.UTC)
}

// rules15 runs the clinic on a quarter-hour grid.
func rules15() Rules {
	r := DefaultRules()
	r.SlotMinutes = 15
	r.MinDuration = 15
	return r
}

// memStore is an in-memory Repository and Directory. Like the Postgres
// exclusion constraint, it refuses overlapping non-cancelled appointments
// for one doctor unless exclusion is switched off.
type memStore struct {
	mu        sync.Mutex
	appts     map[uuid.UUID]Snapshot
	events    []Event
	doctors   map[uuid.UUID]bool
	patients  map[uuid.UUID]bool
	exclusion bool

	// findDelay widens the window between the overlap read and the write.
	findDelay time.Duration
	// block makes every call wait for its context to expire.
	block bool
}

var (
	_ Repository = (*memStore)(nil)
	_ Directory  = (*memStore)(nil)
)

func newMemStore() *memStore {
	return &memStore{
		appts:     make(map[uuid.UUID]Snapshot),
		doctors:   make(map[uuid.UUID]bool),
		patients:  make(map[uuid.UUID]bool),
		exclusion: true,
	}
}

func (m *memStore) wait(ctx context.Context) error {
	if m.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (m *memStore) addDoctor() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.doctors[id] = true
	return id
}

func (m *memStore) addPatient() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.patients[id] = true
	return id
}

func (m *memStore) DoctorExists(ctx context.Context, id uuid.UUID) (bool, error) {
	if err := m.wait(ctx); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doctors[id], nil
}

func (m *memStore) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	if err := m.wait(ctx); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.patients[id], nil
}

func (m *memStore) filter(keep func(Snapshot) bool) []*Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Appointment
	for _, s := range m.appts {
		if keep(s) {
			out = append(out, Restore(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Window().Start().Before(out[j].Window().Start())
	})
	return out
}

func (m *memStore) FindByDoctorAndDateRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.findDelay > 0 {
		time.Sleep(m.findDelay)
	}
	return m.filter(func(s Snapshot) bool {
		return s.DoctorID == doctorID && !s.Start.Before(from) && s.Start.Before(to)
	}), nil
}

func (m *memStore) FindByPatientAndDateRange(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return m.filter(func(s Snapshot) bool {
		return s.PatientID == patientID && !s.Start.Before(from) && s.Start.Before(to)
	}), nil
}

func (m *memStore) FindByStatus(ctx context.Context, status Status) ([]*Appointment, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return m.filter(func(s Snapshot) bool { return s.Status == status }), nil
}

func (m *memStore) FindByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return Restore(s), nil
}

func (m *memStore) Save(ctx context.Context, a *Appointment) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s := a.Snapshot()
	if stored, ok := m.appts[s.ID]; ok {
		if stored.Version != s.Version {
			return fmt.Errorf("%w: stale version", ErrSchedulingConflict)
		}
	} else if !a.IsNew() {
		return ErrAppointmentNotFound
	}

	if m.exclusion && s.Status != StatusCancelled {
		end := s.Start.Add(time.Duration(s.DurationMinutes) * time.Minute)
		for id, o := range m.appts {
			if id == s.ID || o.DoctorID != s.DoctorID || o.Status == StatusCancelled {
				continue
			}
			oEnd := o.Start.Add(time.Duration(o.DurationMinutes) * time.Minute)
			if intervalsOverlap(s.Start, end, o.Start, oEnd) {
				return fmt.Errorf("%w: exclusion constraint", ErrSchedulingConflict)
			}
		}
	}

	s.Version++
	m.appts[s.ID] = s
	m.events = append(m.events, a.PendingEvents()...)
	a.markPersisted(s.Version)
	return nil
}

func (m *memStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appts[id]; !ok {
		return ErrAppointmentNotFound
	}
	delete(m.appts, id)
	return nil
}

func (m *memStore) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

// passthroughLocker provides no mutual exclusion at all.
type passthroughLocker struct{}

func (passthroughLocker) WithDoctorLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// busyLocker behaves like a lock that is always held elsewhere.
type busyLocker struct{}

func (busyLocker) WithDoctorLock(context.Context, uuid.UUID, func(ctx context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

type fixture struct {
	svc     *Service
	store   *memStore
	doctor  uuid.UUID
	patient uuid.UUID
}

func newFixture(t *testing.T, rules Rules, locker redisclient.Locker) *fixture {
	t.Helper()
	require.NoError(t, rules.Validate())

	if locker == nil {
		locker = redisclient.NewLocalLocker(time.Second, time.Second)
	}

	store := newMemStore()
	cfg := config.Config{RepositoryTimeout: time.Second}
	svc := NewService(store, store, locker, NewPolicy(rules, fixedClock(testNow)), cfg)

	return &fixture{
		svc:     svc,
		store:   store,
		doctor:  store.addDoctor(),
		patient: store.addPatient(),
	}
}

func (f *fixture) schedule(t *testing.T, start time.Time, minutes int) *Appointment {
	t.Helper()
	appt, err := f.svc.Schedule(context.Background(), ScheduleRequest{
		PatientID:       f.patient,
		DoctorID:        f.doctor,
		Start:           start,
		DurationMinutes: minutes,
	})
	require.NoError(t, err)
	return appt
}
