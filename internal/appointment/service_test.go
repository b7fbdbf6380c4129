package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/dental-clinic-scheduling/internal/config"
	redisclient "github.com/hackgods/dental-clinic-scheduling/internal/redis"
)

func TestSchedule_CreatesPendingAppointment(t *testing.T) {
	f := newFixture(t, DefaultRules(), nil)

	appt, err := f.svc.Schedule(context.Background(), ScheduleRequest{
		PatientID:       f.patient,
		DoctorID:        f.doctor,
		Start:           at(10, 9, 0),
		DurationMinutes: 60,
		Notes:           "root canal",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusPending, appt.Status())
	assert.Equal(t, f.doctor, appt.DoctorID())
	assert.Equal(t, f.patient, appt.PatientID())
	assert.Equal(t, at(10, 10, 0), appt.Window().End())
	assert.EqualValues(t, 1, appt.Version())
	assert.Empty(t, appt.PendingEvents())

	stored, err := f.svc.Get(context.Background(), appt.ID())
	require.NoError(t, err)
	assert.Equal(t, appt.Snapshot(), stored.Snapshot())

	assert.Equal(t, []string{EventAppointmentScheduled}, f.store.eventTypes())
}

func TestSchedule_DefaultDuration(t *testing.T) {
	f := newFixture(t, DefaultRules(), nil)

	appt := f.schedule(t, at(10, 9, 0), 0)
	assert.Equal(t, 30, appt.Window().DurationMinutes())
}

func TestSchedule_UnknownIdentities(t *testing.T) {
	f := newFixture(t, DefaultRules(), nil)
	ctx := context.Background()

	_, err := f.svc.Schedule(ctx, ScheduleRequest{PatientID: uuid.New(), DoctorID: uuid.New(), Start: at(10, 9, 0)})
	assert.ErrorIs(t, err, ErrPatientNotFound, "patient is resolved first")

	_, err = f.svc.Schedule(ctx, ScheduleRequest{PatientID: f.patient, DoctorID: uuid.New(), Start: at(10, 9, 0)})
	assert.ErrorIs(t, err, ErrDoctorNotFound)
}

func TestSchedule_Validation(t *testing.T) {
	f := newFixture(t, DefaultRules(), nil)

	tests := []struct {
		name     string
		start    time.Time
		duration int
		want     error
	}{
		{"in the past", at(3, 7, 0), 30, ErrInvalidTimeWindow},
		{"off grid", at(10, 9, 15), 30, ErrInvalidTimeWindow},
		{"ends after close", at(10, 17, 0), 90, ErrInvalidTimeWindow},
		{"same day", at(3, 10, 0), 30, ErrInvalidSchedulingRequest},
		{"weekend", at(8, 9, 0), 30, ErrInvalidSchedulingRequest},
		{"lunch break", at(10, 12, 30), 30, ErrInvalidSchedulingRequest},
		{"too far ahead", time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC), 30, ErrInvalidSchedulingRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Schedule(context.Background(), ScheduleRequest{
				PatientID:       f.patient,
				DoctorID:        f.doctor,
				Start:           tt.start,
				DurationMinutes: tt.duration,
			})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Empty(t, f.store.eventTypes())
}

func TestSchedule_OverlapAndBackToBack(t *testing.T) {
	f := newFixture(t, rules15(), nil)
	ctx := context.Background()

	existing := f.schedule(t, at(10, 9, 0), 30)
	_, err := f.svc.Confirm(ctx, existing.ID())
	require.NoError(t, err)

	_, err = f.svc.Schedule(ctx, ScheduleRequest{
		PatientID:       f.store.addPatient(),
		DoctorID:        f.doctor,
		Start:           at(10, 9, 15),
		DurationMinutes: 30,
	})
	require.ErrorIs(t, err, ErrSchedulingConflict)

	next, err := f.svc.Schedule(ctx, ScheduleRequest{
		PatientID:       f.store.addPatient(),
		DoctorID:        f.doctor,
		Start:           at(10, 9, 30),
		DurationMinutes: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, next.Status())
}

func TestSchedule_LongEarlierAppointmentBlocks(t *testing.T) {
	f := newFixture(t, DefaultRules(), nil)

	f.schedule(t, at(10, 9, 0), 120)

	_, err := f.svc.Schedule(context.Background(), ScheduleRequest{
		PatientID: f.patient,
		DoctorID:  f.doctor,
		Start:     at(10, 10, 30),
	})
	assert.ErrorIs(t, err, ErrSchedulingConflict)
}

func TestSchedule_CancelledAndOtherDoctorsDoNotBlock(t *testing.T) {
	f := newFixture(t, DefaultRules(), nil)
	ctx := context.Background()

	cancelled := f.schedule(t, at(10, 9, 0), 30)
	_, err := f.svc.Cancel(ctx, cancelled.ID(), "moved away")
	require.NoError(t, err)

	f.schedule(t, at(10, 9, 0), 30)

	_, err = f.svc.Schedule(ctx, ScheduleRequest{
		PatientID: f.patient,
		DoctorID:  f.store.addDoctor(),
		Start:     at(10, 9, 0),
	})
	assert.NoError(t, err)
}

func TestSchedule_ConcurrentBookingsUnderDoctorLock(t *testing.T) {
	f := newFixture(t, DefaultRules(), redisclient.NewLocalLocker(time.Second, 5*time.Second))
	// the lock is the only guard in this test
	f.store.exclusion = false
	f.store.findDelay = 5 * time.Millisecond

	assertExactlyOneWins(t, f, 8)
}

func TestSchedule_ConcurrentBookingsCaughtByStorage(t *testing.T) {
	f := newFixture(t, DefaultRules(), passthroughLocker{})
	f.store.findDelay = 20 * time.Millisecond

	assertExactlyOneWins(t, f, 8)
}

func assertExactlyOneWins(t *testing.T, f *fixture, n int) {
	t.Helper()

	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		errs     = make([]error, n)
		patients = make([]uuid.UUID, n)
	)
	for i := range patients {
		patients[i] = f.store.addPatient()
	}

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.Schedule(context.Background(), ScheduleRequest{
				PatientID:       patients[i],
				DoctorID:        f.doctor,
				Start:           at(10, 9, 0),
				DurationMinutes: 60,
			})
		}(i)
	}
	close(start)
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrSchedulingConflict)
	}
	assert.Equal(t, 1, wins)

	booked, err := f.svc.ListByDoctor(context.Background(), f.doctor, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, booked, 1)
}

func TestSchedule_BusyLockIsUnavailable(t *testing.T) {
	f := newFixture(t, DefaultRules(), busyLocker{})

	_, err := f.svc.Schedule(context.Background(), ScheduleRequest{
		PatientID: f.patient,
		DoctorID:  f.doctor,
		Start:     at(10, 9, 0),
	})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrSchedulingConflict)
}

func TestSchedule_DeadlineWhileWaitingForLockIsUnavailable(t *testing.T) {
	locker := redisclient.NewLocalLocker(time.Second, 5*time.Second)
	f := newFixture(t, DefaultRules(), locker)

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- locker.WithDoctorLock(context.Background(), f.doctor, func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.svc.Schedule(ctx, ScheduleRequest{
		PatientID: f.patient,
		DoctorID:  f.doctor,
		Start:     at(10, 9, 0),
	})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "wait for doctor lock")

	close(release)
	require.NoError(t, <-done)
	assert.Empty(t, f.store.eventTypes())
}

func TestService_RepositoryTimeoutIsUnavailable(t *testing.T) {
	store := newMemStore()
	store.block = true

	cfg := config.Config{RepositoryTimeout: 10 * time.Millisecond}
	svc := NewService(store, store, passthroughLocker{}, NewPolicy(DefaultRules(), fixedClock(testNow)), cfg)

	_, err := svc.Schedule(context.Background(), ScheduleRequest{
		PatientID: uuid.New(),
		DoctorID:  uuid.New(),
		Start:     at(10, 9, 0),
	})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrPatientNotFound)

	_, err = svc.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestReschedule(t *testing.T) {
	f := newFixture(t, DefaultRules(), nil)
	ctx := context.Background()

	appt := f.schedule(t, at(10, 9, 0), 60)

	// overlaps only its own current slot
	moved, err := f.svc.Reschedule(ctx, appt.ID(), at(10, 9, 30), 60)
	require.NoError(t, err)
	assert.Equal(t, at(10, 9, 30), moved.Window().Start())
	assert.Equal(t, StatusPending, moved.Status())
	assert.EqualValues(t, 2, moved.Version())

	// zero keeps the current duration
	moved, err = f.svc.Reschedule(ctx, appt.ID(), at(11, 14, 0), 0)
	require.NoError(t, err)
	assert.Equal(t, 60, moved.Window().DurationMinutes())

	assert.Equal(t, []string{
		EventAppointmentScheduled,
		EventAppointmentRescheduled,
		EventAppointmentRescheduled,
	}, f.store.eventTypes())
}

func TestReschedule_Failures(t *testing.T) {
	f := newFixture(t, DefaultRules(), nil)
	ctx := context.Background()

	blocker := f.schedule(t, at(10, 11, 0), 30)
	appt := f.schedule(t, at(10, 9, 0), 30)

	_, err := f.svc.Reschedule(ctx, appt.ID(), at(10, 11, 0), 30)
	assert.ErrorIs(t, err, ErrSchedulingConflict)

	_, err = f.svc.Reschedule(ctx, appt.ID(), at(10, 9, 10), 30)
	assert.ErrorIs(t, err, ErrInvalidTimeWindow)

	_, err = f.svc.Reschedule(ctx, uuid.New(), at(10, 14, 0), 30)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	_, err = f.svc.Confirm(ctx, blocker.ID())
	require.NoError(t, err)
	_, err = f.svc.Begin(ctx, blocker.ID())
	require.NoError(t, err)

	_, err = f.svc.Reschedule(ctx, blocker.ID(), at(10, 14, 0), 30)
	assert.ErrorIs(t, err, ErrIllegalStateTransition)

	unchanged, err := f.svc.Get(ctx, appt.ID())
	require.NoError(t, err)
	assert.Equal(t, at(10, 9, 0), unchanged.Window().Start())
}

func TestLifecycle(t *testing.T) {
	f := newFixture(t, DefaultRules(), nil)
	ctx := context.Background()

	appt := f.schedule(t, at(10, 9, 0), 30)

	_, err := f.svc.Begin(ctx, appt.ID())
	require.ErrorIs(t, err, ErrIllegalStateTransition, "begin requires confirmation")

	for _, step := range []struct {
		fn   func(context.Context, uuid.UUID) (*Appointment, error)
		want Status
	}{
		{f.svc.Confirm, StatusConfirmed},
		{f.svc.Begin, StatusInProgress},
		{f.svc.Complete, StatusCompleted},
	} {
		got, err := step.fn(ctx, appt.ID())
		require.NoError(t, err)
		assert.Equal(t, step.want, got.Status())
	}

	_, err = f.svc.Cancel(ctx, appt.ID(), "too late")
	assert.ErrorIs(t, err, ErrIllegalStateTransition)

	_, err = f.svc.Confirm(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	assert.Equal(t, []string{
		EventAppointmentScheduled,
		EventAppointmentStatusChanged,
		EventAppointmentStatusChanged,
		EventAppointmentStatusChanged,
	}, f.store.eventTypes())
}

func TestCancel(t *testing.T) {
	f := newFixture(t, DefaultRules(), nil)
	ctx := context.Background()

	pending := f.schedule(t, at(10, 9, 0), 30)
	confirmed := f.schedule(t, at(10, 10, 0), 30)
	_, err := f.svc.Confirm(ctx, confirmed.ID())
	require.NoError(t, err)

	for _, id := range []uuid.UUID{pending.ID(), confirmed.ID()} {
		got, err := f.svc.Cancel(ctx, id, "sick")
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status())
		assert.Equal(t, "sick", got.CancelReason())

		_, err = f.svc.Cancel(ctx, id, "again")
		assert.ErrorIs(t, err, ErrIllegalStateTransition)
	}

	_, err = f.svc.Cancel(ctx, uuid.New(), "")
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestDelete(t *testing.T) {
	f := newFixture(t, DefaultRules(), nil)
	ctx := context.Background()

	appt := f.schedule(t, at(10, 9, 0), 30)
	require.NoError(t, f.svc.Delete(ctx, appt.ID()))

	_, err := f.svc.Get(ctx, appt.ID())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	assert.ErrorIs(t, f.svc.Delete(ctx, appt.ID()), ErrAppointmentNotFound)

	// the slot is free again
	f.schedule(t, at(10, 9, 0), 30)
}

func TestListings(t *testing.T) {
	f := newFixture(t, DefaultRules(), nil)
	ctx := context.Background()

	a := f.schedule(t, at(10, 9, 0), 30)
	b := f.schedule(t, at(11, 9, 0), 30)
	otherPatient := f.store.addPatient()
	c, err := f.svc.Schedule(ctx, ScheduleRequest{PatientID: otherPatient, DoctorID: f.doctor, Start: at(12, 9, 0)})
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, b.ID())
	require.NoError(t, err)

	byDoctor, err := f.svc.ListByDoctor(ctx, f.doctor, at(10, 0, 0), at(12, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a.ID(), b.ID()}, ids(byDoctor))

	byDoctor, err = f.svc.ListByDoctor(ctx, f.doctor, at(10, 0, 0), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a.ID(), b.ID(), c.ID()}, ids(byDoctor))

	byPatient, err := f.svc.ListByPatient(ctx, f.patient, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a.ID(), b.ID()}, ids(byPatient))

	confirmed, err := f.svc.ListByStatus(ctx, StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b.ID()}, ids(confirmed))

	_, err = f.svc.ListByDoctor(ctx, f.doctor, at(12, 0, 0), at(10, 0, 0))
	assert.ErrorIs(t, err, ErrInvalidSchedulingRequest)
}

func ids(appts []*Appointment) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(appts))
	for _, a := range appts {
		out = append(out, a.ID())
	}
	return out
}

func TestAvailableSlots(t *testing.T) {
	f := newFixture(t, DefaultRules(), nil)
	ctx := context.Background()

	day := at(10, 0, 0)

	slots, err := f.svc.AvailableSlots(ctx, f.doctor, day, 0)
	require.NoError(t, err)
	assert.Len(t, slots, 15)

	f.schedule(t, at(10, 9, 0), 30)

	slots, err = f.svc.AvailableSlots(ctx, f.doctor, day, 30)
	require.NoError(t, err)
	assert.Len(t, slots, 14)
	for _, s := range slots {
		assert.NotEqual(t, at(10, 9, 0), s.Start())
	}

	slots, err = f.svc.AvailableSlots(ctx, f.doctor, day, 60)
	require.NoError(t, err)
	assert.Len(t, slots, 13, "08:30 and 09:00 would overlap the booking")

	_, err = f.svc.AvailableSlots(ctx, f.doctor, at(8, 0, 0), 30)
	assert.ErrorIs(t, err, ErrInvalidSchedulingRequest)

	_, err = f.svc.AvailableSlots(ctx, uuid.New(), day, 30)
	assert.ErrorIs(t, err, ErrDoctorNotFound)

	_, err = f.svc.AvailableSlots(ctx, f.doctor, day, 45)
	assert.ErrorIs(t, err, ErrInvalidSchedulingRequest)
}

func TestNewService_DefaultTimeout(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, store, passthroughLocker{}, NewPolicy(DefaultRules(), nil), config.Config{})
	assert.Equal(t, 2*time.Second, svc.timeout)
}

func TestTransient(t *testing.T) {
	assert.NoError(t, transient("op", nil))
	assert.ErrorIs(t, transient("op", context.DeadlineExceeded), ErrUnavailable)
	assert.ErrorIs(t, transient("op", ErrUnavailable), ErrUnavailable)

	plain := errors.New("boom")
	err := transient("op", plain)
	assert.ErrorIs(t, err, plain)
	assert.NotErrorIs(t, err, ErrUnavailable)
}
