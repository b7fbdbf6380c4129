package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/dental-clinic-scheduling/internal/config"
	redisclient "github.com/hackgods/dental-clinic-scheduling/internal/redis"
)

// farFuture closes open-ended range queries.
var farFuture = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// Scheduler is the public surface of the scheduling service.
type Scheduler interface {
	Schedule(ctx context.Context, req ScheduleRequest) (*Appointment, error)
	Reschedule(ctx context.Context, id uuid.UUID, start time.Time, durationMinutes int) (*Appointment, error)
	Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Begin(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Complete(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error)
	Delete(ctx context.Context, id uuid.UUID) error

	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Appointment, error)
	ListByStatus(ctx context.Context, status Status) ([]*Appointment, error)
	AvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, durationMinutes int) ([]TimeWindow, error)
}

type ScheduleRequest struct {
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	Start           time.Time
	DurationMinutes int // 0 means the clinic default
	Notes           string
}

type Service struct {
	repo    Repository
	dir     Directory
	locker  redisclient.Locker
	policy  *Policy
	timeout time.Duration
}

var _ Scheduler = (*Service)(nil)

func NewService(repo Repository, dir Directory, locker redisclient.Locker, policy *Policy, cfg config.Config) *Service {
	timeout := cfg.RepositoryTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Service{
		repo:    repo,
		dir:     dir,
		locker:  locker,
		policy:  policy,
		timeout: timeout,
	}
}

// Schedule books a new pending appointment.
// The overlap check and the insert run under the doctor's lock so two
// concurrent bookings for the same doctor cannot both pass the check.
func (s *Service) Schedule(ctx context.Context, req ScheduleRequest) (*Appointment, error) {
	if req.DurationMinutes == 0 {
		req.DurationMinutes = s.policy.Rules().DefaultDuration
	}

	if err := s.ensurePatient(ctx, req.PatientID); err != nil {
		return nil, err
	}
	if err := s.ensureDoctor(ctx, req.DoctorID); err != nil {
		return nil, err
	}

	window, err := s.validateWindow(req.DoctorID, req.Start, req.DurationMinutes)
	if err != nil {
		return nil, err
	}

	appt, err := New(req.PatientID, req.DoctorID, window, req.Notes, s.now())
	if err != nil {
		return nil, err
	}

	err = s.withDoctorLock(ctx, req.DoctorID, func(lockCtx context.Context) error {
		if err := s.ensureFree(lockCtx, req.DoctorID, window, uuid.Nil); err != nil {
			return err
		}
		return s.save(lockCtx, appt)
	})
	if err != nil {
		return nil, err
	}

	return appt, nil
}

// Reschedule moves a pending or confirmed appointment to a new window. The
// appointment's own current slot is not counted as a conflict.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, start time.Time, durationMinutes int) (*Appointment, error) {
	return s.mutate(ctx, id, func(lockCtx context.Context, a *Appointment) error {
		if a.Status() != StatusPending && a.Status() != StatusConfirmed {
			return illegalTransition("reschedule", a.Status())
		}
		if durationMinutes == 0 {
			durationMinutes = a.Window().DurationMinutes()
		}

		window, err := s.validateWindow(a.DoctorID(), start, durationMinutes)
		if err != nil {
			return err
		}
		if err := s.ensureFree(lockCtx, a.DoctorID(), window, a.ID()); err != nil {
			return err
		}
		return a.Reschedule(window, s.now())
	})
}

func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.mutate(ctx, id, func(_ context.Context, a *Appointment) error {
		return a.Confirm(s.now())
	})
}

func (s *Service) Begin(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.mutate(ctx, id, func(_ context.Context, a *Appointment) error {
		return a.Begin(s.now())
	})
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.mutate(ctx, id, func(_ context.Context, a *Appointment) error {
		return a.Complete(s.now())
	})
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	return s.mutate(ctx, id, func(_ context.Context, a *Appointment) error {
		return a.Cancel(reason, s.now())
	})
}

// Delete removes the appointment permanently.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	appt, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	return s.withDoctorLock(ctx, appt.DoctorID(), func(lockCtx context.Context) error {
		callCtx, cancel := context.WithTimeout(lockCtx, s.timeout)
		defer cancel()

		if err := s.repo.Delete(callCtx, id); err != nil {
			return transient("delete appointment", err)
		}
		return nil
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.load(ctx, id)
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	from, to, err := normalizeRange(from, to)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	appts, err := s.repo.FindByDoctorAndDateRange(callCtx, doctorID, from, to)
	if err != nil {
		return nil, transient("list appointments by doctor", err)
	}
	return appts, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	from, to, err := normalizeRange(from, to)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	appts, err := s.repo.FindByPatientAndDateRange(callCtx, patientID, from, to)
	if err != nil {
		return nil, transient("list appointments by patient", err)
	}
	return appts, nil
}

func (s *Service) ListByStatus(ctx context.Context, status Status) ([]*Appointment, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	appts, err := s.repo.FindByStatus(callCtx, status)
	if err != nil {
		return nil, transient("list appointments by status", err)
	}
	return appts, nil
}

// AvailableSlots lists every bookable window of the given duration on date
// that does not collide with the doctor's existing appointments.
func (s *Service) AvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, durationMinutes int) ([]TimeWindow, error) {
	rules := s.policy.Rules()
	if durationMinutes == 0 {
		durationMinutes = rules.DefaultDuration
	}

	if err := s.ensureDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	if err := s.policy.ValidateAppointmentDate(date); err != nil {
		return nil, err
	}
	if err := s.policy.ValidateAppointmentDuration(durationMinutes); err != nil {
		return nil, err
	}
	if !s.policy.IsDoctorAvailableOnDate(doctorID, date) {
		return nil, nil
	}

	day := dateOf(date, rules.Location)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	existing, err := s.repo.FindByDoctorAndDateRange(callCtx, doctorID, day.Add(-rules.maxDuration()), day.AddDate(0, 0, 1))
	if err != nil {
		return nil, transient("load doctor appointments", err)
	}

	var slots []TimeWindow
	for tod := rules.OpenTime; tod <= rules.LastStart; tod += TimeOfDay(rules.SlotMinutes) {
		start := time.Date(day.Year(), day.Month(), day.Day(), int(tod)/60, int(tod)%60, 0, 0, rules.Location)

		window, err := s.policy.NewWindow(start, durationMinutes)
		if err != nil {
			continue
		}
		if s.policy.ValidateAppointmentTime(start) != nil {
			continue
		}
		if !s.policy.CheckOverlap(existing, doctorID, start, durationMinutes) {
			continue
		}
		slots = append(slots, window)
	}

	return slots, nil
}

// mutate loads the appointment, takes its doctor's lock, re-reads it inside
// the critical section, applies fn and saves.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(lockCtx context.Context, a *Appointment) error) (*Appointment, error) {
	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	var updated *Appointment
	err = s.withDoctorLock(ctx, current.DoctorID(), func(lockCtx context.Context) error {
		appt, err := s.load(lockCtx, id)
		if err != nil {
			return err
		}
		if err := fn(lockCtx, appt); err != nil {
			return err
		}
		if err := s.save(lockCtx, appt); err != nil {
			return err
		}
		updated = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// validateWindow applies the TimeWindow rules first, then the clinic policy.
func (s *Service) validateWindow(doctorID uuid.UUID, start time.Time, durationMinutes int) (TimeWindow, error) {
	window, err := s.policy.NewWindow(start, durationMinutes)
	if err != nil {
		return TimeWindow{}, err
	}
	if err := s.policy.Validate(start, durationMinutes); err != nil {
		return TimeWindow{}, err
	}
	if !s.policy.IsDoctorAvailableOnDate(doctorID, start) {
		return TimeWindow{}, invalidRequest("doctor %s does not work on %s", doctorID, start.In(s.policy.Rules().Location).Format("2006-01-02"))
	}
	return window, nil
}

// ensureFree must be called while holding the doctor's lock.
func (s *Service) ensureFree(ctx context.Context, doctorID uuid.UUID, window TimeWindow, self uuid.UUID) error {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// anything starting up to one max duration earlier may still be running
	from := window.Start().Add(-s.policy.Rules().maxDuration())
	existing, err := s.repo.FindByDoctorAndDateRange(callCtx, doctorID, from, window.End())
	if err != nil {
		return transient("load doctor appointments", err)
	}

	others := make([]*Appointment, 0, len(existing))
	for _, e := range existing {
		if e.ID() != self {
			others = append(others, e)
		}
	}

	if !s.policy.CheckOverlap(others, doctorID, window.Start(), window.DurationMinutes()) {
		return fmt.Errorf("%w: doctor %s already has an appointment overlapping %s", ErrSchedulingConflict, doctorID, window)
	}
	return nil
}

func (s *Service) ensurePatient(ctx context.Context, id uuid.UUID) error {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ok, err := s.dir.PatientExists(callCtx, id)
	if err != nil {
		return transient("check patient", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrPatientNotFound, id)
	}
	return nil
}

func (s *Service) ensureDoctor(ctx context.Context, id uuid.UUID) error {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ok, err := s.dir.DoctorExists(callCtx, id)
	if err != nil {
		return transient("check doctor", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrDoctorNotFound, id)
	}
	return nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	appt, err := s.repo.FindByID(callCtx, id)
	if err != nil {
		return nil, transient("load appointment", err)
	}
	return appt, nil
}

func (s *Service) save(ctx context.Context, a *Appointment) error {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.repo.Save(callCtx, a); err != nil {
		return transient("save appointment", err)
	}
	return nil
}

func (s *Service) withDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	err := s.locker.WithDoctorLock(ctx, doctorID, fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return fmt.Errorf("%w: calendar of doctor %s is busy, retry shortly: %v", ErrUnavailable, doctorID, err)
	}
	// The caller's deadline can run out while still queued for the lock.
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrUnavailable) {
		return transient("wait for doctor lock", err)
	}
	return err
}

func (s *Service) now() time.Time {
	return s.policy.Clock().Now()
}

func normalizeRange(from, to time.Time) (time.Time, time.Time, error) {
	if to.IsZero() {
		to = farFuture
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, invalidRequest("range end must be after range start")
	}
	return from, to, nil
}
