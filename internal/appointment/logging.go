package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type loggingScheduler struct {
	next   Scheduler
	logger *zap.Logger
}

// NewLoggingScheduler logs the outcome and latency of every call to next.
// Expected client errors log at info, everything else at error.
func NewLoggingScheduler(next Scheduler, logger *zap.Logger) Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &loggingScheduler{next: next, logger: logger.Named("scheduler")}
}

func (l *loggingScheduler) log(op string, start time.Time, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("op", op), zap.Duration("duration", time.Since(start)))

	switch {
	case err == nil:
		l.logger.Debug("scheduler call", fields...)
	case isClientError(err):
		l.logger.Info("scheduler call rejected", append(fields, zap.Error(err))...)
	default:
		l.logger.Error("scheduler call failed", append(fields, zap.Error(err))...)
	}
}

func isClientError(err error) bool {
	for _, target := range []error{
		ErrInvalidTimeWindow,
		ErrInvalidSchedulingRequest,
		ErrSchedulingConflict,
		ErrPatientNotFound,
		ErrDoctorNotFound,
		ErrAppointmentNotFound,
		ErrIllegalStateTransition,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (l *loggingScheduler) Schedule(ctx context.Context, req ScheduleRequest) (appt *Appointment, err error) {
	defer func(start time.Time) {
		fields := []zap.Field{
			zap.Stringer("doctor_id", req.DoctorID),
			zap.Stringer("patient_id", req.PatientID),
			zap.Time("start", req.Start),
			zap.Int("duration_minutes", req.DurationMinutes),
		}
		if appt != nil {
			fields = append(fields, zap.Stringer("appointment_id", appt.ID()))
		}
		l.log("schedule", start, err, fields...)
	}(time.Now())
	return l.next.Schedule(ctx, req)
}

func (l *loggingScheduler) Reschedule(ctx context.Context, id uuid.UUID, start time.Time, durationMinutes int) (appt *Appointment, err error) {
	defer func(began time.Time) {
		l.log("reschedule", began, err,
			zap.Stringer("appointment_id", id),
			zap.Time("start", start),
			zap.Int("duration_minutes", durationMinutes),
		)
	}(time.Now())
	return l.next.Reschedule(ctx, id, start, durationMinutes)
}

func (l *loggingScheduler) Confirm(ctx context.Context, id uuid.UUID) (appt *Appointment, err error) {
	defer func(start time.Time) { l.log("confirm", start, err, zap.Stringer("appointment_id", id)) }(time.Now())
	return l.next.Confirm(ctx, id)
}

func (l *loggingScheduler) Begin(ctx context.Context, id uuid.UUID) (appt *Appointment, err error) {
	defer func(start time.Time) { l.log("begin", start, err, zap.Stringer("appointment_id", id)) }(time.Now())
	return l.next.Begin(ctx, id)
}

func (l *loggingScheduler) Complete(ctx context.Context, id uuid.UUID) (appt *Appointment, err error) {
	defer func(start time.Time) { l.log("complete", start, err, zap.Stringer("appointment_id", id)) }(time.Now())
	return l.next.Complete(ctx, id)
}

func (l *loggingScheduler) Cancel(ctx context.Context, id uuid.UUID, reason string) (appt *Appointment, err error) {
	defer func(start time.Time) {
		l.log("cancel", start, err, zap.Stringer("appointment_id", id), zap.String("reason", reason))
	}(time.Now())
	return l.next.Cancel(ctx, id, reason)
}

func (l *loggingScheduler) Delete(ctx context.Context, id uuid.UUID) (err error) {
	defer func(start time.Time) { l.log("delete", start, err, zap.Stringer("appointment_id", id)) }(time.Now())
	return l.next.Delete(ctx, id)
}

func (l *loggingScheduler) Get(ctx context.Context, id uuid.UUID) (appt *Appointment, err error) {
	defer func(start time.Time) { l.log("get", start, err, zap.Stringer("appointment_id", id)) }(time.Now())
	return l.next.Get(ctx, id)
}

func (l *loggingScheduler) ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (appts []*Appointment, err error) {
	defer func(start time.Time) {
		l.log("list_by_doctor", start, err, zap.Stringer("doctor_id", doctorID), zap.Int("count", len(appts)))
	}(time.Now())
	return l.next.ListByDoctor(ctx, doctorID, from, to)
}

func (l *loggingScheduler) ListByPatient(ctx context.Context, patientID uuid.UUID, from, to time.Time) (appts []*Appointment, err error) {
	defer func(start time.Time) {
		l.log("list_by_patient", start, err, zap.Stringer("patient_id", patientID), zap.Int("count", len(appts)))
	}(time.Now())
	return l.next.ListByPatient(ctx, patientID, from, to)
}

func (l *loggingScheduler) ListByStatus(ctx context.Context, status Status) (appts []*Appointment, err error) {
	defer func(start time.Time) {
		l.log("list_by_status", start, err, zap.String("status", string(status)), zap.Int("count", len(appts)))
	}(time.Now())
	return l.next.ListByStatus(ctx, status)
}

func (l *loggingScheduler) AvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, durationMinutes int) (slots []TimeWindow, err error) {
	defer func(start time.Time) {
		l.log("available_slots", start, err,
			zap.Stringer("doctor_id", doctorID),
			zap.String("date", date.Format("2006-01-02")),
			zap.Int("count", len(slots)),
		)
	}(time.Now())
	return l.next.AvailableSlots(ctx, doctorID, date, durationMinutes)
}
