package appointment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// ParseStatus accepts both the stored form ("in_progress") and the upper
// case form used by older clients ("IN_PROGRESS").
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled:
		return st, nil
	}
	return "", invalidRequest("unknown appointment status %q", s)
}

// IsTerminal reports whether no further transitions are accepted.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Appointment is the scheduling aggregate. State only changes through the
// transition methods below.
type Appointment struct {
	id           uuid.UUID
	patientID    uuid.UUID
	doctorID     uuid.UUID
	window       TimeWindow
	status       Status
	notes        string
	cancelReason string
	version      int64
	createdAt    time.Time
	updatedAt    time.Time

	events []Event
}

// New creates a pending appointment and records the scheduled event.
func New(patientID, doctorID uuid.UUID, window TimeWindow, notes string, now time.Time) (*Appointment, error) {
	if patientID == uuid.Nil {
		return nil, invalidRequest("patient id is required")
	}
	if doctorID == uuid.Nil {
		return nil, invalidRequest("doctor id is required")
	}
	if window.Start().IsZero() {
		return nil, invalidWindow("start is required")
	}

	a := &Appointment{
		id:        uuid.New(),
		patientID: patientID,
		doctorID:  doctorID,
		window:    window,
		status:    StatusPending,
		notes:     strings.TrimSpace(notes),
		createdAt: now,
		updatedAt: now,
	}
	a.record(now, EventAppointmentScheduled, map[string]any{
		"patient_id":       patientID.String(),
		"doctor_id":        doctorID.String(),
		"start":            window.Start(),
		"duration_minutes": window.DurationMinutes(),
		"notes":            a.notes,
	})
	return a, nil
}

// Snapshot is the persisted form of an appointment.
type Snapshot struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	Start           time.Time
	DurationMinutes int
	Status          Status
	Notes           string
	CancelReason    string
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Restore rebuilds an appointment from storage without re-running booking
// validation.
func Restore(s Snapshot) *Appointment {
	return &Appointment{
		id:           s.ID,
		patientID:    s.PatientID,
		doctorID:     s.DoctorID,
		window:       RestoreTimeWindow(s.Start, s.DurationMinutes),
		status:       s.Status,
		notes:        s.Notes,
		cancelReason: s.CancelReason,
		version:      s.Version,
		createdAt:    s.CreatedAt,
		updatedAt:    s.UpdatedAt,
	}
}

func (a *Appointment) Snapshot() Snapshot {
	return Snapshot{
		ID:              a.id,
		PatientID:       a.patientID,
		DoctorID:        a.doctorID,
		Start:           a.window.Start(),
		DurationMinutes: a.window.DurationMinutes(),
		Status:          a.status,
		Notes:           a.notes,
		CancelReason:    a.cancelReason,
		Version:         a.version,
		CreatedAt:       a.createdAt,
		UpdatedAt:       a.updatedAt,
	}
}

func (a *Appointment) ID() uuid.UUID        { return a.id }
func (a *Appointment) PatientID() uuid.UUID { return a.patientID }
func (a *Appointment) DoctorID() uuid.UUID  { return a.doctorID }
func (a *Appointment) Window() TimeWindow   { return a.window }
func (a *Appointment) Status() Status       { return a.status }
func (a *Appointment) Notes() string        { return a.notes }
func (a *Appointment) CancelReason() string { return a.cancelReason }
func (a *Appointment) Version() int64       { return a.version }
func (a *Appointment) CreatedAt() time.Time { return a.createdAt }
func (a *Appointment) UpdatedAt() time.Time { return a.updatedAt }

// IsNew reports whether the appointment has never been persisted.
func (a *Appointment) IsNew() bool { return a.version == 0 }

// Confirm moves a pending appointment to confirmed.
func (a *Appointment) Confirm(now time.Time) error {
	return a.transition("confirm", now, StatusConfirmed, "", StatusPending)
}

// Begin marks a confirmed appointment as in progress.
func (a *Appointment) Begin(now time.Time) error {
	return a.transition("begin", now, StatusInProgress, "", StatusConfirmed)
}

// Complete closes an in-progress appointment.
func (a *Appointment) Complete(now time.Time) error {
	return a.transition("complete", now, StatusCompleted, "", StatusInProgress)
}

// Cancel is only allowed before the visit starts.
func (a *Appointment) Cancel(reason string, now time.Time) error {
	reason = strings.TrimSpace(reason)
	if err := a.transition("cancel", now, StatusCancelled, reason, StatusPending, StatusConfirmed); err != nil {
		return err
	}
	a.cancelReason = reason
	return nil
}

// Reschedule moves the appointment to a new window. The status is kept.
// Conflict checks against other appointments are the caller's job.
func (a *Appointment) Reschedule(window TimeWindow, now time.Time) error {
	if a.status != StatusPending && a.status != StatusConfirmed {
		return illegalTransition("reschedule", a.status)
	}
	if window.Start().IsZero() {
		return invalidWindow("start is required")
	}

	prev := a.window
	a.window = window
	a.updatedAt = now
	a.record(now, EventAppointmentRescheduled, map[string]any{
		"doctor_id":                 a.doctorID.String(),
		"previous_start":            prev.Start(),
		"previous_duration_minutes": prev.DurationMinutes(),
		"new_start":                 window.Start(),
		"new_duration_minutes":      window.DurationMinutes(),
	})
	return nil
}

func (a *Appointment) transition(action string, now time.Time, to Status, reason string, allowedFrom ...Status) error {
	allowed := false
	for _, from := range allowedFrom {
		if a.status == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return illegalTransition(action, a.status)
	}

	prev := a.status
	a.status = to
	a.updatedAt = now

	payload := map[string]any{
		"previous_status": string(prev),
		"new_status":      string(to),
	}
	if reason != "" {
		payload["reason"] = reason
	}
	a.record(now, EventAppointmentStatusChanged, payload)
	return nil
}

func (a *Appointment) String() string {
	return fmt.Sprintf("appointment %s doctor=%s %s [%s]", a.id, a.doctorID, a.window, a.status)
}
