package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the storage port used by the service.
//
// Range queries match appointments whose start is in [from, to).
// Save inserts new appointments and updates existing ones guarded by their
// version; it must reject a second non-cancelled appointment for the same
// doctor overlapping an existing one with ErrSchedulingConflict, and it
// persists the aggregate's pending events in the same write.
type Repository interface {
	FindByDoctorAndDateRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error)
	FindByPatientAndDateRange(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Appointment, error)
	FindByStatus(ctx context.Context, status Status) ([]*Appointment, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Save(ctx context.Context, a *Appointment) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Directory resolves the patient and doctor references an appointment holds.
type Directory interface {
	DoctorExists(ctx context.Context, id uuid.UUID) (bool, error)
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
}
