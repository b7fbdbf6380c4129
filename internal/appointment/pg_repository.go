package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/dental-clinic-scheduling/internal/events"
)

const (
	pgExclusionViolation  = "23P01"
	pgForeignKeyViolation = "23503"

	// Codes after which the same statement can succeed on a later attempt.
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgTooManyConnections   = "53300"
	pgQueryCanceled        = "57014"
	pgAdminShutdown        = "57P01"
	pgCrashShutdown        = "57P02"
	pgCannotConnectNow     = "57P03"
	pgConnectionException  = "08"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

var (
	_ Repository   = (*PgRepository)(nil)
	_ Directory    = (*PgRepository)(nil)
	_ events.Store = (*PgRepository)(nil)
)

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `id, patient_id, doctor_id, start_time, duration_minutes, status,
	COALESCE(notes, ''), COALESCE(cancel_reason, ''), version, created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var s Snapshot

	err := row.Scan(
		&s.ID,
		&s.PatientID,
		&s.DoctorID,
		&s.Start,
		&s.DurationMinutes,
		&s.Status,
		&s.Notes,
		&s.CancelReason,
		&s.Version,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, translateError(err)
	}

	return Restore(s), nil
}

func (r *PgRepository) queryAppointments(ctx context.Context, sql string, args ...any) ([]*Appointment, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	var result []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}

	if err := rows.Err(); err != nil {
		return nil, translateError(err)
	}

	return result, nil
}

// translateError maps driver errors onto the scheduling taxonomy.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAppointmentNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgExclusionViolation:
			return fmt.Errorf("%w: overlapping appointment committed concurrently", ErrSchedulingConflict)
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %s", ErrInvalidSchedulingRequest, pgErr.Detail)
		case pgSerializationFailure, pgDeadlockDetected, pgTooManyConnections,
			pgQueryCanceled, pgAdminShutdown, pgCrashShutdown, pgCannotConnectNow:
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if strings.HasPrefix(pgErr.Code, pgConnectionException) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}

	var netErr net.Error
	if pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return err
}

// Directory

func (r *PgRepository) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, translateError(err)
	}
	return exists, nil
}

func (r *PgRepository) DoctorExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM doctors WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, translateError(err)
	}
	return exists, nil
}

// Repository

func (r *PgRepository) FindByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) FindByDoctorAndDateRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	return r.queryAppointments(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND start_time >= $2
		  AND start_time < $3
		ORDER BY start_time
	`, doctorID, from, to)
}

func (r *PgRepository) FindByPatientAndDateRange(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	return r.queryAppointments(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		  AND start_time >= $2
		  AND start_time < $3
		ORDER BY start_time
	`, patientID, from, to)
}

func (r *PgRepository) FindByStatus(ctx context.Context, status Status) ([]*Appointment, error) {
	return r.queryAppointments(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = $1
		ORDER BY start_time
	`, status)
}

// Save writes the appointment and its pending events in one transaction.
// The appointments_no_overlap exclusion constraint is the last line of
// defence against double booking; its violation surfaces as
// ErrSchedulingConflict.
func (r *PgRepository) Save(ctx context.Context, a *Appointment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return translateError(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	s := a.Snapshot()
	end := s.Start.Add(time.Duration(s.DurationMinutes) * time.Minute)
	var version int64

	if a.IsNew() {
		err = tx.QueryRow(ctx, `
			INSERT INTO appointments (id, patient_id, doctor_id, start_time, end_time, duration_minutes,
			                          status, notes, cancel_reason, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), 1, $10, $11)
			RETURNING version
		`, s.ID, s.PatientID, s.DoctorID, s.Start, end, s.DurationMinutes,
			s.Status, s.Notes, s.CancelReason, s.CreatedAt, s.UpdatedAt).Scan(&version)
	} else {
		err = tx.QueryRow(ctx, `
			UPDATE appointments
			SET start_time = $3,
			    end_time = $4,
			    duration_minutes = $5,
			    status = $6,
			    notes = NULLIF($7, ''),
			    cancel_reason = NULLIF($8, ''),
			    updated_at = $9,
			    version = version + 1
			WHERE id = $1
			  AND version = $2
			RETURNING version
		`, s.ID, s.Version, s.Start, end, s.DurationMinutes,
			s.Status, s.Notes, s.CancelReason, s.UpdatedAt).Scan(&version)
		if errors.Is(err, pgx.ErrNoRows) {
			return r.staleOrMissing(ctx, s.ID)
		}
	}
	if err != nil {
		return translateError(err)
	}

	for _, ev := range a.PendingEvents() {
		if err := insertEvent(ctx, tx, ev); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return translateError(err)
	}

	a.markPersisted(version)
	return nil
}

func (r *PgRepository) staleOrMissing(ctx context.Context, id uuid.UUID) error {
	if _, err := r.FindByID(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: appointment %s was modified concurrently", ErrSchedulingConflict, id)
}

func (r *PgRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return translateError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

// Outbox

type eventEnvelope struct {
	Type          string         `json:"type"`
	AppointmentID uuid.UUID      `json:"appointment_id"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Data          map[string]any `json:"data"`
}

func insertEvent(ctx context.Context, tx pgx.Tx, ev Event) error {
	payload, err := json.Marshal(eventEnvelope{
		Type:          ev.Type,
		AppointmentID: ev.AppointmentID,
		OccurredAt:    ev.OccurredAt,
		Data:          ev.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.Type, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.Type, ev.AppointmentID, payload, nullableTime(ev.OccurredAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", translateError(err))
	}

	return nil
}

// outboxLease is how long a fetched batch stays invisible to other relays.
// Rows whose publish failed become visible again once it runs out.
const outboxLease = 30 * time.Second

// claimUnpublishedSQL leases the oldest unpublished rows. SKIP LOCKED keeps
// concurrent relays from claiming the same rows.
const claimUnpublishedSQL = `
	WITH claimed AS (
		SELECT id
		FROM event_logs
		WHERE published_at IS NULL
		  AND (claimed_until IS NULL OR claimed_until < now())
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	)
	UPDATE event_logs e
	SET claimed_until = now() + $2::interval
	FROM claimed
	WHERE e.id = claimed.id
	RETURNING e.id, e.event_type, e.appointment_id, e.payload, e.created_at
`

func (r *PgRepository) FetchUnpublished(ctx context.Context, limit int) ([]events.Record, error) {
	rows, err := r.pool.Query(ctx, claimUnpublishedSQL, limit, outboxLease)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	var result []events.Record
	for rows.Next() {
		var rec events.Record
		if err := rows.Scan(&rec.ID, &rec.EventType, &rec.AppointmentID, &rec.Payload, &rec.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, translateError(err)
	}

	// RETURNING order is unspecified.
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return result, nil
}

func (r *PgRepository) MarkPublished(ctx context.Context, id int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE event_logs
		SET published_at = $2
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark event published: %w", translateError(err))
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
