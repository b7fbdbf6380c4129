package appointment

import (
	"time"

	"github.com/google/uuid"
)

// Event types double as broker routing keys.
const (
	EventAppointmentScheduled     = "appointment.scheduled"
	EventAppointmentStatusChanged = "appointment.status_changed"
	EventAppointmentRescheduled   = "appointment.rescheduled"
)

// Event is a change recorded by the aggregate and written to the outbox in
// the same transaction as the appointment row.
type Event struct {
	Type          string
	AppointmentID uuid.UUID
	Payload       map[string]any
	OccurredAt    time.Time
}

func (a *Appointment) record(now time.Time, eventType string, payload map[string]any) {
	a.events = append(a.events, Event{
		Type:          eventType,
		AppointmentID: a.id,
		Payload:       payload,
		OccurredAt:    now,
	})
}

// PendingEvents returns events recorded since the last successful save.
func (a *Appointment) PendingEvents() []Event {
	out := make([]Event, len(a.events))
	copy(out, a.events)
	return out
}

// markPersisted is called by repositories after a successful write.
func (a *Appointment) markPersisted(version int64) {
	a.version = version
	a.events = nil
}
