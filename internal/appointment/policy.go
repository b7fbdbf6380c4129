package appointment

import (
	"time"

	"github.com/google/uuid"
)

// Policy holds the clinic-wide booking rules. It has no state of its own
// beyond the rules and the clock it was built with.
type Policy struct {
	rules Rules
	clock Clock
}

func NewPolicy(rules Rules, clock Clock) *Policy {
	if clock == nil {
		clock = SystemClock()
	}
	return &Policy{rules: rules, clock: clock}
}

func (p *Policy) Rules() Rules { return p.rules }

func (p *Policy) Clock() Clock { return p.clock }

// NewWindow builds a TimeWindow with the policy's clock and rules.
func (p *Policy) NewWindow(start time.Time, durationMinutes int) (TimeWindow, error) {
	return NewTimeWindow(p.clock, p.rules, start, durationMinutes)
}

// ValidateAppointmentDate requires a weekday between MinAdvanceDays and
// MaxAdvanceDays from today, both inclusive.
func (p *Policy) ValidateAppointmentDate(date time.Time) error {
	loc := p.rules.Location
	day := dateOf(date, loc)
	today := dateOf(p.clock.Now(), loc)

	minDate := today.AddDate(0, 0, p.rules.MinAdvanceDays)
	maxDate := today.AddDate(0, 0, p.rules.MaxAdvanceDays)

	if day.Before(minDate) {
		return invalidRequest("appointments must be booked at least %d day(s) in advance", p.rules.MinAdvanceDays)
	}
	if day.After(maxDate) {
		return invalidRequest("appointments cannot be booked more than %d days in advance", p.rules.MaxAdvanceDays)
	}
	if isWeekend(day) {
		return invalidRequest("appointments cannot be booked on weekends")
	}
	return nil
}

// ValidateAppointmentTime requires a start inside the morning or afternoon
// session, on the slot grid.
func (p *Policy) ValidateAppointmentTime(t time.Time) error {
	local := t.In(p.rules.Location)
	tod := timeOfDay(local)

	morning := tod >= p.rules.MorningStart && tod < p.rules.MorningEnd
	afternoon := tod >= p.rules.AfternoonStart && tod < p.rules.AfternoonEnd
	if !morning && !afternoon {
		return invalidRequest("appointments can only start between %s-%s or %s-%s",
			p.rules.MorningStart, p.rules.MorningEnd, p.rules.AfternoonStart, p.rules.AfternoonEnd)
	}

	if local.Minute()%p.rules.SlotMinutes != 0 {
		return invalidRequest("appointments must start on %d minute intervals", p.rules.SlotMinutes)
	}
	return nil
}

func (p *Policy) ValidateAppointmentDuration(minutes int) error {
	if minutes < p.rules.MinDuration {
		return invalidRequest("minimum appointment duration is %d minutes", p.rules.MinDuration)
	}
	if minutes > p.rules.MaxDuration {
		return invalidRequest("maximum appointment duration is %d minutes", p.rules.MaxDuration)
	}
	if minutes%p.rules.SlotMinutes != 0 {
		return invalidRequest("duration must be a multiple of %d minutes", p.rules.SlotMinutes)
	}
	return nil
}

// Validate runs the date, time and duration rules in that order.
func (p *Policy) Validate(start time.Time, durationMinutes int) error {
	if err := p.ValidateAppointmentDate(start); err != nil {
		return err
	}
	if err := p.ValidateAppointmentTime(start); err != nil {
		return err
	}
	return p.ValidateAppointmentDuration(durationMinutes)
}

// CheckOverlap returns true when the proposed interval is free for doctorID.
// Appointments of other doctors and cancelled appointments are ignored.
func (p *Policy) CheckOverlap(existing []*Appointment, doctorID uuid.UUID, proposedStart time.Time, durationMinutes int) bool {
	return CheckOverlap(existing, doctorID, proposedStart, durationMinutes)
}

// IsDoctorAvailableOnDate reports whether the doctor works on date. Every
// doctor currently works Monday to Friday.
func (p *Policy) IsDoctorAvailableOnDate(doctorID uuid.UUID, date time.Time) bool {
	return !isWeekend(dateOf(date, p.rules.Location))
}

// CheckOverlap is the rule behind Policy.CheckOverlap; it needs no rules.
func CheckOverlap(existing []*Appointment, doctorID uuid.UUID, proposedStart time.Time, durationMinutes int) bool {
	proposedEnd := proposedStart.Add(time.Duration(durationMinutes) * time.Minute)

	for _, e := range existing {
		if e == nil || e.Status() == StatusCancelled || e.DoctorID() != doctorID {
			continue
		}
		w := e.Window()
		if intervalsOverlap(proposedStart, proposedEnd, w.Start(), w.End()) {
			return false
		}
	}
	return true
}

func isWeekend(d time.Time) bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
