package appointment

import (
	"fmt"
	"time"

	"github.com/hackgods/dental-clinic-scheduling/internal/config"
)

// Clock is the only source of "now" for validation.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// TimeOfDay is a wall-clock time expressed in minutes since midnight.
type TimeOfDay int

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return NewTimeOfDay(t.Hour(), t.Minute()), nil
}

func timeOfDay(t time.Time) TimeOfDay {
	return NewTimeOfDay(t.Hour(), t.Minute())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// Rules are the clinic-wide scheduling constants shared by TimeWindow and
// Policy. SlotMinutes is the single granularity for start times and durations.
type Rules struct {
	Location        *time.Location
	SlotMinutes     int
	OpenTime        TimeOfDay
	LastStart       TimeOfDay
	CloseTime       TimeOfDay
	MorningStart    TimeOfDay
	MorningEnd      TimeOfDay
	AfternoonStart  TimeOfDay
	AfternoonEnd    TimeOfDay
	MinDuration     int
	MaxDuration     int
	DefaultDuration int
	MinAdvanceDays  int
	MaxAdvanceDays  int
}

func DefaultRules() Rules {
	return Rules{
		Location:        time.UTC,
		SlotMinutes:     30,
		OpenTime:        NewTimeOfDay(8, 0),
		LastStart:       NewTimeOfDay(17, 0),
		CloseTime:       NewTimeOfDay(18, 0),
		MorningStart:    NewTimeOfDay(8, 0),
		MorningEnd:      NewTimeOfDay(12, 0),
		AfternoonStart:  NewTimeOfDay(14, 0),
		AfternoonEnd:    NewTimeOfDay(18, 0),
		MinDuration:     30,
		MaxDuration:     180,
		DefaultDuration: 30,
		MinAdvanceDays:  1,
		MaxAdvanceDays:  60,
	}
}

// RulesFromConfig parses the clinic section of the process config.
func RulesFromConfig(c config.Clinic) (Rules, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return Rules{}, fmt.Errorf("load clinic timezone: %w", err)
	}

	r := Rules{
		Location:        loc,
		SlotMinutes:     c.SlotMinutes,
		MinDuration:     c.MinDuration,
		MaxDuration:     c.MaxDuration,
		DefaultDuration: c.DefaultDuration,
		MinAdvanceDays:  c.MinAdvanceDays,
		MaxAdvanceDays:  c.MaxAdvanceDays,
	}

	times := []struct {
		raw string
		dst *TimeOfDay
	}{
		{c.OpenTime, &r.OpenTime},
		{c.LastStartTime, &r.LastStart},
		{c.CloseTime, &r.CloseTime},
		{c.MorningStart, &r.MorningStart},
		{c.MorningEnd, &r.MorningEnd},
		{c.AfternoonStart, &r.AfternoonStart},
		{c.AfternoonEnd, &r.AfternoonEnd},
	}
	for _, tt := range times {
		v, err := ParseTimeOfDay(tt.raw)
		if err != nil {
			return Rules{}, err
		}
		*tt.dst = v
	}

	if err := r.Validate(); err != nil {
		return Rules{}, err
	}
	return r, nil
}

// Validate rejects rule sets that could never accept an appointment.
func (r Rules) Validate() error {
	switch {
	case r.Location == nil:
		return fmt.Errorf("clinic rules: location is required")
	case r.SlotMinutes <= 0 || 60%r.SlotMinutes != 0:
		return fmt.Errorf("clinic rules: slot minutes %d must divide an hour", r.SlotMinutes)
	case r.MinDuration <= 0 || r.MinDuration > r.MaxDuration:
		return fmt.Errorf("clinic rules: duration range %d-%d is empty", r.MinDuration, r.MaxDuration)
	case r.MinDuration%r.SlotMinutes != 0 || r.MaxDuration%r.SlotMinutes != 0:
		return fmt.Errorf("clinic rules: duration bounds must be multiples of %d", r.SlotMinutes)
	case r.DefaultDuration < r.MinDuration || r.DefaultDuration > r.MaxDuration:
		return fmt.Errorf("clinic rules: default duration %d outside %d-%d", r.DefaultDuration, r.MinDuration, r.MaxDuration)
	case r.OpenTime > r.LastStart || r.LastStart >= r.CloseTime:
		return fmt.Errorf("clinic rules: opening hours %s/%s/%s are inconsistent", r.OpenTime, r.LastStart, r.CloseTime)
	case r.MinAdvanceDays < 0 || r.MinAdvanceDays > r.MaxAdvanceDays:
		return fmt.Errorf("clinic rules: advance window %d-%d days is empty", r.MinAdvanceDays, r.MaxAdvanceDays)
	}
	return nil
}

func (r Rules) maxDuration() time.Duration {
	return time.Duration(r.MaxDuration) * time.Minute
}

// dateOf truncates t to midnight of its calendar day in loc.
func dateOf(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
