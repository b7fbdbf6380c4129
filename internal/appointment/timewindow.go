package appointment

import (
	"fmt"
	"time"
)

// TimeWindow is a validated appointment start plus duration. The zero value
// is not a valid window; use NewTimeWindow.
type TimeWindow struct {
	start           time.Time
	durationMinutes int
}

// NewTimeWindow validates start and duration against the clinic rules.
// Checks run in a fixed order and the first failure is returned.
func NewTimeWindow(clock Clock, rules Rules, start time.Time, durationMinutes int) (TimeWindow, error) {
	if start.IsZero() {
		return TimeWindow{}, invalidWindow("start is required")
	}
	if start.Before(clock.Now()) {
		return TimeWindow{}, invalidWindow("start %s is in the past", start.Format(time.RFC3339))
	}

	local := start.In(rules.Location)
	if local.Second() != 0 || local.Nanosecond() != 0 || local.Minute()%rules.SlotMinutes != 0 {
		return TimeWindow{}, invalidWindow("start must fall on a %d minute boundary", rules.SlotMinutes)
	}

	tod := timeOfDay(local)
	if tod < rules.OpenTime || tod > rules.LastStart {
		return TimeWindow{}, invalidWindow("start %s is outside %s-%s", tod, rules.OpenTime, rules.LastStart)
	}

	if durationMinutes < rules.MinDuration || durationMinutes > rules.MaxDuration {
		return TimeWindow{}, invalidWindow("duration %d must be between %d and %d minutes",
			durationMinutes, rules.MinDuration, rules.MaxDuration)
	}
	if durationMinutes%rules.SlotMinutes != 0 {
		return TimeWindow{}, invalidWindow("duration %d must be a multiple of %d minutes", durationMinutes, rules.SlotMinutes)
	}

	if int(tod)+durationMinutes > int(rules.CloseTime) {
		return TimeWindow{}, invalidWindow("appointment would end after closing time %s", rules.CloseTime)
	}

	return TimeWindow{start: start, durationMinutes: durationMinutes}, nil
}

// RestoreTimeWindow rebuilds a window read back from storage. Stored windows
// were validated when booked and may legitimately be in the past now.
func RestoreTimeWindow(start time.Time, durationMinutes int) TimeWindow {
	return TimeWindow{start: start, durationMinutes: durationMinutes}
}

func (w TimeWindow) Start() time.Time { return w.start }

func (w TimeWindow) DurationMinutes() int { return w.durationMinutes }

func (w TimeWindow) Duration() time.Duration {
	return time.Duration(w.durationMinutes) * time.Minute
}

func (w TimeWindow) End() time.Time {
	return w.start.Add(w.Duration())
}

// Overlaps reports whether the half-open intervals [start, end) intersect.
// Windows that only touch at an endpoint do not overlap.
func (w TimeWindow) Overlaps(other TimeWindow) bool {
	return intervalsOverlap(w.start, w.End(), other.start, other.End())
}

// OnDate reports whether the window starts on the calendar day of d, in d's location.
func (w TimeWindow) OnDate(d time.Time) bool {
	s := w.start.In(d.Location())
	y1, m1, d1 := s.Date()
	y2, m2, d2 := d.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

func (w TimeWindow) Equal(other TimeWindow) bool {
	return w.start.Equal(other.start) && w.durationMinutes == other.durationMinutes
}

func (w TimeWindow) String() string {
	return fmt.Sprintf("%s-%s (%d min)", w.start.Format(time.RFC3339), w.End().Format("15:04"), w.durationMinutes)
}

func intervalsOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}
