package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/dental-clinic-scheduling/internal/appointment"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04"
)

var errMissingStart = errors.New("either start or date and time are required")

func createAppointmentHandler(svc appointment.Scheduler, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		start, err := parseStart(req.Start, req.Date, req.Time, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start", err.Error())
			return
		}

		appt, err := svc.Schedule(r.Context(), appointment.ScheduleRequest{
			PatientID:       patientID,
			DoctorID:        doctorID,
			Start:           start,
			DurationMinutes: req.DurationMinutes,
			Notes:           req.Notes,
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}

		w.Header().Set("Location", "/appointments/"+appt.ID().String())
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt, loc))
	}
}

func rescheduleAppointmentHandler(svc appointment.Scheduler, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		var req RescheduleAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		start, err := parseStart(req.Start, req.Date, req.Time, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start", err.Error())
			return
		}

		appt, err := svc.Reschedule(r.Context(), id, start, req.DurationMinutes)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt, loc))
	}
}

func getAppointmentHandler(svc appointment.Scheduler, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt, loc))
	}
}

func deleteAppointmentHandler(svc appointment.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		if err := svc.Delete(r.Context(), id); err != nil {
			handleServiceError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

type transitionFunc func(svc appointment.Scheduler, r *http.Request, id uuid.UUID) (*appointment.Appointment, error)

// transitionHandler serves the confirm, begin, complete and cancel actions.
func transitionHandler(svc appointment.Scheduler, loc *time.Location, fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, err := fn(svc, r, id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt, loc))
	}
}

func confirmAction(svc appointment.Scheduler, r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
	return svc.Confirm(r.Context(), id)
}

func beginAction(svc appointment.Scheduler, r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
	return svc.Begin(r.Context(), id)
}

func completeAction(svc appointment.Scheduler, r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
	return svc.Complete(r.Context(), id)
}

func cancelAction(svc appointment.Scheduler, r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
	return svc.Cancel(r.Context(), id, r.URL.Query().Get("reason"))
}

// listAppointmentsHandler filters by exactly one of doctor_id, patient_id or status.
func listAppointmentsHandler(svc appointment.Scheduler, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		var (
			appts []*appointment.Appointment
			err   error
		)

		switch {
		case q.Get("doctor_id") != "":
			doctorID, perr := uuid.Parse(q.Get("doctor_id"))
			if perr != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			from, to, ok := rangeParams(w, r, loc)
			if !ok {
				return
			}
			appts, err = svc.ListByDoctor(r.Context(), doctorID, from, to)

		case q.Get("patient_id") != "":
			patientID, perr := uuid.Parse(q.Get("patient_id"))
			if perr != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			from, to, ok := rangeParams(w, r, loc)
			if !ok {
				return
			}
			appts, err = svc.ListByPatient(r.Context(), patientID, from, to)

		case q.Get("status") != "":
			status, perr := appointment.ParseStatus(q.Get("status"))
			if perr != nil {
				writeError(w, http.StatusBadRequest, "invalid_status", perr.Error())
				return
			}
			appts, err = svc.ListByStatus(r.Context(), status)

		default:
			writeError(w, http.StatusBadRequest, "missing_filter", "one of doctor_id, patient_id or status is required")
			return
		}

		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponses(appts, loc))
	}
}

func doctorAppointmentsHandler(svc appointment.Scheduler, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor id must be a valid UUID")
			return
		}

		from, to, ok := rangeParams(w, r, loc)
		if !ok {
			return
		}

		appts, err := svc.ListByDoctor(r.Context(), doctorID, from, to)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponses(appts, loc))
	}
}

func patientAppointmentsHandler(svc appointment.Scheduler, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := uuid.Parse(chi.URLParam(r, "patientID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient id must be a valid UUID")
			return
		}

		from, to, ok := rangeParams(w, r, loc)
		if !ok {
			return
		}

		appts, err := svc.ListByPatient(r.Context(), patientID, from, to)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponses(appts, loc))
	}
}

func availabilityHandler(svc appointment.Scheduler, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor id must be a valid UUID")
			return
		}

		q := r.URL.Query()

		date, err := time.ParseInLocation(dateLayout, q.Get("date"), loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be formatted as YYYY-MM-DD")
			return
		}

		duration := 0
		if raw := q.Get("duration"); raw != "" {
			duration, err = strconv.Atoi(raw)
			if err != nil || duration <= 0 {
				writeError(w, http.StatusBadRequest, "invalid_duration", "duration must be a positive number of minutes")
				return
			}
		}

		slots, err := svc.AvailableSlots(r.Context(), doctorID, date, duration)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toSlotResponses(slots, loc))
	}
}

// Helpers

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// parseStart accepts an RFC 3339 instant, or a date and a wall-clock time
// interpreted in the clinic's location.
func parseStart(start, date, clock string, loc *time.Location) (time.Time, error) {
	if start != "" {
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			return time.Time{}, errors.New("start must be an RFC 3339 timestamp")
		}
		return t, nil
	}

	if date == "" || clock == "" {
		return time.Time{}, errMissingStart
	}

	t, err := time.ParseInLocation(dateTimeLayout, date+" "+clock, loc)
	if err != nil {
		return time.Time{}, errors.New("date must be YYYY-MM-DD and time must be HH:MM")
	}
	return t, nil
}

// rangeParams reads the optional from and to query parameters. Plain dates
// are inclusive, so to=2025-03-03 covers the whole day.
func rangeParams(w http.ResponseWriter, r *http.Request, loc *time.Location) (time.Time, time.Time, bool) {
	q := r.URL.Query()

	from, err := parseBound(q.Get("from"), loc, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_from", err.Error())
		return time.Time{}, time.Time{}, false
	}

	to, err := parseBound(q.Get("to"), loc, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_to", err.Error())
		return time.Time{}, time.Time{}, false
	}

	return from, to, true
}

func parseBound(raw string, loc *time.Location, upper bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}

	if t, err := time.ParseInLocation(dateLayout, raw, loc); err == nil {
		if upper {
			return t.AddDate(0, 0, 1), nil
		}
		return t, nil
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New("must be YYYY-MM-DD or an RFC 3339 timestamp")
	}
	return t, nil
}
