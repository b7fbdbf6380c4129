package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type loadOptions struct {
	duration     time.Duration
	workers      int
	horizonDays  int
	bookingRatio float64
	confirmRatio float64
	readRatio    float64
}

type loadMetrics struct {
	Booking       OperationMetrics
	Confirm       OperationMetrics
	Cancel        OperationMetrics
	ReadByID      OperationMetrics
	ListByPatient OperationMetrics
	Availability  OperationMetrics
}

type loadSimulator struct {
	env     *simEnv
	opts    loadOptions
	metrics loadMetrics
}

func newLoadCmd(global *globalOptions) *cobra.Command {
	opts := loadOptions{}

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Run a mixed booking and read workload",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.normalize(); err != nil {
				return err
			}

			env, done, err := setup(cmd.Context(), global)
			if err != nil {
				return err
			}
			defer done()

			sim := &loadSimulator{env: env, opts: opts}
			sim.Run(cmd.Context())
			sim.PrintReport()
			return nil
		},
	}

	cmd.Flags().DurationVar(&opts.duration, "duration", 30*time.Second, "how long to run")
	cmd.Flags().IntVar(&opts.workers, "workers", 10, "concurrent workers")
	cmd.Flags().IntVar(&opts.horizonDays, "horizon-days", 10, "spread bookings over this many clinic days")
	cmd.Flags().Float64Var(&opts.bookingRatio, "booking", 0.5, "share of booking operations")
	cmd.Flags().Float64Var(&opts.confirmRatio, "confirm", 0.2, "share of confirm and cancel operations")
	cmd.Flags().Float64Var(&opts.readRatio, "read", 0.3, "share of read operations")

	return cmd
}

func (o *loadOptions) normalize() error {
	if o.workers <= 0 {
		return fmt.Errorf("--workers must be > 0")
	}
	if o.duration <= 0 {
		return fmt.Errorf("--duration must be > 0")
	}
	if o.horizonDays <= 0 {
		o.horizonDays = 1
	}

	total := o.bookingRatio + o.confirmRatio + o.readRatio
	if total <= 0 {
		return fmt.Errorf("at least one operation ratio must be positive")
	}
	o.bookingRatio /= total
	o.confirmRatio /= total
	o.readRatio /= total
	return nil
}

func (s *loadSimulator) Run(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.opts.duration)
	defer cancel()

	s.env.logger.Info("starting load simulation",
		zap.Duration("duration", s.opts.duration),
		zap.Int("workers", s.opts.workers),
	)

	var wg sync.WaitGroup
	for i := 0; i < s.opts.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.env.logger.Info("load simulation complete")
}

func (s *loadSimulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.opts.bookingRatio:
			s.doBooking(ctx, rng)
		case r < s.opts.bookingRatio+s.opts.confirmRatio:
			if rng.Intn(4) == 0 {
				s.doCancel(ctx, rng)
			} else {
				s.doConfirm(ctx, rng)
			}
		default:
			switch rng.Intn(3) {
			case 0:
				s.doReadByID(ctx, rng)
			case 1:
				s.doListByPatient(ctx, rng)
			case 2:
				s.doAvailability(ctx, rng)
			}
		}
	}
}

func (s *loadSimulator) doBooking(ctx context.Context, rng *rand.Rand) {
	pool := s.env.pool
	duration := s.env.rules.DefaultDuration

	date, clock, ok := randomWindow(s.env, rng.Intn(s.opts.horizonDays), rng.Int(), duration)
	if !ok {
		return
	}

	start := time.Now()
	status, id, err := s.env.client.book(ctx, bookRequest{
		PatientID:       pool.Patients[rng.Intn(len(pool.Patients))].String(),
		DoctorID:        pool.Doctors[rng.Intn(len(pool.Doctors))].String(),
		Date:            date,
		Time:            clock,
		DurationMinutes: duration,
	})
	o := classify(status, err)
	s.metrics.Booking.Record(time.Since(start), o)

	if o == outcomeSuccess {
		pool.AddAppointment(id)
	}
}

func (s *loadSimulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	id, ok := s.env.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, err := s.env.client.put(ctx, fmt.Sprintf("/appointments/%s/confirm", id))
	s.metrics.Confirm.Record(time.Since(start), classify(status, err))
}

func (s *loadSimulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, ok := s.env.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, err := s.env.client.put(ctx, fmt.Sprintf("/appointments/%s/cancel?reason=simulated", id))
	s.metrics.Cancel.Record(time.Since(start), classify(status, err))
}

func (s *loadSimulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	id, ok := s.env.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, err := s.env.client.get(ctx, fmt.Sprintf("/appointments/%s", id))
	s.metrics.ReadByID.Record(time.Since(start), classify(status, err))
}

func (s *loadSimulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	patientID := s.env.pool.Patients[rng.Intn(len(s.env.pool.Patients))]

	start := time.Now()
	status, err := s.env.client.get(ctx, fmt.Sprintf("/appointments?patient_id=%s", patientID))
	s.metrics.ListByPatient.Record(time.Since(start), classify(status, err))
}

func (s *loadSimulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	doctorID := s.env.pool.Doctors[rng.Intn(len(s.env.pool.Doctors))]
	day := nextClinicDay(time.Now(), s.env.rules.Location, s.env.rules.MinAdvanceDays+rng.Intn(s.opts.horizonDays))

	start := time.Now()
	status, err := s.env.client.get(ctx, fmt.Sprintf("/doctors/%s/availability?date=%s", doctorID, day.Format("2006-01-02")))
	s.metrics.Availability.Record(time.Since(start), classify(status, err))
}

func (s *loadSimulator) PrintReport() {
	printHeader(os.Stdout, "SIMULATION REPORT")
	fmt.Printf("Duration: %s\n", s.opts.duration)
	fmt.Printf("Workers: %d\n\n", s.opts.workers)

	printOperationReport(os.Stdout, "Booking", &s.metrics.Booking)
	printOperationReport(os.Stdout, "Confirm", &s.metrics.Confirm)
	printOperationReport(os.Stdout, "Cancel", &s.metrics.Cancel)
	printOperationReport(os.Stdout, "Read by ID", &s.metrics.ReadByID)
	printOperationReport(os.Stdout, "List by Patient", &s.metrics.ListByPatient)
	printOperationReport(os.Stdout, "Availability", &s.metrics.Availability)
}

// randomWindow picks a bookable clinic-local date and start time.
func randomWindow(env *simEnv, dayOffset, slot, durationMinutes int) (date, clock string, ok bool) {
	starts := bookableStarts(env.rules, durationMinutes)
	if len(starts) == 0 {
		return "", "", false
	}
	day := nextClinicDay(time.Now(), env.rules.Location, env.rules.MinAdvanceDays+dayOffset)
	return day.Format("2006-01-02"), starts[slot%len(starts)].String(), true
}
