package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type raceOptions struct {
	workers         int
	doctor          string
	date            string
	clock           string
	durationMinutes int
}

func newRaceCmd(global *globalOptions) *cobra.Command {
	opts := &raceOptions{}

	cmd := &cobra.Command{
		Use:   "race",
		Short: "Fire concurrent bookings for one doctor and slot",
		Long: `Release N bookings for the same doctor, date and time at once.
Exactly one must be created; every other request must be rejected with
409 scheduling_conflict. The command exits non-zero otherwise.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, done, err := setup(cmd.Context(), global)
			if err != nil {
				return err
			}
			defer done()
			return runRace(cmd.Context(), env, opts)
		},
	}

	cmd.Flags().IntVar(&opts.workers, "workers", 20, "number of concurrent booking attempts")
	cmd.Flags().StringVar(&opts.doctor, "doctor", "", "doctor id (defaults to the first seeded doctor)")
	cmd.Flags().StringVar(&opts.date, "date", "", "clinic date YYYY-MM-DD (defaults to the next bookable weekday)")
	cmd.Flags().StringVar(&opts.clock, "time", "09:00", "clinic-local start time HH:MM")
	cmd.Flags().IntVar(&opts.durationMinutes, "duration-minutes", 0, "appointment length (defaults to the clinic default)")

	return cmd
}

func runRace(ctx context.Context, env *simEnv, opts *raceOptions) error {
	if opts.workers <= 0 {
		return fmt.Errorf("--workers must be > 0")
	}

	doctorID := env.pool.Doctors[0]
	if opts.doctor != "" {
		id, err := uuid.Parse(opts.doctor)
		if err != nil {
			return fmt.Errorf("--doctor: %w", err)
		}
		doctorID = id
	}

	date := opts.date
	if date == "" {
		date = nextClinicDay(time.Now(), env.rules.Location, env.rules.MinAdvanceDays).Format("2006-01-02")
	}

	duration := opts.durationMinutes
	if duration == 0 {
		duration = env.rules.DefaultDuration
	}

	env.logger.Info("starting booking race",
		zap.Stringer("doctor_id", doctorID),
		zap.String("date", date),
		zap.String("time", opts.clock),
		zap.Int("workers", opts.workers),
	)

	var (
		wg      sync.WaitGroup
		metrics OperationMetrics
		winner  uuid.UUID
		mu      sync.Mutex
	)
	gate := make(chan struct{})

	for i := 0; i < opts.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			<-gate

			req := bookRequest{
				PatientID:       env.pool.Patients[worker%len(env.pool.Patients)].String(),
				DoctorID:        doctorID.String(),
				Date:            date,
				Time:            opts.clock,
				DurationMinutes: duration,
				Notes:           "race",
			}

			start := time.Now()
			status, id, err := env.client.book(ctx, req)
			o := classify(status, err)
			metrics.Record(time.Since(start), o)

			if o == outcomeSuccess {
				mu.Lock()
				winner = id
				mu.Unlock()
			}
			if o == outcomeRejected || o == outcomeError {
				env.logger.Warn("unexpected booking response", zap.Int("status", status), zap.Error(err))
			}
		}(i)
	}

	close(gate)
	wg.Wait()

	printHeader(os.Stdout, "BOOKING RACE REPORT")
	printOperationReport(os.Stdout, "Booking", &metrics)

	if metrics.Success != 1 {
		return fmt.Errorf("expected exactly one booking to succeed, got %d (conflicts=%d rejected=%d errors=%d)",
			metrics.Success, metrics.Conflict, metrics.Rejected, metrics.Error)
	}
	if metrics.Conflict != metrics.Total-1 {
		return fmt.Errorf("expected %d conflicts, got %d", metrics.Total-1, metrics.Conflict)
	}

	fmt.Printf("winner: %s\n", winner)
	return nil
}
