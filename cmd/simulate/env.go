package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/dental-clinic-scheduling/internal/appointment"
	"github.com/hackgods/dental-clinic-scheduling/internal/config"
	"github.com/hackgods/dental-clinic-scheduling/internal/db"
)

// simEnv is what every subcommand needs: the API client, the clinic
// rules and the ids to book with.
type simEnv struct {
	logger *zap.Logger
	rules  appointment.Rules
	client *apiClient
	pool   *DataPool
}

func setup(ctx context.Context, opts *globalOptions) (*simEnv, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}

	rules, err := appointment.RulesFromConfig(cfg.Clinic)
	if err != nil {
		return nil, nil, fmt.Errorf("clinic rules: %w", err)
	}

	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(loadCtx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(loadCtx, pgPool, opts)
	if err != nil {
		return nil, nil, err
	}

	logger.Info("data pool loaded",
		zap.Int("patients", len(dataPool.Patients)),
		zap.Int("doctors", len(dataPool.Doctors)),
	)

	env := &simEnv{
		logger: logger,
		rules:  rules,
		client: newAPIClient(opts.apiBaseURL, &http.Client{Timeout: 10 * time.Second}),
		pool:   dataPool,
	}
	return env, func() { _ = logger.Sync() }, nil
}

type DataPool struct {
	Patients []uuid.UUID
	Doctors  []uuid.UUID

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, opts *globalOptions) (*DataPool, error) {
	patients, err := loadIDs(ctx, pool, `SELECT id FROM patients ORDER BY created_at LIMIT $1`, opts.patientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	doctors, err := loadIDs(ctx, pool, `SELECT id FROM doctors ORDER BY created_at LIMIT $1`, opts.doctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}

	if len(patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run cmd/seed first")
	}
	if len(doctors) == 0 {
		return nil, fmt.Errorf("no doctors loaded, run cmd/seed first")
	}

	return &DataPool{Patients: patients, Doctors: doctors}, nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, sql string, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// bookableStarts lists the session-aligned start times of a clinic day.
func bookableStarts(rules appointment.Rules, durationMinutes int) []appointment.TimeOfDay {
	var starts []appointment.TimeOfDay
	step := appointment.TimeOfDay(rules.SlotMinutes)
	dur := appointment.TimeOfDay(durationMinutes)

	for _, session := range [][2]appointment.TimeOfDay{
		{rules.MorningStart, rules.MorningEnd},
		{rules.AfternoonStart, rules.AfternoonEnd},
	} {
		for tod := session[0]; tod < session[1] && tod <= rules.LastStart; tod += step {
			if tod+dur > rules.CloseTime {
				break
			}
			starts = append(starts, tod)
		}
	}
	return starts
}

// nextClinicDay returns the first weekday at least offset days after now.
func nextClinicDay(now time.Time, loc *time.Location, offset int) time.Time {
	d := now.In(loc)
	d = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, offset)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}
