package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/okian/fleetreport/internal/domain/model"
)

// Pool sizing.
const (
	maxConns = 10
	minConns = 2
)

// PostgresStore is a Source backed by PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL and verifies the connection.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = maxConns
	cfg.MinConns = minConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Migrate creates the records table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, migrationCreateDriverPeriods); err != nil {
		return fmt.Errorf("execute migration: %w", err)
	}
	return nil
}

const migrationCreateDriverPeriods = `
CREATE TABLE IF NOT EXISTS driver_periods (
    subject_id VARCHAR(64) NOT NULL,
    driver_name VARCHAR(255),
    email VARCHAR(255),
    month SMALLINT NOT NULL CHECK (month BETWEEN 1 AND 12),
    year SMALLINT NOT NULL,
    total_distance_km DOUBLE PRECISION,
    fuel_used_l DOUBLE PRECISION,
    avg_weight_t DOUBLE PRECISION,
    engine_time_s DOUBLE PRECISION,
    idle_time_s DOUBLE PRECISION,
    cruise_distance_km DOUBLE PRECISION,
    coasting_distance_km DOUBLE PRECISION,
    brake_distance_km DOUBLE PRECISION,
    engine_brake_distance_km DOUBLE PRECISION,
    overspeed_distance_km DOUBLE PRECISION,
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    PRIMARY KEY (subject_id, year, month)
);
CREATE INDEX IF NOT EXISTS idx_driver_periods_period ON driver_periods(year, month);
`

// NULL numerics read as zero.
const selectColumns = `
	subject_id,
	COALESCE(driver_name, ''),
	COALESCE(email, ''),
	month,
	year,
	COALESCE(total_distance_km, 0),
	COALESCE(fuel_used_l, 0),
	COALESCE(avg_weight_t, 0),
	COALESCE(engine_time_s, 0),
	COALESCE(idle_time_s, 0),
	COALESCE(cruise_distance_km, 0),
	COALESCE(coasting_distance_km, 0),
	COALESCE(brake_distance_km, 0),
	COALESCE(engine_brake_distance_km, 0),
	COALESCE(overspeed_distance_km, 0)
`

func scanRecord(row pgx.Row) (model.DriverPeriodRecord, error) {
	var r model.DriverPeriodRecord
	err := row.Scan(
		&r.SubjectID,
		&r.DriverName,
		&r.Email,
		&r.Month,
		&r.Year,
		&r.TotalDistanceKm,
		&r.FuelUsedL,
		&r.AvgWeightT,
		&r.EngineTimeS,
		&r.IdleTimeS,
		&r.CruiseDistanceKm,
		&r.CoastingDistanceKm,
		&r.BrakeDistanceKm,
		&r.EngineBrakeDistanceKm,
		&r.OverspeedDistanceKm,
	)
	return r, err
}

// Get implements Source.
func (s *PostgresStore) Get(ctx context.Context, subjectID string, period model.Period) (model.DriverPeriodRecord, error) {
	query := `SELECT ` + selectColumns + `
		FROM driver_periods
		WHERE subject_id = $1 AND year = $2 AND month = $3`

	rec, err := scanRecord(s.pool.QueryRow(ctx, query, subjectID, period.Year, period.Month))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DriverPeriodRecord{}, fmt.Errorf("%w: %s %s", ErrNotFound, subjectID, period)
	}
	if err != nil {
		return model.DriverPeriodRecord{}, fmt.Errorf("get driver record: %w", err)
	}
	return rec, nil
}

// ListByPeriod implements Source.
func (s *PostgresStore) ListByPeriod(ctx context.Context, period model.Period) ([]model.DriverPeriodRecord, error) {
	if !period.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPeriod, period)
	}
	query := `SELECT ` + selectColumns + `
		FROM driver_periods
		WHERE year = $1 AND month = $2
		ORDER BY subject_id`

	rows, err := s.pool.Query(ctx, query, period.Year, period.Month)
	if err != nil {
		return nil, fmt.Errorf("list driver records: %w", err)
	}
	defer rows.Close()

	out := make([]model.DriverPeriodRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan driver record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate driver records: %w", err)
	}
	return out, nil
}

// PriorPeriod implements Source with one range query over the lookback window.
func (s *PostgresStore) PriorPeriod(ctx context.Context, subjectID string, period model.Period) (model.DriverPeriodRecord, error) {
	query := `SELECT ` + selectColumns + `
		FROM driver_periods
		WHERE subject_id = $1
		  AND year * 12 + (month - 1) BETWEEN $2 AND $3
		ORDER BY year DESC, month DESC
		LIMIT 1`

	hi := monthIndex(period) - 1
	lo := hi - PriorLookbackMonths + 1

	rec, err := scanRecord(s.pool.QueryRow(ctx, query, subjectID, lo, hi))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DriverPeriodRecord{}, fmt.Errorf("%w: no prior data for %s before %s", ErrNotFound, subjectID, period)
	}
	if err != nil {
		return model.DriverPeriodRecord{}, fmt.Errorf("get prior driver record: %w", err)
	}
	return rec, nil
}

// Put inserts or replaces a record.
func (s *PostgresStore) Put(ctx context.Context, rec model.DriverPeriodRecord) error { //nolint:gocritic // hugeParam
	if !rec.Period().Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidPeriod, rec.Period())
	}
	query := `
		INSERT INTO driver_periods (
			subject_id, driver_name, email, month, year,
			total_distance_km, fuel_used_l, avg_weight_t, engine_time_s, idle_time_s,
			cruise_distance_km, coasting_distance_km, brake_distance_km,
			engine_brake_distance_km, overspeed_distance_km
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (subject_id, year, month) DO UPDATE SET
			driver_name = EXCLUDED.driver_name,
			email = EXCLUDED.email,
			total_distance_km = EXCLUDED.total_distance_km,
			fuel_used_l = EXCLUDED.fuel_used_l,
			avg_weight_t = EXCLUDED.avg_weight_t,
			engine_time_s = EXCLUDED.engine_time_s,
			idle_time_s = EXCLUDED.idle_time_s,
			cruise_distance_km = EXCLUDED.cruise_distance_km,
			coasting_distance_km = EXCLUDED.coasting_distance_km,
			brake_distance_km = EXCLUDED.brake_distance_km,
			engine_brake_distance_km = EXCLUDED.engine_brake_distance_km,
			overspeed_distance_km = EXCLUDED.overspeed_distance_km,
			updated_at = NOW()
	`
	_, err := s.pool.Exec(ctx, query,
		rec.SubjectID,
		rec.DriverName,
		rec.Email,
		rec.Month,
		rec.Year,
		rec.TotalDistanceKm,
		rec.FuelUsedL,
		rec.AvgWeightT,
		rec.EngineTimeS,
		rec.IdleTimeS,
		rec.CruiseDistanceKm,
		rec.CoastingDistanceKm,
		rec.BrakeDistanceKm,
		rec.EngineBrakeDistanceKm,
		rec.OverspeedDistanceKm,
	)
	if err != nil {
		return fmt.Errorf("upsert driver record: %w", err)
	}
	return nil
}
