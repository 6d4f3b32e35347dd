// Package store persists the engine's append-only time series (risk
// snapshots, forecast samples, raw counts) and the scenario run log.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cityflow/models"

	"github.com/jackc/pgx/v5/pgconn"
)

var ErrNotFound = errors.New("not found")

// PersistenceError marks a storage failure that survived its retry.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the request may succeed. Postgres data
// exceptions, constraint violations and SQL errors are permanent; anything
// else (connection loss, timeouts, pool exhaustion) is assumed transient.
func (e *PersistenceError) Retryable() bool {
	return retryable(e.Err)
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "22", "23", "42":
			return false
		}
	}
	return true
}

// SnapshotQuery selects risk snapshots. Zero values mean "no filter".
// Results are ordered by timestamp ascending unless Desc is set.
type SnapshotQuery struct {
	SegmentID string
	Level     models.RiskLevel
	Since     time.Time
	Before    *time.Time
	Limit     int
	Desc      bool
}

type SnapshotStore interface {
	AppendSnapshot(ctx context.Context, s models.Snapshot) error
	Snapshots(ctx context.Context, q SnapshotQuery) ([]models.Snapshot, error)
	SegmentIDs(ctx context.Context) ([]string, error)
}

// ScenarioQuery pages through scenario runs, newest first.
type ScenarioQuery struct {
	SegmentID string
	Before    *time.Time
	Limit     int
}

type ScenarioStore interface {
	InsertScenario(ctx context.Context, run *models.ScenarioRun) error
	ListScenarios(ctx context.Context, q ScenarioQuery) ([]models.ScenarioRun, error)
}

// ForecastQuery selects forecast samples newest first.
type ForecastQuery struct {
	SegmentID string
	SignalID  string
	Since     time.Time
	Limit     int
}

type ForecastStore interface {
	AppendForecasts(ctx context.Context, samples []models.ForecastSample) error
	Forecasts(ctx context.Context, q ForecastQuery) ([]models.ForecastSample, error)
}

type CountStore interface {
	AppendCount(ctx context.Context, c models.TrafficCount) error
	// Counts returns every raw count at or after since, oldest first.
	Counts(ctx context.Context, since time.Time) ([]models.TrafficCount, error)
}
