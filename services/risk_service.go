package services

import (
	"context"
	"log"
	"strings"
	"time"

	"cityflow/models"
	"cityflow/scenario"
	"cityflow/store"
)

const (
	DefaultRiskWindow     = 24 * time.Hour
	DefaultForecastWindow = 2 * time.Hour
	// FallbackLookback is how far GetForecast widens when the requested
	// window holds no samples.
	FallbackLookback = 7 * 24 * time.Hour
	CurrentWindow    = 15 * time.Minute
	CurrentFallback  = 24 * time.Hour

	readAttempts = 2
	readBackoff  = 100 * time.Millisecond
)

// ScenarioRunner runs one what-if simulation.
type ScenarioRunner interface {
	Run(ctx context.Context, req scenario.Request) (*models.ScenarioRun, error)
}

type RiskQuery struct {
	SegmentID string
	Level     models.RiskLevel
	Since     time.Time
	Before    *time.Time
	Limit     int
}

type SeriesPoint struct {
	Time      time.Time `json:"time"`
	Density   float64   `json:"density"`
	RiskScore float64   `json:"risk_score"`
}

type ForecastQuery struct {
	SegmentID string
	SignalID  string
	Since     time.Time
	// Fallback widens an empty result to now-Fallback. Zero disables it.
	Fallback time.Duration
	// Latest keeps only the newest sample per segment or signal.
	Latest bool
	Limit  int
}

// RiskService is the read and simulate facade the API layer talks to.
type RiskService struct {
	snapshots store.SnapshotStore
	forecasts store.ForecastStore
	scenarios store.ScenarioStore
	runner    ScenarioRunner
	cache     *CacheService
	now       func() time.Time
}

func NewRiskService(snapshots store.SnapshotStore, forecasts store.ForecastStore,
	scenarios store.ScenarioStore, runner ScenarioRunner, cache *CacheService) *RiskService {
	return &RiskService{
		snapshots: snapshots,
		forecasts: forecasts,
		scenarios: scenarios,
		runner:    runner,
		cache:     cache,
		now:       time.Now,
	}
}

// GetRisk returns matching snapshots, newest first.
func (s *RiskService) GetRisk(ctx context.Context, q RiskQuery) ([]models.Snapshot, error) {
	if q.Level != "" {
		if _, err := models.ParseRiskLevel(string(q.Level)); err != nil {
			return nil, &scenario.ValidationError{Field: "risk_level", Reason: err.Error()}
		}
	}
	if q.Since.IsZero() {
		q.Since = s.now().Add(-DefaultRiskWindow)
	}

	var out []models.Snapshot
	err := store.Retry(ctx, "read risk", readAttempts, readBackoff, func(ctx context.Context) error {
		var err error
		out, err = s.snapshots.Snapshots(ctx, store.SnapshotQuery{
			SegmentID: q.SegmentID,
			Level:     q.Level,
			Since:     q.Since,
			Before:    q.Before,
			Limit:     q.Limit,
			Desc:      true,
		})
		return err
	})
	return out, err
}

// GetSeries returns the density and risk trend of one segment, oldest first.
func (s *RiskService) GetSeries(ctx context.Context, segmentID string, since time.Time) ([]SeriesPoint, error) {
	if strings.TrimSpace(segmentID) == "" {
		return nil, &scenario.ValidationError{Field: "segment_id", Reason: "required"}
	}
	if since.IsZero() {
		since = s.now().Add(-DefaultRiskWindow)
	}

	var snaps []models.Snapshot
	err := store.Retry(ctx, "read series", readAttempts, readBackoff, func(ctx context.Context) error {
		var err error
		snaps, err = s.snapshots.Snapshots(ctx, store.SnapshotQuery{SegmentID: segmentID, Since: since})
		return err
	})
	if err != nil {
		return nil, err
	}

	points := make([]SeriesPoint, len(snaps))
	for i, snap := range snaps {
		points[i] = SeriesPoint{Time: snap.TS, Density: snap.CurrentDensity, RiskScore: snap.RiskScore}
	}
	return points, nil
}

// RunScenario simulates req and announces the stored run on ChannelScenarios.
func (s *RiskService) RunScenario(ctx context.Context, req scenario.Request) (*models.ScenarioRun, error) {
	run, err := s.runner.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Publish(ctx, ChannelScenarios, run); err != nil {
		log.Printf("scenario publish id=%s: %v", run.ID, err)
	}
	return run, nil
}

// ListScenarios pages through stored runs, newest first.
func (s *RiskService) ListScenarios(ctx context.Context, q store.ScenarioQuery) ([]models.ScenarioRun, error) {
	var out []models.ScenarioRun
	err := store.Retry(ctx, "list scenarios", readAttempts, readBackoff, func(ctx context.Context) error {
		var err error
		out, err = s.scenarios.ListScenarios(ctx, q)
		return err
	})
	return out, err
}

// GetForecast returns forecast samples newest first. An empty window is
// widened to q.Fallback so callers see the latest data that exists.
func (s *RiskService) GetForecast(ctx context.Context, q ForecastQuery) ([]models.ForecastSample, error) {
	now := s.now()
	if q.Since.IsZero() {
		q.Since = now.Add(-DefaultForecastWindow)
	}

	rows, err := s.readForecasts(ctx, q, q.Since)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 && q.Fallback > 0 {
		if wide := now.Add(-q.Fallback); wide.Before(q.Since) {
			if rows, err = s.readForecasts(ctx, q, wide); err != nil {
				return nil, err
			}
		}
	}

	if q.Latest {
		rows = latestPerSeries(rows)
	}
	return rows, nil
}

func (s *RiskService) readForecasts(ctx context.Context, q ForecastQuery, since time.Time) ([]models.ForecastSample, error) {
	var out []models.ForecastSample
	err := store.Retry(ctx, "read forecasts", readAttempts, readBackoff, func(ctx context.Context) error {
		var err error
		out, err = s.forecasts.Forecasts(ctx, store.ForecastQuery{
			SegmentID: q.SegmentID,
			SignalID:  q.SignalID,
			Since:     since,
			Limit:     q.Limit,
		})
		return err
	})
	return out, err
}

// latestPerSeries keeps the first row seen per series. rows must be newest
// first.
func latestPerSeries(rows []models.ForecastSample) []models.ForecastSample {
	seen := make(map[string]bool, len(rows))
	out := make([]models.ForecastSample, 0, len(rows))
	for _, r := range rows {
		key := r.SeriesKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}
