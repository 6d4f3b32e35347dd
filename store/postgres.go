package store

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"cityflow/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// Postgres stores the time series tables through a pgx pool. All writes are
// plain inserts; rows are never updated.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Connect opens and pings a pool for dsn.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db pool init: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return pool, nil
}

// Migrate creates the time series tables when they are missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *Postgres) AppendSnapshot(ctx context.Context, s models.Snapshot) error {
	types := make([]string, len(s.RiskTypes))
	for i, t := range s.RiskTypes {
		types[i] = string(t)
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO risk_snapshots (segment_id, ts, risk_score, risk_level, risk_types,
			current_density, expected_density_2h, complaint_count_24h,
			avg_urgency_24h, max_urgency_24h, explanation)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, s.SegmentID, s.TS, s.RiskScore, string(s.RiskLevel), types,
		s.CurrentDensity, s.ExpectedDensity2h, s.ComplaintCount24h,
		s.AvgUrgency24h, s.MaxUrgency24h, s.Explanation)
	if err != nil {
		return fmt.Errorf("insert risk snapshot segment=%s: %w", s.SegmentID, err)
	}
	return nil
}

func (p *Postgres) Snapshots(ctx context.Context, q SnapshotQuery) ([]models.Snapshot, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if q.SegmentID != "" {
		add("segment_id = $%d", q.SegmentID)
	}
	if q.Level != "" {
		add("risk_level = $%d", string(q.Level))
	}
	if !q.Since.IsZero() {
		add("ts >= $%d", q.Since)
	}
	if q.Before != nil {
		add("ts < $%d", *q.Before)
	}

	sql := `SELECT segment_id, ts, risk_score, risk_level, risk_types, current_density,
		expected_density_2h, complaint_count_24h, avg_urgency_24h, max_urgency_24h, explanation
		FROM risk_snapshots`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY " + snapshotOrder(q.Desc)
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query risk_snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.Snapshot
	for rows.Next() {
		var (
			s     models.Snapshot
			level string
			types []string
		)
		if err := rows.Scan(&s.SegmentID, &s.TS, &s.RiskScore, &level, &types, &s.CurrentDensity,
			&s.ExpectedDensity2h, &s.ComplaintCount24h, &s.AvgUrgency24h, &s.MaxUrgency24h, &s.Explanation); err != nil {
			return nil, fmt.Errorf("scan risk snapshot: %w", err)
		}
		s.RiskLevel = models.RiskLevel(level)
		s.RiskTypes = make([]models.RiskType, len(types))
		for i, t := range types {
			s.RiskTypes[i] = models.RiskType(t)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate risk_snapshots: %w", err)
	}
	return out, nil
}

// snapshotOrder puts the riskiest segment first among snapshots sharing a
// timestamp when reading newest first.
func snapshotOrder(desc bool) string {
	if desc {
		return "ts DESC, risk_score DESC, segment_id"
	}
	return "ts ASC, segment_id"
}

// RoadLocations lists the roads that carry coordinates.
func (p *Postgres) RoadLocations(ctx context.Context) ([]models.SegmentLocation, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT road_id, lat, lng FROM roads
		WHERE lat IS NOT NULL AND lng IS NOT NULL
		ORDER BY road_id`)
	if err != nil {
		return nil, fmt.Errorf("query roads: %w", err)
	}
	locs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.SegmentLocation, error) {
		var l models.SegmentLocation
		err := row.Scan(&l.SegmentID, &l.Lat, &l.Lng)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect roads: %w", err)
	}
	return locs, nil
}

func (p *Postgres) SegmentIDs(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT DISTINCT segment_id FROM risk_snapshots ORDER BY segment_id`)
	if err != nil {
		return nil, fmt.Errorf("query segment ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect segment ids: %w", err)
	}
	return ids, nil
}

func (p *Postgres) AppendForecasts(ctx context.Context, samples []models.ForecastSample) error {
	if len(samples) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, f := range samples {
		batch.Queue(`
			INSERT INTO traffic_forecasts (signal_id, segment_id, ts, vehicle_count,
				traffic_density, expected_density_2h, model_used)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, f.SignalID, f.SegmentID, f.TS, f.VehicleCount, f.TrafficDensity, f.ExpectedDensity2h, f.ModelUsed)
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert %d forecasts: %w", len(samples), err)
	}
	return nil
}

func (p *Postgres) Forecasts(ctx context.Context, q ForecastQuery) ([]models.ForecastSample, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if q.SegmentID != "" {
		add("segment_id = $%d", q.SegmentID)
	}
	if q.SignalID != "" {
		add("signal_id = $%d", q.SignalID)
	}
	if !q.Since.IsZero() {
		add("ts >= $%d", q.Since)
	}

	sql := `SELECT signal_id, segment_id, ts, vehicle_count, traffic_density,
		expected_density_2h, model_used FROM traffic_forecasts`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY ts DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query traffic_forecasts: %w", err)
	}
	defer rows.Close()

	var out []models.ForecastSample
	for rows.Next() {
		var f models.ForecastSample
		if err := rows.Scan(&f.SignalID, &f.SegmentID, &f.TS, &f.VehicleCount,
			&f.TrafficDensity, &f.ExpectedDensity2h, &f.ModelUsed); err != nil {
			return nil, fmt.Errorf("scan forecast: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate traffic_forecasts: %w", err)
	}
	return out, nil
}

func (p *Postgres) AppendCount(ctx context.Context, c models.TrafficCount) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO traffic_counts (ts, signal_id, segment_id, vehicle_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ts, signal_id) DO NOTHING
	`, c.TS, c.SignalID, c.SegmentID, c.VehicleCount)
	if err != nil {
		return fmt.Errorf("insert traffic count signal=%s: %w", c.SignalID, err)
	}
	return nil
}

func (p *Postgres) Counts(ctx context.Context, since time.Time) ([]models.TrafficCount, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT ts, signal_id, segment_id, vehicle_count
		FROM traffic_counts
		WHERE ts >= $1
		ORDER BY ts ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query traffic_counts: %w", err)
	}
	defer rows.Close()

	var out []models.TrafficCount
	for rows.Next() {
		var c models.TrafficCount
		if err := rows.Scan(&c.TS, &c.SignalID, &c.SegmentID, &c.VehicleCount); err != nil {
			return nil, fmt.Errorf("scan traffic count: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate traffic_counts: %w", err)
	}
	return out, nil
}
