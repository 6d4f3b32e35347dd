package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"cityflow/complaints"
	"cityflow/config"
	"cityflow/forecast"
	"cityflow/metrics"
	"cityflow/models"
	"cityflow/risk"
	"cityflow/services"
	"cityflow/store"
)

// cycle turns raw counts into forecast samples and risk snapshots.
type cycle struct {
	counts     store.CountStore
	forecasts  store.ForecastStore
	complaints complaints.Provider
	forecaster *forecast.Forecaster
	aggregator *risk.Aggregator
	cache      *services.CacheService
	lookback   time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	shutdownTracing, err := metrics.SetupTracing("cityflow-aggregator", cfg.Tracing.Exporter, cfg.Tracing.SampleRatio)
	if err != nil {
		log.Fatalf("tracing init failed: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	pool, err := store.Connect(ctx, cfg.Database.GetDSN())
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}
	defer pool.Close()

	pg := store.NewPostgres(pool)
	if err := pg.Migrate(ctx); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}

	var provider complaints.Provider = complaints.NewStaticProvider()
	if cfg.Complaints.DSN != "" {
		p, err := complaints.NewPostgresProvider(cfg.Complaints.DSN, pg, cfg.Complaints.MatchRadius)
		if err != nil {
			log.Fatalf("complaints db init failed: %v", err)
		}
		defer p.Close()
		provider = p
	} else {
		log.Printf("COMPLAINTS_DSN not set, complaint component disabled")
	}

	fc := forecast.New(cfg.Engine.MaxInferenceRows, cfg.Engine.Location())
	if err := fc.Load(cfg.Engine.ModelPath); err != nil {
		log.Printf("density model unavailable, using current density as forecast: %v", err)
	}
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go fc.Watch(ctx, cfg.Engine.ModelPath, cfg.Engine.ModelReload, hup)

	cache, err := services.NewCacheService(cfg.Redis)
	if err != nil {
		log.Printf("redis unavailable, risk publishing disabled: %v", err)
	}
	defer cache.Close()

	c := &cycle{
		counts:     pg,
		forecasts:  pg,
		complaints: provider,
		forecaster: fc,
		aggregator: risk.NewAggregator(pg, risk.Weights{
			Density:    cfg.Risk.DensityWeight,
			Forecast:   cfg.Risk.ForecastWeight,
			Complaints: cfg.Risk.ComplaintWeight,
		}),
		cache:    cache,
		lookback: cfg.Aggregator.Lookback,
	}

	go metrics.Serve(cfg.MetricsAddr)

	log.Printf("aggregator running: interval=%s lookback=%s model=%v",
		cfg.Aggregator.Interval, cfg.Aggregator.Lookback, fc.Available())

	c.runLogged(ctx)

	ticker := time.NewTicker(cfg.Aggregator.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runLogged(ctx)
		case <-ctx.Done():
			log.Printf("aggregator shutting down")
			return
		}
	}
}

func (c *cycle) runLogged(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.CycleDuration.Observe(time.Since(start).Seconds())
	}()

	snaps, err := c.run(ctx, start.UTC())
	if err != nil {
		metrics.CycleFailures.Inc()
		log.Printf("aggregation cycle failed: %v", err)
		return
	}
	log.Printf("aggregation cycle completed: %d snapshots (%.2fs)", len(snaps), time.Since(start).Seconds())
}

func (c *cycle) run(ctx context.Context, now time.Time) ([]models.Snapshot, error) {
	counts, err := c.counts.Counts(ctx, now.Add(-c.lookback))
	if err != nil {
		return nil, fmt.Errorf("read counts: %w", err)
	}

	series := forecast.BuildSeries(counts)
	samples := make([]models.ForecastSample, 0, len(series))
	for _, s := range series {
		if len(s.Points) == 0 {
			continue
		}
		last := s.Points[len(s.Points)-1]
		expected, used := c.forecaster.Expected2h(s.ID, s.Points)
		count := last.Count
		samples = append(samples, models.ForecastSample{
			SignalID:          s.SignalID,
			SegmentID:         s.SegmentID,
			TS:                last.TS,
			VehicleCount:      &count,
			TrafficDensity:    last.Density,
			ExpectedDensity2h: expected,
			ModelUsed:         used,
		})
	}
	if len(samples) > 0 {
		if err := c.forecasts.AppendForecasts(ctx, samples); err != nil {
			return nil, fmt.Errorf("store forecasts: %w", err)
		}
		metrics.ForecastsStored.Add(float64(len(samples)))
	}

	stats, err := c.complaints.Stats(ctx, now)
	if err != nil {
		log.Printf("complaint stats unavailable, scoring without them: %v", err)
		stats = nil
	}

	snaps, err := c.aggregator.Aggregate(ctx, riskInputs(samples, stats, now))
	metrics.SnapshotsStored.Add(float64(len(snaps)))
	for _, snap := range snaps {
		if perr := c.cache.Publish(ctx, services.ChannelRisk, snap); perr != nil {
			log.Printf("risk publish failed segment=%s: %v", snap.SegmentID, perr)
		}
	}
	return snaps, err
}

// riskInputs builds one input per segment, keeping the highest densities when
// a segment has several samples. Segments with complaints but no traffic
// still get a snapshot.
func riskInputs(samples []models.ForecastSample, stats map[string]models.ComplaintStats, now time.Time) []risk.Input {
	bySegment := make(map[string]*risk.Input)
	for _, f := range samples {
		if f.SegmentID == "" {
			continue
		}
		in, ok := bySegment[f.SegmentID]
		if !ok {
			in = &risk.Input{SegmentID: f.SegmentID, TS: now}
			bySegment[f.SegmentID] = in
		}
		in.CurrentDensity = max(in.CurrentDensity, f.TrafficDensity)
		in.ExpectedDensity2h = max(in.ExpectedDensity2h, f.ExpectedDensity2h)
	}
	for id, st := range stats {
		in, ok := bySegment[id]
		if !ok {
			in = &risk.Input{SegmentID: id, TS: now}
			bySegment[id] = in
		}
		in.Complaints = st
	}

	ids := make([]string, 0, len(bySegment))
	for id := range bySegment {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]risk.Input, len(ids))
	for i, id := range ids {
		out[i] = *bySegment[id]
	}
	return out
}
