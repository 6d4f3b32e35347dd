package main

import (
	"context"
	"math"
	"testing"
	"time"

	"cityflow/complaints"
	"cityflow/forecast"
	"cityflow/models"
	"cityflow/risk"
	"cityflow/services"
	"cityflow/store"
)

func TestCycleRun(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)
	mem := store.NewMemory()

	for i, n := range []float64{10, 30, 20} {
		ts := now.Add(-time.Duration(3-i) * forecast.SlotDuration)
		_ = mem.AppendCount(ctx, models.TrafficCount{TS: ts, SignalID: "A", SegmentID: "S1", VehicleCount: n})
		_ = mem.AppendCount(ctx, models.TrafficCount{TS: ts, SignalID: "B", SegmentID: "S1", VehicleCount: 5})
		_ = mem.AppendCount(ctx, models.TrafficCount{TS: ts, SignalID: "C", VehicleCount: n})
	}
	// outside the lookback
	_ = mem.AppendCount(ctx, models.TrafficCount{TS: now.Add(-72 * time.Hour), SignalID: "D", SegmentID: "S2", VehicleCount: 9})

	c := &cycle{
		counts:     mem,
		forecasts:  mem,
		complaints: complaints.NewStaticProvider(models.ComplaintStats{SegmentID: "S9", Count24h: 4, AvgUrgency: 0.9, MaxUrgency: 1}),
		forecaster: forecast.New(forecast.DefaultMaxInferenceRows, time.UTC),
		aggregator: risk.NewAggregator(mem, risk.DefaultWeights()),
		cache:      services.NewCacheServiceWithClient(nil),
		lookback:   48 * time.Hour,
	}

	snaps, err := c.run(ctx, now)
	if err != nil {
		t.Fatalf("run() error: %v", err)
	}

	samples, _ := mem.Forecasts(ctx, store.ForecastQuery{})
	if len(samples) != 2 {
		t.Fatalf("stored %d forecast samples, want one for S1 and one for signal C", len(samples))
	}
	for _, f := range samples {
		if f.ModelUsed || f.ExpectedDensity2h != f.TrafficDensity {
			t.Errorf("sample %+v should fall back to current density", f)
		}
	}

	if len(snaps) != 2 || snaps[0].SegmentID != "S1" || snaps[1].SegmentID != "S9" {
		t.Fatalf("snapshots = %+v, want S1 and S9", snaps)
	}
	// A and B share S1: slots sum to 15, 35, 25.
	if got := snaps[0].CurrentDensity; math.Abs(got-25.0/35.0) > 1e-9 {
		t.Errorf("S1 current density = %v, want 25/35", got)
	}
	if snaps[1].ComplaintCount24h != 4 || snaps[1].CurrentDensity != 0 {
		t.Errorf("S9 snapshot = %+v", snaps[1])
	}

	stored, _ := mem.SegmentIDs(ctx)
	if len(stored) != 2 {
		t.Errorf("segments with snapshots = %v", stored)
	}
}

func TestRiskInputsMergesSignals(t *testing.T) {
	now := time.Now()
	inputs := riskInputs([]models.ForecastSample{
		{SegmentID: "S1", TrafficDensity: 0.2, ExpectedDensity2h: 0.9},
		{SegmentID: "S1", TrafficDensity: 0.6, ExpectedDensity2h: 0.3},
		{SignalID: "7", TrafficDensity: 1},
	}, nil, now)

	if len(inputs) != 1 {
		t.Fatalf("inputs = %+v, want only S1", inputs)
	}
	if inputs[0].CurrentDensity != 0.6 || inputs[0].ExpectedDensity2h != 0.9 || !inputs[0].TS.Equal(now) {
		t.Errorf("S1 input = %+v", inputs[0])
	}
}
