// Package risk fuses current density, the 2h forecast and complaint pressure
// into a scored, levelled and explained snapshot per segment.
package risk

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"cityflow/models"
	"cityflow/store"
)

// Weights of the three components of the risk score. They should sum to 1 so
// the score stays within [0,1] before clamping.
type Weights struct {
	Density    float64 `yaml:"density"`
	Forecast   float64 `yaml:"forecast"`
	Complaints float64 `yaml:"complaints"`
}

func DefaultWeights() Weights {
	return Weights{Density: 0.5, Forecast: 0.2, Complaints: 0.3}
}

const (
	HighThreshold   = 0.7
	MediumThreshold = 0.4

	// complaint count at which complaint volume saturates
	complaintSaturation = 10
)

// Input is everything known about a segment at one instant.
type Input struct {
	SegmentID         string
	TS                time.Time
	CurrentDensity    float64
	ExpectedDensity2h float64
	Complaints        models.ComplaintStats
}

// Assess scores one segment. It is pure; inputs outside their ranges are
// clamped first.
func Assess(in Input, w Weights) models.Snapshot {
	current := clamp01(in.CurrentDensity)
	expected := clamp01(in.ExpectedDensity2h)
	count := in.Complaints.Count24h
	if count < 0 {
		count = 0
	}
	avgUrgency := clamp01(in.Complaints.AvgUrgency)
	maxUrgency := clamp01(in.Complaints.MaxUrgency)

	forecast := ForecastComponent(current, expected)
	complaints := ComplaintComponent(count, avgUrgency)
	score := clamp01(w.Density*current + w.Forecast*forecast + w.Complaints*complaints)
	level := Level(score)
	types := Types(current, expected, count, avgUrgency)

	return models.Snapshot{
		SegmentID:         in.SegmentID,
		TS:                in.TS,
		RiskScore:         score,
		RiskLevel:         level,
		RiskTypes:         types,
		CurrentDensity:    current,
		ExpectedDensity2h: expected,
		ComplaintCount24h: count,
		AvgUrgency24h:     avgUrgency,
		MaxUrgency24h:     maxUrgency,
		Explanation:       explain(level, current, expected, count, avgUrgency, types),
	}
}

// ForecastComponent weighs the expected density and adds the rise over the
// current density; a falling forecast adds nothing.
func ForecastComponent(current, expected float64) float64 {
	return clamp01(expected + math.Max(0, expected-current))
}

func ComplaintComponent(count int, avgUrgency float64) float64 {
	volume := math.Min(1, float64(count)/complaintSaturation)
	return clamp01(0.5*volume + 0.5*clamp01(avgUrgency))
}

func Level(score float64) models.RiskLevel {
	switch {
	case score >= HighThreshold:
		return models.RiskHigh
	case score >= MediumThreshold:
		return models.RiskMedium
	}
	return models.RiskLow
}

// Types lists the risk categories that apply, always in the same order.
func Types(current, expected float64, count int, avgUrgency float64) []models.RiskType {
	types := []models.RiskType{}
	if current >= 0.6 || expected >= 0.7 {
		types = append(types, models.RiskTypeTraffic)
	}
	if count >= 3 && avgUrgency >= 0.6 {
		types = append(types, models.RiskTypeInfrastructure)
	}
	if count >= complaintSaturation {
		types = append(types, models.RiskTypeManualReview)
	}
	return types
}

func explain(level models.RiskLevel, current, expected float64, count int, avgUrgency float64, types []models.RiskType) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s risk: density %.2f", level, current)
	switch {
	case expected > current+0.05:
		fmt.Fprintf(&b, ", rising to %.2f in 2h", expected)
	case expected < current-0.05:
		fmt.Fprintf(&b, ", easing to %.2f in 2h", expected)
	default:
		fmt.Fprintf(&b, ", steady at %.2f in 2h", expected)
	}
	if count > 0 {
		fmt.Fprintf(&b, "; %d complaints in 24h (avg urgency %.2f)", count, avgUrgency)
	} else {
		b.WriteString("; no complaints in 24h")
	}
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		fmt.Fprintf(&b, "; flags: %s", strings.Join(names, ", "))
	}
	return b.String()
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Aggregator assesses segments and appends the resulting snapshots.
type Aggregator struct {
	store   store.SnapshotStore
	weights Weights
}

func NewAggregator(s store.SnapshotStore, w Weights) *Aggregator {
	return &Aggregator{store: s, weights: w}
}

// Aggregate scores every input and appends one snapshot each. Earlier
// snapshots are never touched. It returns the snapshots that were stored.
func (a *Aggregator) Aggregate(ctx context.Context, inputs []Input) ([]models.Snapshot, error) {
	out := make([]models.Snapshot, 0, len(inputs))
	for _, in := range inputs {
		snap := Assess(in, a.weights)
		if err := a.store.AppendSnapshot(ctx, snap); err != nil {
			return out, fmt.Errorf("append snapshot segment=%s: %w", in.SegmentID, err)
		}
		out = append(out, snap)
	}
	return out, nil
}
