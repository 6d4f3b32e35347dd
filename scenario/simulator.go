// Package scenario runs what-if simulations: it propagates the delay impact of
// a disruption over the segment graph, optionally refines it with the density
// model, and recommends the least harmful time window.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"cityflow/forecast"
	"cityflow/metrics"
	"cityflow/models"
	"cityflow/segment"
	"cityflow/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

const (
	MethodFormula = "formula"
	MethodModel   = "model"

	DefaultLookback    = 7 * 24 * time.Hour
	DefaultParallelism = 8

	// refinement needs this many snapshots and looks at most at refineWindow
	refineMinSnapshots = 4
	refineWindow       = 24
	slotsPerHour       = 4
	densityToDelay     = 1.5

	unscheduledStart = "00:00"
	unscheduledEnd   = "23:59"
)

// History reads a segment's risk snapshots.
type History interface {
	Snapshots(ctx context.Context, q store.SnapshotQuery) ([]models.Snapshot, error)
}

// Predictor scores feature rows with the density model.
type Predictor interface {
	Predict(rows []forecast.FeatureRow) ([]float64, error)
}

type Config struct {
	Graph   *segment.Holder
	History History
	Runs    store.ScenarioStore
	// Predictor enables model-assisted refinement when set.
	Predictor    Predictor
	Profiles     Profiles
	Lookback     time.Duration
	Location     *time.Location
	Parallelism  int
	RetryBackoff time.Duration
	Now          func() time.Time
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

type Simulator struct {
	cfg    Config
	tracer trace.Tracer
}

func New(cfg Config) *Simulator {
	if cfg.Graph == nil {
		cfg.Graph = segment.NewHolder(nil)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = DefaultProfiles()
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	return &Simulator{cfg: cfg, tracer: cfg.TracerProvider.Tracer("cityflow/scenario")}
}

// Run validates req, simulates it against the current graph and history, and
// persists the resulting run.
func (s *Simulator) Run(ctx context.Context, req Request) (run *models.ScenarioRun, err error) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "scenario.Simulator.Run",
		trace.WithAttributes(
			attribute.String("scenario.type", string(req.Type)),
			attribute.String("scenario.segment_id", req.SegmentID),
		),
	)
	defer func() {
		metrics.ScenarioDuration.Observe(time.Since(started).Seconds())
		if err != nil {
			reason := failureReason(err)
			metrics.ScenarioFailures.WithLabelValues(reason).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, reason)
		}
		span.End()
	}()

	params, err := Normalize(req)
	if err != nil {
		return nil, err
	}
	impact, err := NewImpact(req.Type, params, s.cfg.Profiles)
	if err != nil {
		return nil, err
	}

	now := s.cfg.Now().UTC()
	history, err := s.history(ctx, req.SegmentID, now)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, &NotFoundError{SegmentID: req.SegmentID}
	}

	graph := s.cfg.Graph.Load()
	hops := graph.HopsWithin(req.SegmentID, impact.MaxHops())
	ids := segment.SortByHops(hops)
	baseline := clamp(history[len(history)-1].CurrentDensity, 0, 1)

	affected := make(models.AffectedSegments, len(ids))
	for i, id := range ids {
		h := hops[id]
		var pct float64
		if h == 0 {
			pct = impact.Direct(baseline)
		} else {
			pct = impact.Indirect(baseline, h)
		}
		affected[i] = models.AffectedSegment{SegmentID: id, Hops: h, DelayIncreasePct: pct}
	}
	span.AddEvent("propagated", trace.WithAttributes(attribute.Int("affected_count", len(affected))))

	method := MethodFormula
	if s.cfg.Predictor != nil {
		if s.refine(ctx, req.SegmentID, history, impact, baseline, params.DurationHours, now, affected) {
			method = MethodModel
		}
	}
	for i := range affected {
		affected[i].DelayIncreasePct = round1(clamp(affected[i].DelayIncreasePct, 0, 100))
	}

	window := models.TimeWindow{Start: unscheduledStart, End: unscheduledEnd}
	if impact.Schedulable() {
		window = BestWindow(history, params.DurationHours, s.cfg.Location)
	}

	run = &models.ScenarioRun{
		ID:               uuid.NewString(),
		ScenarioType:     req.Type,
		TargetSegmentID:  req.SegmentID,
		Params:           params,
		AffectedSegments: affected,
		BestTimeWindow:   window,
		Method:           method,
		CreatedAt:        now,
		CreatedBy:        req.CreatedBy,
	}
	run.Summary = Summarize(run, impact)
	span.SetAttributes(
		attribute.String("scenario.id", run.ID),
		attribute.String("scenario.method", method),
		attribute.Float64("scenario.max_delay_pct", affected.MaxDelay()),
	)

	err = store.Retry(ctx, "insert scenario", 2, s.cfg.RetryBackoff, func(ctx context.Context) error {
		return s.cfg.Runs.InsertScenario(ctx, run)
	})
	if err != nil {
		return nil, err
	}

	metrics.ScenarioRuns.WithLabelValues(string(req.Type), method).Inc()
	log.Printf("scenario run id=%s type=%s segment=%s affected=%d max_delay=%.1f method=%s",
		run.ID, run.ScenarioType, run.TargetSegmentID, len(affected), affected.MaxDelay(), method)
	return run, nil
}

func (s *Simulator) history(ctx context.Context, segmentID string, now time.Time) ([]models.Snapshot, error) {
	var out []models.Snapshot
	err := store.Retry(ctx, "read snapshots", 2, s.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		out, err = s.cfg.History.Snapshots(ctx, store.SnapshotQuery{
			SegmentID: segmentID,
			Since:     now.Add(-s.cfg.Lookback),
		})
		return err
	})
	return out, err
}

// refine replaces formula impacts with model-based ones where the model and
// enough history are available. It reports whether any segment was refined.
// Failures never abort the run; the formula value stays in place.
func (s *Simulator) refine(ctx context.Context, target string, targetHistory []models.Snapshot,
	impact Impact, baseline float64, durationHours int, now time.Time, affected models.AffectedSegments) bool {

	refined := make([]float64, len(affected))
	ok := make([]bool, len(affected))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for i := range affected {
		seg := affected[i]
		g.Go(func() error {
			hist := targetHistory
			if seg.SegmentID != target {
				var err error
				hist, err = s.history(gctx, seg.SegmentID, now)
				if err != nil {
					log.Printf("scenario refinement history segment=%s: %v", seg.SegmentID, err)
					return nil
				}
			}
			v, err := s.refineSegment(seg.SegmentID, hist, impact, baseline, seg.Hops, durationHours)
			switch {
			case err == nil:
				refined[i], ok[i] = v, true
			case errors.Is(err, forecast.ErrModelUnavailable), errors.Is(err, errShortHistory):
				metrics.ModelFallbacks.Inc()
			default:
				metrics.ModelFallbacks.Inc()
				log.Printf("scenario refinement segment=%s fell back to formula: %v", seg.SegmentID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	used := false
	for i := range affected {
		if ok[i] {
			affected[i].DelayIncreasePct = refined[i]
			used = true
		}
	}
	return used
}

var errShortHistory = errors.New("not enough history to refine")

func (s *Simulator) refineSegment(segmentID string, hist []models.Snapshot, impact Impact,
	baseline float64, hops, durationHours int) (float64, error) {

	if len(hist) < refineMinSnapshots {
		return 0, errShortHistory
	}
	if len(hist) > refineWindow {
		hist = hist[len(hist)-refineWindow:]
	}

	points := make([]forecast.Point, len(hist))
	for i, snap := range hist {
		points[i] = forecast.Point{TS: snap.TS, Density: clamp(snap.CurrentDensity, 0, 1)}
	}
	perturbed := append([]forecast.Point(nil), points...)
	n := durationHours * slotsPerHour
	if n > len(perturbed) {
		n = len(perturbed)
	}
	for k := len(perturbed) - n; k < len(perturbed); k++ {
		perturbed[k].Density = impact.Perturb(baseline, perturbed[k].Density, hops)
	}

	before := forecast.BuildFeatures(segmentID, points, s.cfg.Location)
	after := forecast.BuildFeatures(segmentID, perturbed, s.cfg.Location)
	preds, err := s.cfg.Predictor.Predict([]forecast.FeatureRow{before[len(before)-1], after[len(after)-1]})
	if err != nil {
		return 0, err
	}
	if len(preds) != 2 {
		return 0, fmt.Errorf("predictor returned %d values for 2 rows", len(preds))
	}
	delta := (preds[1] - preds[0]) * 100 * densityToDelay
	return clamp(delta, 0, impact.Cap(hops)), nil
}

// BestWindow picks the start hour whose mean of (risk_score+density)/2 is
// lowest. Ties go to the lower sum over the whole window, then the earlier
// hour. Hours without history are never chosen.
func BestWindow(history []models.Snapshot, durationHours int, loc *time.Location) models.TimeWindow {
	if loc == nil {
		loc = time.UTC
	}
	var byHour [24][]float64
	for _, snap := range history {
		h := snap.TS.In(loc).Hour()
		byHour[h] = append(byHour[h], (snap.RiskScore+snap.CurrentDensity)/2)
	}

	var means [24]float64
	var has [24]bool
	for h, vals := range byHour {
		if len(vals) > 0 {
			means[h] = stat.Mean(vals, nil)
			has[h] = true
		}
	}
	windowSum := func(start int) float64 {
		var sum float64
		for k := 0; k < durationHours; k++ {
			if h := (start + k) % 24; has[h] {
				sum += means[h]
			}
		}
		return sum
	}

	const eps = 1e-9
	best := -1
	for h := 0; h < 24; h++ {
		if !has[h] {
			continue
		}
		switch {
		case best < 0, means[h] < means[best]-eps:
			best = h
		case math.Abs(means[h]-means[best]) <= eps && windowSum(h) < windowSum(best)-eps:
			best = h
		}
	}
	if best < 0 {
		return models.TimeWindow{Start: unscheduledStart, End: unscheduledEnd}
	}
	return models.TimeWindow{
		Start: fmt.Sprintf("%02d:00", best),
		End:   fmt.Sprintf("%02d:00", (best+durationHours)%24),
	}
}

// Summarize renders a one-paragraph description of run.
func Summarize(run *models.ScenarioRun, impact Impact) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s on %s (%s, %dh): %d segment(s) affected, max delay +%.1f%%.",
		run.ScenarioType, run.TargetSegmentID, impact.Describe(), run.Params.DurationHours,
		len(run.AffectedSegments), run.AffectedSegments.MaxDelay())
	if impact.Schedulable() {
		fmt.Fprintf(&b, " Least disruptive window %s-%s.", run.BestTimeWindow.Start, run.BestTimeWindow.End)
	} else {
		b.WriteString(" Cannot be scheduled; expect impact immediately.")
	}
	if run.Method == MethodModel {
		b.WriteString(" Impacts refined with the density model.")
	} else {
		b.WriteString(" Impacts from propagation formulas.")
	}
	return b.String()
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func failureReason(err error) string {
	var (
		verr *ValidationError
		nerr *NotFoundError
		perr *store.PersistenceError
	)
	switch {
	case errors.As(err, &verr):
		return "validation"
	case errors.As(err, &nerr):
		return "not_found"
	case errors.As(err, &perr):
		return "persistence"
	}
	return "internal"
}
