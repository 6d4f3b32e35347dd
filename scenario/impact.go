package scenario

import (
	"fmt"
	"math"

	"cityflow/models"
)

// Impact is one scenario variant. Densities are in [0,1]; impacts are delay
// increases in percent.
type Impact interface {
	MaxHops() int
	// Direct is the delay increase on the target segment.
	Direct(density float64) float64
	// Indirect is the delay increase on a segment hops away (hops >= 1).
	Indirect(density float64, hops int) float64
	// Cap bounds the impact at the given hop distance.
	Cap(hops int) float64
	// Perturb returns the density a segment would see under the scenario,
	// given the target's baseline and the segment's own current density.
	Perturb(baseline, current float64, hops int) float64
	// Schedulable reports whether a least-damage window can be chosen.
	Schedulable() bool
	Describe() string
}

// NewImpact builds the variant for t with already validated params.
func NewImpact(t models.ScenarioType, p models.ScenarioParams, profiles Profiles) (Impact, error) {
	prof, ok := profiles[t]
	if !ok {
		return nil, &ValidationError{Field: "scenario_type", Reason: fmt.Sprintf("unsupported scenario %q", t)}
	}
	switch t {
	case models.ScenarioLaneClosure:
		return closure{
			prof:  prof,
			cr:    math.Min(1, prof.CapacityReduction*float64(p.LanesClosed)),
			lanes: float64(p.LanesClosed),
			desc:  fmt.Sprintf("closure of %d lane(s)", p.LanesClosed),
		}, nil
	case models.ScenarioInfrastructureFailure:
		return closure{prof: prof, cr: prof.CapacityReduction, lanes: 1, desc: "infrastructure failure"}, nil
	case models.ScenarioIncident:
		return closure{prof: prof, cr: prof.CapacityReduction, lanes: 1, desc: "traffic incident"}, nil
	case models.ScenarioEvent:
		base := prof.MaxIncrease * (1 - math.Exp(-float64(p.EventAttendance)/prof.AttendanceScale))
		return event{
			prof: prof,
			base: base,
			desc: fmt.Sprintf("event with %d attendees", p.EventAttendance),
		}, nil
	case models.ScenarioWeather:
		severity := DefaultWeatherSeverity
		if p.WeatherSeverity != nil {
			severity = *p.WeatherSeverity
		}
		return weather{
			prof: prof,
			cr:   math.Min(1, prof.CapacityReduction*severity),
			desc: fmt.Sprintf("%s weather", severityLabel(severity)),
		}, nil
	}
	return nil, &ValidationError{Field: "scenario_type", Reason: fmt.Sprintf("unsupported scenario %q", t)}
}

// closure covers variants that remove capacity on the target and divert
// traffic to neighbors: lane closures, infrastructure failures, incidents.
type closure struct {
	prof  Profile
	cr    float64
	lanes float64
	desc  string
}

func (c closure) MaxHops() int { return c.prof.MaxHops }

func (c closure) Direct(density float64) float64 {
	return clamp(c.cr*density*100*c.prof.Multiplier, 0, c.Cap(0))
}

func (c closure) Indirect(density float64, hops int) float64 {
	if hops < 1 {
		return c.Direct(density)
	}
	decay := c.prof.Diversion / math.Pow(float64(hops), 1.5)
	return clamp(density*decay*c.prof.Scale*c.lanes*c.prof.Multiplier, 0, c.Cap(hops))
}

func (c closure) Cap(hops int) float64 {
	if hops == 0 {
		return c.prof.DirectCap
	}
	return c.prof.IndirectCap
}

func (c closure) Perturb(baseline, current float64, hops int) float64 {
	if hops == 0 {
		if c.cr >= 1 {
			return 1
		}
		return clamp(current/(1-c.cr), 0, 1)
	}
	return clamp(current+baseline*c.prof.Diversion/float64(hops+1)*0.3, 0, 1)
}

func (c closure) Schedulable() bool { return c.prof.Schedulable }

func (c closure) Describe() string { return c.desc }

// event adds demand around the venue instead of removing capacity.
type event struct {
	prof Profile
	base float64
	desc string
}

func (e event) MaxHops() int { return e.prof.MaxHops }

func (e event) Direct(density float64) float64 { return e.Indirect(density, 0) }

func (e event) Indirect(_ float64, hops int) float64 {
	return clamp(e.base*100/float64(hops+1), 0, e.Cap(hops))
}

func (e event) Cap(hops int) float64 {
	if hops == 0 {
		return e.prof.DirectCap
	}
	return e.prof.IndirectCap
}

func (e event) Perturb(_, current float64, hops int) float64 {
	return clamp(current*(1+e.base/float64(hops+1)), 0, 1)
}

func (e event) Schedulable() bool { return e.prof.Schedulable }

func (e event) Describe() string { return e.desc }

// weather reduces capacity uniformly across the whole affected area.
type weather struct {
	prof Profile
	cr   float64
	desc string
}

func (w weather) MaxHops() int { return w.prof.MaxHops }

func (w weather) Direct(density float64) float64 { return w.Indirect(density, 0) }

func (w weather) Indirect(density float64, hops int) float64 {
	return clamp(w.cr*density*100, 0, w.Cap(hops))
}

func (w weather) Cap(hops int) float64 {
	if hops == 0 {
		return w.prof.DirectCap
	}
	return w.prof.IndirectCap
}

func (w weather) Perturb(_, current float64, _ int) float64 {
	if w.cr >= 1 {
		return 1
	}
	return clamp(current/(1-w.cr), 0, 1)
}

func (w weather) Schedulable() bool { return w.prof.Schedulable }

func (w weather) Describe() string { return w.desc }

func severityLabel(s float64) string {
	switch {
	case s < 0.3:
		return "mild"
	case s < 0.7:
		return "moderate"
	}
	return "severe"
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
