package scenario

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"cityflow/models"
	"cityflow/store"
)

const (
	MinDurationHours = 1
	MaxDurationHours = 24

	DefaultLanesClosed     = 1
	DefaultEventAttendance = 1000
	DefaultWeatherSeverity = 0.5
)

// Request asks for one what-if simulation.
type Request struct {
	Type      models.ScenarioType   `json:"scenario_type"`
	SegmentID string                `json:"segment_id"`
	Params    models.ScenarioParams `json:"params"`
	CreatedBy string                `json:"-"`
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError means the target segment has no risk history to simulate from.
type NotFoundError struct {
	SegmentID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("segment %s has no risk history", e.SegmentID)
}

func (e *NotFoundError) Unwrap() error { return store.ErrNotFound }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Normalize validates r and returns its params with defaults filled in.
func Normalize(r Request) (models.ScenarioParams, error) {
	p := r.Params

	known := false
	for _, t := range models.ScenarioTypes {
		if r.Type == t {
			known = true
		}
	}
	if !known {
		return p, &ValidationError{Field: "scenario_type", Reason: fmt.Sprintf("unsupported scenario %q", r.Type)}
	}
	if strings.TrimSpace(r.SegmentID) == "" {
		return p, &ValidationError{Field: "segment_id", Reason: "required"}
	}
	if p.DurationHours < MinDurationHours || p.DurationHours > MaxDurationHours {
		return p, &ValidationError{
			Field:  "duration_hours",
			Reason: fmt.Sprintf("must be between %d and %d, got %d", MinDurationHours, MaxDurationHours, p.DurationHours),
		}
	}
	if p.LanesClosed < 0 {
		return p, &ValidationError{Field: "lanes_closed", Reason: "must not be negative"}
	}
	if p.EventAttendance < 0 {
		return p, &ValidationError{Field: "event_attendance", Reason: "must not be negative"}
	}
	if s := p.WeatherSeverity; s != nil && (math.IsNaN(*s) || *s < 0 || *s > 1) {
		return p, &ValidationError{Field: "weather_severity", Reason: "must be within [0,1]"}
	}
	if p.StartTime != "" {
		if _, err := time.Parse("15:04", p.StartTime); err != nil || len(p.StartTime) != 5 {
			return p, &ValidationError{Field: "start_time", Reason: fmt.Sprintf("want HH:MM, got %q", p.StartTime)}
		}
	}

	switch r.Type {
	case models.ScenarioLaneClosure:
		if p.LanesClosed == 0 {
			p.LanesClosed = DefaultLanesClosed
		}
	case models.ScenarioEvent:
		if p.EventAttendance == 0 {
			p.EventAttendance = DefaultEventAttendance
		}
	case models.ScenarioWeather:
		if p.WeatherSeverity == nil {
			s := DefaultWeatherSeverity
			p.WeatherSeverity = &s
		}
	}
	return p, nil
}
