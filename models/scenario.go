package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type ScenarioType string

const (
	ScenarioLaneClosure           ScenarioType = "lane_closure"
	ScenarioInfrastructureFailure ScenarioType = "infrastructure_failure"
	ScenarioIncident              ScenarioType = "incident"
	ScenarioEvent                 ScenarioType = "event"
	ScenarioWeather               ScenarioType = "weather"
)

// ScenarioTypes lists every supported scenario in a stable order.
var ScenarioTypes = []ScenarioType{
	ScenarioLaneClosure,
	ScenarioInfrastructureFailure,
	ScenarioIncident,
	ScenarioEvent,
	ScenarioWeather,
}

// ScenarioParams holds the type-specific knobs of a what-if request. Fields a
// scenario does not use are ignored.
type ScenarioParams struct {
	LanesClosed     int      `json:"lanes_closed"`
	DurationHours   int      `json:"duration_hours"`
	StartTime       string   `json:"start_time,omitempty"`
	EventAttendance int      `json:"event_attendance,omitempty"`
	WeatherSeverity *float64 `json:"weather_severity,omitempty"`
}

func (p ScenarioParams) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *ScenarioParams) Scan(src any) error {
	return scanJSON(src, p)
}

type AffectedSegment struct {
	SegmentID        string  `json:"segment_id"`
	Hops             int     `json:"hops"`
	DelayIncreasePct float64 `json:"delay_increase_pct"`
}

type AffectedSegments []AffectedSegment

func (a AffectedSegments) Value() (driver.Value, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a)
}

func (a *AffectedSegments) Scan(src any) error {
	return scanJSON(src, a)
}

// MaxDelay returns the largest delay increase, or 0 for an empty list.
func (a AffectedSegments) MaxDelay() float64 {
	var m float64
	for _, s := range a {
		if s.DelayIncreasePct > m {
			m = s.DelayIncreasePct
		}
	}
	return m
}

// TimeWindow is a time-of-day interval in "HH:MM" form; End may wrap past midnight.
type TimeWindow struct {
	Start string `gorm:"column:start" json:"start"`
	End   string `gorm:"column:end" json:"end"`
}

// ScenarioRun is the immutable record of one simulation request.
type ScenarioRun struct {
	ID               string           `gorm:"column:id;primaryKey" json:"id"`
	ScenarioType     ScenarioType     `gorm:"column:scenario_type" json:"scenario_type"`
	TargetSegmentID  string           `gorm:"column:target_segment_id;index" json:"target_segment_id"`
	Params           ScenarioParams   `gorm:"column:params;type:jsonb" json:"params"`
	AffectedSegments AffectedSegments `gorm:"column:affected_segments;type:jsonb" json:"affected_segments"`
	BestTimeWindow   TimeWindow       `gorm:"embedded;embeddedPrefix:best_window_" json:"best_time_window"`
	Summary          string           `gorm:"column:summary" json:"summary"`
	Method           string           `gorm:"column:method" json:"method"`
	CreatedAt        time.Time        `gorm:"column:created_at;index" json:"created_at"`
	CreatedBy        string           `gorm:"column:created_by" json:"created_by,omitempty"`
}

func (ScenarioRun) TableName() string { return "scenario_runs" }

func scanJSON(src any, dest any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported jsonb source %T", src)
	}
}
