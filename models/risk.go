package models

import (
	"fmt"
	"time"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ParseRiskLevel accepts the lower-case level names used on the wire.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch RiskLevel(s) {
	case RiskLow, RiskMedium, RiskHigh:
		return RiskLevel(s), nil
	}
	return "", fmt.Errorf("invalid risk level %q", s)
}

type RiskType string

const (
	RiskTypeTraffic        RiskType = "traffic"
	RiskTypeInfrastructure RiskType = "infrastructure"
	RiskTypeManualReview   RiskType = "manual_review"
)

// Snapshot is one timestamped risk assessment of a segment. The series is
// append-only and keyed by (segment_id, ts).
type Snapshot struct {
	SegmentID         string     `json:"segment_id"`
	TS                time.Time  `json:"timestamp"`
	RiskScore         float64    `json:"risk_score"`
	RiskLevel         RiskLevel  `json:"risk_level"`
	RiskTypes         []RiskType `json:"risk_types"`
	CurrentDensity    float64    `json:"current_density"`
	ExpectedDensity2h float64    `json:"expected_density_2h"`
	ComplaintCount24h int        `json:"complaint_count_24h"`
	AvgUrgency24h     float64    `json:"avg_urgency_24h"`
	MaxUrgency24h     float64    `json:"max_urgency_24h"`
	Explanation       string     `json:"explanation"`
}

// ComplaintStats is the 24h complaint aggregate for a segment.
type ComplaintStats struct {
	SegmentID  string  `db:"segment_id" json:"segment_id"`
	Count24h   int     `db:"count_24h" json:"count_24h"`
	AvgUrgency float64 `db:"avg_urgency" json:"avg_urgency_24h"`
	MaxUrgency float64 `db:"max_urgency" json:"max_urgency_24h"`
}
