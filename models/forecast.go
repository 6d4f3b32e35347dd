package models

import "time"

// ForecastSample is a density reading plus the 2h-ahead estimate derived from it.
// Samples are immutable; newer samples supersede older ones by timestamp.
type ForecastSample struct {
	SignalID          string    `gorm:"column:signal_id" json:"signal_id,omitempty"`
	SegmentID         string    `gorm:"column:segment_id" json:"segment_id,omitempty"`
	TS                time.Time `gorm:"column:ts" json:"timestamp"`
	VehicleCount      *float64  `gorm:"column:vehicle_count" json:"vehicle_count,omitempty"`
	TrafficDensity    float64   `gorm:"column:traffic_density" json:"traffic_density"`
	ExpectedDensity2h float64   `gorm:"column:expected_density_2h" json:"expected_density_2h"`
	ModelUsed         bool      `gorm:"column:model_used" json:"model_used"`
}

func (ForecastSample) TableName() string { return "traffic_forecasts" }

// SeriesKey identifies the sample's series for "latest per series" reads.
func (f ForecastSample) SeriesKey() string {
	if f.SegmentID != "" {
		return f.SegmentID
	}
	return "signal_" + f.SignalID
}
