package models

import "time"

// TrafficCount is one raw counter reading as delivered by the collector feed.
type TrafficCount struct {
	TS           time.Time `gorm:"column:ts;primaryKey" json:"ts"`
	SignalID     string    `gorm:"column:signal_id;primaryKey" json:"signal_id"`
	SegmentID    string    `gorm:"column:segment_id" json:"segment_id"`
	VehicleCount float64   `gorm:"column:vehicle_count" json:"vehicle_count"`
}

func (TrafficCount) TableName() string { return "traffic_counts" }

// SeriesID is the key the forecaster groups counts by: the segment when known,
// otherwise the signal.
func (c TrafficCount) SeriesID() string {
	if c.SegmentID != "" {
		return c.SegmentID
	}
	return c.SignalID
}
