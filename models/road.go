package models

import "time"

type Road struct {
	RoadID    string    `gorm:"column:road_id;primaryKey" json:"road_id"`
	Label     string    `gorm:"column:label" json:"label"`
	Lat       *float64  `gorm:"column:lat" json:"lat"`
	Lng       *float64  `gorm:"column:lng" json:"lng"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Road) TableName() string { return "roads" }

// SegmentLink is one undirected adjacency edge between two road segments.
type SegmentLink struct {
	SegmentID  string `gorm:"column:segment_id;primaryKey" json:"segment_id"`
	NeighborID string `gorm:"column:neighbor_id;primaryKey" json:"neighbor_id"`
}

func (SegmentLink) TableName() string { return "segment_links" }

// SegmentLocation is the representative point of a road segment, used to
// attach geolocated complaints to it.
type SegmentLocation struct {
	SegmentID string  `json:"segment_id"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
}
