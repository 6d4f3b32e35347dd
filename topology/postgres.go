package topology

import (
	"context"
	"fmt"

	"cityflow/models"

	"gorm.io/gorm"
)

// PostgresSource reads curated adjacency from the segment_links table.
type PostgresSource struct {
	db *gorm.DB
}

func NewPostgresSource(db *gorm.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

func (s *PostgresSource) Name() string { return "postgres" }

func (s *PostgresSource) Adjacency(ctx context.Context) (map[string][]string, error) {
	var links []models.SegmentLink
	if err := s.db.WithContext(ctx).Order("segment_id, neighbor_id").Find(&links).Error; err != nil {
		return nil, fmt.Errorf("query segment_links: %w", err)
	}
	adj := make(map[string][]string)
	for _, l := range links {
		adj[l.SegmentID] = append(adj[l.SegmentID], l.NeighborID)
	}
	return adj, nil
}

// RoadIDs lists the segments registered in the roads table.
func (s *PostgresSource) RoadIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&models.Road{}).Order("road_id").Pluck("road_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("query roads: %w", err)
	}
	return ids, nil
}
