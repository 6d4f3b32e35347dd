package store

import (
	"context"
	"fmt"

	"cityflow/models"

	"gorm.io/gorm"
)

// GormScenarios keeps the scenario run log in the API database.
type GormScenarios struct {
	db *gorm.DB
}

func NewGormScenarios(db *gorm.DB) *GormScenarios {
	return &GormScenarios{db: db}
}

// AutoMigrate creates or updates the scenario_runs table.
func (s *GormScenarios) AutoMigrate() error {
	return s.db.AutoMigrate(&models.ScenarioRun{})
}

func (s *GormScenarios) InsertScenario(ctx context.Context, run *models.ScenarioRun) error {
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("insert scenario %s: %w", run.ID, err)
	}
	return nil
}

func (s *GormScenarios) ListScenarios(ctx context.Context, q ScenarioQuery) ([]models.ScenarioRun, error) {
	query := s.db.WithContext(ctx).Model(&models.ScenarioRun{}).Order("created_at DESC")
	if q.SegmentID != "" {
		query = query.Where("target_segment_id = ?", q.SegmentID)
	}
	if q.Before != nil {
		query = query.Where("created_at < ?", *q.Before)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	var rows []models.ScenarioRun
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	return rows, nil
}
