package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"cityflow/models"
)

// Memory implements every store interface in process. It backs tests and the
// "memory" store backend.
type Memory struct {
	mu        sync.RWMutex
	snapshots []models.Snapshot
	scenarios []models.ScenarioRun
	forecasts []models.ForecastSample
	counts    []models.TrafficCount

	// FailInserts makes the next n scenario inserts fail.
	FailInserts int
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) AppendSnapshot(_ context.Context, s models.Snapshot) error {
	s.RiskTypes = append([]models.RiskType(nil), s.RiskTypes...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, s)
	return nil
}

func (m *Memory) Snapshots(_ context.Context, q SnapshotQuery) ([]models.Snapshot, error) {
	m.mu.RLock()
	var out []models.Snapshot
	for _, s := range m.snapshots {
		if q.SegmentID != "" && s.SegmentID != q.SegmentID {
			continue
		}
		if q.Level != "" && s.RiskLevel != q.Level {
			continue
		}
		if !q.Since.IsZero() && s.TS.Before(q.Since) {
			continue
		}
		if q.Before != nil && !s.TS.Before(*q.Before) {
			continue
		}
		s.RiskTypes = append([]models.RiskType(nil), s.RiskTypes...)
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if q.Desc {
			if out[i].TS.Equal(out[j].TS) {
				return out[i].RiskScore > out[j].RiskScore
			}
			return out[i].TS.After(out[j].TS)
		}
		return out[i].TS.Before(out[j].TS)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) SegmentIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	var ids []string
	for _, s := range m.snapshots {
		if _, ok := seen[s.SegmentID]; ok {
			continue
		}
		seen[s.SegmentID] = struct{}{}
		ids = append(ids, s.SegmentID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) InsertScenario(_ context.Context, run *models.ScenarioRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailInserts > 0 {
		m.FailInserts--
		return errInjected
	}
	cp := *run
	cp.AffectedSegments = append(models.AffectedSegments(nil), run.AffectedSegments...)
	m.scenarios = append(m.scenarios, cp)
	return nil
}

func (m *Memory) ListScenarios(_ context.Context, q ScenarioQuery) ([]models.ScenarioRun, error) {
	m.mu.RLock()
	var out []models.ScenarioRun
	for _, r := range m.scenarios {
		if q.SegmentID != "" && r.TargetSegmentID != q.SegmentID {
			continue
		}
		if q.Before != nil && !r.CreatedAt.Before(*q.Before) {
			continue
		}
		out = append(out, r)
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) AppendForecasts(_ context.Context, samples []models.ForecastSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forecasts = append(m.forecasts, samples...)
	return nil
}

func (m *Memory) Forecasts(_ context.Context, q ForecastQuery) ([]models.ForecastSample, error) {
	m.mu.RLock()
	var out []models.ForecastSample
	for _, f := range m.forecasts {
		if q.SegmentID != "" && f.SegmentID != q.SegmentID {
			continue
		}
		if q.SignalID != "" && f.SignalID != q.SignalID {
			continue
		}
		if !q.Since.IsZero() && f.TS.Before(q.Since) {
			continue
		}
		out = append(out, f)
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.After(out[j].TS) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) AppendCount(_ context.Context, c models.TrafficCount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts = append(m.counts, c)
	return nil
}

func (m *Memory) Counts(_ context.Context, since time.Time) ([]models.TrafficCount, error) {
	m.mu.RLock()
	var out []models.TrafficCount
	for _, c := range m.counts {
		if !since.IsZero() && c.TS.Before(since) {
			continue
		}
		out = append(out, c)
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out, nil
}

var errInjected = errors.New("injected insert failure")
