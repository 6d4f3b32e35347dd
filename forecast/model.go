package forecast

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ArtifactVersion is bumped whenever the feature layout changes.
const ArtifactVersion = 1

// Model is a trained tree ensemble together with everything needed to score
// rows: feature layout, series vocabulary and training report.
type Model struct {
	Version      int      `json:"version"`
	Features     []string `json:"features"`
	Categories   []string `json:"categories"`
	Init         float64  `json:"init"`
	LearningRate float64  `json:"learning_rate"`
	Params       Params   `json:"params"`
	Trees        []Tree   `json:"trees"`
	Report       Report   `json:"report"`

	catIndex map[string]int
}

func (m *Model) prepare() {
	m.catIndex = make(map[string]int, len(m.Categories))
	for i, c := range m.Categories {
		m.catIndex[c] = i
	}
}

// category maps a series id to its vocabulary index, or -1 for series the
// model never saw.
func (m *Model) category(seriesID string) int {
	if i, ok := m.catIndex[seriesID]; ok {
		return i
	}
	return -1
}

func (m *Model) score(x []float64, cat int) float64 {
	v := m.Init
	for _, t := range m.Trees {
		v += m.LearningRate * t.eval(x, cat)
	}
	return v
}

func (m *Model) raw(d dataset) []float64 {
	out := make([]float64, len(d.y))
	for i := range out {
		out[i] = clamp01(m.score(d.x[i], d.cat[i]))
	}
	return out
}

// Predict scores rows, clamping each output to [0,1].
func (m *Model) Predict(rows []FeatureRow) ([]float64, error) {
	out := make([]float64, len(rows))
	for i, r := range rows {
		if len(r.Values) != len(m.Features) {
			return nil, fmt.Errorf("row %d has %d features, model expects %d", i, len(r.Values), len(m.Features))
		}
		out[i] = clamp01(m.score(r.Values, m.category(r.SeriesID)))
	}
	return out, nil
}

// Save writes the model as JSON, replacing path atomically.
func (m *Model) Save(path string) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create model dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write model: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("install model: %w", err)
	}
	return nil
}

// LoadModel reads a model artifact and checks that its feature layout matches
// this build.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode model %s: %w", path, err)
	}
	if m.Version != ArtifactVersion {
		return nil, fmt.Errorf("model %s has version %d, want %d", path, m.Version, ArtifactVersion)
	}
	if len(m.Features) != len(FeatureNames) {
		return nil, fmt.Errorf("model %s has %d features, want %d", path, len(m.Features), len(FeatureNames))
	}
	for i, name := range FeatureNames {
		if m.Features[i] != name {
			return nil, fmt.Errorf("model %s feature %d is %q, want %q", path, i, m.Features[i], name)
		}
	}
	m.prepare()
	return &m, nil
}
