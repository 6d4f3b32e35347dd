// Package forecast turns raw traffic counts into density series and predicts
// density two hours ahead with a gradient-boosted tree model.
package forecast

import (
	"errors"
	"sync/atomic"
	"time"
)

var ErrModelUnavailable = errors.New("forecast model unavailable")

const DefaultMaxInferenceRows = 10000

// Forecaster serves the current model to concurrent callers. The model is
// replaced wholesale by Swap and never modified in place.
type Forecaster struct {
	model   atomic.Pointer[Model]
	maxRows int
	loc     *time.Location
}

func New(maxRows int, loc *time.Location) *Forecaster {
	if maxRows <= 0 {
		maxRows = DefaultMaxInferenceRows
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Forecaster{maxRows: maxRows, loc: loc}
}

// Load reads the artifact at path and installs it.
func (f *Forecaster) Load(path string) error {
	m, err := LoadModel(path)
	if err != nil {
		return err
	}
	f.Swap(m)
	return nil
}

// Swap installs m (nil unloads) and returns the previous model.
func (f *Forecaster) Swap(m *Model) *Model {
	return f.model.Swap(m)
}

func (f *Forecaster) Available() bool {
	return f.model.Load() != nil
}

func (f *Forecaster) Location() *time.Location { return f.loc }

// Predict scores rows with the current model. Inputs longer than the
// inference cap are trimmed to their most recent rows, so the result may be
// shorter than rows; it always lines up with the tail of rows.
func (f *Forecaster) Predict(rows []FeatureRow) ([]float64, error) {
	m := f.model.Load()
	if m == nil {
		return nil, ErrModelUnavailable
	}
	if len(rows) > f.maxRows {
		rows = rows[len(rows)-f.maxRows:]
	}
	return m.Predict(rows)
}

// Expected2h returns the 2h-ahead density for the last point of a series.
// Without a model it falls back to the current density and modelUsed is false.
func (f *Forecaster) Expected2h(seriesID string, points []Point) (expected float64, modelUsed bool) {
	if len(points) == 0 {
		return 0, false
	}
	current := clamp01(points[len(points)-1].Density)

	rows := BuildFeatures(seriesID, points, f.loc)
	preds, err := f.Predict(rows[len(rows)-1:])
	if err != nil || len(preds) == 0 {
		return current, false
	}
	return preds[0], true
}
