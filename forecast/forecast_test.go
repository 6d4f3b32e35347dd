package forecast

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"cityflow/models"
)

var t0 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC) // a Monday

func constSeries(id string, n int, density float64) Series {
	s := Series{ID: id, SegmentID: id}
	for i := 0; i < n; i++ {
		s.Points = append(s.Points, Point{TS: t0.Add(time.Duration(i) * SlotDuration), Density: density})
	}
	return s
}

func TestBuildSeries(t *testing.T) {
	counts := []models.TrafficCount{
		{TS: t0.Add(2 * time.Minute), SignalID: "7", VehicleCount: 10},
		{TS: t0.Add(5 * time.Minute), SignalID: "7", VehicleCount: 30},
		{TS: t0.Add(45 * time.Minute), SignalID: "7", VehicleCount: 20},
		{TS: t0, SignalID: "9", SegmentID: "S1", VehicleCount: 0},
		{TS: t0.Add(15 * time.Minute), SignalID: "9", SegmentID: "S1", VehicleCount: 0},
	}

	series := BuildSeries(counts)
	if len(series) != 2 {
		t.Fatalf("got %d series, want 2", len(series))
	}

	sig, s1 := series[0], series[1]
	if sig.ID != "7" || s1.ID != "S1" {
		t.Fatalf("series ids = %s, %s", sig.ID, s1.ID)
	}

	t.Run("slots are summed and gaps forward filled", func(t *testing.T) {
		wantCounts := []float64{40, 40, 40, 20}
		if len(sig.Points) != len(wantCounts) {
			t.Fatalf("signal 7 has %d points, want %d", len(sig.Points), len(wantCounts))
		}
		for i, want := range wantCounts {
			if sig.Points[i].Count != want {
				t.Errorf("point %d count = %v, want %v", i, sig.Points[i].Count, want)
			}
			if !sig.Points[i].TS.Equal(t0.Add(time.Duration(i) * SlotDuration)) {
				t.Errorf("point %d ts = %v", i, sig.Points[i].TS)
			}
		}
	})

	t.Run("normalised by series max", func(t *testing.T) {
		if sig.Points[0].Density != 1 || sig.Points[3].Density != 0.5 {
			t.Errorf("densities = %v", sig.Densities())
		}
	})

	t.Run("zero max gives zero density", func(t *testing.T) {
		for _, p := range s1.Points {
			if p.Density != 0 {
				t.Errorf("density = %v, want 0", p.Density)
			}
		}
	})
}

func TestBuildFeatures(t *testing.T) {
	s := constSeries("S1", 30, 0)
	for i := range s.Points {
		s.Points[i].Density = float64(i) / 100
	}
	rows := BuildFeatures("S1", s.Points, nil)

	if len(rows[0].Values) != len(FeatureNames) {
		t.Fatalf("row has %d values, want %d", len(rows[0].Values), len(FeatureNames))
	}
	col := func(name string) int {
		for i, n := range FeatureNames {
			if n == name {
				return i
			}
		}
		t.Fatalf("unknown feature %s", name)
		return -1
	}

	tests := []struct {
		name    string
		row     int
		feature string
		want    float64
	}{
		{"lag backfilled with current", 0, "lag_24", 0},
		{"lag_1", 5, "lag_1", 0.04},
		{"lag_24 available", 29, "lag_24", 0.05},
		{"rm_1h needs two points", 0, "rm_1h", 0},
		{"rm_1h", 3, "rm_1h", 0.015},
		{"rm_2h falls back below three points", 1, "rm_2h", 0.01},
		{"trend zero before horizon", 7, "trend_2h", 0},
		{"trend over eight steps", 10, "trend_2h", 0.08},
		{"hour", 30 - 1, "hour", 7},
		{"peak hour", 29, "is_peak", 1},
		{"off peak", 0, "is_peak", 0},
		{"weekday monday", 0, "weekday", 0},
		{"hour_cos at midnight", 0, "hour_cos", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rows[tt.row].Values[col(tt.feature)]
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("%s[%d] = %v, want %v", tt.feature, tt.row, got, tt.want)
			}
		})
	}
}

func TestTrainFlatHistoryForecastsFlat(t *testing.T) {
	series := []Series{
		constSeries("S1", 200, 0.3),
		constSeries("S2", 200, 0.3),
	}
	p := DefaultParams()
	p.MinLeaf = 5

	m, err := Train(series, p, nil)
	if err != nil {
		t.Fatalf("Train() error: %v", err)
	}

	preds, err := m.Predict(BuildFeatures("S1", series[0].Points, nil))
	if err != nil {
		t.Fatalf("Predict() error: %v", err)
	}
	for i, v := range preds {
		if math.Abs(v-0.3) > 0.01 {
			t.Fatalf("prediction %d = %v, want ~0.3", i, v)
		}
	}
}

func TestTrainSeparatesSeries(t *testing.T) {
	series := []Series{
		constSeries("LOW", 300, 0.2),
		constSeries("HIGH", 300, 0.8),
	}
	p := DefaultParams()
	p.MinLeaf = 5
	p.LearningRate = 0.2

	m, err := Train(series, p, nil)
	if err != nil {
		t.Fatalf("Train() error: %v", err)
	}
	if m.Report.ValidRows == 0 || m.Report.TrainRows == 0 {
		t.Fatalf("report = %+v, want train and validation rows", m.Report)
	}

	for _, s := range series {
		rows := BuildFeatures(s.ID, s.Points, nil)
		preds, _ := m.Predict(rows[len(rows)-1:])
		want := s.Points[0].Density
		if math.Abs(preds[0]-want) > 0.05 {
			t.Errorf("%s prediction = %v, want ~%v", s.ID, preds[0], want)
		}
	}
}

func TestTrainRejectsShortHistory(t *testing.T) {
	_, err := Train([]Series{constSeries("S1", HorizonSteps, 0.5)}, DefaultParams(), nil)
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("error = %v, want ErrInsufficientData", err)
	}
}

func TestModelSaveLoad(t *testing.T) {
	series := []Series{constSeries("LOW", 120, 0.2), constSeries("HIGH", 120, 0.8)}
	p := DefaultParams()
	p.MinLeaf = 5
	m, err := Train(series, p, nil)
	if err != nil {
		t.Fatalf("Train() error: %v", err)
	}

	path := filepath.Join(t.TempDir(), "models", "density.json")
	if err := m.Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	f := New(0, nil)
	if err := f.Load(path); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	rows := BuildFeatures("HIGH", series[1].Points, nil)
	want, _ := m.Predict(rows)
	got, err := f.Predict(rows)
	if err != nil {
		t.Fatalf("Predict() error: %v", err)
	}
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("row %d: loaded model predicts %v, trained model %v", i, got[i], want[i])
		}
	}
}

func TestForecasterWithoutModel(t *testing.T) {
	f := New(0, nil)
	if f.Available() {
		t.Fatal("new forecaster should have no model")
	}

	_, err := f.Predict([]FeatureRow{{SeriesID: "S1", Values: make([]float64, len(FeatureNames))}})
	if !errors.Is(err, ErrModelUnavailable) {
		t.Errorf("Predict() error = %v, want ErrModelUnavailable", err)
	}

	s := constSeries("S1", 10, 0.42)
	got, used := f.Expected2h("S1", s.Points)
	if used || got != 0.42 {
		t.Errorf("Expected2h() = %v, %v; want current density without model", got, used)
	}
}

func TestForecasterCapsInferenceRows(t *testing.T) {
	f := New(5, nil)
	f.Swap(&Model{Version: ArtifactVersion, Features: FeatureNames, Init: 0.6})

	rows := BuildFeatures("S1", constSeries("S1", 12, 0.1).Points, nil)
	preds, err := f.Predict(rows)
	if err != nil {
		t.Fatalf("Predict() error: %v", err)
	}
	if len(preds) != 5 {
		t.Errorf("got %d predictions, want 5", len(preds))
	}
	for _, v := range preds {
		if v != 0.6 {
			t.Errorf("prediction = %v, want 0.6", v)
		}
	}
}

func TestLoadModelRejectsForeignLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	bad := &Model{Version: ArtifactVersion, Features: []string{"traffic_density"}}
	if err := bad.Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if _, err := LoadModel(path); err == nil {
		t.Error("LoadModel() should reject a model with a different feature layout")
	}
}
