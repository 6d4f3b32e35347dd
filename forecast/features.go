package forecast

import (
	"math"
	"time"
)

// HorizonSteps is the forecast horizon in slots (2h at 15 minutes).
const HorizonSteps = 8

// FeatureNames lists the numeric model inputs in column order. The series id
// is carried separately as a categorical input.
var FeatureNames = []string{
	"traffic_density",
	"lag_1", "lag_2", "lag_4", "lag_8", "lag_12", "lag_24",
	"rm_1h", "rm_2h", "trend_2h",
	"hour", "weekday", "is_peak", "hour_sin", "hour_cos",
}

// CategoricalFeature names the categorical input that follows the numeric ones.
const CategoricalFeature = "series_id"

var lags = []int{1, 2, 4, 8, 12, 24}

var peakHours = map[int]bool{7: true, 8: true, 9: true, 17: true, 18: true, 19: true}

// FeatureRow is one model input.
type FeatureRow struct {
	SeriesID string
	TS       time.Time
	Values   []float64
}

// BuildFeatures derives one feature row per point. Points must be ordered
// oldest first and evenly spaced. Missing lags and rolling means fall back to
// the current density; a missing trend is 0. Calendar features are computed
// in loc (UTC when nil).
func BuildFeatures(seriesID string, points []Point, loc *time.Location) []FeatureRow {
	if loc == nil {
		loc = time.UTC
	}

	d := make([]float64, len(points))
	for i, p := range points {
		d[i] = p.Density
	}

	rows := make([]FeatureRow, len(points))
	for i, p := range points {
		cur := d[i]
		v := make([]float64, 0, len(FeatureNames))
		v = append(v, cur)
		for _, lag := range lags {
			if i-lag >= 0 {
				v = append(v, d[i-lag])
			} else {
				v = append(v, cur)
			}
		}
		v = append(v, rollingMean(d, i, 4, 2), rollingMean(d, i, 8, 3))
		if i >= HorizonSteps {
			v = append(v, cur-d[i-HorizonSteps])
		} else {
			v = append(v, 0)
		}

		local := p.TS.In(loc)
		hour := local.Hour()
		weekday := (int(local.Weekday()) + 6) % 7
		isPeak := 0.0
		if peakHours[hour] {
			isPeak = 1
		}
		angle := 2 * math.Pi * float64(hour) / 24
		v = append(v, float64(hour), float64(weekday), isPeak, math.Sin(angle), math.Cos(angle))

		rows[i] = FeatureRow{SeriesID: seriesID, TS: p.TS, Values: v}
	}
	return rows
}

// rollingMean averages the window ending at i, or returns d[i] when fewer
// than minPoints values are available.
func rollingMean(d []float64, i, window, minPoints int) float64 {
	start := i - window + 1
	if start < 0 {
		start = 0
	}
	n := i - start + 1
	if n < minPoints {
		return d[i]
	}
	var sum float64
	for _, x := range d[start : i+1] {
		sum += x
	}
	return sum / float64(n)
}

// Targets returns the density HorizonSteps ahead of each point; the last
// HorizonSteps points have no target and ok is false for them.
func Targets(points []Point) (y []float64, ok []bool) {
	y = make([]float64, len(points))
	ok = make([]bool, len(points))
	for i := range points {
		if i+HorizonSteps < len(points) {
			y[i] = points[i+HorizonSteps].Density
			ok[i] = true
		}
	}
	return y, ok
}
