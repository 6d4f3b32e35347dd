package forecast

import (
	"sort"
	"time"

	"cityflow/models"

	"gonum.org/v1/gonum/floats"
)

// SlotDuration is the resolution every series is resampled to.
const SlotDuration = 15 * time.Minute

// Point is one slot of a series. Count is the raw vehicle count (0 when the
// series was not built from counts).
type Point struct {
	TS      time.Time
	Count   float64
	Density float64
}

// Series is a gap-free, slot-aligned density series for one segment or signal.
type Series struct {
	ID        string
	SignalID  string
	SegmentID string
	Points    []Point
}

// Densities returns the density column.
func (s Series) Densities() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Density
	}
	return out
}

// BuildSeries groups raw counts by series, sums them into 15 minute slots,
// forward-fills missing slots and normalises each series by its own maximum.
// Series are returned ordered by id.
func BuildSeries(counts []models.TrafficCount) []Series {
	type acc struct {
		signalID  string
		segmentID string
		slots     map[time.Time]float64
	}
	groups := make(map[string]*acc)
	for _, c := range counts {
		id := c.SeriesID()
		if id == "" {
			continue
		}
		g, ok := groups[id]
		if !ok {
			g = &acc{signalID: c.SignalID, segmentID: c.SegmentID, slots: make(map[time.Time]float64)}
			groups[id] = g
		}
		g.slots[c.TS.UTC().Truncate(SlotDuration)] += c.VehicleCount
	}

	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Series, 0, len(ids))
	for _, id := range ids {
		g := groups[id]
		points := fillGrid(g.slots)
		normalize(points)
		out = append(out, Series{ID: id, SignalID: g.signalID, SegmentID: g.segmentID, Points: points})
	}
	return out
}

func fillGrid(slots map[time.Time]float64) []Point {
	if len(slots) == 0 {
		return nil
	}
	keys := make([]time.Time, 0, len(slots))
	for ts := range slots {
		keys = append(keys, ts)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	first, last := keys[0], keys[len(keys)-1]
	n := int(last.Sub(first)/SlotDuration) + 1
	points := make([]Point, 0, n)
	var prev float64
	for ts := first; !ts.After(last); ts = ts.Add(SlotDuration) {
		v, ok := slots[ts]
		if !ok {
			v = prev
		}
		points = append(points, Point{TS: ts, Count: v})
		prev = v
	}
	return points
}

func normalize(points []Point) {
	if len(points) == 0 {
		return
	}
	counts := make([]float64, len(points))
	for i, p := range points {
		counts[i] = p.Count
	}
	peak := floats.Max(counts)
	for i := range points {
		if peak <= 0 {
			points[i].Density = 0
			continue
		}
		points[i].Density = clamp01(points[i].Count / peak)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
