package forecast

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var ErrInsufficientData = errors.New("not enough rows to train")

// Params controls gradient boosting. The objective is absolute error: trees
// are fitted to the sign of the residual and leaves hold the residual median.
type Params struct {
	NumTrees            int     `json:"num_trees"`
	LearningRate        float64 `json:"learning_rate"`
	MaxDepth            int     `json:"max_depth"`
	MinLeaf             int     `json:"min_leaf"`
	MaxBins             int     `json:"max_bins"`
	EarlyStoppingRounds int     `json:"early_stopping_rounds"`
	TrainSplit          float64 `json:"train_split"`
}

func DefaultParams() Params {
	return Params{
		NumTrees:            300,
		LearningRate:        0.05,
		MaxDepth:            5,
		MinLeaf:             20,
		MaxBins:             64,
		EarlyStoppingRounds: 30,
		TrainSplit:          0.8,
	}
}

func (p Params) validate() error {
	switch {
	case p.NumTrees < 1:
		return fmt.Errorf("num_trees must be positive, got %d", p.NumTrees)
	case p.LearningRate <= 0 || p.LearningRate > 1:
		return fmt.Errorf("learning_rate must be in (0,1], got %v", p.LearningRate)
	case p.MaxDepth < 1:
		return fmt.Errorf("max_depth must be positive, got %d", p.MaxDepth)
	case p.MinLeaf < 1:
		return fmt.Errorf("min_leaf must be positive, got %d", p.MinLeaf)
	case p.MaxBins < 2 || p.MaxBins > math.MaxUint16:
		return fmt.Errorf("max_bins out of range: %d", p.MaxBins)
	case p.TrainSplit <= 0 || p.TrainSplit > 1:
		return fmt.Errorf("train_split must be in (0,1], got %v", p.TrainSplit)
	}
	return nil
}

// categorical marks a node that splits on the series id.
const categorical = -1

// Node is a tree node. Leaves carry Value; inner nodes send a row left when
// its feature is <= Threshold, or for categorical nodes when its series is
// Category.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Category  int     `json:"c,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Leaf      bool    `json:"leaf,omitempty"`
	Value     float64 `json:"v,omitempty"`
}

type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t Tree) eval(x []float64, cat int) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		var left bool
		if n.Feature == categorical {
			left = cat == n.Category
		} else {
			left = x[n.Feature] <= n.Threshold
		}
		if left {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Report summarises a training run.
type Report struct {
	Series      int       `json:"series"`
	TrainRows   int       `json:"train_rows"`
	ValidRows   int       `json:"valid_rows"`
	Trees       int       `json:"trees"`
	TrainMAE    float64   `json:"train_mae"`
	ValidMAE    float64   `json:"valid_mae"`
	BaselineMAE float64   `json:"baseline_mae"`
	TrainedAt   time.Time `json:"trained_at"`
}

type dataset struct {
	x   [][]float64
	cat []int
	y   []float64
}

func (d *dataset) add(row FeatureRow, cat int, y float64) {
	d.x = append(d.x, row.Values)
	d.cat = append(d.cat, cat)
	d.y = append(d.y, y)
}

// Train fits one model over every series. Each series is split in time order:
// the first TrainSplit share of its rows trains, the rest validates and
// drives early stopping.
func Train(series []Series, p Params, loc *time.Location) (*Model, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	m := &Model{
		Version:      ArtifactVersion,
		Features:     append([]string(nil), FeatureNames...),
		LearningRate: p.LearningRate,
		Params:       p,
	}
	for _, s := range series {
		m.Categories = append(m.Categories, s.ID)
	}
	m.prepare()

	var train, valid dataset
	for _, s := range series {
		rows := BuildFeatures(s.ID, s.Points, loc)
		y, ok := Targets(s.Points)
		var usable []int
		for i := range rows {
			if ok[i] {
				usable = append(usable, i)
			}
		}
		nTrain := int(math.Round(float64(len(usable)) * p.TrainSplit))
		cat := m.category(s.ID)
		for k, i := range usable {
			if k < nTrain {
				train.add(rows[i], cat, y[i])
			} else {
				valid.add(rows[i], cat, y[i])
			}
		}
	}
	if len(train.y) == 0 {
		return nil, ErrInsufficientData
	}

	m.Init = median(train.y)

	b := newBuilder(train, len(FeatureNames), len(m.Categories), p)
	trainPred := filled(len(train.y), m.Init)
	validPred := filled(len(valid.y), m.Init)

	score := func() float64 {
		if len(valid.y) > 0 {
			return mae(valid.y, validPred)
		}
		return mae(train.y, trainPred)
	}

	best := score()
	bestTrees := 0
	var trees []Tree
	for iter := 0; iter < p.NumTrees; iter++ {
		for i := range train.y {
			r := train.y[i] - trainPred[i]
			b.resid[i] = r
			b.grad[i] = sign(r)
		}
		tree := b.fit()
		trees = append(trees, tree)

		for i := range train.y {
			trainPred[i] += p.LearningRate * tree.eval(train.x[i], train.cat[i])
		}
		for i := range valid.y {
			validPred[i] += p.LearningRate * tree.eval(valid.x[i], valid.cat[i])
		}

		if s := score(); s < best-1e-9 {
			best = s
			bestTrees = len(trees)
		} else if p.EarlyStoppingRounds > 0 && len(trees)-bestTrees >= p.EarlyStoppingRounds {
			log.Printf("forecast training early stop at tree=%d best=%d mae=%.4f", len(trees), bestTrees, best)
			break
		}
	}
	m.Trees = trees[:bestTrees]

	m.Report = Report{
		Series:    len(series),
		TrainRows: len(train.y),
		ValidRows: len(valid.y),
		Trees:     len(m.Trees),
		TrainedAt: time.Now().UTC(),
	}
	m.Report.TrainMAE = mae(train.y, m.raw(train))
	if len(valid.y) > 0 {
		m.Report.ValidMAE = mae(valid.y, m.raw(valid))
		m.Report.BaselineMAE = mae(valid.y, column(valid.x, 0))
	}
	return m, nil
}

type builder struct {
	p     Params
	nCat  int
	cuts  [][]float64
	bins  [][]uint16
	cat   []int
	grad  []float64
	resid []float64
	nodes []Node
}

func newBuilder(d dataset, nFeatures, nCat int, p Params) *builder {
	b := &builder{
		p:     p,
		nCat:  nCat,
		cuts:  make([][]float64, nFeatures),
		bins:  make([][]uint16, len(d.y)),
		cat:   d.cat,
		grad:  make([]float64, len(d.y)),
		resid: make([]float64, len(d.y)),
	}
	for f := 0; f < nFeatures; f++ {
		b.cuts[f] = quantileCuts(column(d.x, f), p.MaxBins)
	}
	for i, x := range d.x {
		row := make([]uint16, nFeatures)
		for f := range row {
			row[f] = uint16(sort.SearchFloat64s(b.cuts[f], x[f]))
		}
		b.bins[i] = row
	}
	return b
}

func (b *builder) fit() Tree {
	idx := make([]int, len(b.grad))
	for i := range idx {
		idx[i] = i
	}
	b.nodes = nil
	b.grow(idx, 0)
	return Tree{Nodes: b.nodes}
}

func (b *builder) grow(idx []int, depth int) int {
	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{})

	if depth < b.p.MaxDepth && len(idx) >= 2*b.p.MinLeaf {
		if s, ok := b.bestSplit(idx); ok {
			var left, right []int
			for _, i := range idx {
				if b.goesLeft(s, i) {
					left = append(left, i)
				} else {
					right = append(right, i)
				}
			}
			node := Node{Feature: s.feature}
			if s.feature == categorical {
				node.Category = s.category
			} else {
				node.Threshold = b.cuts[s.feature][s.bin]
			}
			b.nodes[id] = node
			l := b.grow(left, depth+1)
			r := b.grow(right, depth+1)
			b.nodes[id].Left = l
			b.nodes[id].Right = r
			return id
		}
	}

	vals := make([]float64, len(idx))
	for k, i := range idx {
		vals[k] = b.resid[i]
	}
	b.nodes[id] = Node{Leaf: true, Value: median(vals)}
	return id
}

type split struct {
	feature  int
	bin      int
	category int
	gain     float64
}

func (b *builder) goesLeft(s split, i int) bool {
	if s.feature == categorical {
		return b.cat[i] == s.category
	}
	return int(b.bins[i][s.feature]) <= s.bin
}

// bestSplit picks the split with the largest reduction in squared error of
// the gradients, honouring MinLeaf on both sides.
func (b *builder) bestSplit(idx []int) (split, bool) {
	var total float64
	for _, i := range idx {
		total += b.grad[i]
	}
	n := float64(len(idx))
	parent := total * total / n
	minLeaf := b.p.MinLeaf

	best := split{gain: 1e-12}
	found := false
	consider := func(s split, sumL float64, nL int) {
		nR := len(idx) - nL
		if nL < minLeaf || nR < minLeaf {
			return
		}
		sumR := total - sumL
		gain := sumL*sumL/float64(nL) + sumR*sumR/float64(nR) - parent
		if gain > best.gain {
			s.gain = gain
			best = s
			found = true
		}
	}

	for f, cuts := range b.cuts {
		if len(cuts) == 0 {
			continue
		}
		sums := make([]float64, len(cuts)+1)
		counts := make([]int, len(cuts)+1)
		for _, i := range idx {
			bin := b.bins[i][f]
			sums[bin] += b.grad[i]
			counts[bin]++
		}
		var sumL float64
		var nL int
		for k := 0; k < len(cuts); k++ {
			sumL += sums[k]
			nL += counts[k]
			consider(split{feature: f, bin: k}, sumL, nL)
		}
	}

	if b.nCat > 1 {
		sums := make([]float64, b.nCat)
		counts := make([]int, b.nCat)
		for _, i := range idx {
			if c := b.cat[i]; c >= 0 {
				sums[c] += b.grad[i]
				counts[c]++
			}
		}
		for c := range sums {
			consider(split{feature: categorical, category: c}, sums[c], counts[c])
		}
	}
	return best, found
}

// quantileCuts returns up to maxBins-1 distinct cut points of x.
func quantileCuts(x []float64, maxBins int) []float64 {
	if len(x) == 0 {
		return nil
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)

	var cuts []float64
	for k := 1; k < maxBins; k++ {
		q := stat.Quantile(float64(k)/float64(maxBins), stat.Empirical, sorted, nil)
		if q >= sorted[len(sorted)-1] {
			break
		}
		if len(cuts) == 0 || q > cuts[len(cuts)-1] {
			cuts = append(cuts, q)
		}
	}
	return cuts
}

func median(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

func mae(y, pred []float64) float64 {
	if len(y) == 0 {
		return 0
	}
	return floats.Distance(y, pred, 1) / float64(len(y))
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func filled(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func column(x [][]float64, f int) []float64 {
	out := make([]float64, len(x))
	for i, row := range x {
		out[i] = row[f]
	}
	return out
}
