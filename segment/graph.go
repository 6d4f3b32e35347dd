// Package segment holds the road-segment adjacency graph used for impact
// propagation. A Graph is immutable once built; topology changes produce a new
// Graph that is swapped in through a Holder.
package segment

import (
	"sort"
	"strconv"
	"sync/atomic"
)

// Unreachable is returned by HopDistance when b is not found within
// MaxSearchHops of a.
const (
	Unreachable   = 10
	MaxSearchHops = 10
)

// Graph is an undirected adjacency structure keyed by segment id.
type Graph struct {
	adj map[string][]string
	ids []string
}

// New builds a graph from an adjacency list. Every edge is made symmetric,
// self loops and duplicate edges are dropped, and neighbor lists are sorted so
// traversal order is deterministic.
func New(adjacency map[string][]string) *Graph {
	sets := make(map[string]map[string]struct{}, len(adjacency))
	ensure := func(id string) map[string]struct{} {
		s, ok := sets[id]
		if !ok {
			s = make(map[string]struct{})
			sets[id] = s
		}
		return s
	}

	for id, neighbors := range adjacency {
		if id == "" {
			continue
		}
		ensure(id)
		for _, n := range neighbors {
			if n == "" || n == id {
				continue
			}
			ensure(id)[n] = struct{}{}
			ensure(n)[id] = struct{}{}
		}
	}

	g := &Graph{adj: make(map[string][]string, len(sets))}
	for id, s := range sets {
		list := make([]string, 0, len(s))
		for n := range s {
			list = append(list, n)
		}
		sort.Slice(list, func(i, j int) bool { return Less(list[i], list[j]) })
		g.adj[id] = list
		g.ids = append(g.ids, id)
	}
	sort.Slice(g.ids, func(i, j int) bool { return Less(g.ids[i], g.ids[j]) })
	return g
}

// LinearChain links each id to its neighbors in numeric-aware order. It is the
// fallback topology when no road network is available.
func LinearChain(ids []string) *Graph {
	sorted := dedupe(ids)
	sort.Slice(sorted, func(i, j int) bool { return Less(sorted[i], sorted[j]) })

	adjacency := make(map[string][]string, len(sorted))
	for i, id := range sorted {
		var neighbors []string
		if i > 0 {
			neighbors = append(neighbors, sorted[i-1])
		}
		if i < len(sorted)-1 {
			neighbors = append(neighbors, sorted[i+1])
		}
		adjacency[id] = neighbors
	}
	return New(adjacency)
}

// Len returns the number of segments.
func (g *Graph) Len() int { return len(g.ids) }

// EdgeCount returns the number of undirected edges.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, neighbors := range g.adj {
		n += len(neighbors)
	}
	return n / 2
}

// Has reports whether id is a known segment.
func (g *Graph) Has(id string) bool {
	_, ok := g.adj[id]
	return ok
}

// Segments returns all segment ids in numeric-aware order.
func (g *Graph) Segments() []string {
	return append([]string(nil), g.ids...)
}

// Neighbors returns a copy of the segments directly adjacent to id.
func (g *Graph) Neighbors(id string) []string {
	return append([]string(nil), g.adj[id]...)
}

// HopsWithin runs a breadth-first search from id and returns the hop distance
// of every segment reachable within maxHops. The origin is always included at
// distance 0, even when it is not part of the graph.
func (g *Graph) HopsWithin(id string, maxHops int) map[string]int {
	hops := map[string]int{id: 0}
	if maxHops <= 0 {
		return hops
	}

	frontier := []string{id}
	for depth := 1; depth <= maxHops && len(frontier) > 0; depth++ {
		var next []string
		for _, cur := range frontier {
			for _, n := range g.adj[cur] {
				if _, seen := hops[n]; seen {
					continue
				}
				hops[n] = depth
				next = append(next, n)
			}
		}
		frontier = next
	}
	return hops
}

// BFSWithin returns the segments within maxHops of id, ordered by hop count and
// then by id.
func (g *Graph) BFSWithin(id string, maxHops int) []string {
	return SortByHops(g.HopsWithin(id, maxHops))
}

// HopDistance returns the number of edges between a and b, or Unreachable when
// b is not found within MaxSearchHops.
func (g *Graph) HopDistance(a, b string) int {
	if a == b {
		return 0
	}
	if d, ok := g.HopsWithin(a, MaxSearchHops)[b]; ok {
		return d
	}
	return Unreachable
}

// SortByHops flattens a hop map into ids ordered by distance, then id.
func SortByHops(hops map[string]int) []string {
	out := make([]string, 0, len(hops))
	for id := range hops {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		if hops[out[i]] != hops[out[j]] {
			return hops[out[i]] < hops[out[j]]
		}
		return Less(out[i], out[j])
	})
	return out
}

// Less orders segment ids so that a shared prefix with a numeric suffix sorts
// by number: "S2" < "S10", "NSB_009" < "NSB_010".
func Less(a, b string) bool {
	pa, na, okA := splitNumericSuffix(a)
	pb, nb, okB := splitNumericSuffix(b)
	if okA && okB && pa == pb && na != nb {
		return na < nb
	}
	return a < b
}

func splitNumericSuffix(s string) (string, int, bool) {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	if i == len(s) {
		return s, 0, false
	}
	n, err := strconv.Atoi(s[i:])
	if err != nil {
		return s, 0, false
	}
	return s[:i], n, true
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Holder publishes the current Graph to concurrent readers. Readers Load a
// graph once per request and keep using it even if a rebuild swaps in another.
type Holder struct {
	g atomic.Pointer[Graph]
}

func NewHolder(g *Graph) *Holder {
	h := &Holder{}
	if g == nil {
		g = New(nil)
	}
	h.g.Store(g)
	return h
}

func (h *Holder) Load() *Graph { return h.g.Load() }

// Swap installs g and returns the previous graph.
func (h *Holder) Swap(g *Graph) *Graph {
	if g == nil {
		g = New(nil)
	}
	return h.g.Swap(g)
}
