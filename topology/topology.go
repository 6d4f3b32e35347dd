// Package topology loads the road network that backs the segment graph and
// keeps the live graph fresh.
package topology

import (
	"context"
	"fmt"
	"log"
	"time"

	"cityflow/segment"
)

// Source produces an adjacency list keyed by segment id. Lists need not be
// symmetric.
type Source interface {
	Name() string
	Adjacency(ctx context.Context) (map[string][]string, error)
}

// FallbackName is reported when no source produced a usable topology.
const FallbackName = "linear"

// Build tries each source in order and returns the first graph that covers
// the known segments well enough. Known segments missing from a source graph
// are added without neighbors. When every source fails or is too sparse the
// known ids are linked into a linear chain.
func Build(ctx context.Context, known []string, sources ...Source) (*segment.Graph, string) {
	for _, src := range sources {
		adj, err := src.Adjacency(ctx)
		if err != nil {
			log.Printf("topology source=%s failed: %v", src.Name(), err)
			continue
		}
		merged := make(map[string][]string, len(adj)+len(known))
		for id, n := range adj {
			merged[id] = n
		}
		for _, id := range known {
			if _, ok := merged[id]; !ok {
				merged[id] = nil
			}
		}
		g := segment.New(merged)
		if sparse(g, known) {
			log.Printf("topology source=%s too sparse: segments=%d edges=%d known=%d",
				src.Name(), g.Len(), g.EdgeCount(), len(known))
			continue
		}
		return g, src.Name()
	}
	return segment.LinearChain(known), FallbackName
}

// sparse reports whether fewer than half of the known segments have a
// neighbor, or the graph has no edges at all.
func sparse(g *segment.Graph, known []string) bool {
	if g.EdgeCount() == 0 {
		return true
	}
	if len(known) == 0 {
		return false
	}
	linked := 0
	for _, id := range known {
		if len(g.Neighbors(id)) > 0 {
			linked++
		}
	}
	return linked*2 < len(known)
}

// KnownSegments lists the segment ids the engine has data for.
type KnownSegments func(ctx context.Context) ([]string, error)

// Union merges several segment listings, dropping duplicates. Order follows
// first appearance.
func Union(lists ...KnownSegments) KnownSegments {
	return func(ctx context.Context) ([]string, error) {
		seen := make(map[string]bool)
		var out []string
		for _, list := range lists {
			ids, err := list(ctx)
			if err != nil {
				return nil, err
			}
			for _, id := range ids {
				if !seen[id] {
					seen[id] = true
					out = append(out, id)
				}
			}
		}
		return out, nil
	}
}

// Refresher periodically rebuilds the graph and swaps it into a Holder.
type Refresher struct {
	holder   *segment.Holder
	known    KnownSegments
	sources  []Source
	interval time.Duration
}

func NewRefresher(holder *segment.Holder, known KnownSegments, interval time.Duration, sources ...Source) *Refresher {
	return &Refresher{holder: holder, known: known, sources: sources, interval: interval}
}

// Refresh rebuilds the graph once.
func (r *Refresher) Refresh(ctx context.Context) error {
	ids, err := r.known(ctx)
	if err != nil {
		return fmt.Errorf("list known segments: %w", err)
	}
	g, name := Build(ctx, ids, r.sources...)
	r.holder.Swap(g)
	log.Printf("topology refreshed: source=%s segments=%d edges=%d", name, g.Len(), g.EdgeCount())
	return nil
}

// Run refreshes immediately and then on every tick until ctx is done.
func (r *Refresher) Run(ctx context.Context) {
	if err := r.Refresh(ctx); err != nil {
		log.Printf("topology refresh failed: %v", err)
	}
	if r.interval <= 0 {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				log.Printf("topology refresh failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// StaticSource serves a fixed adjacency list.
type StaticSource struct {
	Label string
	Adj   map[string][]string
}

func (s StaticSource) Name() string { return s.Label }

func (s StaticSource) Adjacency(context.Context) (map[string][]string, error) {
	return s.Adj, nil
}
