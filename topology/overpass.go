package topology

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/serjvanilla/go-overpass"
)

// OSMPrefix prefixes segment ids derived from OpenStreetMap way ids.
const OSMPrefix = "OSM-"

const defaultHighways = "motorway|trunk|primary|secondary|tertiary"

// OverpassSource derives adjacency from OpenStreetMap: every highway way is a
// segment and ways that share a node are neighbors.
type OverpassSource struct {
	client   *overpass.Client
	bbox     string
	highways string
}

// NewOverpassSource queries endpoint for ways inside bbox
// ("south,west,north,east").
func NewOverpassSource(endpoint, bbox string, timeout time.Duration) *OverpassSource {
	httpClient := &http.Client{
		Timeout: timeout,
	}
	client := overpass.NewWithSettings(endpoint, 2, httpClient)
	return &OverpassSource{
		client:   &client,
		bbox:     bbox,
		highways: defaultHighways,
	}
}

func (s *OverpassSource) Name() string { return "overpass" }

func (s *OverpassSource) Adjacency(ctx context.Context) (map[string][]string, error) {
	query := fmt.Sprintf(`
		[out:json];
		(
			way["highway"~"%s"](%s);
		);
		out body;
		>;
		out skel qt;
	`, s.highways, s.bbox)

	type answer struct {
		res overpass.Result
		err error
	}
	done := make(chan answer, 1)
	go func() {
		res, err := s.client.Query(query)
		done <- answer{res, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case a := <-done:
		if a.err != nil {
			return nil, fmt.Errorf("overpass query failed: %w", a.err)
		}
		wayNodes := make(map[int64][]int64, len(a.res.Ways))
		for _, way := range a.res.Ways {
			ids := make([]int64, 0, len(way.Nodes))
			for _, n := range way.Nodes {
				if n != nil {
					ids = append(ids, n.ID)
				}
			}
			wayNodes[way.ID] = ids
		}
		return adjacencyFromWays(wayNodes), nil
	}
}

// adjacencyFromWays links ways that share at least one node.
func adjacencyFromWays(wayNodes map[int64][]int64) map[string][]string {
	byNode := make(map[int64][]int64)
	for way, nodes := range wayNodes {
		for _, n := range nodes {
			byNode[n] = append(byNode[n], way)
		}
	}

	adj := make(map[string][]string, len(wayNodes))
	for way := range wayNodes {
		adj[WayID(way)] = nil
	}
	for _, ways := range byNode {
		for _, a := range ways {
			for _, b := range ways {
				if a != b {
					adj[WayID(a)] = append(adj[WayID(a)], WayID(b))
				}
			}
		}
	}
	return adj
}

func WayID(id int64) string {
	return OSMPrefix + strconv.FormatInt(id, 10)
}
