// Package complaints builds the 24h complaint aggregates that feed the risk
// score. Complaint intake itself belongs to another service; this package
// only reads its table and matches reports to road segments by location.
package complaints

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"cityflow/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Window is the look-back of every aggregate.
const Window = 24 * time.Hour

// DefaultMatchRadius is how far, in meters, a complaint may sit from a
// segment's point and still count against it.
const DefaultMatchRadius = 200.0

// defaultUrgency stands in for complaints the intake never scored.
const defaultUrgency = 0.5

type Provider interface {
	// Stats returns aggregates keyed by segment id. Segments without
	// complaints are absent.
	Stats(ctx context.Context, now time.Time) (map[string]models.ComplaintStats, error)
}

// Locator lists the segment points complaints are matched against.
type Locator interface {
	RoadLocations(ctx context.Context) ([]models.SegmentLocation, error)
}

// Complaint is a geolocated report as stored by the intake service.
type Complaint struct {
	Lat     float64 `db:"latitude"`
	Lng     float64 `db:"longitude"`
	Urgency float64 `db:"urgency_score"`
}

// PostgresProvider reads raw complaints from the intake service's table
// and attaches each one to the nearest road segment.
type PostgresProvider struct {
	db     *sqlx.DB
	roads  Locator
	radius float64
}

func NewPostgresProvider(dsn string, roads Locator, radius float64) (*PostgresProvider, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect complaints db: %w", err)
	}
	return NewPostgresProviderFromDB(db, roads, radius), nil
}

func NewPostgresProviderFromDB(db *sqlx.DB, roads Locator, radius float64) *PostgresProvider {
	if radius <= 0 {
		radius = DefaultMatchRadius
	}
	return &PostgresProvider{db: db, roads: roads, radius: radius}
}

func (p *PostgresProvider) Stats(ctx context.Context, now time.Time) (map[string]models.ComplaintStats, error) {
	const query = `
		SELECT
			latitude,
			longitude,
			COALESCE(urgency_score, $3) AS urgency_score
		FROM complaints
		WHERE latitude IS NOT NULL
		AND longitude IS NOT NULL
		AND created_at >= $1
		AND created_at <= $2`

	var rows []Complaint
	if err := p.db.SelectContext(ctx, &rows, query, now.Add(-Window), now, defaultUrgency); err != nil {
		return nil, fmt.Errorf("failed to query complaints: %w", err)
	}
	if len(rows) == 0 {
		return map[string]models.ComplaintStats{}, nil
	}

	locs, err := p.roads.RoadLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load road locations: %w", err)
	}
	return Match(rows, locs, p.radius), nil
}

func (p *PostgresProvider) Close() error {
	return p.db.Close()
}

// Match attaches every complaint to the closest segment no farther than
// radius meters and aggregates count, mean and max urgency per segment.
// Complaints out of range of every segment are dropped.
func Match(cs []Complaint, locs []models.SegmentLocation, radius float64) map[string]models.ComplaintStats {
	type acc struct {
		n        int
		sum, max float64
	}
	byID := make(map[string]*acc)
	for _, c := range cs {
		best, bestDist := "", math.Inf(1)
		for _, l := range locs {
			if d := distanceMeters(c.Lat, c.Lng, l.Lat, l.Lng); d < bestDist {
				best, bestDist = l.SegmentID, d
			}
		}
		if best == "" || bestDist > radius {
			continue
		}
		u := min(max(c.Urgency, 0), 1)
		a, ok := byID[best]
		if !ok {
			a = &acc{}
			byID[best] = a
		}
		a.n++
		a.sum += u
		a.max = max(a.max, u)
	}

	out := make(map[string]models.ComplaintStats, len(byID))
	for id, a := range byID {
		out[id] = models.ComplaintStats{
			SegmentID:  id,
			Count24h:   a.n,
			AvgUrgency: a.sum / float64(a.n),
			MaxUrgency: a.max,
		}
	}
	return out
}

// distanceMeters is the haversine great-circle distance.
func distanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadius = 6371000
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadius * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// StaticProvider serves fixed aggregates. It is used when no complaints
// database is configured, and in tests.
type StaticProvider struct {
	mu    sync.RWMutex
	stats map[string]models.ComplaintStats
}

func NewStaticProvider(stats ...models.ComplaintStats) *StaticProvider {
	p := &StaticProvider{stats: make(map[string]models.ComplaintStats)}
	for _, s := range stats {
		p.stats[s.SegmentID] = s
	}
	return p
}

func (p *StaticProvider) Set(s models.ComplaintStats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats[s.SegmentID] = s
}

func (p *StaticProvider) Stats(_ context.Context, _ time.Time) (map[string]models.ComplaintStats, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]models.ComplaintStats, len(p.stats))
	for k, v := range p.stats {
		out[k] = v
	}
	return out, nil
}
