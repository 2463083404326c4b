package geo

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/example/pmv-rental/internal/models"
)

// Index is the minimal interface the registry and handlers need to locate
// vehicles.
type Index interface {
	Upsert(ctx context.Context, loc models.VehicleLocation) error
	Nearby(ctx context.Context, lat, lon float64, limit int) ([]models.VehicleLocation, error)
}

type MemoryIndex struct {
	mu       sync.RWMutex
	vehicles map[int]models.VehicleLocation
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{vehicles: make(map[int]models.VehicleLocation)}
}

func (g *MemoryIndex) Upsert(_ context.Context, loc models.VehicleLocation) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if loc.Updated.IsZero() {
		loc.Updated = time.Now()
	}
	// writes are published outside the registry lock and may race
	if cur, ok := g.vehicles[loc.VehicleID]; ok && loc.Updated.Before(cur.Updated) {
		return nil
	}
	g.vehicles[loc.VehicleID] = loc
	return nil
}

// Nearby returns available vehicles ordered by distance. Naive scan; the
// Redis index is the one to use for a large fleet.
func (g *MemoryIndex) Nearby(_ context.Context, lat, lon float64, limit int) ([]models.VehicleLocation, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		v    models.VehicleLocation
		dist float64
	}
	arr := make([]pair, 0, len(g.vehicles))
	for _, v := range g.vehicles {
		if !v.Available {
			continue
		}
		arr = append(arr, pair{v, Haversine(lat, lon, v.Loc.Lat, v.Loc.Lon)})
	}
	// partial selection sort for top-N
	n := limit
	if n > len(arr) || n <= 0 {
		n = len(arr)
	}
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist ||
				(arr[j].dist == arr[minIdx].dist && arr[j].v.VehicleID < arr[minIdx].v.VehicleID) {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]models.VehicleLocation, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].v)
	}
	return out, nil
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// DistanceKm is the great-circle distance between two points in kilometres.
func DistanceKm(a, b models.GeographicPoint) float64 {
	return Haversine(a.Lat(), a.Lon(), b.Lat(), b.Lon()) / 1000
}
