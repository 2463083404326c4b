package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/pmv-rental/internal/models"
)

// RedisIndex implements Index using Redis GEO commands plus a metadata hash
// per vehicle.
type RedisIndex struct {
	client *redis.Client
	key    string
	radius float64
}

func NewRedisIndex(client *redis.Client, key string, radiusMeters float64) *RedisIndex {
	if radiusMeters <= 0 {
		radiusMeters = 5000
	}
	return &RedisIndex{client: client, key: key, radius: radiusMeters}
}

func (r *RedisIndex) Upsert(ctx context.Context, loc models.VehicleLocation) error {
	member := MemberName(loc.VehicleID)
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: loc.Loc.Lon, Latitude: loc.Loc.Lat, Name: member}).Err(); err != nil {
		return fmt.Errorf("geoadd %s: %w", member, err)
	}
	updated := loc.Updated
	if updated.IsZero() {
		updated = time.Now()
	}
	return r.client.HSet(ctx, MetaKey(loc.VehicleID), MetaFields(loc.StationID, loc.Available, updated)).Err()
}

func (r *RedisIndex) Nearby(ctx context.Context, lat, lon float64, limit int) ([]models.VehicleLocation, error) {
	res, err := r.client.GeoRadius(ctx, r.key, lon, lat, &redis.GeoRadiusQuery{Radius: r.radius, Unit: "m", WithCoord: true, WithDist: true, Sort: "ASC"}).Result()
	if err != nil {
		return nil, err
	}
	// Count is not pushed to Redis: busy vehicles are filtered after the
	// radius query and must not use up the limit.
	return availableWithin(res, limit, func(id int) (map[string]string, error) {
		return r.client.HGetAll(ctx, MetaKey(id)).Result()
	})
}

// availableWithin walks radius results nearest first and keeps up to limit
// vehicles whose metadata marks them available.
func availableWithin(res []redis.GeoLocation, limit int, meta func(id int) (map[string]string, error)) ([]models.VehicleLocation, error) {
	out := make([]models.VehicleLocation, 0, len(res))
	for _, g := range res {
		if limit > 0 && len(out) == limit {
			break
		}
		id, err := strconv.Atoi(g.Name)
		if err != nil {
			continue
		}
		m, err := meta(id)
		if err != nil {
			return nil, err
		}
		if m["available"] != "true" {
			continue
		}
		v := models.VehicleLocation{VehicleID: id, Loc: models.Coord{Lat: g.Latitude, Lon: g.Longitude}, Available: true}
		if s, err := strconv.Atoi(m["station_id"]); err == nil {
			v.StationID = s
		}
		if ts, err := time.Parse(time.RFC3339, m["updated"]); err == nil {
			v.Updated = ts
		}
		out = append(out, v)
	}
	return out, nil
}

func MemberName(vehicleID int) string { return strconv.Itoa(vehicleID) }

func MetaKey(vehicleID int) string { return "vehicle:meta:" + strconv.Itoa(vehicleID) }

func MetaFields(stationID int, available bool, updated time.Time) map[string]interface{} {
	return map[string]interface{}{
		"station_id": strconv.Itoa(stationID),
		"available":  strconv.FormatBool(available),
		"updated":    updated.UTC().Format(time.RFC3339),
	}
}
