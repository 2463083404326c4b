package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/pmv-rental/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) SaveJourney(ctx context.Context, j models.JourneyRecord) error {
	if j.EndStation == nil || j.EndPoint == nil || j.EndTime == nil {
		return fmt.Errorf("%w: journey %s is not finished", models.ErrValidation, j.ServiceID)
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO journeys(service_id, user_id, vehicle_id, origin_station, origin_lat, origin_lon, start_time,
		end_station, end_lat, end_lon, end_time, duration_min, distance_km, avg_speed_kmh, amount_cents)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (service_id) DO NOTHING`,
		j.ServiceID, j.UserID, j.VehicleID, j.OriginStation.ID(), j.OriginPoint.Lat(), j.OriginPoint.Lon(), j.StartTime,
		j.EndStation.ID(), j.EndPoint.Lat(), j.EndPoint.Lon(), *j.EndTime, j.DurationMinutes, j.Distance, j.AvgSpeed, j.Amount)
	return err
}

func (p *PostgresStore) ListJourneys(ctx context.Context, userID string) ([]models.JourneyRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT service_id, user_id, vehicle_id, origin_station, origin_lat, origin_lon, start_time,
		end_station, end_lat, end_lon, end_time, duration_min, distance_km, avg_speed_kmh, amount_cents
		FROM journeys WHERE user_id = $1 ORDER BY start_time`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.JourneyRecord
	for rows.Next() {
		var (
			j                      models.JourneyRecord
			originID, endID        int
			oLat, oLon, eLat, eLon float64
			endTime                time.Time
		)
		if err := rows.Scan(&j.ServiceID, &j.UserID, &j.VehicleID, &originID, &oLat, &oLon, &j.StartTime,
			&endID, &eLat, &eLon, &endTime, &j.DurationMinutes, &j.Distance, &j.AvgSpeed, &j.Amount); err != nil {
			return nil, err
		}
		origin, err := stationAt(originID, oLat, oLon)
		if err != nil {
			return nil, err
		}
		end, err := stationAt(endID, eLat, eLon)
		if err != nil {
			return nil, err
		}
		j.OriginStation = origin
		j.OriginPoint = origin.Location()
		j.OnFinish(end, end.Location(), endTime, j.AvgSpeed, j.Distance, j.DurationMinutes, j.Amount)
		out = append(out, j)
	}
	return out, rows.Err()
}

func stationAt(id int, lat, lon float64) (models.StationID, error) {
	p, err := models.NewGeographicPoint(lat, lon)
	if err != nil {
		return models.StationID{}, err
	}
	return models.NewStationID(id, p)
}
