package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"trip-tracker/internal/track"
)

var ErrTripNotFound = errors.New("trip not found")

// Trip is a stored trip header.
type Trip struct {
	ID         string
	Source     string
	Name       string
	StartedAt  time.Time
	EndedAt    time.Time // zero while the trip is still being recorded
	PointCount int

	DistanceMeters float64
	MaxSpeedMps    float64
}

func (t Trip) Finished() bool { return !t.EndedAt.IsZero() }

// TripStats are the summary figures written when a trip finishes.
type TripStats struct {
	DistanceMeters float64
	MaxSpeedMps    float64
}

// TripStore persists recorded trips and their points.
type TripStore struct {
	db *DB
}

func NewTripStore(db *DB) *TripStore { return &TripStore{db: db} }

// CreateTrip inserts a new, unfinished trip and returns its ID.
func (s *TripStore) CreateTrip(ctx context.Context, source, name string, startedAt time.Time) (string, error) {
	id := uuid.NewString()
	q := s.db.rebind(`INSERT INTO trips (id, source, name, started_at_ms) VALUES (?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, q, id, source, name, startedAt.UnixMilli()); err != nil {
		return "", fmt.Errorf("insert trip: %w", err)
	}
	return id, nil
}

// AppendPoint adds a sample to the end of a trip.
func (s *TripStore) AppendPoint(ctx context.Context, tripID string, p track.PositionSample) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.db.rebind(`UPDATE trips SET point_count = point_count + 1 WHERE id = ?`), tripID)
	if err != nil {
		return fmt.Errorf("bump point count: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("append to %s: %w", tripID, ErrTripNotFound)
	}

	q := s.db.rebind(`
INSERT INTO trip_points (trip_id, seq, ts_ms, lat, lon, accuracy_m, altitude_m, heading_deg, speed_mps)
VALUES (?, (SELECT point_count FROM trips WHERE id = ?), ?, ?, ?, ?, ?, ?, ?)`)
	_, err = tx.ExecContext(ctx, q,
		tripID, tripID, p.TimestampMs(), p.Latitude, p.Longitude, p.AccuracyMeters,
		nullFloat(p.AltitudeMeters), nullFloat(p.HeadingDegrees), nullFloat(p.SpeedMetersPerSecond))
	if err != nil {
		return fmt.Errorf("insert point: %w", err)
	}
	return tx.Commit()
}

// FinishTrip marks a trip as ended and stores its summary.
func (s *TripStore) FinishTrip(ctx context.Context, tripID string, endedAt time.Time, stats TripStats) error {
	q := s.db.rebind(`UPDATE trips SET ended_at_ms = ?, distance_m = ?, max_speed_mps = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, q, endedAt.UnixMilli(), stats.DistanceMeters, stats.MaxSpeedMps, tripID)
	if err != nil {
		return fmt.Errorf("finish trip: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("finish %s: %w", tripID, ErrTripNotFound)
	}
	return nil
}

// LoadTrip returns a trip header and its points in recording order.
func (s *TripStore) LoadTrip(ctx context.Context, tripID string) (Trip, []track.PositionSample, error) {
	q := s.db.rebind(`
SELECT id, source, name, started_at_ms, ended_at_ms, point_count, distance_m, max_speed_mps
FROM trips WHERE id = ?`)
	t, err := scanTrip(s.db.QueryRowContext(ctx, q, tripID))
	if errors.Is(err, sql.ErrNoRows) {
		return Trip{}, nil, fmt.Errorf("load %s: %w", tripID, ErrTripNotFound)
	}
	if err != nil {
		return Trip{}, nil, fmt.Errorf("query trip: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.db.rebind(`
SELECT ts_ms, lat, lon, accuracy_m, altitude_m, heading_deg, speed_mps
FROM trip_points WHERE trip_id = ? ORDER BY seq`), tripID)
	if err != nil {
		return Trip{}, nil, fmt.Errorf("query points: %w", err)
	}
	defer rows.Close()

	points := make([]track.PositionSample, 0, t.PointCount)
	for rows.Next() {
		var (
			p                 track.PositionSample
			ts                int64
			alt, head, speedV sql.NullFloat64
		)
		if err := rows.Scan(&ts, &p.Latitude, &p.Longitude, &p.AccuracyMeters, &alt, &head, &speedV); err != nil {
			return Trip{}, nil, err
		}
		p.Timestamp = time.UnixMilli(ts).UTC()
		p.AltitudeMeters = floatPtr(alt)
		p.HeadingDegrees = floatPtr(head)
		p.SpeedMetersPerSecond = floatPtr(speedV)
		points = append(points, p)
	}
	return t, points, rows.Err()
}

// ListTrips returns the most recently started trips first.
func (s *TripStore) ListTrips(ctx context.Context, limit int) ([]Trip, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.db.rebind(`
SELECT id, source, name, started_at_ms, ended_at_ms, point_count, distance_m, max_speed_mps
FROM trips ORDER BY started_at_ms DESC, id LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	defer rows.Close()
	var trips []Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, t)
	}
	return trips, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(r rowScanner) (Trip, error) {
	var (
		t       Trip
		started int64
		ended   sql.NullInt64
	)
	if err := r.Scan(&t.ID, &t.Source, &t.Name, &started, &ended, &t.PointCount, &t.DistanceMeters, &t.MaxSpeedMps); err != nil {
		return Trip{}, err
	}
	t.StartedAt = time.UnixMilli(started).UTC()
	if ended.Valid {
		t.EndedAt = time.UnixMilli(ended.Int64).UTC()
	}
	return t, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return track.Float(v.Float64)
}
