package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"fleetsim/internal/transit"
)

// SaveGeneratedTrips replaces every previously generated journey pattern,
// block and trip with g, all in one transaction. Hand-maintained rows
// (ids without the generated prefix) are never touched. It returns the
// number of trips written.
func (s *Store) SaveGeneratedTrips(ctx context.Context, g transit.GeneratedSchedule) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin save: %w", err)
	}
	// no-op after a successful commit
	defer tx.Rollback()

	like := transit.GeneratedPrefix + "%"
	for _, del := range []struct{ table, col string }{
		{"trips", "trip_id"},
		{"blocks", "block_id"},
		{"journey_patterns", "journey_pattern_id"},
	} {
		if err := s.exec(ctx, tx, "DELETE FROM "+del.table+" WHERE "+del.col+" LIKE $1", like); err != nil {
			return 0, fmt.Errorf("clear generated %s: %w", del.table, err)
		}
	}

	for _, jp := range g.JourneyPatterns {
		if err := s.exec(ctx, tx, `INSERT INTO journey_patterns (journey_pattern_id, route_id, service_id, line_id) VALUES ($1, $2, $3, $4)`,
			jp.ID, jp.RouteID, jp.ServiceID, jp.LineID); err != nil {
			return 0, fmt.Errorf("insert journey pattern %s: %w", jp.ID, err)
		}
	}
	for _, b := range g.Blocks {
		if err := s.exec(ctx, tx, `INSERT INTO blocks (block_id, service_id, bus_id) VALUES ($1, $2, $3)`,
			b.ID, b.ServiceID, nullString(b.BusID)); err != nil {
			return 0, fmt.Errorf("insert block %s: %w", b.ID, err)
		}
	}
	for _, t := range g.Trips {
		if err := s.exec(ctx, tx, `INSERT INTO trips (trip_id, route_id, journey_pattern_id, block_id, bus_id, departure_minute) VALUES ($1, $2, $3, $4, $5, $6)`,
			t.ID, t.RouteID, t.JourneyPatternID, t.BlockID, nullString(t.BusID), t.DepartureMinute); err != nil {
			return 0, fmt.Errorf("insert trip %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit save: %w", err)
	}
	logrus.WithFields(logrus.Fields{"trips": len(g.Trips), "blocks": len(g.Blocks), "patterns": len(g.JourneyPatterns)}).
		Info("generated trips saved")
	return len(g.Trips), nil
}

// FetchGeneratedTrips lists persisted generated trips by departure.
func (s *Store) FetchGeneratedTrips(ctx context.Context) ([]transit.Trip, error) {
	q := `
SELECT trip_id, route_id, journey_pattern_id, block_id, COALESCE(bus_id, ''), departure_minute
FROM trips
WHERE trip_id LIKE $1
ORDER BY departure_minute, trip_id`
	rows, err := s.db.QueryContext(ctx, s.q(q), transit.GeneratedPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	defer rows.Close()
	var out []transit.Trip
	for rows.Next() {
		var t transit.Trip
		if err := rows.Scan(&t.ID, &t.RouteID, &t.JourneyPatternID, &t.BlockID, &t.BusID, &t.DepartureMinute); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
