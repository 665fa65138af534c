package db

import (
	"context"
	"database/sql"
	"fmt"

	"fleetsim/internal/transit"
)

// LoadSnapshot reads the whole transit network. Tables are read in id
// order so repeated loads produce identical snapshots.
func (s *Store) LoadSnapshot(ctx context.Context) (*transit.Snapshot, error) {
	snap := &transit.Snapshot{}
	var err error
	if snap.Stops, err = s.fetchStops(ctx); err != nil {
		return nil, err
	}
	if snap.BusTypes, err = s.fetchBusTypes(ctx); err != nil {
		return nil, err
	}
	if snap.Routes, err = s.fetchRoutes(ctx); err != nil {
		return nil, err
	}
	if snap.Buses, err = s.fetchBuses(ctx); err != nil {
		return nil, err
	}
	if snap.Demand, err = s.fetchDemand(ctx); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Store) fetchStops(ctx context.Context) ([]transit.Stop, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT stop_id, name, lat, lon, area_id FROM stops ORDER BY stop_id`)
	if err != nil {
		return nil, fmt.Errorf("query stops: %w", err)
	}
	defer rows.Close()
	var out []transit.Stop
	for rows.Next() {
		var st transit.Stop
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&st.ID, &st.Name, &lat, &lon, &st.AreaID); err != nil {
			return nil, err
		}
		if lat.Valid && lon.Valid {
			st.Lat, st.Lon, st.HasLoc = lat.Float64, lon.Float64, true
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) fetchBusTypes(ctx context.Context) ([]transit.BusType, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT bus_type_id, name, capacity FROM bus_types ORDER BY bus_type_id`)
	if err != nil {
		return nil, fmt.Errorf("query bus_types: %w", err)
	}
	defer rows.Close()
	var out []transit.BusType
	for rows.Next() {
		var bt transit.BusType
		if err := rows.Scan(&bt.ID, &bt.Name, &bt.Capacity); err != nil {
			return nil, err
		}
		out = append(out, bt)
	}
	return out, rows.Err()
}

// fetchRoutes joins route_stops so each route carries its ordered stop list.
func (s *Store) fetchRoutes(ctx context.Context) ([]transit.Route, error) {
	q := `
SELECT r.route_id, r.name, r.total_minutes, COALESCE(rs.stop_id, '')
FROM routes r
LEFT JOIN route_stops rs ON rs.route_id = r.route_id
ORDER BY r.route_id, rs.seq`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	defer rows.Close()
	var out []transit.Route
	for rows.Next() {
		var r transit.Route
		var stopID string
		if err := rows.Scan(&r.ID, &r.Name, &r.TotalMinutes, &stopID); err != nil {
			return nil, err
		}
		if n := len(out); n == 0 || out[n-1].ID != r.ID {
			out = append(out, r)
		}
		if stopID != "" {
			last := &out[len(out)-1]
			last.StopIDs = append(last.StopIDs, stopID)
		}
	}
	return out, rows.Err()
}

func (s *Store) fetchBuses(ctx context.Context) ([]transit.Bus, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT bus_id, bus_type_id, depot_stop_id, operator FROM buses ORDER BY bus_id`)
	if err != nil {
		return nil, fmt.Errorf("query buses: %w", err)
	}
	defer rows.Close()
	var out []transit.Bus
	for rows.Next() {
		var b transit.Bus
		if err := rows.Scan(&b.ID, &b.TypeID, &b.DepotStopID, &b.Operator); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) fetchDemand(ctx context.Context) ([]transit.DemandRecord, error) {
	q := `
SELECT origin_area_id, dest_area_id, passengers, start_minute, end_minute
FROM demand
ORDER BY start_minute, origin_area_id, dest_area_id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query demand: %w", err)
	}
	defer rows.Close()
	var out []transit.DemandRecord
	for rows.Next() {
		var d transit.DemandRecord
		if err := rows.Scan(&d.OriginAreaID, &d.DestAreaID, &d.Count, &d.StartMinute, &d.EndMinute); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ImportSnapshot replaces the network tables with the contents of snap in
// one transaction. Generated journey patterns, blocks and trips are kept.
func (s *Store) ImportSnapshot(ctx context.Context, snap *transit.Snapshot) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{"route_stops", "routes", "buses", "bus_types", "stops", "demand"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	for _, st := range snap.Stops {
		var lat, lon sql.NullFloat64
		if st.HasLoc {
			lat = sql.NullFloat64{Float64: st.Lat, Valid: true}
			lon = sql.NullFloat64{Float64: st.Lon, Valid: true}
		}
		if err = s.exec(ctx, tx, `INSERT INTO stops (stop_id, name, lat, lon, area_id) VALUES ($1, $2, $3, $4, $5)`,
			st.ID, st.Name, lat, lon, st.AreaID); err != nil {
			return fmt.Errorf("insert stop %s: %w", st.ID, err)
		}
	}
	for _, bt := range snap.BusTypes {
		if err = s.exec(ctx, tx, `INSERT INTO bus_types (bus_type_id, name, capacity) VALUES ($1, $2, $3)`,
			bt.ID, bt.Name, bt.Capacity); err != nil {
			return fmt.Errorf("insert bus type %s: %w", bt.ID, err)
		}
	}
	for _, r := range snap.Routes {
		if err = s.exec(ctx, tx, `INSERT INTO routes (route_id, name, total_minutes) VALUES ($1, $2, $3)`,
			r.ID, r.Name, r.TotalMinutes); err != nil {
			return fmt.Errorf("insert route %s: %w", r.ID, err)
		}
		for i, stopID := range r.StopIDs {
			if err = s.exec(ctx, tx, `INSERT INTO route_stops (route_id, seq, stop_id) VALUES ($1, $2, $3)`,
				r.ID, i, stopID); err != nil {
				return fmt.Errorf("insert route %s stop %d: %w", r.ID, i, err)
			}
		}
	}
	for _, b := range snap.Buses {
		if err = s.exec(ctx, tx, `INSERT INTO buses (bus_id, bus_type_id, depot_stop_id, operator) VALUES ($1, $2, $3, $4)`,
			b.ID, b.TypeID, b.DepotStopID, b.Operator); err != nil {
			return fmt.Errorf("insert bus %s: %w", b.ID, err)
		}
	}
	for _, d := range snap.Demand {
		if err = s.exec(ctx, tx, `INSERT INTO demand (origin_area_id, dest_area_id, passengers, start_minute, end_minute) VALUES ($1, $2, $3, $4, $5)`,
			d.OriginAreaID, d.DestAreaID, d.Count, d.StartMinute, d.EndMinute); err != nil {
			return fmt.Errorf("insert demand %s->%s: %w", d.OriginAreaID, d.DestAreaID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	return nil
}

func (s *Store) exec(ctx context.Context, e execer, query string, args ...any) error {
	_, err := e.ExecContext(ctx, s.q(query), args...)
	return err
}
