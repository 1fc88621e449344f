package store

import (
	"fmt"

	"github.com/harrison/fleetd/internal/models"
)

// AddZoneEdge inserts a zone connection and returns its id.
func (s *Store) AddZoneEdge(e *models.ZoneEdge) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO zones (map_id, from_zone, to_zone, distance_m, direction)
		VALUES (?, ?, ?, ?, ?)`,
		e.MapID, e.FromZone, e.ToZone, e.DistanceM, e.Direction)
	if err != nil {
		return 0, fmt.Errorf("insert zone edge: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	e.ID = id
	return id, nil
}

// ListZoneEdges returns all zone connections for a map.
func (s *Store) ListZoneEdges(mapID string) ([]models.ZoneEdge, error) {
	rows, err := s.db.Query(`
		SELECT id, map_id, from_zone, to_zone, distance_m, direction
		FROM zones WHERE map_id = ? ORDER BY id`, mapID)
	if err != nil {
		return nil, fmt.Errorf("list zone edges: %w", err)
	}
	defer rows.Close()

	var edges []models.ZoneEdge
	for rows.Next() {
		var e models.ZoneEdge
		if err := rows.Scan(&e.ID, &e.MapID, &e.FromZone, &e.ToZone, &e.DistanceM, &e.Direction); err != nil {
			return nil, fmt.Errorf("scan zone edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// SetZoneNode records the map position of a zone.
func (s *Store) SetZoneNode(n *models.ZoneNode) error {
	_, err := s.db.Exec(`
		INSERT INTO zone_nodes (map_id, zone, x_m, y_m) VALUES (?, ?, ?, ?)
		ON CONFLICT(map_id, zone) DO UPDATE SET x_m = excluded.x_m, y_m = excluded.y_m`,
		n.MapID, n.Zone, n.X, n.Y)
	if err != nil {
		return fmt.Errorf("set zone node: %w", err)
	}
	return nil
}

// ListZoneNodes returns all zone positions for a map.
func (s *Store) ListZoneNodes(mapID string) ([]models.ZoneNode, error) {
	rows, err := s.db.Query(`SELECT map_id, zone, x_m, y_m FROM zone_nodes WHERE map_id = ? ORDER BY zone`, mapID)
	if err != nil {
		return nil, fmt.Errorf("list zone nodes: %w", err)
	}
	defer rows.Close()

	var nodes []models.ZoneNode
	for rows.Next() {
		var n models.ZoneNode
		if err := rows.Scan(&n.MapID, &n.Zone, &n.X, &n.Y); err != nil {
			return nil, fmt.Errorf("scan zone node: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// AddStop inserts a stop record and returns its id.
func (s *Store) AddStop(st *models.Stop) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO stops (map_id, zone_connection_id, stop_id, name, distance_from_start_m, stop_type,
			left_bins_count, right_bins_count, left_bins_distance_m, right_bins_distance_m, rack_id, rack_distance_mm)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.MapID, st.ConnectionID, st.StopID, st.Name, st.DistFromStartM, st.StopType,
		st.LeftBinsCount, st.RightBinsCount, st.LeftBinsDistM, st.RightBinsDistM, st.RackID, st.RackDistanceMM)
	if err != nil {
		return 0, fmt.Errorf("insert stop: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	st.ID = id
	return id, nil
}

// ListStops returns all stops for a map ordered by edge and longitudinal
// position, the order route generation visits them.
func (s *Store) ListStops(mapID string) ([]models.Stop, error) {
	rows, err := s.db.Query(`
		SELECT id, map_id, zone_connection_id, stop_id, name, distance_from_start_m, stop_type,
			left_bins_count, right_bins_count, left_bins_distance_m, right_bins_distance_m, rack_id, rack_distance_mm
		FROM stops WHERE map_id = ?
		ORDER BY zone_connection_id, distance_from_start_m`, mapID)
	if err != nil {
		return nil, fmt.Errorf("list stops: %w", err)
	}
	defer rows.Close()

	var stops []models.Stop
	for rows.Next() {
		var st models.Stop
		if err := rows.Scan(&st.ID, &st.MapID, &st.ConnectionID, &st.StopID, &st.Name, &st.DistFromStartM,
			&st.StopType, &st.LeftBinsCount, &st.RightBinsCount, &st.LeftBinsDistM, &st.RightBinsDistM,
			&st.RackID, &st.RackDistanceMM); err != nil {
			return nil, fmt.Errorf("scan stop: %w", err)
		}
		stops = append(stops, st)
	}
	return stops, rows.Err()
}

// AddRack inserts a rack record.
func (s *Store) AddRack(r *models.Rack) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO racks (rack_id, map_id, stop_id, level, height_mm) VALUES (?, ?, ?, ?, ?)`,
		r.RackID, r.MapID, r.StopID, r.Level, r.HeightMM)
	if err != nil {
		return 0, fmt.Errorf("insert rack: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	r.ID = id
	return id, nil
}

// AddProduct inserts a product record.
func (s *Store) AddProduct(p *models.Product) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO products (sku, name, rack_id, quantity) VALUES (?, ?, ?, ?)`,
		p.SKU, p.Name, p.RackID, p.Quantity)
	if err != nil {
		return 0, fmt.Errorf("insert product: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	p.ID = id
	return id, nil
}

// AddUser inserts a user record.
func (s *Store) AddUser(u *models.User) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO users (username, role) VALUES (?, ?)`, u.Username, u.Role)
	if err != nil {
		return 0, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	u.ID = id
	return id, nil
}
