package models

// ZoneEdge is a traversable connection between two zones on a map. Edges are
// directed; a two-way aisle is stored as two rows.
type ZoneEdge struct {
	ID        int64
	MapID     string
	FromZone  string
	ToZone    string
	DistanceM float64 // Traversal cost in meters
	Direction string  // Compass direction of travel: north, south, east, west
}

// ZoneNode is a zone position on the map, used by the route planner's
// straight-line heuristic.
type ZoneNode struct {
	MapID string
	Zone  string
	X     float64 // Meters from map origin
	Y     float64
}

// Stop is a pick/store/audit position along a zone connection.
type Stop struct {
	ID              int64
	MapID           string
	ConnectionID    int64 // ZoneEdge this stop sits on
	StopID          string
	Name            string
	DistFromStartM  float64 // Longitudinal position along the edge
	StopType        string  // left, right, center, or empty (inferred)
	LeftBinsCount   int
	RightBinsCount  int
	LeftBinsDistM   float64 // Lateral approach distance when stopping left
	RightBinsDistM  float64
	RackID          string
	RackDistanceMM  float64
}

// Rack is a storage rack record.
type Rack struct {
	ID       int64
	RackID   string
	MapID    string
	StopID   string
	Level    int
	HeightMM float64
}

// Product is an inventory record.
type Product struct {
	ID       int64
	SKU      string
	Name     string
	RackID   string
	Quantity int
}

// User is an operator account record.
type User struct {
	ID       int64
	Username string
	Role     string
}
