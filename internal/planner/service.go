package planner

import (
	"fmt"

	"github.com/harrison/fleetd/internal/models"
)

// WarehouseStore is the record-store surface the planning service reads.
type WarehouseStore interface {
	GetDevice(id string) (*models.Device, error)
	ListZoneEdges(mapID string) ([]models.ZoneEdge, error)
	ListZoneNodes(mapID string) ([]models.ZoneNode, error)
	ListStops(mapID string) ([]models.Stop, error)
}

// Service plans routes from warehouse records. It loads the map graph fresh
// on every Plan call so edits to zones and stops take effect immediately.
type Service struct {
	store WarehouseStore

	// PickupLogic and DropLogic are optional device routine bodies injected
	// into the serialized program's labeled sections.
	PickupLogic [][]string
	DropLogic   [][]string
}

// NewService creates a planning Service over the given store.
func NewService(store WarehouseStore) *Service {
	return &Service{store: store}
}

// Plan computes the full serialized command program for a task. The start
// zone is the task's start zone when set, otherwise the assigned device's
// last synced location.
func (s *Service) Plan(task *models.Task) ([][]string, error) {
	device, err := s.store.GetDevice(task.AssignedDevice)
	if err != nil {
		return nil, fmt.Errorf("load device %s: %w", task.AssignedDevice, err)
	}

	start := task.StartZone
	if start == "" {
		start = device.CurrentZone
	}
	if start == "" {
		return nil, fmt.Errorf("task %s: no start zone and device %s has no synced location", task.TaskID, device.ID)
	}

	g, opts, err := s.loadMap(task.MapID)
	if err != nil {
		return nil, err
	}
	opts.TaskType = task.Type
	opts.InitialDirection = device.Direction
	opts.DropZone = task.DropZone
	opts.ForwardSpeed = device.ForwardSpeed
	opts.TurningSpeed = device.TurningSpeed
	opts.VerticalSpeed = device.VerticalSpeed

	route, err := PlanRoute(g, task.TaskID, start, task.GoalZone, opts)
	if err != nil {
		return nil, err
	}
	return route.Serialize(task.Type, s.PickupLogic, s.DropLogic), nil
}

// loadMap builds the zone graph and stop index for a map.
func (s *Service) loadMap(mapID string) (*Graph, RouteOptions, error) {
	var opts RouteOptions

	edges, err := s.store.ListZoneEdges(mapID)
	if err != nil {
		return nil, opts, fmt.Errorf("load zone edges for map %s: %w", mapID, err)
	}
	if len(edges) == 0 {
		return nil, opts, fmt.Errorf("map %s has no zone connections", mapID)
	}
	nodes, err := s.store.ListZoneNodes(mapID)
	if err != nil {
		return nil, opts, fmt.Errorf("load zone nodes for map %s: %w", mapID, err)
	}
	stops, err := s.store.ListStops(mapID)
	if err != nil {
		return nil, opts, fmt.Errorf("load stops for map %s: %w", mapID, err)
	}

	opts.StopsByConnection = make(map[int64][]models.Stop, len(stops))
	for _, st := range stops {
		opts.StopsByConnection[st.ConnectionID] = append(opts.StopsByConnection[st.ConnectionID], st)
	}
	return BuildGraph(edges, nodes), opts, nil
}
