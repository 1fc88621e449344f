package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/fleetd/internal/models"
)

func TestComputeTurn(t *testing.T) {
	tests := []struct {
		cur, tgt string
		wantOp   string
		wantDeg  int
		wantOK   bool
	}{
		{"north", "north", "", 0, false},
		{"north", "east", "PVTR", 90, true},
		{"north", "west", "PVTL", 90, true},
		{"north", "south", "PVTR", 180, true},
		{"south", "east", "PVTL", 90, true},
		{"east", "north", "PVTL", 90, true},
		{"west", "north", "PVTR", 90, true},
		{"West", "EAST", "PVTR", 180, true}, // case-insensitive
	}
	for _, tt := range tests {
		op, deg, ok := computeTurn(tt.cur, tt.tgt)
		if ok != tt.wantOK || op != tt.wantOp || deg != tt.wantDeg {
			t.Errorf("computeTurn(%s, %s) = (%s, %d, %v), want (%s, %d, %v)",
				tt.cur, tt.tgt, op, deg, ok, tt.wantOp, tt.wantDeg, tt.wantOK)
		}
	}
}

func TestMM(t *testing.T) {
	assert.Equal(t, 2000, mm(2.0))
	assert.Equal(t, 1235, mm(1.2345))
	assert.Equal(t, 0, mm(0))
}

// lineGraph is a single 6 m eastbound edge Z1 -> Z2 with connection id 1.
func lineGraph() *Graph {
	g := NewGraph()
	g.AddNode(Node{ID: "Z1", X: 0, Y: 0})
	g.AddNode(Node{ID: "Z2", X: 6, Y: 0})
	g.AddEdge(Edge{ConnectionID: 1, From: "Z1", To: "Z2", DistanceM: 6, Direction: "east"})
	return g
}

func hasCommand(cmds []Command, want ...string) bool {
	for _, c := range cmds {
		if len(c) < len(want) {
			continue
		}
		match := true
		for i, f := range want {
			if c[i] != f {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func TestPlanRoute_TurnsThenTravels(t *testing.T) {
	g := lineGraph()

	route, err := PlanRoute(g, "TASK-1", "Z1", "Z2", RouteOptions{
		TaskType:         models.TaskStoring,
		InitialDirection: "north",
	})
	require.NoError(t, err)

	// Facing north on an eastbound edge: pivot right, then full traverse.
	assert.True(t, hasCommand(route.Commands, "PVTR", "90", "DEG"))
	assert.True(t, hasCommand(route.Commands, "F", "6000", "MM"))
	// Non-picking tasks return to the initial heading at the end.
	assert.True(t, hasCommand(route.Commands, "PVTL", "90", "DEG"))
}

func TestPlanRoute_StopsVisitedWithSideMoves(t *testing.T) {
	g := lineGraph()

	opts := RouteOptions{
		TaskType:         models.TaskPicking,
		InitialDirection: "east",
		StopsByConnection: map[int64][]models.Stop{
			1: {
				{StopID: "S1", DistFromStartM: 2, LeftBinsCount: 2, LeftBinsDistM: 0.4},
				{StopID: "S2", DistFromStartM: 4.5, RightBinsCount: 1, RightBinsDistM: 0.3},
			},
		},
	}
	route, err := PlanRoute(g, "TASK-1", "Z1", "Z2", opts)
	require.NoError(t, err)

	// Forward legs are split by the stops: 2 m, 2.5 m, then 1.5 m to the end.
	assert.True(t, hasCommand(route.Commands, "F", "2000", "MM"))
	assert.True(t, hasCommand(route.Commands, "F", "2500", "MM"))
	assert.True(t, hasCommand(route.Commands, "F", "1500", "MM"))
	// Left stop approaches left and returns right; right stop mirrors.
	assert.True(t, hasCommand(route.Commands, "SL", "400", "MM"))
	assert.True(t, hasCommand(route.Commands, "SR", "400", "MM"))
	assert.True(t, hasCommand(route.Commands, "SR", "300", "MM"))
	assert.True(t, hasCommand(route.Commands, "CALL", "PICKUP"))
}

func TestPlanRoute_CenterStopSkipsSideMove(t *testing.T) {
	g := lineGraph()

	opts := RouteOptions{
		TaskType:         models.TaskAuditing,
		InitialDirection: "east",
		StopsByConnection: map[int64][]models.Stop{
			1: {{StopID: "S1", DistFromStartM: 3, StopType: "center", LeftBinsDistM: 0.5, RightBinsDistM: 0.5}},
		},
	}
	route, err := PlanRoute(g, "TASK-1", "Z1", "Z2", opts)
	require.NoError(t, err)

	assert.False(t, hasCommand(route.Commands, "SL"))
	assert.False(t, hasCommand(route.Commands, "SR"))
	assert.True(t, hasCommand(route.Commands, "CALL", "AUDIT"))
}

func TestPlanRoute_PickingWithRackLift(t *testing.T) {
	g := lineGraph()

	opts := RouteOptions{
		TaskType:         models.TaskPicking,
		InitialDirection: "east",
		VerticalSpeed:    50,
		StopsByConnection: map[int64][]models.Stop{
			1: {{StopID: "S1", DistFromStartM: 2, RightBinsCount: 1, RightBinsDistM: 0.3, RackDistanceMM: 800}},
		},
	}
	route, err := PlanRoute(g, "TASK-1", "Z1", "Z2", opts)
	require.NoError(t, err)

	assert.True(t, hasCommand(route.Commands, "VMOV", "800", "50"))
	assert.True(t, hasCommand(route.Commands, "CALL", "PICKUP"))
}

func TestPlanRoute_DropZoneForPicking(t *testing.T) {
	g := gridGraph()

	route, err := PlanRoute(g, "TASK-1", "Z1", "Z3", RouteOptions{
		TaskType:         models.TaskPicking,
		InitialDirection: "east",
		DropZone:         "Z3",
	})
	require.NoError(t, err)

	assert.True(t, hasCommand(route.Commands, "CALL", "DROP"))
	// No trailing reorientation for picking tasks.
	last := route.Commands[len(route.Commands)-1]
	assert.Equal(t, "CALL", last[0])
}

func TestPlanRoute_SpeedAugmentation(t *testing.T) {
	g := lineGraph()

	route, err := PlanRoute(g, "TASK-1", "Z1", "Z2", RouteOptions{
		TaskType:         models.TaskStoring,
		InitialDirection: "north",
		ForwardSpeed:     300,
		TurningSpeed:     120,
	})
	require.NoError(t, err)

	assert.True(t, hasCommand(route.Commands, "F", "6000", "MM", "300"))
	assert.True(t, hasCommand(route.Commands, "PVTR", "90", "DEG", "120"))
}

func TestStopSide(t *testing.T) {
	tests := []struct {
		name string
		stop models.Stop
		want string
	}{
		{"explicit type wins", models.Stop{StopType: "left", RightBinsCount: 5}, "left"},
		{"left bins only", models.Stop{LeftBinsCount: 2}, "left"},
		{"right bins only", models.Stop{RightBinsCount: 2}, "right"},
		{"name token", models.Stop{Name: "Aisle 3 LEFT"}, "left"},
		{"stop id token", models.Stop{StopID: "S-RIGHT-2"}, "right"},
		{"default right", models.Stop{}, "right"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stopSide(tt.stop))
		})
	}
}

func TestRoute_Serialize(t *testing.T) {
	route := &Route{
		TaskID:   "TASK-1",
		Commands: []Command{{"F", "1000", "MM"}},
	}

	rows := route.Serialize(models.TaskPicking, [][]string{{"GRIP", "CLOSE"}}, nil)

	assert.Equal(t, []string{"command", "value", "unit"}, rows[0])
	assert.Equal(t, []string{"HOMING", "ALL"}, rows[1])
	assert.Equal(t, []string{"F", "1000", "MM"}, rows[2])

	flat := make([][]string, 0)
	flat = append(flat, rows...)
	assert.Contains(t, flat, []string{"LABEL", "PICKUP"})
	assert.Contains(t, flat, []string{"GRIP", "CLOSE"})
	assert.Contains(t, flat, []string{"LABEL", "DROP"})
	assert.Contains(t, flat, []string{"RETURN"})
}

func TestRoute_SerializeCharging(t *testing.T) {
	route := &Route{TaskID: "TASK-1"}
	rows := route.Serialize(models.TaskCharging, nil, nil)

	assert.Contains(t, rows, []string{"LABEL", "CHARGING"})
	for _, row := range rows {
		if len(row) > 0 {
			assert.NotEqual(t, "PICKUP", row[len(row)-1])
		}
	}
}

func TestPlanRoute_Unreachable(t *testing.T) {
	g := lineGraph()
	g.AddNode(Node{ID: "Z9", X: 50, Y: 50})

	_, err := PlanRoute(g, "TASK-1", "Z1", "Z9", RouteOptions{TaskType: models.TaskStoring})
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestPlanRoute_DeterministicCommands(t *testing.T) {
	g := gridGraph()
	opts := RouteOptions{TaskType: models.TaskStoring, InitialDirection: "east"}

	first, err := PlanRoute(g, "TASK-1", "Z1", "Z6", opts)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := PlanRoute(g, "TASK-1", "Z1", "Z6", opts)
		require.NoError(t, err)
		assert.Equal(t, first.Commands, again.Commands)
		assert.Equal(t, first.Zones, again.Zones)
	}
}
