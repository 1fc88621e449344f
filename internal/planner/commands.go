package planner

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/harrison/fleetd/internal/models"
)

// Command is a single motor or control instruction: an opcode followed by
// its arguments, serialized as one CSV row.
//
// Opcodes: F (forward, mm), SR/SL (side right/left, mm), PVTR/PVTL (pivot
// right/left, degrees), ALIGN (zone marker alignment), VMOV (vertical move),
// CALL (invoke a labeled routine), HOMING, LABEL, RETURN.
type Command []string

// Route is the planned command program for one task. Immutable once
// computed; a new start attempt plans a fresh route.
type Route struct {
	TaskID     string
	Zones      []string // Zone sequence from A*
	Commands   []Command
	ComputedAt time.Time
}

// RouteOptions carries the per-task and per-device parameters that shape
// command generation.
type RouteOptions struct {
	TaskType         models.TaskType
	InitialDirection string  // Facing direction at the start zone
	InitialOffsetM   float64 // Distance already traveled along the first edge
	DropZone         string  // Picking drop-off zone (optional)
	ForwardSpeed     int     // Appended to F commands when > 0
	TurningSpeed     int     // Appended to PVTR/PVTL/SR/SL commands when > 0
	VerticalSpeed    int     // Lift speed for VMOV commands

	// StopsByConnection maps zone connection ids to the stops on that edge,
	// ordered by longitudinal position.
	StopsByConnection map[int64][]models.Stop

	// ZoneAlignment marks zones whose ALIGN command should request marker
	// correction (final ALIGN parameter "1").
	ZoneAlignment map[string]bool
}

// turnMap gives the direction reached by turning left or right from a
// heading. north+right=east, north+left=west, and so on around the compass.
var turnMap = map[string]map[string]string{
	"north": {"left": "west", "right": "east"},
	"south": {"left": "east", "right": "west"},
	"east":  {"left": "north", "right": "south"},
	"west":  {"left": "south", "right": "north"},
}

var opposite = map[string]string{
	"north": "south", "south": "north", "east": "west", "west": "east",
}

// computeTurn determines the pivot needed to face target from current.
// Returns ok=false when no turn is needed. U-turns pivot right 180.
func computeTurn(current, target string) (op string, degrees int, ok bool) {
	cur := strings.ToLower(current)
	tgt := strings.ToLower(target)
	if cur == tgt {
		return "", 0, false
	}
	if opposite[cur] == tgt {
		return "PVTR", 180, true
	}
	for turn, dir := range turnMap[cur] {
		if dir == tgt {
			if turn == "left" {
				return "PVTL", 90, true
			}
			return "PVTR", 90, true
		}
	}
	// Unknown heading; default to a right 90 so the program stays runnable.
	return "PVTR", 90, true
}

// mm converts meters to whole millimeters.
func mm(meters float64) int {
	return int(math.Round(meters * 1000))
}

// PlanRoute computes the shortest path from start to goal and generates the
// movement-command program for it. Returns ErrUnreachable (wrapped) when the
// zones are disconnected.
func PlanRoute(g *Graph, taskID, start, goal string, opts RouteOptions) (*Route, error) {
	path, err := FindPath(g, start, goal)
	if err != nil {
		return nil, fmt.Errorf("plan route for %s: %w", taskID, err)
	}

	cmds := generatePathCommands(g, path, opts)

	return &Route{
		TaskID:     taskID,
		Zones:      path,
		Commands:   cmds,
		ComputedAt: time.Now(),
	}, nil
}

// alignCmd builds the ALIGN command for a zone, honoring per-zone alignment
// settings.
func alignCmd(zone string, opts RouteOptions) Command {
	last := "0"
	if opts.ZoneAlignment[zone] {
		last = "1"
	}
	return Command{"ALIGN", zone, "0", last}
}

// generatePathCommands walks the zone sequence edge by edge, visiting stops
// and emitting turns, travel, and task callbacks.
func generatePathCommands(g *Graph, path []string, opts RouteOptions) []Command {
	var cmds []Command
	curDir := strings.ToLower(opts.InitialDirection)
	if curDir == "" {
		curDir = "north"
	}
	initialDir := curDir
	offset := opts.InitialOffsetM

	if len(path) > 1 && offset <= 0 {
		cmds = append(cmds, alignCmd(path[0], opts))
	}

	var lastArrival string
	for i := 0; i+1 < len(path); i++ {
		edge, ok := g.EdgeBetween(path[i], path[i+1])
		if !ok {
			// A* only returns existing edges; skip defensively.
			continue
		}

		stops := opts.StopsByConnection[edge.ConnectionID]
		segCmds, newDir := generateEdgeCommands(edge, curDir, offset, stops, opts)
		cmds = append(cmds, segCmds...)
		curDir = newDir
		offset = 0
		lastArrival = edge.To

		isLast := i+2 == len(path)
		if !isLast {
			cmds = append(cmds, alignCmd(edge.To, opts))
		}
		if opts.TaskType == models.TaskPicking && opts.DropZone != "" && edge.To == opts.DropZone {
			if isLast {
				cmds = append(cmds, alignCmd(edge.To, opts))
			}
			cmds = append(cmds, Command{"CALL", "DROP"})
		}
	}

	if lastArrival != "" {
		pickingWithDrop := opts.TaskType == models.TaskPicking && opts.DropZone != ""
		if !pickingWithDrop {
			cmds = append(cmds, alignCmd(lastArrival, opts))
		}
		if opts.TaskType == models.TaskPicking && opts.DropZone == "" {
			cmds = append(cmds, Command{"CALL", "DROP"})
		}
	}

	// Non-picking tasks return to the initial facing direction at the end.
	if opts.TaskType != models.TaskPicking {
		if op, deg, ok := computeTurn(curDir, initialDir); ok {
			cmds = append(cmds, Command{op, strconv.Itoa(deg), "DEG"})
		}
	}

	cmds = dedupeAligns(cmds, opts)
	return augmentSpeeds(cmds, opts)
}

// generateEdgeCommands emits the commands to traverse a single edge from the
// current offset to its end, visiting each stop in order. Returns the
// commands and the heading after the edge.
func generateEdgeCommands(edge Edge, curDir string, offsetM float64, stops []models.Stop, opts RouteOptions) ([]Command, string) {
	var cmds []Command

	if op, deg, ok := computeTurn(curDir, edge.Direction); ok {
		cmds = append(cmds, alignCmd(edge.From, opts))
		cmds = append(cmds, Command{op, strconv.Itoa(deg), "DEG"})
		curDir = strings.ToLower(edge.Direction)
	}

	traveled := math.Max(0, offsetM)
	forwardTo := func(target float64) {
		delta := target - traveled
		if delta > 0 {
			cmds = append(cmds, Command{"F", strconv.Itoa(mm(delta)), "MM"})
			traveled = target
		}
	}

	for _, stop := range stops {
		forwardTo(stop.DistFromStartM)
		cmds = append(cmds, stopCommands(stop, opts)...)
	}

	forwardTo(edge.DistanceM)
	return cmds, curDir
}

// stopCommands emits the lateral approach, task callback, and return for one
// stop. Center stops and stops without a lateral distance skip the side move.
func stopCommands(stop models.Stop, opts RouteOptions) []Command {
	var cmds []Command

	side := stopSide(stop)
	sideDist := 0.0
	if stop.StopType != "center" {
		if side == "left" {
			sideDist = stop.LeftBinsDistM
		} else {
			sideDist = stop.RightBinsDistM
		}
	}

	if sideDist > 0 {
		dist := strconv.Itoa(mm(sideDist))
		if side == "left" {
			cmds = append(cmds, Command{"SL", dist, "MM"}, Command{"SR", dist, "MM"})
		} else {
			cmds = append(cmds, Command{"SR", dist, "MM"}, Command{"SL", dist, "MM"})
		}
	}

	switch opts.TaskType {
	case models.TaskPicking:
		rackMM := int(math.Round(stop.RackDistanceMM))
		if rackMM > 0 && opts.VerticalSpeed > 0 {
			vs := strconv.Itoa(opts.VerticalSpeed)
			cmds = append(cmds,
				Command{"VMOV", strconv.Itoa(rackMM), vs},
				Command{"CALL", "PICKUP"},
				Command{"VMOV", strconv.Itoa(rackMM), vs})
		} else {
			cmds = append(cmds, Command{"CALL", "PICKUP"})
		}
	case models.TaskStoring:
		cmds = append(cmds, Command{"CALL", "STORE"})
	case models.TaskAuditing:
		cmds = append(cmds, Command{"CALL", "AUDIT"})
	}

	return cmds
}

// stopSide decides which side the robot approaches a stop from.
// Explicit stop_type wins; otherwise bin counts, then name tokens, then
// default right.
func stopSide(stop models.Stop) string {
	st := strings.ToLower(stop.StopType)
	if st == "left" || st == "right" {
		return st
	}
	if stop.LeftBinsCount > 0 && stop.RightBinsCount == 0 {
		return "left"
	}
	if stop.RightBinsCount > 0 && stop.LeftBinsCount == 0 {
		return "right"
	}
	id := strings.ToLower(stop.StopID)
	name := strings.ToLower(stop.Name)
	if strings.Contains(id, "left") || strings.Contains(name, "left") {
		return "left"
	}
	if strings.Contains(id, "right") || strings.Contains(name, "right") {
		return "right"
	}
	return "right"
}

// dedupeAligns collapses consecutive ALIGN commands targeting the same zone
// into one canonical ALIGN reflecting the current alignment setting.
func dedupeAligns(cmds []Command, opts RouteOptions) []Command {
	var cleaned []Command
	for _, c := range cmds {
		if len(c) == 0 || strings.ToUpper(c[0]) != "ALIGN" {
			cleaned = append(cleaned, c)
			continue
		}
		zone := ""
		if len(c) > 1 {
			zone = c[1]
		}
		canonical := alignCmd(zone, opts)
		if n := len(cleaned); n > 0 {
			last := cleaned[n-1]
			if len(last) > 1 && strings.ToUpper(last[0]) == "ALIGN" && last[1] == zone {
				cleaned[n-1] = canonical
				continue
			}
		}
		cleaned = append(cleaned, canonical)
	}
	return cleaned
}

// augmentSpeeds appends the configured speed parameter to movement commands.
func augmentSpeeds(cmds []Command, opts RouteOptions) []Command {
	out := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		if len(c) < 3 {
			out = append(out, c)
			continue
		}
		switch strings.ToUpper(c[0]) {
		case "F":
			if opts.ForwardSpeed > 0 {
				c = append(c, strconv.Itoa(opts.ForwardSpeed))
			}
		case "PVTR", "PVTL", "SR", "SL":
			if opts.TurningSpeed > 0 {
				c = append(c, strconv.Itoa(opts.TurningSpeed))
			}
		}
		out = append(out, c)
	}
	return out
}

// Serialize renders the route as CSV rows for the device command file:
// header, HOMING preamble, the command body, then the labeled PICKUP and
// DROP routines (device-specific logic rows may be injected into each).
// Charging tasks get only a CHARGING label.
func (r *Route) Serialize(taskType models.TaskType, pickupLogic, dropLogic [][]string) [][]string {
	rows := [][]string{{"command", "value", "unit"}, {"HOMING", "ALL"}}
	for _, c := range r.Commands {
		rows = append(rows, []string(c))
	}
	rows = append(rows, []string{})

	if taskType == models.TaskCharging {
		rows = append(rows, []string{"LABEL", "CHARGING"}, []string{"RETURN"})
		return rows
	}

	rows = append(rows, []string{"LABEL", "PICKUP"})
	rows = append(rows, pickupLogic...)
	rows = append(rows, []string{"RETURN"}, []string{})
	rows = append(rows, []string{"LABEL", "DROP"})
	rows = append(rows, dropLogic...)
	rows = append(rows, []string{"RETURN"})
	return rows
}
