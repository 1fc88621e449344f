package planner

import (
	"container/heap"
	"fmt"
)

// ErrUnreachable is returned when no path exists between start and goal.
var ErrUnreachable = fmt.Errorf("no route between start and goal")

// frontierItem is an entry in the A* priority frontier.
type frontierItem struct {
	zone string
	f    float64 // g + heuristic
	g    float64 // accumulated cost from start
	seq  int     // insertion order, the final tie-break for determinism
}

// frontier implements heap.Interface ordered by f, then lower g (favoring
// paths closer to completion), then insertion order.
type frontier []frontierItem

func (fr frontier) Len() int { return len(fr) }

func (fr frontier) Less(i, j int) bool {
	if fr[i].f != fr[j].f {
		return fr[i].f < fr[j].f
	}
	if fr[i].g != fr[j].g {
		return fr[i].g < fr[j].g
	}
	return fr[i].seq < fr[j].seq
}

func (fr frontier) Swap(i, j int) { fr[i], fr[j] = fr[j], fr[i] }

func (fr *frontier) Push(x interface{}) {
	*fr = append(*fr, x.(frontierItem))
}

func (fr *frontier) Pop() interface{} {
	old := *fr
	n := len(old)
	item := old[n-1]
	*fr = old[:n-1]
	return item
}

// FindPath runs A* from start to goal and returns the zone sequence,
// inclusive of both endpoints. Returns ErrUnreachable when the goal cannot
// be reached. For a fixed graph and endpoints the result is deterministic:
// ties are broken by lower g, then by discovery order, and neighbor
// expansion follows edge insertion order.
func FindPath(g *Graph, start, goal string) ([]string, error) {
	if start == goal {
		return []string{start}, nil
	}

	fr := &frontier{}
	heap.Init(fr)
	seq := 0
	heap.Push(fr, frontierItem{zone: start, f: g.heuristic(start, goal), g: 0, seq: seq})

	cameFrom := map[string]string{}
	costSoFar := map[string]float64{start: 0}
	closed := map[string]bool{}

	for fr.Len() > 0 {
		current := heap.Pop(fr).(frontierItem)
		if current.zone == goal {
			return reconstruct(cameFrom, start, goal), nil
		}
		// The heuristic is consistent, so a popped node is final.
		if closed[current.zone] {
			continue
		}
		closed[current.zone] = true

		for _, edge := range g.Neighbors(current.zone) {
			if closed[edge.To] {
				continue
			}
			newCost := costSoFar[current.zone] + edge.DistanceM
			if prev, seen := costSoFar[edge.To]; !seen || newCost < prev {
				costSoFar[edge.To] = newCost
				cameFrom[edge.To] = current.zone
				seq++
				heap.Push(fr, frontierItem{
					zone: edge.To,
					f:    newCost + g.heuristic(edge.To, goal),
					g:    newCost,
					seq:  seq,
				})
			}
		}
	}

	return nil, fmt.Errorf("%w: %s -> %s", ErrUnreachable, start, goal)
}

// PathCost sums the edge costs along a zone sequence.
func PathCost(g *Graph, path []string) (float64, error) {
	total := 0.0
	for i := 0; i+1 < len(path); i++ {
		edge, ok := g.EdgeBetween(path[i], path[i+1])
		if !ok {
			return 0, fmt.Errorf("no edge %s -> %s", path[i], path[i+1])
		}
		total += edge.DistanceM
	}
	return total, nil
}

func reconstruct(cameFrom map[string]string, start, goal string) []string {
	path := []string{goal}
	cur := goal
	for cur != start {
		cur = cameFrom[cur]
		path = append(path, cur)
	}
	// Reverse in place
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
