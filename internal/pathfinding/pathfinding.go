// Package pathfinding plans grid routes for characters, steering around
// static map obstacles and around where other characters will be at the
// time each tile is reached.
package pathfinding

import (
	"errors"
	"math"

	"github.com/talgya/aitown/internal/geometry"
	"github.com/talgya/aitown/internal/minheap"
)

// ErrNoRoute is returned when no progress from the start is possible.
var ErrNoRoute = errors.New("no route")

// Query describes one route request.
type Query struct {
	Width  int
	Height int
	// Blocked reports whether the static object layer blocks a tile.
	Blocked func(x, y int) bool
	// Occupied reports whether another character blocks pos at time t
	// (unix ms), based on its planned path.
	Occupied func(pos geometry.Point, t float64) bool
	// Start may be off-grid on one axis while the character is between
	// tiles. Destination must be grid-aligned.
	Start       geometry.Point
	Destination geometry.Point
	// Speed is movement speed in tiles per second.
	Speed float64
	// Now is the departure time, unix ms.
	Now float64
}

// Route is a planned path. NewDestination is set when the requested
// destination was unreachable and the route ends at the closest explored
// point instead.
type Route struct {
	Path           geometry.Path
	NewDestination *geometry.Point
}

type candidate struct {
	pos  geometry.Point
	cost float64 // cumulative Euclidean length from start
	t    float64 // scheduled arrival, unix ms
	prev *candidate
}

// FindRoute runs A* over the tile lattice. Neighbour generation snaps an
// off-grid start back onto the lattice: on a fractionally-positioned axis
// the only moves are to the two adjacent integer coordinates.
func FindRoute(q Query) (Route, error) {
	if q.Speed <= 0 {
		return Route{}, errors.New("non-positive speed")
	}
	dest := q.Destination

	blocked := func(pos geometry.Point, t float64) bool {
		if pos.X < 0 || pos.Y < 0 || pos.X >= float64(q.Width) || pos.Y >= float64(q.Height) {
			return true
		}
		if isAligned(pos) && q.Blocked != nil && q.Blocked(int(pos.X), int(pos.Y)) {
			return true
		}
		if q.Occupied != nil && q.Occupied(pos, t) {
			return true
		}
		return false
	}

	start := &candidate{pos: q.Start, cost: 0, t: q.Now}

	// minDistances keeps the cheapest candidate per lattice point; a new
	// candidate is dropped when a known one costs no more.
	minDistances := make([][]*candidate, q.Height)
	for y := range minDistances {
		minDistances[y] = make([]*candidate, q.Width)
	}

	heuristic := func(c *candidate) float64 {
		return c.cost + geometry.ManhattanDistance(c.pos, dest)
	}
	open := minheap.New(func(a, b *candidate) bool {
		return heuristic(a) > heuristic(b)
	})
	open.Push(start)

	var found *candidate
	for {
		current, ok := open.Pop()
		if !ok {
			break
		}
		if geometry.PointsEqual(current.pos, dest) {
			found = current
			break
		}
		for _, next := range neighbors(current.pos) {
			segment := geometry.Distance(current.pos, next)
			cost := current.cost + segment
			arrival := q.Now + cost*1000/q.Speed
			if blocked(next, arrival) {
				continue
			}
			if isAligned(next) {
				x, y := int(next.X), int(next.Y)
				if prev := minDistances[y][x]; prev != nil && prev.cost <= cost {
					continue
				}
				c := &candidate{pos: next, cost: cost, t: arrival, prev: current}
				minDistances[y][x] = c
				open.Push(c)
			}
		}
	}

	var newDestination *geometry.Point
	if found == nil {
		// Destination unreachable: settle for the explored point closest
		// to it and tell the caller where the route actually ends.
		best := start
		bestDistance := geometry.ManhattanDistance(start.pos, dest)
		for y := range minDistances {
			for x := range minDistances[y] {
				c := minDistances[y][x]
				if c == nil {
					continue
				}
				d := geometry.ManhattanDistance(c.pos, dest)
				if d < bestDistance || (d == bestDistance && c.cost < best.cost) {
					best = c
					bestDistance = d
				}
			}
		}
		if best == start {
			return Route{}, ErrNoRoute
		}
		found = best
		p := best.pos
		newDestination = &p
	}

	return Route{Path: buildPath(found), NewDestination: newDestination}, nil
}

// neighbors generates candidate moves from pos. Fully aligned positions
// move 4-connected; a fractional axis may only resolve to its two adjacent
// integer coordinates.
func neighbors(pos geometry.Point) []geometry.Point {
	var out []geometry.Point
	alignedX := pos.X == math.Floor(pos.X)
	alignedY := pos.Y == math.Floor(pos.Y)
	if !alignedX {
		out = append(out,
			geometry.Point{X: math.Floor(pos.X), Y: pos.Y},
			geometry.Point{X: math.Floor(pos.X) + 1, Y: pos.Y},
		)
	}
	if !alignedY {
		out = append(out,
			geometry.Point{X: pos.X, Y: math.Floor(pos.Y)},
			geometry.Point{X: pos.X, Y: math.Floor(pos.Y) + 1},
		)
	}
	if alignedX && alignedY {
		out = append(out,
			geometry.Point{X: pos.X - 1, Y: pos.Y},
			geometry.Point{X: pos.X + 1, Y: pos.Y},
			geometry.Point{X: pos.X, Y: pos.Y - 1},
			geometry.Point{X: pos.X, Y: pos.Y + 1},
		)
	}
	return out
}

func isAligned(pos geometry.Point) bool {
	return pos.X == math.Floor(pos.X) && pos.Y == math.Floor(pos.Y)
}

// buildPath reverses the predecessor chain into waypoints with per-segment
// facing.
func buildPath(end *candidate) geometry.Path {
	var chain []*candidate
	for c := end; c != nil; c = c.prev {
		chain = append(chain, c)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	path := make(geometry.Path, len(chain))
	for i, c := range chain {
		facing := geometry.Vector{DX: 0, DY: 1}
		if i+1 < len(chain) {
			if f, ok := geometry.Normalize(geometry.Vec(c.pos, chain[i+1].pos)); ok {
				facing = f
			}
		} else if i > 0 {
			facing = path[i-1].Facing
		}
		path[i] = geometry.PathComponent{Position: c.pos, Facing: facing, T: c.t}
	}
	return path
}
