package geometry

// PathComponent is one waypoint of a planned route: where the character is
// at time T and which way it faces.
type PathComponent struct {
	Position Point   `json:"position"`
	Facing   Vector  `json:"facing"`
	T        float64 `json:"t"` // Arrival time, unix milliseconds.
}

// Path is an ordered list of waypoints with strictly increasing times.
type Path []PathComponent

// PathPosition is the interpolated state of a character on a path at a
// given time.
type PathPosition struct {
	Position Point
	Facing   Vector
	Velocity float64
}

// PathOverlaps reports whether t falls within the path's time range.
func PathOverlaps(path Path, t float64) bool {
	if len(path) < 2 {
		return false
	}
	return path[0].T <= t && t <= path[len(path)-1].T
}

// Position returns the interpolated position, facing, and velocity along
// the path at time t. Outside the path's time range the nearest endpoint is
// returned with zero velocity.
func Position(path Path, t float64) PathPosition {
	if len(path) == 0 {
		return PathPosition{}
	}
	first := path[0]
	last := path[len(path)-1]
	if t < first.T {
		return PathPosition{Position: first.Position, Facing: first.Facing, Velocity: 0}
	}
	if t > last.T {
		return PathPosition{Position: last.Position, Facing: last.Facing, Velocity: 0}
	}
	for i := 0; i < len(path)-1; i++ {
		segStart := path[i]
		segEnd := path[i+1]
		if t > segEnd.T {
			continue
		}
		interp := (t - segStart.T) / (segEnd.T - segStart.T)
		position := Point{
			X: segStart.Position.X + interp*(segEnd.Position.X-segStart.Position.X),
			Y: segStart.Position.Y + interp*(segEnd.Position.Y-segStart.Position.Y),
		}
		velocity := Distance(segStart.Position, segEnd.Position) / (segEnd.T - segStart.T)
		return PathPosition{Position: position, Facing: segStart.Facing, Velocity: velocity}
	}
	return PathPosition{Position: last.Position, Facing: last.Facing, Velocity: 0}
}
