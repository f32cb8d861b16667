package world

import (
	"errors"
	"log/slog"

	"github.com/talgya/aitown/internal/geometry"
	"github.com/talgya/aitown/internal/pathfinding"
)

// tickPathfinding plans routes for players that need one. Planner errors
// never abort the tick: the offending player's path is cleared and the
// plan retried after a backoff.
func (t *AiTown) tickPathfinding(now int64) {
	for _, p := range t.Players.All() {
		if p.PathfindingState != PathStateNeedsPath || p.Destination == nil {
			continue
		}
		if now < p.ReplanAfter {
			continue
		}
		if now-p.PathfindingStarted > PathfindingTimeout {
			slog.Debug("pathfinding timed out", "player", p.ID)
			t.clearPath(p.ID)
			continue
		}

		loc, err := t.Locations.Lookup(p.LocationID)
		if err != nil {
			t.clearPath(p.ID)
			continue
		}

		route, err := pathfinding.FindRoute(pathfinding.Query{
			Width:       t.Map.Width,
			Height:      t.Map.Height,
			Blocked:     t.Map.Blocked,
			Occupied:    t.occupiedBy(p.ID),
			Start:       loc.Point(),
			Destination: *p.Destination,
			Speed:       MovementSpeed,
			Now:         float64(now),
		})
		if err != nil {
			if !errors.Is(err, pathfinding.ErrNoRoute) {
				slog.Debug("pathfinding failed", "player", p.ID, "error", err)
			}
			// Back off and try again; the blocker may move.
			_ = t.Players.Update(p.ID, func(p *Player) {
				p.Path = nil
				p.ReplanAfter = now + PathfindingBackoff
			})
			continue
		}
		_ = t.Players.Update(p.ID, func(p *Player) {
			p.Path = route.Path
			p.PathfindingState = PathStateMoving
			if route.NewDestination != nil {
				p.Destination = route.NewDestination
			}
		})
	}
}

// tickMovement advances every moving player along its path and recomputes
// the derived location fields.
func (t *AiTown) tickMovement(now int64) {
	for _, p := range t.Players.All() {
		if len(p.Path) == 0 {
			continue
		}
		end := p.Path[len(p.Path)-1]
		if float64(now) >= end.T {
			// Arrived.
			t.writeLocation(p.LocationID, now, end.Position, end.Facing, 0)
			_ = t.Players.Update(p.ID, func(p *Player) {
				p.Path = nil
				p.Destination = nil
				p.PathfindingState = PathStateIdle
			})
			continue
		}

		pos := geometry.Position(p.Path, float64(now))
		if blocker, blocked := t.plantedNear(p.ID, pos.Position); blocked {
			// Someone is planted in the way: stall here and replan.
			slog.Debug("movement stalled", "player", p.ID, "blocker", blocker)
			if loc, err := t.Locations.Lookup(p.LocationID); err == nil {
				t.writeLocation(p.LocationID, now, loc.Point(), geometry.Vector{DX: loc.DX, DY: loc.DY}, 0)
			}
			_ = t.Players.Update(p.ID, func(p *Player) {
				p.Path = nil
				p.PathfindingState = PathStateNeedsPath
				p.ReplanAfter = now + PathfindingBackoff
			})
			continue
		}
		t.writeLocation(p.LocationID, now, pos.Position, pos.Facing, pos.Velocity)
	}
}

func (t *AiTown) writeLocation(locationID string, now int64, pos geometry.Point, facing geometry.Vector, velocity float64) {
	err := t.Locations.WriteFields(locationID, float64(now), map[string]float64{
		"x":        pos.X,
		"y":        pos.Y,
		"dx":       facing.DX,
		"dy":       facing.DY,
		"velocity": velocity,
	})
	if err != nil {
		slog.Error("write location", "location", locationID, "error", err)
	}
}

// occupiedBy builds the pathfinder's dynamic-obstacle check for a player:
// a position is occupied at time ts when any other player will be within
// CollisionThreshold of it then, judged by their planned paths.
func (t *AiTown) occupiedBy(playerID string) func(pos geometry.Point, ts float64) bool {
	others := t.Players.Filter(func(p Player) bool { return p.ID != playerID })
	return func(pos geometry.Point, ts float64) bool {
		for _, other := range others {
			at, ok := t.playerPositionAt(other, ts)
			if !ok {
				continue
			}
			if geometry.Distance(pos, at) < CollisionThreshold {
				return true
			}
		}
		return false
	}
}

// playerPositionAt is where a player will be at time ts: interpolated
// along their path while it covers ts, their resting position otherwise.
func (t *AiTown) playerPositionAt(p Player, ts float64) (geometry.Point, bool) {
	if geometry.PathOverlaps(p.Path, ts) {
		return geometry.Position(p.Path, ts).Position, true
	}
	if len(p.Path) > 0 && ts > p.Path[len(p.Path)-1].T {
		return p.Path[len(p.Path)-1].Position, true
	}
	loc, err := t.Locations.Lookup(p.LocationID)
	if err != nil {
		return geometry.Point{}, false
	}
	return loc.Point(), true
}

// plantedNear reports whether a stationary player other than playerID is
// within CollisionThreshold of pos this tick.
func (t *AiTown) plantedNear(playerID string, pos geometry.Point) (string, bool) {
	for _, other := range t.Players.All() {
		if other.ID == playerID || len(other.Path) > 0 {
			continue
		}
		loc, err := t.Locations.Lookup(other.LocationID)
		if err != nil {
			continue
		}
		if geometry.Distance(pos, loc.Point()) < CollisionThreshold {
			return other.ID, true
		}
	}
	return "", false
}

func (t *AiTown) clearPath(playerID string) {
	_ = t.Players.Update(playerID, func(p *Player) {
		p.Path = nil
		p.Destination = nil
		p.PathfindingState = PathStateIdle
		p.ReplanAfter = 0
	})
}
