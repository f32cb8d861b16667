package world

import "github.com/talgya/aitown/internal/geometry"

// WorldMap is the static tile grid: a background layer for looks and an
// object layer for walkability. An object tile of -1 is walkable.
type WorldMap struct {
	ID          string  `json:"id"`
	WorldID     string  `json:"worldId"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	BgTiles     [][]int `json:"bgTiles"`
	ObjectTiles [][]int `json:"objectTiles"`
}

func (m WorldMap) DocID() string { return m.ID }
func (m WorldMap) Active() bool  { return true }

// InBounds reports whether the tile coordinate is on the map.
func (m *WorldMap) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < m.Width && y < m.Height
}

// Blocked reports whether the object layer blocks the tile. Out-of-bounds
// tiles are blocked.
func (m *WorldMap) Blocked(x, y int) bool {
	if !m.InBounds(x, y) {
		return true
	}
	return m.ObjectTiles[y][x] != -1
}

// WalkableNear returns the closest walkable tile to the given point,
// scanning outward ring by ring.
func (m *WorldMap) WalkableNear(p geometry.Point) (geometry.Point, bool) {
	cx, cy := int(p.X), int(p.Y)
	maxRadius := m.Width
	if m.Height > maxRadius {
		maxRadius = m.Height
	}
	for radius := 0; radius <= maxRadius; radius++ {
		for y := cy - radius; y <= cy+radius; y++ {
			for x := cx - radius; x <= cx+radius; x++ {
				if x != cx-radius && x != cx+radius && y != cy-radius && y != cy+radius {
					continue
				}
				if !m.Blocked(x, y) {
					return geometry.Point{X: float64(x), Y: float64(y)}, true
				}
			}
		}
	}
	return geometry.Point{}, false
}
