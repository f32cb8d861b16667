// Tile map generation using layered simplex noise: a grass/dirt/water
// background layer and a scattered-obstacle object layer.
package world

import (
	"math/rand"

	"github.com/google/uuid"
	opensimplex "github.com/ojrac/opensimplex-go"
)

// Background tile kinds. The renderer maps these onto its tileset; the
// simulation only cares about the object layer.
const (
	tileGrass = 0
	tileDirt  = 1
	tileWater = 2
)

// Object tile kinds. -1 is walkable.
const (
	objectNone = -1
	objectTree = 0
	objectRock = 1
)

// GenConfig holds map generation parameters.
type GenConfig struct {
	Width  int
	Height int
	Seed   int64 // 0 = random
}

// DefaultGenConfig returns the standard town-sized map.
func DefaultGenConfig() GenConfig {
	return GenConfig{Width: 64, Height: 48}
}

// GenerateMap creates a tile map for a world. Water and obstacle
// placement are deterministic for a given seed; the walkable interior is
// kept connected enough for wandering by capping obstacle density.
func GenerateMap(worldID string, cfg GenConfig) WorldMap {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	terrainNoise := opensimplex.NewNormalized(seed)
	scatterNoise := opensimplex.NewNormalized(seed + 1)

	m := WorldMap{
		ID:          uuid.NewString(),
		WorldID:     worldID,
		Width:       cfg.Width,
		Height:      cfg.Height,
		BgTiles:     make([][]int, cfg.Height),
		ObjectTiles: make([][]int, cfg.Height),
	}

	for y := 0; y < cfg.Height; y++ {
		m.BgTiles[y] = make([]int, cfg.Width)
		m.ObjectTiles[y] = make([]int, cfg.Width)
		for x := 0; x < cfg.Width; x++ {
			terrain := terrainNoise.Eval2(float64(x)*0.08, float64(y)*0.08)
			scatter := scatterNoise.Eval2(float64(x)*0.35, float64(y)*0.35)

			switch {
			case terrain < 0.18:
				m.BgTiles[y][x] = tileWater
			case terrain < 0.30:
				m.BgTiles[y][x] = tileDirt
			default:
				m.BgTiles[y][x] = tileGrass
			}

			m.ObjectTiles[y][x] = objectNone
			if m.BgTiles[y][x] == tileWater {
				m.ObjectTiles[y][x] = objectRock
				continue
			}
			// Sparse trees and rocks on land.
			if scatter > 0.92 {
				m.ObjectTiles[y][x] = objectTree
			} else if scatter < 0.03 {
				m.ObjectTiles[y][x] = objectRock
			}
		}
	}
	return m
}
