package world

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/talgya/aitown/internal/engine"
	"github.com/talgya/aitown/internal/geometry"
	"github.com/talgya/aitown/internal/historical"
	"github.com/talgya/aitown/internal/store"
)

type townHarness struct {
	t        *testing.T
	store    *store.Memory
	clockMs  int64
	runner   *engine.Runner
	worldID  string
	engineID string
}

func newTownHarness(t *testing.T, width, height int, walls [][2]int) *townHarness {
	h := &townHarness{t: t, store: store.NewMemory()}
	h.runner = engine.NewRunner(h.store, func() int64 { return h.clockMs }, NewGameFactory())

	ctx := context.Background()
	err := h.store.RunTransaction(ctx, func(tx store.Tx) error {
		engineID, err := h.runner.CreateEngine(tx)
		if err != nil {
			return err
		}
		h.engineID = engineID
		h.worldID = uuid.NewString()

		m := WorldMap{
			ID:          uuid.NewString(),
			WorldID:     h.worldID,
			Width:       width,
			Height:      height,
			BgTiles:     make([][]int, height),
			ObjectTiles: make([][]int, height),
		}
		for y := 0; y < height; y++ {
			m.BgTiles[y] = make([]int, width)
			m.ObjectTiles[y] = make([]int, width)
			for x := 0; x < width; x++ {
				m.ObjectTiles[y][x] = objectNone
			}
		}
		for _, w := range walls {
			m.ObjectTiles[w[1]][w[0]] = objectRock
		}
		if err := tx.Insert(TableMaps, m.ID, m); err != nil {
			return err
		}
		return tx.Insert(TableWorlds, h.worldID, World{
			ID:        h.worldID,
			EngineID:  engineID,
			MapID:     m.ID,
			Status:    StatusRunning,
			IsDefault: true,
		})
	})
	require.NoError(t, err)
	require.NoError(t, h.runner.Start(ctx, h.engineID))
	return h
}

// sendInput inserts an input and returns its id.
func (h *townHarness) sendInput(name string, args any) string {
	id, err := h.runner.InsertInput(context.Background(), h.engineID, name, args)
	require.NoError(h.t, err)
	return id
}

// step advances the wall clock to ms and runs one engine step.
func (h *townHarness) step(ms int64) {
	h.clockMs = ms
	e, err := h.runner.Load(context.Background(), h.engineID)
	require.NoError(h.t, err)
	require.NoError(h.t, h.runner.RunStep(context.Background(), h.engineID, e.GenerationNumber))
}

// result returns an input's recorded outcome, failing if still pending.
func (h *townHarness) result(inputID string) *engine.ReturnValue {
	rv, err := h.runner.InputStatus(context.Background(), inputID)
	require.NoError(h.t, err)
	require.NotNil(h.t, rv, "input %s still pending", inputID)
	return rv
}

func (h *townHarness) okString(inputID string) string {
	rv := h.result(inputID)
	require.Equal(h.t, "ok", rv.Kind, "input failed: %s", rv.Message)
	var s string
	require.NoError(h.t, json.Unmarshal(rv.Value, &s))
	return s
}

// town loads a read-only snapshot of the world.
func (h *townHarness) town() *AiTown {
	var town *AiTown
	err := h.store.RunTransaction(context.Background(), func(tx store.Tx) error {
		var err error
		town, err = LoadByID(tx, h.worldID)
		return err
	})
	require.NoError(h.t, err)
	return town
}

func (h *townHarness) join(name string) string {
	id := h.sendInput("join", JoinArgs{Name: name, Character: "f1"})
	h.step(h.clockMs + 100)
	return h.okString(id)
}

func (h *townHarness) location(playerID string) Location {
	town := h.town()
	p, err := town.Players.Lookup(playerID)
	require.NoError(h.t, err)
	loc, err := town.Locations.Lookup(p.LocationID)
	require.NoError(h.t, err)
	return loc
}

func TestJoinSpawnsPlayerWithLocation(t *testing.T) {
	h := newTownHarness(t, 10, 10, nil)
	playerID := h.join("Lucky")

	town := h.town()
	p, err := town.Players.Lookup(playerID)
	require.NoError(t, err)
	require.Equal(t, "Lucky", p.Name)

	loc, err := town.Locations.Lookup(p.LocationID)
	require.NoError(t, err)
	require.False(t, town.Map.Blocked(int(loc.X), int(loc.Y)))
}

func TestDuplicateJoinRejected(t *testing.T) {
	h := newTownHarness(t, 10, 10, nil)
	h.join("Lucky")

	id := h.sendInput("join", JoinArgs{Name: "Lucky"})
	h.step(h.clockMs + 100)
	rv := h.result(id)
	require.Equal(t, "error", rv.Kind)
	require.Contains(t, rv.Message, "already joined")
}

func TestMoveToWalksPlayerToDestination(t *testing.T) {
	h := newTownHarness(t, 10, 10, nil)
	playerID := h.join("Lucky")
	start := h.location(playerID)

	moveID := h.sendInput("moveTo", MoveToArgs{
		PlayerID:    playerID,
		Destination: geometry.Point{X: 4, Y: 3},
	})

	// 7 tiles at 0.75 tiles/s is under 10 s of simulated time.
	for ms := h.clockMs + 1000; ms <= 15_000; ms += 1000 {
		h.step(ms)
	}

	require.Equal(t, "ok", h.result(moveID).Kind)
	loc := h.location(playerID)
	require.Equal(t, 4.0, loc.X)
	require.Equal(t, 3.0, loc.Y)
	require.Equal(t, 0.0, loc.Velocity)
	require.NotEqual(t, start.Point(), loc.Point())

	town := h.town()
	p, err := town.Players.Lookup(playerID)
	require.NoError(t, err)
	require.Empty(t, p.Path)
	require.Nil(t, p.Destination)
}

func TestMovementWritesLocationHistory(t *testing.T) {
	h := newTownHarness(t, 10, 10, nil)
	playerID := h.join("Lucky")

	h.sendInput("moveTo", MoveToArgs{PlayerID: playerID, Destination: geometry.Point{X: 3, Y: 0}})
	h.step(h.clockMs + 1000)
	h.step(h.clockMs + 1000)

	loc := h.location(playerID)
	require.NotEmpty(t, loc.History)

	hist, err := historical.Unpack(loc.History)
	require.NoError(t, err)
	xs := hist["x"].Samples
	require.NotEmpty(t, xs)
	for i := 1; i < len(xs); i++ {
		require.Greater(t, xs[i].Time, xs[i-1].Time, "sample times must be ordered")
	}
}

func TestMoveToBlockedDestinationFails(t *testing.T) {
	h := newTownHarness(t, 10, 10, [][2]int{{5, 5}})
	playerID := h.join("Lucky")

	id := h.sendInput("moveTo", MoveToArgs{PlayerID: playerID, Destination: geometry.Point{X: 5, Y: 5}})
	h.step(h.clockMs + 100)
	rv := h.result(id)
	require.Equal(t, "error", rv.Kind)
	require.Contains(t, rv.Message, "blocked")
}

func TestMoveToUnknownPlayerFails(t *testing.T) {
	h := newTownHarness(t, 10, 10, nil)
	h.join("Lucky")

	id := h.sendInput("moveTo", MoveToArgs{PlayerID: "nobody", Destination: geometry.Point{X: 1, Y: 1}})
	h.step(h.clockMs + 100)
	require.Equal(t, "error", h.result(id).Kind)
}

func TestLeaveDeactivatesPlayer(t *testing.T) {
	h := newTownHarness(t, 10, 10, nil)
	playerID := h.join("Lucky")

	id := h.sendInput("leave", LeaveArgs{PlayerID: playerID})
	h.step(h.clockMs + 100)
	require.Equal(t, "ok", h.result(id).Kind)

	town := h.town()
	_, err := town.Players.Lookup(playerID)
	require.Error(t, err)
}

func TestUnknownInputNameFails(t *testing.T) {
	h := newTownHarness(t, 10, 10, nil)
	id := h.sendInput("teleport", map[string]any{})
	h.step(h.clockMs + 100)
	rv := h.result(id)
	require.Equal(t, "error", rv.Kind)
	require.Contains(t, rv.Message, "unknown input")
}

func TestEngineSurvivesManyMixedInputs(t *testing.T) {
	h := newTownHarness(t, 16, 16, nil)
	lucky := h.join("Lucky")

	var ids []string
	for i := 0; i < 10; i++ {
		ids = append(ids, h.sendInput("moveTo", MoveToArgs{
			PlayerID:    lucky,
			Destination: geometry.Point{X: float64(i % 8), Y: float64((i * 3) % 8)},
		}))
		ids = append(ids, h.sendInput("bogus", nil))
	}
	h.step(h.clockMs + 1000)

	for i, id := range ids {
		rv := h.result(id)
		require.NotNil(t, rv, fmt.Sprintf("input %d unprocessed", i))
	}
	e, err := h.runner.Load(context.Background(), h.engineID)
	require.NoError(t, err)
	require.Equal(t, engine.StateRunning, e.State)
}
