package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/talgya/aitown/internal/store"
)

// stubGame records the order of input applications and ticks.
type stubGame struct {
	applied *[]string
	ticks   *[]int64
	fail    map[string]error
}

func (g *stubGame) HandleInput(name string, args json.RawMessage) (json.RawMessage, error) {
	if err := g.fail[name]; err != nil {
		return nil, err
	}
	*g.applied = append(*g.applied, name)
	return json.Marshal(name)
}

func (g *stubGame) Tick(now int64)            { *g.ticks = append(*g.ticks, now) }
func (g *stubGame) Save(currentTime int64) error { return nil }

type harness struct {
	store   *store.Memory
	clockMs int64
	runner  *Runner
	applied []string
	ticks   []int64
	fail    map[string]error
}

func newHarness(t *testing.T) *harness {
	h := &harness{store: store.NewMemory(), fail: map[string]error{}}
	h.runner = NewRunner(h.store, func() int64 { return h.clockMs }, func(tx store.Tx, engineID string) (Game, error) {
		return &stubGame{applied: &h.applied, ticks: &h.ticks, fail: h.fail}, nil
	})
	return h
}

func (h *harness) createEngine(t *testing.T) string {
	var id string
	err := h.store.RunTransaction(context.Background(), func(tx store.Tx) error {
		var err error
		id, err = h.runner.CreateEngine(tx)
		return err
	})
	require.NoError(t, err)
	return id
}

func (h *harness) engine(t *testing.T, id string) Engine {
	e, err := h.runner.Load(context.Background(), id)
	require.NoError(t, err)
	return e
}

func (h *harness) input(t *testing.T, id string) Input {
	var in Input
	err := h.store.RunTransaction(context.Background(), func(tx store.Tx) error {
		return tx.Get(TableInputs, id, &in)
	})
	require.NoError(t, err)
	return in
}

func TestInputsProcessedInOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.createEngine(t)
	require.NoError(t, h.runner.Start(ctx, id))

	h.clockMs = 50
	aID, err := h.runner.InsertInput(ctx, id, "moveTo", map[string]int{"x": 1})
	require.NoError(t, err)
	h.clockMs = 300
	bID, err := h.runner.InsertInput(ctx, id, "sendMessage", map[string]int{"n": 2})
	require.NoError(t, err)

	h.clockMs = 500
	gen := h.engine(t, id).GenerationNumber
	require.NoError(t, h.runner.RunStep(ctx, id, gen))

	require.Equal(t, []string{"moveTo", "sendMessage"}, h.applied)

	a, b := h.input(t, aID), h.input(t, bID)
	require.Equal(t, int64(0), a.Number)
	require.Equal(t, int64(1), b.Number)
	require.NotNil(t, a.ReturnValue)
	require.NotNil(t, b.ReturnValue)
	require.Equal(t, "ok", a.ReturnValue.Kind)

	e := h.engine(t, id)
	require.Equal(t, int64(500), e.LastStepTs)
	require.Equal(t, int64(500), e.CurrentTime)
	require.Equal(t, int64(1), e.ProcessedInputNumber)
}

func TestInputErrorRecordedWithoutAbortingStep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.createEngine(t)
	require.NoError(t, h.runner.Start(ctx, id))
	h.fail["explode"] = errors.New("blocked destination")

	h.clockMs = 10
	badID, err := h.runner.InsertInput(ctx, id, "explode", nil)
	require.NoError(t, err)
	goodID, err := h.runner.InsertInput(ctx, id, "moveTo", nil)
	require.NoError(t, err)

	h.clockMs = 100
	require.NoError(t, h.runner.RunStep(ctx, id, h.engine(t, id).GenerationNumber))

	bad := h.input(t, badID)
	require.Equal(t, "error", bad.ReturnValue.Kind)
	require.Equal(t, "blocked destination", bad.ReturnValue.Message)

	good := h.input(t, goodID)
	require.Equal(t, "ok", good.ReturnValue.Kind)
	require.Equal(t, []string{"moveTo"}, h.applied)
}

func TestGenerationFencing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.createEngine(t)
	require.NoError(t, h.runner.Start(ctx, id))
	staleGen := h.engine(t, id).GenerationNumber

	// A kick supersedes the outstanding schedule.
	require.NoError(t, h.runner.Kick(ctx, id))

	h.clockMs = 5000
	_, err := h.runner.InsertInput(ctx, id, "moveTo", nil)
	require.NoError(t, err)

	before := h.engine(t, id)
	require.NoError(t, h.runner.RunStep(ctx, id, staleGen))
	after := h.engine(t, id)

	require.Equal(t, before, after, "stale step must commit nothing")
	require.Empty(t, h.applied)
}

func TestStoppedEngineStepIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.createEngine(t)
	require.NoError(t, h.runner.Start(ctx, id))
	gen := h.engine(t, id).GenerationNumber
	require.NoError(t, h.runner.Stop(ctx, id))

	h.clockMs = 1000
	require.NoError(t, h.runner.RunStep(ctx, id, gen))
	e := h.engine(t, id)
	require.Equal(t, StateStopped, e.State)
	require.Equal(t, int64(0), e.LastStepTs)
	require.Nil(t, e.ScheduledSelfTs)
}

func TestEmptyStepLeavesTimeUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.createEngine(t)
	require.NoError(t, h.runner.Start(ctx, id))

	h.clockMs = 10 // Less than one tick and no inputs.
	require.NoError(t, h.runner.RunStep(ctx, id, h.engine(t, id).GenerationNumber))

	e := h.engine(t, id)
	require.Equal(t, int64(0), e.CurrentTime)
	require.Equal(t, int64(0), e.LastStepTs)
	require.Empty(t, h.ticks)
	require.NotNil(t, e.ScheduledSelfTs)
}

func TestTickAdvancesInSubSteps(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.createEngine(t)
	require.NoError(t, h.runner.Start(ctx, id))

	h.clockMs = 80
	require.NoError(t, h.runner.RunStep(ctx, id, h.engine(t, id).GenerationNumber))

	require.Equal(t, []int64{16, 32, 48, 64, 80}, h.ticks)
	e := h.engine(t, id)
	require.Equal(t, int64(80), e.CurrentTime)
}

func TestInsertInputKicksDistantSchedule(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.createEngine(t)
	require.NoError(t, h.runner.Start(ctx, id))

	// Simulate an engine whose next step sits far in the future.
	far := int64(10_000)
	err := h.store.RunTransaction(ctx, func(tx store.Tx) error {
		var e Engine
		if err := tx.Get(TableEngines, id, &e); err != nil {
			return err
		}
		e.ScheduledSelfTs = &far
		return tx.Replace(TableEngines, id, e)
	})
	require.NoError(t, err)

	genBefore := h.engine(t, id).GenerationNumber
	h.clockMs = 100
	_, err = h.runner.InsertInput(ctx, id, "moveTo", nil)
	require.NoError(t, err)

	e := h.engine(t, id)
	require.Equal(t, genBefore+1, e.GenerationNumber, "distant schedule should be kicked")
	require.Equal(t, int64(100), *e.ScheduledSelfTs)

	// The kicked schedule is due immediately.
	due, err := h.store.ClaimDue(ctx, 100, 10)
	require.NoError(t, err)
	found := false
	for _, task := range due {
		var args runStepArgs
		require.NoError(t, json.Unmarshal(task.Args, &args))
		if args.Generation == e.GenerationNumber {
			found = true
		}
	}
	require.True(t, found, "expected an immediate runStep task for the new generation")
}

func TestDenseInputNumbers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.createEngine(t)
	require.NoError(t, h.runner.Start(ctx, id))

	for i := 0; i < 5; i++ {
		inID, err := h.runner.InsertInput(ctx, id, fmt.Sprintf("input-%d", i), nil)
		require.NoError(t, err)
		require.Equal(t, int64(i), h.input(t, inID).Number)
	}
}
