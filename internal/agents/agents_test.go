package agents

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/talgya/aitown/internal/engine"
	"github.com/talgya/aitown/internal/llm"
	"github.com/talgya/aitown/internal/store"
	"github.com/talgya/aitown/internal/world"
)

type stubBrain struct {
	line string
}

func (b stubBrain) Enabled() bool  { return true }
func (b stubBrain) CanEmbed() bool { return false }

func (b stubBrain) Chat(ctx context.Context, req llm.ChatRequest) (string, error) {
	return b.line, nil
}

func (b stubBrain) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	return nil, context.Canceled
}

func TestRankMemoriesByEmbedding(t *testing.T) {
	memories := []Memory{
		{Description: "weather", Created: 3, Embedding: []float64{0, 1}},
		{Description: "cheese", Created: 1, Embedding: []float64{1, 0}},
		{Description: "mixed", Created: 2, Embedding: []float64{0.7, 0.7}},
	}
	ranked := rankMemories(memories, []float64{1, 0}, 2)
	require.Len(t, ranked, 2)
	require.Equal(t, "cheese", ranked[0].Description)
	require.Equal(t, "mixed", ranked[1].Description)
}

func TestRankMemoriesFallsBackToRecency(t *testing.T) {
	memories := []Memory{
		{Description: "old", Created: 1},
		{Description: "new", Created: 9},
		{Description: "middle", Created: 5},
	}
	ranked := rankMemories(memories, nil, 3)
	require.Equal(t, []string{"new", "middle", "old"},
		[]string{ranked[0].Description, ranked[1].Description, ranked[2].Description})
}

func TestConversationPromptStopsPartnerVoice(t *testing.T) {
	prompt := conversationPrompt{
		Self:        world.Agent{Identity: "Grumpy gardener.", Plan: "Avoid people."},
		SelfName:    "Bob",
		PartnerName: "Lucky",
		FirstLine:   true,
	}
	req := prompt.build()
	require.Contains(t, req.Stop, "\nLucky:")
	require.Contains(t, req.Stop, "\nBob:")
	require.Contains(t, req.System, "Grumpy gardener.")
	require.Contains(t, req.Messages[0].Content, "Bob:")
}

// agentHarness wires a tiny world with two agent-driven players.
type agentHarness struct {
	t        *testing.T
	store    *store.Memory
	clockMs  int64
	runner   *engine.Runner
	runtime  *Runtime
	worldID  string
	engineID string
	agentIDs []string
}

func newAgentHarness(t *testing.T) *agentHarness {
	h := &agentHarness{t: t, store: store.NewMemory()}
	clock := func() int64 { return h.clockMs }
	h.runner = engine.NewRunner(h.store, clock, world.NewGameFactory())
	ctx := context.Background()

	err := h.store.RunTransaction(ctx, func(tx store.Tx) error {
		engineID, err := h.runner.CreateEngine(tx)
		if err != nil {
			return err
		}
		h.engineID = engineID
		h.worldID = uuid.NewString()

		size := 12
		m := world.WorldMap{
			ID:          uuid.NewString(),
			WorldID:     h.worldID,
			Width:       size,
			Height:      size,
			BgTiles:     make([][]int, size),
			ObjectTiles: make([][]int, size),
		}
		for y := 0; y < size; y++ {
			m.BgTiles[y] = make([]int, size)
			m.ObjectTiles[y] = make([]int, size)
			for x := 0; x < size; x++ {
				m.ObjectTiles[y][x] = -1
			}
		}
		if err := tx.Insert(world.TableMaps, m.ID, m); err != nil {
			return err
		}
		return tx.Insert(world.TableWorlds, h.worldID, world.World{
			ID:        h.worldID,
			EngineID:  engineID,
			MapID:     m.ID,
			Status:    world.StatusRunning,
			IsDefault: true,
		})
	})
	require.NoError(t, err)
	require.NoError(t, h.runner.Start(ctx, h.engineID))

	for _, name := range []string{"Lucky", "Bob"} {
		inputID, err := h.runner.InsertInput(ctx, h.engineID, "join", world.JoinArgs{Name: name, Character: "f1"})
		require.NoError(t, err)
		h.engineStep()
		rv, err := h.runner.InputStatus(ctx, inputID)
		require.NoError(t, err)
		require.Equal(t, "ok", rv.Kind)
		var playerID string
		require.NoError(t, json.Unmarshal(rv.Value, &playerID))

		agentID := uuid.NewString()
		err = h.store.RunTransaction(ctx, func(tx store.Tx) error {
			return tx.Insert(world.TableAgents, agentID, world.Agent{
				ID:       agentID,
				WorldID:  h.worldID,
				PlayerID: playerID,
				Identity: name + " is a test subject.",
				Plan:     "You want to chat.",
			})
		})
		require.NoError(t, err)
		h.agentIDs = append(h.agentIDs, agentID)
	}

	h.runtime = NewRuntime(h.store, h.runner, stubBrain{line: "Nice weather today."}, h.worldID, clock, 1)
	h.runtime.inviteChance = 1
	h.runtime.acceptProbability = 1
	return h
}

func (h *agentHarness) engineStep() {
	h.clockMs += 1000
	e, err := h.runner.Load(context.Background(), h.engineID)
	require.NoError(h.t, err)
	require.NoError(h.t, h.runner.RunStep(context.Background(), h.engineID, e.GenerationNumber))
}

func (h *agentHarness) town() *world.AiTown {
	var town *world.AiTown
	err := h.store.RunTransaction(context.Background(), func(tx store.Tx) error {
		var err error
		town, err = world.LoadByID(tx, h.worldID)
		return err
	})
	require.NoError(h.t, err)
	return town
}

func TestAgentsConverseAndRemember(t *testing.T) {
	h := newAgentHarness(t)
	ctx := context.Background()

	// Past the global conversation cooldown so invites are allowed.
	h.clockMs = 100_000

	states := []*loopState{{}, {}}
	var sawMessage bool
	for i := 0; i < 200; i++ {
		for j, agentID := range h.agentIDs {
			done, err := h.runtime.stepAgent(ctx, states[j], agentID)
			require.NoError(t, err)
			require.False(t, done)
		}
		h.engineStep()

		town := h.town()
		if len(town.Messages.All()) > 0 {
			sawMessage = true
		}
		memories, err := loadMemories(ctx, h.store, h.agentIDs[0])
		require.NoError(t, err)
		if sawMessage && len(memories) > 0 {
			require.NotEmpty(t, memories[0].Description)
			require.NotEmpty(t, memories[0].ConversationID)
			return
		}
	}
	t.Fatalf("agents never completed a conversation (sawMessage=%v)", sawMessage)
}

func TestAgentStopsWhenPlayerLeaves(t *testing.T) {
	h := newAgentHarness(t)
	ctx := context.Background()

	town := h.town()
	agent, ok := town.Agents.Find(func(a world.Agent) bool { return a.ID == h.agentIDs[0] })
	require.True(t, ok)

	leaveID, err := h.runner.InsertInput(ctx, h.engineID, "leave", world.LeaveArgs{PlayerID: agent.PlayerID})
	require.NoError(t, err)
	h.engineStep()
	rv, err := h.runner.InputStatus(ctx, leaveID)
	require.NoError(t, err)
	require.Equal(t, "ok", rv.Kind)

	done, err := h.runtime.stepAgent(ctx, &loopState{}, h.agentIDs[0])
	require.NoError(t, err)
	require.True(t, done, "loop should end once the player is gone")
}
