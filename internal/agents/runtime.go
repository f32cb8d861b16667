// Package agents runs the decision loop behind every LLM-driven
// character. Each agent is a cooperative task that observes the world
// through store queries and acts exclusively by submitting engine inputs,
// which keeps the engine's serial-tick semantics intact.
package agents

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/talgya/aitown/internal/engine"
	"github.com/talgya/aitown/internal/llm"
	"github.com/talgya/aitown/internal/store"
	"github.com/talgya/aitown/internal/world"
)

// Brain is the slice of the LLM client the agent loop needs.
type Brain interface {
	Enabled() bool
	CanEmbed() bool
	Chat(ctx context.Context, req llm.ChatRequest) (string, error)
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// rescanInterval is how often the runtime looks for newly created agents.
const rescanInterval = 30 * time.Second

// Runtime supervises one world's agent loops.
type Runtime struct {
	store   store.Store
	runner  *engine.Runner
	brain   Brain
	worldID string
	clock   func() int64

	// Tunable probabilities; tests pin them.
	inviteChance      float64
	acceptProbability float64

	mu    sync.Mutex
	rng   *rand.Rand
	loops map[string]struct{}
	wg    sync.WaitGroup
}

// NewRuntime creates the agent supervisor for a world.
func NewRuntime(s store.Store, runner *engine.Runner, brain Brain, worldID string, clock func() int64, seed int64) *Runtime {
	return &Runtime{
		store:             s,
		runner:            runner,
		brain:             brain,
		worldID:           worldID,
		clock:             clock,
		inviteChance:      InviteChance,
		acceptProbability: InviteAcceptProbability,
		rng:               rand.New(rand.NewSource(seed)),
		loops:             map[string]struct{}{},
	}
}

// Run starts a loop per agent and keeps scanning for new ones until the
// context is cancelled.
func (r *Runtime) Run(ctx context.Context) {
	ticker := time.NewTicker(rescanInterval)
	defer ticker.Stop()

	r.spawnMissing(ctx)
	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			return
		case <-ticker.C:
			r.spawnMissing(ctx)
		}
	}
}

func (r *Runtime) spawnMissing(ctx context.Context) {
	var agentIDs []string
	err := r.store.RunTransaction(ctx, func(tx store.Tx) error {
		rows, err := tx.Query(world.TableAgents, store.Eq{Field: "worldId", Value: r.worldID})
		if err != nil {
			return err
		}
		agentIDs = agentIDs[:0]
		for _, raw := range rows {
			var a world.Agent
			if err := json.Unmarshal(raw, &a); err != nil {
				return err
			}
			agentIDs = append(agentIDs, a.ID)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("scan agents", "world", r.worldID, "error", err)
		}
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range agentIDs {
		if _, running := r.loops[id]; running {
			continue
		}
		r.loops[id] = struct{}{}
		r.wg.Add(1)
		go r.runAgent(ctx, id)
	}
}

func (r *Runtime) runAgent(ctx context.Context, agentID string) {
	defer r.wg.Done()
	slog.Info("agent loop started", "agent", agentID)

	st := &loopState{}
	timer := time.NewTimer(r.jitteredWake())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		done, err := r.stepAgent(ctx, st, agentID)
		if err != nil {
			// Errors never kill the loop; it reschedules itself.
			slog.Error("agent step", "agent", agentID, "error", err)
		}
		if done {
			slog.Info("agent loop finished", "agent", agentID)
			return
		}
		timer.Reset(r.jitteredWake())
	}
}

// jitteredWake spreads the loops out so they don't all hit the store on
// the same instant.
func (r *Runtime) jitteredWake() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return WakeInterval + time.Duration(r.rng.Int63n(int64(WakeInterval/4)))
}

func (r *Runtime) float() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

func (r *Runtime) intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Intn(n)
}

// loopState is per-agent scratch the loop carries between wake-ups.
type loopState struct {
	// currentConversationID tracks the live conversation so its end can
	// be noticed and remembered.
	currentConversationID string
	lastInviteAttempt     int64
}
