package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/talgya/aitown/internal/store"
)

const (
	// TableEngines and TableInputs are the store tables the runner owns.
	TableEngines = "engines"
	TableInputs  = "inputs"

	// TaskRunStep is the scheduler task name for self-scheduled steps.
	TaskRunStep = "engine.runStep"
)

// Game is one tick-advanceable world bound to a transaction. The runner
// loads a fresh Game per step; nothing survives the transaction.
type Game interface {
	// HandleInput applies one drained input. It either returns an ok
	// value or an error to record on the input; it must not panic.
	HandleInput(name string, args json.RawMessage) (json.RawMessage, error)
	// Tick advances world rules to simulated time now.
	Tick(now int64)
	// Save flushes all dirty game tables.
	Save(currentTime int64) error
}

// GameFactory loads the game a given engine drives, inside tx.
type GameFactory func(tx store.Tx, engineID string) (Game, error)

// Runner owns engine documents and the step/input machinery.
type Runner struct {
	store   store.Store
	clock   func() int64
	newGame GameFactory
}

// NewRunner creates a runner. clock returns unix milliseconds.
func NewRunner(s store.Store, clock func() int64, newGame GameFactory) *Runner {
	return &Runner{store: s, clock: clock, newGame: newGame}
}

type runStepArgs struct {
	EngineID   string `json:"engineId"`
	Generation int64  `json:"generation"`
}

// Register binds the runner's scheduler tasks.
func (r *Runner) Register(s *store.Scheduler) {
	s.Register(TaskRunStep, func(ctx context.Context, args json.RawMessage) error {
		var a runStepArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return fmt.Errorf("decode runStep args: %w", err)
		}
		return r.RunStep(ctx, a.EngineID, a.Generation)
	})
}

// CreateEngine inserts a fresh stopped engine and returns its id.
func (r *Runner) CreateEngine(tx store.Tx) (string, error) {
	id := uuid.NewString()
	if err := tx.Insert(TableEngines, id, NewEngine(id, r.clock())); err != nil {
		return "", fmt.Errorf("create engine: %w", err)
	}
	return id, nil
}

// Start transitions the engine to running under a new generation and
// schedules an immediate step. Starting a running engine is a kick.
func (r *Runner) Start(ctx context.Context, engineID string) error {
	return r.store.RunTransaction(ctx, func(tx store.Tx) error {
		var e Engine
		if err := tx.Get(TableEngines, engineID, &e); err != nil {
			return err
		}
		return r.kick(tx, &e)
	})
}

// Stop halts the engine. The pending scheduled step discovers the stop via
// the generation fence and exits without mutation.
func (r *Runner) Stop(ctx context.Context, engineID string) error {
	return r.store.RunTransaction(ctx, func(tx store.Tx) error {
		var e Engine
		if err := tx.Get(TableEngines, engineID, &e); err != nil {
			return err
		}
		if e.State == StateStopped {
			return nil
		}
		e.State = StateStopped
		e.ScheduledSelfTs = nil
		e.GenerationNumber++
		return tx.Replace(TableEngines, e.ID, e)
	})
}

// Kick bumps the generation and reschedules immediately, cancelling the
// effect of any pending step.
func (r *Runner) Kick(ctx context.Context, engineID string) error {
	return r.Start(ctx, engineID)
}

func (r *Runner) kick(tx store.Tx, e *Engine) error {
	now := r.clock()
	e.State = StateRunning
	e.GenerationNumber++
	e.ScheduledSelfTs = &now
	if err := tx.Replace(TableEngines, e.ID, *e); err != nil {
		return err
	}
	return tx.Schedule(now, TaskRunStep, runStepArgs{EngineID: e.ID, Generation: e.GenerationNumber})
}

// InsertInput allocates the next input number for the engine and persists
// the input. If the engine's next step is more than InputDelay away it is
// kicked so the input doesn't sit in the queue.
func (r *Runner) InsertInput(ctx context.Context, engineID, name string, args any) (string, error) {
	id := uuid.NewString()
	rawArgs, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("marshal input args: %w", err)
	}
	err = r.store.RunTransaction(ctx, func(tx store.Tx) error {
		var e Engine
		if err := tx.Get(TableEngines, engineID, &e); err != nil {
			return err
		}
		number := int64(0)
		if max, found, err := tx.MaxInt(TableInputs, "number", store.Eq{Field: "engineId", Value: engineID}); err != nil {
			return err
		} else if found {
			number = max + 1
		}
		now := r.clock()
		in := Input{
			ID:         id,
			EngineID:   engineID,
			Number:     number,
			Name:       name,
			Args:       rawArgs,
			ReceivedTs: now,
		}
		if err := tx.Insert(TableInputs, id, in); err != nil {
			return err
		}
		if e.State == StateRunning && e.ScheduledSelfTs != nil && *e.ScheduledSelfTs-now > InputDelay {
			return r.kick(tx, &e)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// InputStatus returns the input's recorded outcome, or nil while pending.
func (r *Runner) InputStatus(ctx context.Context, inputID string) (*ReturnValue, error) {
	var in Input
	err := r.store.RunTransaction(ctx, func(tx store.Tx) error {
		return tx.Get(TableInputs, inputID, &in)
	})
	if err != nil {
		return nil, err
	}
	return in.ReturnValue, nil
}

// Load returns the engine document.
func (r *Runner) Load(ctx context.Context, engineID string) (Engine, error) {
	var e Engine
	err := r.store.RunTransaction(ctx, func(tx store.Tx) error {
		return tx.Get(TableEngines, engineID, &e)
	})
	return e, err
}

// RunStep advances the engine by one step: drain due inputs, tick the game
// forward, flush, and reschedule. Everything commits in one transaction;
// a mismatched generation or a stopped engine commits nothing.
func (r *Runner) RunStep(ctx context.Context, engineID string, generation int64) error {
	return r.store.RunTransaction(ctx, func(tx store.Tx) error {
		var e Engine
		if err := tx.Get(TableEngines, engineID, &e); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		if e.State != StateRunning || e.GenerationNumber != generation {
			// Fenced: a stop or kick superseded this schedule.
			return nil
		}

		now := r.clock()
		stepWindow := now - e.LastStepTs
		if stepWindow > MaxStep {
			stepWindow = MaxStep
		}
		if stepWindow < 0 {
			stepWindow = 0
		}
		endTs := e.LastStepTs + stepWindow

		game, err := r.newGame(tx, engineID)
		if err != nil {
			return fmt.Errorf("load game for engine %s: %w", engineID, err)
		}

		processed := 0
		for {
			in, ok, err := nextInput(tx, engineID, e.ProcessedInputNumber+1)
			if err != nil {
				return err
			}
			if !ok || in.ReceivedTs > endTs {
				break
			}
			value, herr := game.HandleInput(in.Name, in.Args)
			if herr != nil {
				in.ReturnValue = Fail(herr)
			} else {
				in.ReturnValue = Ok(value)
			}
			if err := tx.Replace(TableInputs, in.ID, in); err != nil {
				return err
			}
			e.ProcessedInputNumber = in.Number
			processed++
		}

		if processed == 0 && stepWindow < Tick {
			// Nothing to simulate yet; just keep the schedule alive.
			sched := now + StepInterval
			e.ScheduledSelfTs = &sched
			if err := tx.Replace(TableEngines, e.ID, e); err != nil {
				return err
			}
			return tx.Schedule(sched, TaskRunStep, runStepArgs{EngineID: e.ID, Generation: e.GenerationNumber})
		}

		for t := e.LastStepTs + Tick; t <= endTs; t += Tick {
			game.Tick(t)
		}

		if err := game.Save(endTs); err != nil {
			return fmt.Errorf("save game for engine %s: %w", engineID, err)
		}

		e.CurrentTime = endTs
		e.LastStepTs = endTs
		sched := endTs + StepInterval
		e.ScheduledSelfTs = &sched
		if err := tx.Replace(TableEngines, e.ID, e); err != nil {
			return err
		}
		if processed > 0 {
			slog.Debug("engine step", "engine", e.ID, "inputs", processed, "window_ms", stepWindow)
		}
		return tx.Schedule(sched, TaskRunStep, runStepArgs{EngineID: e.ID, Generation: e.GenerationNumber})
	})
}

func nextInput(tx store.Tx, engineID string, number int64) (Input, bool, error) {
	rows, err := tx.Query(TableInputs,
		store.Eq{Field: "engineId", Value: engineID},
		store.Eq{Field: "number", Value: number},
	)
	if err != nil {
		return Input{}, false, err
	}
	if len(rows) == 0 {
		return Input{}, false, nil
	}
	var in Input
	if err := json.Unmarshal(rows[0], &in); err != nil {
		return Input{}, false, fmt.Errorf("decode input: %w", err)
	}
	return in, true, nil
}
