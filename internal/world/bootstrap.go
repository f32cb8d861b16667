package world

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/talgya/aitown/internal/engine"
	"github.com/talgya/aitown/internal/store"
)

// EnsureDefaultWorld returns the default world's id, creating and seeding
// a fresh one (engine, map, townsfolk) on first run.
func EnsureDefaultWorld(ctx context.Context, s store.Store, runner *engine.Runner, cfg GenConfig, now int64) (string, error) {
	var worldID string
	created := false
	err := s.RunTransaction(ctx, func(tx store.Tx) error {
		rows, err := tx.Query(TableWorlds, store.Eq{Field: "isDefault", Value: true})
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			var w World
			if err := json.Unmarshal(rows[0], &w); err != nil {
				return err
			}
			worldID = w.ID
			return nil
		}

		engineID, err := runner.CreateEngine(tx)
		if err != nil {
			return err
		}
		worldID = uuid.NewString()
		m := GenerateMap(worldID, cfg)
		if err := tx.Insert(TableMaps, m.ID, m); err != nil {
			return err
		}
		w := World{
			ID:         worldID,
			EngineID:   engineID,
			MapID:      m.ID,
			Status:     StatusRunning,
			IsDefault:  true,
			LastViewed: now,
		}
		if err := tx.Insert(TableWorlds, worldID, w); err != nil {
			return err
		}
		if err := seedTownsfolk(tx, worldID); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return "", err
	}
	if created {
		slog.Info("created default world", "world", worldID, "townsfolk", len(Townsfolk))
	}
	return worldID, nil
}

// seedTownsfolk joins the stock characters and registers their agents.
func seedTownsfolk(tx store.Tx, worldID string) error {
	town, err := LoadByID(tx, worldID)
	if err != nil {
		return err
	}
	for _, ch := range Townsfolk {
		playerID, err := town.handleJoin(JoinArgs{
			Name:        ch.Name,
			Description: ch.Identity,
			Character:   ch.Sprite,
		})
		if err != nil {
			return fmt.Errorf("seed %s: %w", ch.Name, err)
		}
		if _, err := town.Agents.Insert(Agent{
			ID:       uuid.NewString(),
			WorldID:  worldID,
			PlayerID: playerID,
			Identity: ch.Identity,
			Plan:     ch.Plan,
		}); err != nil {
			return err
		}
	}
	return town.Save(town.now)
}

// Heartbeat records that somebody is watching the world and revives an
// idle-stopped engine. Developer-stopped worlds stay stopped.
func Heartbeat(ctx context.Context, s store.Store, runner *engine.Runner, worldID string, now int64) error {
	var engineID string
	restart := false
	err := s.RunTransaction(ctx, func(tx store.Tx) error {
		var w World
		if err := tx.Get(TableWorlds, worldID, &w); err != nil {
			return err
		}
		w.LastViewed = now
		if w.Status == StatusInactive {
			w.Status = StatusRunning
			restart = true
		}
		engineID = w.EngineID
		return tx.Replace(TableWorlds, worldID, w)
	})
	if err != nil {
		return err
	}
	if restart {
		slog.Info("reviving idle world", "world", worldID)
		return runner.Start(ctx, engineID)
	}
	return nil
}

// StopByDeveloper halts a world until a developer resumes it.
func StopByDeveloper(ctx context.Context, s store.Store, runner *engine.Runner, worldID string) error {
	var engineID string
	err := s.RunTransaction(ctx, func(tx store.Tx) error {
		var w World
		if err := tx.Get(TableWorlds, worldID, &w); err != nil {
			return err
		}
		w.Status = StatusStoppedByDeveloper
		engineID = w.EngineID
		return tx.Replace(TableWorlds, worldID, w)
	})
	if err != nil {
		return err
	}
	return runner.Stop(ctx, engineID)
}

// ResumeByDeveloper restarts a developer-stopped world.
func ResumeByDeveloper(ctx context.Context, s store.Store, runner *engine.Runner, worldID string, now int64) error {
	var engineID string
	err := s.RunTransaction(ctx, func(tx store.Tx) error {
		var w World
		if err := tx.Get(TableWorlds, worldID, &w); err != nil {
			return err
		}
		w.Status = StatusRunning
		w.LastViewed = now
		engineID = w.EngineID
		return tx.Replace(TableWorlds, worldID, w)
	})
	if err != nil {
		return err
	}
	return runner.Start(ctx, engineID)
}

// Maintenance is the periodic sweep: it idles worlds nobody watches and
// kicks engines whose self-schedule went missing (typically after a
// crash mid-step).
func Maintenance(ctx context.Context, s store.Store, runner *engine.Runner, now int64) error {
	type action struct {
		engineID string
		stop     bool
	}
	var actions []action

	err := s.RunTransaction(ctx, func(tx store.Tx) error {
		rows, err := tx.Query(TableWorlds)
		if err != nil {
			return err
		}
		for _, raw := range rows {
			var w World
			if err := json.Unmarshal(raw, &w); err != nil {
				return err
			}
			var e engine.Engine
			if err := tx.Get(engine.TableEngines, w.EngineID, &e); err != nil {
				return err
			}
			if w.Status != StatusRunning {
				// A crash can leave a stopped world with a live engine.
				if e.State == engine.StateRunning {
					actions = append(actions, action{engineID: w.EngineID, stop: true})
				}
				continue
			}
			if now-w.LastViewed > engine.IdleWorldTimeout {
				w.Status = StatusInactive
				if err := tx.Replace(TableWorlds, w.ID, w); err != nil {
					return err
				}
				actions = append(actions, action{engineID: w.EngineID, stop: true})
				continue
			}

			stalled := e.State == engine.StateRunning &&
				(e.ScheduledSelfTs == nil || now-*e.ScheduledSelfTs > 2*engine.StepInterval)
			if e.State == engine.StateStopped || stalled {
				actions = append(actions, action{engineID: w.EngineID})
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, a := range actions {
		if a.stop {
			slog.Info("stopping idle world engine", "engine", a.engineID)
			if err := runner.Stop(ctx, a.engineID); err != nil {
				return err
			}
			continue
		}
		slog.Info("kicking stalled engine", "engine", a.engineID)
		if err := runner.Start(ctx, a.engineID); err != nil {
			return err
		}
	}
	return nil
}
