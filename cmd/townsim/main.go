// Command townsim runs the AI town: a persistent tile world where
// LLM-driven characters wander, meet, and talk, simulated by a
// transactional tick engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/aitown/internal/agents"
	"github.com/talgya/aitown/internal/api"
	"github.com/talgya/aitown/internal/config"
	"github.com/talgya/aitown/internal/engine"
	"github.com/talgya/aitown/internal/llm"
	"github.com/talgya/aitown/internal/store"
	"github.com/talgya/aitown/internal/world"
)

func main() {
	configPath := flag.String("config", "aitown.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "startup error:", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Log.Level == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	clock := func() int64 { return time.Now().UnixMilli() }

	// ── Store ─────────────────────────────────────────────────────────
	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("create data dir", "error", err)
			os.Exit(1)
		}
	}
	db, err := store.OpenSQLite(cfg.Database.Path)
	if err != nil {
		slog.Error("open database", "path", cfg.Database.Path, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.Database.Path)

	// ── Engine + world ────────────────────────────────────────────────
	runner := engine.NewRunner(db, clock, world.NewGameFactory())
	scheduler := store.NewScheduler(db, clock)
	runner.Register(scheduler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	genCfg := world.GenConfig{
		Width:  cfg.World.MapWidth,
		Height: cfg.World.MapHeight,
		Seed:   cfg.World.Seed,
	}
	worldID, err := world.EnsureDefaultWorld(ctx, db, runner, genCfg, clock())
	if err != nil {
		slog.Error("bootstrap world", "error", err)
		os.Exit(1)
	}

	var townPlayers int
	var townStatus, engineID string
	err = db.RunTransaction(ctx, func(tx store.Tx) error {
		town, err := world.LoadByID(tx, worldID)
		if err != nil {
			return err
		}
		townPlayers = len(town.Players.All())
		townStatus = town.World.Status
		engineID = town.World.EngineID
		return nil
	})
	if err != nil {
		slog.Error("load world", "world", worldID, "error", err)
		os.Exit(1)
	}
	if townStatus != world.StatusStoppedByDeveloper {
		if err := world.Heartbeat(ctx, db, runner, worldID, clock()); err != nil {
			slog.Error("heartbeat", "world", worldID, "error", err)
			os.Exit(1)
		}
		// A fresh or restarted process owns the engine again; kick it so
		// the step schedule is alive under a new generation.
		if err := runner.Start(ctx, engineID); err != nil {
			slog.Error("start engine", "engine", engineID, "error", err)
			os.Exit(1)
		}
	}

	go scheduler.Run(ctx)

	// The maintenance sweep idles unwatched worlds and revives engines
	// that lost their self-schedule.
	go func() {
		ticker := time.NewTicker(engine.WorldHeartbeatInterval * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := world.Maintenance(ctx, db, runner, clock()); err != nil {
					slog.Error("maintenance sweep", "error", err)
				}
			}
		}
	}()

	// ── LLM + agents ──────────────────────────────────────────────────
	llmClient := llm.NewClient(llm.Config{
		APIKey:           cfg.AnthropicAPIKey,
		Model:            cfg.LLM.Model,
		EmbeddingsAPIKey: cfg.OpenAIAPIKey,
		EmbeddingsURL:    cfg.LLM.EmbeddingsURL,
		EmbeddingsModel:  cfg.LLM.EmbeddingsModel,
	})
	if llmClient.CanEmbed() {
		slog.Info("LLM client ready", "embeddings", true)
	} else {
		slog.Info("LLM client ready", "embeddings", false)
		slog.Warn("OPENAI_API_KEY not set; agent memories rank by recency only")
	}

	runtime := agents.NewRuntime(db, runner, llmClient, worldID, clock, time.Now().UnixNano())
	go runtime.Run(ctx)

	// ── HTTP API ──────────────────────────────────────────────────────
	apiServer := &api.Server{
		Store:  db,
		Runner: runner,
		Clock:  clock,
		Port:   cfg.API.Port,
	}
	apiServer.Start()

	fmt.Printf("\nThe town is awake: %s townsfolk walking around world %s.\n",
		humanize.Comma(int64(townPlayers)), worldID)
	fmt.Printf("API: http://localhost:%d/api/v1/worlds/%s/state\n", cfg.API.Port, worldID)
	fmt.Println("Ctrl+C to stop.")

	// ── Shutdown ──────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig)
	cancel()

	// Pending engine steps survive in the scheduler table and resume on
	// next launch.
	fmt.Println("Simulation stopped. World state is saved; run again to resume.")
}
