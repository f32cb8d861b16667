// Package api serves the town over HTTP: the input RPC surface, world
// state queries for renderers, and a websocket feed of engine status that
// drives client-side time sync.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/aitown/internal/engine"
	"github.com/talgya/aitown/internal/store"
	"github.com/talgya/aitown/internal/world"
)

const inputRatePerMinute = 120

// Server exposes the world over HTTP.
type Server struct {
	Store  store.Store
	Runner *engine.Runner
	Clock  func() int64
	Port   int

	upgrader websocket.Upgrader
}

// Start begins serving in a goroutine.
func (s *Server) Start() {
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	inputLimiter := NewRateLimiter(inputRatePerMinute, time.Minute)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/default", s.handleDefaultWorld)
	mux.HandleFunc("POST /api/v1/worlds/{worldId}/input", RateLimitMiddleware(inputLimiter, s.handleSendInput))
	mux.HandleFunc("GET /api/v1/inputs/{inputId}", s.handleInputStatus)
	mux.HandleFunc("GET /api/v1/worlds/{worldId}/engine", s.handleEngineStatus)
	mux.HandleFunc("GET /api/v1/worlds/{worldId}/state", s.handleWorldState)
	mux.HandleFunc("GET /api/v1/worlds/{worldId}/map", s.handleWorldMap)
	mux.HandleFunc("POST /api/v1/worlds/{worldId}/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("GET /api/v1/worlds/{worldId}/ws", s.handleStatusFeed)

	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

func (s *Server) handleDefaultWorld(w http.ResponseWriter, r *http.Request) {
	var def *world.World
	err := s.Store.RunTransaction(r.Context(), func(tx store.Tx) error {
		rows, err := tx.Query(world.TableWorlds, store.Eq{Field: "isDefault", Value: true})
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		def = &world.World{}
		return json.Unmarshal(rows[0], def)
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if def == nil {
		writeError(w, http.StatusNotFound, errors.New("no default world"))
		return
	}
	writeJSON(w, def)
}

type sendInputRequest struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

func (s *Server) handleSendInput(w http.ResponseWriter, r *http.Request) {
	var req sendInputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	worldDoc, err := s.loadWorld(r)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	inputID, err := s.Runner.InsertInput(r.Context(), worldDoc.EngineID, req.Name, req.Args)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]string{"inputId": inputID})
}

func (s *Server) handleInputStatus(w http.ResponseWriter, r *http.Request) {
	rv, err := s.Runner.InputStatus(r.Context(), r.PathValue("inputId"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	// A pending input reports null so clients can poll.
	writeJSON(w, rv)
}

func (s *Server) handleEngineStatus(w http.ResponseWriter, r *http.Request) {
	worldDoc, err := s.loadWorld(r)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	e, err := s.Runner.Load(r.Context(), worldDoc.EngineID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, e)
}

// worldState is the render snapshot a client polls or receives on join.
type worldState struct {
	World         world.World                `json:"world"`
	Players       []world.Player             `json:"players"`
	Locations     []world.Location           `json:"locations"`
	Conversations []world.Conversation       `json:"conversations"`
	Members       []world.ConversationMember `json:"members"`
}

func (s *Server) handleWorldState(w http.ResponseWriter, r *http.Request) {
	var state worldState
	err := s.Store.RunTransaction(r.Context(), func(tx store.Tx) error {
		town, err := world.LoadByID(tx, r.PathValue("worldId"))
		if err != nil {
			return err
		}
		state = worldState{
			World:         town.World,
			Players:       town.Players.All(),
			Locations:     town.Locations.All(),
			Conversations: town.Conversations.All(),
			Members:       town.Members.All(),
		}
		return nil
	})
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, state)
}

func (s *Server) handleWorldMap(w http.ResponseWriter, r *http.Request) {
	var m world.WorldMap
	err := s.Store.RunTransaction(r.Context(), func(tx store.Tx) error {
		worldDoc, err := loadWorldByID(tx, r.PathValue("worldId"))
		if err != nil {
			return err
		}
		return tx.Get(world.TableMaps, worldDoc.MapID, &m)
	})
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, m)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	err := world.Heartbeat(r.Context(), s.Store, s.Runner, r.PathValue("worldId"), s.Clock())
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

// handleStatusFeed checks the engine document once per step interval and
// pushes it to the client whenever its CurrentTime has changed. Watching the feed counts as viewing the world, so it also
// heartbeats on the client's behalf.
func (s *Server) handleStatusFeed(w http.ResponseWriter, r *http.Request) {
	worldDoc, err := s.loadWorld(r)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(engine.StepInterval * time.Millisecond)
	defer ticker.Stop()
	heartbeatEvery := engine.WorldHeartbeatInterval / engine.StepInterval

	var lastSent int64 = -1
	for i := 0; ; i++ {
		if i%heartbeatEvery == 0 {
			if err := world.Heartbeat(r.Context(), s.Store, s.Runner, worldDoc.ID, s.Clock()); err != nil {
				slog.Debug("feed heartbeat", "world", worldDoc.ID, "error", err)
			}
		}
		e, err := s.Runner.Load(r.Context(), worldDoc.EngineID)
		if err != nil {
			return
		}
		if e.CurrentTime != lastSent {
			if err := conn.WriteJSON(e); err != nil {
				return
			}
			lastSent = e.CurrentTime
		}
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) loadWorld(r *http.Request) (world.World, error) {
	var w world.World
	err := s.Store.RunTransaction(r.Context(), func(tx store.Tx) error {
		var err error
		w, err = loadWorldByID(tx, r.PathValue("worldId"))
		return err
	})
	return w, err
}

func loadWorldByID(tx store.Tx, worldID string) (world.World, error) {
	var w world.World
	err := tx.Get(world.TableWorlds, worldID, &w)
	return w, err
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
