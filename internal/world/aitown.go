// Package world implements the town itself: the tile map, players and
// their history-sampled locations, conversations, and the per-tick rules
// that move everything forward. It plugs into the engine as its Game.
package world

import (
	"encoding/json"
	"fmt"

	"github.com/talgya/aitown/internal/engine"
	"github.com/talgya/aitown/internal/gametable"
	"github.com/talgya/aitown/internal/store"
)

// Store table names owned by the world.
const (
	TableWorlds        = "worlds"
	TableMaps          = "maps"
	TablePlayers       = "players"
	TableLocations     = "locations"
	TableConversations = "conversations"
	TableMembers       = "conversationMembers"
	TableMessages      = "messages"
	TableAgents        = "agents"
)

// AiTown aggregates one world's game tables for the duration of a single
// engine transaction.
type AiTown struct {
	tx store.Tx

	World World
	Map   WorldMap

	Players       *gametable.Table[Player]
	Locations     *gametable.HistoricalTable[Location, *Location]
	Conversations *gametable.Table[Conversation]
	Members       *gametable.Table[ConversationMember]
	Messages      *gametable.Table[Message]
	Agents        *gametable.Table[Agent]

	now        int64
	worldDirty bool
}

// NewGameFactory returns the engine hook that loads the town an engine
// drives.
func NewGameFactory() engine.GameFactory {
	return func(tx store.Tx, engineID string) (engine.Game, error) {
		return LoadByEngine(tx, engineID)
	}
}

// LoadByEngine loads the town owned by the given engine.
func LoadByEngine(tx store.Tx, engineID string) (*AiTown, error) {
	rows, err := tx.Query(TableWorlds, store.Eq{Field: "engineId", Value: engineID})
	if err != nil {
		return nil, fmt.Errorf("find world for engine %s: %w", engineID, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no world for engine %s", engineID)
	}
	var w World
	if err := json.Unmarshal(rows[0], &w); err != nil {
		return nil, fmt.Errorf("decode world: %w", err)
	}
	return load(tx, w)
}

// LoadByID loads the town by world id.
func LoadByID(tx store.Tx, worldID string) (*AiTown, error) {
	var w World
	if err := tx.Get(TableWorlds, worldID, &w); err != nil {
		return nil, err
	}
	return load(tx, w)
}

func load(tx store.Tx, w World) (*AiTown, error) {
	t := &AiTown{tx: tx, World: w}

	if err := tx.Get(TableMaps, w.MapID, &t.Map); err != nil {
		return nil, fmt.Errorf("load map %s: %w", w.MapID, err)
	}

	var e engine.Engine
	if err := tx.Get(engine.TableEngines, w.EngineID, &e); err != nil {
		return nil, fmt.Errorf("load engine %s: %w", w.EngineID, err)
	}
	t.now = e.CurrentTime

	byWorld := store.Eq{Field: "worldId", Value: w.ID}
	var err error
	if t.Players, err = gametable.Load[Player](tx, TablePlayers, byWorld); err != nil {
		return nil, err
	}
	if t.Locations, err = gametable.LoadHistorical[Location, *Location](tx, TableLocations, byWorld); err != nil {
		return nil, err
	}
	if t.Conversations, err = gametable.Load[Conversation](tx, TableConversations, byWorld); err != nil {
		return nil, err
	}
	if t.Members, err = gametable.Load[ConversationMember](tx, TableMembers, byWorld); err != nil {
		return nil, err
	}
	if t.Messages, err = gametable.Load[Message](tx, TableMessages, byWorld); err != nil {
		return nil, err
	}
	if t.Agents, err = gametable.Load[Agent](tx, TableAgents, byWorld); err != nil {
		return nil, err
	}
	return t, nil
}

// Tick advances the world rules to simulated time now.
func (t *AiTown) Tick(now int64) {
	t.now = now
	t.tickPathfinding(now)
	t.tickMovement(now)
	t.tickConversations(now)
}

// Save flushes every dirty table. It runs inside the engine's step
// transaction.
func (t *AiTown) Save(currentTime int64) error {
	if t.worldDirty {
		if err := t.tx.Replace(TableWorlds, t.World.ID, t.World); err != nil {
			return err
		}
		t.worldDirty = false
	}
	if err := t.Players.Save(); err != nil {
		return err
	}
	if err := t.Locations.Save(); err != nil {
		return err
	}
	if err := t.Conversations.Save(); err != nil {
		return err
	}
	if err := t.Members.Save(); err != nil {
		return err
	}
	if err := t.Messages.Save(); err != nil {
		return err
	}
	return t.Agents.Save()
}

// MemberOf returns the player's membership in an unfinished conversation,
// if any. At most one exists.
func (t *AiTown) MemberOf(playerID string) (Conversation, ConversationMember, bool) {
	m, ok := t.Members.Find(func(m ConversationMember) bool {
		if m.PlayerID != playerID {
			return false
		}
		_, err := t.Conversations.Lookup(m.ConversationID)
		return err == nil
	})
	if !ok {
		return Conversation{}, ConversationMember{}, false
	}
	c, err := t.Conversations.Lookup(m.ConversationID)
	if err != nil {
		return Conversation{}, ConversationMember{}, false
	}
	return c, m, true
}

func (t *AiTown) conversationMembers(conversationID string) []ConversationMember {
	return t.Members.Filter(func(m ConversationMember) bool {
		return m.ConversationID == conversationID
	})
}

// finishConversation ends a conversation: every remaining member leaves,
// the record becomes inactive, and the participants' agents get their
// conversation cooldowns stamped.
func (t *AiTown) finishConversation(conversationID string, now int64) {
	members := t.conversationMembers(conversationID)
	for _, m := range members {
		_ = t.Members.Update(m.ID, func(m *ConversationMember) {
			m.Status = MemberLeft
		})
	}
	_ = t.Conversations.Update(conversationID, func(c *Conversation) {
		c.Finished = &FinishedState{EndedAt: now}
		c.IsTyping = nil
	})

	for i, m := range members {
		agent, ok := t.Agents.Find(func(a Agent) bool { return a.PlayerID == m.PlayerID })
		if !ok {
			continue
		}
		peerID := members[(i+1)%len(members)].PlayerID
		_ = t.Agents.Update(agent.ID, func(a *Agent) {
			a.LastConversationTs = now
			if a.PeerCooldowns == nil {
				a.PeerCooldowns = make(map[string]int64)
			}
			a.PeerCooldowns[peerID] = now
		})
	}
}
