package world

import (
	"github.com/talgya/aitown/internal/geometry"
)

// World binds an engine, a map, and everything walking around on it.
// Exactly one world is the default.
type World struct {
	ID         string `json:"id"`
	EngineID   string `json:"engineId"`
	MapID      string `json:"mapId"`
	Status     string `json:"status"`
	IsDefault  bool   `json:"isDefault"`
	LastViewed int64  `json:"lastViewed"`
}

func (w World) DocID() string { return w.ID }
func (w World) Active() bool  { return true }

// Player is a character on the map, human- or agent-driven.
type Player struct {
	ID          string `json:"id"`
	WorldID     string `json:"worldId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Character   string `json:"character"`
	LocationID  string `json:"locationId"`
	IsHuman     bool   `json:"isHuman"`
	IsActive    bool   `json:"active"`

	// Movement state. Destination is where the player wants to be; Path
	// is the planned route there.
	Path               geometry.Path   `json:"path,omitempty"`
	Destination        *geometry.Point `json:"destination,omitempty"`
	PathfindingState   string          `json:"pathfindingState,omitempty"`
	PathfindingStarted int64           `json:"pathfindingStarted,omitempty"`
	ReplanAfter        int64           `json:"replanAfter,omitempty"`
}

func (p Player) DocID() string { return p.ID }
func (p Player) Active() bool  { return p.IsActive }

// Location is a player's history-sampled position record. The five
// numeric fields are sampled every tick they are written; History is the
// packed sample blob set on flush.
type Location struct {
	ID       string  `json:"id"`
	WorldID  string  `json:"worldId"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	DX       float64 `json:"dx"`
	DY       float64 `json:"dy"`
	Velocity float64 `json:"velocity"`
	History  []byte  `json:"history,omitempty"`
}

func (l Location) DocID() string { return l.ID }
func (l Location) Active() bool  { return true }

func (l *Location) HistoryFields() map[string]float64 {
	return map[string]float64{
		"x":        l.X,
		"y":        l.Y,
		"dx":       l.DX,
		"dy":       l.DY,
		"velocity": l.Velocity,
	}
}

func (l *Location) SetHistoryField(name string, value float64) {
	switch name {
	case "x":
		l.X = value
	case "y":
		l.Y = value
	case "dx":
		l.DX = value
	case "dy":
		l.DY = value
	case "velocity":
		l.Velocity = value
	}
}

func (l *Location) SetHistory(blob []byte) { l.History = blob }

// Point returns the location as a map point.
func (l Location) Point() geometry.Point { return geometry.Point{X: l.X, Y: l.Y} }

// TypingIndicator marks that a participant is composing a message.
type TypingIndicator struct {
	PlayerID    string `json:"playerId"`
	MessageUUID string `json:"messageUuid"`
	Since       int64  `json:"since"`
}

// FinishedState records when a conversation ended.
type FinishedState struct {
	EndedAt int64 `json:"endedAt"`
}

// Conversation is a chat between players. A finished conversation stays
// in the store for memory building but is inactive for gameplay.
type Conversation struct {
	ID            string           `json:"id"`
	WorldID       string           `json:"worldId"`
	Creator       string           `json:"creator"`
	Created       int64            `json:"created"`
	NumMessages   int              `json:"numMessages"`
	LastMessageTs int64            `json:"lastMessageTs,omitempty"`
	IsTyping      *TypingIndicator `json:"isTyping,omitempty"`
	Finished      *FinishedState   `json:"finished,omitempty"`
}

func (c Conversation) DocID() string { return c.ID }
func (c Conversation) Active() bool  { return c.Finished == nil }

// ConversationMember tracks one player's progress through a
// conversation's lifecycle.
type ConversationMember struct {
	ID             string `json:"id"`
	WorldID        string `json:"worldId"`
	ConversationID string `json:"conversationId"`
	PlayerID       string `json:"playerId"`
	Status         string `json:"status"`
	InvitedAt      int64  `json:"invitedAt"`
}

func (m ConversationMember) DocID() string { return m.ID }
func (m ConversationMember) Active() bool  { return m.Status != MemberLeft }

// Message is one utterance in a conversation.
type Message struct {
	ID             string `json:"id"`
	WorldID        string `json:"worldId"`
	ConversationID string `json:"conversationId"`
	Author         string `json:"author"`
	MessageUUID    string `json:"messageUuid"`
	Text           string `json:"text"`
	Created        int64  `json:"created"`
}

func (m Message) DocID() string { return m.ID }
func (m Message) Active() bool  { return true }

// Agent is the persistent record of an LLM-driven character: who they
// are, what they're up to, and their scheduling cooldowns. The decision
// loop itself runs outside the engine and talks back through inputs.
type Agent struct {
	ID       string `json:"id"`
	WorldID  string `json:"worldId"`
	PlayerID string `json:"playerId"`
	Identity string `json:"identity"`
	Plan     string `json:"plan"`

	LastConversationTs  int64            `json:"lastConversationTs,omitempty"`
	LastInviteAttemptTs int64            `json:"lastInviteAttemptTs,omitempty"`
	PeerCooldowns       map[string]int64 `json:"peerCooldowns,omitempty"`
}

func (a Agent) DocID() string { return a.ID }
func (a Agent) Active() bool  { return true }
