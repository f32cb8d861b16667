package world

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/talgya/aitown/internal/geometry"
)

// Input argument shapes. Args arrive as JSON from the engine's input
// queue; every handler is total and reports failure through its error.
type (
	JoinArgs struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Character   string `json:"character"`
		IsHuman     bool   `json:"isHuman"`
	}
	LeaveArgs struct {
		PlayerID string `json:"playerId"`
	}
	MoveToArgs struct {
		PlayerID    string         `json:"playerId"`
		Destination geometry.Point `json:"destination"`
	}
	StartConversationArgs struct {
		PlayerID  string `json:"playerId"`
		InviteeID string `json:"inviteeId"`
	}
	ConversationArgs struct {
		PlayerID       string `json:"playerId"`
		ConversationID string `json:"conversationId"`
	}
	SendMessageArgs struct {
		PlayerID       string `json:"playerId"`
		ConversationID string `json:"conversationId"`
		MessageUUID    string `json:"messageUuid"`
		Text           string `json:"text"`
	}
	StartTypingArgs struct {
		PlayerID       string `json:"playerId"`
		ConversationID string `json:"conversationId"`
		MessageUUID    string `json:"messageUuid"`
	}
)

// HandleInput applies one drained input by name.
func (t *AiTown) HandleInput(name string, args json.RawMessage) (json.RawMessage, error) {
	switch name {
	case "join":
		return handle(args, t.handleJoin)
	case "leave":
		return handle(args, t.handleLeave)
	case "moveTo":
		return handle(args, t.handleMoveTo)
	case "startConversation":
		return handle(args, t.handleStartConversation)
	case "acceptInvite":
		return handle(args, t.handleAcceptInvite)
	case "rejectInvite":
		return handle(args, t.handleRejectInvite)
	case "leaveConversation":
		return handle(args, t.handleLeaveConversation)
	case "sendMessage":
		return handle(args, t.handleSendMessage)
	case "startTyping":
		return handle(args, t.handleStartTyping)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownInput, name)
	}
}

func handle[A any, R any](raw json.RawMessage, fn func(args A) (R, error)) (json.RawMessage, error) {
	var args A
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("decode args: %w", err)
		}
	}
	result, err := fn(args)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

func (t *AiTown) handleJoin(args JoinArgs) (string, error) {
	if args.Name == "" {
		return "", fmt.Errorf("join: name is required")
	}
	if _, taken := t.Players.Find(func(p Player) bool { return p.Name == args.Name }); taken {
		return "", fmt.Errorf("%w: %s", ErrDuplicateJoin, args.Name)
	}

	spawn, ok := t.spawnPoint()
	if !ok {
		return "", fmt.Errorf("join: no walkable spawn tile")
	}

	locationID := uuid.NewString()
	if _, err := t.Locations.Insert(Location{
		ID:      locationID,
		WorldID: t.World.ID,
		X:       spawn.X,
		Y:       spawn.Y,
		DX:      0,
		DY:      1,
	}); err != nil {
		return "", err
	}

	playerID := uuid.NewString()
	if _, err := t.Players.Insert(Player{
		ID:          playerID,
		WorldID:     t.World.ID,
		Name:        args.Name,
		Description: args.Description,
		Character:   args.Character,
		LocationID:  locationID,
		IsHuman:     args.IsHuman,
		IsActive:    true,
	}); err != nil {
		return "", err
	}
	return playerID, nil
}

func (t *AiTown) handleLeave(args LeaveArgs) (string, error) {
	if _, err := t.Players.Lookup(args.PlayerID); err != nil {
		return "", err
	}
	if _, m, ok := t.MemberOf(args.PlayerID); ok {
		_ = t.Members.Update(m.ID, func(m *ConversationMember) { m.Status = MemberLeft })
	}
	err := t.Players.Update(args.PlayerID, func(p *Player) {
		p.IsActive = false
		p.Path = nil
		p.Destination = nil
		p.PathfindingState = PathStateIdle
	})
	if err != nil {
		return "", err
	}
	return args.PlayerID, nil
}

func (t *AiTown) handleMoveTo(args MoveToArgs) (string, error) {
	if _, err := t.Players.Lookup(args.PlayerID); err != nil {
		return "", err
	}
	if _, m, ok := t.MemberOf(args.PlayerID); ok && m.Status == MemberParticipating {
		return "", ErrWhileConversing
	}
	dest := args.Destination
	if dest.X != math.Floor(dest.X) || dest.Y != math.Floor(dest.Y) {
		return "", fmt.Errorf("%w: destination must be grid-aligned", ErrBlockedDestination)
	}
	if t.Map.Blocked(int(dest.X), int(dest.Y)) {
		return "", fmt.Errorf("%w: (%v, %v)", ErrBlockedDestination, dest.X, dest.Y)
	}
	err := t.Players.Update(args.PlayerID, func(p *Player) {
		p.Destination = &dest
		p.Path = nil
		p.PathfindingState = PathStateNeedsPath
		p.PathfindingStarted = t.now
		p.ReplanAfter = 0
	})
	if err != nil {
		return "", err
	}
	return args.PlayerID, nil
}

func (t *AiTown) handleStartConversation(args StartConversationArgs) (string, error) {
	if _, err := t.Players.Lookup(args.PlayerID); err != nil {
		return "", err
	}
	if _, err := t.Players.Lookup(args.InviteeID); err != nil {
		return "", err
	}
	if args.PlayerID == args.InviteeID {
		return "", fmt.Errorf("can't start a conversation with yourself")
	}
	if _, _, ok := t.MemberOf(args.PlayerID); ok {
		return "", fmt.Errorf("%w: %s", ErrConversationFull, args.PlayerID)
	}
	if _, _, ok := t.MemberOf(args.InviteeID); ok {
		return "", fmt.Errorf("%w: %s", ErrConversationFull, args.InviteeID)
	}

	conversationID := uuid.NewString()
	if _, err := t.Conversations.Insert(Conversation{
		ID:      conversationID,
		WorldID: t.World.ID,
		Creator: args.PlayerID,
		Created: t.now,
	}); err != nil {
		return "", err
	}
	// The inviter committed by asking; the invitee decides.
	for playerID, status := range map[string]string{
		args.PlayerID:  MemberWalkingOver,
		args.InviteeID: MemberInvited,
	} {
		if _, err := t.Members.Insert(ConversationMember{
			ID:             uuid.NewString(),
			WorldID:        t.World.ID,
			ConversationID: conversationID,
			PlayerID:       playerID,
			Status:         status,
			InvitedAt:      t.now,
		}); err != nil {
			return "", err
		}
	}
	return conversationID, nil
}

func (t *AiTown) handleAcceptInvite(args ConversationArgs) (string, error) {
	m, err := t.invitedMember(args)
	if err != nil {
		return "", err
	}
	if err := t.Members.Update(m.ID, func(m *ConversationMember) {
		m.Status = MemberWalkingOver
	}); err != nil {
		return "", err
	}
	return args.ConversationID, nil
}

func (t *AiTown) handleRejectInvite(args ConversationArgs) (string, error) {
	m, err := t.invitedMember(args)
	if err != nil {
		return "", err
	}
	if err := t.Members.Update(m.ID, func(m *ConversationMember) {
		m.Status = MemberLeft
	}); err != nil {
		return "", err
	}
	t.finishConversation(args.ConversationID, t.now)
	return args.ConversationID, nil
}

func (t *AiTown) invitedMember(args ConversationArgs) (ConversationMember, error) {
	if _, err := t.Conversations.Lookup(args.ConversationID); err != nil {
		return ConversationMember{}, err
	}
	m, ok := t.Members.Find(func(m ConversationMember) bool {
		return m.ConversationID == args.ConversationID && m.PlayerID == args.PlayerID
	})
	if !ok {
		return ConversationMember{}, fmt.Errorf("%w: %s", ErrNotParticipating, args.PlayerID)
	}
	if m.Status != MemberInvited {
		return ConversationMember{}, fmt.Errorf("player %s has no pending invite", args.PlayerID)
	}
	return m, nil
}

func (t *AiTown) handleLeaveConversation(args ConversationArgs) (string, error) {
	if _, err := t.Conversations.Lookup(args.ConversationID); err != nil {
		return "", err
	}
	m, ok := t.Members.Find(func(m ConversationMember) bool {
		return m.ConversationID == args.ConversationID && m.PlayerID == args.PlayerID
	})
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotParticipating, args.PlayerID)
	}
	_ = t.Members.Update(m.ID, func(m *ConversationMember) { m.Status = MemberLeft })
	t.finishConversation(args.ConversationID, t.now)
	return args.ConversationID, nil
}

func (t *AiTown) handleSendMessage(args SendMessageArgs) (string, error) {
	c, err := t.Conversations.Lookup(args.ConversationID)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrConversationFinished, args.ConversationID)
	}
	m, ok := t.Members.Find(func(m ConversationMember) bool {
		return m.ConversationID == args.ConversationID && m.PlayerID == args.PlayerID
	})
	if !ok || m.Status != MemberParticipating {
		return "", fmt.Errorf("%w: %s", ErrNotParticipating, args.PlayerID)
	}

	messageID := uuid.NewString()
	if _, err := t.Messages.Insert(Message{
		ID:             messageID,
		WorldID:        t.World.ID,
		ConversationID: args.ConversationID,
		Author:         args.PlayerID,
		MessageUUID:    args.MessageUUID,
		Text:           args.Text,
		Created:        t.now,
	}); err != nil {
		return "", err
	}

	err = t.Conversations.Update(c.ID, func(c *Conversation) {
		c.NumMessages++
		c.LastMessageTs = t.now
		if c.IsTyping != nil && c.IsTyping.MessageUUID == args.MessageUUID {
			c.IsTyping = nil
		}
	})
	if err != nil {
		return "", err
	}

	if updated, err := t.Conversations.Lookup(c.ID); err == nil && updated.NumMessages >= MaxConversationMessages {
		t.finishConversation(c.ID, t.now)
	}
	return messageID, nil
}

func (t *AiTown) handleStartTyping(args StartTypingArgs) (string, error) {
	c, err := t.Conversations.Lookup(args.ConversationID)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrConversationFinished, args.ConversationID)
	}
	m, ok := t.Members.Find(func(m ConversationMember) bool {
		return m.ConversationID == args.ConversationID && m.PlayerID == args.PlayerID
	})
	if !ok || m.Status != MemberParticipating {
		return "", fmt.Errorf("%w: %s", ErrNotParticipating, args.PlayerID)
	}
	if c.IsTyping != nil && c.IsTyping.PlayerID != args.PlayerID {
		return "", fmt.Errorf("%w: %s", ErrAlreadyTyping, c.IsTyping.PlayerID)
	}
	err = t.Conversations.Update(c.ID, func(c *Conversation) {
		c.IsTyping = &TypingIndicator{
			PlayerID:    args.PlayerID,
			MessageUUID: args.MessageUUID,
			Since:       t.now,
		}
	})
	if err != nil {
		return "", err
	}
	return args.ConversationID, nil
}

// spawnPoint picks the first walkable tile clear of other players.
func (t *AiTown) spawnPoint() (geometry.Point, bool) {
	for y := 0; y < t.Map.Height; y++ {
		for x := 0; x < t.Map.Width; x++ {
			if t.Map.Blocked(x, y) {
				continue
			}
			p := geometry.Point{X: float64(x), Y: float64(y)}
			if _, occupied := t.plantedNear("", p); occupied {
				continue
			}
			return p, true
		}
	}
	return geometry.Point{}, false
}
