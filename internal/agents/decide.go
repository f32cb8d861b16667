package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/aitown/internal/geometry"
	"github.com/talgya/aitown/internal/store"
	"github.com/talgya/aitown/internal/world"
)

// stepAgent runs one wake-up of the agent policy. The bool return is true
// when the loop should end (the player left the world).
func (r *Runtime) stepAgent(ctx context.Context, st *loopState, agentID string) (bool, error) {
	now := r.clock()

	var town *world.AiTown
	err := r.store.RunTransaction(ctx, func(tx store.Tx) error {
		var err error
		town, err = world.LoadByID(tx, r.worldID)
		return err
	})
	if err != nil {
		return false, err
	}

	agent, ok := town.Agents.Find(func(a world.Agent) bool { return a.ID == agentID })
	if !ok {
		return true, nil
	}
	player, err := town.Players.Lookup(agent.PlayerID)
	if err != nil {
		// The player left or was removed; the loop is over.
		return true, nil
	}

	conv, member, inConv := town.MemberOf(player.ID)

	// Notice a conversation that ended since the last wake-up and file it
	// away as a memory.
	if st.currentConversationID != "" && (!inConv || conv.ID != st.currentConversationID) {
		if err := r.rememberFinished(ctx, town, agent, player, st.currentConversationID); err != nil {
			return false, err
		}
		st.currentConversationID = ""
	}

	if inConv {
		st.currentConversationID = conv.ID
		switch member.Status {
		case world.MemberInvited:
			return false, r.answerInvite(ctx, town, player, conv, member, now)
		case world.MemberParticipating:
			return false, r.takeTurn(ctx, town, agent, player, conv, now)
		default:
			// Walking over; the world steers us there.
			return false, nil
		}
	}

	return false, r.actIdle(ctx, town, agent, player, st, now)
}

func (r *Runtime) answerInvite(ctx context.Context, town *world.AiTown, player world.Player, conv world.Conversation, member world.ConversationMember, now int64) error {
	name := "rejectInvite"
	if now-member.InvitedAt <= world.InviteTimeout && r.float() < r.acceptProbability {
		name = "acceptInvite"
	}
	_, err := r.runner.InsertInput(ctx, town.World.EngineID, name, world.ConversationArgs{
		PlayerID:       player.ID,
		ConversationID: conv.ID,
	})
	return err
}

func (r *Runtime) takeTurn(ctx context.Context, town *world.AiTown, agent world.Agent, player world.Player, conv world.Conversation, now int64) error {
	messages := town.Messages.Filter(func(m world.Message) bool {
		return m.ConversationID == conv.ID
	})
	sort.Slice(messages, func(i, j int) bool { return messages[i].Created < messages[j].Created })

	// The other side went quiet; excuse ourselves.
	if len(messages) > 0 && now-conv.LastMessageTs > world.AwkwardConversationTimeout {
		_, err := r.runner.InsertInput(ctx, town.World.EngineID, "leaveConversation", world.ConversationArgs{
			PlayerID:       player.ID,
			ConversationID: conv.ID,
		})
		return err
	}

	// Whose turn: the inviter opens; otherwise answer the last speaker.
	if len(messages) == 0 {
		if conv.Creator != player.ID {
			return nil
		}
	} else {
		if messages[len(messages)-1].Author == player.ID {
			return nil
		}
		if now-conv.LastMessageTs < world.MessageCooldown {
			return nil
		}
	}
	if conv.IsTyping != nil && conv.IsTyping.PlayerID != player.ID {
		return nil
	}

	partner, partnerName, err := r.partnerOf(town, conv.ID, player.ID)
	if err != nil {
		return err
	}

	text, err := r.composeLine(ctx, town, agent, player, partner, partnerName, conv, messages)
	if err != nil {
		return err
	}
	if text == "" {
		_, err := r.runner.InsertInput(ctx, town.World.EngineID, "leaveConversation", world.ConversationArgs{
			PlayerID:       player.ID,
			ConversationID: conv.ID,
		})
		return err
	}

	messageUUID := uuid.NewString()
	if _, err := r.runner.InsertInput(ctx, town.World.EngineID, "startTyping", world.StartTypingArgs{
		PlayerID:       player.ID,
		ConversationID: conv.ID,
		MessageUUID:    messageUUID,
	}); err != nil {
		return err
	}
	_, err = r.runner.InsertInput(ctx, town.World.EngineID, "sendMessage", world.SendMessageArgs{
		PlayerID:       player.ID,
		ConversationID: conv.ID,
		MessageUUID:    messageUUID,
		Text:           text,
	})
	return err
}

// composeLine asks the model for the agent's next line of dialogue.
func (r *Runtime) composeLine(ctx context.Context, town *world.AiTown, agent world.Agent, player world.Player, partner world.Player, partnerName string, conv world.Conversation, messages []world.Message) (string, error) {
	if !r.brain.Enabled() {
		return "", fmt.Errorf("LLM client not configured")
	}
	callCtx, cancel := context.WithTimeout(ctx, ActionTimeout*time.Millisecond)
	defer cancel()

	if len(messages) > MaxPromptMessages {
		messages = messages[len(messages)-MaxPromptMessages:]
	}
	memories, err := r.relevantMemories(callCtx, agent, partnerName)
	if err != nil {
		return "", err
	}

	prompt := conversationPrompt{
		Self:        agent,
		SelfName:    player.Name,
		PartnerName: partnerName,
		PartnerDesc: partner.Description,
		Messages:    messages,
		Names:       playerNames(town),
		Memories:    memories,
		FirstLine:   conv.Creator == player.ID,
	}
	text, err := r.brain.Chat(callCtx, prompt.build())
	if err != nil {
		return "", fmt.Errorf("compose line: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// relevantMemories retrieves memories ranked against the partner's name
// as the query, or by recency when embeddings are unavailable.
func (r *Runtime) relevantMemories(ctx context.Context, agent world.Agent, query string) ([]Memory, error) {
	memories, err := loadMemories(ctx, r.store, agent.ID)
	if err != nil || len(memories) == 0 {
		return nil, err
	}
	var queryVec []float64
	if r.brain.CanEmbed() {
		vectors, err := r.brain.Embed(ctx, []string{query})
		if err == nil && len(vectors) == 1 {
			queryVec = vectors[0]
		}
	}
	return rankMemories(memories, queryVec, MaxPromptMemories), nil
}

// rememberFinished summarizes a just-ended conversation into the agent's
// memory stream.
func (r *Runtime) rememberFinished(ctx context.Context, town *world.AiTown, agent world.Agent, player world.Player, conversationID string) error {
	exists, err := hasConversationMemory(ctx, r.store, agent.ID, conversationID)
	if err != nil || exists {
		return err
	}

	messages := town.Messages.Filter(func(m world.Message) bool {
		return m.ConversationID == conversationID
	})
	sort.Slice(messages, func(i, j int) bool { return messages[i].Created < messages[j].Created })

	_, partnerName, err := r.partnerOf(town, conversationID, player.ID)
	if err != nil {
		partnerName = "someone"
	}

	description := fmt.Sprintf("I had a conversation with %s.", partnerName)
	if r.brain.Enabled() && len(messages) > 0 {
		callCtx, cancel := context.WithTimeout(ctx, ActionTimeout*time.Millisecond)
		defer cancel()
		if summary, err := r.brain.Chat(callCtx, summaryPrompt(player.Name, partnerName, messages, playerNames(town))); err == nil {
			if summary = strings.TrimSpace(summary); summary != "" {
				description = summary
			}
		}
	}

	memory := Memory{
		AgentID:        agent.ID,
		ConversationID: conversationID,
		Description:    description,
		Created:        r.clock(),
	}
	if r.brain.CanEmbed() {
		embedCtx, cancel := context.WithTimeout(ctx, ActionTimeout*time.Millisecond)
		defer cancel()
		if vectors, err := r.brain.Embed(embedCtx, []string{description}); err == nil && len(vectors) == 1 {
			memory.Embedding = vectors[0]
		}
	}
	return rememberConversation(ctx, r.store, memory)
}

// actIdle wanders or invites someone nearby to chat.
func (r *Runtime) actIdle(ctx context.Context, town *world.AiTown, agent world.Agent, player world.Player, st *loopState, now int64) error {
	if player.Destination != nil || len(player.Path) > 0 {
		return nil
	}

	if peer, ok := r.pickConversationPartner(town, agent, player, st, now); ok {
		st.lastInviteAttempt = now
		_, err := r.runner.InsertInput(ctx, town.World.EngineID, "startConversation", world.StartConversationArgs{
			PlayerID:  player.ID,
			InviteeID: peer.ID,
		})
		return err
	}

	dest, ok := r.wanderDestination(town)
	if !ok {
		return nil
	}
	_, err := r.runner.InsertInput(ctx, town.World.EngineID, "moveTo", world.MoveToArgs{
		PlayerID:    player.ID,
		Destination: dest,
	})
	return err
}

// pickConversationPartner finds a free player nearby, respecting the
// global and per-peer conversation cooldowns.
func (r *Runtime) pickConversationPartner(town *world.AiTown, agent world.Agent, player world.Player, st *loopState, now int64) (world.Player, bool) {
	if r.float() >= r.inviteChance {
		return world.Player{}, false
	}
	if now-agent.LastConversationTs < world.ConversationCooldown {
		return world.Player{}, false
	}
	if now-st.lastInviteAttempt < world.ConversationCooldown {
		return world.Player{}, false
	}
	loc, err := town.Locations.Lookup(player.LocationID)
	if err != nil {
		return world.Player{}, false
	}

	candidates := town.Players.Filter(func(other world.Player) bool {
		if other.ID == player.ID {
			return false
		}
		if now-agent.PeerCooldowns[other.ID] < world.PlayerConversationCooldown {
			return false
		}
		if _, _, busy := town.MemberOf(other.ID); busy {
			return false
		}
		otherLoc, err := town.Locations.Lookup(other.LocationID)
		if err != nil {
			return false
		}
		return geometry.Distance(loc.Point(), otherLoc.Point()) <= NearbyDistance
	})
	if len(candidates) == 0 {
		return world.Player{}, false
	}
	return candidates[r.intn(len(candidates))], true
}

func (r *Runtime) wanderDestination(town *world.AiTown) (geometry.Point, bool) {
	for attempt := 0; attempt < 20; attempt++ {
		x := r.intn(town.Map.Width)
		y := r.intn(town.Map.Height)
		if !town.Map.Blocked(x, y) {
			return geometry.Point{X: float64(x), Y: float64(y)}, true
		}
	}
	return geometry.Point{}, false
}

func (r *Runtime) partnerOf(town *world.AiTown, conversationID, playerID string) (world.Player, string, error) {
	members := town.Members.FilterAny(func(m world.ConversationMember) bool {
		return m.ConversationID == conversationID && m.PlayerID != playerID
	})
	if len(members) == 0 {
		return world.Player{}, "", fmt.Errorf("conversation %s has no partner for %s", conversationID, playerID)
	}
	partner, err := town.Players.Lookup(members[0].PlayerID)
	if err != nil {
		return world.Player{}, "", err
	}
	return partner, partner.Name, nil
}

func playerNames(town *world.AiTown) map[string]string {
	names := make(map[string]string)
	for _, p := range town.Players.All() {
		names[p.ID] = p.Name
	}
	return names
}
