package world

import (
	"github.com/talgya/aitown/internal/geometry"
)

// tickConversations progresses conversation lifecycles: walking members
// converge, conversations start when both parties are close enough, and
// stale or over-limit conversations are wound down.
func (t *AiTown) tickConversations(now int64) {
	for _, c := range t.Conversations.All() {
		members := t.conversationMembers(c.ID)

		// A conversation below two live members is over.
		if len(members) < 2 {
			t.finishConversation(c.ID, now)
			continue
		}
		if now-c.Created > MaxConversationDuration {
			t.finishConversation(c.ID, now)
			continue
		}

		if c.IsTyping != nil && now-c.IsTyping.Since > TypingTimeout {
			_ = t.Conversations.Update(c.ID, func(c *Conversation) {
				c.IsTyping = nil
			})
		}

		t.steerWalkingMembers(c, members, now)
		t.promoteToParticipating(c, members)
	}
}

// steerWalkingMembers gives each accepted-but-distant member a
// destination next to their partner.
func (t *AiTown) steerWalkingMembers(c Conversation, members []ConversationMember, now int64) {
	for i, m := range members {
		if m.Status != MemberWalkingOver {
			continue
		}
		player, err := t.Players.Lookup(m.PlayerID)
		if err != nil || player.Destination != nil || len(player.Path) > 0 {
			continue
		}
		partner := members[(i+1)%len(members)]
		partnerPlayer, err := t.Players.Lookup(partner.PlayerID)
		if err != nil {
			continue
		}
		partnerAt, ok := t.playerPositionAt(partnerPlayer, float64(now))
		if !ok {
			continue
		}
		target, ok := t.Map.WalkableNear(partnerAt)
		if !ok {
			continue
		}
		_ = t.Players.Update(player.ID, func(p *Player) {
			p.Destination = &target
			p.PathfindingState = PathStateNeedsPath
			p.PathfindingStarted = now
			p.ReplanAfter = 0
		})
	}
}

// promoteToParticipating starts the conversation once both parties have
// accepted and stand within ConversationDistance.
func (t *AiTown) promoteToParticipating(c Conversation, members []ConversationMember) {
	if len(members) != 2 {
		return
	}
	for _, m := range members {
		if m.Status != MemberWalkingOver && m.Status != MemberParticipating {
			return
		}
	}

	positions := make([]geometry.Point, 0, 2)
	for _, m := range members {
		player, err := t.Players.Lookup(m.PlayerID)
		if err != nil {
			return
		}
		loc, err := t.Locations.Lookup(player.LocationID)
		if err != nil {
			return
		}
		positions = append(positions, loc.Point())
	}
	if geometry.Distance(positions[0], positions[1]) > ConversationDistance {
		return
	}

	for _, m := range members {
		if m.Status == MemberParticipating {
			continue
		}
		_ = t.Members.Update(m.ID, func(m *ConversationMember) {
			m.Status = MemberParticipating
		})
		// Stop walking: the chat happens here.
		t.clearPath(m.PlayerID)
	}
}
