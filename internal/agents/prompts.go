package agents

import (
	"fmt"
	"strings"

	"github.com/talgya/aitown/internal/llm"
	"github.com/talgya/aitown/internal/world"
)

// conversationPrompt is everything needed to write the agent's next line.
type conversationPrompt struct {
	Self        world.Agent
	SelfName    string
	PartnerName string
	PartnerDesc string
	Messages    []world.Message // oldest first
	Names       map[string]string
	Memories    []Memory
	FirstLine   bool
}

// build renders the chat request. The partner's dialogue tag is a stop
// word so the model can't speak for them.
func (p conversationPrompt) build() llm.ChatRequest {
	var system strings.Builder
	fmt.Fprintf(&system, "You are %s, a character in a small town.\n%s\n", p.SelfName, p.Self.Identity)
	if p.Self.Plan != "" {
		fmt.Fprintf(&system, "Your current goal: %s\n", p.Self.Plan)
	}
	fmt.Fprintf(&system, "\nYou are talking with %s.", p.PartnerName)
	if p.PartnerDesc != "" {
		fmt.Fprintf(&system, " About them: %s", p.PartnerDesc)
	}
	system.WriteString("\n\nStay in character. Keep replies to one or two short sentences of spoken dialogue, no stage directions.")

	if len(p.Memories) > 0 {
		system.WriteString("\n\nThings you remember:\n")
		for _, m := range p.Memories {
			fmt.Fprintf(&system, "- %s\n", m.Description)
		}
	}

	var user strings.Builder
	if len(p.Messages) == 0 {
		if p.FirstLine {
			fmt.Fprintf(&user, "You walked up to %s to start a conversation. Say your opening line.\n", p.PartnerName)
		} else {
			fmt.Fprintf(&user, "%s walked up to you to chat. Greet them.\n", p.PartnerName)
		}
	} else {
		user.WriteString("The conversation so far:\n")
		for _, m := range p.Messages {
			name := p.Names[m.Author]
			if name == "" {
				name = "Someone"
			}
			fmt.Fprintf(&user, "%s: %s\n", name, m.Text)
		}
		fmt.Fprintf(&user, "\nReply as %s.\n", p.SelfName)
	}
	fmt.Fprintf(&user, "%s:", p.SelfName)

	return llm.ChatRequest{
		System:    system.String(),
		Messages:  []llm.Message{{Role: "user", Content: user.String()}},
		MaxTokens: 200,
		Stop:      []string{"\n" + p.PartnerName + ":", "\n" + p.SelfName + ":"},
	}
}

// summaryPrompt asks for a one-paragraph recap of a finished conversation
// for the agent's memory stream.
func summaryPrompt(selfName, partnerName string, messages []world.Message, names map[string]string) llm.ChatRequest {
	var user strings.Builder
	fmt.Fprintf(&user, "Summarize this conversation between %s and %s in one or two sentences, from %s's point of view:\n\n",
		selfName, partnerName, selfName)
	for _, m := range messages {
		name := names[m.Author]
		if name == "" {
			name = "Someone"
		}
		fmt.Fprintf(&user, "%s: %s\n", name, m.Text)
	}
	return llm.ChatRequest{
		System:    "You write terse first-person diary entries.",
		Messages:  []llm.Message{{Role: "user", Content: user.String()}},
		MaxTokens: 120,
	}
}
