package agents

import "time"

// Decision-loop timing, milliseconds unless noted.
const (
	// InviteAcceptProbability is how often an idle agent says yes.
	InviteAcceptProbability = 0.8

	// ActionTimeout bounds any single LLM call.
	ActionTimeout = 60_000

	// WakeInterval is the base poll cadence of an agent's loop; timers
	// and engine activity resolve at this granularity.
	WakeInterval = time.Second

	// InviteChance is the per-wakeup probability of trying to start a
	// conversation with someone nearby when cooldowns allow it.
	InviteChance = 0.3

	// NearbyDistance bounds who counts as "nearby" for invites, tiles.
	NearbyDistance = 8.0

	// MaxPromptMessages is how much conversation history feeds a prompt.
	MaxPromptMessages = 10

	// MaxPromptMemories is how many retrieved memories feed a prompt.
	MaxPromptMemories = 3
)
