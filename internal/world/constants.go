package world

// Distances are in tiles, durations in milliseconds.
const (
	// MovementSpeed is how fast characters walk, tiles per second.
	MovementSpeed = 0.75

	// CollisionThreshold is how close two characters may get before a
	// tile counts as blocked.
	CollisionThreshold = 0.75

	// ConversationDistance is how close both parties must be before a
	// conversation starts.
	ConversationDistance = 1.3

	PathfindingTimeout = 60_000
	PathfindingBackoff = 1000

	TypingTimeout = 15_000

	MaxConversationDuration = 120_000
	MaxConversationMessages = 8

	InviteTimeout              = 60_000
	AwkwardConversationTimeout = 20_000
	MessageCooldown            = 2000
	ConversationCooldown       = 15_000
	PlayerConversationCooldown = 60_000
)

// World status values.
const (
	StatusRunning            = "running"
	StatusStoppedByDeveloper = "stoppedByDeveloper"
	StatusInactive           = "inactive"
)

// Conversation member status values.
const (
	MemberInvited       = "invited"
	MemberWalkingOver   = "walkingOver"
	MemberParticipating = "participating"
	MemberLeft          = "left"
)

// Player pathfinding states.
const (
	PathStateIdle      = ""
	PathStateNeedsPath = "needsPath"
	PathStateMoving    = "moving"
)
