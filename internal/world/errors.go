package world

import "errors"

// Typed input-handler failures. Handlers convert these to the input's
// recorded error return value; they never crash the engine.
var (
	ErrBlockedDestination   = errors.New("destination is blocked")
	ErrDuplicateJoin        = errors.New("player already joined")
	ErrConversationFull     = errors.New("player is already in a conversation")
	ErrConversationFinished = errors.New("conversation is over")
	ErrNotParticipating     = errors.New("player is not participating in this conversation")
	ErrAlreadyTyping        = errors.New("someone else is already typing")
	ErrWhileConversing      = errors.New("can't move while in a conversation")
	ErrUnknownInput         = errors.New("unknown input name")
)
