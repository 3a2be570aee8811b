package copilot

import (
	"context"
)

// Role distinguishes turn ownership in a Copilot request, mirroring
// pkg/conversation.Role so a conversation Turn maps onto a copilot Turn
// without any field renaming.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one exchange passed to the Copilot adapter as conversational
// context.
type Turn struct {
	Role Role
	Text string
}

// Reply is the adapter's response to a completion request.
type Reply struct {
	Text string
}

// Client is the request/response contract the Conversation State Machine's
// waitingForCopilot state discharges against. Actual Copilot business
// logic lives outside this repo; this interface and its reference adapter
// only prove the contract is dischargeable.
type Client interface {
	Complete(ctx context.Context, turns []Turn) (Reply, error)
}
