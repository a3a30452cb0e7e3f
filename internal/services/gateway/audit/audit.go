// Package audit records append-only gateway activity events.
//
// Events are an operational trail, not a correctness dependency: the
// provisioning workflow and the chat path behave identically whether or not a
// recorder is configured.
package audit

import (
	"context"
	"time"
)

// Event names emitted by the gateway.
const (
	EventBindSucceeded = "bind.succeeded"
	EventBindFailed    = "bind.failed"
	EventChatRouted    = "chat.routed"
)

// Event is one append-only gateway activity record.
type Event struct {
	ID        string
	EventName string
	// ActorUserID is the human user the action ran on behalf of.
	ActorUserID string
	// PrincipalID is the service principal application id, when known.
	PrincipalID string
	// ClientID is the tenant scoping key involved, when known.
	ClientID  string
	Outcome   string
	Detail    string
	CreatedAt time.Time
}

// Recorder persists gateway events.
type Recorder interface {
	PutEvent(ctx context.Context, event Event) error
	ListEventsByActor(ctx context.Context, actorUserID string, limit int) ([]Event, error)
}
