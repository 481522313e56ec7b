package model

import "encoding/json"

// Event is the unit exchanged between producers (request handlers, the auth
// provider webhook) and the scheduler. Data is opaque to the scheduler and
// becomes the payload of any task instances the event triggers.
type Event struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Event names recognized by this core.
const (
	EventUserCreated         = "user.created"
	EventUserUpdated         = "user.updated"
	EventUserDeleted         = "user.deleted"
	EventConnectionRequested = "connection.requested"
	EventStoryCreated        = "story.created"
	EventMessageCreated      = "message.created"
)
