package request

import "encoding/json"

// PublishEvent is the body of POST /api/v1/events. Data is passed through
// to the triggered workflows untouched.
type PublishEvent struct {
	Name string          `json:"name" validate:"required"`
	Data json.RawMessage `json:"data,omitempty"`
}
