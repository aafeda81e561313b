package services

import (
	"context"
	"encoding/json"
)

// PushPayload is the rendered notification shared by every recipient of one
// dispatch. It must not be modified after it is built.
type PushPayload struct {
	Title string
	Body  string
}

// SendResult is the provider's acknowledgement for a single message.
type SendResult struct {
	MessageID string
	Raw       json.RawMessage
}

// PushProvider represents a downstream push provider that accepts one
// recipient per call.
type PushProvider interface {
	Name() string
	Send(ctx context.Context, accessToken, address string, payload *PushPayload) (*SendResult, error)
}
