package domain

import (
	"context"
	"net/http"
)

// EventParser authenticates and decodes a webhook delivery into an Event.
// Types outside the handled set return ErrEventIgnored.
type EventParser interface {
	Provider() string
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*Event, error)
}

// Adapter is a provider integration: outbound calls plus webhook decoding.
type Adapter interface {
	Processor
	EventParser
}
