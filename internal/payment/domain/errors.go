package domain

import "errors"

var (
	ErrEventIgnored          = errors.New("event_ignored")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrStaleEvent            = errors.New("stale_event")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrInvalidConfig         = errors.New("invalid_config")
	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrProcessorNotFound     = errors.New("processor_object_not_found")
)
