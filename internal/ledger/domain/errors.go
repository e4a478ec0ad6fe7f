package domain

import "errors"

var (
	ErrInvalidEvent      = errors.New("invalid_event")
	ErrInvalidProvider   = errors.New("invalid_provider")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidOccurredAt = errors.New("invalid_occurred_at")
	ErrInvalidPayload    = errors.New("invalid_payload")
	ErrUnknownEventType  = errors.New("unknown_event_type")
	ErrEventNotFound     = errors.New("event_not_found")
)
