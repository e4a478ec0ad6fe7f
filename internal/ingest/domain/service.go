// Package domain defines the webhook ingestion contract.
package domain

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidProvider = errors.New("ingest: provider is required")
	ErrInvalidPayload  = errors.New("ingest: payload is not valid json")
)

// Result reports what ingesting one webhook delivery did.
type Result struct {
	EventID   snowflake.ID `json:"event_id,omitempty"`
	EventType string       `json:"event_type,omitempty"`
	IsNew     bool         `json:"is_new"`
	Applied   bool         `json:"applied"`
	// Ignored is set when the provider code has no canonical mapping;
	// the delivery is acknowledged and dropped.
	Ignored bool `json:"ignored"`
}

// Service ingests provider webhook deliveries into the ledger and applies
// their effects. Ingesting the same delivery twice acknowledges the
// duplicate without re-applying.
type Service interface {
	IngestWebhook(ctx context.Context, provider string, r *http.Request, body []byte) (*Result, error)
}
