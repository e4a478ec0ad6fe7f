package domain

import (
	"fmt"
	"strings"
	"time"
)

// providerEventTypes maps provider-native event codes onto the canonical
// vocabulary. Codes absent from the table are rejected before any ledger
// write.
var providerEventTypes = map[string]map[string]EventType{
	"asaas": {
		"PAYMENT_CREATED":              EventTypeCreated,
		"PAYMENT_RECEIVED":             EventTypeConfirmed,
		"PAYMENT_CONFIRMED":            EventTypeConfirmed,
		"PAYMENT_OVERDUE":              EventTypeOverdue,
		"PAYMENT_DELETED":              EventTypeCanceled,
		"PAYMENT_REFUNDED":             EventTypeRefunded,
		"PAYMENT_CHARGEBACK_REQUESTED": EventTypeChargeback,
		"PAYMENT_RESTORED":             EventTypeRestored,
	},
	"stone": {
		"payment.created":    EventTypeCreated,
		"payment.paid":       EventTypeConfirmed,
		"payment.overdue":    EventTypeOverdue,
		"payment.canceled":   EventTypeCanceled,
		"payment.refunded":   EventTypeRefunded,
		"payment.chargeback": EventTypeChargeback,
		"payment.restored":   EventTypeRestored,
	},
	"stripe": {
		"payment_intent.created":   EventTypeCreated,
		"payment_intent.succeeded": EventTypeConfirmed,
		"payment_intent.canceled":  EventTypeCanceled,
		"invoice.payment_failed":   EventTypeOverdue,
		"charge.refunded":          EventTypeRefunded,
		"charge.dispute.created":   EventTypeChargeback,
	},
}

// providersWithoutStableEventIDs lists gateways known to resend webhooks
// without a reusable native event id; their dedupe key falls back to
// payment id + event type + time bucket.
var providersWithoutStableEventIDs = map[string]bool{
	"stone": true,
}

// NormalizeEventType resolves a provider-native code into the canonical
// event type.
func NormalizeEventType(provider, code string) (EventType, bool) {
	table, ok := providerEventTypes[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return "", false
	}
	eventType, ok := table[strings.TrimSpace(code)]
	return eventType, ok
}

// KnownProvider reports whether a normalization table exists for provider.
func KnownProvider(provider string) bool {
	_, ok := providerEventTypes[strings.ToLower(strings.TrimSpace(provider))]
	return ok
}

// DedupeKey builds the provider_event_id used for the uniqueness guard.
// The provider's native event id wins when the provider is known to keep
// them stable; otherwise repeated deliveries of the same logical event
// collapse onto payment id, canonical type and an hourly bucket.
func DedupeKey(provider, nativeEventID, providerPaymentID string, eventType EventType, occurredAt time.Time) string {
	nativeEventID = strings.TrimSpace(nativeEventID)
	if nativeEventID != "" && !providersWithoutStableEventIDs[strings.ToLower(strings.TrimSpace(provider))] {
		return nativeEventID
	}
	bucket := occurredAt.UTC().Truncate(time.Hour).Unix()
	return fmt.Sprintf("%s:%s:%d", providerPaymentID, eventType, bucket)
}
