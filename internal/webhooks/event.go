// Package webhooks takes gateway event deliveries in over HTTP,
// deduplicates them against the idempotency store, and hands them to
// the durable queue for asynchronous processing. The gateway redelivers
// aggressively, so every stage here tolerates seeing the same event id
// many times.
package webhooks

import (
	"encoding/json"
	"time"
)

const (
	// Queue is the durable queue webhook jobs run on.
	Queue = "webhooks"
	// JobName identifies webhook jobs in the worker pool registry.
	JobName = "process-webhook"

	// DefaultMaxAttempts bounds retries before a job dead-letters.
	DefaultMaxAttempts = 3
)

// JobID derives the queue job id for an event. One id per event means a
// redelivery that slips past the idempotency check still dedupes at the
// queue.
func JobID(eventID string) string {
	return "webhook:" + eventID
}

// Event is a gateway webhook delivery as persisted on the job payload.
type Event struct {
	EventID    string          `json:"eventId"`
	EventType  string          `json:"eventType"`
	EventData  json.RawMessage `json:"eventData,omitempty"`
	ReceivedAt time.Time       `json:"receivedAt"`
}
