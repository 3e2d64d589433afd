package idempotency

import "time"

// Status values for idempotency entries. An entry is created as processing
// when an event is accepted for work and promoted to processed once the
// handler finishes.
const (
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
)

// Record is the shape persisted in the idempotency DynamoDB table.
// ExpiresAt drives the table's TTL: short for processing so a crashed
// attempt frees the key quickly, long for processed so redelivery storms
// stay suppressed.
type Record struct {
	Key       string    `dynamodbav:"idempotency_key"` // PK
	Status    string    `dynamodbav:"status"`
	CreatedAt time.Time `dynamodbav:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
	ExpiresAt int64     `dynamodbav:"expires_at"` // TTL epoch seconds
}
