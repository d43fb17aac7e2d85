package model

import (
	"encoding/json"
	"time"
)

// NotificationEvent is a digest-eligible event recorded for an entity.
// processed_at is stamped by a successful digest run; events from failed runs
// stay unprocessed and re-surface on the next run.
type NotificationEvent struct {
	ID          string          `db:"id"`
	EntityID    string          `db:"entity_id"`
	EventType   string          `db:"event_type"`
	Payload     json.RawMessage `db:"payload"`
	ProcessedAt *time.Time      `db:"processed_at"`
	CreatedAt   time.Time       `db:"created_at"`
}

// EventPayload is the structured part of a NotificationEvent.
type EventPayload struct {
	Title   string  `json:"title,omitempty"`
	Excerpt *string `json:"excerpt,omitempty"`
	URL     string  `json:"url,omitempty"`
}

// eventLabels maps event types to human-readable digest labels.
var eventLabels = map[string]string{
	"entity_tagged": "Entity tagged",
	"issue_created": "Issue created",
	"issue_updated": "Issue updated",
	"post_tagged":   "Post tagged",
	"manual_notify": "Manual notification",
}

// EventLabel returns the digest label for an event type.
func EventLabel(eventType string) string {
	if label, ok := eventLabels[eventType]; ok {
		return label
	}
	return "Update"
}

// Digest delivery statuses.
const (
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
	DeliverySkipped = "skipped"
)

// DigestDelivery is an append-only audit row per aggregation attempt per
// contact.
type DigestDelivery struct {
	ID                int64     `db:"id"`
	EntityID          string    `db:"entity_id"`
	ContactEmail      string    `db:"contact_email"`
	PeriodStart       time.Time `db:"period_start"`
	PeriodEnd         time.Time `db:"period_end"`
	EventsCount       int       `db:"events_count"`
	Status            string    `db:"status"`
	ProviderMessageID *string   `db:"provider_message_id"`
	Error             *string   `db:"error"`
	CreatedAt         time.Time `db:"created_at"`
}
