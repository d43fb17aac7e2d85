package model

import (
	"encoding/json"
	"time"
)

type OutboxStatus string

const (
	StatusQueued OutboxStatus = "QUEUED"
	StatusSent   OutboxStatus = "SENT"
	StatusFailed OutboxStatus = "FAILED"
)

func (s OutboxStatus) String() string { return string(s) }

func (s OutboxStatus) Valid() bool {
	return s == StatusQueued || s == StatusSent || s == StatusFailed
}

// Live reports whether the status still counts against dedupe/rate windows.
func (s OutboxStatus) Live() bool {
	return s == StatusQueued || s == StatusSent
}

// Template names known to the renderer.
const (
	TemplateTagImmediate = "entity_tag_immediate"
	TemplateTagDigest    = "entity_tag_digest"
)

// OutboxMessage is one scheduled email job. Created by the policy decider or
// the digest aggregator, mutated only by the outbox processor, never deleted.
type OutboxMessage struct {
	ID                string          `db:"id"`
	EntityID          string          `db:"entity_id"`
	ContactID         *string         `db:"contact_id"`
	ToEmail           string          `db:"to_email"`
	Subject           string          `db:"subject"`
	Template          string          `db:"template"`
	Payload           json.RawMessage `db:"payload"`
	Status            OutboxStatus    `db:"status"`
	Attempts          int             `db:"attempts"`
	SendAfter         time.Time       `db:"send_after"`
	DedupeKey         string          `db:"dedupe_key"`
	SentAt            *time.Time      `db:"sent_at"`
	LastError         *string         `db:"last_error"`
	ProviderMessageID *string         `db:"provider_message_id"`
	ClaimedAt         *time.Time      `db:"claimed_at"`
	CreatedAt         time.Time       `db:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

// ImmediatePayload is the render input for entity_tag_immediate.
type ImmediatePayload struct {
	EntityName        string  `json:"entityName"`
	JurisdictionLabel *string `json:"jurisdictionLabel,omitempty"`
	ContentTitle      *string `json:"contentTitle,omitempty"`
	ContentExcerpt    *string `json:"contentExcerpt,omitempty"`
	ContentURL        string  `json:"contentUrl"`
	CreatedBy         *string `json:"createdBy,omitempty"`
	UnsubscribeURL    string  `json:"unsubscribeUrl"`
}

// DigestItem is one line of a digest email.
type DigestItem struct {
	Label   string  `json:"label"`
	Title   string  `json:"title"`
	Excerpt *string `json:"excerpt,omitempty"`
	URL     string  `json:"url,omitempty"`
	Created string  `json:"created,omitempty"`
}

// DigestPayload is the render input for entity_tag_digest.
type DigestPayload struct {
	EntityName        string       `json:"entityName"`
	JurisdictionLabel *string      `json:"jurisdictionLabel,omitempty"`
	Items             []DigestItem `json:"items"`
	UnsubscribeURL    string       `json:"unsubscribeUrl"`
}
