package model

import (
	"strings"
	"time"
)

type DigestFrequency string

const (
	FrequencyHourly DigestFrequency = "hourly"
	FrequencyDaily  DigestFrequency = "daily"
)

func (f DigestFrequency) String() string { return string(f) }

// ParseDigestFrequency normalizes input; empty => daily.
// Returns (value, true) if valid; otherwise (daily, false).
func ParseDigestFrequency(s string) (DigestFrequency, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hourly":
		return FrequencyHourly, true
	case "", "daily":
		return FrequencyDaily, true
	default:
		return FrequencyDaily, false
	}
}

// ContactSubscription pairs an entity with a contact email for digest
// delivery. At most one active subscription exists per (entity, email).
// Disabled on unsubscribe, never deleted.
type ContactSubscription struct {
	ID               string          `db:"id"`
	EntityID         string          `db:"entity_id"`
	ContactEmail     string          `db:"contact_email"`
	DigestFrequency  DigestFrequency `db:"digest_frequency"`
	LastSentAt       *time.Time      `db:"last_sent_at"`
	IsEnabled        bool            `db:"is_enabled"`
	UnsubscribeToken string          `db:"unsubscribe_token"`
	UnsubscribedAt   *time.Time      `db:"unsubscribed_at"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
}

// DigestSubscription is a subscription joined with the entity columns the
// aggregator needs for the jurisdiction guard and the message header.
type DigestSubscription struct {
	ContactSubscription
	EntityName         string  `db:"entity_name"`
	JurisdictionLabel  *string `db:"jurisdiction_label"`
	JurisdictionStatus string  `db:"jurisdiction_status"`
}
