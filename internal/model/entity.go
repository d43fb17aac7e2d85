package model

import (
	"strings"
	"time"
)

type NotificationMode string

const (
	ModeNone           NotificationMode = "NONE"
	ModeInAppOnly      NotificationMode = "IN_APP_ONLY"
	ModeEmailImmediate NotificationMode = "EMAIL_IMMEDIATE"
	ModeEmailDigest    NotificationMode = "EMAIL_DIGEST"
)

func (m NotificationMode) String() string { return string(m) }

// ParseNotificationMode normalizes input; empty => NONE.
func ParseNotificationMode(s string) NotificationMode {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IN_APP_ONLY":
		return ModeInAppOnly
	case "EMAIL_IMMEDIATE":
		return ModeEmailImmediate
	case "EMAIL_DIGEST":
		return ModeEmailDigest
	default:
		return ModeNone
	}
}

// Suppressed reports whether the mode disables all outbound email.
func (m NotificationMode) Suppressed() bool {
	return m != ModeEmailImmediate && m != ModeEmailDigest
}

const JurisdictionActive = "ACTIVE"

// Entity is a public entity that can be mentioned/tagged by content.
type Entity struct {
	ID                 string           `db:"id"`
	Name               string           `db:"name"`
	JurisdictionLabel  *string          `db:"jurisdiction_label"`
	JurisdictionStatus string           `db:"jurisdiction_status"`
	NotificationMode   NotificationMode `db:"notification_mode"`
	CreatedAt          time.Time        `db:"created_at"`
	UpdatedAt          time.Time        `db:"updated_at"`
}
