package model

import (
	"strings"
	"time"
)

type ContentType string

const (
	ContentIssue    ContentType = "ISSUE"
	ContentPost     ContentType = "POST"
	ContentComment  ContentType = "COMMENT"
	ContentEvidence ContentType = "EVIDENCE"
)

func (t ContentType) String() string { return string(t) }

func (t ContentType) Valid() bool {
	switch t {
	case ContentIssue, ContentPost, ContentComment, ContentEvidence:
		return true
	}
	return false
}

// ParseContentType normalizes input. Returns (value, true) if valid.
func ParseContentType(s string) (ContentType, bool) {
	t := ContentType(strings.ToUpper(strings.TrimSpace(s)))
	return t, t.Valid()
}

// MentionEvent is one instance of an entity being referenced by a piece of
// content. Written once by the intake path, never updated.
type MentionEvent struct {
	ID           string      `db:"id"`
	EntityID     string      `db:"entity_id"`
	ContentType  ContentType `db:"content_type"`
	ContentID    string      `db:"content_id"`
	ContentURL   string      `db:"content_url"`
	ContentTitle *string     `db:"content_title"`
	Intent       *string     `db:"intent"`
	CreatedBy    *string     `db:"created_by"`
	CreatedAt    time.Time   `db:"created_at"`
}
