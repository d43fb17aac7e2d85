package model

import "time"

type Verification string

const (
	VerificationNone     Verification = "UNVERIFIED"
	VerifiedByModerator  Verification = "VERIFIED_BY_MOD"
	VerifiedByDomain     Verification = "VERIFIED_BY_DOMAIN"
)

func (v Verification) String() string { return string(v) }

// Trusted reports whether the contact passed moderator or domain verification.
func (v Verification) Trusted() bool {
	return v == VerifiedByModerator || v == VerifiedByDomain
}

// Contact is a destination mailbox attached to an entity. bounce_count,
// email_suppressed and last_emailed_at are mutated only by the outbox
// processor.
type Contact struct {
	ID              string       `db:"id"`
	EntityID        string       `db:"entity_id"`
	Email           string       `db:"email"`
	Kind            string       `db:"kind"` // EMAIL
	IsPublic        bool         `db:"is_public"`
	IsPrimary       bool         `db:"is_primary"`
	Verification    Verification `db:"verification"`
	EmailSuppressed bool         `db:"email_suppressed"`
	BounceCount     int          `db:"bounce_count"`
	LastEmailedAt   *time.Time   `db:"last_emailed_at"`
	CreatedAt       time.Time    `db:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at"`
}

// Eligible reports whether the contact may receive notification email at all.
func (c *Contact) Eligible() bool {
	return c != nil &&
		c.Kind == "EMAIL" &&
		c.IsPublic &&
		!c.EmailSuppressed &&
		c.Verification.Trusted() &&
		c.Email != ""
}
