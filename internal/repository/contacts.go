package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/polyvox/notify-engine/internal/model"
)

type ContactsRepository interface {
	// EligibleByEntity returns the best notification contact for the entity:
	// public EMAIL contact, not suppressed, moderator- or domain-verified,
	// primary first. Returns nil when no eligible contact exists.
	EligibleByEntity(ctx context.Context, entityID string) (*model.Contact, error)

	TouchLastEmailed(ctx context.Context, contactID string, now time.Time) error

	// RecordBounce increments bounce_count and suppresses the contact. This
	// permanently removes the contact from future eligibility.
	RecordBounce(ctx context.Context, contactID string, now time.Time) error

	// Suppress disables the mailbox without counting a bounce (contact-level
	// unsubscribe link).
	Suppress(ctx context.Context, contactID string, now time.Time) error
}

type ContactsRepositoryImpl struct {
	db *sqlx.DB
}

func NewContactsRepository(db *sqlx.DB) *ContactsRepositoryImpl {
	return &ContactsRepositoryImpl{db: db}
}

var _ ContactsRepository = (*ContactsRepositoryImpl)(nil)

func (r *ContactsRepositoryImpl) EligibleByEntity(ctx context.Context, entityID string) (*model.Contact, error) {
	var c model.Contact
	err := r.db.GetContext(ctx, &c, `
		SELECT id, entity_id, email, kind, is_public, is_primary, verification,
		       email_suppressed, bounce_count, last_emailed_at, created_at, updated_at
		  FROM public_entity_contacts
		 WHERE entity_id = ?
		   AND kind = 'EMAIL'
		   AND is_public = 1
		   AND email_suppressed = 0
		   AND verification IN ('VERIFIED_BY_MOD', 'VERIFIED_BY_DOMAIN')
		 ORDER BY is_primary DESC
		 LIMIT 1
	`, entityID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ContactsRepositoryImpl) TouchLastEmailed(ctx context.Context, contactID string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE public_entity_contacts
		   SET last_emailed_at = ?, updated_at = ?
		 WHERE id = ?
	`, now, now, contactID)
	return err
}

func (r *ContactsRepositoryImpl) RecordBounce(ctx context.Context, contactID string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE public_entity_contacts
		   SET bounce_count = bounce_count + 1, email_suppressed = 1, updated_at = ?
		 WHERE id = ?
	`, now, contactID)
	return err
}

func (r *ContactsRepositoryImpl) Suppress(ctx context.Context, contactID string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE public_entity_contacts
		   SET email_suppressed = 1, updated_at = ?
		 WHERE id = ?
	`, now, contactID)
	return err
}
