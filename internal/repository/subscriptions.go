package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/polyvox/notify-engine/internal/model"
)

type SubscriptionsRepository interface {
	// Ensure creates a subscription for (entity, email) when none exists yet.
	// It never re-enables an unsubscribed pair; resubscribe is token-only.
	Ensure(ctx context.Context, entityID, email, token string, frequency model.DigestFrequency, now time.Time) error

	// ListEnabled returns enabled, non-unsubscribed subscriptions joined with
	// their entity, oldest first, up to limit.
	ListEnabled(ctx context.Context, limit int) ([]model.DigestSubscription, error)

	GetByToken(ctx context.Context, token string) (*model.ContactSubscription, error)

	// Unsubscribe disables the subscription behind the token. Returns false
	// when the token matches nothing.
	Unsubscribe(ctx context.Context, token string, now time.Time) (bool, error)

	// Resubscribe clears unsubscribed_at and re-enables the subscription.
	Resubscribe(ctx context.Context, token string, now time.Time) (bool, error)
}

type SubscriptionsRepositoryImpl struct {
	db *sqlx.DB
}

func NewSubscriptionsRepository(db *sqlx.DB) *SubscriptionsRepositoryImpl {
	return &SubscriptionsRepositoryImpl{db: db}
}

var _ SubscriptionsRepository = (*SubscriptionsRepositoryImpl)(nil)

func (r *SubscriptionsRepositoryImpl) Ensure(ctx context.Context, entityID, email, token string, frequency model.DigestFrequency, now time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	err = tx.QueryRowxContext(ctx, `
		SELECT 1 FROM entity_contact_subscriptions
		 WHERE entity_id = ? AND contact_email = ?
		 LIMIT 1 FOR UPDATE
	`, entityID, email).Scan(&one)
	if err == nil {
		return tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO entity_contact_subscriptions
		    (id, entity_id, contact_email, digest_frequency, is_enabled,
		     unsubscribe_token, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?)
	`, token, entityID, email, frequency.String(), token, now, now); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SubscriptionsRepositoryImpl) ListEnabled(ctx context.Context, limit int) ([]model.DigestSubscription, error) {
	if limit <= 0 {
		limit = 25
	}
	var subs []model.DigestSubscription
	err := r.db.SelectContext(ctx, &subs, `
		SELECT s.id, s.entity_id, s.contact_email, s.digest_frequency,
		       s.last_sent_at, s.is_enabled, s.unsubscribe_token,
		       s.unsubscribed_at, s.created_at, s.updated_at,
		       e.name AS entity_name,
		       e.jurisdiction_label,
		       e.jurisdiction_status
		  FROM entity_contact_subscriptions s
		  JOIN public_entities e ON e.id = s.entity_id
		 WHERE s.is_enabled = 1
		   AND s.unsubscribed_at IS NULL
		 ORDER BY s.created_at ASC
		 LIMIT ?
	`, limit)
	return subs, err
}

func (r *SubscriptionsRepositoryImpl) GetByToken(ctx context.Context, token string) (*model.ContactSubscription, error) {
	var s model.ContactSubscription
	err := r.db.GetContext(ctx, &s, `
		SELECT id, entity_id, contact_email, digest_frequency, last_sent_at,
		       is_enabled, unsubscribe_token, unsubscribed_at, created_at, updated_at
		  FROM entity_contact_subscriptions
		 WHERE unsubscribe_token = ? LIMIT 1
	`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SubscriptionsRepositoryImpl) Unsubscribe(ctx context.Context, token string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE entity_contact_subscriptions
		   SET unsubscribed_at = ?, is_enabled = 0, updated_at = ?
		 WHERE unsubscribe_token = ?
	`, now, now, token)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *SubscriptionsRepositoryImpl) Resubscribe(ctx context.Context, token string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE entity_contact_subscriptions
		   SET unsubscribed_at = NULL, is_enabled = 1, updated_at = ?
		 WHERE unsubscribe_token = ?
	`, now, token)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
