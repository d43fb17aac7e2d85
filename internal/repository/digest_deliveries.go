package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/polyvox/notify-engine/internal/model"
)

// ErrStaleSubscription is returned by FinalizeSent when another digest run
// already advanced last_sent_at for the subscription.
var ErrStaleSubscription = errors.New("subscription updated by a concurrent digest run")

type DigestDeliveriesRepository interface {
	// Insert appends an audit row (skipped/failed paths).
	Insert(ctx context.Context, d model.DigestDelivery) error

	// FinalizeSent commits one successful digest atomically: a CAS update of
	// last_sent_at guarded on its previous value, the sent audit row, and
	// processed_at on every consumed event. The CAS is the transactional
	// re-evaluation of the overlap guard; losing it returns
	// ErrStaleSubscription and writes nothing.
	FinalizeSent(ctx context.Context, subscriptionID string, prevLastSentAt *time.Time, d model.DigestDelivery, eventIDs []string, now time.Time) error
}

type DigestDeliveriesRepositoryImpl struct {
	db *sqlx.DB
}

func NewDigestDeliveriesRepository(db *sqlx.DB) *DigestDeliveriesRepositoryImpl {
	return &DigestDeliveriesRepositoryImpl{db: db}
}

var _ DigestDeliveriesRepository = (*DigestDeliveriesRepositoryImpl)(nil)

func (r *DigestDeliveriesRepositoryImpl) Insert(ctx context.Context, d model.DigestDelivery) error {
	_, err := r.db.ExecContext(ctx, insertDeliveryQuery,
		d.EntityID, d.ContactEmail, d.PeriodStart, d.PeriodEnd, d.EventsCount,
		d.Status, d.ProviderMessageID, d.Error)
	return err
}

const insertDeliveryQuery = `
	INSERT INTO entity_digest_deliveries
	    (entity_id, contact_email, period_start, period_end, events_count,
	     status, provider_message_id, error, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, NOW())
`

func (r *DigestDeliveriesRepositoryImpl) FinalizeSent(ctx context.Context, subscriptionID string, prevLastSentAt *time.Time, d model.DigestDelivery, eventIDs []string, now time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// <=> is MySQL's null-safe equality; prevLastSentAt is nil for a first
	// digest.
	res, err := tx.ExecContext(ctx, `
		UPDATE entity_contact_subscriptions
		   SET last_sent_at = ?, updated_at = ?
		 WHERE id = ? AND last_sent_at <=> ?
	`, now, now, subscriptionID, prevLastSentAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleSubscription
	}

	if _, err := tx.ExecContext(ctx, insertDeliveryQuery,
		d.EntityID, d.ContactEmail, d.PeriodStart, d.PeriodEnd, d.EventsCount,
		d.Status, d.ProviderMessageID, d.Error); err != nil {
		return err
	}

	if len(eventIDs) > 0 {
		query, args, err := sqlx.In(`
			UPDATE entity_notification_events
			   SET processed_at = ?
			 WHERE id IN (?)
		`, now, eventIDs)
		if err != nil {
			return err
		}
		query = r.db.Rebind(query)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}

	return tx.Commit()
}
