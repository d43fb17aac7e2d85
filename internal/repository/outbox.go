package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/polyvox/notify-engine/internal/model"
)

// ErrDuplicateLiveJob is returned by Enqueue when a QUEUED/SENT job with the
// same dedupe key already exists inside the throttle window.
var ErrDuplicateLiveJob = errors.New("duplicate live outbox job")

// OutboxRepository defines persistence for the email_outbox table. Rows are
// never deleted; SENT and FAILED are terminal states kept as an audit trail.
type OutboxRepository interface {
	// Enqueue inserts a new QUEUED job. Unless allowDuplicates is set, it
	// fails with ErrDuplicateLiveJob when a live job with the same dedupe
	// key was created at or after notBefore.
	Enqueue(ctx context.Context, m model.OutboxMessage, notBefore time.Time, allowDuplicates bool) error

	HasLiveJob(ctx context.Context, dedupeKey string, since time.Time) (bool, error)
	HasQueuedJob(ctx context.Context, dedupeKey string, since time.Time) (bool, error)
	CountLiveByContact(ctx context.Context, contactID string, since time.Time) (int, error)

	// ClaimDue returns due QUEUED jobs ordered by send_after ascending. Each
	// returned row was claimed with a compare-and-swap on its claim lease, so
	// overlapping processor runs never hold the same job. A claim that is not
	// finalized re-surfaces after the lease expires.
	ClaimDue(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]model.OutboxMessage, error)

	MarkSent(ctx context.Context, id, providerMessageID string, now time.Time) error
	MarkRetry(ctx context.Context, id string, attempts int, sendErr string, nextSendAfter, now time.Time) error
	MarkFailed(ctx context.Context, id string, attempts int, sendErr string, now time.Time) error
}

type OutboxRepositoryImpl struct {
	db *sqlx.DB
}

func NewOutboxRepository(db *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: db}
}

var _ OutboxRepository = (*OutboxRepositoryImpl)(nil)

func (r *OutboxRepositoryImpl) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *OutboxRepositoryImpl) Enqueue(ctx context.Context, m model.OutboxMessage, notBefore time.Time, allowDuplicates bool) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		if !allowDuplicates {
			var one int
			err := tx.QueryRowxContext(ctx, `
				SELECT 1
				  FROM email_outbox
				 WHERE dedupe_key = ?
				   AND status IN ('QUEUED', 'SENT')
				   AND created_at >= ?
				 LIMIT 1
				 FOR UPDATE
			`, m.DedupeKey, notBefore).Scan(&one)
			if err == nil {
				return ErrDuplicateLiveJob
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO email_outbox
			    (id, entity_id, contact_id, to_email, subject, template, payload,
			     status, attempts, send_after, dedupe_key, created_at, updated_at)
			VALUES
			    (?, ?, ?, ?, ?, ?, ?, 'QUEUED', 0, ?, ?, NOW(), NOW())
		`, m.ID, m.EntityID, m.ContactID, m.ToEmail, m.Subject, m.Template,
			[]byte(m.Payload), m.SendAfter, m.DedupeKey)
		return err
	})
}

func (r *OutboxRepositoryImpl) HasLiveJob(ctx context.Context, dedupeKey string, since time.Time) (bool, error) {
	return r.exists(ctx, `
		SELECT 1 FROM email_outbox
		 WHERE dedupe_key = ? AND status IN ('QUEUED', 'SENT') AND created_at >= ?
		 LIMIT 1
	`, dedupeKey, since)
}

func (r *OutboxRepositoryImpl) HasQueuedJob(ctx context.Context, dedupeKey string, since time.Time) (bool, error) {
	return r.exists(ctx, `
		SELECT 1 FROM email_outbox
		 WHERE dedupe_key = ? AND status = 'QUEUED' AND created_at >= ?
		 LIMIT 1
	`, dedupeKey, since)
}

func (r *OutboxRepositoryImpl) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := r.db.QueryRowxContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *OutboxRepositoryImpl) CountLiveByContact(ctx context.Context, contactID string, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowxContext(ctx, `
		SELECT COUNT(*) FROM email_outbox
		 WHERE contact_id = ? AND status IN ('QUEUED', 'SENT') AND created_at >= ?
	`, contactID, since).Scan(&n)
	return n, err
}

func (r *OutboxRepositoryImpl) ClaimDue(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]model.OutboxMessage, error) {
	if limit <= 0 {
		limit = 25
	}
	staleClaim := now.Add(-lease)

	var candidates []model.OutboxMessage
	err := r.db.SelectContext(ctx, &candidates, `
		SELECT id, entity_id, contact_id, to_email, subject, template, payload,
		       status, attempts, send_after, dedupe_key, sent_at, last_error,
		       provider_message_id, claimed_at, created_at, updated_at
		  FROM email_outbox
		 WHERE status = 'QUEUED'
		   AND send_after <= ?
		   AND (claimed_at IS NULL OR claimed_at < ?)
		 ORDER BY send_after ASC
		 LIMIT ?
	`, now, staleClaim, limit)
	if err != nil {
		return nil, err
	}

	claimed := make([]model.OutboxMessage, 0, len(candidates))
	for _, m := range candidates {
		res, err := r.db.ExecContext(ctx, `
			UPDATE email_outbox
			   SET claimed_at = ?, updated_at = ?
			 WHERE id = ?
			   AND status = 'QUEUED'
			   AND attempts = ?
			   AND (claimed_at IS NULL OR claimed_at < ?)
		`, now, now, m.ID, m.Attempts, staleClaim)
		if err != nil {
			return claimed, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return claimed, err
		}
		if n == 1 {
			m.ClaimedAt = &now
			claimed = append(claimed, m)
		}
	}
	return claimed, nil
}

func (r *OutboxRepositoryImpl) MarkSent(ctx context.Context, id, providerMessageID string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE email_outbox
		   SET status = 'SENT', attempts = attempts + 1, sent_at = ?,
		       provider_message_id = ?, last_error = NULL, claimed_at = NULL,
		       updated_at = ?
		 WHERE id = ? AND status = 'QUEUED'
	`, now, providerMessageID, now, id)
	return err
}

func (r *OutboxRepositoryImpl) MarkRetry(ctx context.Context, id string, attempts int, sendErr string, nextSendAfter, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE email_outbox
		   SET status = 'QUEUED', attempts = ?, last_error = ?, send_after = ?,
		       claimed_at = NULL, updated_at = ?
		 WHERE id = ? AND status = 'QUEUED' AND attempts = ?
	`, attempts, sendErr, nextSendAfter, now, id, attempts-1)
	return err
}

func (r *OutboxRepositoryImpl) MarkFailed(ctx context.Context, id string, attempts int, sendErr string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE email_outbox
		   SET status = 'FAILED', attempts = ?, last_error = ?, claimed_at = NULL,
		       updated_at = ?
		 WHERE id = ? AND status = 'QUEUED' AND attempts = ?
	`, attempts, sendErr, now, id, attempts-1)
	return err
}
