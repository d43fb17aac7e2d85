package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/polyvox/notify-engine/internal/model"
)

// CHOutboxRepository lists the outbox audit trail from ClickHouse (final view).
type CHOutboxRepository interface {
	List(ctx context.Context, status model.OutboxStatus, toEmail string, limit, offset int) ([]model.OutboxMessage, error)
}

type chOutboxRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHOutboxRepository(ch *sqlx.DB) CHOutboxRepository {
	return &chOutboxRepository{ch: ch}
}

func (r *chOutboxRepository) List(ctx context.Context, status model.OutboxStatus, toEmail string, limit, offset int) ([]model.OutboxMessage, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, entity_id, contact_id, to_email, subject, template, payload,
		       status, attempts, send_after, dedupe_key, sent_at, last_error,
		       provider_message_id, claimed_at, created_at, updated_at
		FROM notify.email_outbox_latest
		WHERE 1 = 1
	`
	var args []any

	if status != "" {
		q += " AND status = ?"
		args = append(args, status.String())
	}
	if toEmail != "" {
		q += " AND to_email = ?"
		args = append(args, toEmail)
	}

	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.OutboxMessage
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
