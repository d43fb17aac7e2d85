package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/polyvox/notify-engine/internal/model"
)

type EventsRepository interface {
	Insert(ctx context.Context, ev model.NotificationEvent) error

	// ListUnprocessed returns events without processed_at for the entity,
	// oldest first, up to limit.
	ListUnprocessed(ctx context.Context, entityID string, limit int) ([]model.NotificationEvent, error)
}

type EventsRepositoryImpl struct {
	db *sqlx.DB
}

func NewEventsRepository(db *sqlx.DB) *EventsRepositoryImpl {
	return &EventsRepositoryImpl{db: db}
}

var _ EventsRepository = (*EventsRepositoryImpl)(nil)

func (r *EventsRepositoryImpl) Insert(ctx context.Context, ev model.NotificationEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO entity_notification_events
		    (id, entity_id, event_type, payload, created_at)
		VALUES (?, ?, ?, ?, NOW())
	`, ev.ID, ev.EntityID, ev.EventType, []byte(ev.Payload))
	return err
}

func (r *EventsRepositoryImpl) ListUnprocessed(ctx context.Context, entityID string, limit int) ([]model.NotificationEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	var events []model.NotificationEvent
	err := r.db.SelectContext(ctx, &events, `
		SELECT id, entity_id, event_type, payload, processed_at, created_at
		  FROM entity_notification_events
		 WHERE entity_id = ? AND processed_at IS NULL
		 ORDER BY created_at ASC
		 LIMIT ?
	`, entityID, limit)
	return events, err
}
