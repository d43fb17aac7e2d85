package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/polyvox/notify-engine/internal/model"
)

type MentionsRepository interface {
	// Insert records a mention. Mentions are immutable once written.
	Insert(ctx context.Context, m model.MentionEvent) error
}

type MentionsRepositoryImpl struct {
	db *sqlx.DB
}

func NewMentionsRepository(db *sqlx.DB) *MentionsRepositoryImpl {
	return &MentionsRepositoryImpl{db: db}
}

var _ MentionsRepository = (*MentionsRepositoryImpl)(nil)

func (r *MentionsRepositoryImpl) Insert(ctx context.Context, m model.MentionEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO entity_mentions
		    (id, entity_id, content_type, content_id, content_url, content_title,
		     intent, created_by, created_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, NOW())
	`, m.ID, m.EntityID, m.ContentType.String(), m.ContentID, m.ContentURL,
		m.ContentTitle, m.Intent, m.CreatedBy)
	return err
}
