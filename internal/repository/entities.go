package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/polyvox/notify-engine/internal/model"
)

type EntitiesRepository interface {
	// GetByID returns nil when the entity does not exist.
	GetByID(ctx context.Context, id string) (*model.Entity, error)
}

type EntitiesRepositoryImpl struct {
	db *sqlx.DB
}

func NewEntitiesRepository(db *sqlx.DB) *EntitiesRepositoryImpl {
	return &EntitiesRepositoryImpl{db: db}
}

var _ EntitiesRepository = (*EntitiesRepositoryImpl)(nil)

func (r *EntitiesRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Entity, error) {
	var e model.Entity
	err := r.db.GetContext(ctx, &e, `
		SELECT id, name, jurisdiction_label, jurisdiction_status,
		       notification_mode, created_at, updated_at
		  FROM public_entities
		 WHERE id = ? LIMIT 1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}
