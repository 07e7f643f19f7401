package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"

	"fitbook/backend/internal/domain"
	"fitbook/backend/internal/store"
)

type CatalogRepo struct {
	db *bun.DB
}

func NewCatalogRepo(db *bun.DB) *CatalogRepo {
	return &CatalogRepo{db: db}
}

func (r *CatalogRepo) GetService(ctx context.Context, serviceID int64) (domain.Service, error) {
	var s domain.Service
	err := r.db.NewSelect().Model(&s).Where("id = ?", serviceID).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Service{}, store.ErrNotFound
		}
		return domain.Service{}, err
	}
	return s, nil
}

func (r *CatalogRepo) ListServices(ctx context.Context) ([]domain.Service, error) {
	var rows []domain.Service
	if err := r.db.NewSelect().Model(&rows).OrderExpr("name ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *CatalogRepo) GetTrainer(ctx context.Context, trainerID int64) (domain.Trainer, error) {
	var t domain.Trainer
	err := r.db.NewSelect().
		Model(&t).
		Relation("Services", orderServices).
		Where("trainer.id = ?", trainerID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Trainer{}, store.ErrNotFound
		}
		return domain.Trainer{}, err
	}
	return t, nil
}

func (r *CatalogRepo) ListTrainers(ctx context.Context) ([]domain.Trainer, error) {
	var rows []domain.Trainer
	err := r.db.NewSelect().
		Model(&rows).
		Relation("Services", orderServices).
		OrderExpr("trainer.name ASC, trainer.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *CatalogRepo) ListQualifiedTrainers(ctx context.Context, serviceID int64) ([]domain.Trainer, error) {
	var rows []domain.Trainer
	err := r.db.NewSelect().
		Model(&rows).
		Relation("Services", orderServices).
		Where("EXISTS (SELECT 1 FROM trainer_services AS ts WHERE ts.trainer_id = trainer.id AND ts.service_id = ?)", serviceID).
		OrderExpr("trainer.name ASC, trainer.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func orderServices(q *bun.SelectQuery) *bun.SelectQuery {
	return q.OrderExpr("service.name ASC")
}
