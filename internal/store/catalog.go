package store

import (
	"context"

	"fitbook/backend/internal/domain"
)

// Catalog is the read-only trainer directory and service catalog.
type Catalog interface {
	GetService(ctx context.Context, serviceID int64) (domain.Service, error)
	ListServices(ctx context.Context) ([]domain.Service, error)
	GetTrainer(ctx context.Context, trainerID int64) (domain.Trainer, error)
	ListTrainers(ctx context.Context) ([]domain.Trainer, error)
	ListQualifiedTrainers(ctx context.Context, serviceID int64) ([]domain.Trainer, error)
}
