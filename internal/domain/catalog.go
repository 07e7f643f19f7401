package domain

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

type Service struct {
	bun.BaseModel `bun:"table:services"`

	ID              int64   `bun:"id,pk,autoincrement" yaml:"id"`
	Name            string  `bun:"name,notnull" yaml:"name"`
	Description     string  `bun:"description" yaml:"description"`
	DurationMinutes int     `bun:"duration_minutes,notnull" yaml:"duration_minutes"`
	Price           float64 `bun:"price,notnull" yaml:"price"`
}

func (s Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

type Trainer struct {
	bun.BaseModel `bun:"table:trainers"`

	ID       int64     `bun:"id,pk,autoincrement" yaml:"id"`
	Name     string    `bun:"name,notnull" yaml:"name"`
	Services []Service `bun:"m2m:trainer_services,join:Trainer=Service" yaml:"-"`
}

// Qualified reports whether the trainer may perform the given service.
func (t Trainer) Qualified(serviceID int64) bool {
	for _, s := range t.Services {
		if s.ID == serviceID {
			return true
		}
	}
	return false
}

func (t Trainer) QualifiedServicesText() string {
	names := make([]string, 0, len(t.Services))
	for _, s := range t.Services {
		names = append(names, s.Name)
	}
	return strings.Join(names, ", ")
}

// TrainerService is the qualification join table.
type TrainerService struct {
	bun.BaseModel `bun:"table:trainer_services"`

	TrainerID int64    `bun:"trainer_id,pk"`
	Trainer   *Trainer `bun:"rel:belongs-to,join:trainer_id=id"`
	ServiceID int64    `bun:"service_id,pk"`
	Service   *Service `bun:"rel:belongs-to,join:service_id=id"`
}
