package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"fitbook/backend/internal/domain"
	"fitbook/backend/internal/store"
)

// Catalog is an in-process trainer directory and service catalog.
type Catalog struct {
	mu       sync.RWMutex
	services map[int64]domain.Service
	trainers map[int64]trainerEntry
}

type trainerEntry struct {
	trainer    domain.Trainer
	serviceIDs []int64
}

func NewCatalog() *Catalog {
	return &Catalog{
		services: make(map[int64]domain.Service),
		trainers: make(map[int64]trainerEntry),
	}
}

func (c *Catalog) AddService(s domain.Service) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services[s.ID] = s
}

// AddTrainer registers a trainer qualified for the given services. Unknown
// service IDs are kept and resolved lazily so fixtures may list trainers first.
func (c *Catalog) AddTrainer(t domain.Trainer, serviceIDs ...int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t.Services = nil
	c.trainers[t.ID] = trainerEntry{trainer: t, serviceIDs: append([]int64(nil), serviceIDs...)}
}

type catalogFile struct {
	Services []domain.Service `yaml:"services"`
	Trainers []struct {
		ID       int64   `yaml:"id"`
		Name     string  `yaml:"name"`
		Services []int64 `yaml:"services"`
	} `yaml:"trainers"`
}

// LoadCatalogFile reads a YAML fixture with top-level services and trainers.
func LoadCatalogFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return ParseCatalog(raw)
}

func ParseCatalog(raw []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := NewCatalog()
	for _, s := range f.Services {
		if s.ID == 0 || s.DurationMinutes <= 0 {
			return nil, fmt.Errorf("parse catalog: service %q needs an id and a positive duration_minutes", s.Name)
		}
		c.AddService(s)
	}
	for _, t := range f.Trainers {
		if t.ID == 0 {
			return nil, fmt.Errorf("parse catalog: trainer %q needs an id", t.Name)
		}
		for _, sid := range t.Services {
			if _, ok := c.services[sid]; !ok {
				return nil, fmt.Errorf("parse catalog: trainer %q references unknown service %d", t.Name, sid)
			}
		}
		c.AddTrainer(domain.Trainer{ID: t.ID, Name: t.Name}, t.Services...)
	}
	return c, nil
}

func (c *Catalog) GetService(ctx context.Context, serviceID int64) (domain.Service, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.services[serviceID]
	if !ok {
		return domain.Service{}, store.ErrNotFound
	}
	return s, nil
}

func (c *Catalog) ListServices(ctx context.Context) ([]domain.Service, error) {
	c.mu.RLock()
	out := make([]domain.Service, 0, len(c.services))
	for _, s := range c.services {
		out = append(out, s)
	}
	c.mu.RUnlock()
	sortServices(out)
	return out, nil
}

func (c *Catalog) GetTrainer(ctx context.Context, trainerID int64) (domain.Trainer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.trainers[trainerID]
	if !ok {
		return domain.Trainer{}, store.ErrNotFound
	}
	return c.resolve(e), nil
}

func (c *Catalog) ListTrainers(ctx context.Context) ([]domain.Trainer, error) {
	return c.listTrainers(func(domain.Trainer) bool { return true }), nil
}

func (c *Catalog) ListQualifiedTrainers(ctx context.Context, serviceID int64) ([]domain.Trainer, error) {
	return c.listTrainers(func(t domain.Trainer) bool { return t.Qualified(serviceID) }), nil
}

func (c *Catalog) listTrainers(keep func(domain.Trainer) bool) []domain.Trainer {
	c.mu.RLock()
	out := make([]domain.Trainer, 0, len(c.trainers))
	for _, e := range c.trainers {
		t := c.resolve(e)
		if keep(t) {
			out = append(out, t)
		}
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// resolve must be called with c.mu held.
func (c *Catalog) resolve(e trainerEntry) domain.Trainer {
	t := e.trainer
	t.Services = make([]domain.Service, 0, len(e.serviceIDs))
	for _, sid := range e.serviceIDs {
		if s, ok := c.services[sid]; ok {
			t.Services = append(t.Services, s)
		}
	}
	sortServices(t.Services)
	return t
}

func sortServices(s []domain.Service) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Name != s[j].Name {
			return s[i].Name < s[j].Name
		}
		return s[i].ID < s[j].ID
	})
}
