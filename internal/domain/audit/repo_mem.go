package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepo is a thread-safe Repository for testing and development.
type InMemoryRepo struct {
	mu     sync.RWMutex
	events []*Event
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{}
}

func (r *InMemoryRepo) Append(_ context.Context, ev *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = uuid.New()
	ev.CreatedAt = time.Now().UTC()
	cp := *ev
	r.events = append(r.events, &cp)
	return nil
}

func (r *InMemoryRepo) ListByEntity(_ context.Context, tenantID, entityType, entityID string, limit, offset int) ([]*Event, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Event
	for _, ev := range r.events {
		if ev.TenantID == tenantID && ev.EntityType == entityType && ev.EntityID == entityID {
			cp := *ev
			matched = append(matched, &cp)
		}
	}
	return page(matched, limit, offset)
}

func (r *InMemoryRepo) ListByEncounter(_ context.Context, tenantID, encounterID string, limit, offset int) ([]*Event, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Event
	for _, ev := range r.events {
		if ev.TenantID != tenantID {
			continue
		}
		if id, _ := ev.Payload["encounter_id"].(string); id == encounterID {
			cp := *ev
			matched = append(matched, &cp)
		}
	}
	return page(matched, limit, offset)
}

func page(evs []*Event, limit, offset int) ([]*Event, int, error) {
	total := len(evs)
	if limit <= 0 {
		limit = 20
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return evs[offset:end], total, nil
}
