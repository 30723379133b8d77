package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/clinicore/internal/platform/domainerr"
)

// InMemoryRepo is a thread-safe Repository for testing and development.
type InMemoryRepo struct {
	mu     sync.RWMutex
	tests  map[uuid.UUID]*Test
	params map[uuid.UUID]*Parameter
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		tests:  make(map[uuid.UUID]*Test),
		params: make(map[uuid.UUID]*Parameter),
	}
}

func (r *InMemoryRepo) CreateTest(_ context.Context, t *Test) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t.ID = uuid.New()
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt
	cp := *t
	r.tests[t.ID] = &cp
	return nil
}

func (r *InMemoryRepo) GetTest(_ context.Context, tenantID string, id uuid.UUID) (*Test, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tests[id]
	if !ok || t.TenantID != tenantID {
		return nil, domainerr.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *InMemoryRepo) ListTests(_ context.Context, tenantID string, limit, offset int) ([]*Test, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Test
	for _, t := range r.tests {
		if t.TenantID == tenantID {
			cp := *t
			matched = append(matched, &cp)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Code < matched[j].Code })

	total := len(matched)
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
	return matched[offset:end], total, nil
}

func (r *InMemoryRepo) CreateParameter(_ context.Context, p *Parameter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	cp := *p
	r.params[p.ID] = &cp
	return nil
}

func (r *InMemoryRepo) GetParameter(_ context.Context, tenantID string, id uuid.UUID) (*Parameter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.params[id]
	if !ok || p.TenantID != tenantID {
		return nil, domainerr.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *InMemoryRepo) ListActiveParameters(_ context.Context, tenantID string, testID uuid.UUID) ([]*Parameter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Parameter
	for _, p := range r.params {
		if p.TenantID == tenantID && p.TestID == testID && p.Active {
			cp := *p
			matched = append(matched, &cp)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Position != matched[j].Position {
			return matched[i].Position < matched[j].Position
		}
		return matched[i].Code < matched[j].Code
	})
	return matched, nil
}
