package encounter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/clinicore/internal/platform/domainerr"
)

// InMemoryRepo is a thread-safe Repository for testing and development. Its
// guarded update holds the mutex across check and write, mirroring the
// atomicity the SQL conditional update provides.
type InMemoryRepo struct {
	mu         sync.RWMutex
	encounters map[uuid.UUID]*Encounter
	preps      map[uuid.UUID]*PrepRecord
	seqs       map[string]int
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		encounters: make(map[uuid.UUID]*Encounter),
		preps:      make(map[uuid.UUID]*PrepRecord),
		seqs:       make(map[string]int),
	}
}

func (r *InMemoryRepo) Create(_ context.Context, enc *Encounter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	enc.ID = uuid.New()
	enc.CreatedAt = time.Now().UTC()
	enc.UpdatedAt = enc.CreatedAt
	cp := *enc
	r.encounters[enc.ID] = &cp
	return nil
}

func (r *InMemoryRepo) GetByID(_ context.Context, tenantID string, id uuid.UUID) (*Encounter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	enc, ok := r.encounters[id]
	if !ok || enc.TenantID != tenantID {
		return nil, domainerr.ErrNotFound
	}
	cp := *enc
	return &cp, nil
}

func (r *InMemoryRepo) List(_ context.Context, tenantID string, limit, offset int) ([]*Encounter, int, error) {
	return r.list(tenantID, "", limit, offset)
}

func (r *InMemoryRepo) ListByPatient(_ context.Context, tenantID, patientRef string, limit, offset int) ([]*Encounter, int, error) {
	return r.list(tenantID, patientRef, limit, offset)
}

func (r *InMemoryRepo) list(tenantID, patientRef string, limit, offset int) ([]*Encounter, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Encounter
	for _, enc := range r.encounters {
		if enc.TenantID != tenantID {
			continue
		}
		if patientRef != "" && enc.PatientRef != patientRef {
			continue
		}
		cp := *enc
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].StartedAt.After(matched[j].StartedAt) })

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

func (r *InMemoryRepo) UpdateStatus(_ context.Context, tenantID string, id uuid.UUID, expected, next Status, markEnded bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	enc, ok := r.encounters[id]
	if !ok || enc.TenantID != tenantID || enc.Status != expected {
		return false, nil
	}
	if markEnded && enc.EndedAt != nil {
		return false, nil
	}
	enc.Status = next
	enc.UpdatedAt = time.Now().UTC()
	if markEnded {
		now := enc.UpdatedAt
		enc.EndedAt = &now
	}
	return true, nil
}

func (r *InMemoryRepo) SavePrep(_ context.Context, p *PrepRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.UpdatedAt = time.Now().UTC()
	cp := *p
	r.preps[p.EncounterID] = &cp
	return nil
}

func (r *InMemoryRepo) GetPrep(_ context.Context, tenantID string, encounterID uuid.UUID) (*PrepRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.preps[encounterID]
	if !ok || p.TenantID != tenantID {
		return nil, domainerr.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *InMemoryRepo) NextCodeSeq(_ context.Context, tenantID string, t Type, year int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s/%s/%d", tenantID, t, year)
	r.seqs[key]++
	return r.seqs[key], nil
}
