package laborder

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
// guarded status writes hold the mutex across check and write, mirroring
// the atomicity of the SQL conditional updates.
type InMemoryRepo struct {
	mu       sync.RWMutex
	orders   map[uuid.UUID]*OrderItem
	ordered  map[string]bool // tenant/encounter/test uniqueness
	results  map[uuid.UUID]*ResultItem
	resByKey map[string]uuid.UUID // tenant/order/parameter -> result id
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		orders:   make(map[uuid.UUID]*OrderItem),
		ordered:  make(map[string]bool),
		results:  make(map[uuid.UUID]*ResultItem),
		resByKey: make(map[string]uuid.UUID),
	}
}

func orderKey(tenantID string, encounterID, testID uuid.UUID) string {
	return fmt.Sprintf("%s/%s/%s", tenantID, encounterID, testID)
}

func resultKey(tenantID string, orderID, parameterID uuid.UUID) string {
	return fmt.Sprintf("%s/%s/%s", tenantID, orderID, parameterID)
}

func (r *InMemoryRepo) CreateOrder(_ context.Context, item *OrderItem, results []*ResultItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := orderKey(item.TenantID, item.EncounterID, item.TestID)
	if r.ordered[key] {
		return ErrAlreadyOrdered
	}
	r.ordered[key] = true

	item.ID = uuid.New()
	item.CreatedAt = time.Now().UTC()
	item.UpdatedAt = item.CreatedAt
	cp := *item
	r.orders[item.ID] = &cp

	for _, res := range results {
		res.ID = uuid.New()
		res.OrderItemID = item.ID
		rc := *res
		r.results[res.ID] = &rc
		r.resByKey[resultKey(res.TenantID, res.OrderItemID, res.ParameterID)] = res.ID
	}
	return nil
}

func (r *InMemoryRepo) GetOrder(_ context.Context, tenantID string, encounterID, orderID uuid.UUID) (*OrderItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.orders[orderID]
	if !ok || item.TenantID != tenantID || item.EncounterID != encounterID {
		return nil, domainerr.ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (r *InMemoryRepo) ListOrders(_ context.Context, tenantID string, encounterID uuid.UUID) ([]*OrderItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var items []*OrderItem
	for _, item := range r.orders {
		if item.TenantID == tenantID && item.EncounterID == encounterID {
			cp := *item
			items = append(items, &cp)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func (r *InMemoryRepo) CountUnverified(_ context.Context, tenantID string, encounterID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, item := range r.orders {
		if item.TenantID == tenantID && item.EncounterID == encounterID && item.Status != StatusVerified {
			n++
		}
	}
	return n, nil
}

func (r *InMemoryRepo) UpsertResult(_ context.Context, res *ResultItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := resultKey(res.TenantID, res.OrderItemID, res.ParameterID)
	if id, ok := r.resByKey[key]; ok {
		existing := r.results[id]
		existing.Value = res.Value
		existing.ValueNumeric = res.ValueNumeric
		existing.Flag = res.Flag
		existing.EnteredBy = res.EnteredBy
		existing.EnteredAt = res.EnteredAt
		existing.VerifiedBy = nil
		existing.VerifiedAt = nil
		res.ID = id
		return nil
	}

	res.ID = uuid.New()
	cp := *res
	r.results[res.ID] = &cp
	r.resByKey[key] = res.ID
	return nil
}

func (r *InMemoryRepo) ListResults(_ context.Context, tenantID string, orderID uuid.UUID) ([]*ResultItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*ResultItem
	for _, res := range r.results {
		if res.TenantID == tenantID && res.OrderItemID == orderID {
			cp := *res
			results = append(results, &cp)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].ParameterID.String() < results[j].ParameterID.String()
	})
	return results, nil
}

func (r *InMemoryRepo) StampVerification(_ context.Context, tenantID string, orderID uuid.UUID, verifiedBy string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, res := range r.results {
		if res.TenantID == tenantID && res.OrderItemID == orderID {
			vb := verifiedBy
			va := at
			res.VerifiedBy = &vb
			res.VerifiedAt = &va
		}
	}
	return nil
}

func (r *InMemoryRepo) SetStatusIfNotVerified(_ context.Context, tenantID string, orderID uuid.UUID, next OrderStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.orders[orderID]
	if !ok || item.TenantID != tenantID || item.Status == StatusVerified {
		return false, nil
	}
	item.Status = next
	item.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *InMemoryRepo) SetStatusIf(_ context.Context, tenantID string, orderID uuid.UUID, expected, next OrderStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.orders[orderID]
	if !ok || item.TenantID != tenantID || item.Status != expected {
		return false, nil
	}
	item.Status = next
	item.UpdatedAt = time.Now().UTC()
	return true, nil
}
