package document

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/clinicore/internal/platform/domainerr"
)

// InMemoryRepo is a thread-safe Repository for testing and development.
type InMemoryRepo struct {
	mu   sync.Mutex
	docs map[uuid.UUID]*Document
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{docs: make(map[uuid.UUID]*Document)}
}

func contentKey(d *Document) string {
	return d.TenantID + "/" + d.EncounterID.String() + "/" + d.DocType + "/" + d.TemplateVersion + "/" + d.PayloadHash
}

func (r *InMemoryRepo) Insert(_ context.Context, d *Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := contentKey(d)
	for _, existing := range r.docs {
		if contentKey(existing) == key {
			return ErrDuplicateContent
		}
	}
	d.ID = uuid.New()
	d.CreatedAt = time.Now().UTC()
	d.UpdatedAt = d.CreatedAt
	cp := *d
	r.docs[d.ID] = &cp
	return nil
}

func (r *InMemoryRepo) FindByContentKey(_ context.Context, tenantID string, encounterID uuid.UUID, docType, templateVersion, payloadHash string) (*Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.docs {
		if d.TenantID == tenantID && d.EncounterID == encounterID &&
			d.DocType == docType && d.TemplateVersion == templateVersion &&
			d.PayloadHash == payloadHash {
			cp := *d
			return &cp, nil
		}
	}
	return nil, domainerr.ErrNotFound
}

func (r *InMemoryRepo) GetByID(_ context.Context, tenantID string, id uuid.UUID) (*Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.docs[id]
	if !ok || d.TenantID != tenantID {
		return nil, domainerr.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *InMemoryRepo) ListByEncounter(_ context.Context, tenantID string, encounterID uuid.UUID) ([]*Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var docs []*Document
	for _, d := range r.docs {
		if d.TenantID == tenantID && d.EncounterID == encounterID {
			cp := *d
			docs = append(docs, &cp)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].CreatedAt.After(docs[j].CreatedAt) })
	return docs, nil
}

func (r *InMemoryRepo) ResetFailed(_ context.Context, tenantID string, id uuid.UUID, payloadJSON json.RawMessage) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.docs[id]
	if !ok || d.TenantID != tenantID || d.Status != StatusFailed {
		return false, nil
	}
	d.Status = StatusQueued
	d.PayloadJSON = payloadJSON
	d.StorageKey = nil
	d.PDFHash = nil
	d.ErrorCode = nil
	d.ErrorMessage = nil
	d.RenderedAt = nil
	d.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *InMemoryRepo) MarkRendered(_ context.Context, tenantID string, id uuid.UUID, storageKey, pdfHash string, renderedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.docs[id]
	if !ok || d.TenantID != tenantID || d.Status != StatusQueued {
		return false, nil
	}
	d.Status = StatusRendered
	d.StorageKey = &storageKey
	d.PDFHash = &pdfHash
	d.RenderedAt = &renderedAt
	d.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *InMemoryRepo) MarkFailed(_ context.Context, tenantID string, id uuid.UUID, errorCode, errorMessage string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.docs[id]
	if !ok || d.TenantID != tenantID || d.Status != StatusQueued {
		return false, nil
	}
	d.Status = StatusFailed
	d.ErrorCode = &errorCode
	d.ErrorMessage = &errorMessage
	d.UpdatedAt = time.Now().UTC()
	return true, nil
}

// InMemoryJobRepo is a thread-safe JobRepository for testing and
// development.
type InMemoryJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*RenderJob
}

func NewInMemoryJobRepo() *InMemoryJobRepo {
	return &InMemoryJobRepo{jobs: make(map[string]*RenderJob)}
}

func (r *InMemoryJobRepo) Enqueue(_ context.Context, job *RenderJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; exists {
		return nil
	}
	job.CreatedAt = time.Now().UTC()
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *InMemoryJobRepo) Due(_ context.Context, now time.Time, limit int) ([]*RenderJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*RenderJob
	for _, j := range r.jobs {
		if j.Status == JobPending && !j.NextAttemptAt.After(now) {
			cp := *j
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(due[j].NextAttemptAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *InMemoryJobRepo) Update(_ context.Context, job *RenderJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; !exists {
		return nil
	}
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *InMemoryJobRepo) Complete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.jobs, id)
	return nil
}

func (r *InMemoryJobRepo) PruneAbandoned(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, j := range r.jobs {
		if j.Status == JobAbandoned && j.AbandonedAt != nil && j.AbandonedAt.Before(before) {
			delete(r.jobs, id)
			n++
		}
	}
	return n, nil
}

// Len reports the number of jobs currently queued.
func (r *InMemoryJobRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
