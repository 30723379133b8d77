package document

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateContent is returned by Insert when another row already holds
// the same content-addressing tuple. Callers re-read and adopt the winner.
var ErrDuplicateContent = errors.New("document content key already exists")

// Repository persists documents. Status moves (ResetFailed, MarkRendered,
// MarkFailed) are conditional updates that report whether they won.
type Repository interface {
	Insert(ctx context.Context, d *Document) error
	FindByContentKey(ctx context.Context, tenantID string, encounterID uuid.UUID, docType, templateVersion, payloadHash string) (*Document, error)
	GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*Document, error)
	ListByEncounter(ctx context.Context, tenantID string, encounterID uuid.UUID) ([]*Document, error)

	// ResetFailed re-queues a FAILED document in place, clearing render
	// and error fields.
	ResetFailed(ctx context.Context, tenantID string, id uuid.UUID, payloadJSON json.RawMessage) (bool, error)
	// MarkRendered settles a QUEUED document as rendered.
	MarkRendered(ctx context.Context, tenantID string, id uuid.UUID, storageKey, pdfHash string, renderedAt time.Time) (bool, error)
	// MarkFailed settles a QUEUED document as failed with an inspectable
	// error.
	MarkFailed(ctx context.Context, tenantID string, id uuid.UUID, errorCode, errorMessage string) (bool, error)
}

// JobRepository is the render queue. It is deliberately not tenant-scoped
// on reads: the worker drains jobs across all tenants, and each job carries
// its tenant for the document lookups that follow.
type JobRepository interface {
	// Enqueue is a no-op when a job with the same deterministic id exists.
	Enqueue(ctx context.Context, job *RenderJob) error
	// Due returns pending jobs whose next attempt time has passed.
	Due(ctx context.Context, now time.Time, limit int) ([]*RenderJob, error)
	Update(ctx context.Context, job *RenderJob) error
	// Complete removes a finished job from the queue.
	Complete(ctx context.Context, id string) error
	// PruneAbandoned deletes abandoned jobs older than the cutoff.
	PruneAbandoned(ctx context.Context, before time.Time) (int64, error)
}
