package document

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Document lifecycle states. A document is born QUEUED, moved to RENDERED
// or FAILED by the render worker, and a FAILED document is re-queued in
// place (never re-created) when a later request derives the same content.
const (
	StatusQueued   = "QUEUED"
	StatusRendered = "RENDERED"
	StatusFailed   = "FAILED"
)

// Requested document types. The stored class is generic; the requested
// type shapes the payload and is carried in its meta block.
const (
	TypeLabReport        = "LAB_REPORT"
	TypeEncounterSummary = "ENCOUNTER_SUMMARY"
)

// StoredType is the generic stored document class that participates in the
// content-addressing key alongside template version and payload hash.
const StoredType = "REPORT_PDF"

// CurrentPayloadVersion and CurrentTemplateVersion stamp every payload's
// meta block. Bumping either produces new content keys, so old rendered
// documents are never silently overwritten.
const (
	CurrentPayloadVersion  = 1
	CurrentTemplateVersion = "v1"
)

// Document maps to the document table. The tuple (tenant, encounter,
// doc_type, template_version, payload_hash) is unique; it is the
// content-addressing key that makes repeated identical requests converge
// on one row.
type Document struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	TenantID        string          `db:"tenant_id" json:"tenant_id"`
	EncounterID     uuid.UUID       `db:"encounter_id" json:"encounter_id"`
	DocType         string          `db:"doc_type" json:"doc_type"`
	RequestedType   string          `db:"requested_type" json:"requested_type"`
	Status          string          `db:"status" json:"status"`
	PayloadVersion  int             `db:"payload_version" json:"payload_version"`
	TemplateVersion string          `db:"template_version" json:"template_version"`
	PayloadJSON     json.RawMessage `db:"payload_json" json:"-"`
	PayloadHash     string          `db:"payload_hash" json:"payload_hash"`
	StorageKey      *string         `db:"storage_key" json:"storage_key,omitempty"`
	PDFHash         *string         `db:"pdf_hash" json:"pdf_hash,omitempty"`
	ErrorCode       *string         `db:"error_code" json:"error_code,omitempty"`
	ErrorMessage    *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
	RenderedAt      *time.Time      `db:"rendered_at" json:"rendered_at,omitempty"`
}

// Projection is the caller-facing view of a document. Callers cannot tell
// "freshly queued" from "already existed" except through Status.
type Projection struct {
	ID          uuid.UUID  `json:"id"`
	EncounterID uuid.UUID  `json:"encounter_id"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	PayloadHash string     `json:"payload_hash"`
	PDFHash     *string    `json:"pdf_hash,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	RenderedAt  *time.Time `json:"rendered_at,omitempty"`
}

// Projection returns the external view of d.
func (d *Document) Projection() *Projection {
	return &Projection{
		ID:          d.ID,
		EncounterID: d.EncounterID,
		Type:        d.RequestedType,
		Status:      d.Status,
		PayloadHash: d.PayloadHash,
		PDFHash:     d.PDFHash,
		CreatedAt:   d.CreatedAt,
		RenderedAt:  d.RenderedAt,
	}
}

// RenderJob is one unit of work for the render worker. The deterministic
// ID means at-least-once enqueueing cannot create two in-flight jobs for
// the same document.
type RenderJob struct {
	ID            string     `db:"id" json:"id"`
	TenantID      string     `db:"tenant_id" json:"tenant_id"`
	DocumentID    uuid.UUID  `db:"document_id" json:"document_id"`
	Status        string     `db:"status" json:"status"`
	AttemptCount  int        `db:"attempt_count" json:"attempt_count"`
	MaxAttempts   int        `db:"max_attempts" json:"max_attempts"`
	NextAttemptAt time.Time  `db:"next_attempt_at" json:"next_attempt_at"`
	LastError     *string    `db:"last_error" json:"last_error,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	AbandonedAt   *time.Time `db:"abandoned_at" json:"abandoned_at,omitempty"`
}

// Render job states.
const (
	JobPending   = "pending"
	JobAbandoned = "abandoned"
)

// JobID derives the deterministic render job id for a document.
func JobID(tenantID string, documentID uuid.UUID) string {
	return tenantID + "__" + documentID.String()
}

// retryBackoff returns the delay before the given attempt number
// (1-indexed) is retried. Schedule: 30s, 1m, 5m, 15m, 1h.
func retryBackoff(attempt int) time.Duration {
	switch attempt {
	case 1:
		return 30 * time.Second
	case 2:
		return 1 * time.Minute
	case 3:
		return 5 * time.Minute
	case 4:
		return 15 * time.Minute
	default:
		return 1 * time.Hour
	}
}
