package document

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinicore/clinicore/internal/domain/audit"
	"github.com/clinicore/clinicore/internal/domain/encounter"
	"github.com/clinicore/clinicore/internal/domain/laborder"
	"github.com/clinicore/clinicore/internal/platform/db"
	"github.com/clinicore/clinicore/internal/platform/domainerr"
	"github.com/clinicore/clinicore/internal/platform/rctx"
)

type Service struct {
	repo        Repository
	jobs        JobRepository
	encounters  EncounterSource
	labs        LabSource
	catalog     CatalogSource
	audit       *audit.Recorder
	pool        *pgxpool.Pool
	log         zerolog.Logger
	maxAttempts int
}

func NewService(repo Repository, jobs JobRepository, encounters EncounterSource, labs LabSource, cat CatalogSource, rec *audit.Recorder, pool *pgxpool.Pool, log zerolog.Logger, maxAttempts int) *Service {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Service{
		repo:        repo,
		jobs:        jobs,
		encounters:  encounters,
		labs:        labs,
		catalog:     cat,
		audit:       rec,
		pool:        pool,
		log:         log,
		maxAttempts: maxAttempts,
	}
}

func (s *Service) Get(ctx context.Context, tenantID string, id uuid.UUID) (*Document, error) {
	return s.repo.GetByID(ctx, tenantID, id)
}

func (s *Service) ListByEncounter(ctx context.Context, tenantID string, encounterID uuid.UUID) ([]*Document, error) {
	return s.repo.ListByEncounter(ctx, tenantID, encounterID)
}

// Queue builds the requested document's payload, content-addresses it, and
// settles on exactly one document row per distinct content. A render job is
// enqueued only when this call produced a fresh QUEUED state, either by
// inserting a new row or by re-queueing a FAILED one.
func (s *Service) Queue(ctx context.Context, rc rctx.RequestContext, encounterID uuid.UUID, requestedType string) (*Document, error) {
	doc, err := s.queue(ctx, rc, encounterID, requestedType)
	s.recordAttempt(ctx, rc, encounterID, requestedType, doc, err)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Service) queue(ctx context.Context, rc rctx.RequestContext, encounterID uuid.UUID, requestedType string) (*Document, error) {
	enc, err := s.encounters.Get(ctx, rc.TenantID, encounterID)
	if err != nil {
		return nil, err
	}
	if err := validateType(requestedType, enc.Type); err != nil {
		return nil, err
	}
	if enc.Status != encounter.StatusFinalized && enc.Status != encounter.StatusDocumented {
		return nil, domainerr.New(domainerr.CodeEncounterStateInvalid,
			"documents can only be generated for finalized encounters").WithDetails(map[string]interface{}{
			"current_status": string(enc.Status),
		})
	}

	payload, err := s.buildPayload(ctx, enc, requestedType)
	if err != nil {
		return nil, err
	}
	hash, canonical, err := HashPayload(payload)
	if err != nil {
		return nil, err
	}

	var doc *Document
	var fresh bool
	err = db.InTx(ctx, s.pool, func(ctx context.Context) error {
		existing, err := s.repo.FindByContentKey(ctx, rc.TenantID, encounterID, StoredType, CurrentTemplateVersion, hash)
		switch {
		case errors.Is(err, domainerr.ErrNotFound):
			candidate := &Document{
				TenantID:        rc.TenantID,
				EncounterID:     encounterID,
				DocType:         StoredType,
				RequestedType:   requestedType,
				Status:          StatusQueued,
				PayloadVersion:  CurrentPayloadVersion,
				TemplateVersion: CurrentTemplateVersion,
				PayloadJSON:     canonical,
				PayloadHash:     hash,
			}
			insertErr := s.repo.Insert(ctx, candidate)
			if errors.Is(insertErr, ErrDuplicateContent) {
				// A concurrent identical request won the insert.
				// Adopt its row instead of erroring.
				doc, err = s.repo.FindByContentKey(ctx, rc.TenantID, encounterID, StoredType, CurrentTemplateVersion, hash)
				return err
			}
			if insertErr != nil {
				return insertErr
			}
			doc, fresh = candidate, true
			return nil
		case err != nil:
			return err
		}

		if existing.Status == StatusFailed {
			ok, err := s.repo.ResetFailed(ctx, rc.TenantID, existing.ID, canonical)
			if err != nil {
				return err
			}
			fresh = ok
			doc, err = s.repo.GetByID(ctx, rc.TenantID, existing.ID)
			return err
		}

		// QUEUED or RENDERED: return unchanged, enqueue nothing.
		doc = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	if fresh {
		job := &RenderJob{
			ID:            JobID(rc.TenantID, doc.ID),
			TenantID:      rc.TenantID,
			DocumentID:    doc.ID,
			Status:        JobPending,
			MaxAttempts:   s.maxAttempts,
			NextAttemptAt: time.Now().UTC(),
		}
		if err := s.jobs.Enqueue(ctx, job); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func (s *Service) recordAttempt(ctx context.Context, rc rctx.RequestContext, encounterID uuid.UUID, requestedType string, doc *Document, opErr error) {
	payload := audit.BuildPayload(audit.PayloadInput{
		TenantID:       rc.TenantID,
		UserID:         rc.ActorID,
		EncounterID:    encounterID.String(),
		IdempotencyKey: rc.IdempotencyKey,
		CorrelationID:  rc.CorrelationID,
	})
	payload["requested_type"] = requestedType

	entityID := encounterID.String()
	var derr *domainerr.Error
	switch {
	case opErr == nil:
		payload["document_id"] = doc.ID.String()
		payload["payload_hash"] = doc.PayloadHash
		payload["status"] = doc.Status
		entityID = doc.ID.String()
	case errors.As(opErr, &derr):
		payload["failure_reason_code"] = derr.Code
		if len(derr.Details) > 0 {
			payload["failure_reason_details"] = derr.Details
		}
	default:
		return
	}

	s.audit.Record(ctx, &audit.Event{
		TenantID:    rc.TenantID,
		ActorUserID: rc.ActorID,
		EventType:   "document.queue",
		EntityType:  audit.EntityDocument,
		EntityID:    entityID,
		Payload:     payload,
	})
}

// LabReportPublisher adapts the pipeline to the lab workflow's publish
// hook.
type LabReportPublisher struct {
	Docs *Service
}

func (p *LabReportPublisher) QueueLabReport(ctx context.Context, rc rctx.RequestContext, encounterID uuid.UUID) (*laborder.ReportProjection, error) {
	doc, err := p.Docs.Queue(ctx, rc, encounterID, TypeLabReport)
	if err != nil {
		return nil, err
	}
	return &laborder.ReportProjection{
		DocumentID:  doc.ID.String(),
		Status:      doc.Status,
		PayloadHash: doc.PayloadHash,
		PDFHash:     doc.PDFHash,
	}, nil
}
