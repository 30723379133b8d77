package encounter

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinicore/clinicore/internal/domain/audit"
	"github.com/clinicore/clinicore/internal/platform/db"
	"github.com/clinicore/clinicore/internal/platform/domainerr"
	"github.com/clinicore/clinicore/internal/platform/rctx"
)

// UnverifiedLabCounter reports how many lab order items of an encounter are
// not yet verified. The lab workflow engine provides the implementation;
// the indirection keeps this package free of a dependency on it.
type UnverifiedLabCounter interface {
	CountUnverified(ctx context.Context, tenantID string, encounterID uuid.UUID) (int, error)
}

type Service struct {
	repo  Repository
	audit *audit.Recorder
	pool  *pgxpool.Pool
	log   zerolog.Logger
	labs  UnverifiedLabCounter
}

// NewService builds the encounter service. pool may be nil when the
// repository is not database-backed.
func NewService(repo Repository, rec *audit.Recorder, pool *pgxpool.Pool, log zerolog.Logger) *Service {
	return &Service{repo: repo, audit: rec, pool: pool, log: log}
}

// SetLabGate attaches the unverified-lab check consulted at finalize.
func (s *Service) SetLabGate(labs UnverifiedLabCounter) {
	s.labs = labs
}

// CreateInput carries the registration command body.
type CreateInput struct {
	PatientRef string `json:"patient_ref"`
	Type       Type   `json:"type"`
}

func (s *Service) Create(ctx context.Context, rc rctx.RequestContext, in CreateInput) (*Encounter, error) {
	if in.PatientRef == "" {
		return nil, domainerr.New(domainerr.CodeEncounterStateInvalid, "patient_ref is required")
	}
	if !in.Type.IsValid() {
		return nil, domainerr.Newf(domainerr.CodeEncounterStateInvalid, "unknown encounter type %q", in.Type)
	}

	now := time.Now().UTC()
	enc := &Encounter{
		TenantID:   rc.TenantID,
		PatientRef: in.PatientRef,
		Type:       in.Type,
		Status:     StatusCreated,
		StartedAt:  now,
	}

	err := db.InTx(ctx, s.pool, func(ctx context.Context) error {
		seq, err := s.repo.NextCodeSeq(ctx, rc.TenantID, in.Type, now.Year())
		if err != nil {
			return err
		}
		enc.Code = FormatCode(in.Type, now.Year(), seq)
		return s.repo.Create(ctx, enc)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, &audit.Event{
		TenantID:    rc.TenantID,
		ActorUserID: rc.ActorID,
		EventType:   "encounter.create",
		EntityType:  audit.EntityEncounter,
		EntityID:    enc.ID.String(),
		Payload: audit.BuildPayload(audit.PayloadInput{
			TenantID:      rc.TenantID,
			UserID:        rc.ActorID,
			EncounterID:   enc.ID.String(),
			CorrelationID: rc.CorrelationID,
			NextStatus:    string(StatusCreated),
		}),
	})
	return enc, nil
}

func (s *Service) Get(ctx context.Context, tenantID string, id uuid.UUID) (*Encounter, error) {
	return s.repo.GetByID(ctx, tenantID, id)
}

func (s *Service) List(ctx context.Context, tenantID string, limit, offset int) ([]*Encounter, int, error) {
	return s.repo.List(ctx, tenantID, limit, offset)
}

func (s *Service) ListByPatient(ctx context.Context, tenantID, patientRef string, limit, offset int) ([]*Encounter, int, error) {
	return s.repo.ListByPatient(ctx, tenantID, patientRef, limit, offset)
}

func (s *Service) GetPrep(ctx context.Context, tenantID string, encounterID uuid.UUID) (*PrepRecord, error) {
	return s.repo.GetPrep(ctx, tenantID, encounterID)
}

// StartPrep moves CREATED to PREP.
func (s *Service) StartPrep(ctx context.Context, rc rctx.RequestContext, id uuid.UUID) (*Encounter, error) {
	return s.transition(ctx, rc, id, "encounter.start_prep", StatusCreated, StatusPrep, false,
		"cannot start preparation from the current state", nil)
}

// StartMain moves PREP to IN_PROGRESS.
func (s *Service) StartMain(ctx context.Context, rc rctx.RequestContext, id uuid.UUID) (*Encounter, error) {
	return s.transition(ctx, rc, id, "encounter.start_main", StatusPrep, StatusInProgress, false,
		"cannot start main phase before preparation", nil)
}

// Finalize moves IN_PROGRESS to FINALIZED and stamps ended_at. For LAB
// encounters it is additionally blocked while any order item remains
// unverified.
func (s *Service) Finalize(ctx context.Context, rc rctx.RequestContext, id uuid.UUID) (*Encounter, error) {
	return s.transition(ctx, rc, id, "encounter.finalize", StatusInProgress, StatusFinalized, true,
		"cannot finalize from the current state", s.finalizeGate)
}

func (s *Service) finalizeGate(ctx context.Context, enc *Encounter) error {
	if enc.Type != TypeLab || s.labs == nil {
		return nil
	}
	n, err := s.labs.CountUnverified(ctx, enc.TenantID, enc.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		return domainerr.New(domainerr.CodeEncounterFinalizeBlocked,
			"encounter has unverified lab results").WithDetails(map[string]interface{}{
			"unverified_count": n,
		})
	}
	return nil
}

// SavePrep upserts the preparation side-record while the encounter is in
// PREP.
func (s *Service) SavePrep(ctx context.Context, rc rctx.RequestContext, id uuid.UUID, prep *PrepRecord) (*PrepRecord, error) {
	var saved *PrepRecord
	err := db.InTx(ctx, s.pool, func(ctx context.Context) error {
		enc, err := s.repo.GetByID(ctx, rc.TenantID, id)
		if err != nil {
			return err
		}
		if enc.Status != StatusPrep {
			return domainerr.New(domainerr.CodeEncounterStateInvalid,
				"preparation can only be recorded during the preparation phase").WithDetails(map[string]interface{}{
				"current_status": string(enc.Status),
			})
		}
		if !prep.VariantFor(enc.Type) {
			return domainerr.Newf(domainerr.CodeEncounterStateInvalid,
				"preparation details do not match encounter type %s", enc.Type)
		}
		prep.TenantID = rc.TenantID
		prep.EncounterID = enc.ID
		if existing, err := s.repo.GetPrep(ctx, rc.TenantID, enc.ID); err == nil {
			prep.ID = existing.ID
		}
		if err := s.repo.SavePrep(ctx, prep); err != nil {
			return err
		}
		saved = prep
		return nil
	})

	s.recordAttempt(ctx, rc, id.String(), "encounter.save_prep", "", "", err)
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// MarkDocumented advances FINALIZED to DOCUMENTED. Only the render worker
// calls this, after a successful render. A false return means the encounter
// was not FINALIZED, which the worker treats as already handled.
func (s *Service) MarkDocumented(ctx context.Context, tenantID string, id uuid.UUID) (bool, error) {
	ok, err := s.repo.UpdateStatus(ctx, tenantID, id, StatusFinalized, StatusDocumented, false)
	if err != nil {
		return false, err
	}
	if ok {
		s.audit.Record(ctx, &audit.Event{
			TenantID:   tenantID,
			EventType:  "encounter.documented",
			EntityType: audit.EntityEncounter,
			EntityID:   id.String(),
			Payload: audit.BuildPayload(audit.PayloadInput{
				TenantID:    tenantID,
				EncounterID: id.String(),
				PrevStatus:  string(StatusFinalized),
				NextStatus:  string(StatusDocumented),
			}),
		})
	}
	return ok, nil
}

type gateFunc func(ctx context.Context, enc *Encounter) error

// transition runs one guarded state change in a tenant-scoped transaction.
// The status write re-checks the expected state, so a concurrent transition
// surfaces as a zero-row update rather than a lost update.
func (s *Service) transition(ctx context.Context, rc rctx.RequestContext, id uuid.UUID, eventType string, expected, next Status, markEnded bool, failMsg string, gate gateFunc) (*Encounter, error) {
	var out *Encounter
	err := db.InTx(ctx, s.pool, func(ctx context.Context) error {
		enc, err := s.repo.GetByID(ctx, rc.TenantID, id)
		if err != nil {
			return err
		}
		if enc.Status != expected {
			return domainerr.New(domainerr.CodeEncounterStateInvalid, failMsg).WithDetails(map[string]interface{}{
				"current_status":  string(enc.Status),
				"expected_status": string(expected),
			})
		}
		if gate != nil {
			if err := gate(ctx, enc); err != nil {
				return err
			}
		}
		ok, err := s.repo.UpdateStatus(ctx, rc.TenantID, id, expected, next, markEnded)
		if err != nil {
			return err
		}
		if !ok {
			// Lost a race with a concurrent transition.
			return domainerr.New(domainerr.CodeEncounterStateInvalid, failMsg).WithDetails(map[string]interface{}{
				"expected_status": string(expected),
			})
		}
		out, err = s.repo.GetByID(ctx, rc.TenantID, id)
		return err
	})

	s.recordAttempt(ctx, rc, id.String(), eventType, string(expected), string(next), err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// recordAttempt writes the audit event for a mutation attempt. Domain
// rejections are recorded as blocked attempts; system errors and not-found
// are not audited.
func (s *Service) recordAttempt(ctx context.Context, rc rctx.RequestContext, encounterID, eventType, prev, next string, opErr error) {
	in := audit.PayloadInput{
		TenantID:       rc.TenantID,
		UserID:         rc.ActorID,
		EncounterID:    encounterID,
		IdempotencyKey: rc.IdempotencyKey,
		CorrelationID:  rc.CorrelationID,
		PrevStatus:     prev,
		NextStatus:     next,
	}

	var derr *domainerr.Error
	switch {
	case opErr == nil:
	case errors.As(opErr, &derr):
		in.FailureCode = derr.Code
		in.FailureDetails = derr.Details
	default:
		return
	}

	s.audit.Record(ctx, &audit.Event{
		TenantID:    rc.TenantID,
		ActorUserID: rc.ActorID,
		EventType:   eventType,
		EntityType:  audit.EntityEncounter,
		EntityID:    encounterID,
		Payload:     audit.BuildPayload(in),
	})
}
