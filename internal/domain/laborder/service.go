package laborder

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinicore/clinicore/internal/domain/audit"
	"github.com/clinicore/clinicore/internal/domain/catalog"
	"github.com/clinicore/clinicore/internal/domain/encounter"
	"github.com/clinicore/clinicore/internal/platform/db"
	"github.com/clinicore/clinicore/internal/platform/domainerr"
	"github.com/clinicore/clinicore/internal/platform/rctx"
)

// EncounterStore is the slice of the encounter service this engine needs.
type EncounterStore interface {
	Get(ctx context.Context, tenantID string, id uuid.UUID) (*encounter.Encounter, error)
	GetPrep(ctx context.Context, tenantID string, encounterID uuid.UUID) (*encounter.PrepRecord, error)
}

// Catalog resolves ordered tests and their active parameters.
type Catalog interface {
	GetTest(ctx context.Context, tenantID string, id uuid.UUID) (*catalog.Test, error)
	ListActiveParameters(ctx context.Context, tenantID string, testID uuid.UUID) ([]*catalog.Parameter, error)
}

// ReportProjection is the document pipeline's answer to a publish command.
type ReportProjection struct {
	DocumentID  string  `json:"document_id"`
	Status      string  `json:"status"`
	PayloadHash string  `json:"payload_hash"`
	PDFHash     *string `json:"pdf_hash,omitempty"`
}

// ReportPublisher hands a publish command to the document pipeline. Wired
// via an adapter in main to keep this package independent of it.
type ReportPublisher interface {
	QueueLabReport(ctx context.Context, rc rctx.RequestContext, encounterID uuid.UUID) (*ReportProjection, error)
}

type Service struct {
	repo       Repository
	encounters EncounterStore
	catalog    Catalog
	audit      *audit.Recorder
	pool       *pgxpool.Pool
	log        zerolog.Logger
	publisher  ReportPublisher
}

func NewService(repo Repository, encounters EncounterStore, cat Catalog, rec *audit.Recorder, pool *pgxpool.Pool, log zerolog.Logger) *Service {
	return &Service{repo: repo, encounters: encounters, catalog: cat, audit: rec, pool: pool, log: log}
}

// SetPublisher attaches the document pipeline used by PublishReport.
func (s *Service) SetPublisher(p ReportPublisher) {
	s.publisher = p
}

// CountUnverified implements the finalize gate consulted by the encounter
// state machine.
func (s *Service) CountUnverified(ctx context.Context, tenantID string, encounterID uuid.UUID) (int, error) {
	return s.repo.CountUnverified(ctx, tenantID, encounterID)
}

func (s *Service) ListOrders(ctx context.Context, tenantID string, encounterID uuid.UUID) ([]*OrderItem, error) {
	return s.repo.ListOrders(ctx, tenantID, encounterID)
}

func (s *Service) GetOrderView(ctx context.Context, tenantID string, encounterID, orderID uuid.UUID) (*OrderView, error) {
	item, err := s.repo.GetOrder(ctx, tenantID, encounterID, orderID)
	if err != nil {
		return nil, err
	}
	results, err := s.repo.ListResults(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	return &OrderView{Order: item, Results: results}, nil
}

// AddTest orders a catalog test on a LAB encounter whose preparation is
// complete, creating one empty result row per active parameter.
func (s *Service) AddTest(ctx context.Context, rc rctx.RequestContext, encounterID, testID uuid.UUID) (*OrderView, error) {
	var view *OrderView
	err := db.InTx(ctx, s.pool, func(ctx context.Context) error {
		enc, err := s.encounters.Get(ctx, rc.TenantID, encounterID)
		if err != nil {
			return err
		}
		if enc.Type != encounter.TypeLab {
			return domainerr.Newf(domainerr.CodeEncounterStateInvalid,
				"lab tests can only be ordered on LAB encounters, not %s", enc.Type)
		}
		if enc.Status == encounter.StatusFinalized || enc.Status == encounter.StatusDocumented {
			return domainerr.New(domainerr.CodeEncounterStateInvalid,
				"cannot order tests on a finalized encounter").WithDetails(map[string]interface{}{
				"current_status": string(enc.Status),
			})
		}

		prep, err := s.encounters.GetPrep(ctx, rc.TenantID, encounterID)
		if err != nil && !errors.Is(err, domainerr.ErrNotFound) {
			return err
		}
		if missing := prep.MissingFields(enc.Type); len(missing) > 0 {
			return domainerr.New(domainerr.CodePrepIncomplete,
				"preparation is incomplete").WithDetails(map[string]interface{}{
				"missing_fields": missing,
			})
		}

		test, err := s.catalog.GetTest(ctx, rc.TenantID, testID)
		if err != nil {
			return err
		}
		if !test.Active {
			return domainerr.ErrNotFound
		}
		params, err := s.catalog.ListActiveParameters(ctx, rc.TenantID, testID)
		if err != nil {
			return err
		}

		item := &OrderItem{
			TenantID:    rc.TenantID,
			EncounterID: encounterID,
			TestID:      testID,
			Status:      StatusOrdered,
		}
		results := make([]*ResultItem, 0, len(params))
		for _, p := range params {
			results = append(results, &ResultItem{
				TenantID:    rc.TenantID,
				ParameterID: p.ID,
				Flag:        FlagUnknown,
			})
		}
		if err := s.repo.CreateOrder(ctx, item, results); err != nil {
			if errors.Is(err, ErrAlreadyOrdered) {
				return domainerr.New(domainerr.CodeLabTestAlreadyOrdered,
					"this test is already ordered for the encounter").WithDetails(map[string]interface{}{
					"test_id": testID.String(),
				})
			}
			return err
		}
		view = &OrderView{Order: item, Results: results}
		return nil
	})

	orderID := ""
	if view != nil {
		orderID = view.Order.ID.String()
	}
	s.recordAttempt(ctx, rc, encounterID, orderID, "lab_order.add_test", "", string(StatusOrdered), err)
	if err != nil {
		return nil, err
	}
	return view, nil
}

// EnterResults upserts submitted parameter values, recomputes flags, and
// settles the order item status from the full post-write result set.
func (s *Service) EnterResults(ctx context.Context, rc rctx.RequestContext, encounterID, orderID uuid.UUID, inputs []ResultInput) (*OrderView, error) {
	var (
		view *OrderView
		prev OrderStatus
		next OrderStatus
	)
	err := db.InTx(ctx, s.pool, func(ctx context.Context) error {
		enc, err := s.encounters.Get(ctx, rc.TenantID, encounterID)
		if err != nil {
			return err
		}
		if enc.Status != encounter.StatusInProgress {
			return domainerr.New(domainerr.CodeEncounterStateInvalid,
				"results can only be entered while the encounter is in progress").WithDetails(map[string]interface{}{
				"current_status": string(enc.Status),
			})
		}

		item, err := s.repo.GetOrder(ctx, rc.TenantID, encounterID, orderID)
		if err != nil {
			return err
		}
		prev = item.Status
		if item.Status == StatusVerified {
			return lockedError(ctx, s.repo, rc.TenantID, orderID)
		}

		params, err := s.catalog.ListActiveParameters(ctx, rc.TenantID, item.TestID)
		if err != nil {
			return err
		}
		byID := make(map[uuid.UUID]*catalog.Parameter, len(params))
		for _, p := range params {
			byID[p.ID] = p
		}

		now := time.Now().UTC()
		actor := rc.ActorID
		for _, in := range inputs {
			p, ok := byID[in.ParameterID]
			if !ok {
				return domainerr.New(domainerr.CodeLabParameterNotFound,
					"parameter does not belong to the ordered test").WithDetails(map[string]interface{}{
					"parameter_id": in.ParameterID.String(),
				})
			}
			numeric := ParseNumeric(in.Value)
			if err := s.repo.UpsertResult(ctx, &ResultItem{
				TenantID:     rc.TenantID,
				OrderItemID:  orderID,
				ParameterID:  in.ParameterID,
				Value:        in.Value,
				ValueNumeric: numeric,
				Flag:         ComputeFlag(p, numeric),
				EnteredBy:    &actor,
				EnteredAt:    &now,
			}); err != nil {
				return err
			}
		}

		// Re-read the full result set and settle the status from it.
		results, err := s.repo.ListResults(ctx, rc.TenantID, orderID)
		if err != nil {
			return err
		}
		next = StatusOrdered
		if len(missingValues(params, results)) == 0 {
			next = StatusResultsEntered
		}

		ok, err := s.repo.SetStatusIfNotVerified(ctx, rc.TenantID, orderID, next)
		if err != nil {
			return err
		}
		if !ok {
			// A concurrent verification landed between our read and the
			// status write. The whole entry is rejected, not silently merged.
			return lockedError(ctx, s.repo, rc.TenantID, orderID)
		}

		item.Status = next
		view = &OrderView{Order: item, Results: results}
		return nil
	})

	s.recordAttempt(ctx, rc, encounterID, orderID.String(), "lab_order.enter_results", string(prev), string(next), err)
	if err != nil {
		return nil, err
	}
	return view, nil
}

// VerifyResults transitions RESULTS_ENTERED to VERIFIED with a guarded
// update. A replay by the original verifier returns the current state; a
// different actor gets LAB_ALREADY_VERIFIED with the winner's identity.
func (s *Service) VerifyResults(ctx context.Context, rc rctx.RequestContext, encounterID, orderID uuid.UUID) (*OrderView, error) {
	var (
		view *OrderView
		prev OrderStatus
	)
	err := db.InTx(ctx, s.pool, func(ctx context.Context) error {
		enc, err := s.encounters.Get(ctx, rc.TenantID, encounterID)
		if err != nil {
			return err
		}
		if enc.Status != encounter.StatusInProgress {
			return domainerr.New(domainerr.CodeEncounterStateInvalid,
				"results can only be verified while the encounter is in progress").WithDetails(map[string]interface{}{
				"current_status": string(enc.Status),
			})
		}

		item, err := s.repo.GetOrder(ctx, rc.TenantID, encounterID, orderID)
		if err != nil {
			return err
		}
		prev = item.Status

		if item.Status == StatusVerified {
			view, err = s.replayVerification(ctx, rc, item)
			return err
		}
		if item.Status != StatusResultsEntered {
			return domainerr.New(domainerr.CodeLabResultsNotReady,
				"results have not been entered for this order").WithDetails(map[string]interface{}{
				"current_status": string(item.Status),
			})
		}

		params, err := s.catalog.ListActiveParameters(ctx, rc.TenantID, item.TestID)
		if err != nil {
			return err
		}
		results, err := s.repo.ListResults(ctx, rc.TenantID, orderID)
		if err != nil {
			return err
		}
		if missing := missingValues(params, results); len(missing) > 0 {
			return domainerr.New(domainerr.CodeLabResultsIncomplete,
				"some parameters have no value").WithDetails(map[string]interface{}{
				"missing_parameters": missing,
			})
		}

		ok, err := s.repo.SetStatusIf(ctx, rc.TenantID, orderID, StatusResultsEntered, StatusVerified)
		if err != nil {
			return err
		}
		if !ok {
			// Lost the race to a concurrent verifier. Re-read and take the
			// idempotent-replay path against the winner's stamp.
			item, err = s.repo.GetOrder(ctx, rc.TenantID, encounterID, orderID)
			if err != nil {
				return err
			}
			if item.Status != StatusVerified {
				return domainerr.New(domainerr.CodeLabResultsNotReady,
					"order changed state during verification").WithDetails(map[string]interface{}{
					"current_status": string(item.Status),
				})
			}
			view, err = s.replayVerification(ctx, rc, item)
			return err
		}

		now := time.Now().UTC()
		if err := s.repo.StampVerification(ctx, rc.TenantID, orderID, rc.ActorID, now); err != nil {
			return err
		}

		item.Status = StatusVerified
		results, err = s.repo.ListResults(ctx, rc.TenantID, orderID)
		if err != nil {
			return err
		}
		view = &OrderView{Order: item, Results: results}
		return nil
	})

	s.recordAttempt(ctx, rc, encounterID, orderID.String(), "lab_order.verify", string(prev), string(StatusVerified), err)
	if err != nil {
		return nil, err
	}
	return view, nil
}

// replayVerification resolves a verify call against an already VERIFIED
// item: same actor gets the current state back, anyone else gets a
// conflict naming the original verifier.
func (s *Service) replayVerification(ctx context.Context, rc rctx.RequestContext, item *OrderItem) (*OrderView, error) {
	results, err := s.repo.ListResults(ctx, rc.TenantID, item.ID)
	if err != nil {
		return nil, err
	}
	var verifiedBy string
	var verifiedAt *time.Time
	for _, res := range results {
		if res.VerifiedBy != nil {
			verifiedBy = *res.VerifiedBy
			verifiedAt = res.VerifiedAt
			break
		}
	}
	if verifiedBy != rc.ActorID {
		details := map[string]interface{}{"verified_by": verifiedBy}
		if verifiedAt != nil {
			details["verified_at"] = verifiedAt.Format(time.RFC3339)
		}
		return nil, domainerr.New(domainerr.CodeLabAlreadyVerified,
			"results were already verified by another user").WithDetails(details)
	}
	return &OrderView{Order: item, Results: results}, nil
}

// PublishReport hands a FINALIZED or DOCUMENTED LAB encounter to the
// document pipeline for a lab report.
func (s *Service) PublishReport(ctx context.Context, rc rctx.RequestContext, encounterID uuid.UUID) (*ReportProjection, error) {
	enc, err := s.encounters.Get(ctx, rc.TenantID, encounterID)
	if err != nil {
		return nil, err
	}
	var proj *ReportProjection
	switch {
	case enc.Type != encounter.TypeLab:
		err = domainerr.Newf(domainerr.CodeInvalidDocumentType,
			"lab reports are not available for %s encounters", enc.Type)
	case enc.Status != encounter.StatusFinalized && enc.Status != encounter.StatusDocumented:
		err = domainerr.New(domainerr.CodeEncounterStateInvalid,
			"encounter must be finalized before publishing").WithDetails(map[string]interface{}{
			"current_status": string(enc.Status),
		})
	default:
		proj, err = s.publisher.QueueLabReport(ctx, rc, encounterID)
	}

	in := audit.PayloadInput{
		TenantID:       rc.TenantID,
		UserID:         rc.ActorID,
		EncounterID:    encounterID.String(),
		IdempotencyKey: rc.IdempotencyKey,
		CorrelationID:  rc.CorrelationID,
	}
	payload := audit.BuildPayload(in)
	var derr *domainerr.Error
	switch {
	case err == nil:
		payload["document_id"] = proj.DocumentID
		payload["payload_hash"] = proj.PayloadHash
	case errors.As(err, &derr):
		payload["failure_reason_code"] = derr.Code
		if len(derr.Details) > 0 {
			payload["failure_reason_details"] = derr.Details
		}
	default:
		return nil, err
	}
	s.audit.Record(ctx, &audit.Event{
		TenantID:    rc.TenantID,
		ActorUserID: rc.ActorID,
		EventType:   "lab_order.publish",
		EntityType:  audit.EntityEncounter,
		EntityID:    encounterID.String(),
		Payload:     payload,
	})

	if err != nil {
		return nil, err
	}
	return proj, nil
}

// lockedError builds the LAB_RESULTS_LOCKED rejection, naming the verifier
// when known.
func lockedError(ctx context.Context, repo Repository, tenantID string, orderID uuid.UUID) error {
	details := map[string]interface{}{}
	if results, err := repo.ListResults(ctx, tenantID, orderID); err == nil {
		for _, res := range results {
			if res.VerifiedBy != nil {
				details["verified_by"] = *res.VerifiedBy
				break
			}
		}
	}
	return domainerr.New(domainerr.CodeLabResultsLocked,
		"results are locked by verification").WithDetails(details)
}

// missingValues returns codes of active parameters whose result value is
// still empty.
func missingValues(params []*catalog.Parameter, results []*ResultItem) []string {
	values := make(map[uuid.UUID]string, len(results))
	for _, res := range results {
		values[res.ParameterID] = res.Value
	}
	var missing []string
	for _, p := range params {
		if values[p.ID] == "" {
			missing = append(missing, p.Code)
		}
	}
	return missing
}

func (s *Service) recordAttempt(ctx context.Context, rc rctx.RequestContext, encounterID uuid.UUID, orderID, eventType, prev, next string, opErr error) {
	in := audit.PayloadInput{
		TenantID:       rc.TenantID,
		UserID:         rc.ActorID,
		EncounterID:    encounterID.String(),
		OrderID:        orderID,
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
		in.NextStatus = ""
	default:
		return
	}

	s.audit.Record(ctx, &audit.Event{
		TenantID:    rc.TenantID,
		ActorUserID: rc.ActorID,
		EventType:   eventType,
		EntityType:  audit.EntityLabOrder,
		EntityID:    orderID,
		Payload:     audit.BuildPayload(in),
	})
}
