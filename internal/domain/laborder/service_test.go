package laborder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/clinicore/internal/domain/audit"
	"github.com/clinicore/clinicore/internal/domain/catalog"
	"github.com/clinicore/clinicore/internal/domain/encounter"
	"github.com/clinicore/clinicore/internal/platform/domainerr"
	"github.com/clinicore/clinicore/internal/platform/rctx"
)

type fixture struct {
	svc       *Service
	repo      *InMemoryRepo
	encSvc    *encounter.Service
	catSvc    *catalog.Service
	auditRepo *audit.InMemoryRepo
	enc       *encounter.Encounter
	test      *catalog.Test
	rbc       *catalog.Parameter
	color     *catalog.Parameter
}

func actorRC(actor string) rctx.RequestContext {
	return rctx.RequestContext{TenantID: "acme", ActorID: actor, CorrelationID: "corr-1"}
}

// newFixture builds a LAB encounter in IN_PROGRESS with completed prep and
// a two-parameter test: RBC with bounds 3.5-5.2 and a qualitative COLOR.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	rc := actorRC("user-1")

	auditRepo := audit.NewInMemoryRepo()
	rec := audit.NewRecorder(auditRepo, zerolog.Nop())

	encSvc := encounter.NewService(encounter.NewInMemoryRepo(), rec, nil, zerolog.Nop())
	catSvc := catalog.NewService(catalog.NewInMemoryRepo())

	repo := NewInMemoryRepo()
	svc := NewService(repo, encSvc, catSvc, rec, nil, zerolog.Nop())
	encSvc.SetLabGate(svc)

	test := &catalog.Test{TenantID: "acme", Code: "CBC", Name: "Complete Blood Count", Active: true}
	if err := catSvc.CreateTest(ctx, test); err != nil {
		t.Fatalf("CreateTest error: %v", err)
	}
	rbc := &catalog.Parameter{TenantID: "acme", TestID: test.ID, Code: "RBC", Name: "Red Blood Cells", RefLow: f64(3.5), RefHigh: f64(5.2), Active: true, Position: 1}
	if err := catSvc.CreateParameter(ctx, rbc); err != nil {
		t.Fatalf("CreateParameter error: %v", err)
	}
	color := &catalog.Parameter{TenantID: "acme", TestID: test.ID, Code: "COLOR", Name: "Color", Active: true, Position: 2}
	if err := catSvc.CreateParameter(ctx, color); err != nil {
		t.Fatalf("CreateParameter error: %v", err)
	}

	enc, err := encSvc.Create(ctx, rc, encounter.CreateInput{PatientRef: "pat-1", Type: encounter.TypeLab})
	if err != nil {
		t.Fatalf("Create encounter error: %v", err)
	}
	if _, err := encSvc.StartPrep(ctx, rc, enc.ID); err != nil {
		t.Fatalf("StartPrep error: %v", err)
	}
	now := time.Now().UTC()
	if _, err := encSvc.SavePrep(ctx, rc, enc.ID, &encounter.PrepRecord{Lab: &encounter.LabPrep{SampleCollectedAt: &now}}); err != nil {
		t.Fatalf("SavePrep error: %v", err)
	}
	if _, err := encSvc.StartMain(ctx, rc, enc.ID); err != nil {
		t.Fatalf("StartMain error: %v", err)
	}

	return &fixture{
		svc: svc, repo: repo, encSvc: encSvc, catSvc: catSvc, auditRepo: auditRepo,
		enc: enc, test: test, rbc: rbc, color: color,
	}
}

func domainCode(t *testing.T, err error) string {
	t.Helper()
	var derr *domainerr.Error
	if !errors.As(err, &derr) {
		t.Fatalf("err = %v, want domain error", err)
	}
	return derr.Code
}

func TestAddTestCreatesOrderWithEmptyResults(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	view, err := fx.svc.AddTest(ctx, actorRC("user-1"), fx.enc.ID, fx.test.ID)
	if err != nil {
		t.Fatalf("AddTest error: %v", err)
	}
	if view.Order.Status != StatusOrdered {
		t.Errorf("status = %s, want ORDERED", view.Order.Status)
	}
	if len(view.Results) != 2 {
		t.Fatalf("results = %d, want one per active parameter", len(view.Results))
	}
	for _, res := range view.Results {
		if res.Value != "" || res.Flag != FlagUnknown {
			t.Errorf("fresh result not empty: value=%q flag=%s", res.Value, res.Flag)
		}
	}
}

func TestAddTestDuplicateIsRejected(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.svc.AddTest(ctx, actorRC("user-1"), fx.enc.ID, fx.test.ID); err != nil {
		t.Fatalf("AddTest error: %v", err)
	}
	_, err := fx.svc.AddTest(ctx, actorRC("user-1"), fx.enc.ID, fx.test.ID)
	if code := domainCode(t, err); code != domainerr.CodeLabTestAlreadyOrdered {
		t.Errorf("code = %s, want LAB_TEST_ALREADY_ORDERED", code)
	}
}

func TestAddTestRequiresCompletePrep(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	rc := actorRC("user-1")

	// A second LAB encounter without prep saved.
	enc, err := fx.encSvc.Create(ctx, rc, encounter.CreateInput{PatientRef: "pat-2", Type: encounter.TypeLab})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := fx.encSvc.StartPrep(ctx, rc, enc.ID); err != nil {
		t.Fatalf("StartPrep error: %v", err)
	}

	_, err = fx.svc.AddTest(ctx, rc, enc.ID, fx.test.ID)
	var derr *domainerr.Error
	if !errors.As(err, &derr) || derr.Code != domainerr.CodePrepIncomplete {
		t.Fatalf("err = %v, want PREP_INCOMPLETE", err)
	}
	missing, _ := derr.Details["missing_fields"].([]string)
	if len(missing) != 1 || missing[0] != "sample_collected_at" {
		t.Errorf("missing_fields = %v", derr.Details["missing_fields"])
	}
}

func TestAddTestRequiresLabEncounter(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	rc := actorRC("user-1")

	opd, err := fx.encSvc.Create(ctx, rc, encounter.CreateInput{PatientRef: "pat-3", Type: encounter.TypeOPD})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	_, err = fx.svc.AddTest(ctx, rc, opd.ID, fx.test.ID)
	if code := domainCode(t, err); code != domainerr.CodeEncounterStateInvalid {
		t.Errorf("code = %s, want ENCOUNTER_STATE_INVALID", code)
	}
}

func TestEnterResultsComputesFlagsAndStatus(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	rc := actorRC("user-1")

	view, err := fx.svc.AddTest(ctx, rc, fx.enc.ID, fx.test.ID)
	if err != nil {
		t.Fatalf("AddTest error: %v", err)
	}
	orderID := view.Order.ID

	// Partial entry leaves the order ORDERED.
	view, err = fx.svc.EnterResults(ctx, rc, fx.enc.ID, orderID, []ResultInput{
		{ParameterID: fx.rbc.ID, Value: "4.5"},
	})
	if err != nil {
		t.Fatalf("EnterResults error: %v", err)
	}
	if view.Order.Status != StatusOrdered {
		t.Errorf("status after partial entry = %s, want ORDERED", view.Order.Status)
	}
	for _, res := range view.Results {
		if res.ParameterID == fx.rbc.ID {
			if res.Flag != FlagNormal {
				t.Errorf("RBC flag = %s, want NORMAL", res.Flag)
			}
			if res.ValueNumeric == nil || *res.ValueNumeric != 4.5 {
				t.Errorf("RBC numeric = %v, want 4.5", res.ValueNumeric)
			}
		}
	}

	// Completing all parameters moves it to RESULTS_ENTERED. The
	// qualitative value stays textual with flag UNKNOWN.
	view, err = fx.svc.EnterResults(ctx, rc, fx.enc.ID, orderID, []ResultInput{
		{ParameterID: fx.color.ID, Value: "straw"},
	})
	if err != nil {
		t.Fatalf("EnterResults error: %v", err)
	}
	if view.Order.Status != StatusResultsEntered {
		t.Errorf("status after full entry = %s, want RESULTS_ENTERED", view.Order.Status)
	}
	for _, res := range view.Results {
		if res.ParameterID == fx.color.ID && (res.Flag != FlagUnknown || res.ValueNumeric != nil) {
			t.Errorf("COLOR flag=%s numeric=%v, want UNKNOWN/nil", res.Flag, res.ValueNumeric)
		}
	}

	// Re-entry upserts deterministically.
	view, err = fx.svc.EnterResults(ctx, rc, fx.enc.ID, orderID, []ResultInput{
		{ParameterID: fx.rbc.ID, Value: "5.3"},
	})
	if err != nil {
		t.Fatalf("EnterResults error: %v", err)
	}
	for _, res := range view.Results {
		if res.ParameterID == fx.rbc.ID && res.Flag != FlagHigh {
			t.Errorf("re-entered RBC flag = %s, want HIGH", res.Flag)
		}
	}
}

func TestEnterResultsUnknownParameter(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	rc := actorRC("user-1")

	view, err := fx.svc.AddTest(ctx, rc, fx.enc.ID, fx.test.ID)
	if err != nil {
		t.Fatalf("AddTest error: %v", err)
	}
	_, err = fx.svc.EnterResults(ctx, rc, fx.enc.ID, view.Order.ID, []ResultInput{
		{ParameterID: uuid.New(), Value: "1"},
	})
	if code := domainCode(t, err); code != domainerr.CodeLabParameterNotFound {
		t.Errorf("code = %s, want LAB_PARAMETER_NOT_FOUND", code)
	}
}

func enterAll(t *testing.T, fx *fixture, rc rctx.RequestContext, orderID uuid.UUID) {
	t.Helper()
	_, err := fx.svc.EnterResults(context.Background(), rc, fx.enc.ID, orderID, []ResultInput{
		{ParameterID: fx.rbc.ID, Value: "4.5"},
		{ParameterID: fx.color.ID, Value: "straw"},
	})
	if err != nil {
		t.Fatalf("EnterResults error: %v", err)
	}
}

func TestVerifyStampsAndLocks(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	rc := actorRC("user-1")

	view, err := fx.svc.AddTest(ctx, rc, fx.enc.ID, fx.test.ID)
	if err != nil {
		t.Fatalf("AddTest error: %v", err)
	}
	orderID := view.Order.ID

	// Not ready before results are entered.
	_, err = fx.svc.VerifyResults(ctx, rc, fx.enc.ID, orderID)
	if code := domainCode(t, err); code != domainerr.CodeLabResultsNotReady {
		t.Errorf("code = %s, want LAB_RESULTS_NOT_READY", code)
	}

	enterAll(t, fx, rc, orderID)

	verified, err := fx.svc.VerifyResults(ctx, rc, fx.enc.ID, orderID)
	if err != nil {
		t.Fatalf("VerifyResults error: %v", err)
	}
	if verified.Order.Status != StatusVerified {
		t.Errorf("status = %s, want VERIFIED", verified.Order.Status)
	}
	for _, res := range verified.Results {
		if res.VerifiedBy == nil || *res.VerifiedBy != "user-1" || res.VerifiedAt == nil {
			t.Errorf("result not stamped: %+v", res)
		}
	}

	// Entering results after verification is locked.
	_, err = fx.svc.EnterResults(ctx, rc, fx.enc.ID, orderID, []ResultInput{
		{ParameterID: fx.rbc.ID, Value: "9.9"},
	})
	if code := domainCode(t, err); code != domainerr.CodeLabResultsLocked {
		t.Errorf("code = %s, want LAB_RESULTS_LOCKED", code)
	}
}

func TestVerifyReplayAndConflict(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	rc := actorRC("user-1")

	view, err := fx.svc.AddTest(ctx, rc, fx.enc.ID, fx.test.ID)
	if err != nil {
		t.Fatalf("AddTest error: %v", err)
	}
	orderID := view.Order.ID
	enterAll(t, fx, rc, orderID)

	if _, err := fx.svc.VerifyResults(ctx, rc, fx.enc.ID, orderID); err != nil {
		t.Fatalf("VerifyResults error: %v", err)
	}

	// Same actor replaying is a safe no-op.
	replay, err := fx.svc.VerifyResults(ctx, rc, fx.enc.ID, orderID)
	if err != nil {
		t.Fatalf("replay VerifyResults error: %v", err)
	}
	if replay.Order.Status != StatusVerified {
		t.Errorf("replay status = %s, want VERIFIED", replay.Order.Status)
	}

	// A different actor gets a conflict naming the winner.
	_, err = fx.svc.VerifyResults(ctx, actorRC("user-2"), fx.enc.ID, orderID)
	var derr *domainerr.Error
	if !errors.As(err, &derr) || derr.Code != domainerr.CodeLabAlreadyVerified {
		t.Fatalf("err = %v, want LAB_ALREADY_VERIFIED", err)
	}
	if derr.Details["verified_by"] != "user-1" {
		t.Errorf("verified_by = %v, want user-1", derr.Details["verified_by"])
	}
}

func TestVerifyIncompleteResults(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	rc := actorRC("user-1")

	view, err := fx.svc.AddTest(ctx, rc, fx.enc.ID, fx.test.ID)
	if err != nil {
		t.Fatalf("AddTest error: %v", err)
	}
	orderID := view.Order.ID

	// Force RESULTS_ENTERED with a hole: enter all values, then blank one
	// directly so the incompleteness check is exercised.
	enterAll(t, fx, rc, orderID)
	results, _ := fx.repo.ListResults(ctx, "acme", orderID)
	for _, res := range results {
		if res.ParameterID == fx.color.ID {
			res.Value = ""
			if err := fx.repo.UpsertResult(ctx, res); err != nil {
				t.Fatalf("UpsertResult error: %v", err)
			}
		}
	}

	_, err = fx.svc.VerifyResults(ctx, rc, fx.enc.ID, orderID)
	var derr *domainerr.Error
	if !errors.As(err, &derr) || derr.Code != domainerr.CodeLabResultsIncomplete {
		t.Fatalf("err = %v, want LAB_RESULTS_INCOMPLETE", err)
	}
	missing, _ := derr.Details["missing_parameters"].([]string)
	if len(missing) != 1 || missing[0] != "COLOR" {
		t.Errorf("missing_parameters = %v, want [COLOR]", derr.Details["missing_parameters"])
	}
}

func TestGuardedVerifyTransitionSingleWinner(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	rc := actorRC("user-1")

	view, err := fx.svc.AddTest(ctx, rc, fx.enc.ID, fx.test.ID)
	if err != nil {
		t.Fatalf("AddTest error: %v", err)
	}
	orderID := view.Order.ID
	enterAll(t, fx, rc, orderID)

	// Both callers attempt the same guarded transition; exactly one wins.
	first, err := fx.repo.SetStatusIf(ctx, "acme", orderID, StatusResultsEntered, StatusVerified)
	if err != nil {
		t.Fatalf("SetStatusIf error: %v", err)
	}
	second, err := fx.repo.SetStatusIf(ctx, "acme", orderID, StatusResultsEntered, StatusVerified)
	if err != nil {
		t.Fatalf("SetStatusIf error: %v", err)
	}
	if !first || second {
		t.Errorf("guarded transition winners = %v,%v, want true,false", first, second)
	}
}

func TestFinalizeGateCountsUnverified(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	rc := actorRC("user-1")

	view, err := fx.svc.AddTest(ctx, rc, fx.enc.ID, fx.test.ID)
	if err != nil {
		t.Fatalf("AddTest error: %v", err)
	}
	orderID := view.Order.ID
	enterAll(t, fx, rc, orderID)

	// RESULTS_ENTERED still blocks finalize.
	_, err = fx.encSvc.Finalize(ctx, rc, fx.enc.ID)
	if code := domainCode(t, err); code != domainerr.CodeEncounterFinalizeBlocked {
		t.Errorf("code = %s, want ENCOUNTER_FINALIZE_BLOCKED_UNVERIFIED_LAB", code)
	}

	if _, err := fx.svc.VerifyResults(ctx, rc, fx.enc.ID, orderID); err != nil {
		t.Fatalf("VerifyResults error: %v", err)
	}
	if _, err := fx.encSvc.Finalize(ctx, rc, fx.enc.ID); err != nil {
		t.Fatalf("Finalize after verification error: %v", err)
	}
}

type stubPublisher struct {
	proj  *ReportProjection
	calls int
}

func (p *stubPublisher) QueueLabReport(context.Context, rctx.RequestContext, uuid.UUID) (*ReportProjection, error) {
	p.calls++
	return p.proj, nil
}

func TestPublishReportRequiresFinalized(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	rc := actorRC("user-1")

	pub := &stubPublisher{proj: &ReportProjection{DocumentID: "doc-1", Status: "QUEUED", PayloadHash: "abc"}}
	fx.svc.SetPublisher(pub)

	// IN_PROGRESS encounter cannot publish.
	_, err := fx.svc.PublishReport(ctx, rc, fx.enc.ID)
	if code := domainCode(t, err); code != domainerr.CodeEncounterStateInvalid {
		t.Errorf("code = %s, want ENCOUNTER_STATE_INVALID", code)
	}
	if pub.calls != 0 {
		t.Errorf("publisher called %d times before finalize", pub.calls)
	}

	view, err := fx.svc.AddTest(ctx, rc, fx.enc.ID, fx.test.ID)
	if err != nil {
		t.Fatalf("AddTest error: %v", err)
	}
	enterAll(t, fx, rc, view.Order.ID)
	if _, err := fx.svc.VerifyResults(ctx, rc, fx.enc.ID, view.Order.ID); err != nil {
		t.Fatalf("VerifyResults error: %v", err)
	}
	if _, err := fx.encSvc.Finalize(ctx, rc, fx.enc.ID); err != nil {
		t.Fatalf("Finalize error: %v", err)
	}

	proj, err := fx.svc.PublishReport(ctx, rc, fx.enc.ID)
	if err != nil {
		t.Fatalf("PublishReport error: %v", err)
	}
	if proj.DocumentID != "doc-1" || pub.calls != 1 {
		t.Errorf("proj = %+v calls = %d", proj, pub.calls)
	}
}

func TestPublishReportRejectsNonLab(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	rc := actorRC("user-1")
	fx.svc.SetPublisher(&stubPublisher{})

	opd, err := fx.encSvc.Create(ctx, rc, encounter.CreateInput{PatientRef: "pat-4", Type: encounter.TypeOPD})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	_, err = fx.svc.PublishReport(ctx, rc, opd.ID)
	if code := domainCode(t, err); code != domainerr.CodeInvalidDocumentType {
		t.Errorf("code = %s, want INVALID_DOCUMENT_TYPE", code)
	}
}

func TestLabWorkflowIsAudited(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	rc := actorRC("user-1")

	view, err := fx.svc.AddTest(ctx, rc, fx.enc.ID, fx.test.ID)
	if err != nil {
		t.Fatalf("AddTest error: %v", err)
	}
	// Rejected duplicate is audited as a blocked attempt.
	if _, err := fx.svc.AddTest(ctx, rc, fx.enc.ID, fx.test.ID); err == nil {
		t.Fatal("duplicate AddTest succeeded")
	}

	evs, _, err := fx.auditRepo.ListByEncounter(ctx, "acme", fx.enc.ID.String(), 50, 0)
	if err != nil {
		t.Fatalf("ListByEncounter error: %v", err)
	}
	var success, blocked bool
	for _, ev := range evs {
		if ev.EventType != "lab_order.add_test" {
			continue
		}
		if code, ok := ev.Payload["failure_reason_code"].(string); ok {
			if code == domainerr.CodeLabTestAlreadyOrdered {
				blocked = true
			}
		} else if ev.EntityID == view.Order.ID.String() {
			success = true
		}
	}
	if !success || !blocked {
		t.Errorf("audit trail: success=%v blocked=%v", success, blocked)
	}
}
