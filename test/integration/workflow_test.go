package integration

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicore/clinicore/internal/domain/audit"
	"github.com/clinicore/clinicore/internal/domain/catalog"
	"github.com/clinicore/clinicore/internal/domain/document"
	"github.com/clinicore/clinicore/internal/domain/encounter"
	"github.com/clinicore/clinicore/internal/domain/laborder"
	"github.com/clinicore/clinicore/internal/platform/domainerr"
	"github.com/clinicore/clinicore/internal/platform/rctx"
	"github.com/clinicore/clinicore/internal/platform/render"
	"github.com/clinicore/clinicore/internal/platform/storage"
)

var hex64 = regexp.MustCompile(`^[0-9a-f]{64}$`)

type stack struct {
	encounters *encounter.Service
	catalog    *catalog.Service
	labs       *laborder.Service
	documents  *document.Service
	worker     *document.RenderWorker
	store      *storage.InMemoryStore
	audit      *audit.InMemoryRepo
}

func newStack(t *testing.T) *stack {
	t.Helper()

	auditRepo := audit.NewInMemoryRepo()
	recorder := audit.NewRecorder(auditRepo, zerolog.Nop())

	encSvc := encounter.NewService(encounter.NewInMemoryRepo(), recorder, nil, zerolog.Nop())
	catSvc := catalog.NewService(catalog.NewInMemoryRepo())
	labSvc := laborder.NewService(laborder.NewInMemoryRepo(), encSvc, catSvc, recorder, nil, zerolog.Nop())
	encSvc.SetLabGate(labSvc)

	docSvc := document.NewService(
		document.NewInMemoryRepo(), document.NewInMemoryJobRepo(),
		encSvc, labSvc, catSvc,
		recorder, nil, zerolog.Nop(), 3,
	)
	labSvc.SetPublisher(&document.LabReportPublisher{Docs: docSvc})

	store := storage.NewInMemoryStore()
	worker := document.NewRenderWorker(docSvc, render.NewPDFRenderer(), store, zerolog.Nop())

	return &stack{
		encounters: encSvc,
		catalog:    catSvc,
		labs:       labSvc,
		documents:  docSvc,
		worker:     worker,
		store:      store,
		audit:      auditRepo,
	}
}

func f64(v float64) *float64 { return &v }

// TestLabEncounterLifecycle walks one LAB encounter from registration to a
// rendered encounter summary: prep, order, result entry with flag
// evaluation, verification, finalize, document request, worker render.
func TestLabEncounterLifecycle(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	rc := rctx.RequestContext{TenantID: "acme", ActorID: "dr-stone", CorrelationID: "itest-1"}

	test := &catalog.Test{TenantID: "acme", Code: "K", Name: "Potassium", Active: true}
	if err := s.catalog.CreateTest(ctx, test); err != nil {
		t.Fatalf("CreateTest error: %v", err)
	}
	param := &catalog.Parameter{
		TenantID: "acme", TestID: test.ID,
		Code: "K", Name: "Potassium", Unit: strp("mmol/L"),
		RefLow: f64(3.5), RefHigh: f64(5.2),
		Active: true, Position: 1,
	}
	if err := s.catalog.CreateParameter(ctx, param); err != nil {
		t.Fatalf("CreateParameter error: %v", err)
	}

	enc, err := s.encounters.Create(ctx, rc, encounter.CreateInput{PatientRef: "patient/rebecca", Type: encounter.TypeLab})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if enc.Status != encounter.StatusCreated {
		t.Fatalf("status = %s, want CREATED", enc.Status)
	}
	if enc.Code == "" {
		t.Fatal("encounter code not assigned")
	}

	if _, err := s.encounters.StartPrep(ctx, rc, enc.ID); err != nil {
		t.Fatalf("StartPrep error: %v", err)
	}

	// Ordering before the specimen is collected is rejected with the
	// missing field spelled out.
	_, err = s.labs.AddTest(ctx, rc, enc.ID, test.ID)
	var derr *domainerr.Error
	if !errors.As(err, &derr) || derr.Code != domainerr.CodePrepIncomplete {
		t.Fatalf("pre-collection AddTest err = %v, want PREP_INCOMPLETE", err)
	}

	collected := time.Now().UTC()
	if _, err := s.encounters.SavePrep(ctx, rc, enc.ID, &encounter.PrepRecord{
		Lab: &encounter.LabPrep{SampleCollectedAt: &collected, SampleType: strp("serum")},
	}); err != nil {
		t.Fatalf("SavePrep error: %v", err)
	}
	if _, err := s.encounters.StartMain(ctx, rc, enc.ID); err != nil {
		t.Fatalf("StartMain error: %v", err)
	}

	view, err := s.labs.AddTest(ctx, rc, enc.ID, test.ID)
	if err != nil {
		t.Fatalf("AddTest error: %v", err)
	}

	view, err = s.labs.EnterResults(ctx, rc, enc.ID, view.Order.ID, []laborder.ResultInput{
		{ParameterID: param.ID, Value: "4.5"},
	})
	if err != nil {
		t.Fatalf("EnterResults error: %v", err)
	}
	if view.Order.Status != laborder.StatusResultsEntered {
		t.Errorf("order status = %s, want RESULTS_ENTERED", view.Order.Status)
	}
	if got := view.Results[0].Flag; got != laborder.FlagNormal {
		t.Errorf("flag = %s, want NORMAL", got)
	}

	// Finalizing with an unverified order is blocked.
	if _, err := s.encounters.Finalize(ctx, rc, enc.ID); !errors.As(err, &derr) || derr.Code != domainerr.CodeEncounterFinalizeBlocked {
		t.Fatalf("early Finalize err = %v, want ENCOUNTER_FINALIZE_BLOCKED_UNVERIFIED_LAB", err)
	}

	view, err = s.labs.VerifyResults(ctx, rc, enc.ID, view.Order.ID)
	if err != nil {
		t.Fatalf("VerifyResults error: %v", err)
	}
	if view.Order.Status != laborder.StatusVerified {
		t.Errorf("order status = %s, want VERIFIED", view.Order.Status)
	}

	enc, err = s.encounters.Finalize(ctx, rc, enc.ID)
	if err != nil {
		t.Fatalf("Finalize error: %v", err)
	}
	if enc.Status != encounter.StatusFinalized {
		t.Fatalf("status = %s, want FINALIZED", enc.Status)
	}
	if enc.EndedAt == nil {
		t.Error("ended_at not stamped at finalize")
	}

	doc, err := s.documents.Queue(ctx, rc, enc.ID, document.TypeEncounterSummary)
	if err != nil {
		t.Fatalf("Queue error: %v", err)
	}
	if doc.Status != document.StatusQueued {
		t.Fatalf("document status = %s, want QUEUED", doc.Status)
	}
	if !hex64.MatchString(doc.PayloadHash) {
		t.Errorf("payload hash %q is not 64 hex chars", doc.PayloadHash)
	}

	s.worker.RunOnce(ctx)

	rendered, err := s.documents.Get(ctx, "acme", doc.ID)
	if err != nil {
		t.Fatalf("Get document error: %v", err)
	}
	if rendered.Status != document.StatusRendered {
		t.Fatalf("document status = %s, want RENDERED", rendered.Status)
	}
	if rendered.PDFHash == nil || !hex64.MatchString(*rendered.PDFHash) {
		t.Errorf("pdf hash %v is not 64 hex chars", rendered.PDFHash)
	}

	enc, err = s.encounters.Get(ctx, "acme", enc.ID)
	if err != nil {
		t.Fatalf("Get encounter error: %v", err)
	}
	if enc.Status != encounter.StatusDocumented {
		t.Errorf("encounter status = %s, want DOCUMENTED", enc.Status)
	}

	// Requesting the same document again converges on the same row with
	// stable hashes.
	again, err := s.documents.Queue(ctx, rc, enc.ID, document.TypeEncounterSummary)
	if err != nil {
		t.Fatalf("repeat Queue error: %v", err)
	}
	if again.ID != doc.ID {
		t.Errorf("repeat request created document %s, want %s", again.ID, doc.ID)
	}
	if again.PayloadHash != doc.PayloadHash {
		t.Errorf("payload hash changed: %s vs %s", again.PayloadHash, doc.PayloadHash)
	}
	if again.PDFHash == nil || *again.PDFHash != *rendered.PDFHash {
		t.Error("pdf hash changed across requests")
	}

	// Every mutation attempt left a trail, including the two rejections.
	events, total, err := s.audit.ListByEncounter(ctx, "acme", enc.ID.String(), 100, 0)
	if err != nil {
		t.Fatalf("ListByEncounter error: %v", err)
	}
	if total < 8 {
		t.Errorf("audit events = %d, want the full trail", total)
	}
	var blockedFinalize bool
	for _, ev := range events {
		if ev.EventType == "encounter.finalize" {
			if code, _ := ev.Payload["failure_reason_code"].(string); code == domainerr.CodeEncounterFinalizeBlocked {
				blockedFinalize = true
			}
		}
	}
	if !blockedFinalize {
		t.Error("blocked finalize attempt missing from audit trail")
	}
}

// TestLabPublishCommand drives the publish verb through the lab service
// into the document pipeline.
func TestLabPublishCommand(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	rc := rctx.RequestContext{TenantID: "acme", ActorID: "dr-stone"}

	test := &catalog.Test{TenantID: "acme", Code: "NA", Name: "Sodium", Active: true}
	if err := s.catalog.CreateTest(ctx, test); err != nil {
		t.Fatalf("CreateTest error: %v", err)
	}
	param := &catalog.Parameter{TenantID: "acme", TestID: test.ID, Code: "NA", Name: "Sodium", RefLow: f64(135), RefHigh: f64(145), Active: true, Position: 1}
	if err := s.catalog.CreateParameter(ctx, param); err != nil {
		t.Fatalf("CreateParameter error: %v", err)
	}

	enc, err := s.encounters.Create(ctx, rc, encounter.CreateInput{PatientRef: "patient/amos", Type: encounter.TypeLab})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := s.encounters.StartPrep(ctx, rc, enc.ID); err != nil {
		t.Fatalf("StartPrep error: %v", err)
	}
	collected := time.Now().UTC()
	if _, err := s.encounters.SavePrep(ctx, rc, enc.ID, &encounter.PrepRecord{Lab: &encounter.LabPrep{SampleCollectedAt: &collected}}); err != nil {
		t.Fatalf("SavePrep error: %v", err)
	}
	if _, err := s.encounters.StartMain(ctx, rc, enc.ID); err != nil {
		t.Fatalf("StartMain error: %v", err)
	}
	view, err := s.labs.AddTest(ctx, rc, enc.ID, test.ID)
	if err != nil {
		t.Fatalf("AddTest error: %v", err)
	}
	if _, err := s.labs.EnterResults(ctx, rc, enc.ID, view.Order.ID, []laborder.ResultInput{
		{ParameterID: param.ID, Value: "151"},
	}); err != nil {
		t.Fatalf("EnterResults error: %v", err)
	}
	if _, err := s.labs.VerifyResults(ctx, rc, enc.ID, view.Order.ID); err != nil {
		t.Fatalf("VerifyResults error: %v", err)
	}

	// Publish before finalize is a state error.
	var derr *domainerr.Error
	if _, err := s.labs.PublishReport(ctx, rc, enc.ID); !errors.As(err, &derr) || derr.Code != domainerr.CodeEncounterStateInvalid {
		t.Fatalf("early publish err = %v, want ENCOUNTER_STATE_INVALID", err)
	}

	if _, err := s.encounters.Finalize(ctx, rc, enc.ID); err != nil {
		t.Fatalf("Finalize error: %v", err)
	}

	proj, err := s.labs.PublishReport(ctx, rc, enc.ID)
	if err != nil {
		t.Fatalf("PublishReport error: %v", err)
	}
	if proj.Status != document.StatusQueued {
		t.Errorf("projection status = %s, want QUEUED", proj.Status)
	}
	if !hex64.MatchString(proj.PayloadHash) {
		t.Errorf("payload hash %q is not 64 hex chars", proj.PayloadHash)
	}

	s.worker.RunOnce(ctx)

	// The HIGH sodium value flows into the rendered report payload.
	docs, err := s.documents.ListByEncounter(ctx, "acme", enc.ID)
	if err != nil {
		t.Fatalf("ListByEncounter error: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("documents = %d, want 1", len(docs))
	}
	if docs[0].Status != document.StatusRendered {
		t.Errorf("document status = %s, want RENDERED", docs[0].Status)
	}
	if docs[0].RequestedType != document.TypeLabReport {
		t.Errorf("requested type = %s, want LAB_REPORT", docs[0].RequestedType)
	}
}

func strp(s string) *string { return &s }
