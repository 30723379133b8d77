package catalog

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func f64(v float64) *float64 { return &v }

func TestCreateTestValidation(t *testing.T) {
	svc := NewService(NewInMemoryRepo())
	ctx := context.Background()

	if err := svc.CreateTest(ctx, &Test{TenantID: "acme", Name: "CBC"}); err == nil {
		t.Error("CreateTest without code succeeded, want error")
	}
	if err := svc.CreateTest(ctx, &Test{TenantID: "acme", Code: "cbc"}); err == nil {
		t.Error("CreateTest without name succeeded, want error")
	}

	test := &Test{TenantID: "acme", Code: "cbc", Name: "Complete Blood Count", Active: true}
	if err := svc.CreateTest(ctx, test); err != nil {
		t.Fatalf("CreateTest error: %v", err)
	}
	if test.Code != "CBC" {
		t.Errorf("Code = %q, want normalized CBC", test.Code)
	}
	if test.ID == uuid.Nil {
		t.Error("ID not assigned")
	}
}

func TestCreateParameterRejectsInvertedBounds(t *testing.T) {
	svc := NewService(NewInMemoryRepo())
	ctx := context.Background()

	test := &Test{TenantID: "acme", Code: "CBC", Name: "Complete Blood Count", Active: true}
	if err := svc.CreateTest(ctx, test); err != nil {
		t.Fatalf("CreateTest error: %v", err)
	}

	p := &Parameter{
		TenantID: "acme", TestID: test.ID,
		Code: "HGB", Name: "Hemoglobin",
		RefLow: f64(17), RefHigh: f64(13),
	}
	if err := svc.CreateParameter(ctx, p); err == nil {
		t.Error("CreateParameter with inverted bounds succeeded, want error")
	}

	p.RefLow, p.RefHigh = f64(13), f64(17)
	if err := svc.CreateParameter(ctx, p); err != nil {
		t.Fatalf("CreateParameter error: %v", err)
	}
}

func TestCreateParameterRequiresTestInTenant(t *testing.T) {
	svc := NewService(NewInMemoryRepo())
	ctx := context.Background()

	test := &Test{TenantID: "acme", Code: "CBC", Name: "Complete Blood Count", Active: true}
	if err := svc.CreateTest(ctx, test); err != nil {
		t.Fatalf("CreateTest error: %v", err)
	}

	p := &Parameter{TenantID: "other", TestID: test.ID, Code: "HGB", Name: "Hemoglobin"}
	if err := svc.CreateParameter(ctx, p); err == nil {
		t.Error("CreateParameter against another tenant's test succeeded, want error")
	}
}

func TestListActiveParametersSkipsInactive(t *testing.T) {
	repo := NewInMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	test := &Test{TenantID: "acme", Code: "CBC", Name: "Complete Blood Count", Active: true}
	if err := svc.CreateTest(ctx, test); err != nil {
		t.Fatalf("CreateTest error: %v", err)
	}

	active := &Parameter{TenantID: "acme", TestID: test.ID, Code: "HGB", Name: "Hemoglobin", Active: true}
	if err := repo.CreateParameter(ctx, active); err != nil {
		t.Fatalf("CreateParameter error: %v", err)
	}
	retired := &Parameter{TenantID: "acme", TestID: test.ID, Code: "OLD", Name: "Retired", Active: false}
	if err := repo.CreateParameter(ctx, retired); err != nil {
		t.Fatalf("CreateParameter error: %v", err)
	}

	params, err := svc.ListActiveParameters(ctx, "acme", test.ID)
	if err != nil {
		t.Fatalf("ListActiveParameters error: %v", err)
	}
	if len(params) != 1 || params[0].Code != "HGB" {
		t.Errorf("params = %v, want only HGB", params)
	}
}
