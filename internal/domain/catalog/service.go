package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreateTest(ctx context.Context, t *Test) error {
	t.Code = strings.ToUpper(strings.TrimSpace(t.Code))
	if t.Code == "" {
		return fmt.Errorf("code is required")
	}
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	return s.repo.CreateTest(ctx, t)
}

func (s *Service) GetTest(ctx context.Context, tenantID string, id uuid.UUID) (*Test, error) {
	return s.repo.GetTest(ctx, tenantID, id)
}

func (s *Service) ListTests(ctx context.Context, tenantID string, limit, offset int) ([]*Test, int, error) {
	return s.repo.ListTests(ctx, tenantID, limit, offset)
}

// CreateParameter validates reference bounds at write time. An inverted
// range would make every later flag computation ambiguous, so it is
// rejected here instead of being resolved downstream.
func (s *Service) CreateParameter(ctx context.Context, p *Parameter) error {
	p.Code = strings.ToUpper(strings.TrimSpace(p.Code))
	if p.Code == "" {
		return fmt.Errorf("code is required")
	}
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.TestID == uuid.Nil {
		return fmt.Errorf("test_id is required")
	}
	if p.RefLow != nil && p.RefHigh != nil && *p.RefLow > *p.RefHigh {
		return fmt.Errorf("ref_low %v exceeds ref_high %v", *p.RefLow, *p.RefHigh)
	}
	if _, err := s.repo.GetTest(ctx, p.TenantID, p.TestID); err != nil {
		return err
	}
	return s.repo.CreateParameter(ctx, p)
}

func (s *Service) ListActiveParameters(ctx context.Context, tenantID string, testID uuid.UUID) ([]*Parameter, error) {
	return s.repo.ListActiveParameters(ctx, tenantID, testID)
}
