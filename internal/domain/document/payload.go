package document

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/clinicore/internal/domain/catalog"
	"github.com/clinicore/clinicore/internal/domain/encounter"
	"github.com/clinicore/clinicore/internal/domain/laborder"
	"github.com/clinicore/clinicore/internal/platform/domainerr"
)

// EncounterSource is the slice of the encounter service the pipeline uses.
type EncounterSource interface {
	Get(ctx context.Context, tenantID string, id uuid.UUID) (*encounter.Encounter, error)
	GetPrep(ctx context.Context, tenantID string, encounterID uuid.UUID) (*encounter.PrepRecord, error)
	MarkDocumented(ctx context.Context, tenantID string, id uuid.UUID) (bool, error)
}

// LabSource provides the order data embedded in lab report payloads.
type LabSource interface {
	ListOrders(ctx context.Context, tenantID string, encounterID uuid.UUID) ([]*laborder.OrderItem, error)
	GetOrderView(ctx context.Context, tenantID string, encounterID, orderID uuid.UUID) (*laborder.OrderView, error)
}

// CatalogSource resolves test and parameter metadata for payloads.
type CatalogSource interface {
	GetTest(ctx context.Context, tenantID string, id uuid.UUID) (*catalog.Test, error)
	ListActiveParameters(ctx context.Context, tenantID string, testID uuid.UUID) ([]*catalog.Parameter, error)
}

// validateType checks that the requested document type applies to the
// encounter's type.
func validateType(requestedType string, encType encounter.Type) error {
	switch requestedType {
	case TypeEncounterSummary:
		return nil
	case TypeLabReport:
		if encType != encounter.TypeLab {
			return domainerr.Newf(domainerr.CodeInvalidDocumentType,
				"%s is not available for %s encounters", TypeLabReport, encType)
		}
		return nil
	default:
		return domainerr.Newf(domainerr.CodeInvalidDocumentType,
			"unknown document type %q", requestedType)
	}
}

// buildPayload assembles the deterministic payload for the requested type.
// Every field comes from stored records, never from the clock, so the same
// encounter content always hashes identically.
func (s *Service) buildPayload(ctx context.Context, enc *encounter.Encounter, requestedType string) (map[string]interface{}, error) {
	payload := map[string]interface{}{
		"meta": map[string]interface{}{
			"requested_type":   requestedType,
			"payload_version":  CurrentPayloadVersion,
			"template_version": CurrentTemplateVersion,
		},
		"encounter": map[string]interface{}{
			"id":          enc.ID.String(),
			"code":        enc.Code,
			"patient_ref": enc.PatientRef,
			"type":        string(enc.Type),
			"status":      string(enc.Status),
			"started_at":  ts(enc.StartedAt),
			"ended_at":    tsPtr(enc.EndedAt),
		},
	}

	prep, err := s.encounters.GetPrep(ctx, enc.TenantID, enc.ID)
	if err != nil && !errors.Is(err, domainerr.ErrNotFound) {
		return nil, err
	}
	if prep != nil {
		prepMap, err := toMap(prep)
		if err != nil {
			return nil, err
		}
		payload["preparation"] = prepMap
	}

	if enc.Type == encounter.TypeLab {
		orders, err := s.buildLabOrders(ctx, enc)
		if err != nil {
			return nil, err
		}
		payload["lab_orders"] = orders
	}
	return payload, nil
}

func (s *Service) buildLabOrders(ctx context.Context, enc *encounter.Encounter) ([]interface{}, error) {
	items, err := s.labs.ListOrders(ctx, enc.TenantID, enc.ID)
	if err != nil {
		return nil, err
	}

	type orderEntry struct {
		testCode string
		body     map[string]interface{}
	}
	entries := make([]orderEntry, 0, len(items))

	for _, item := range items {
		test, err := s.catalog.GetTest(ctx, enc.TenantID, item.TestID)
		if err != nil {
			return nil, err
		}
		params, err := s.catalog.ListActiveParameters(ctx, enc.TenantID, item.TestID)
		if err != nil {
			return nil, err
		}
		byParam := make(map[uuid.UUID]*catalog.Parameter, len(params))
		for _, p := range params {
			byParam[p.ID] = p
		}

		view, err := s.labs.GetOrderView(ctx, enc.TenantID, enc.ID, item.ID)
		if err != nil {
			return nil, err
		}

		results := make([]interface{}, 0, len(view.Results))
		sort.Slice(view.Results, func(i, j int) bool {
			pi, pj := byParam[view.Results[i].ParameterID], byParam[view.Results[j].ParameterID]
			if pi == nil || pj == nil {
				return view.Results[i].ParameterID.String() < view.Results[j].ParameterID.String()
			}
			if pi.Position != pj.Position {
				return pi.Position < pj.Position
			}
			return pi.Code < pj.Code
		})
		for _, res := range view.Results {
			entry := map[string]interface{}{
				"value":         res.Value,
				"value_numeric": f64Ptr(res.ValueNumeric),
				"flag":          string(res.Flag),
				"entered_by":    strPtr(res.EnteredBy),
				"entered_at":    tsPtr(res.EnteredAt),
				"verified_by":   strPtr(res.VerifiedBy),
				"verified_at":   tsPtr(res.VerifiedAt),
			}
			if p := byParam[res.ParameterID]; p != nil {
				entry["parameter"] = map[string]interface{}{
					"code":     p.Code,
					"name":     p.Name,
					"unit":     strPtr(p.Unit),
					"ref_low":  f64Ptr(p.RefLow),
					"ref_high": f64Ptr(p.RefHigh),
				}
			}
			results = append(results, entry)
		}

		entries = append(entries, orderEntry{
			testCode: test.Code,
			body: map[string]interface{}{
				"test": map[string]interface{}{
					"id":   test.ID.String(),
					"code": test.Code,
					"name": test.Name,
				},
				"status":  string(item.Status),
				"results": results,
			},
		})
	}

	// Stable order independent of retrieval order.
	sort.Slice(entries, func(i, j int) bool { return entries[i].testCode < entries[j].testCode })
	orders := make([]interface{}, len(entries))
	for i, e := range entries {
		orders[i] = e.body
	}
	return orders, nil
}

func ts(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func tsPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return ts(*t)
}

func strPtr(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func f64Ptr(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// toMap converts a struct into the generic map shape the canonicalizer
// operates on.
func toMap(v interface{}) (map[string]interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
