// Package laborder implements the lab order workflow nested inside a LAB
// encounter: ordering a test, entering parameter results, and verification
// locking. All status writes are guarded conditional updates.
package laborder

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus is the lifecycle of one ordered test. It is monotonic and
// VERIFIED is terminal.
type OrderStatus string

const (
	StatusOrdered        OrderStatus = "ORDERED"
	StatusResultsEntered OrderStatus = "RESULTS_ENTERED"
	StatusVerified       OrderStatus = "VERIFIED"
)

// Flag classifies a numeric result against the parameter's reference range.
type Flag string

const (
	FlagLow     Flag = "LOW"
	FlagHigh    Flag = "HIGH"
	FlagNormal  Flag = "NORMAL"
	FlagUnknown Flag = "UNKNOWN"
)

// OrderItem maps to the lab_order_item table. One row per
// (tenant, encounter, test).
type OrderItem struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	TenantID    string      `db:"tenant_id" json:"tenant_id"`
	EncounterID uuid.UUID   `db:"encounter_id" json:"encounter_id"`
	TestID      uuid.UUID   `db:"test_id" json:"test_id"`
	Status      OrderStatus `db:"status" json:"status"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

// ResultItem maps to the lab_result_item table. One row per active
// parameter of the ordered test, created empty at order time. verified_by
// and verified_at are only set while the parent order item is VERIFIED.
type ResultItem struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	TenantID     string     `db:"tenant_id" json:"tenant_id"`
	OrderItemID  uuid.UUID  `db:"order_item_id" json:"order_item_id"`
	ParameterID  uuid.UUID  `db:"parameter_id" json:"parameter_id"`
	Value        string     `db:"value" json:"value"`
	ValueNumeric *float64   `db:"value_numeric" json:"value_numeric,omitempty"`
	Flag         Flag       `db:"flag" json:"flag"`
	EnteredBy    *string    `db:"entered_by" json:"entered_by,omitempty"`
	EnteredAt    *time.Time `db:"entered_at" json:"entered_at,omitempty"`
	VerifiedBy   *string    `db:"verified_by" json:"verified_by,omitempty"`
	VerifiedAt   *time.Time `db:"verified_at" json:"verified_at,omitempty"`
}

// ResultInput is one submitted (parameter, value) pair.
type ResultInput struct {
	ParameterID uuid.UUID `json:"parameter_id"`
	Value       string    `json:"value"`
}

// OrderView bundles an order item with its current result rows.
type OrderView struct {
	Order   *OrderItem    `json:"order"`
	Results []*ResultItem `json:"results"`
}
