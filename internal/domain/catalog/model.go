// Package catalog holds the tenant-scoped test catalog: orderable tests and
// their result parameters with reference bounds.
package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Test maps to the catalog_test table.
type Test struct {
	ID        uuid.UUID `db:"id" json:"id"`
	TenantID  string    `db:"tenant_id" json:"tenant_id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Parameter maps to the catalog_parameter table. RefLow and RefHigh are the
// inclusive reference bounds; either or both may be absent for qualitative
// parameters.
type Parameter struct {
	ID        uuid.UUID `db:"id" json:"id"`
	TenantID  string    `db:"tenant_id" json:"tenant_id"`
	TestID    uuid.UUID `db:"test_id" json:"test_id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	Unit      *string   `db:"unit" json:"unit,omitempty"`
	RefLow    *float64  `db:"ref_low" json:"ref_low,omitempty"`
	RefHigh   *float64  `db:"ref_high" json:"ref_high,omitempty"`
	Active    bool      `db:"active" json:"active"`
	Position  int       `db:"position" json:"position"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
