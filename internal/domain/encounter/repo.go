package encounter

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, enc *Encounter) error
	GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*Encounter, error)
	List(ctx context.Context, tenantID string, limit, offset int) ([]*Encounter, int, error)
	ListByPatient(ctx context.Context, tenantID, patientRef string, limit, offset int) ([]*Encounter, int, error)

	// UpdateStatus performs the guarded transition. It returns false when
	// zero rows matched, meaning the encounter was not in the expected
	// status at write time.
	UpdateStatus(ctx context.Context, tenantID string, id uuid.UUID, expected, next Status, markEnded bool) (bool, error)

	SavePrep(ctx context.Context, p *PrepRecord) error
	GetPrep(ctx context.Context, tenantID string, encounterID uuid.UUID) (*PrepRecord, error)

	// NextCodeSeq allocates the next value of the tenant+type+year sequence
	// backing human-readable encounter codes.
	NextCodeSeq(ctx context.Context, tenantID string, t Type, year int) (int, error)
}
