package audit

import (
	"context"
)

type Repository interface {
	Append(ctx context.Context, ev *Event) error
	ListByEntity(ctx context.Context, tenantID, entityType, entityID string, limit, offset int) ([]*Event, int, error)
	ListByEncounter(ctx context.Context, tenantID, encounterID string, limit, offset int) ([]*Event, int, error)
}
