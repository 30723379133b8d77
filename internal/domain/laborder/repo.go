package laborder

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyOrdered reports a duplicate (tenant, encounter, test) order.
var ErrAlreadyOrdered = errors.New("test already ordered for encounter")

type Repository interface {
	// CreateOrder inserts the order item and its empty result rows in one
	// shot. A uniqueness violation on (tenant, encounter, test) returns
	// ErrAlreadyOrdered.
	CreateOrder(ctx context.Context, item *OrderItem, results []*ResultItem) error
	GetOrder(ctx context.Context, tenantID string, encounterID, orderID uuid.UUID) (*OrderItem, error)
	ListOrders(ctx context.Context, tenantID string, encounterID uuid.UUID) ([]*OrderItem, error)
	CountUnverified(ctx context.Context, tenantID string, encounterID uuid.UUID) (int, error)

	// UpsertResult writes a result row keyed by (tenant, order item,
	// parameter), clearing any stale verification stamp.
	UpsertResult(ctx context.Context, res *ResultItem) error
	ListResults(ctx context.Context, tenantID string, orderID uuid.UUID) ([]*ResultItem, error)
	StampVerification(ctx context.Context, tenantID string, orderID uuid.UUID, verifiedBy string, at time.Time) error

	// SetStatusIfNotVerified writes the status unless the item is VERIFIED.
	// SetStatusIf writes it only from the exact expected status. Both
	// report false when zero rows matched.
	SetStatusIfNotVerified(ctx context.Context, tenantID string, orderID uuid.UUID, next OrderStatus) (bool, error)
	SetStatusIf(ctx context.Context, tenantID string, orderID uuid.UUID, expected, next OrderStatus) (bool, error)
}
