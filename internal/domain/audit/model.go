// Package audit provides the append-only trail of workflow mutation
// attempts. Every state-changing operation records an event, whether it
// succeeded or was rejected by a domain rule, so the history of an
// encounter can be reconstructed after the fact.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Event maps to the audit_event table. Rows are never updated or deleted.
type Event struct {
	ID          uuid.UUID              `db:"id" json:"id"`
	TenantID    string                 `db:"tenant_id" json:"tenant_id"`
	ActorUserID string                 `db:"actor_user_id" json:"actor_user_id"`
	EventType   string                 `db:"event_type" json:"event_type"`
	EntityType  string                 `db:"entity_type" json:"entity_type"`
	EntityID    string                 `db:"entity_id" json:"entity_id"`
	Payload     map[string]interface{} `db:"payload" json:"payload"`
	CreatedAt   time.Time              `db:"created_at" json:"created_at"`
}

// Entity types recorded in the trail.
const (
	EntityEncounter = "encounter"
	EntityLabOrder  = "lab_order_item"
	EntityDocument  = "document"
)

// PayloadInput collects the standard fields every audit payload carries.
// Empty strings are omitted from the stored payload.
type PayloadInput struct {
	TenantID       string
	UserID         string
	EncounterID    string
	OrderID        string
	IdempotencyKey string
	CorrelationID  string
	PrevStatus     string
	NextStatus     string
	FailureCode    string
	FailureDetails map[string]interface{}
}

// BuildPayload assembles the standard audit payload shape.
func BuildPayload(in PayloadInput) map[string]interface{} {
	p := map[string]interface{}{
		"tenant_id": in.TenantID,
		"user_id":   in.UserID,
	}
	if in.EncounterID != "" {
		p["encounter_id"] = in.EncounterID
	}
	if in.OrderID != "" {
		p["order_id"] = in.OrderID
	}
	if in.IdempotencyKey != "" {
		p["idempotency_key"] = in.IdempotencyKey
	}
	if in.CorrelationID != "" {
		p["correlation_id"] = in.CorrelationID
	}
	if in.PrevStatus != "" {
		p["prev_status"] = in.PrevStatus
	}
	if in.NextStatus != "" {
		p["next_status"] = in.NextStatus
	}
	if in.FailureCode != "" {
		p["failure_reason_code"] = in.FailureCode
		if len(in.FailureDetails) > 0 {
			p["failure_reason_details"] = in.FailureDetails
		}
	}
	return p
}
