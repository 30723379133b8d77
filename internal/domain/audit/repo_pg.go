package audit

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/clinicore/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const evCols = `id, tenant_id, actor_user_id, event_type, entity_type, entity_id, payload, created_at`

func (r *repoPG) Append(ctx context.Context, ev *Event) error {
	ev.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO audit_event (id, tenant_id, actor_user_id, event_type, entity_type, entity_id, payload)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		ev.ID, ev.TenantID, ev.ActorUserID, ev.EventType, ev.EntityType, ev.EntityID, ev.Payload,
	)
	return err
}

func (r *repoPG) ListByEntity(ctx context.Context, tenantID, entityType, entityID string, limit, offset int) ([]*Event, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_event WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3`,
		tenantID, entityType, entityID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+evCols+` FROM audit_event
		 WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3
		 ORDER BY created_at DESC LIMIT $4 OFFSET $5`,
		tenantID, entityType, entityID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectEvents(rows, total)
}

func (r *repoPG) ListByEncounter(ctx context.Context, tenantID, encounterID string, limit, offset int) ([]*Event, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_event WHERE tenant_id = $1 AND payload->>'encounter_id' = $2`,
		tenantID, encounterID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+evCols+` FROM audit_event
		 WHERE tenant_id = $1 AND payload->>'encounter_id' = $2
		 ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
		tenantID, encounterID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectEvents(rows, total)
}

func collectEvents(rows pgx.Rows, total int) ([]*Event, int, error) {
	var evs []*Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.ActorUserID, &ev.EventType, &ev.EntityType, &ev.EntityID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, 0, err
		}
		evs = append(evs, &ev)
	}
	return evs, total, nil
}
