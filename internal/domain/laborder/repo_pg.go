package laborder

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/clinicore/internal/platform/db"
	"github.com/clinicore/clinicore/internal/platform/domainerr"
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

const orderCols = `id, tenant_id, encounter_id, test_id, status, created_at, updated_at`
const resultCols = `id, tenant_id, order_item_id, parameter_id, value, value_numeric, flag, entered_by, entered_at, verified_by, verified_at`

const uniqueViolation = "23505"

func (r *repoPG) CreateOrder(ctx context.Context, item *OrderItem, results []*ResultItem) error {
	item.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO lab_order_item (id, tenant_id, encounter_id, test_id, status)
		VALUES ($1,$2,$3,$4,$5)`,
		item.ID, item.TenantID, item.EncounterID, item.TestID, item.Status,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrAlreadyOrdered
		}
		return err
	}

	for _, res := range results {
		res.ID = uuid.New()
		res.OrderItemID = item.ID
		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO lab_result_item (id, tenant_id, order_item_id, parameter_id, value, flag)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			res.ID, res.TenantID, res.OrderItemID, res.ParameterID, res.Value, res.Flag,
		); err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) GetOrder(ctx context.Context, tenantID string, encounterID, orderID uuid.UUID) (*OrderItem, error) {
	item, err := scanOrder(r.conn(ctx).QueryRow(ctx,
		`SELECT `+orderCols+` FROM lab_order_item
		 WHERE tenant_id = $1 AND encounter_id = $2 AND id = $3`,
		tenantID, encounterID, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domainerr.ErrNotFound
	}
	return item, err
}

func (r *repoPG) ListOrders(ctx context.Context, tenantID string, encounterID uuid.UUID) ([]*OrderItem, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+orderCols+` FROM lab_order_item
		 WHERE tenant_id = $1 AND encounter_id = $2 ORDER BY created_at`,
		tenantID, encounterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*OrderItem
	for rows.Next() {
		item, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (r *repoPG) CountUnverified(ctx context.Context, tenantID string, encounterID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM lab_order_item
		 WHERE tenant_id = $1 AND encounter_id = $2 AND status <> $3`,
		tenantID, encounterID, StatusVerified).Scan(&n)
	return n, err
}

func (r *repoPG) UpsertResult(ctx context.Context, res *ResultItem) error {
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO lab_result_item (id, tenant_id, order_item_id, parameter_id, value, value_numeric, flag, entered_by, entered_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (tenant_id, order_item_id, parameter_id)
		DO UPDATE SET
			value = EXCLUDED.value,
			value_numeric = EXCLUDED.value_numeric,
			flag = EXCLUDED.flag,
			entered_by = EXCLUDED.entered_by,
			entered_at = EXCLUDED.entered_at,
			verified_by = NULL,
			verified_at = NULL`,
		res.ID, res.TenantID, res.OrderItemID, res.ParameterID,
		res.Value, res.ValueNumeric, res.Flag, res.EnteredBy, res.EnteredAt,
	)
	return err
}

func (r *repoPG) ListResults(ctx context.Context, tenantID string, orderID uuid.UUID) ([]*ResultItem, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+resultCols+` FROM lab_result_item
		 WHERE tenant_id = $1 AND order_item_id = $2 ORDER BY parameter_id`,
		tenantID, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*ResultItem
	for rows.Next() {
		var res ResultItem
		if err := rows.Scan(&res.ID, &res.TenantID, &res.OrderItemID, &res.ParameterID,
			&res.Value, &res.ValueNumeric, &res.Flag, &res.EnteredBy, &res.EnteredAt,
			&res.VerifiedBy, &res.VerifiedAt); err != nil {
			return nil, err
		}
		results = append(results, &res)
	}
	return results, nil
}

func (r *repoPG) StampVerification(ctx context.Context, tenantID string, orderID uuid.UUID, verifiedBy string, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE lab_result_item SET verified_by = $3, verified_at = $4
		WHERE tenant_id = $1 AND order_item_id = $2`,
		tenantID, orderID, verifiedBy, at,
	)
	return err
}

func (r *repoPG) SetStatusIfNotVerified(ctx context.Context, tenantID string, orderID uuid.UUID, next OrderStatus) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE lab_order_item SET status = $3, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND status <> $4`,
		tenantID, orderID, next, StatusVerified,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) SetStatusIf(ctx context.Context, tenantID string, orderID uuid.UUID, expected, next OrderStatus) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE lab_order_item SET status = $4, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND status = $3`,
		tenantID, orderID, expected, next,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanOrder(row pgx.Row) (*OrderItem, error) {
	var item OrderItem
	err := row.Scan(&item.ID, &item.TenantID, &item.EncounterID, &item.TestID,
		&item.Status, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &item, nil
}
