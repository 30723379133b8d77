package catalog

import (
	"context"
	"errors"

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

const testCols = `id, tenant_id, code, name, active, created_at, updated_at`
const paramCols = `id, tenant_id, test_id, code, name, unit, ref_low, ref_high, active, position, created_at`

func (r *repoPG) CreateTest(ctx context.Context, t *Test) error {
	t.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO catalog_test (id, tenant_id, code, name, active)
		VALUES ($1,$2,$3,$4,$5)`,
		t.ID, t.TenantID, t.Code, t.Name, t.Active,
	)
	return err
}

func (r *repoPG) GetTest(ctx context.Context, tenantID string, id uuid.UUID) (*Test, error) {
	var t Test
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+testCols+` FROM catalog_test WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	).Scan(&t.ID, &t.TenantID, &t.Code, &t.Name, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domainerr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *repoPG) ListTests(ctx context.Context, tenantID string, limit, offset int) ([]*Test, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM catalog_test WHERE tenant_id = $1`, tenantID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+testCols+` FROM catalog_test WHERE tenant_id = $1 ORDER BY code LIMIT $2 OFFSET $3`,
		tenantID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var tests []*Test
	for rows.Next() {
		var t Test
		if err := rows.Scan(&t.ID, &t.TenantID, &t.Code, &t.Name, &t.Active, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, 0, err
		}
		tests = append(tests, &t)
	}
	return tests, total, nil
}

func (r *repoPG) CreateParameter(ctx context.Context, p *Parameter) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO catalog_parameter (id, tenant_id, test_id, code, name, unit, ref_low, ref_high, active, position)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.ID, p.TenantID, p.TestID, p.Code, p.Name, p.Unit, p.RefLow, p.RefHigh, p.Active, p.Position,
	)
	return err
}

func (r *repoPG) GetParameter(ctx context.Context, tenantID string, id uuid.UUID) (*Parameter, error) {
	p, err := scanParam(r.conn(ctx).QueryRow(ctx,
		`SELECT `+paramCols+` FROM catalog_parameter WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domainerr.ErrNotFound
	}
	return p, err
}

func (r *repoPG) ListActiveParameters(ctx context.Context, tenantID string, testID uuid.UUID) ([]*Parameter, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+paramCols+` FROM catalog_parameter
		 WHERE tenant_id = $1 AND test_id = $2 AND active
		 ORDER BY position, code`,
		tenantID, testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var params []*Parameter
	for rows.Next() {
		p, err := scanParam(rows)
		if err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	return params, nil
}

func scanParam(row pgx.Row) (*Parameter, error) {
	var p Parameter
	err := row.Scan(&p.ID, &p.TenantID, &p.TestID, &p.Code, &p.Name, &p.Unit, &p.RefLow, &p.RefHigh, &p.Active, &p.Position, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
