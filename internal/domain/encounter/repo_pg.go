package encounter

import (
	"context"
	"encoding/json"
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

const encCols = `id, tenant_id, patient_ref, enc_type, status, code, started_at, ended_at, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, enc *Encounter) error {
	enc.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO encounter (id, tenant_id, patient_ref, enc_type, status, code, started_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		enc.ID, enc.TenantID, enc.PatientRef, enc.Type, enc.Status, enc.Code, enc.StartedAt,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*Encounter, error) {
	enc, err := scanEnc(r.conn(ctx).QueryRow(ctx,
		`SELECT `+encCols+` FROM encounter WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domainerr.ErrNotFound
	}
	return enc, err
}

func (r *repoPG) List(ctx context.Context, tenantID string, limit, offset int) ([]*Encounter, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM encounter WHERE tenant_id = $1`, tenantID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+encCols+` FROM encounter WHERE tenant_id = $1 ORDER BY started_at DESC LIMIT $2 OFFSET $3`,
		tenantID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectEncs(rows, total)
}

func (r *repoPG) ListByPatient(ctx context.Context, tenantID, patientRef string, limit, offset int) ([]*Encounter, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM encounter WHERE tenant_id = $1 AND patient_ref = $2`,
		tenantID, patientRef).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+encCols+` FROM encounter
		 WHERE tenant_id = $1 AND patient_ref = $2
		 ORDER BY started_at DESC LIMIT $3 OFFSET $4`,
		tenantID, patientRef, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectEncs(rows, total)
}

// UpdateStatus is the guarded transition write. The WHERE clause pins the
// expected status so a concurrent transition makes this a zero-row update
// instead of a lost update.
func (r *repoPG) UpdateStatus(ctx context.Context, tenantID string, id uuid.UUID, expected, next Status, markEnded bool) (bool, error) {
	var tag pgconn.CommandTag
	var err error
	if markEnded {
		tag, err = r.conn(ctx).Exec(ctx, `
			UPDATE encounter SET status = $4, ended_at = NOW(), updated_at = NOW()
			WHERE tenant_id = $1 AND id = $2 AND status = $3 AND ended_at IS NULL`,
			tenantID, id, expected, next)
	} else {
		tag, err = r.conn(ctx).Exec(ctx, `
			UPDATE encounter SET status = $4, updated_at = NOW()
			WHERE tenant_id = $1 AND id = $2 AND status = $3`,
			tenantID, id, expected, next)
	}
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

type prepDetails struct {
	Lab       *LabPrep       `json:"lab,omitempty"`
	Rad       *RadPrep       `json:"rad,omitempty"`
	OPD       *OPDPrep       `json:"opd,omitempty"`
	BloodBank *BloodBankPrep `json:"bb,omitempty"`
	IPD       *IPDPrep       `json:"ipd,omitempty"`
}

func (r *repoPG) SavePrep(ctx context.Context, p *PrepRecord) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	details, err := json.Marshal(prepDetails{Lab: p.Lab, Rad: p.Rad, OPD: p.OPD, BloodBank: p.BloodBank, IPD: p.IPD})
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO encounter_prep (id, tenant_id, encounter_id, details, updated_at)
		VALUES ($1,$2,$3,$4,NOW())
		ON CONFLICT (tenant_id, encounter_id)
		DO UPDATE SET details = EXCLUDED.details, updated_at = NOW()`,
		p.ID, p.TenantID, p.EncounterID, details,
	)
	return err
}

func (r *repoPG) GetPrep(ctx context.Context, tenantID string, encounterID uuid.UUID) (*PrepRecord, error) {
	var p PrepRecord
	var raw []byte
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, tenant_id, encounter_id, details, updated_at
		FROM encounter_prep WHERE tenant_id = $1 AND encounter_id = $2`,
		tenantID, encounterID,
	).Scan(&p.ID, &p.TenantID, &p.EncounterID, &raw, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domainerr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var d prepDetails
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	p.Lab, p.Rad, p.OPD, p.BloodBank, p.IPD = d.Lab, d.Rad, d.OPD, d.BloodBank, d.IPD
	return &p, nil
}

func (r *repoPG) NextCodeSeq(ctx context.Context, tenantID string, t Type, year int) (int, error) {
	var seq int
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO encounter_code_seq (tenant_id, enc_type, year, next_val)
		VALUES ($1,$2,$3,1)
		ON CONFLICT (tenant_id, enc_type, year)
		DO UPDATE SET next_val = encounter_code_seq.next_val + 1
		RETURNING next_val`,
		tenantID, t, year,
	).Scan(&seq)
	return seq, err
}

func scanEnc(row pgx.Row) (*Encounter, error) {
	var e Encounter
	err := row.Scan(&e.ID, &e.TenantID, &e.PatientRef, &e.Type, &e.Status, &e.Code,
		&e.StartedAt, &e.EndedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func collectEncs(rows pgx.Rows, total int) ([]*Encounter, int, error) {
	var encs []*Encounter
	for rows.Next() {
		var e Encounter
		if err := rows.Scan(&e.ID, &e.TenantID, &e.PatientRef, &e.Type, &e.Status, &e.Code,
			&e.StartedAt, &e.EndedAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, 0, err
		}
		encs = append(encs, &e)
	}
	return encs, total, nil
}
