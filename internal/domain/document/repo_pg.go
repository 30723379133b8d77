package document

import (
	"context"
	"encoding/json"
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

const docCols = `id, tenant_id, encounter_id, doc_type, requested_type, status, payload_version, template_version, payload_json, payload_hash, storage_key, pdf_hash, error_code, error_message, created_at, updated_at, rendered_at`

// Insert runs inside the Queue transaction, so a content-key conflict must
// not raise an error: a raised unique violation would abort the transaction
// and poison the winner re-read that follows. ON CONFLICT DO NOTHING absorbs
// the conflict and the missing RETURNING row signals the duplicate instead.
func (r *repoPG) Insert(ctx context.Context, d *Document) error {
	d.ID = uuid.New()
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO document (id, tenant_id, encounter_id, doc_type, requested_type, status,
			payload_version, template_version, payload_json, payload_hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (tenant_id, encounter_id, doc_type, template_version, payload_hash) DO NOTHING
		RETURNING created_at, updated_at`,
		d.ID, d.TenantID, d.EncounterID, d.DocType, d.RequestedType, d.Status,
		d.PayloadVersion, d.TemplateVersion, d.PayloadJSON, d.PayloadHash,
	)
	if err := row.Scan(&d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrDuplicateContent
		}
		return err
	}
	return nil
}

func (r *repoPG) FindByContentKey(ctx context.Context, tenantID string, encounterID uuid.UUID, docType, templateVersion, payloadHash string) (*Document, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+docCols+` FROM document
		WHERE tenant_id = $1 AND encounter_id = $2 AND doc_type = $3
		  AND template_version = $4 AND payload_hash = $5`,
		tenantID, encounterID, docType, templateVersion, payloadHash,
	)
	return scanDocument(row)
}

func (r *repoPG) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*Document, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+docCols+` FROM document WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	)
	return scanDocument(row)
}

func (r *repoPG) ListByEncounter(ctx context.Context, tenantID string, encounterID uuid.UUID) ([]*Document, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+docCols+` FROM document
		WHERE tenant_id = $1 AND encounter_id = $2
		ORDER BY created_at DESC`,
		tenantID, encounterID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (r *repoPG) ResetFailed(ctx context.Context, tenantID string, id uuid.UUID, payloadJSON json.RawMessage) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE document
		SET status = $3, payload_json = $4, storage_key = NULL, pdf_hash = NULL,
		    error_code = NULL, error_message = NULL, rendered_at = NULL, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND status = $5`,
		tenantID, id, StatusQueued, payloadJSON, StatusFailed,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) MarkRendered(ctx context.Context, tenantID string, id uuid.UUID, storageKey, pdfHash string, renderedAt time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE document
		SET status = $3, storage_key = $4, pdf_hash = $5, rendered_at = $6, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND status = $7`,
		tenantID, id, StatusRendered, storageKey, pdfHash, renderedAt, StatusQueued,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) MarkFailed(ctx context.Context, tenantID string, id uuid.UUID, errorCode, errorMessage string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE document
		SET status = $3, error_code = $4, error_message = $5, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND status = $6`,
		tenantID, id, StatusFailed, errorCode, errorMessage, StatusQueued,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	err := row.Scan(
		&d.ID, &d.TenantID, &d.EncounterID, &d.DocType, &d.RequestedType, &d.Status,
		&d.PayloadVersion, &d.TemplateVersion, &d.PayloadJSON, &d.PayloadHash,
		&d.StorageKey, &d.PDFHash, &d.ErrorCode, &d.ErrorMessage,
		&d.CreatedAt, &d.UpdatedAt, &d.RenderedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domainerr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

type jobRepoPG struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) JobRepository {
	return &jobRepoPG{pool: pool}
}

func (r *jobRepoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const jobCols = `id, tenant_id, document_id, status, attempt_count, max_attempts, next_attempt_at, last_error, created_at, abandoned_at`

func (r *jobRepoPG) Enqueue(ctx context.Context, job *RenderJob) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO render_job (id, tenant_id, document_id, status, attempt_count, max_attempts, next_attempt_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO NOTHING`,
		job.ID, job.TenantID, job.DocumentID, job.Status, job.AttemptCount, job.MaxAttempts, job.NextAttemptAt,
	)
	return err
}

func (r *jobRepoPG) Due(ctx context.Context, now time.Time, limit int) ([]*RenderJob, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+jobCols+` FROM render_job
		WHERE status = $1 AND next_attempt_at <= $2
		ORDER BY next_attempt_at ASC
		LIMIT $3`,
		JobPending, now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*RenderJob
	for rows.Next() {
		var j RenderJob
		if err := rows.Scan(&j.ID, &j.TenantID, &j.DocumentID, &j.Status, &j.AttemptCount,
			&j.MaxAttempts, &j.NextAttemptAt, &j.LastError, &j.CreatedAt, &j.AbandonedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

func (r *jobRepoPG) Update(ctx context.Context, job *RenderJob) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE render_job
		SET status = $2, attempt_count = $3, next_attempt_at = $4, last_error = $5, abandoned_at = $6
		WHERE id = $1`,
		job.ID, job.Status, job.AttemptCount, job.NextAttemptAt, job.LastError, job.AbandonedAt,
	)
	return err
}

func (r *jobRepoPG) Complete(ctx context.Context, id string) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM render_job WHERE id = $1`, id)
	return err
}

func (r *jobRepoPG) PruneAbandoned(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM render_job WHERE status = $1 AND abandoned_at < $2`,
		JobAbandoned, before,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
