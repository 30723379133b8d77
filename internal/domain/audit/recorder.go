package audit

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/clinicore/clinicore/internal/platform/db"
)

// Recorder appends audit events on a best-effort basis. A failed append is
// logged and swallowed so it can never mask the outcome of the operation
// being audited. Events are written outside any surrounding transaction so
// rejected attempts are still recorded when the transaction rolls back.
type Recorder struct {
	repo Repository
	log  zerolog.Logger
}

func NewRecorder(repo Repository, log zerolog.Logger) *Recorder {
	return &Recorder{repo: repo, log: log}
}

func (r *Recorder) Record(ctx context.Context, ev *Event) {
	if err := r.repo.Append(db.DetachTx(ctx), ev); err != nil {
		r.log.Warn().
			Err(err).
			Str("tenant_id", ev.TenantID).
			Str("event_type", ev.EventType).
			Str("entity_id", ev.EntityID).
			Msg("audit append failed")
	}
}
