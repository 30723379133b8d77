package document

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicore/clinicore/internal/domain/encounter"
	"github.com/clinicore/clinicore/internal/platform/domainerr"
	"github.com/clinicore/clinicore/internal/platform/render"
	"github.com/clinicore/clinicore/internal/platform/storage"
)

// RenderWorker drains the render queue: it renders each queued document's
// stored payload, persists the bytes, settles the document row, and
// advances a FINALIZED encounter to DOCUMENTED.
type RenderWorker struct {
	svc      *Service
	renderer render.Renderer
	store    storage.DocumentStore
	log      zerolog.Logger

	// PollInterval controls how often due jobs are fetched.
	PollInterval time.Duration
	// PruneInterval controls how often abandoned jobs are purged.
	PruneInterval time.Duration
	// BatchSize is the max number of due jobs fetched per tick.
	BatchSize int
	// AbandonedRetention is how long abandoned jobs stay inspectable
	// before pruning.
	AbandonedRetention time.Duration
}

func NewRenderWorker(svc *Service, renderer render.Renderer, store storage.DocumentStore, log zerolog.Logger) *RenderWorker {
	return &RenderWorker{
		svc:                svc,
		renderer:           renderer,
		store:              store,
		log:                log,
		PollInterval:       5 * time.Second,
		PruneInterval:      1 * time.Hour,
		BatchSize:          50,
		AbandonedRetention: 24 * time.Hour,
	}
}

// Start runs the polling and pruning loops until ctx is cancelled.
func (w *RenderWorker) Start(ctx context.Context) {
	pollTicker := time.NewTicker(w.PollInterval)
	pruneTicker := time.NewTicker(w.PruneInterval)
	defer pollTicker.Stop()
	defer pruneTicker.Stop()

	w.log.Info().Dur("poll_interval", w.PollInterval).Msg("render worker started")
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("render worker stopped")
			return
		case <-pollTicker.C:
			w.RunOnce(ctx)
		case <-pruneTicker.C:
			w.prune(ctx)
		}
	}
}

// RunOnce processes every currently due job. Exposed so the serve path can
// flush the queue without waiting for a tick.
func (w *RenderWorker) RunOnce(ctx context.Context) {
	jobs, err := w.svc.jobs.Due(ctx, time.Now().UTC(), w.BatchSize)
	if err != nil {
		w.log.Error().Err(err).Msg("failed to list due render jobs")
		return
	}
	for _, job := range jobs {
		w.runJob(ctx, job)
	}
}

func (w *RenderWorker) runJob(ctx context.Context, job *RenderJob) {
	doc, err := w.svc.repo.GetByID(ctx, job.TenantID, job.DocumentID)
	if errors.Is(err, domainerr.ErrNotFound) {
		// Document gone; nothing left to render.
		_ = w.svc.jobs.Complete(ctx, job.ID)
		return
	}
	if err != nil {
		w.retryLater(ctx, job, doc, err)
		return
	}
	if doc.Status != StatusQueued {
		// Another worker already settled it.
		_ = w.svc.jobs.Complete(ctx, job.ID)
		return
	}

	if err := w.renderOne(ctx, doc); err != nil {
		w.retryLater(ctx, job, doc, err)
		return
	}
	if err := w.svc.jobs.Complete(ctx, job.ID); err != nil {
		w.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to complete render job")
	}
}

func (w *RenderWorker) renderOne(ctx context.Context, doc *Document) error {
	var payload map[string]interface{}
	if err := json.Unmarshal(doc.PayloadJSON, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	pdf, err := w.renderer.Render(ctx, render.Input{
		TenantID:        doc.TenantID,
		DocumentID:      doc.ID.String(),
		DocumentType:    doc.RequestedType,
		TemplateVersion: doc.TemplateVersion,
		Payload:         payload,
	})
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}

	sum := sha256.Sum256(pdf)
	pdfHash := hex.EncodeToString(sum[:])
	key := doc.ID.String() + ".pdf"
	if _, err := w.store.Put(ctx, doc.TenantID, key, bytes.NewReader(pdf)); err != nil {
		return fmt.Errorf("store pdf: %w", err)
	}

	ok, err := w.svc.repo.MarkRendered(ctx, doc.TenantID, doc.ID, key, pdfHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark rendered: %w", err)
	}
	if !ok {
		// Lost the settle race; the artifact is content-addressed so the
		// duplicate write above is harmless.
		return nil
	}

	w.log.Info().
		Str("tenant_id", doc.TenantID).
		Str("document_id", doc.ID.String()).
		Str("pdf_hash", pdfHash).
		Msg("document rendered")

	w.documentEncounter(ctx, doc)
	return nil
}

// documentEncounter advances the owning encounter to DOCUMENTED when it is
// still FINALIZED. This is the only path that produces DOCUMENTED.
func (w *RenderWorker) documentEncounter(ctx context.Context, doc *Document) {
	enc, err := w.svc.encounters.Get(ctx, doc.TenantID, doc.EncounterID)
	if err != nil {
		w.log.Error().Err(err).Str("encounter_id", doc.EncounterID.String()).Msg("failed to load encounter after render")
		return
	}
	if enc.Status != encounter.StatusFinalized {
		return
	}
	if _, err := w.svc.encounters.MarkDocumented(ctx, doc.TenantID, doc.EncounterID); err != nil {
		w.log.Error().Err(err).Str("encounter_id", doc.EncounterID.String()).Msg("failed to mark encounter documented")
	}
}

func (w *RenderWorker) retryLater(ctx context.Context, job *RenderJob, doc *Document, cause error) {
	job.AttemptCount++
	msg := cause.Error()
	job.LastError = &msg

	if job.AttemptCount >= job.MaxAttempts {
		now := time.Now().UTC()
		job.Status = JobAbandoned
		job.AbandonedAt = &now
		if err := w.svc.jobs.Update(ctx, job); err != nil {
			w.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to abandon render job")
		}
		if doc != nil {
			if _, err := w.svc.repo.MarkFailed(ctx, doc.TenantID, doc.ID, "RENDER_FAILED", msg); err != nil {
				w.log.Error().Err(err).Str("document_id", doc.ID.String()).Msg("failed to mark document failed")
			}
		}
		w.log.Error().Err(cause).Str("job_id", job.ID).Int("attempts", job.AttemptCount).Msg("render job abandoned")
		return
	}

	job.NextAttemptAt = time.Now().UTC().Add(retryBackoff(job.AttemptCount))
	if err := w.svc.jobs.Update(ctx, job); err != nil {
		w.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to reschedule render job")
	}
}

func (w *RenderWorker) prune(ctx context.Context) {
	n, err := w.svc.jobs.PruneAbandoned(ctx, time.Now().UTC().Add(-w.AbandonedRetention))
	if err != nil {
		w.log.Error().Err(err).Msg("failed to prune abandoned render jobs")
		return
	}
	if n > 0 {
		w.log.Info().Int64("pruned", n).Msg("pruned abandoned render jobs")
	}
}
