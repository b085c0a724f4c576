package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/andina-health/glosas-cli/internal/model"
	"github.com/andina-health/glosas-cli/internal/resilience"
	"github.com/andina-health/glosas-cli/internal/store"
)

// BatchResult summarizes one batch run.
type BatchResult struct {
	Total      int
	Liquidados int
	ConGlosas  int
	Rechazados int
	Fallidos   []resilience.RequeueEntry
}

// BatchConfig tunes a batch run.
type BatchConfig struct {
	Concurrency int
	MaxRetries  int
	Backoff     time.Duration
}

// DefaultBatchConfig is sized for a single Postgres pool.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{Concurrency: 4, MaxRetries: 2, Backoff: 5 * time.Second}
}

// AuditBatch audits every pending radicado concurrently. Transient failures
// are requeued and retried within the same run; whatever remains comes back
// in BatchResult.Fallidos. A single radicado failing never aborts the batch.
func (a *Auditor) AuditBatch(ctx context.Context, cfg BatchConfig) (*BatchResult, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultBatchConfig().Concurrency
	}

	pendientes, err := a.store.ListRadicados(ctx, store.RadicadoFilter{Estado: model.EstadoPendiente})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list pending radicados")
	}

	result := &BatchResult{Total: len(pendientes)}
	if len(pendientes) == 0 {
		return result, nil
	}

	queue := resilience.NewRequeue(cfg.MaxRetries, cfg.Backoff)
	zap.L().Info("pipeline: batch run starting",
		zap.Int("radicados", len(pendientes)),
		zap.Int("concurrency", cfg.Concurrency))

	a.runWave(ctx, pendientes, cfg.Concurrency, queue, result)

	// Retry waves for transient failures, honoring the queue's backoff.
	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		pending := queue.Pending(time.Now().UTC())
		if len(pending) == 0 {
			if len(queue.Failed()) == 0 {
				break
			}
			// Entries exist but none are due yet.
			retryAt := nextRetryAt(queue.Failed())
			if retryAt.IsZero() {
				break
			}
			select {
			case <-ctx.Done():
				result.Fallidos = queue.Failed()
				return result, ctx.Err()
			case <-time.After(time.Until(retryAt)):
			}
			pending = queue.Pending(time.Now().UTC())
			if len(pending) == 0 {
				break
			}
		}

		retry := make([]model.Radicado, 0, len(pending))
		for _, e := range pending {
			rad, err := a.store.GetRadicado(ctx, e.RadicadoID)
			if err != nil || rad == nil {
				continue
			}
			retry = append(retry, *rad)
		}
		a.runWave(ctx, retry, cfg.Concurrency, queue, result)
	}

	result.Fallidos = queue.Failed()
	zap.L().Info("pipeline: batch run complete",
		zap.Int("total", result.Total),
		zap.Int("liquidados", result.Liquidados),
		zap.Int("con_glosas", result.ConGlosas),
		zap.Int("rechazados", result.Rechazados),
		zap.Int("fallidos", len(result.Fallidos)))
	return result, nil
}

func (a *Auditor) runWave(ctx context.Context, rads []model.Radicado, concurrency int, queue *resilience.Requeue, result *BatchResult) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, rad := range rads {
		g.Go(func() error {
			out, err := a.Audit(gctx, rad.ID)
			if err != nil {
				queue.Record(rad.ID, err)
				zap.L().Warn("pipeline: batch pass failed",
					zap.String("radicado", rad.Numero),
					zap.String("clase", resilience.ClassifyError(err)),
					zap.Error(err))
				return nil
			}
			queue.Resolve(rad.ID)
			mu.Lock()
			switch out.Estado {
			case model.EstadoLiquidado:
				result.Liquidados++
			case model.EstadoConGlosas:
				result.ConGlosas++
			case model.EstadoRechazado:
				result.Rechazados++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

func nextRetryAt(entries []resilience.RequeueEntry) time.Time {
	var earliest time.Time
	for _, e := range entries {
		if !e.CanRetry() {
			continue
		}
		if earliest.IsZero() || e.NextRetryAt.Before(earliest) {
			earliest = e.NextRetryAt
		}
	}
	return earliest
}
