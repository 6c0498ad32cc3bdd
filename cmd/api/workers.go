package main

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/southernsense/storefront/internal/platform/idempotency"
)

const cleanupRunTimeout = time.Minute

// cleanupWorker periodically purges expired idempotency records.
type cleanupWorker struct {
	store    idempotency.Store
	interval time.Duration
	batch    int
	clock    func() time.Time
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newCleanupWorker(store idempotency.Store, interval time.Duration, batch int, logger *zap.Logger) *cleanupWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &cleanupWorker{
		store:    store,
		interval: interval,
		batch:    batch,
		clock:    time.Now,
		logger:   logger,
	}
}

// Start launches the ticker loop. It is a no-op when the interval is not positive.
func (w *cleanupWorker) Start(ctx context.Context) {
	if w == nil || w.store == nil || w.interval <= 0 {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ticker := time.NewTicker(w.interval)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.runOnce(runCtx)
			case <-runCtx.Done():
				return
			}
		}
	}()
}

func (w *cleanupWorker) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, cleanupRunTimeout)
	defer cancel()
	removed, err := idempotency.Cleanup(runCtx, w.store, w.clock().UTC(), w.batch)
	if err != nil {
		w.logger.Error("idempotency cleanup error", zap.Error(err))
		return
	}
	if removed > 0 {
		w.logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
	}
}

// Stop cancels the loop and waits for an in-flight run to finish.
func (w *cleanupWorker) Stop() {
	if w == nil || w.cancel == nil {
		return
	}
	w.cancel()
	w.wg.Wait()
}
