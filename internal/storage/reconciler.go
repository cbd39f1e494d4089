package storage

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// UploadReconciler pushes transcripts that never reached S3. Each pass
// retries the TieredStore's queue of failed mirrors. The first pass also
// sweeps recent files on disk, covering failures from before a restart.
type UploadReconciler struct {
	store    *TieredStore
	interval time.Duration
	window   time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

func NewUploadReconciler(store *TieredStore, log zerolog.Logger) *UploadReconciler {
	return &UploadReconciler{
		store:    store,
		interval: time.Minute,
		window:   24 * time.Hour,
		log:      log.With().Str("component", "upload-reconciler").Logger(),
		stop:     make(chan struct{}),
	}
}

func (r *UploadReconciler) Start() { go r.loop() }

func (r *UploadReconciler) Stop() { r.stopOnce.Do(func() { close(r.stop) }) }

func (r *UploadReconciler) loop() {
	r.sweep(time.Now().Add(-r.window))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.retry()
		case <-r.stop:
			return
		}
	}
}

// sweep queues every recent disk transcript that S3 does not have.
func (r *UploadReconciler) sweep(since time.Time) {
	var missing int
	err := r.store.local.walk(since, func(key string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if !r.store.remote.Exists(ctx, key) {
			r.store.markPending(key)
			missing++
		}
	})
	if err != nil {
		r.log.Warn().Err(err).Msg("archive sweep failed")
	}
	if missing > 0 {
		r.log.Info().Int("missing", missing).Msg("archive sweep found transcripts absent from S3")
	}
	r.retry()
}

// retry uploads the queued keys once. Failures go back on the queue.
func (r *UploadReconciler) retry() (uploaded, failed int) {
	for _, key := range r.store.takePending() {
		data, err := os.ReadFile(r.store.local.path(key))
		if err != nil {
			// Gone from disk; nothing left to mirror.
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = r.store.remote.Save(ctx, key, data, textContentType)
		cancel()
		if err != nil {
			r.store.markPending(key)
			failed++
			r.log.Debug().Err(err).Str("key", key).Msg("S3 retry failed")
			continue
		}
		uploaded++
	}
	if uploaded > 0 || failed > 0 {
		r.log.Info().Int("uploaded", uploaded).Int("failed", failed).Msg("S3 mirror retry")
	}
	return uploaded, failed
}
