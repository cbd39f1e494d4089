package database

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HistoryPruner deletes transcripts past the retention window.
type HistoryPruner struct {
	db        *DB
	retention time.Duration
	interval  time.Duration
	log       zerolog.Logger
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewHistoryPruner creates a pruner that runs hourly.
func NewHistoryPruner(db *DB, retention time.Duration, log zerolog.Logger) *HistoryPruner {
	return &HistoryPruner{
		db:        db,
		retention: retention,
		interval:  1 * time.Hour,
		log:       log.With().Str("component", "history-pruner").Logger(),
		stop:      make(chan struct{}),
	}
}

func (p *HistoryPruner) Start() {
	go p.loop()
}

func (p *HistoryPruner) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *HistoryPruner) loop() {
	p.prune()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.prune()
		case <-p.stop:
			return
		}
	}
}

func (p *HistoryPruner) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := p.db.PurgeTranscriptsOlderThan(ctx, p.retention)
	if err != nil {
		p.log.Warn().Err(err).Msg("transcript purge failed")
		return
	}
	if n > 0 {
		p.log.Info().Int64("deleted", n).Dur("retention", p.retention).Msg("old transcripts purged")
	}
}
