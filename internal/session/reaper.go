package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Reaper periodically removes idle sessions.
type Reaper struct {
	manager  *Manager
	interval time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// NewReaper creates a reaper that sweeps every interval.
func NewReaper(m *Manager, interval time.Duration, log zerolog.Logger) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{
		manager:  m,
		interval: interval,
		log:      log.With().Str("component", "session-reaper").Logger(),
		stop:     make(chan struct{}),
	}
}

func (r *Reaper) Start() {
	go r.loop()
}

func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Reaper) loop() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := r.manager.Reap(); n > 0 {
				r.log.Info().Int("reaped", n).Msg("idle sessions removed")
			}
		case <-r.stop:
			return
		}
	}
}
