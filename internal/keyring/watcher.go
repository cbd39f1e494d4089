package keyring

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/quam/quam-engine/internal/transcript"
	"github.com/rs/zerolog"
)

const defaultDebounce = 500 * time.Millisecond

// File is a key pool backed by a file on disk. Once started it reloads the
// pool whenever the file changes. A reload that fails keeps the previous pool.
type File struct {
	path     string
	debounce time.Duration
	log      zerolog.Logger

	mu   sync.RWMutex
	keys transcript.KeyPool

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Debounce: editors emit several events per save.
	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	reloads atomic.Int64
}

// NewFile loads path and returns a source serving its keys.
func NewFile(path string, log zerolog.Logger) (*File, error) {
	f := &File{
		path:     path,
		debounce: defaultDebounce,
		log:      log.With().Str("component", "keyring").Str("path", path).Logger(),
	}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Keys returns a snapshot of the current pool.
func (f *File) Keys() transcript.KeyPool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append(transcript.KeyPool(nil), f.keys...)
}

func (f *File) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.keys)
}

// Reloads returns how many successful reloads have happened, including the
// initial load.
func (f *File) Reloads() int64 { return f.reloads.Load() }

// Reload re-reads the key file.
func (f *File) Reload() error {
	keys, err := LoadFile(f.path)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.keys = keys
	f.mu.Unlock()
	f.reloads.Add(1)

	if len(keys) == 0 {
		f.log.Warn().Msg("key file is empty; primary API will be skipped")
	} else {
		f.log.Info().Int("keys", len(keys)).Msg("key pool loaded")
	}
	return nil
}

// Start watches the file's directory so atomic renames are caught as well
// as in-place writes.
func (f *File) Start(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		w.Close()
		return err
	}
	f.watcher = w

	ctx, f.cancel = context.WithCancel(ctx)
	f.wg.Add(1)
	go f.watchLoop(ctx)

	f.log.Info().Msg("key file watcher started")
	return nil
}

// Stop closes the watcher and waits for the loop to exit.
func (f *File) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	if f.watcher != nil {
		f.watcher.Close()
	}
	f.wg.Wait()

	f.debounceMu.Lock()
	if f.debounceTimer != nil {
		f.debounceTimer.Stop()
	}
	f.debounceMu.Unlock()
}

func (f *File) watchLoop(ctx context.Context) {
	defer f.wg.Done()
	target := filepath.Clean(f.path)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			f.scheduleReload()

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

func (f *File) scheduleReload() {
	f.debounceMu.Lock()
	defer f.debounceMu.Unlock()

	if f.debounceTimer != nil {
		f.debounceTimer.Reset(f.debounce)
		return
	}
	f.debounceTimer = time.AfterFunc(f.debounce, func() {
		f.debounceMu.Lock()
		f.debounceTimer = nil
		f.debounceMu.Unlock()

		if err := f.Reload(); err != nil {
			f.log.Warn().Err(err).Msg("key file reload failed, keeping previous pool")
		}
	})
}
