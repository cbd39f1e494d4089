package storage

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// remote is the object-store half of a TieredStore. *S3Store implements it.
type remote interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
	URL(ctx context.Context, key string) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) bool
}

// TieredStore writes transcripts to local disk and mirrors them to S3.
// The disk copy must succeed. A failed mirror is remembered and retried by
// the UploadReconciler. Reads prefer disk and fill it from S3 on a miss.
type TieredStore struct {
	local  *LocalStore
	remote remote
	log    zerolog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
}

func NewTieredStore(remote remote, local *LocalStore, log zerolog.Logger) *TieredStore {
	return &TieredStore{
		local:   local,
		remote:  remote,
		log:     log.With().Str("component", "tiered-store").Logger(),
		pending: make(map[string]struct{}),
	}
}

func (s *TieredStore) Save(ctx context.Context, key string, data []byte, ct string) error {
	if err := s.local.Save(ctx, key, data, ct); err != nil {
		return err
	}
	if err := s.remote.Save(ctx, key, data, ct); err != nil {
		s.markPending(key)
		s.log.Warn().Err(err).Str("key", key).Msg("S3 mirror failed, queued for retry")
	}
	return nil
}

func (s *TieredStore) markPending(key string) {
	s.mu.Lock()
	s.pending[key] = struct{}{}
	s.mu.Unlock()
}

// takePending drains the retry queue in key order.
func (s *TieredStore) takePending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.pending))
	for k := range s.pending {
		keys = append(keys, k)
	}
	clear(s.pending)
	sort.Strings(keys)
	return keys
}

// Pending reports how many transcripts are waiting to reach S3.
func (s *TieredStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *TieredStore) LocalPath(key string) string { return s.local.LocalPath(key) }

func (s *TieredStore) URL(ctx context.Context, key string) (string, error) {
	return s.remote.URL(ctx, key)
}

func (s *TieredStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if rc, err := s.local.Open(ctx, key); err == nil {
		return rc, nil
	}
	if !s.remote.Exists(ctx, key) {
		return nil, ErrNotArchived
	}
	data, err := s.fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// fetch reads key from S3 and keeps a disk copy for the next reader.
func (s *TieredStore) fetch(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.remote.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	if err := s.local.Save(ctx, key, data, textContentType); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("disk fill from S3 failed")
	}
	return data, nil
}

func (s *TieredStore) Exists(ctx context.Context, key string) bool {
	return s.local.Exists(ctx, key) || s.remote.Exists(ctx, key)
}

func (s *TieredStore) Type() string { return "tiered" }
