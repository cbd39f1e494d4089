package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// memRemote is an in-memory S3 stand-in that can be told to reject writes.
type memRemote struct {
	mu      sync.Mutex
	objects map[string][]byte
	failing bool
}

func newMemRemote() *memRemote { return &memRemote{objects: make(map[string][]byte)} }

func (m *memRemote) Save(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("bucket unreachable")
	}
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *memRemote) URL(_ context.Context, key string) (string, error) {
	return "https://bucket.example/" + key, nil
}

func (m *memRemote) Open(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrNotArchived
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memRemote) Exists(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

func (m *memRemote) setFailing(v bool) {
	m.mu.Lock()
	m.failing = v
	m.mu.Unlock()
}

func TestTieredStore(t *testing.T) {
	ctx := context.Background()
	key := Key("dQw4w9WgXcQ", "en", "job")

	t.Run("save_mirrors_to_remote", func(t *testing.T) {
		remote := newMemRemote()
		s := NewTieredStore(remote, NewLocalStore(t.TempDir()), zerolog.Nop())
		if _, err := SaveText(ctx, s, "dQw4w9WgXcQ", "en", "job", "hello"); err != nil {
			t.Fatalf("SaveText: %v", err)
		}
		if s.LocalPath(key) == "" {
			t.Error("transcript not on disk")
		}
		if !remote.Exists(ctx, key) {
			t.Error("transcript not mirrored")
		}
		if s.Pending() != 0 {
			t.Errorf("Pending = %d, want 0", s.Pending())
		}
	})

	t.Run("remote_failure_is_queued", func(t *testing.T) {
		remote := newMemRemote()
		remote.setFailing(true)
		s := NewTieredStore(remote, NewLocalStore(t.TempDir()), zerolog.Nop())
		if _, err := SaveText(ctx, s, "dQw4w9WgXcQ", "en", "job", "hello"); err != nil {
			t.Fatalf("SaveText should succeed with disk copy: %v", err)
		}
		if s.Pending() != 1 {
			t.Fatalf("Pending = %d, want 1", s.Pending())
		}

		r := NewUploadReconciler(s, zerolog.Nop())
		if up, failed := r.retry(); up != 0 || failed != 1 {
			t.Errorf("retry while failing = (%d, %d), want (0, 1)", up, failed)
		}
		if s.Pending() != 1 {
			t.Errorf("failed retry should requeue, Pending = %d", s.Pending())
		}

		remote.setFailing(false)
		if up, failed := r.retry(); up != 1 || failed != 0 {
			t.Errorf("retry = (%d, %d), want (1, 0)", up, failed)
		}
		if !remote.Exists(ctx, key) || s.Pending() != 0 {
			t.Error("transcript not delivered by retry")
		}
	})

	t.Run("open_fills_disk_from_remote", func(t *testing.T) {
		remote := newMemRemote()
		remote.Save(ctx, key, []byte("from bucket"), textContentType)
		s := NewTieredStore(remote, NewLocalStore(t.TempDir()), zerolog.Nop())

		rc, err := s.Open(ctx, key)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		data, _ := io.ReadAll(rc)
		rc.Close()
		if string(data) != "from bucket" {
			t.Errorf("content = %q", data)
		}
		if s.LocalPath(key) == "" {
			t.Error("remote read did not fill the disk copy")
		}
	})

	t.Run("open_missing", func(t *testing.T) {
		s := NewTieredStore(newMemRemote(), NewLocalStore(t.TempDir()), zerolog.Nop())
		if _, err := s.Open(ctx, key); !errors.Is(err, ErrNotArchived) {
			t.Errorf("Open error = %v, want ErrNotArchived", err)
		}
		if s.Exists(ctx, key) {
			t.Error("Exists = true for missing key")
		}
	})
}

func TestUploadReconcilerSweep(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	local := NewLocalStore(dir)
	// Written while S3 was not configured, or before a restart.
	SaveText(ctx, local, "aaaaaaaaaaa", "en", "primary", "one")
	SaveText(ctx, local, "bbbbbbbbbbb", "de", "job", "two")

	remote := newMemRemote()
	remote.Save(ctx, Key("bbbbbbbbbbb", "de", "job"), []byte("two"), textContentType)
	s := NewTieredStore(remote, local, zerolog.Nop())

	NewUploadReconciler(s, zerolog.Nop()).sweep(time.Now().Add(-time.Hour))

	if !remote.Exists(ctx, Key("aaaaaaaaaaa", "en", "primary")) {
		t.Error("sweep did not upload the missing transcript")
	}
	if s.Pending() != 0 {
		t.Errorf("Pending = %d after sweep, want 0", s.Pending())
	}
}
