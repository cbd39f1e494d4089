package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/quam/quam-engine/internal/config"
	"github.com/rs/zerolog"
)

// Archive is where finished transcripts are kept. Keys come from Key.
type Archive interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
	// LocalPath is the on-disk file for key, or "" when the backend has none.
	LocalPath(key string) string
	// URL is a time-limited download link, or "" for disk-only backends.
	URL(ctx context.Context, key string) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) bool
	Type() string
}

const textContentType = "text/plain; charset=utf-8"

// Key builds the archive key for a transcript. Path separators inside the
// parts are replaced so a key is always exactly three segments deep.
func Key(videoID, lang, source string) string {
	if lang == "" {
		lang = "und"
	}
	clean := func(s string) string {
		return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
	}
	return path.Join(clean(videoID), clean(lang), clean(source)+".txt")
}

// SaveText stores a transcript under Key(videoID, lang, source) and returns the key.
func SaveText(ctx context.Context, a Archive, videoID, lang, source, text string) (string, error) {
	key := Key(videoID, lang, source)
	if err := a.Save(ctx, key, []byte(text), textContentType); err != nil {
		return "", fmt.Errorf("archive %s: %w", key, err)
	}
	return key, nil
}

// New picks the archive backend:
//
//	no S3, no dir      nil (archiving off)
//	no S3, dir         LocalStore
//	S3                 S3Store
//	S3 + S3_LOCAL_CACHE  TieredStore, plus its UploadReconciler
//
// S3 is probed with HeadBucket so bad credentials fail at startup.
func New(cfg config.S3Config, archiveDir string, log zerolog.Logger) (Archive, []BackgroundService, error) {
	if !cfg.Enabled() {
		if archiveDir == "" {
			return nil, nil, nil
		}
		return NewLocalStore(archiveDir), nil, nil
	}

	bucket, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("s3 archive: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := bucket.HeadBucket(ctx); err != nil {
		return nil, nil, fmt.Errorf("s3 bucket %q at %q unreachable: %w", cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 archive reachable")

	if !cfg.LocalCache {
		return bucket, nil, nil
	}
	tiered := NewTieredStore(bucket, NewLocalStore(archiveDir), log)
	return tiered, []BackgroundService{NewUploadReconciler(tiered, log)}, nil
}

// BackgroundService is a loop the caller starts after wiring and stops on shutdown.
type BackgroundService interface {
	Start()
	Stop()
}
