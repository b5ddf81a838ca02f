// Package objectstore reads uploaded photos from and writes curated
// exports to an S3 compatible bucket, or a local directory when no bucket
// is configured.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio"

	"github.com/kozaktomas/album-curator/internal/config"
)

var ErrNotFound = errors.New("object not found")

// NotFoundError is returned when a key does not exist (yet).
type NotFoundError struct {
	Key string
	Err error
}

func (e *NotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("object %q not found: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("object %q not found", e.Key)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Store is the subset of object storage the pipeline needs.
type Store interface {
	Download(ctx context.Context, key, dest string) error
	Upload(ctx context.Context, key, src, contentType string) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	Name() string
}

// New returns the S3 store when credentials are configured and the local
// store otherwise.
func New(ctx context.Context, cfg *config.StorageConfig) (Store, error) {
	if cfg.S3Enabled() {
		return NewS3Store(ctx, cfg)
	}
	return NewLocalStore(cfg.LocalDir), nil
}

// writeAtomically streams r into dest, replacing it only when complete.
func writeAtomically(dest string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	t, err := renameio.TempFile("", dest)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer t.Cleanup()

	if _, err := io.Copy(t, r); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(dest), err)
	}
	return t.CloseAtomicallyReplace()
}
