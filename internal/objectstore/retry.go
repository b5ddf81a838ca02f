package objectstore

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds DownloadWithRetry. Freshly uploaded objects can take
// a moment to become visible, so only not-found errors are retried.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 6, InitialInterval: 500 * time.Millisecond, MaxInterval: 5 * time.Second}
}

// DownloadWithRetry downloads key to dest, retrying not-found errors with
// exponential backoff. Any other error fails immediately.
func DownloadWithRetry(ctx context.Context, s Store, key, dest string, p RetryPolicy) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		err := s.Download(ctx, key, dest)
		if err == nil {
			return nil
		}
		if !IsNotFound(err) {
			return backoff.Permanent(err)
		}
		if attempt < p.MaxAttempts {
			log.Printf("Object %s not visible yet (attempt %d/%d)", key, attempt, p.MaxAttempts)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx))
}
