package objectstore

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/sethvargo/go-retry"

	"mediapipe/internal/logging"
	"mediapipe/internal/models"
)

// Publisher wraps a Store with bounded retries for transient failures.
// Exhausted or permanent failures come back as *models.StorageError.
type Publisher struct {
	store    Store
	attempts uint64
	base     time.Duration
	logger   *slog.Logger
}

func NewPublisher(store Store, attempts uint64, base time.Duration, logger *slog.Logger) *Publisher {
	if attempts < 1 {
		attempts = 1
	}
	if base <= 0 {
		base = time.Millisecond
	}
	return &Publisher{
		store:    store,
		attempts: attempts,
		base:     base,
		logger:   logging.NewComponentLogger(logger, "publisher"),
	}
}

// Publish uploads data under key and returns its public URL.
func (p *Publisher) Publish(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	err := p.do(ctx, "put", key, func(ctx context.Context) error {
		return p.store.Put(ctx, key, data, contentType)
	})
	if err != nil {
		return "", err
	}
	return p.store.PublicURL(key), nil
}

func (p *Publisher) Remove(ctx context.Context, key string) error {
	return p.do(ctx, "delete", key, func(ctx context.Context) error {
		return p.store.Delete(ctx, key)
	})
}

func (p *Publisher) Fetch(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := p.do(ctx, "get", key, func(ctx context.Context) error {
		var err error
		data, err = p.store.Get(ctx, key)
		return err
	})
	return data, err
}

func (p *Publisher) PublicURL(key string) string {
	return p.store.PublicURL(key)
}

func (p *Publisher) do(ctx context.Context, op, key string, fn func(context.Context) error) error {
	attempt := 0
	backoff := retry.WithMaxRetries(p.attempts-1, retry.NewExponential(p.base))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		p.logger.Debug("storage call failed, retrying",
			slog.String("op", op),
			slog.String("key", key),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		return retry.RetryableError(err)
	})
	if err != nil {
		return &models.StorageError{Op: op, Key: key, Err: err}
	}
	return nil
}

// IsTransient reports whether err is worth retrying: server-side and
// throttling responses, and errors that never reached the service.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrObjectNotFound) {
		return false
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == 0 {
		return true
	}
	return resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests
}
