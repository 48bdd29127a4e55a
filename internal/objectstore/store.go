// Package objectstore publishes encoded variants to object storage under
// deterministic keys and removes them again on delete.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"mediapipe/internal/models"
)

var ErrObjectNotFound = errors.New("object not found")

// Store is the object storage service the pipeline consumes. Put overwrites
// an existing key.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
}

// VariantKey is the storage key for one variant. It depends only on its
// arguments, so reprocessing an asset overwrites its objects in place.
func VariantKey(assetID uuid.UUID, breakpoint string, codec models.Codec) string {
	return fmt.Sprintf("assets/%s/%s.%s", assetID, breakpoint, codec.Extension())
}

func OriginalKey(assetID uuid.UUID, ext string) string {
	return fmt.Sprintf("assets/%s/original.%s", assetID, ext)
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}
