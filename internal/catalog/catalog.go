// Package catalog is the queryable record of processed assets. It assembles
// settled variant results into one AssetRecord, picks the primary variant,
// and cascades deletes to object storage.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"mediapipe/internal/logging"
	"mediapipe/internal/models"
)

const maxAltTextLength = 1000

var ErrNoVariants = errors.New("asset has no variants")

// Repository is the metadata persistence store.
type Repository interface {
	SaveAsset(ctx context.Context, a *models.AssetRecord) error
	GetAsset(ctx context.Context, id uuid.UUID) (*models.AssetRecord, error)
	ListAssets(ctx context.Context, limit, offset int) ([]*models.AssetRecord, error)
	UpdateAltText(ctx context.Context, id uuid.UUID, text string, at time.Time) error
	DeleteAsset(ctx context.Context, id uuid.UUID) error
}

// ObjectRemover deletes stored objects by key.
type ObjectRemover interface {
	Remove(ctx context.Context, key string) error
}

type Catalog struct {
	repo    Repository
	objects ObjectRemover
	logger  *slog.Logger
	now     func() time.Time
}

func New(repo Repository, objects ObjectRemover, logger *slog.Logger) *Catalog {
	return &Catalog{
		repo:    repo,
		objects: objects,
		logger:  logging.NewComponentLogger(logger, "catalog"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

var assetNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("mediapipe/assets"))

// NormalizeFilename is the identity used for an upload: base name, trimmed, lower case.
func NormalizeFilename(filename string) string {
	return strings.ToLower(strings.TrimSpace(filepath.Base(filename)))
}

// AssetID derives the asset id from the filename so re-uploading the same
// file addresses the same record and storage keys.
func AssetID(filename string) uuid.UUID {
	return uuid.NewSHA1(assetNamespace, []byte(NormalizeFilename(filename)))
}

// Upsert writes a fully assembled record, replacing any previous record with
// the same id wholesale. Creation time, orientation and (when the new record
// has none) alt text carry over. Objects the previous record owned that the
// new one does not are deleted after the commit.
func (c *Catalog) Upsert(ctx context.Context, a *models.AssetRecord) (*models.AssetRecord, error) {
	if len(a.Variants) == 0 {
		return nil, &models.CatalogWriteError{AssetID: a.ID.String(), Err: ErrNoVariants}
	}
	if a.Primary() == nil {
		return nil, &models.CatalogWriteError{AssetID: a.ID.String(), Err: fmt.Errorf("primary variant %q not among variants", a.PrimaryVariantKey)}
	}

	prev, err := c.repo.GetAsset(ctx, a.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, &models.CatalogWriteError{AssetID: a.ID.String(), Err: err}
	}

	now := c.now()
	record := *a
	record.Variants = append([]models.VariantRecord(nil), a.Variants...)
	record.UpdatedAt = now
	record.CreatedAt = now
	if prev != nil {
		record.CreatedAt = prev.CreatedAt
		record.Orientation = prev.Orientation
		if record.AltText == "" {
			record.AltText = prev.AltText
		}
	}

	if err := c.repo.SaveAsset(ctx, &record); err != nil {
		return nil, &models.CatalogWriteError{AssetID: a.ID.String(), Err: err}
	}

	if prev != nil {
		c.removeKeys(ctx, record.ID, staleKeys(prev, &record), "superseded")
	}
	return &record, nil
}

func staleKeys(prev, next *models.AssetRecord) []string {
	keep := make(map[string]bool)
	for _, k := range next.StorageKeys() {
		keep[k] = true
	}
	var stale []string
	for _, k := range prev.StorageKeys() {
		if !keep[k] {
			stale = append(stale, k)
		}
	}
	return stale
}

func (c *Catalog) Get(ctx context.Context, id uuid.UUID) (*models.AssetRecord, error) {
	return c.repo.GetAsset(ctx, id)
}

func (c *Catalog) List(ctx context.Context, limit, offset int) ([]*models.AssetRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return c.repo.ListAssets(ctx, limit, offset)
}

// UpdateAltText changes the only field that is mutable without reprocessing.
func (c *Catalog) UpdateAltText(ctx context.Context, id uuid.UUID, text string) (*models.AssetRecord, error) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > maxAltTextLength {
		return nil, &models.ValidationError{Field: "alt_text", Reason: fmt.Sprintf("longer than %d characters", maxAltTextLength)}
	}
	if err := c.repo.UpdateAltText(ctx, id, text, c.now()); err != nil {
		return nil, err
	}
	return c.repo.GetAsset(ctx, id)
}

// Delete removes the catalog row and then every object it owned. Storage
// failures are logged; the row stays deleted.
func (c *Catalog) Delete(ctx context.Context, id uuid.UUID) (*models.AssetRecord, error) {
	a, err := c.repo.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.repo.DeleteAsset(ctx, id); err != nil {
		return nil, err
	}
	c.removeKeys(ctx, id, a.StorageKeys(), "deleted")
	return a, nil
}

func (c *Catalog) removeKeys(ctx context.Context, id uuid.UUID, keys []string, reason string) {
	var errs error
	for _, key := range keys {
		if err := c.objects.Remove(ctx, key); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		c.logger.Warn("storage cleanup incomplete",
			slog.String("asset_id", id.String()),
			slog.String("reason", reason),
			slog.Int("keys", len(keys)),
			slog.Int("failed", len(multierr.Errors(errs))),
			slog.Any("error", errs),
		)
		return
	}
	if len(keys) > 0 {
		c.logger.Debug("storage objects removed",
			slog.String("asset_id", id.String()),
			slog.String("reason", reason),
			slog.Int("keys", len(keys)),
		)
	}
}
