// internal/storage/postgres.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"mediapipe/internal/logging"
	"mediapipe/internal/models"
)

// Postgres is the catalog repository backed by a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
	db   *sql.DB // For migrations
}

func NewPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	const op = "storage.NewPostgres"

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	db := stdlib.OpenDBFromPool(pool)
	if err := RunMigrations(db, "postgres", logging.NewComponentLogger(logger, "migrations")); err != nil {
		db.Close()
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Postgres{pool: pool, db: db}, nil
}

func (s *Postgres) Close() error {
	err := s.db.Close()
	s.pool.Close()
	return err
}

func (s *Postgres) SaveAsset(ctx context.Context, a *models.AssetRecord) error {
	const op = "storage.SaveAsset"

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO assets (id, filename, alt_text, usage_context, orientation, source_width, source_height,
			source_format, blur_placeholder, original_key, primary_variant_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			filename = EXCLUDED.filename,
			alt_text = EXCLUDED.alt_text,
			usage_context = EXCLUDED.usage_context,
			source_width = EXCLUDED.source_width,
			source_height = EXCLUDED.source_height,
			source_format = EXCLUDED.source_format,
			blur_placeholder = EXCLUDED.blur_placeholder,
			original_key = EXCLUDED.original_key,
			primary_variant_key = EXCLUDED.primary_variant_key,
			updated_at = EXCLUDED.updated_at`,
		a.ID, a.Filename, a.AltText, string(a.Usage), string(a.Orientation), a.SourceWidth, a.SourceHeight,
		a.SourceFormat, a.BlurPlaceholder, a.OriginalKey, a.PrimaryVariantKey, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM asset_variants WHERE asset_id = $1`, a.ID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	batch := &pgx.Batch{}
	for i, v := range a.Variants {
		batch.Queue(
			`INSERT INTO asset_variants (asset_id, position, breakpoint, codec, width, height, byte_size, storage_key, public_url, capped)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			a.ID, i, v.Breakpoint, string(v.Codec), v.Width, v.Height, v.ByteSize, v.StorageKey, v.PublicURL, v.Capped)
	}
	br := tx.SendBatch(ctx, batch)
	for range a.Variants {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

const assetColumns = `id, filename, alt_text, usage_context, orientation, source_width, source_height,
	source_format, blur_placeholder, original_key, primary_variant_key, created_at, updated_at`

func scanAsset(row pgx.Row) (*models.AssetRecord, error) {
	var (
		a                  models.AssetRecord
		usage, orientation string
	)
	err := row.Scan(&a.ID, &a.Filename, &a.AltText, &usage, &orientation, &a.SourceWidth, &a.SourceHeight,
		&a.SourceFormat, &a.BlurPlaceholder, &a.OriginalKey, &a.PrimaryVariantKey, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Usage = models.UsageContext(usage)
	a.Orientation = models.Orientation(orientation)
	return &a, nil
}

func (s *Postgres) GetAsset(ctx context.Context, id uuid.UUID) (*models.AssetRecord, error) {
	const op = "storage.GetAsset"

	a, err := scanAsset(s.pool.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if a.Variants, err = s.loadVariants(ctx, id); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return a, nil
}

func (s *Postgres) ListAssets(ctx context.Context, limit, offset int) ([]*models.AssetRecord, error) {
	const op = "storage.ListAssets"

	rows, err := s.pool.Query(ctx,
		`SELECT `+assetColumns+` FROM assets ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var out []*models.AssetRecord
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for _, a := range out {
		if a.Variants, err = s.loadVariants(ctx, a.ID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return out, nil
}

func (s *Postgres) loadVariants(ctx context.Context, id uuid.UUID) ([]models.VariantRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT breakpoint, codec, width, height, byte_size, storage_key, public_url, capped
		 FROM asset_variants WHERE asset_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var variants []models.VariantRecord
	for rows.Next() {
		var (
			v     models.VariantRecord
			codec string
		)
		if err := rows.Scan(&v.Breakpoint, &codec, &v.Width, &v.Height, &v.ByteSize, &v.StorageKey, &v.PublicURL, &v.Capped); err != nil {
			return nil, err
		}
		v.Codec = models.Codec(codec)
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

func (s *Postgres) UpdateAltText(ctx context.Context, id uuid.UUID, text string, at time.Time) error {
	const op = "storage.UpdateAltText"
	tag, err := s.pool.Exec(ctx, `UPDATE assets SET alt_text = $2, updated_at = $3 WHERE id = $1`, id, text, at)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	return nil
}

func (s *Postgres) DeleteAsset(ctx context.Context, id uuid.UUID) error {
	const op = "storage.DeleteAsset"
	tag, err := s.pool.Exec(ctx, `DELETE FROM assets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	return nil
}
