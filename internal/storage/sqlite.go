package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"mediapipe/internal/logging"
	"mediapipe/internal/models"
)

// Fixed width so text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite is the single-node catalog repository.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database file at path and migrates it.
func NewSQLite(path string, logger *slog.Logger) (*SQLite, error) {
	const op = "storage.NewSQLite"

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := RunMigrations(db, "sqlite3", logging.NewComponentLogger(logger, "migrations")); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) SaveAsset(ctx context.Context, a *models.AssetRecord) error {
	const op = "storage.SaveAsset"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO assets (id, filename, alt_text, usage_context, orientation, source_width, source_height,
			source_format, blur_placeholder, original_key, primary_variant_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			filename = excluded.filename,
			alt_text = excluded.alt_text,
			usage_context = excluded.usage_context,
			source_width = excluded.source_width,
			source_height = excluded.source_height,
			source_format = excluded.source_format,
			blur_placeholder = excluded.blur_placeholder,
			original_key = excluded.original_key,
			primary_variant_key = excluded.primary_variant_key,
			updated_at = excluded.updated_at`,
		a.ID.String(), a.Filename, a.AltText, string(a.Usage), string(a.Orientation), a.SourceWidth, a.SourceHeight,
		a.SourceFormat, a.BlurPlaceholder, a.OriginalKey, a.PrimaryVariantKey,
		a.CreatedAt.UTC().Format(sqliteTimeLayout), a.UpdatedAt.UTC().Format(sqliteTimeLayout))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM asset_variants WHERE asset_id = ?`, a.ID.String()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for i, v := range a.Variants {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO asset_variants (asset_id, position, breakpoint, codec, width, height, byte_size, storage_key, public_url, capped)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID.String(), i, v.Breakpoint, string(v.Codec), v.Width, v.Height, v.ByteSize, v.StorageKey, v.PublicURL, v.Capped)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteAsset(row rowScanner) (*models.AssetRecord, error) {
	var (
		a                      models.AssetRecord
		id, usage, orientation string
		createdAt, updatedAt   string
	)
	err := row.Scan(&id, &a.Filename, &a.AltText, &usage, &orientation, &a.SourceWidth, &a.SourceHeight,
		&a.SourceFormat, &a.BlurPlaceholder, &a.OriginalKey, &a.PrimaryVariantKey, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if a.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = time.Parse(sqliteTimeLayout, createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = time.Parse(sqliteTimeLayout, updatedAt); err != nil {
		return nil, err
	}
	a.Usage = models.UsageContext(usage)
	a.Orientation = models.Orientation(orientation)
	return &a, nil
}

func (s *SQLite) GetAsset(ctx context.Context, id uuid.UUID) (*models.AssetRecord, error) {
	const op = "storage.GetAsset"

	a, err := scanSQLiteAsset(s.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
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

func (s *SQLite) ListAssets(ctx context.Context, limit, offset int) ([]*models.AssetRecord, error) {
	const op = "storage.ListAssets"

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assetColumns+` FROM assets ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var out []*models.AssetRecord
	for rows.Next() {
		a, err := scanSQLiteAsset(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	rows.Close()

	for _, a := range out {
		if a.Variants, err = s.loadVariants(ctx, a.ID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return out, nil
}

func (s *SQLite) loadVariants(ctx context.Context, id uuid.UUID) ([]models.VariantRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT breakpoint, codec, width, height, byte_size, storage_key, public_url, capped
		 FROM asset_variants WHERE asset_id = ? ORDER BY position`, id.String())
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

func (s *SQLite) UpdateAltText(ctx context.Context, id uuid.UUID, text string, at time.Time) error {
	const op = "storage.UpdateAltText"
	res, err := s.db.ExecContext(ctx, `UPDATE assets SET alt_text = ?, updated_at = ? WHERE id = ?`,
		text, at.UTC().Format(sqliteTimeLayout), id.String())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return requireAffected(op, res)
}

func (s *SQLite) DeleteAsset(ctx context.Context, id uuid.UUID) error {
	const op = "storage.DeleteAsset"
	res, err := s.db.ExecContext(ctx, `DELETE FROM assets WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return requireAffected(op, res)
}

func requireAffected(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	return nil
}
