package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tink/internal/models"
)

const imageColumns = `id, entity_id, entity_type, filename, path, size, mimetype, is_main, created_at, updated_at`

type ImageRepository struct {
	q DBTX
}

func NewImageRepository(q DBTX) *ImageRepository {
	return &ImageRepository{q: q}
}

func (r *ImageRepository) WithTx(tx DBTX) *ImageRepository {
	return &ImageRepository{q: tx}
}

func (r *ImageRepository) Create(ctx context.Context, img *models.Image) error {
	if img.ID == "" {
		img.ID = NewID()
	}
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now().UTC()
	}

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO images (`+imageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		img.ID, img.EntityID, string(img.EntityType), img.Filename, img.Path,
		img.Size, img.MimeType, img.IsMain, img.CreatedAt.UTC(), nil,
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("creating image: %w", err)
	}
	return nil
}

func (r *ImageRepository) FindByID(ctx context.Context, id string) (*models.Image, error) {
	img, err := scanImage(r.q.QueryRowContext(ctx, `SELECT `+imageColumns+` FROM images WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying image: %w", err)
	}
	return img, nil
}

func (r *ImageRepository) ListForEntity(ctx context.Context, ref models.EntityRef) ([]*models.Image, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+imageColumns+` FROM images WHERE entity_type = ? AND entity_id = ? ORDER BY created_at, id`,
		string(ref.Kind), ref.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying images: %w", err)
	}
	defer rows.Close()

	images := []*models.Image{}
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning image: %w", err)
		}
		images = append(images, img)
	}

	return images, rows.Err()
}

func (r *ImageRepository) FindMain(ctx context.Context, ref models.EntityRef) (*models.Image, error) {
	img, err := scanImage(r.q.QueryRowContext(ctx,
		`SELECT `+imageColumns+` FROM images WHERE entity_type = ? AND entity_id = ? AND is_main = ?`,
		string(ref.Kind), ref.ID, true,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying main image: %w", err)
	}
	return img, nil
}

// ClearMain unsets is_main on every image of the entity.
func (r *ImageRepository) ClearMain(ctx context.Context, ref models.EntityRef) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE images SET is_main = ?, updated_at = ? WHERE entity_type = ? AND entity_id = ? AND is_main = ?`,
		false, time.Now().UTC(), string(ref.Kind), ref.ID, true,
	)
	if err != nil {
		return fmt.Errorf("clearing main image: %w", err)
	}
	return nil
}

func (r *ImageRepository) SetMain(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE images SET is_main = ?, updated_at = ? WHERE id = ?`,
		true, time.Now().UTC(), id,
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("setting main image: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *ImageRepository) Delete(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM images WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting image: %w", err)
	}
	return checkRowsAffected(result)
}

// ListForEntities loads images of many owners of one kind, grouped by entity id.
func (r *ImageRepository) ListForEntities(ctx context.Context, kind models.EntityKind, ids []string) (map[string][]*models.Image, error) {
	out := make(map[string][]*models.Image, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, string(kind))
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := r.q.QueryContext(ctx,
		`SELECT `+imageColumns+` FROM images WHERE entity_type = ? AND entity_id IN (`+placeholders(len(ids))+`) ORDER BY created_at, id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying images: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning image: %w", err)
		}
		out[img.EntityID] = append(out[img.EntityID], img)
	}

	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(row rowScanner) (*models.Image, error) {
	var img models.Image
	var entityType string
	var updatedAt sql.NullTime

	if err := row.Scan(
		&img.ID,
		&img.EntityID,
		&entityType,
		&img.Filename,
		&img.Path,
		&img.Size,
		&img.MimeType,
		&img.IsMain,
		&img.CreatedAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	img.EntityType = models.EntityKind(entityType)
	img.CreatedAt = img.CreatedAt.UTC()
	img.UpdatedAt = nullTimeToPtr(updatedAt)
	return &img, nil
}
