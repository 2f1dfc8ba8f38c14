package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tink/internal/models"
)

const categoryColumns = `id, name, description, color, created_at, updated_at`

type CategoryRepository struct {
	q DBTX
}

func NewCategoryRepository(q DBTX) *CategoryRepository {
	return &CategoryRepository{q: q}
}

func (r *CategoryRepository) Create(ctx context.Context, c *models.Category) error {
	c.ID = NewID()
	c.CreatedAt = time.Now().UTC()

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO categories (`+categoryColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Description, c.Color, c.CreatedAt, nil,
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("creating category: %w", err)
	}
	return nil
}

func (r *CategoryRepository) FindByID(ctx context.Context, id string) (*models.Category, error) {
	c, err := scanCategory(r.q.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying category: %w", err)
	}
	return c, nil
}

// NameTaken reports whether another category already uses name, ignoring case.
func (r *CategoryRepository) NameTaken(ctx context.Context, name, exceptID string) (bool, error) {
	var count int64
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM categories WHERE LOWER(name) = LOWER(?) AND id <> ?`,
		name, exceptID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking category name: %w", err)
	}
	return count > 0, nil
}

func (r *CategoryRepository) List(ctx context.Context) ([]*models.Category, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+categoryColumns+` FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying categories: %w", err)
	}
	defer rows.Close()

	categories := []*models.Category{}
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (r *CategoryRepository) Update(ctx context.Context, c *models.Category) error {
	now := time.Now().UTC()
	result, err := r.q.ExecContext(ctx,
		`UPDATE categories SET name = ?, description = ?, color = ?, updated_at = ? WHERE id = ?`,
		c.Name, c.Description, c.Color, now, c.ID,
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("updating category: %w", err)
	}
	c.UpdatedAt = &now
	return checkRowsAffected(result)
}

func (r *CategoryRepository) CountProjects(ctx context.Context, id string) (int64, error) {
	var count int64
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM project_categories WHERE category_id = ?`, id).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting category projects: %w", err)
	}
	return count, nil
}

func (r *CategoryRepository) Delete(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting category: %w", err)
	}
	return checkRowsAffected(result)
}

func scanCategory(row rowScanner) (*models.Category, error) {
	var c models.Category
	var description, color sql.NullString
	var updatedAt sql.NullTime

	if err := row.Scan(&c.ID, &c.Name, &description, &color, &c.CreatedAt, &updatedAt); err != nil {
		return nil, err
	}

	c.Description = nullStringToPtr(description)
	c.Color = nullStringToPtr(color)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = nullTimeToPtr(updatedAt)
	return &c, nil
}
