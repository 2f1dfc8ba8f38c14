package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tink/internal/models"
)

const projectSelect = `SELECT p.id, p.title, p.description, p.start_date, p.end_date, p.max_amount, p.country, p.city,
	p.expected_impact, p.organization_id, p.featured, p.status, p.created_at, p.updated_at,
	o.name, o.logo
	FROM projects p
	JOIN organizations o ON o.id = p.organization_id`

var projectSortColumns = map[string]string{
	"createdAt": "p.created_at",
	"title":     "p.title",
	"startDate": "p.start_date",
}

type ProjectFilter struct {
	Title           string
	Country         string
	OrganizationID  string
	CategoryID      string
	StartFrom       *time.Time
	EndUntil        *time.Time
	Featured        *bool
	IncludeArchived bool
	SortBy          string
	SortDesc        bool
	Page            Page
}

type ProjectRepository struct {
	q DBTX
}

func NewProjectRepository(q DBTX) *ProjectRepository {
	return &ProjectRepository{q: q}
}

func (r *ProjectRepository) WithTx(tx DBTX) *ProjectRepository {
	return &ProjectRepository{q: tx}
}

func (r *ProjectRepository) Create(ctx context.Context, p *models.Project) error {
	p.ID = NewID()
	p.Status = models.StatusActive
	p.CreatedAt = time.Now().UTC()

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO projects (id, title, description, start_date, end_date, max_amount, country, city,
			expected_impact, organization_id, featured, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Description, p.StartDate.UTC(), timePtrUTC(p.EndDate), p.MaxAmount, p.Country, p.City,
		p.ExpectedImpact, p.OrganizationID, p.Featured, string(p.Status), p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating project: %w", err)
	}
	return nil
}

func (r *ProjectRepository) Update(ctx context.Context, p *models.Project) error {
	now := time.Now().UTC()
	result, err := r.q.ExecContext(ctx,
		`UPDATE projects
		    SET title = ?, description = ?, start_date = ?, end_date = ?, max_amount = ?, country = ?, city = ?,
		        expected_impact = ?, organization_id = ?, featured = ?, updated_at = ?
		  WHERE id = ?`,
		p.Title, p.Description, p.StartDate.UTC(), timePtrUTC(p.EndDate), p.MaxAmount, p.Country, p.City,
		p.ExpectedImpact, p.OrganizationID, p.Featured, now, p.ID,
	)
	if err != nil {
		return fmt.Errorf("updating project: %w", err)
	}
	p.UpdatedAt = &now
	return checkRowsAffected(result)
}

func (r *ProjectRepository) SetStatus(ctx context.Context, id string, status models.Status) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE projects SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating project status: %w", err)
	}
	return checkRowsAffected(result)
}

// SetCategories replaces the category set of a project. Unknown category ids
// are ignored.
func (r *ProjectRepository) SetCategories(ctx context.Context, projectID string, categoryIDs []string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM project_categories WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("clearing project categories: %w", err)
	}
	seen := make(map[string]struct{}, len(categoryIDs))
	for _, id := range categoryIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		_, err := r.q.ExecContext(ctx,
			`INSERT INTO project_categories (project_id, category_id)
			 SELECT CAST(? AS TEXT), id FROM categories WHERE id = ?`,
			projectID, id,
		)
		if err != nil {
			return fmt.Errorf("linking project category: %w", err)
		}
	}
	return nil
}

func (r *ProjectRepository) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM projects WHERE id = ? AND status = ?`,
		id, string(models.StatusActive),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking project: %w", err)
	}
	return count > 0, nil
}

func (r *ProjectRepository) FindByID(ctx context.Context, id string) (*models.Project, error) {
	p, err := scanProject(r.q.QueryRowContext(ctx, projectSelect+` WHERE p.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying project: %w", err)
	}
	if err := r.attachCategories(ctx, []*models.Project{p}); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *ProjectRepository) List(ctx context.Context, f ProjectFilter) ([]*models.Project, Pagination, error) {
	var where whereBuilder
	if f.Title != "" {
		where.add(`LOWER(p.title) LIKE ? ESCAPE '\'`, likePattern(f.Title))
	}
	if f.Country != "" {
		where.add(`LOWER(p.country) LIKE ? ESCAPE '\'`, likePattern(f.Country))
	}
	if f.OrganizationID != "" {
		where.add(`p.organization_id = ?`, f.OrganizationID)
	}
	if f.CategoryID != "" {
		where.add(`EXISTS (SELECT 1 FROM project_categories pc WHERE pc.project_id = p.id AND pc.category_id = ?)`, f.CategoryID)
	}
	if f.StartFrom != nil {
		where.add(`p.start_date >= ?`, f.StartFrom.UTC())
	}
	if f.EndUntil != nil {
		where.add(`p.end_date <= ?`, f.EndUntil.UTC())
	}
	if f.Featured != nil {
		where.add(`p.featured = ?`, *f.Featured)
	}
	if !f.IncludeArchived {
		where.add(`p.status = ?`, string(models.StatusActive))
	}

	var total int64
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects p`+where.sql(), where.args...).Scan(&total); err != nil {
		return nil, Pagination{}, fmt.Errorf("counting projects: %w", err)
	}

	page := f.Page.normalize()
	args := append(append([]any{}, where.args...), page.Limit, page.Offset())
	rows, err := r.q.QueryContext(ctx,
		projectSelect+where.sql()+
			` ORDER BY `+orderClause(projectSortColumns, f.SortBy, "createdAt", f.SortDesc)+`, p.id LIMIT ? OFFSET ?`,
		args...,
	)
	if err != nil {
		return nil, Pagination{}, fmt.Errorf("querying projects: %w", err)
	}
	defer rows.Close()

	projects := []*models.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, Pagination{}, fmt.Errorf("scanning project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, Pagination{}, err
	}

	if err := r.attachCategories(ctx, projects); err != nil {
		return nil, Pagination{}, err
	}

	return projects, newPagination(total, page), nil
}

func (r *ProjectRepository) attachCategories(ctx context.Context, projects []*models.Project) error {
	if len(projects) == 0 {
		return nil
	}

	byID := make(map[string]*models.Project, len(projects))
	args := make([]any, 0, len(projects))
	for _, p := range projects {
		p.Categories = []models.CategorySummary{}
		byID[p.ID] = p
		args = append(args, p.ID)
	}

	rows, err := r.q.QueryContext(ctx,
		`SELECT pc.project_id, c.id, c.name
		   FROM project_categories pc
		   JOIN categories c ON c.id = pc.category_id
		  WHERE pc.project_id IN (`+placeholders(len(args))+`)
		  ORDER BY c.name`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("querying project categories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var projectID string
		var c models.CategorySummary
		if err := rows.Scan(&projectID, &c.ID, &c.Name); err != nil {
			return fmt.Errorf("scanning project category: %w", err)
		}
		if p, ok := byID[projectID]; ok {
			p.Categories = append(p.Categories, c)
		}
	}
	return rows.Err()
}

func scanProject(row rowScanner) (*models.Project, error) {
	var p models.Project
	var endDate, updatedAt sql.NullTime
	var maxAmount sql.NullFloat64
	var status, orgName string
	var orgLogo sql.NullString

	if err := row.Scan(
		&p.ID,
		&p.Title,
		&p.Description,
		&p.StartDate,
		&endDate,
		&maxAmount,
		&p.Country,
		&p.City,
		&p.ExpectedImpact,
		&p.OrganizationID,
		&p.Featured,
		&status,
		&p.CreatedAt,
		&updatedAt,
		&orgName,
		&orgLogo,
	); err != nil {
		return nil, err
	}

	p.StartDate = p.StartDate.UTC()
	p.EndDate = nullTimeToPtr(endDate)
	p.MaxAmount = nullFloatToPtr(maxAmount)
	p.Status = models.Status(status)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = nullTimeToPtr(updatedAt)
	p.Organization = &models.OrganizationSummary{
		ID:   p.OrganizationID,
		Name: orgName,
		Logo: nullStringToPtr(orgLogo),
	}
	return &p, nil
}
