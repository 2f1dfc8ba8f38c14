package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tink/internal/models"
)

const organizationColumns = `id, name, description, logo, responsible_name, responsible_email, responsible_phone,
	instagram_url, facebook_url, website_url, status, created_at, updated_at`

var organizationSortColumns = map[string]string{
	"name":      "name",
	"createdAt": "created_at",
}

type OrganizationFilter struct {
	Name            string
	IncludeArchived bool
	SortBy          string
	SortDesc        bool
	Page            Page
}

type OrganizationRepository struct {
	q DBTX
}

func NewOrganizationRepository(q DBTX) *OrganizationRepository {
	return &OrganizationRepository{q: q}
}

func (r *OrganizationRepository) Create(ctx context.Context, org *models.Organization) error {
	org.ID = NewID()
	org.Status = models.StatusActive
	org.CreatedAt = time.Now().UTC()

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO organizations (`+organizationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		org.ID, org.Name, org.Description, org.Logo, org.ResponsibleName, org.ResponsibleEmail,
		org.ResponsiblePhone, org.InstagramURL, org.FacebookURL, org.WebsiteURL,
		string(org.Status), org.CreatedAt, nil,
	)
	if err != nil {
		return fmt.Errorf("creating organization: %w", err)
	}
	return nil
}

func (r *OrganizationRepository) FindByID(ctx context.Context, id string) (*models.Organization, error) {
	org, err := scanOrganization(r.q.QueryRowContext(ctx, `SELECT `+organizationColumns+` FROM organizations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying organization: %w", err)
	}
	return org, nil
}

// Exists reports whether an active organization with the id exists.
func (r *OrganizationRepository) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM organizations WHERE id = ? AND status = ?`,
		id, string(models.StatusActive),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking organization: %w", err)
	}
	return count > 0, nil
}

func (r *OrganizationRepository) List(ctx context.Context, f OrganizationFilter) ([]*models.Organization, Pagination, error) {
	var where whereBuilder
	if f.Name != "" {
		where.add(`LOWER(name) LIKE ? ESCAPE '\'`, likePattern(f.Name))
	}
	if !f.IncludeArchived {
		where.add(`status = ?`, string(models.StatusActive))
	}

	var total int64
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM organizations`+where.sql(), where.args...).Scan(&total); err != nil {
		return nil, Pagination{}, fmt.Errorf("counting organizations: %w", err)
	}

	page := f.Page.normalize()
	args := append(append([]any{}, where.args...), page.Limit, page.Offset())
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+organizationColumns+` FROM organizations`+where.sql()+
			` ORDER BY `+orderClause(organizationSortColumns, f.SortBy, "name", f.SortDesc)+`, id LIMIT ? OFFSET ?`,
		args...,
	)
	if err != nil {
		return nil, Pagination{}, fmt.Errorf("querying organizations: %w", err)
	}
	defer rows.Close()

	orgs := []*models.Organization{}
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, Pagination{}, fmt.Errorf("scanning organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	if err := rows.Err(); err != nil {
		return nil, Pagination{}, err
	}

	return orgs, newPagination(total, page), nil
}

func (r *OrganizationRepository) Update(ctx context.Context, org *models.Organization) error {
	now := time.Now().UTC()
	result, err := r.q.ExecContext(ctx,
		`UPDATE organizations
		    SET name = ?, description = ?, logo = ?, responsible_name = ?, responsible_email = ?,
		        responsible_phone = ?, instagram_url = ?, facebook_url = ?, website_url = ?, updated_at = ?
		  WHERE id = ?`,
		org.Name, org.Description, org.Logo, org.ResponsibleName, org.ResponsibleEmail,
		org.ResponsiblePhone, org.InstagramURL, org.FacebookURL, org.WebsiteURL, now, org.ID,
	)
	if err != nil {
		return fmt.Errorf("updating organization: %w", err)
	}
	org.UpdatedAt = &now
	return checkRowsAffected(result)
}

func (r *OrganizationRepository) SetStatus(ctx context.Context, id string, status models.Status) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE organizations SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating organization status: %w", err)
	}
	return checkRowsAffected(result)
}

func scanOrganization(row rowScanner) (*models.Organization, error) {
	var org models.Organization
	var logo, phone, instagram, facebook, website sql.NullString
	var status string
	var updatedAt sql.NullTime

	if err := row.Scan(
		&org.ID,
		&org.Name,
		&org.Description,
		&logo,
		&org.ResponsibleName,
		&org.ResponsibleEmail,
		&phone,
		&instagram,
		&facebook,
		&website,
		&status,
		&org.CreatedAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	org.Logo = nullStringToPtr(logo)
	org.ResponsiblePhone = nullStringToPtr(phone)
	org.InstagramURL = nullStringToPtr(instagram)
	org.FacebookURL = nullStringToPtr(facebook)
	org.WebsiteURL = nullStringToPtr(website)
	org.Status = models.Status(status)
	org.CreatedAt = org.CreatedAt.UTC()
	org.UpdatedAt = nullTimeToPtr(updatedAt)
	return &org, nil
}
