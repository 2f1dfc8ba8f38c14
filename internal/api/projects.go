package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"tink/internal/db"
	"tink/internal/models"
)

type ProjectHandler struct {
	database     *db.DB
	projects     *db.ProjectRepository
	orgs         *db.OrganizationRepository
	images       ImageLister
	queryTimeout time.Duration
}

func NewProjectHandler(database *db.DB, images ImageLister, queryTimeout time.Duration) *ProjectHandler {
	return &ProjectHandler{
		database:     database,
		projects:     db.NewProjectRepository(database.Handle()),
		orgs:         db.NewOrganizationRepository(database.Handle()),
		images:       images,
		queryTimeout: queryTimeout,
	}
}

type ProjectResponse struct {
	*models.Project
	Images       []*models.Image `json:"images"`
	MainImageURL *string         `json:"mainImageUrl"`
}

type ProjectListResponse struct {
	Projects   []ProjectResponse `json:"projects"`
	Pagination db.Pagination     `json:"pagination"`
}

// GET /api/projects
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	q, err := parseListQuery(values)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	switch q.SortBy {
	case "", "createdAt", "title", "startDate":
	default:
		badRequest(w, "sortBy must be one of: createdAt title startDate")
		return
	}

	filter := db.ProjectFilter{
		Title:           strings.TrimSpace(values.Get("title")),
		Country:         strings.TrimSpace(values.Get("country")),
		OrganizationID:  strings.TrimSpace(values.Get("organizationId")),
		CategoryID:      strings.TrimSpace(values.Get("categoryId")),
		IncludeArchived: q.IncludeArchived,
		SortBy:          q.SortBy,
		SortDesc:        q.desc(),
		Page:            q.page(),
	}
	if filter.StartFrom, err = queryDate(values, "startDate"); err != nil {
		badRequest(w, err.Error())
		return
	}
	if filter.EndUntil, err = queryDate(values, "endDate"); err != nil {
		badRequest(w, err.Error())
		return
	}
	if filter.Featured, err = queryBool(values, "featured"); err != nil {
		badRequest(w, err.Error())
		return
	}

	ctx, cancel := withTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	projects, pagination, err := h.projects.List(ctx, filter)
	if err != nil {
		serverError(w, r, "error listing projects", err)
		return
	}

	ids := make([]string, 0, len(projects))
	for _, p := range projects {
		ids = append(ids, p.ID)
	}
	images, err := h.images.ImagesFor(ctx, models.EntityProject, ids)
	if err != nil {
		serverError(w, r, "error loading project images", err)
		return
	}

	resp := ProjectListResponse{
		Projects:   make([]ProjectResponse, 0, len(projects)),
		Pagination: pagination,
	}
	for _, p := range projects {
		resp.Projects = append(resp.Projects, ProjectResponse{
			Project:      p,
			Images:       nonNilImages(images[p.ID]),
			MainImageURL: mainImageURL(images[p.ID]),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// GET /api/projects/{id}
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	p, err := h.projects.FindByID(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Project not found")
		return
	}
	if err != nil {
		serverError(w, r, "error finding project", err)
		return
	}

	h.writeProject(w, r, http.StatusOK, p)
}

type CreateProjectRequest struct {
	Title          string   `json:"title" validate:"required,max=200"`
	Description    string   `json:"description" validate:"required,max=10000"`
	StartDate      string   `json:"startDate" validate:"required"`
	EndDate        *string  `json:"endDate"`
	MaxAmount      *float64 `json:"maxAmount" validate:"omitempty,gt=0"`
	Country        string   `json:"country" validate:"required,max=100"`
	City           string   `json:"city" validate:"required,max=100"`
	ExpectedImpact string   `json:"expectedImpact" validate:"max=5000"`
	OrganizationID string   `json:"organizationId" validate:"required"`
	Featured       bool     `json:"featured"`
	CategoryIDs    []string `json:"categoryIds" validate:"max=20,dive,required"`
}

// POST /api/projects
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	p := &models.Project{
		Title:          sanitizeText(req.Title),
		Description:    sanitizeText(req.Description),
		MaxAmount:      req.MaxAmount,
		Country:        sanitizeText(req.Country),
		City:           sanitizeText(req.City),
		ExpectedImpact: sanitizeText(req.ExpectedImpact),
		OrganizationID: strings.TrimSpace(req.OrganizationID),
		Featured:       req.Featured,
	}

	start, err := parseDate(req.StartDate)
	if err != nil {
		badRequest(w, "startDate must be a date (YYYY-MM-DD)")
		return
	}
	p.StartDate = start
	if req.EndDate != nil {
		end, err := parseDate(*req.EndDate)
		if err != nil {
			badRequest(w, "endDate must be a date (YYYY-MM-DD)")
			return
		}
		p.EndDate = &end
	}
	if msg := validateProject(p); msg != "" {
		badRequest(w, msg)
		return
	}

	ctx, cancel := withTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	if !h.organizationExists(ctx, w, r, p.OrganizationID) {
		return
	}

	err = h.database.WithTx(ctx, func(tx db.DBTX) error {
		projects := h.projects.WithTx(tx)
		if err := projects.Create(ctx, p); err != nil {
			return err
		}
		return projects.SetCategories(ctx, p.ID, req.CategoryIDs)
	})
	if err != nil {
		serverError(w, r, "error creating project", err)
		return
	}

	h.reload(w, r, http.StatusCreated, p.ID)
}

type UpdateProjectRequest struct {
	Title          *string   `json:"title" validate:"omitempty,min=1,max=200"`
	Description    *string   `json:"description" validate:"omitempty,min=1,max=10000"`
	StartDate      *string   `json:"startDate"`
	EndDate        *string   `json:"endDate"`
	MaxAmount      *float64  `json:"maxAmount" validate:"omitempty,gt=0"`
	Country        *string   `json:"country" validate:"omitempty,min=1,max=100"`
	City           *string   `json:"city" validate:"omitempty,min=1,max=100"`
	ExpectedImpact *string   `json:"expectedImpact" validate:"omitempty,max=5000"`
	OrganizationID *string   `json:"organizationId" validate:"omitempty,min=1"`
	Featured       *bool     `json:"featured"`
	CategoryIDs    *[]string `json:"categoryIds" validate:"omitempty,max=20,dive,required"`
}

// PUT /api/projects/{id}
func (h *ProjectHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateProjectRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	ctx, cancel := withTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	p, err := h.projects.FindByID(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Project not found")
		return
	}
	if err != nil {
		serverError(w, r, "error finding project", err)
		return
	}

	if req.Title != nil {
		p.Title = sanitizeText(*req.Title)
	}
	if req.Description != nil {
		p.Description = sanitizeText(*req.Description)
	}
	if req.StartDate != nil {
		start, err := parseDate(*req.StartDate)
		if err != nil {
			badRequest(w, "startDate must be a date (YYYY-MM-DD)")
			return
		}
		p.StartDate = start
	}
	if req.EndDate != nil {
		if *req.EndDate == "" {
			p.EndDate = nil
		} else {
			end, err := parseDate(*req.EndDate)
			if err != nil {
				badRequest(w, "endDate must be a date (YYYY-MM-DD)")
				return
			}
			p.EndDate = &end
		}
	}
	if req.MaxAmount != nil {
		p.MaxAmount = req.MaxAmount
	}
	if req.Country != nil {
		p.Country = sanitizeText(*req.Country)
	}
	if req.City != nil {
		p.City = sanitizeText(*req.City)
	}
	if req.ExpectedImpact != nil {
		p.ExpectedImpact = sanitizeText(*req.ExpectedImpact)
	}
	if req.Featured != nil {
		p.Featured = *req.Featured
	}
	if req.OrganizationID != nil && strings.TrimSpace(*req.OrganizationID) != p.OrganizationID {
		p.OrganizationID = strings.TrimSpace(*req.OrganizationID)
		if !h.organizationExists(ctx, w, r, p.OrganizationID) {
			return
		}
	}
	if msg := validateProject(p); msg != "" {
		badRequest(w, msg)
		return
	}

	err = h.database.WithTx(ctx, func(tx db.DBTX) error {
		projects := h.projects.WithTx(tx)
		if err := projects.Update(ctx, p); err != nil {
			return err
		}
		if req.CategoryIDs != nil {
			return projects.SetCategories(ctx, p.ID, *req.CategoryIDs)
		}
		return nil
	})
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Project not found")
		return
	}
	if err != nil {
		serverError(w, r, "error updating project", err)
		return
	}

	h.reload(w, r, http.StatusOK, p.ID)
}

// DELETE /api/projects/{id} archives the project.
func (h *ProjectHandler) Archive(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	err := h.projects.SetStatus(ctx, chi.URLParam(r, "id"), models.StatusArchived)
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Project not found")
		return
	}
	if err != nil {
		serverError(w, r, "error archiving project", err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Project archived"})
}

func validateProject(p *models.Project) string {
	if p.Title == "" || p.Description == "" || p.Country == "" || p.City == "" {
		return "title, description, country and city must contain text"
	}
	if p.EndDate != nil && p.EndDate.Before(p.StartDate) {
		return "endDate must not be before startDate"
	}
	return ""
}

func (h *ProjectHandler) organizationExists(ctx context.Context, w http.ResponseWriter, r *http.Request, id string) bool {
	exists, err := h.orgs.Exists(ctx, id)
	if err != nil {
		serverError(w, r, "error checking organization", err)
		return false
	}
	if !exists {
		notFound(w, "Organization not found")
		return false
	}
	return true
}

func (h *ProjectHandler) reload(w http.ResponseWriter, r *http.Request, status int, id string) {
	ctx, cancel := withTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	p, err := h.projects.FindByID(ctx, id)
	if err != nil {
		serverError(w, r, "error loading project", err)
		return
	}
	h.writeProject(w, r, status, p)
}

func (h *ProjectHandler) writeProject(w http.ResponseWriter, r *http.Request, status int, p *models.Project) {
	ctx, cancel := withTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	images, err := h.images.ImagesFor(ctx, models.EntityProject, []string{p.ID})
	if err != nil {
		serverError(w, r, "error loading project images", err)
		return
	}

	writeJSON(w, status, ProjectResponse{
		Project:      p,
		Images:       nonNilImages(images[p.ID]),
		MainImageURL: mainImageURL(images[p.ID]),
	})
}
