package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tink/internal/db"
	"tink/internal/models"
)

type CategoryHandler struct {
	categories   *db.CategoryRepository
	queryTimeout time.Duration
}

func NewCategoryHandler(categories *db.CategoryRepository, queryTimeout time.Duration) *CategoryHandler {
	return &CategoryHandler{
		categories:   categories,
		queryTimeout: queryTimeout,
	}
}

type CategoryResponse struct {
	*models.Category
	ProjectCount int64 `json:"projectCount"`
}

type CategoryListResponse struct {
	Categories []*models.Category `json:"categories"`
}

// GET /api/categories
func (h *CategoryHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	categories, err := h.categories.List(ctx)
	if err != nil {
		serverError(w, r, "error listing categories", err)
		return
	}

	writeJSON(w, http.StatusOK, CategoryListResponse{Categories: categories})
}

// GET /api/categories/{id}
func (h *CategoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	c, err := h.categories.FindByID(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Category not found")
		return
	}
	if err != nil {
		serverError(w, r, "error finding category", err)
		return
	}

	count, err := h.categories.CountProjects(ctx, c.ID)
	if err != nil {
		serverError(w, r, "error counting category projects", err)
		return
	}

	writeJSON(w, http.StatusOK, CategoryResponse{Category: c, ProjectCount: count})
}

type CategoryRequest struct {
	Name        string  `json:"name" validate:"required,max=100"`
	Description *string `json:"description" validate:"omitempty,max=1000"`
	Color       *string `json:"color" validate:"omitempty,hexcolor"`
}

// POST /api/categories
func (h *CategoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CategoryRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	c := &models.Category{
		Name:        sanitizeText(req.Name),
		Description: sanitizeOptional(req.Description),
		Color:       req.Color,
	}
	if c.Name == "" {
		badRequest(w, "name must contain text")
		return
	}

	ctx, cancel := withTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	taken, err := h.categories.NameTaken(ctx, c.Name, "")
	if err != nil {
		serverError(w, r, "error checking category name", err)
		return
	}
	if taken {
		conflict(w, "A category with this name already exists")
		return
	}

	if err := h.categories.Create(ctx, c); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			conflict(w, "A category with this name already exists")
			return
		}
		serverError(w, r, "error creating category", err)
		return
	}

	writeJSON(w, http.StatusCreated, CategoryResponse{Category: c})
}

// PUT /api/categories/{id}
func (h *CategoryHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req CategoryRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	ctx, cancel := withTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	c, err := h.categories.FindByID(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Category not found")
		return
	}
	if err != nil {
		serverError(w, r, "error finding category", err)
		return
	}

	c.Name = sanitizeText(req.Name)
	if c.Name == "" {
		badRequest(w, "name must contain text")
		return
	}
	if req.Description != nil {
		c.Description = sanitizeOptional(req.Description)
	}
	if req.Color != nil {
		c.Color = req.Color
	}

	taken, err := h.categories.NameTaken(ctx, c.Name, c.ID)
	if err != nil {
		serverError(w, r, "error checking category name", err)
		return
	}
	if taken {
		conflict(w, "A category with this name already exists")
		return
	}

	if err := h.categories.Update(ctx, c); err != nil {
		switch {
		case errors.Is(err, db.ErrDuplicate):
			conflict(w, "A category with this name already exists")
		case errors.Is(err, db.ErrNotFound):
			notFound(w, "Category not found")
		default:
			serverError(w, r, "error updating category", err)
		}
		return
	}

	count, err := h.categories.CountProjects(ctx, c.ID)
	if err != nil {
		serverError(w, r, "error counting category projects", err)
		return
	}

	writeJSON(w, http.StatusOK, CategoryResponse{Category: c, ProjectCount: count})
}

// DELETE /api/categories/{id}
func (h *CategoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	id := chi.URLParam(r, "id")
	if _, err := h.categories.FindByID(ctx, id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			notFound(w, "Category not found")
			return
		}
		serverError(w, r, "error finding category", err)
		return
	}

	count, err := h.categories.CountProjects(ctx, id)
	if err != nil {
		serverError(w, r, "error counting category projects", err)
		return
	}
	if count > 0 {
		badRequest(w, "Category is still assigned to projects")
		return
	}

	if err := h.categories.Delete(ctx, id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			notFound(w, "Category not found")
			return
		}
		serverError(w, r, "error deleting category", err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Category deleted"})
}
