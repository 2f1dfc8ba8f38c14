package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"tink/internal/db"
	"tink/internal/models"
)

type OrganizationHandler struct {
	orgs         *db.OrganizationRepository
	images       ImageLister
	queryTimeout time.Duration
}

func NewOrganizationHandler(orgs *db.OrganizationRepository, images ImageLister, queryTimeout time.Duration) *OrganizationHandler {
	return &OrganizationHandler{
		orgs:         orgs,
		images:       images,
		queryTimeout: queryTimeout,
	}
}

type OrganizationResponse struct {
	*models.Organization
	Images       []*models.Image `json:"images"`
	MainImageURL *string         `json:"mainImageUrl"`
}

type OrganizationListResponse struct {
	Organizations []OrganizationResponse `json:"organizations"`
	Pagination    db.Pagination          `json:"pagination"`
}

// GET /api/organizations
func (h *OrganizationHandler) List(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r.URL.Query())
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if q.SortBy != "" && q.SortBy != "name" && q.SortBy != "createdAt" {
		badRequest(w, "sortBy must be one of: name createdAt")
		return
	}

	ctx, cancel := withTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	orgs, pagination, err := h.orgs.List(ctx, db.OrganizationFilter{
		Name:            strings.TrimSpace(r.URL.Query().Get("name")),
		IncludeArchived: q.IncludeArchived,
		SortBy:          q.SortBy,
		SortDesc:        q.desc(),
		Page:            q.page(),
	})
	if err != nil {
		serverError(w, r, "error listing organizations", err)
		return
	}

	ids := make([]string, 0, len(orgs))
	for _, org := range orgs {
		ids = append(ids, org.ID)
	}
	images, err := h.images.ImagesFor(ctx, models.EntityOrganization, ids)
	if err != nil {
		serverError(w, r, "error loading organization images", err)
		return
	}

	resp := OrganizationListResponse{
		Organizations: make([]OrganizationResponse, 0, len(orgs)),
		Pagination:    pagination,
	}
	for _, org := range orgs {
		resp.Organizations = append(resp.Organizations, OrganizationResponse{
			Organization: org,
			Images:       nonNilImages(images[org.ID]),
			MainImageURL: mainImageURL(images[org.ID]),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// GET /api/organizations/{id}
func (h *OrganizationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	org, err := h.orgs.FindByID(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Organization not found")
		return
	}
	if err != nil {
		serverError(w, r, "error finding organization", err)
		return
	}

	h.writeOrganization(w, r, http.StatusOK, org)
}

type CreateOrganizationRequest struct {
	Name             string  `json:"name" validate:"required,max=200"`
	Description      string  `json:"description" validate:"required,max=5000"`
	Logo             *string `json:"logo" validate:"omitempty,http_url,max=2048"`
	ResponsibleName  string  `json:"responsibleName" validate:"required,max=200"`
	ResponsibleEmail string  `json:"responsibleEmail" validate:"required,email,max=254"`
	ResponsiblePhone *string `json:"responsiblePhone" validate:"omitempty,max=50"`
	InstagramURL     *string `json:"instagramUrl" validate:"omitempty,http_url,max=2048"`
	FacebookURL      *string `json:"facebookUrl" validate:"omitempty,http_url,max=2048"`
	WebsiteURL       *string `json:"websiteUrl" validate:"omitempty,http_url,max=2048"`
}

// POST /api/organizations
func (h *OrganizationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateOrganizationRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	org := &models.Organization{
		Name:             sanitizeText(req.Name),
		Description:      sanitizeText(req.Description),
		Logo:             req.Logo,
		ResponsibleName:  sanitizeText(req.ResponsibleName),
		ResponsibleEmail: strings.TrimSpace(req.ResponsibleEmail),
		ResponsiblePhone: sanitizeOptional(req.ResponsiblePhone),
		InstagramURL:     req.InstagramURL,
		FacebookURL:      req.FacebookURL,
		WebsiteURL:       req.WebsiteURL,
	}
	if org.Name == "" || org.Description == "" || org.ResponsibleName == "" {
		badRequest(w, "name, description and responsibleName must contain text")
		return
	}

	ctx, cancel := withTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	if err := h.orgs.Create(ctx, org); err != nil {
		serverError(w, r, "error creating organization", err)
		return
	}

	h.writeOrganization(w, r, http.StatusCreated, org)
}

type UpdateOrganizationRequest struct {
	Name             *string `json:"name" validate:"omitempty,min=1,max=200"`
	Description      *string `json:"description" validate:"omitempty,min=1,max=5000"`
	Logo             *string `json:"logo" validate:"omitempty,http_url,max=2048"`
	ResponsibleName  *string `json:"responsibleName" validate:"omitempty,min=1,max=200"`
	ResponsibleEmail *string `json:"responsibleEmail" validate:"omitempty,email,max=254"`
	ResponsiblePhone *string `json:"responsiblePhone" validate:"omitempty,max=50"`
	InstagramURL     *string `json:"instagramUrl" validate:"omitempty,http_url,max=2048"`
	FacebookURL      *string `json:"facebookUrl" validate:"omitempty,http_url,max=2048"`
	WebsiteURL       *string `json:"websiteUrl" validate:"omitempty,http_url,max=2048"`
}

// PUT /api/organizations/{id}
func (h *OrganizationHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateOrganizationRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	ctx, cancel := withTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	org, err := h.orgs.FindByID(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Organization not found")
		return
	}
	if err != nil {
		serverError(w, r, "error finding organization", err)
		return
	}

	if req.Name != nil {
		org.Name = sanitizeText(*req.Name)
	}
	if req.Description != nil {
		org.Description = sanitizeText(*req.Description)
	}
	if req.Logo != nil {
		org.Logo = req.Logo
	}
	if req.ResponsibleName != nil {
		org.ResponsibleName = sanitizeText(*req.ResponsibleName)
	}
	if req.ResponsibleEmail != nil {
		org.ResponsibleEmail = strings.TrimSpace(*req.ResponsibleEmail)
	}
	if req.ResponsiblePhone != nil {
		org.ResponsiblePhone = sanitizeOptional(req.ResponsiblePhone)
	}
	if req.InstagramURL != nil {
		org.InstagramURL = req.InstagramURL
	}
	if req.FacebookURL != nil {
		org.FacebookURL = req.FacebookURL
	}
	if req.WebsiteURL != nil {
		org.WebsiteURL = req.WebsiteURL
	}
	if org.Name == "" || org.Description == "" || org.ResponsibleName == "" {
		badRequest(w, "name, description and responsibleName must contain text")
		return
	}

	if err := h.orgs.Update(ctx, org); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			notFound(w, "Organization not found")
			return
		}
		serverError(w, r, "error updating organization", err)
		return
	}

	h.writeOrganization(w, r, http.StatusOK, org)
}

// DELETE /api/organizations/{id} archives the organization.
func (h *OrganizationHandler) Archive(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	err := h.orgs.SetStatus(ctx, chi.URLParam(r, "id"), models.StatusArchived)
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Organization not found")
		return
	}
	if err != nil {
		serverError(w, r, "error archiving organization", err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Organization archived"})
}

func (h *OrganizationHandler) writeOrganization(w http.ResponseWriter, r *http.Request, status int, org *models.Organization) {
	ctx, cancel := withTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	images, err := h.images.ImagesFor(ctx, models.EntityOrganization, []string{org.ID})
	if err != nil {
		serverError(w, r, "error loading organization images", err)
		return
	}

	writeJSON(w, status, OrganizationResponse{
		Organization: org,
		Images:       nonNilImages(images[org.ID]),
		MainImageURL: mainImageURL(images[org.ID]),
	})
}
