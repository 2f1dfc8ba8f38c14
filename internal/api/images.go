package api

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"tink/internal/media"
	"tink/internal/models"
)

// multipart overhead allowed on top of the image size limit
const multipartSlackBytes = 64 << 10

type MediaService interface {
	Upload(ctx context.Context, in media.UploadInput) (*models.Image, error)
	ListForEntity(ctx context.Context, ref models.EntityRef) ([]*models.Image, error)
	GetMain(ctx context.Context, ref models.EntityRef) (*models.Image, error)
	SetMain(ctx context.Context, imageID string) (*models.Image, error)
	Delete(ctx context.Context, imageID string) error
}

type ImageHandler struct {
	media          MediaService
	maxUploadBytes int64
}

func NewImageHandler(mediaService MediaService, maxUploadBytes int64) *ImageHandler {
	return &ImageHandler{
		media:          mediaService,
		maxUploadBytes: maxUploadBytes,
	}
}

type ImageResponse struct {
	Message string        `json:"message"`
	Image   *models.Image `json:"image"`
}

// POST /api/images/upload
func (h *ImageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	file, fileHeader, cleanup, ok := readSingleFileUpload(w, r, "image", h.maxUploadBytes+multipartSlackBytes)
	if !ok {
		return
	}
	defer cleanup()
	defer file.Close()

	entityID := strings.TrimSpace(r.FormValue("entityId"))
	entityType := r.FormValue("entityType")
	if entityID == "" || strings.TrimSpace(entityType) == "" {
		badRequest(w, "entityId and entityType are required")
		return
	}

	kind, err := media.ParseKind(entityType)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	isMain, err := parseFormBool(r.FormValue("isMain"))
	if err != nil {
		badRequest(w, "isMain must be a boolean")
		return
	}

	img, err := h.media.Upload(r.Context(), media.UploadInput{
		Entity:       models.EntityRef{Kind: kind, ID: entityID},
		Filename:     fileHeader.Filename,
		DeclaredMIME: fileHeader.Header.Get("Content-Type"),
		Size:         fileHeader.Size,
		Body:         file,
		IsMain:       isMain,
	})
	if !handleMediaError(w, r, "error uploading image", err) {
		return
	}

	writeJSON(w, http.StatusCreated, ImageResponse{Message: "Image uploaded", Image: img})
}

// GET /api/images/{entityType}/{entityId}
func (h *ImageHandler) List(w http.ResponseWriter, r *http.Request) {
	ref, ok := entityRefParam(w, r)
	if !ok {
		return
	}

	images, err := h.media.ListForEntity(r.Context(), ref)
	if !handleMediaError(w, r, "error listing images", err) {
		return
	}

	writeJSON(w, http.StatusOK, images)
}

// GET /api/images/{entityType}/{entityId}/main
func (h *ImageHandler) GetMain(w http.ResponseWriter, r *http.Request) {
	ref, ok := entityRefParam(w, r)
	if !ok {
		return
	}

	img, err := h.media.GetMain(r.Context(), ref)
	if !handleMediaError(w, r, "error finding main image", err) {
		return
	}

	writeJSON(w, http.StatusOK, img)
}

// PUT /api/images/{imageId}/set-main
func (h *ImageHandler) SetMain(w http.ResponseWriter, r *http.Request) {
	img, err := h.media.SetMain(r.Context(), chi.URLParam(r, "imageId"))
	if !handleMediaError(w, r, "error setting main image", err) {
		return
	}

	writeJSON(w, http.StatusOK, ImageResponse{Message: "Main image updated", Image: img})
}

// DELETE /api/images/{imageId}
func (h *ImageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.media.Delete(r.Context(), chi.URLParam(r, "imageId"))
	if !handleMediaError(w, r, "error deleting image", err) {
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Image deleted"})
}

func entityRefParam(w http.ResponseWriter, r *http.Request) (models.EntityRef, bool) {
	kind, err := media.ParseKind(chi.URLParam(r, "entityType"))
	if err != nil {
		badRequest(w, err.Error())
		return models.EntityRef{}, false
	}

	id := strings.TrimSpace(chi.URLParam(r, "entityId"))
	if id == "" {
		badRequest(w, "entityId is required")
		return models.EntityRef{}, false
	}

	return models.EntityRef{Kind: kind, ID: id}, true
}

func handleMediaError(w http.ResponseWriter, r *http.Request, msg string, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, media.ErrInvalidEntityKind):
		badRequest(w, err.Error())
	case errors.Is(err, media.ErrEntityNotFound):
		notFound(w, "Entity not found")
	case errors.Is(err, media.ErrNotFound):
		notFound(w, "Image not found")
	case errors.Is(err, media.ErrUnsupportedMediaType):
		unsupportedMediaType(w, "Only image files are allowed")
	case errors.Is(err, media.ErrPayloadTooLarge):
		payloadTooLarge(w, "File exceeds maximum upload size")
	case errors.Is(err, media.ErrMainContention):
		conflict(w, "Main image was changed concurrently, please retry")
	default:
		serverError(w, r, msg, err)
	}
	return false
}

func readSingleFileUpload(
	w http.ResponseWriter,
	r *http.Request,
	field string,
	maxBytes int64,
) (multipart.File, *multipart.FileHeader, func(), bool) {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}

	err := r.ParseMultipartForm(1 << 20)
	if err != nil {
		if isBodyTooLargeError(err) {
			payloadTooLarge(w, "File exceeds maximum upload size")
		} else {
			badRequest(w, "Invalid multipart upload")
		}
		return nil, nil, func() {}, false
	}

	cleanup := func() {
		if r.MultipartForm != nil {
			r.MultipartForm.RemoveAll()
		}
	}

	file, fileHeader, err := r.FormFile(field)
	if err != nil {
		badRequest(w, "File field '"+field+"' is required")
		cleanup()
		return nil, nil, func() {}, false
	}

	if fileHeader == nil || strings.TrimSpace(fileHeader.Filename) == "" {
		file.Close()
		cleanup()
		badRequest(w, "File name is required")
		return nil, nil, func() {}, false
	}

	return file, fileHeader, cleanup, true
}

func isBodyTooLargeError(err error) bool {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "request body too large")
}

func parseFormBool(raw string) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}
