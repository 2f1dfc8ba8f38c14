package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"tink/internal/blob"
	"tink/internal/media"
	"tink/internal/mediaurl"
	"tink/internal/models"
)

func (s *testServer) createOrganization(t *testing.T, token, name string) string {
	t.Helper()

	rr := s.do(t, http.MethodPost, "/api/organizations", token, map[string]string{
		"name":             name,
		"description":      "Helps people",
		"responsibleName":  "Ana",
		"responsibleEmail": "ana@example.com",
	})
	expectStatus(t, rr, http.StatusCreated)

	var org OrganizationResponse
	decodeBody(t, rr, &org)
	return org.ID
}

func TestImageUploadKeepsSingleMain(t *testing.T) {
	srv := newTestServer(t)
	token := srv.register(t, "img@x.com")
	orgID := srv.createOrganization(t, token, "Org")
	data := pngBytes(t)

	rr := srv.upload(t, token, "organization", orgID, "image/png", data, true)
	expectStatus(t, rr, http.StatusCreated)
	var first ImageResponse
	decodeBody(t, rr, &first)
	if !first.Image.IsMain || first.Image.URL == "" {
		t.Fatalf("first image = %+v, want main with url", first.Image)
	}

	rr = srv.upload(t, token, "organization", orgID, "image/png", data, true)
	expectStatus(t, rr, http.StatusCreated)
	var second ImageResponse
	decodeBody(t, rr, &second)

	rr = srv.do(t, http.MethodGet, "/api/images/organization/"+orgID, token, nil)
	expectStatus(t, rr, http.StatusOK)
	var images []*models.Image
	decodeBody(t, rr, &images)
	if len(images) != 2 {
		t.Fatalf("len(images) = %d, want 2", len(images))
	}
	if images[0].ID != first.Image.ID || images[0].IsMain {
		t.Fatalf("images[0] = %+v, want first image no longer main", images[0])
	}
	if images[1].ID != second.Image.ID || !images[1].IsMain {
		t.Fatalf("images[1] = %+v, want second image main", images[1])
	}

	rr = srv.do(t, http.MethodGet, "/api/images/organization/"+orgID+"/main", token, nil)
	expectStatus(t, rr, http.StatusOK)
	var main models.Image
	decodeBody(t, rr, &main)
	if main.ID != second.Image.ID {
		t.Fatalf("main = %q, want %q", main.ID, second.Image.ID)
	}

	rr = srv.do(t, http.MethodPut, "/api/images/"+first.Image.ID+"/set-main", token, nil)
	expectStatus(t, rr, http.StatusOK)

	rr = srv.do(t, http.MethodGet, "/api/organizations/"+orgID, token, nil)
	expectStatus(t, rr, http.StatusOK)
	var org OrganizationResponse
	decodeBody(t, rr, &org)
	if org.MainImageURL == nil || *org.MainImageURL != first.Image.URL {
		t.Fatalf("mainImageUrl = %v, want %q", org.MainImageURL, first.Image.URL)
	}
	if len(org.Images) != 2 {
		t.Fatalf("len(org.Images) = %d, want 2", len(org.Images))
	}
}

func TestUploadedFileIsServed(t *testing.T) {
	srv := newTestServer(t)
	token := srv.register(t, "serve@x.com")
	orgID := srv.createOrganization(t, token, "Org")
	data := pngBytes(t)

	rr := srv.upload(t, token, "organization", orgID, "image/png", data, false)
	expectStatus(t, rr, http.StatusCreated)
	var uploaded ImageResponse
	decodeBody(t, rr, &uploaded)

	rr = srv.do(t, http.MethodGet, uploaded.Image.URL, "", nil)
	expectStatus(t, rr, http.StatusOK)
	if !bytes.Equal(rr.Body.Bytes(), data) {
		t.Fatal("served file differs from upload")
	}

	rr = srv.do(t, http.MethodGet, srv.cfg.Storage.PublicPath, "", nil)
	expectStatus(t, rr, http.StatusNotFound)
}

func TestImageUploadRejections(t *testing.T) {
	srv := newTestServer(t)
	token := srv.register(t, "reject@x.com")
	orgID := srv.createOrganization(t, token, "Org")
	data := pngBytes(t)

	tests := []struct {
		name        string
		entityType  string
		entityID    string
		contentType string
		body        []byte
		status      int
		code        string
	}{
		{"non image type", "organization", orgID, "application/pdf", []byte("%PDF-1.4"), http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE"},
		{"disguised executable", "organization", orgID, "image/png", append([]byte("MZ"), make([]byte, 64)...), http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE"},
		{"unknown entity kind", "user", orgID, "image/png", data, http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing entity", "project", "does-not-exist", "image/png", data, http.StatusNotFound, "NOT_FOUND"},
		{"too large", "organization", orgID, "image/png", make([]byte, 70<<10), http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := srv.upload(t, token, tt.entityType, tt.entityID, tt.contentType, tt.body, true)
			expectStatus(t, rr, tt.status)
			expectErrorCode(t, rr, tt.code)
		})
	}

	entries, err := os.ReadDir(srv.cfg.Storage.Root)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != "" {
			t.Fatalf("unexpected stored file %q after rejected uploads", entry.Name())
		}
	}

	rr := srv.do(t, http.MethodGet, "/api/images/organization/"+orgID, token, nil)
	expectStatus(t, rr, http.StatusOK)
	var images []*models.Image
	decodeBody(t, rr, &images)
	if len(images) != 0 {
		t.Fatalf("len(images) = %d, want 0", len(images))
	}
}

func TestImageDeleteAndMissing(t *testing.T) {
	srv := newTestServer(t)
	token := srv.register(t, "del@x.com")
	orgID := srv.createOrganization(t, token, "Org")

	rr := srv.upload(t, token, "organization", orgID, "image/png", pngBytes(t), true)
	expectStatus(t, rr, http.StatusCreated)
	var uploaded ImageResponse
	decodeBody(t, rr, &uploaded)

	rr = srv.do(t, http.MethodDelete, "/api/images/"+uploaded.Image.ID, token, nil)
	expectStatus(t, rr, http.StatusOK)

	if _, err := os.Stat(filepath.Join(srv.cfg.Storage.Root, uploaded.Image.Filename)); !os.IsNotExist(err) {
		t.Fatalf("Stat() error = %v, want file removed", err)
	}

	rr = srv.do(t, http.MethodDelete, "/api/images/"+uploaded.Image.ID, token, nil)
	expectStatus(t, rr, http.StatusNotFound)

	rr = srv.do(t, http.MethodGet, "/api/images/organization/"+orgID+"/main", token, nil)
	expectStatus(t, rr, http.StatusNotFound)

	rr = srv.do(t, http.MethodPut, "/api/images/missing/set-main", token, nil)
	expectStatus(t, rr, http.StatusNotFound)
}

type stalledChecker struct{}

func (stalledChecker) Exists(ctx context.Context, _ string) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func TestImageEndpointsReportTimeouts(t *testing.T) {
	database := openTestDB(t)
	store, err := blob.NewLocalStore(t.TempDir(), 64<<10)
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}

	svc := media.NewService(database, store, mediaurl.New("", "/uploads/"),
		map[models.EntityKind]media.EntityChecker{models.EntityOrganization: stalledChecker{}},
		media.Config{MaxUploadBytes: 64 << 10, QueryTimeout: 20 * time.Millisecond, StorageTimeout: 20 * time.Millisecond},
	)
	handler := NewImageHandler(svc, 64<<10)

	rr := httptest.NewRecorder()
	handler.Upload(rr, newUploadRequest(t, "", "organization", "o1", "image/png", pngBytes(t), true))
	expectStatus(t, rr, http.StatusGatewayTimeout)
	expectErrorCode(t, rr, "TIMEOUT")

	r := chi.NewRouter()
	r.Get("/api/images/{entityType}/{entityId}", handler.List)
	r.Get("/api/images/{entityType}/{entityId}/main", handler.GetMain)

	for _, path := range []string{"/api/images/organization/o1", "/api/images/organization/o1/main"} {
		rr = httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		expectStatus(t, rr, http.StatusGatewayTimeout)
		expectErrorCode(t, rr, "TIMEOUT")
	}
}

func TestImageListUnknownEntity(t *testing.T) {
	srv := newTestServer(t)
	token := srv.register(t, "unknown@x.com")

	for _, path := range []string{"/api/images/project/nope", "/api/images/project/nope/main"} {
		rr := srv.do(t, http.MethodGet, path, token, nil)
		expectStatus(t, rr, http.StatusNotFound)

		var resp ErrorResponse
		decodeBody(t, rr, &resp)
		if resp.Error.Message != "Entity not found" {
			t.Fatalf("%s message = %q, want Entity not found", path, resp.Error.Message)
		}
	}
}
