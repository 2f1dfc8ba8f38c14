package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"tink/internal/blob"
	"tink/internal/db"
	"tink/internal/mediaurl"
	"tink/internal/models"
)

const testMaxUploadBytes = 64 << 10

type knownEntities map[string]bool

func (k knownEntities) Exists(_ context.Context, id string) (bool, error) {
	return k[id], nil
}

type testEnv struct {
	svc      *Service
	database *db.DB
	root     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	database, err := db.Open(string(db.DialectSQLite), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})
	if err := database.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	root := t.TempDir()
	store, err := blob.NewLocalStore(root, testMaxUploadBytes)
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}

	svc := NewService(database, store, mediaurl.New("", "/uploads/"),
		map[models.EntityKind]EntityChecker{
			models.EntityProject:      knownEntities{"p1": true, "p2": true},
			models.EntityOrganization: knownEntities{"o1": true},
		},
		Config{MaxUploadBytes: testMaxUploadBytes, QueryTimeout: 5 * time.Second, StorageTimeout: 5 * time.Second},
	)

	return &testEnv{svc: svc, database: database, root: root}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{G: 255, A: 255})

	buf := bytes.NewBuffer(nil)
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func (e *testEnv) upload(t *testing.T, ref models.EntityRef, isMain bool) *models.Image {
	t.Helper()

	data := pngBytes(t)
	img, err := e.svc.Upload(context.Background(), UploadInput{
		Entity:       ref,
		Filename:     "photo.png",
		DeclaredMIME: "image/png",
		Size:         int64(len(data)),
		Body:         bytes.NewReader(data),
		IsMain:       isMain,
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	return img
}

func (e *testEnv) files(t *testing.T) []string {
	t.Helper()

	entries, err := os.ReadDir(e.root)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func countMain(t *testing.T, svc *Service, ref models.EntityRef) int {
	t.Helper()

	images, err := svc.ListForEntity(context.Background(), ref)
	if err != nil {
		t.Fatalf("ListForEntity() error = %v", err)
	}
	n := 0
	for _, img := range images {
		if img.IsMain {
			n++
		}
	}
	return n
}

func TestParseKind(t *testing.T) {
	for raw, want := range map[string]models.EntityKind{
		"project":        models.EntityProject,
		" Organization ": models.EntityOrganization,
	} {
		got, err := ParseKind(raw)
		if err != nil {
			t.Fatalf("ParseKind(%q) error = %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseKind(%q) = %q, want %q", raw, got, want)
		}
	}

	if _, err := ParseKind("user"); !errors.Is(err, ErrInvalidEntityKind) {
		t.Fatalf("ParseKind(user) error = %v, want ErrInvalidEntityKind", err)
	}
}

func TestUploadSecondMainReplacesFirst(t *testing.T) {
	env := newTestEnv(t)
	ref := models.EntityRef{Kind: models.EntityProject, ID: "p1"}

	a := env.upload(t, ref, true)
	b := env.upload(t, ref, true)

	main, err := env.svc.GetMain(context.Background(), ref)
	if err != nil {
		t.Fatalf("GetMain() error = %v", err)
	}
	if main.ID != b.ID {
		t.Fatalf("GetMain() = %q, want %q", main.ID, b.ID)
	}

	images, err := env.svc.ListForEntity(context.Background(), ref)
	if err != nil {
		t.Fatalf("ListForEntity() error = %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("ListForEntity() = %d images, want 2", len(images))
	}
	if images[0].ID != a.ID || images[0].IsMain {
		t.Fatalf("first image = %+v, want %q not main", images[0], a.ID)
	}
	if !strings.HasPrefix(images[0].URL, "/uploads/img-") || !strings.HasSuffix(images[0].URL, ".png") {
		t.Fatalf("URL = %q, want /uploads/img-*.png", images[0].URL)
	}
}

func TestUploadMainDoesNotTouchOtherEntities(t *testing.T) {
	env := newTestEnv(t)
	project := models.EntityRef{Kind: models.EntityProject, ID: "p1"}
	other := models.EntityRef{Kind: models.EntityProject, ID: "p2"}

	env.upload(t, project, true)
	otherMain := env.upload(t, other, true)
	env.upload(t, project, true)

	main, err := env.svc.GetMain(context.Background(), other)
	if err != nil {
		t.Fatalf("GetMain() error = %v", err)
	}
	if main.ID != otherMain.ID {
		t.Fatalf("GetMain(p2) = %q, want %q", main.ID, otherMain.ID)
	}
}

func TestUploadRejectsNonImageBeforeWriting(t *testing.T) {
	env := newTestEnv(t)
	ref := models.EntityRef{Kind: models.EntityProject, ID: "p1"}

	_, err := env.svc.Upload(context.Background(), UploadInput{
		Entity:       ref,
		Filename:     "notes.txt",
		DeclaredMIME: "text/plain",
		Size:         5,
		Body:         strings.NewReader("hello"),
	})
	if !errors.Is(err, ErrUnsupportedMediaType) {
		t.Fatalf("Upload() error = %v, want ErrUnsupportedMediaType", err)
	}

	_, err = env.svc.Upload(context.Background(), UploadInput{
		Entity:       ref,
		Filename:     "fake.png",
		DeclaredMIME: "image/png",
		Size:         5,
		Body:         strings.NewReader("hello"),
	})
	if !errors.Is(err, ErrUnsupportedMediaType) {
		t.Fatalf("Upload() disguised error = %v, want ErrUnsupportedMediaType", err)
	}

	images, err := env.svc.ListForEntity(context.Background(), ref)
	if err != nil {
		t.Fatalf("ListForEntity() error = %v", err)
	}
	if len(images) != 0 {
		t.Fatalf("ListForEntity() = %d images, want 0", len(images))
	}
	if files := env.files(t); len(files) != 0 {
		t.Fatalf("stored files = %v, want none", files)
	}
}

func TestUploadRejectsOversizedPayload(t *testing.T) {
	env := newTestEnv(t)
	ref := models.EntityRef{Kind: models.EntityProject, ID: "p1"}

	_, err := env.svc.Upload(context.Background(), UploadInput{
		Entity:       ref,
		Filename:     "big.png",
		DeclaredMIME: "image/png",
		Size:         testMaxUploadBytes + 1,
		Body:         bytes.NewReader(make([]byte, testMaxUploadBytes+1)),
	})
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("Upload() declared size error = %v, want ErrPayloadTooLarge", err)
	}

	_, err = env.svc.Upload(context.Background(), UploadInput{
		Entity:       ref,
		Filename:     "big.png",
		DeclaredMIME: "image/png",
		Size:         -1,
		Body:         bytes.NewReader(make([]byte, testMaxUploadBytes+1)),
	})
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("Upload() unknown size error = %v, want ErrPayloadTooLarge", err)
	}
}

func TestUploadRequiresExistingEntity(t *testing.T) {
	env := newTestEnv(t)
	data := pngBytes(t)

	_, err := env.svc.Upload(context.Background(), UploadInput{
		Entity:       models.EntityRef{Kind: models.EntityOrganization, ID: "missing"},
		Filename:     "a.png",
		DeclaredMIME: "image/png",
		Size:         int64(len(data)),
		Body:         bytes.NewReader(data),
	})
	if !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("Upload() error = %v, want ErrEntityNotFound", err)
	}

	_, err = env.svc.Upload(context.Background(), UploadInput{
		Entity:       models.EntityRef{Kind: "user", ID: "o1"},
		Filename:     "a.png",
		DeclaredMIME: "image/png",
		Body:         bytes.NewReader(data),
	})
	if !errors.Is(err, ErrInvalidEntityKind) {
		t.Fatalf("Upload() error = %v, want ErrInvalidEntityKind", err)
	}
}

func TestUploadRemovesFileWhenRowInsertFails(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.database.ExecContext(context.Background(), `DROP TABLE images`); err != nil {
		t.Fatalf("DROP TABLE error = %v", err)
	}

	data := pngBytes(t)
	_, err := env.svc.Upload(context.Background(), UploadInput{
		Entity:       models.EntityRef{Kind: models.EntityProject, ID: "p1"},
		Filename:     "a.png",
		DeclaredMIME: "image/png",
		Size:         int64(len(data)),
		Body:         bytes.NewReader(data),
	})
	if err == nil {
		t.Fatal("Upload() error = nil, want insert failure")
	}
	if files := env.files(t); len(files) != 0 {
		t.Fatalf("stored files = %v, want none", files)
	}
}

func TestSetMainMovesFlag(t *testing.T) {
	env := newTestEnv(t)
	ref := models.EntityRef{Kind: models.EntityOrganization, ID: "o1"}

	a := env.upload(t, ref, true)
	b := env.upload(t, ref, false)

	updated, err := env.svc.SetMain(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("SetMain() error = %v", err)
	}
	if !updated.IsMain || updated.URL == "" {
		t.Fatalf("SetMain() = %+v, want main with URL", updated)
	}

	main, err := env.svc.GetMain(context.Background(), ref)
	if err != nil {
		t.Fatalf("GetMain() error = %v", err)
	}
	if main.ID != b.ID {
		t.Fatalf("GetMain() = %q, want %q", main.ID, b.ID)
	}

	if _, err := env.svc.SetMain(context.Background(), a.ID); err != nil {
		t.Fatalf("SetMain() back error = %v", err)
	}
	if n := countMain(t, env.svc, ref); n != 1 {
		t.Fatalf("main images = %d, want 1", n)
	}

	if _, err := env.svc.SetMain(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetMain(missing) error = %v, want ErrNotFound", err)
	}
}

func TestGetMainWithoutMain(t *testing.T) {
	env := newTestEnv(t)
	ref := models.EntityRef{Kind: models.EntityProject, ID: "p1"}
	env.upload(t, ref, false)

	if _, err := env.svc.GetMain(context.Background(), ref); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetMain() error = %v, want ErrNotFound", err)
	}
}

func TestAtMostOneMainAfterMixedOperations(t *testing.T) {
	env := newTestEnv(t)
	ref := models.EntityRef{Kind: models.EntityProject, ID: "p1"}

	var ids []string
	for i := 0; i < 6; i++ {
		img := env.upload(t, ref, i%2 == 0)
		ids = append(ids, img.ID)
		if n := countMain(t, env.svc, ref); n > 1 {
			t.Fatalf("after upload %d: main images = %d, want <= 1", i, n)
		}
	}
	for _, id := range []string{ids[1], ids[3], ids[1], ids[5]} {
		if _, err := env.svc.SetMain(context.Background(), id); err != nil {
			t.Fatalf("SetMain() error = %v", err)
		}
		if n := countMain(t, env.svc, ref); n != 1 {
			t.Fatalf("after SetMain(%s): main images = %d, want 1", id, n)
		}
	}
}

func TestConcurrentMainUploadsLeaveOneMain(t *testing.T) {
	env := newTestEnv(t)
	ref := models.EntityRef{Kind: models.EntityProject, ID: "p1"}
	data := pngBytes(t)

	const uploads = 6
	errs := make(chan error, uploads)
	var wg sync.WaitGroup
	for i := 0; i < uploads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Upload(context.Background(), UploadInput{
				Entity:       ref,
				Filename:     "a.png",
				DeclaredMIME: "image/png",
				Size:         int64(len(data)),
				Body:         bytes.NewReader(data),
				IsMain:       true,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Upload() error = %v", err)
		}
	}
	if n := countMain(t, env.svc, ref); n != 1 {
		t.Fatalf("main images = %d, want 1", n)
	}
}

func TestDeleteRemovesRowAndFile(t *testing.T) {
	env := newTestEnv(t)
	ref := models.EntityRef{Kind: models.EntityProject, ID: "p1"}
	img := env.upload(t, ref, true)

	if _, err := os.Stat(filepath.Join(env.root, img.Filename)); err != nil {
		t.Fatalf("Stat() error = %v", err)
	}

	if err := env.svc.Delete(context.Background(), img.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(env.root, img.Filename)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Stat() error = %v, want not exist", err)
	}
	if err := env.svc.Delete(context.Background(), img.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestDeleteSucceedsWhenFileAlreadyMissing(t *testing.T) {
	env := newTestEnv(t)
	ref := models.EntityRef{Kind: models.EntityProject, ID: "p1"}
	img := env.upload(t, ref, false)

	if err := os.Remove(filepath.Join(env.root, img.Filename)); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	if err := env.svc.Delete(context.Background(), img.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	images, err := env.svc.ListForEntity(context.Background(), ref)
	if err != nil {
		t.Fatalf("ListForEntity() error = %v", err)
	}
	if len(images) != 0 {
		t.Fatalf("ListForEntity() = %d images, want 0", len(images))
	}
}

// stalledChecker and stalledStore hold every call until its context ends.
type stalledChecker struct{}

func (stalledChecker) Exists(ctx context.Context, _ string) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

type stalledStore struct{}

func (stalledStore) Put(ctx context.Context, _ string, _ io.Reader, _ string) (*blob.StoredBlob, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledStore) Exists(ctx context.Context, _ string) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func (stalledStore) Delete(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestCallsAreBoundedByTimeouts(t *testing.T) {
	database, err := db.Open(string(db.DialectSQLite), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})
	if err := database.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	cfg := Config{MaxUploadBytes: testMaxUploadBytes, QueryTimeout: 20 * time.Millisecond, StorageTimeout: 20 * time.Millisecond}
	data := pngBytes(t)
	input := func(id string) UploadInput {
		return UploadInput{
			Entity:       models.EntityRef{Kind: models.EntityProject, ID: id},
			Filename:     "photo.png",
			DeclaredMIME: "image/png",
			Size:         int64(len(data)),
			Body:         bytes.NewReader(data),
			IsMain:       true,
		}
	}

	slowStore := NewService(database, stalledStore{}, mediaurl.New("", "/uploads/"),
		map[models.EntityKind]EntityChecker{models.EntityProject: knownEntities{"p1": true}}, cfg)

	start := time.Now()
	if _, err := slowStore.Upload(context.Background(), input("p1")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Upload() error = %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Upload() took %v, want it cut off by the storage timeout", elapsed)
	}

	var rows int
	if err := database.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM images`).Scan(&rows); err != nil {
		t.Fatalf("count images error = %v", err)
	}
	if rows != 0 {
		t.Fatalf("image rows = %d, want 0", rows)
	}

	root := t.TempDir()
	store, err := blob.NewLocalStore(root, testMaxUploadBytes)
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}
	slowLookup := NewService(database, store, mediaurl.New("", "/uploads/"),
		map[models.EntityKind]EntityChecker{models.EntityProject: stalledChecker{}}, cfg)

	if _, err := slowLookup.Upload(context.Background(), input("p1")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Upload() error = %v, want context.DeadlineExceeded", err)
	}
	ref := models.EntityRef{Kind: models.EntityProject, ID: "p1"}
	if _, err := slowLookup.ListForEntity(context.Background(), ref); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ListForEntity() error = %v, want context.DeadlineExceeded", err)
	}
	if _, err := slowLookup.GetMain(context.Background(), ref); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("GetMain() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestListAndMainRequireExistingEntity(t *testing.T) {
	env := newTestEnv(t)
	ref := models.EntityRef{Kind: models.EntityProject, ID: "missing"}

	if _, err := env.svc.ListForEntity(context.Background(), ref); !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("ListForEntity() error = %v, want ErrEntityNotFound", err)
	}
	if _, err := env.svc.GetMain(context.Background(), ref); !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("GetMain() error = %v, want ErrEntityNotFound", err)
	}
}
