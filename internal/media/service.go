package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"tink/internal/blob"
	"tink/internal/db"
	"tink/internal/mediaurl"
	"tink/internal/models"
)

const mainUpdateAttempts = 3

var (
	ErrInvalidEntityKind    = errors.New("entity type must be project or organization")
	ErrEntityNotFound       = errors.New("entity not found")
	ErrUnsupportedMediaType = errors.New("only image uploads are allowed")
	ErrPayloadTooLarge      = errors.New("image exceeds the upload size limit")
	ErrNotFound             = errors.New("image not found")
	ErrMainContention       = errors.New("main image changed concurrently")
)

// EntityChecker reports whether an owner of the given kind exists.
type EntityChecker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

type Config struct {
	MaxUploadBytes int64
	QueryTimeout   time.Duration
	StorageTimeout time.Duration
}

// Service manages images attached to projects and organizations. At most
// one image per owner is flagged main.
type Service struct {
	database *db.DB
	images   *db.ImageRepository
	store    blob.Store
	urls     *mediaurl.Builder
	checkers map[models.EntityKind]EntityChecker
	cfg      Config
}

func NewService(
	database *db.DB,
	store blob.Store,
	urls *mediaurl.Builder,
	checkers map[models.EntityKind]EntityChecker,
	cfg Config,
) *Service {
	return &Service{
		database: database,
		images:   db.NewImageRepository(database.Handle()),
		store:    store,
		urls:     urls,
		checkers: checkers,
		cfg:      cfg,
	}
}

func ParseKind(raw string) (models.EntityKind, error) {
	kind := models.EntityKind(strings.ToLower(strings.TrimSpace(raw)))
	if !kind.Valid() {
		return "", ErrInvalidEntityKind
	}
	return kind, nil
}

type UploadInput struct {
	Entity       models.EntityRef
	Filename     string
	DeclaredMIME string
	// Size is the declared length, or a negative value when unknown.
	Size   int64
	Body   io.Reader
	IsMain bool
}

func (s *Service) Upload(ctx context.Context, in UploadInput) (*models.Image, error) {
	if !in.Entity.Kind.Valid() {
		return nil, ErrInvalidEntityKind
	}

	mimeType := strings.ToLower(strings.TrimSpace(in.DeclaredMIME))
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, ErrUnsupportedMediaType
	}
	if in.Size > s.cfg.MaxUploadBytes {
		return nil, ErrPayloadTooLarge
	}

	if err := s.ensureEntity(ctx, in.Entity); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(in.Body, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return nil, ErrPayloadTooLarge
	}
	if _, err := blob.InspectImage(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedMediaType, err)
	}

	name := blob.GenerateName(in.Filename)

	sctx, cancel := s.storageContext(ctx)
	stored, err := s.store.Put(sctx, name, bytes.NewReader(data), mimeType)
	cancel()
	if errors.Is(err, blob.ErrFileTooLarge) {
		return nil, ErrPayloadTooLarge
	}
	if err != nil {
		return nil, fmt.Errorf("storing image: %w", err)
	}

	img := &models.Image{
		ID:         db.NewID(),
		EntityID:   in.Entity.ID,
		EntityType: in.Entity.Kind,
		Filename:   name,
		Path:       stored.Path,
		Size:       stored.SizeBytes,
		MimeType:   mimeType,
		IsMain:     in.IsMain,
	}

	err = s.updateMain(ctx, func(ctx context.Context, images *db.ImageRepository) error {
		if in.IsMain {
			if err := images.ClearMain(ctx, in.Entity); err != nil {
				return err
			}
		}
		return images.Create(ctx, img)
	})
	if err != nil {
		s.discardBlob(ctx, name)
		return nil, fmt.Errorf("saving image: %w", err)
	}

	img.URL = s.urls.URL(img.Filename)
	return img, nil
}

// ListForEntity returns the owner's images in insertion order.
func (s *Service) ListForEntity(ctx context.Context, ref models.EntityRef) ([]*models.Image, error) {
	if !ref.Kind.Valid() {
		return nil, ErrInvalidEntityKind
	}
	if err := s.ensureEntity(ctx, ref); err != nil {
		return nil, err
	}

	qctx, cancel := s.queryContext(ctx)
	defer cancel()

	images, err := s.images.ListForEntity(qctx, ref)
	if err != nil {
		return nil, err
	}
	s.withURLs(images)
	return images, nil
}

// ImagesFor returns the images of several owners of one kind, keyed by owner id.
func (s *Service) ImagesFor(ctx context.Context, kind models.EntityKind, ids []string) (map[string][]*models.Image, error) {
	if !kind.Valid() {
		return nil, ErrInvalidEntityKind
	}

	qctx, cancel := s.queryContext(ctx)
	defer cancel()

	byOwner, err := s.images.ListForEntities(qctx, kind, ids)
	if err != nil {
		return nil, err
	}
	for _, images := range byOwner {
		s.withURLs(images)
	}
	return byOwner, nil
}

// GetMain returns ErrEntityNotFound for an unknown owner and ErrNotFound for
// an owner without a main image.
func (s *Service) GetMain(ctx context.Context, ref models.EntityRef) (*models.Image, error) {
	if !ref.Kind.Valid() {
		return nil, ErrInvalidEntityKind
	}
	if err := s.ensureEntity(ctx, ref); err != nil {
		return nil, err
	}

	qctx, cancel := s.queryContext(ctx)
	defer cancel()

	img, err := s.images.FindMain(qctx, ref)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	img.URL = s.urls.URL(img.Filename)
	return img, nil
}

func (s *Service) SetMain(ctx context.Context, imageID string) (*models.Image, error) {
	img, err := s.find(ctx, imageID)
	if err != nil {
		return nil, err
	}

	err = s.updateMain(ctx, func(ctx context.Context, images *db.ImageRepository) error {
		if err := images.ClearMain(ctx, img.Entity()); err != nil {
			return err
		}
		return images.SetMain(ctx, img.ID)
	})
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("setting main image: %w", err)
	}

	img.IsMain = true
	img.URL = s.urls.URL(img.Filename)
	return img, nil
}

// Delete removes the stored file and then the row. A file that is already
// gone does not fail the delete. When the file delete fails the row is kept
// so the call can be retried.
func (s *Service) Delete(ctx context.Context, imageID string) error {
	img, err := s.find(ctx, imageID)
	if err != nil {
		return err
	}

	sctx, cancel := s.storageContext(ctx)
	err = s.store.Delete(sctx, img.Filename)
	cancel()
	if err != nil {
		return fmt.Errorf("deleting image file: %w", err)
	}

	qctx, cancel := s.queryContext(ctx)
	defer cancel()

	err = s.images.Delete(qctx, img.ID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting image row after file removal: %w", err)
	}
	return nil
}

func (s *Service) find(ctx context.Context, imageID string) (*models.Image, error) {
	if strings.TrimSpace(imageID) == "" {
		return nil, ErrNotFound
	}

	qctx, cancel := s.queryContext(ctx)
	defer cancel()

	img, err := s.images.FindByID(qctx, imageID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (s *Service) ensureEntity(ctx context.Context, ref models.EntityRef) error {
	checker, ok := s.checkers[ref.Kind]
	if !ok {
		return ErrInvalidEntityKind
	}
	if strings.TrimSpace(ref.ID) == "" {
		return ErrEntityNotFound
	}

	qctx, cancel := s.queryContext(ctx)
	defer cancel()

	exists, err := checker.Exists(qctx, ref.ID)
	if err != nil {
		return fmt.Errorf("checking %s: %w", ref.Kind, err)
	}
	if !exists {
		return ErrEntityNotFound
	}
	return nil
}

// updateMain runs fn in a transaction. The single-main unique index turns a
// concurrent writer into ErrDuplicate, which is retried a bounded number of
// times.
func (s *Service) updateMain(ctx context.Context, fn func(ctx context.Context, images *db.ImageRepository) error) error {
	var err error
	for attempt := 1; attempt <= mainUpdateAttempts; attempt++ {
		err = s.inTx(ctx, fn)
		if !errors.Is(err, db.ErrDuplicate) {
			return err
		}
		slog.Debug("retrying main image update", "attempt", attempt, "error", err)
	}
	return fmt.Errorf("%w: %v", ErrMainContention, err)
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context, images *db.ImageRepository) error) error {
	qctx, cancel := s.queryContext(ctx)
	defer cancel()

	return s.database.WithTx(qctx, func(tx db.DBTX) error {
		return fn(qctx, s.images.WithTx(tx))
	})
}

// discardBlob removes a stored file whose row could not be written. It runs
// detached from ctx so a timed out request still cleans up.
func (s *Service) discardBlob(ctx context.Context, name string) {
	sctx, cancel := s.storageContext(context.WithoutCancel(ctx))
	defer cancel()

	if err := s.store.Delete(sctx, name); err != nil {
		slog.Error("error removing orphaned image file", "error", err, "filename", name)
	}
}

func (s *Service) withURLs(images []*models.Image) {
	for _, img := range images {
		img.URL = s.urls.URL(img.Filename)
	}
}

func (s *Service) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, s.cfg.QueryTimeout)
}

func (s *Service) storageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, s.cfg.StorageTimeout)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
