package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tink/internal/db"
	"tink/internal/models"
)

// ImageLister attaches stored images to catalog responses.
type ImageLister interface {
	ImagesFor(ctx context.Context, kind models.EntityKind, ids []string) (map[string][]*models.Image, error)
}

type listQuery struct {
	SortBy          string
	SortOrder       string `validate:"omitempty,oneof=ASC DESC asc desc"`
	Page            int    `validate:"gte=0"`
	Limit           int    `validate:"gte=0,lte=100"`
	IncludeArchived bool
}

func (q listQuery) page() db.Page {
	return db.Page{Number: q.Page, Limit: q.Limit}
}

func (q listQuery) desc() bool {
	return strings.EqualFold(q.SortOrder, "DESC")
}

func parseListQuery(values url.Values) (listQuery, error) {
	var q listQuery
	var err error

	q.SortBy = strings.TrimSpace(values.Get("sortBy"))
	q.SortOrder = strings.TrimSpace(values.Get("sortOrder"))
	if q.Page, err = queryInt(values, "page"); err != nil {
		return q, err
	}
	if q.Limit, err = queryInt(values, "limit"); err != nil {
		return q, err
	}
	includeArchived, err := queryBool(values, "includeArchived")
	if err != nil {
		return q, err
	}
	q.IncludeArchived = includeArchived != nil && *includeArchived
	if q.Page > db.MaxPageNumber {
		return q, fmt.Errorf("page must be at most %d", db.MaxPageNumber)
	}

	return q, validateStruct(&q)
}

func queryInt(values url.Values, key string) (int, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(key + " must be an integer")
	}
	return n, nil
}

func queryBool(values url.Values, key string) (*bool, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, errors.New(key + " must be a boolean")
	}
	return &b, nil
}

func queryDate(values url.Values, key string) (*time.Time, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return nil, nil
	}
	t, err := parseDate(raw)
	if err != nil {
		return nil, errors.New(key + " must be a date (YYYY-MM-DD)")
	}
	return &t, nil
}

// parseDate accepts a calendar date or a full RFC 3339 timestamp.
func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func mainImageURL(images []*models.Image) *string {
	for _, img := range images {
		if img.IsMain {
			u := img.URL
			return &u
		}
	}
	return nil
}

func nonNilImages(images []*models.Image) []*models.Image {
	if images == nil {
		return []*models.Image{}
	}
	return images
}
