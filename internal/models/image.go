package models

import "time"

// EntityKind discriminates the owner table of an image row.
type EntityKind string

const (
	EntityProject      EntityKind = "project"
	EntityOrganization EntityKind = "organization"
)

func (k EntityKind) Valid() bool {
	switch k {
	case EntityProject, EntityOrganization:
		return true
	default:
		return false
	}
}

// EntityRef names the owner of an image: one of two unrelated tables plus an id.
type EntityRef struct {
	Kind EntityKind
	ID   string
}

type Image struct {
	ID         string     `json:"id"`
	EntityID   string     `json:"entityId"`
	EntityType EntityKind `json:"entityType"`
	Filename   string     `json:"filename"`
	Path       string     `json:"path"`
	Size       int64      `json:"size"`
	MimeType   string     `json:"mimetype"`
	IsMain     bool       `json:"isMain"`
	URL        string     `json:"url,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  *time.Time `json:"updatedAt,omitempty"`
}

func (img *Image) Entity() EntityRef {
	return EntityRef{Kind: img.EntityType, ID: img.EntityID}
}
