package models

import "time"

// Status is the lifecycle state shared by organizations and projects.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

type Organization struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Description      string     `json:"description"`
	Logo             *string    `json:"logo,omitempty"`
	ResponsibleName  string     `json:"responsibleName"`
	ResponsibleEmail string     `json:"responsibleEmail"`
	ResponsiblePhone *string    `json:"responsiblePhone,omitempty"`
	InstagramURL     *string    `json:"instagramUrl,omitempty"`
	FacebookURL      *string    `json:"facebookUrl,omitempty"`
	WebsiteURL       *string    `json:"websiteUrl,omitempty"`
	Status           Status     `json:"status"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        *time.Time `json:"updatedAt,omitempty"`
}

type OrganizationSummary struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Logo *string `json:"logo,omitempty"`
}

type Project struct {
	ID             string               `json:"id"`
	Title          string               `json:"title"`
	Description    string               `json:"description"`
	StartDate      time.Time            `json:"startDate"`
	EndDate        *time.Time           `json:"endDate,omitempty"`
	MaxAmount      *float64             `json:"maxAmount,omitempty"`
	Country        string               `json:"country"`
	City           string               `json:"city"`
	ExpectedImpact string               `json:"expectedImpact"`
	OrganizationID string               `json:"organizationId"`
	Featured       bool                 `json:"featured"`
	Status         Status               `json:"status"`
	Organization   *OrganizationSummary `json:"organization,omitempty"`
	Categories     []CategorySummary    `json:"categories"`
	CreatedAt      time.Time            `json:"createdAt"`
	UpdatedAt      *time.Time           `json:"updatedAt,omitempty"`
}

type Category struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description *string    `json:"description,omitempty"`
	Color       *string    `json:"color,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

type CategorySummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
