package models

import "time"

// Contact is the person a workflow is executed against. Contacts are owned by
// another service; only the fields needed for lookups are modelled here.
type Contact struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	Name           string     `json:"name"`
	Email          string     `json:"email,omitempty"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// PortalStatus is the publication state of a portal.
type PortalStatus string

const (
	PortalStatusActive   PortalStatus = "active"
	PortalStatusInactive PortalStatus = "inactive"
)

// Portal publishes a workflow to contacts.
type Portal struct {
	ID             string       `json:"id"`
	OrganizationID string       `json:"organization_id"`
	WorkflowID     string       `json:"workflow_id"`
	Name           string       `json:"name"`
	Status         PortalStatus `json:"status"`
	DeletedAt      *time.Time   `json:"deleted_at,omitempty"`
}

// User is an actor that starts executions or edits workflows.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// IsActive reports whether the portal is active and not soft-deleted.
func (p *Portal) IsActive() bool {
	return p.Status == PortalStatusActive && p.DeletedAt == nil
}

// IsDeleted reports whether the contact has been soft-deleted.
func (c *Contact) IsDeleted() bool {
	return c.DeletedAt != nil
}
