package file

import (
	"context"

	"github.com/dukex/stepflow/pkg/models"
)

// ContactRepository stores contacts as JSON files.
type ContactRepository struct {
	store collection
}

func (cr *ContactRepository) Get(_ context.Context, id, organizationID string) (*models.Contact, error) {
	var contact models.Contact

	found, err := cr.store.read(id, &contact)
	if err != nil || !found || contact.OrganizationID != organizationID {
		return nil, err
	}

	return &contact, nil
}

func (cr *ContactRepository) Save(_ context.Context, contact *models.Contact) error {
	return cr.store.write(contact.ID, contact)
}

// PortalRepository stores portals as JSON files.
type PortalRepository struct {
	store collection
}

func (pr *PortalRepository) ListActiveByWorkflow(_ context.Context, workflowID, organizationID string) ([]*models.Portal, error) {
	return all(pr.store, func(p *models.Portal) bool {
		return p.WorkflowID == workflowID &&
			p.OrganizationID == organizationID &&
			p.IsActive()
	})
}

func (pr *PortalRepository) Save(_ context.Context, portal *models.Portal) error {
	return pr.store.write(portal.ID, portal)
}

// UserRepository stores users as JSON files.
type UserRepository struct {
	store collection
}

func (ur *UserRepository) Get(_ context.Context, id string) (*models.User, error) {
	var user models.User

	found, err := ur.store.read(id, &user)
	if err != nil || !found {
		return nil, err
	}

	return &user, nil
}

func (ur *UserRepository) Save(_ context.Context, user *models.User) error {
	return ur.store.write(user.ID, user)
}
