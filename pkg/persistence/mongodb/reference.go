package mongodb

import (
	"context"

	"github.com/dukex/stepflow/pkg/models"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type ContactRepository struct {
	col *mongod.Collection
}

func (r *ContactRepository) Get(ctx context.Context, id, organizationID string) (*models.Contact, error) {
	var contact models.Contact

	found, err := findOne(ctx, r.col, bson.M{"id": id, "organization_id": organizationID}, &contact)
	if err != nil || !found {
		return nil, err
	}

	return &contact, nil
}

func (r *ContactRepository) Save(ctx context.Context, contact *models.Contact) error {
	return upsert(ctx, r.col, contact.ID, contact)
}

type PortalRepository struct {
	col *mongod.Collection
}

func (r *PortalRepository) ListActiveByWorkflow(ctx context.Context, workflowID, organizationID string) ([]*models.Portal, error) {
	filter := bson.M{
		"workflow_id":     workflowID,
		"organization_id": organizationID,
		"status":          models.PortalStatusActive,
		"deleted_at":      nil,
	}

	return findAll[models.Portal](ctx, r.col, filter, options.Find().SetSort(bson.D{{Key: "id", Value: 1}}))
}

func (r *PortalRepository) Save(ctx context.Context, portal *models.Portal) error {
	return upsert(ctx, r.col, portal.ID, portal)
}

type UserRepository struct {
	col *mongod.Collection
}

func (r *UserRepository) Get(ctx context.Context, id string) (*models.User, error) {
	var user models.User

	found, err := findOne(ctx, r.col, bson.M{"id": id}, &user)
	if err != nil || !found {
		return nil, err
	}

	return &user, nil
}

func (r *UserRepository) Save(ctx context.Context, user *models.User) error {
	return upsert(ctx, r.col, user.ID, user)
}
