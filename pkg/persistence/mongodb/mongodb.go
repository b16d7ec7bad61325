// Package mongodb provides the MongoDB persistence implementation. Documents
// are encoded with their JSON field names and looked up by the "id" field.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/dukex/stepflow/pkg/persistence"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	colWorkflows  = "workflows"
	colExecutions = "executions"
	colContacts   = "contacts"
	colPortals    = "portals"
	colUsers      = "users"
)

// Persistence implements persistence.Persistence on a MongoDB database.
type Persistence struct {
	client *mongod.Client
	db     *mongod.Database
	logger *slog.Logger

	workflowRepo  *WorkflowRepository
	executionRepo *ExecutionRepository
	contactRepo   *ContactRepository
	portalRepo    *PortalRepository
	userRepo      *UserRepository
}

// NewPersistence connects to uri, selects the database named in it (or
// "stepflow") and creates the indexes.
func NewPersistence(ctx context.Context, logger *slog.Logger, uri string) (*Persistence, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetBSONOptions(&options.BSONOptions{
			UseJSONStructTags: true,
			DefaultDocumentM:  true,
			NilSliceAsEmpty:   true,
		})

	client, err := mongod.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)

		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(databaseName(uri))

	p := &Persistence{
		client:        client,
		db:            db,
		logger:        logger,
		workflowRepo:  &WorkflowRepository{col: db.Collection(colWorkflows)},
		executionRepo: &ExecutionRepository{col: db.Collection(colExecutions)},
		contactRepo:   &ContactRepository{col: db.Collection(colContacts)},
		portalRepo:    &PortalRepository{col: db.Collection(colPortals)},
		userRepo:      &UserRepository{col: db.Collection(colUsers)},
	}

	if err := p.Migrate(ctx); err != nil {
		_ = client.Disconnect(ctx)

		return nil, err
	}

	return p, nil
}

var databaseInURI = regexp.MustCompile(`^mongodb(?:\+srv)?://[^/]+/([^?]+)`)

func databaseName(uri string) string {
	if m := databaseInURI.FindStringSubmatch(uri); m != nil {
		return m[1]
	}

	return "stepflow"
}

// Migrate creates indexes for all collections.
func (p *Persistence) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		_, err := p.db.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("failed to create %s indexes: %w", col, err)
		}
	}

	p.logger.InfoContext(ctx, "MongoDB indexes ensured", "database", p.db.Name())

	return nil
}

func migrationIndexes() map[string][]mongod.IndexModel {
	uniqueID := mongod.IndexModel{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}

	return map[string][]mongod.IndexModel{
		colWorkflows: {
			uniqueID,
			{Keys: bson.D{{Key: "organization_id", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
		},
		colExecutions: {
			uniqueID,
			{Keys: bson.D{{Key: "workflow_id", Value: 1}, {Key: "organization_id", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "started_at", Value: -1}}},
		},
		colContacts: {uniqueID},
		colPortals: {
			uniqueID,
			{Keys: bson.D{{Key: "workflow_id", Value: 1}, {Key: "organization_id", Value: 1}, {Key: "status", Value: 1}}},
		},
		colUsers: {uniqueID},
	}
}

// Close disconnects the client.
func (p *Persistence) Close(ctx context.Context) error {
	if err := p.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}

	return nil
}

// HealthCheck pings the primary.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return nil
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflowRepo
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executionRepo
}

func (p *Persistence) ContactRepository() persistence.ContactRepository {
	return p.contactRepo
}

func (p *Persistence) PortalRepository() persistence.PortalRepository {
	return p.portalRepo
}

func (p *Persistence) UserRepository() persistence.UserRepository {
	return p.userRepo
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// findOne decodes the document matching filter into v, reporting false when none matches.
func findOne(ctx context.Context, col *mongod.Collection, filter bson.M, v any) (bool, error) {
	err := col.FindOne(ctx, filter, options.FindOne().SetProjection(bson.M{"_id": 0})).Decode(v)
	if isNoDocuments(err) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to find %s document: %w", col.Name(), err)
	}

	return true, nil
}

func findAll[T any](ctx context.Context, col *mongod.Collection, filter bson.M, opts *options.FindOptionsBuilder) ([]*T, error) {
	if opts == nil {
		opts = options.Find()
	}

	cursor, err := col.Find(ctx, filter, opts.SetProjection(bson.M{"_id": 0}))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", col.Name(), err)
	}
	defer cursor.Close(ctx)

	docs := make([]*T, 0)

	for cursor.Next(ctx) {
		doc := new(T)
		if err := cursor.Decode(doc); err != nil {
			return nil, fmt.Errorf("failed to decode %s document: %w", col.Name(), err)
		}

		docs = append(docs, doc)
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", col.Name(), err)
	}

	return docs, nil
}

// upsert replaces the document with the given id, inserting it when missing.
func upsert(ctx context.Context, col *mongod.Collection, id string, doc any) error {
	_, err := col.ReplaceOne(ctx, bson.M{"id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save %s document %s: %w", col.Name(), id, err)
	}

	return nil
}

func sortDirection(order string) int {
	if order == persistence.SortAsc {
		return 1
	}

	return -1
}
