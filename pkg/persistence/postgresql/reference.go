package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/stepflow/pkg/models"
)

// ContactRepository reads and writes contact documents.
type ContactRepository struct {
	db *sql.DB
}

func (r *ContactRepository) Get(ctx context.Context, id, organizationID string) (*models.Contact, error) {
	var contact models.Contact

	found, err := getDocument(ctx, r.db, "SELECT document FROM contacts WHERE id = $1 AND organization_id = $2", &contact, id, organizationID)
	if err != nil || !found {
		return nil, err
	}

	return &contact, nil
}

func (r *ContactRepository) Save(ctx context.Context, contact *models.Contact) error {
	return saveDocument(ctx, r.db, `
		INSERT INTO contacts (id, organization_id, deleted_at, document) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			organization_id = EXCLUDED.organization_id
		  , document = EXCLUDED.document
		  , deleted_at = EXCLUDED.deleted_at
	`, contact, contact.ID, contact.OrganizationID, contact.DeletedAt)
}

// PortalRepository reads and writes portal documents.
type PortalRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *PortalRepository) ListActiveByWorkflow(ctx context.Context, workflowID, organizationID string) ([]*models.Portal, error) {
	query := `
		SELECT document FROM portals
		WHERE workflow_id = $1 AND organization_id = $2 AND status = 'active' AND deleted_at IS NULL
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, workflowID, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query portals: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	portals := make([]*models.Portal, 0)

	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("failed to scan portal: %w", err)
		}

		var portal models.Portal
		if err := json.Unmarshal(document, &portal); err != nil {
			return nil, fmt.Errorf("failed to unmarshal portal: %w", err)
		}

		portals = append(portals, &portal)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating portals: %w", err)
	}

	return portals, nil
}

func (r *PortalRepository) Save(ctx context.Context, portal *models.Portal) error {
	return saveDocument(ctx, r.db, `
		INSERT INTO portals (id, organization_id, workflow_id, status, deleted_at, document) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			organization_id = EXCLUDED.organization_id
		  , workflow_id = EXCLUDED.workflow_id
		  , status = EXCLUDED.status
		  , deleted_at = EXCLUDED.deleted_at
		  , document = EXCLUDED.document
	`, portal, portal.ID, portal.OrganizationID, portal.WorkflowID, portal.Status, portal.DeletedAt)
}

// UserRepository reads and writes user documents.
type UserRepository struct {
	db *sql.DB
}

func (r *UserRepository) Get(ctx context.Context, id string) (*models.User, error) {
	var user models.User

	found, err := getDocument(ctx, r.db, "SELECT document FROM users WHERE id = $1", &user, id)
	if err != nil || !found {
		return nil, err
	}

	return &user, nil
}

func (r *UserRepository) Save(ctx context.Context, user *models.User) error {
	return saveDocument(ctx, r.db, `
		INSERT INTO users (id, document) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document
	`, user, user.ID)
}

func getDocument(ctx context.Context, db *sql.DB, query string, v any, args ...any) (bool, error) {
	var document []byte

	err := db.QueryRowContext(ctx, query, args...).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to query document: %w", err)
	}

	if err := json.Unmarshal(document, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal document: %w", err)
	}

	return true, nil
}

// saveDocument runs an upsert whose last parameter is the JSON encoding of doc.
func saveDocument(ctx context.Context, db *sql.DB, query string, doc any, args ...any) error {
	document, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	if _, err := db.ExecContext(ctx, query, append(args, document)...); err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}

	return nil
}
