// Package file provides a file-based persistence implementation. Every
// document is a JSON file under a per-collection directory of the root.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/stepflow/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root          string
	workflowRepo  *WorkflowRepository
	executionRepo *ExecutionRepository
	contactRepo   *ContactRepository
	portalRepo    *PortalRepository
	userRepo      *UserRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) persistence.Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:          cleanRoot,
		workflowRepo:  NewWorkflowRepository(cleanRoot),
		executionRepo: NewExecutionRepository(cleanRoot),
		contactRepo:   &ContactRepository{store: collection{dir: filepath.Join(cleanRoot, "contacts")}},
		portalRepo:    &PortalRepository{store: collection{dir: filepath.Join(cleanRoot, "portals")}},
		userRepo:      &UserRepository{store: collection{dir: filepath.Join(cleanRoot, "users")}},
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

func (fp *Persistence) ContactRepository() persistence.ContactRepository {
	return fp.contactRepo
}

func (fp *Persistence) PortalRepository() persistence.PortalRepository {
	return fp.portalRepo
}

func (fp *Persistence) UserRepository() persistence.UserRepository {
	return fp.userRepo
}

// collection reads and writes JSON documents named <id>.json inside dir.
type collection struct {
	dir string
}

// validateID validates that the id is safe to use as a file name.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", persistence.ErrInvalidID)
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q contains path characters", persistence.ErrInvalidID, id)
	}

	return nil
}

func (c collection) path(id string) string {
	return filepath.Join(c.dir, id+".json")
}

// read decodes the document into v. It reports false when the file does not exist.
func (c collection) read(id string, v any) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}

	body, err := os.ReadFile(c.path(id)) // #nosec G304 -- id is validated above
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("failed to read %s: %w", id, err)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", id, err)
	}

	return true, nil
}

func (c collection) write(id string, v any) error {
	if err := validateID(id); err != nil {
		return err
	}

	if err := os.MkdirAll(c.dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", c.dir, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}

	// Write to a temp file and rename so readers never see a partial document.
	tmp := c.path(id) + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", id, err)
	}

	if err := os.Rename(tmp, c.path(id)); err != nil {
		return fmt.Errorf("failed to write %s: %w", id, err)
	}

	return nil
}

func (c collection) exists(id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}

	_, err := os.Stat(c.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", id, err)
	}

	return true, nil
}

func (c collection) remove(id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	err := os.Remove(c.path(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", id, err)
	}

	return nil
}

// ids lists the ids of every document in the collection.
func (c collection) ids() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(c.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", c.dir, err)
	}

	ids := make([]string, 0, len(matches))
	for _, match := range matches {
		ids = append(ids, strings.TrimSuffix(filepath.Base(match), ".json"))
	}

	return ids, nil
}

// all decodes every document of the collection and keeps those accepted by keep.
func all[T any](c collection, keep func(*T) bool) ([]*T, error) {
	ids, err := c.ids()
	if err != nil {
		return nil, err
	}

	out := make([]*T, 0, len(ids))

	for _, id := range ids {
		doc := new(T)

		found, err := c.read(id, doc)
		if err != nil {
			return nil, err
		}

		if found && keep(doc) {
			out = append(out, doc)
		}
	}

	return out, nil
}
