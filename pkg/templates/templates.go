// Package templates loads the YAML catalog of workflow templates used to seed
// new workflows.
package templates

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/steps"
	"gopkg.in/yaml.v3"
)

//go:embed defaults/*.yaml
var bundled embed.FS

var ErrInvalidTemplate = errors.New("invalid workflow template")

type NotificationSettings struct {
	OnStart    bool `yaml:"on_start"`
	OnComplete bool `yaml:"on_complete"`
	OnFailure  bool `yaml:"on_failure"`
}

type Settings struct {
	AllowMultipleSubmissions bool                 `yaml:"allow_multiple_submissions"`
	RequireAuth              bool                 `yaml:"require_auth"`
	Notifications            NotificationSettings `yaml:"notifications"`
	AutoArchiveAfterDays     int                  `yaml:"auto_archive_after_days"`
	ReminderIntervalHours    int                  `yaml:"reminder_interval_hours"`
}

type Trigger struct {
	Type     models.TriggerType `yaml:"type"`
	Event    string             `yaml:"event"`
	Schedule string             `yaml:"schedule"`
	Timezone string             `yaml:"timezone"`
	Endpoint string             `yaml:"endpoint"`
}

type Assignee struct {
	Type  models.AssigneeType `yaml:"type"`
	Value string              `yaml:"value"`
}

// Step is a template step. Key is local to the template; real ids are
// generated when the template is instantiated.
type Step struct {
	Key         string          `yaml:"key"`
	Title       string          `yaml:"title"`
	DisplayName string          `yaml:"display_name"`
	Type        models.StepType `yaml:"type"`
	Required    bool            `yaml:"required"`
	Config      map[string]any  `yaml:"config"`
	Assignee    *Assignee       `yaml:"assignee"`
	Next        []string        `yaml:"next"`
}

type Template struct {
	ID          string    `yaml:"id"`
	Title       string    `yaml:"title"`
	Description string    `yaml:"description"`
	Trigger     Trigger   `yaml:"trigger"`
	Settings    *Settings `yaml:"settings"`
	Steps       []Step    `yaml:"steps"`
}

// Parse decodes and validates one template document.
func Parse(data []byte) (*Template, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidTemplate)
	}

	var tpl Template
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}

	if err := tpl.validate(); err != nil {
		return nil, err
	}

	return &tpl, nil
}

func (t *Template) validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidTemplate)
	}

	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: template %s has no title", ErrInvalidTemplate, t.ID)
	}

	if t.Trigger.Type == "" {
		t.Trigger.Type = models.TriggerTypeManual
	}

	if err := t.WorkflowTrigger().Validate(); err != nil {
		return fmt.Errorf("%w: template %s: %v", ErrInvalidTemplate, t.ID, err)
	}

	keys := make(map[string]bool, len(t.Steps))

	for i, step := range t.Steps {
		if step.Key == "" {
			return fmt.Errorf("%w: template %s step %d has no key", ErrInvalidTemplate, t.ID, i+1)
		}

		if keys[step.Key] {
			return fmt.Errorf("%w: template %s repeats step key %s", ErrInvalidTemplate, t.ID, step.Key)
		}

		keys[step.Key] = true

		if !step.Type.IsValid() {
			return fmt.Errorf("%w: template %s step %s has unknown type %q", ErrInvalidTemplate, t.ID, step.Key, step.Type)
		}

		if _, err := steps.DecodeConfig(step.Type, step.Config); err != nil {
			return fmt.Errorf("%w: template %s step %s: %v", ErrInvalidTemplate, t.ID, step.Key, err)
		}
	}

	for _, step := range t.Steps {
		for _, next := range step.Next {
			if !keys[next] {
				return fmt.Errorf("%w: template %s step %s points at unknown key %s", ErrInvalidTemplate, t.ID, step.Key, next)
			}
		}
	}

	return nil
}

func (t *Template) WorkflowTrigger() models.Trigger {
	return models.Trigger{
		Type:     t.Trigger.Type,
		Event:    t.Trigger.Event,
		Schedule: t.Trigger.Schedule,
		Timezone: t.Trigger.Timezone,
		Endpoint: t.Trigger.Endpoint,
	}
}

// WorkflowSettings returns the template settings, or the defaults when the
// template declares none.
func (t *Template) WorkflowSettings() models.Settings {
	if t.Settings == nil {
		return models.DefaultSettings()
	}

	return models.Settings{
		AllowMultipleSubmissions: t.Settings.AllowMultipleSubmissions,
		RequireAuth:              t.Settings.RequireAuth,
		Notifications: models.NotificationSettings{
			OnStart:    t.Settings.Notifications.OnStart,
			OnComplete: t.Settings.Notifications.OnComplete,
			OnFailure:  t.Settings.Notifications.OnFailure,
		},
		AutoArchiveAfterDays:  t.Settings.AutoArchiveAfterDays,
		ReminderIntervalHours: t.Settings.ReminderIntervalHours,
	}
}

// Actions turns the template steps into create actions with fresh ids, wiring
// Next keys to the generated ids.
func (t *Template) Actions(newID func() string) []steps.Action {
	ids := make(map[string]string, len(t.Steps))
	for _, step := range t.Steps {
		ids[step.Key] = newID()
	}

	actions := make([]steps.Action, 0, len(t.Steps))

	for _, step := range t.Steps {
		title := step.Title
		stepType := step.Type
		required := step.Required

		action := steps.Action{
			Type:     steps.ActionCreate,
			ID:       ids[step.Key],
			Title:    &title,
			StepType: &stepType,
			Required: &required,
			Config:   step.Config,
		}

		if step.DisplayName != "" {
			displayName := step.DisplayName
			action.DisplayName = &displayName
		}

		if step.Assignee != nil {
			action.Assignee = &models.Assignee{Type: step.Assignee.Type, Value: step.Assignee.Value}
		}

		if len(step.Next) > 0 {
			next := make([]models.NextStep, len(step.Next))
			for i, key := range step.Next {
				next[i] = models.NextStep{StepID: ids[key]}
			}

			action.NextSteps = &next
		}

		actions = append(actions, action)
	}

	return actions
}

// Catalog is an immutable set of templates keyed by id.
type Catalog struct {
	templates map[string]*Template
}

// Default returns the catalog bundled with the binary.
func Default() (*Catalog, error) {
	c := &Catalog{templates: make(map[string]*Template)}
	if err := c.load(bundled, "defaults"); err != nil {
		return nil, err
	}

	return c, nil
}

// LoadDir returns the bundled catalog overlaid with every *.yaml / *.yml file
// in dir. Files override bundled templates with the same id.
func LoadDir(dir string) (*Catalog, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}

	if dir == "" {
		return c, nil
	}

	if err := c.load(os.DirFS(dir), "."); err != nil {
		return nil, fmt.Errorf("failed to load templates from %s: %w", dir, err)
	}

	return c, nil
}

func (c *Catalog) load(fsys fs.FS, root string) error {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return fmt.Errorf("failed to read template directory: %w", err)
	}

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		data, err := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(root, entry.Name())))
		if err != nil {
			return fmt.Errorf("failed to read template %s: %w", entry.Name(), err)
		}

		tpl, err := Parse(data)
		if err != nil {
			return fmt.Errorf("%s: %w", entry.Name(), err)
		}

		c.templates[tpl.ID] = tpl
	}

	return nil
}

// Get returns the template with the given id.
func (c *Catalog) Get(id string) (*Template, bool) {
	tpl, ok := c.templates[id]

	return tpl, ok
}

// List returns every template sorted by id.
func (c *Catalog) List() []*Template {
	ids := c.IDs()

	out := make([]*Template, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.templates[id])
	}

	return out
}

// IDs returns the sorted template ids.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.templates))
	for id := range c.templates {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids
}
