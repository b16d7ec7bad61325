package steps

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

func object(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}

	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

var stringArray = map[string]any{"type": "array", "items": map[string]any{"type": "string"}}

var documentSchema = object(map[string]any{
	"template_id":    map[string]any{"type": "string"},
	"accepted_types": stringArray,
	"max_files":      map[string]any{"type": "integer", "minimum": 0},
})

// configSchemas holds the JSON schema each step type's configuration must satisfy.
var configSchemas = map[models.StepType]map[string]any{
	models.StepTypeForm: object(map[string]any{
		"fields": map[string]any{
			"type": "array",
			"items": object(map[string]any{
				"name":     map[string]any{"type": "string", "minLength": 1},
				"label":    map[string]any{"type": "string"},
				"type":     map[string]any{"type": "string", "minLength": 1},
				"required": map[string]any{"type": "boolean"},
				"options":  stringArray,
			}, "name", "type"),
		},
	}, "fields"),
	models.StepTypeDocument:  documentSchema,
	models.StepTypeDocuments: documentSchema,
	models.StepTypeScreen: object(map[string]any{
		"content": map[string]any{"type": "string"},
	}, "content"),
	models.StepTypeApproval: object(map[string]any{
		"instructions":       map[string]any{"type": "string"},
		"required_approvals": map[string]any{"type": "integer", "minimum": 1},
	}),
	models.StepTypeEmail: object(map[string]any{
		"to":          map[string]any{"type": "string"},
		"subject":     map[string]any{"type": "string", "minLength": 1},
		"body":        map[string]any{"type": "string"},
		"attachments": stringArray,
	}, "subject", "body"),
	models.StepTypeSms: object(map[string]any{
		"to":      map[string]any{"type": "string"},
		"message": map[string]any{"type": "string", "minLength": 1},
	}, "message"),
	models.StepTypeWebhook: object(map[string]any{
		"url":     map[string]any{"type": "string", "format": "uri"},
		"method":  map[string]any{"type": "string", "enum": []any{"GET", "POST", "PUT", "PATCH", "DELETE"}},
		"headers": map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "string"}},
	}, "url"),
	models.StepTypeCondition: object(map[string]any{
		"expression": map[string]any{"type": "string", "minLength": 1},
	}, "expression"),
	models.StepTypeDelay: object(map[string]any{
		"duration_seconds": map[string]any{"type": "integer", "minimum": 1},
	}, "duration_seconds"),
	models.StepTypeChecklist: object(map[string]any{
		"items": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "minItems": 1},
	}, "items"),
}

// DecodeConfig validates raw against the schema of the given step type and
// decodes it into the matching StepConfig variant. A nil or empty raw value
// yields an empty configuration.
func DecodeConfig(stepType models.StepType, raw map[string]any) (models.StepConfig, error) {
	var cfg models.StepConfig

	if len(raw) == 0 {
		return cfg, nil
	}

	schema, ok := configSchemas[stepType]
	if !ok {
		return cfg, fmt.Errorf("%w: unknown step type %q", ErrInvalidStepConfig, stepType)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(raw))
	if err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidStepConfig, err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}

		return cfg, fmt.Errorf("%w: %s", ErrInvalidStepConfig, strings.Join(problems, "; "))
	}

	wrapped, err := json.Marshal(map[string]any{models.ConfigKey(stepType): raw})
	if err != nil {
		return cfg, fmt.Errorf("failed to encode step config: %w", err)
	}

	if err := json.Unmarshal(wrapped, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidStepConfig, err)
	}

	return cfg, nil
}

// EncodeConfig returns the variant of cfg that belongs to stepType as a plain map.
func EncodeConfig(stepType models.StepType, cfg models.StepConfig) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode step config: %w", err)
	}

	var variants map[string]map[string]any
	if err := json.Unmarshal(data, &variants); err != nil {
		return nil, fmt.Errorf("failed to decode step config: %w", err)
	}

	return variants[models.ConfigKey(stepType)], nil
}
