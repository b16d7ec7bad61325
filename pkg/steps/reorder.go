package steps

import (
	"fmt"

	"github.com/dukex/stepflow/pkg/models"
)

// Instruction moves one step to a new 1-based position.
type Instruction struct {
	StepID      string `json:"step_id"      validate:"required"`
	NewPosition int    `json:"new_position"`
}

// Summary is the compact view of a step returned after a reorder.
type Summary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Order int    `json:"order"`
}

// ReorderResult holds the fully renumbered collection and its summary.
type ReorderResult struct {
	Steps   models.Steps `json:"steps"`
	Summary []Summary    `json:"summary"`
}

// Reorder validates the instructions and returns a new collection in which the
// named steps sit at their requested positions and every other step shifts to
// close or open the gap. The input is never modified.
func Reorder(steps models.Steps, instructions []Instruction) (*ReorderResult, error) {
	if err := validateInstructions(steps, instructions); err != nil {
		return nil, err
	}

	pinned := make(map[string]int, len(instructions))
	for _, in := range instructions {
		pinned[in.StepID] = in.NewPosition
	}

	ordered := place(steps, pinned)

	summary := make([]Summary, len(ordered))
	for i, step := range ordered {
		summary[i] = Summary{ID: step.ID, Title: step.Label(), Order: step.Order}
	}

	return &ReorderResult{Steps: ordered, Summary: summary}, nil
}

// validateInstructions runs the checks in a fixed order: existence, position
// collisions, range, then repeated step ids.
func validateInstructions(steps models.Steps, instructions []Instruction) error {
	for i, in := range instructions {
		if steps.IndexOf(in.StepID) < 0 {
			return &StepError{Op: "reorder", Index: i, StepID: in.StepID, Err: ErrStepNotFound}
		}
	}

	positions := make(map[int]string, len(instructions))

	for i, in := range instructions {
		if other, taken := positions[in.NewPosition]; taken {
			return &StepError{
				Op:       "reorder",
				Index:    i,
				StepID:   in.StepID,
				Position: in.NewPosition,
				Message:  fmt.Sprintf("position %d already requested for step %s", in.NewPosition, other),
				Err:      ErrDuplicatePosition,
			}
		}

		positions[in.NewPosition] = in.StepID
	}

	for i, in := range instructions {
		if in.NewPosition < 1 || in.NewPosition > len(steps) {
			return &StepError{
				Op:       "reorder",
				Index:    i,
				StepID:   in.StepID,
				Position: in.NewPosition,
				Message:  fmt.Sprintf("position %d must be between 1 and %d", in.NewPosition, len(steps)),
				Err:      ErrPositionOutOfRange,
			}
		}
	}

	seen := make(map[string]struct{}, len(instructions))

	for i, in := range instructions {
		if _, dup := seen[in.StepID]; dup {
			return &StepError{
				Op:      "reorder",
				Index:   i,
				StepID:  in.StepID,
				Message: "step appears in more than one instruction",
				Err:     ErrInvalidAction,
			}
		}

		seen[in.StepID] = struct{}{}
	}

	return nil
}
