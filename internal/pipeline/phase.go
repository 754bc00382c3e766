package pipeline

import (
	"errors"
	"fmt"
)

type Phase string

const (
	Research Phase = "research"
	Draft    Phase = "draft"
	Test     Phase = "test"
	Fix      Phase = "fix"
	Distill  Phase = "distill"
	Done     Phase = "done"
)

var ErrInvalidTransition = errors.New("invalid phase transition")

// Transition checks that a pipeline may move from one phase to another.
// The empty phase is the state before research.
func Transition(from, to Phase) error {
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, from, to)
	}
	return nil
}

func isAllowedTransition(from, to Phase) bool {
	switch from {
	case "":
		return to == Research
	case Research:
		return to == Draft
	case Draft:
		// distill directly when validation is skipped
		return to == Test || to == Distill
	case Test:
		return to == Fix || to == Distill
	case Fix:
		return to == Test
	case Distill:
		return to == Done
	default:
		return false
	}
}
