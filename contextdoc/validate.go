package contextdoc

import (
	"fmt"
	"math"
)

// Phase identifies which set of context fields is required.
type Phase string

const (
	PhaseRepoSetup  Phase = "repo_setup"
	PhaseReproducer Phase = "reproducer"
	PhaseFixer      Phase = "fixer"
	PhaseShip       Phase = "ship"
)

// Result is the outcome of validating a context document against a phase.
type Result struct {
	Valid  bool
	Errors []string
}

type fieldSpec struct {
	name string
	kind string // "string" or "seed"
}

// Required fields accumulate across phases; ship requires everything.
var phaseFields = map[Phase][]fieldSpec{
	PhaseRepoSetup: {
		{"panic_location", "string"},
		{"panic_message", "string"},
		{"tcl_test_file", "string"},
	},
	PhaseReproducer: {
		{"panic_location", "string"},
		{"panic_message", "string"},
		{"tcl_test_file", "string"},
		{"failing_seed", "seed"},
		{"why_simulator_missed", "string"},
		{"simulator_changes", "string"},
	},
	PhaseFixer: {
		{"panic_location", "string"},
		{"panic_message", "string"},
		{"tcl_test_file", "string"},
		{"failing_seed", "seed"},
		{"why_simulator_missed", "string"},
		{"simulator_changes", "string"},
		{"bug_description", "string"},
		{"fix_description", "string"},
	},
}

func init() {
	phaseFields[PhaseShip] = phaseFields[PhaseFixer]
}

// Validate checks presence and type of the fields required by phase. It is a
// pure predicate over the data; messages are returned in field order.
func Validate(data map[string]any, phase Phase) Result {
	fields, ok := phaseFields[phase]
	if !ok {
		return Result{Errors: []string{fmt.Sprintf("Unknown phase: %s", phase)}}
	}

	var errs []string
	for _, f := range fields {
		v, present := data[f.name]
		if !present {
			errs = append(errs, fmt.Sprintf("Missing required field: %s", f.name))
			continue
		}
		switch f.kind {
		case "string":
			if _, ok := v.(string); !ok {
				errs = append(errs, fmt.Sprintf("Invalid type for %s: expected string, got %s", f.name, typeName(v)))
			}
		case "seed":
			if msg := checkSeed(f.name, v); msg != "" {
				errs = append(errs, msg)
			}
		}
	}
	return Result{Valid: len(errs) == 0, Errors: errs}
}

// checkSeed accepts only non-negative integers representable in 32 bits.
// JSON numbers arrive as float64; integer-typed values are also accepted so
// programmatic callers can pass int directly.
func checkSeed(name string, v any) string {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	default:
		return fmt.Sprintf("Invalid type for %s: expected non-negative 32-bit integer, got %s", name, typeName(v))
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return fmt.Sprintf("Invalid type for %s: expected non-negative 32-bit integer, got number", name)
	}
	if f < 0 || f > math.MaxInt32 {
		return fmt.Sprintf("Invalid type for %s: expected non-negative 32-bit integer, got out-of-range number", name)
	}
	return ""
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
