package planner

import (
	"errors"
	"fmt"
)

var (
	// ErrOracle means the planning model could not be reached or timed out.
	ErrOracle = errors.New("planning oracle failed")
	// ErrMalformedPlan means the model output held no parsable plan.
	ErrMalformedPlan = errors.New("malformed plan")
	// ErrEmptyPlan means the plan named no agents.
	ErrEmptyPlan = errors.New("plan has no agents")
	// ErrUnknownAgent means the plan named an agent outside the known set.
	ErrUnknownAgent = errors.New("unknown agent")
)

// PlanningError is returned by CreatePlan. Kind is one of the sentinels above.
type PlanningError struct {
	Kind  error
	Agent string
	Err   error
}

func (e *PlanningError) Error() string {
	switch {
	case e.Agent != "":
		return fmt.Sprintf("%v: %q", e.Kind, e.Agent)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return e.Kind.Error()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *PlanningError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Reason returns a short label for metrics.
func (e *PlanningError) Reason() string {
	switch e.Kind {
	case ErrOracle:
		return "oracle"
	case ErrMalformedPlan:
		return "malformed"
	case ErrEmptyPlan:
		return "empty"
	case ErrUnknownAgent:
		return "unknown_agent"
	}
	return "other"
}
