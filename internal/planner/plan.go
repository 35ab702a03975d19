package planner

import (
	"encoding/json"
	"time"
)

// Assignment is one agent invocation in a plan.
type Assignment struct {
	Agent      string         `json:"agent"`
	Task       string         `json:"task"`
	Parameters map[string]any `json:"parameters,omitempty"`
	// Independent marks the step as safe to run concurrently with adjacent
	// independent steps. Steps default to sequential.
	Independent bool `json:"independent"`
}

// Plan is the immutable output of CreatePlan.
type Plan struct {
	ID          string       `json:"plan_id"`
	Reasoning   string       `json:"reasoning"`
	Assignments []Assignment `json:"agents"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Stages splits the plan into execution stages in plan order. A run of
// consecutive independent assignments forms one stage; every other
// assignment is a stage of its own.
func (p *Plan) Stages() [][]Assignment {
	var stages [][]Assignment
	var run []Assignment
	flush := func() {
		if len(run) > 0 {
			stages = append(stages, run)
			run = nil
		}
	}
	for _, a := range p.Assignments {
		if a.Independent {
			run = append(run, a)
			continue
		}
		flush()
		stages = append(stages, []Assignment{a})
	}
	flush()
	return stages
}

// AgentNames lists the assigned agents in plan order.
func (p *Plan) AgentNames() []string {
	out := make([]string, len(p.Assignments))
	for i, a := range p.Assignments {
		out[i] = a.Agent
	}
	return out
}

// Map renders the plan as a JSON-shaped map for event payloads and API responses.
func (p *Plan) Map() map[string]any {
	b, err := json.Marshal(p)
	if err != nil {
		return map[string]any{"plan_id": p.ID}
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return map[string]any{"plan_id": p.ID}
	}
	return out
}
