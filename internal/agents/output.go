package agents

import "github.com/aurachain/orchestrator/internal/util"

// OutputKey is the context key under which a finished agent's result is
// exposed to later plan steps, e.g. "order_manager_output".
func OutputKey(agent string) string {
	return util.SnakeCase(agent) + "_output"
}

// TaskContextKey carries the plan's task description for the step being run.
const TaskContextKey = "assigned_task"
