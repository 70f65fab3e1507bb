package domain

import "github.com/jervis-ai/jervis/internal/ids"

// TaskContext is the user-facing envelope grouping one or more Plans under a
// single client+project binding and conversation summary.
type TaskContext struct {
	ID        ids.ContextID
	ClientID  ids.ClientID
	ProjectID ids.ProjectID

	ContextSummary string

	// Quick forces the fast model tier for every plan created under this
	// context, trading quality for latency.
	Quick bool

	PlanIDs []ids.PlanID
}

// NewTaskContext constructs an empty TaskContext bound to client and
// project.
func NewTaskContext(clientID ids.ClientID, projectID ids.ProjectID, quick bool) *TaskContext {
	return &TaskContext{
		ID:        ids.NewContextID(),
		ClientID:  clientID,
		ProjectID: projectID,
		Quick:     quick,
	}
}

// AddPlan records planID as belonging to this context.
func (t *TaskContext) AddPlan(planID ids.PlanID) {
	t.PlanIDs = append(t.PlanIDs, planID)
}
