package hooks

import "github.com/google/uuid"

// EventType identifies the concrete shape of an Event, letting subscribers
// route without a type switch when they only care about a subset of events.
type EventType string

// NewEventID generates the wire identity carried on every published event.
// Events are often published before the entity they describe has a
// persisted Mongo-backed id to reuse (for example a dialog request racing
// its own Plan's first save), so this uses a client-generatable UUID rather
// than internal/ids, giving a WebSocket subscriber a stable dedup key for
// at-least-once delivery regardless of persistence timing.
func NewEventID() string {
	return uuid.NewString()
}

const (
	// StepCompletion is published whenever a PlanStep reaches DONE or
	// FAILED.
	StepCompletion EventType = "STEP_COMPLETION"
	// PlanStatusChange is published on every Plan.Status transition.
	PlanStatusChange EventType = "PLAN_STATUS_CHANGE"
	// UserTaskCreated is published when a new TaskContext is created on
	// behalf of a user.
	UserTaskCreated EventType = "USER_TASK_CREATED"
	// UserTaskCancelled is published when a user cancels a running task.
	UserTaskCancelled EventType = "USER_TASK_CANCELLED"
	// AgentResponse is published with the user-visible answer produced by
	// a finalized plan.
	AgentResponse EventType = "AGENT_RESPONSE"
	// UserDialogRequest is published when a tool suspends awaiting
	// out-of-band user input.
	UserDialogRequest EventType = "USER_DIALOG_REQUEST"
	// UserDialogResponse is published when a suspended dialog is resolved
	// by a user answer.
	UserDialogResponse EventType = "USER_DIALOG_RESPONSE"
)

// Event is the interface every published event implements. Concrete types
// carry the per-event-type fields a subscriber accesses via a type switch.
// Ids are carried as hex strings (not raw byte arrays) so the WebSocket
// adapter can serialize and cross-process subscribers can consume them
// without linking against internal/ids.
type Event interface {
	Type() EventType
}

// StepCompletionEvent reports the terminal outcome of one PlanStep.
type StepCompletionEvent struct {
	EventID      string
	PlanID       string
	StepID       string
	Order        int
	ToolName     string
	Status       string // "DONE" or "FAILED"
	Summary      string
	ErrorMessage string
}

func (StepCompletionEvent) Type() EventType { return StepCompletion }

// PlanStatusChangeEvent reports a Plan.Status transition.
type PlanStatusChangeEvent struct {
	EventID string
	PlanID  string
	From    string
	To      string
}

func (PlanStatusChangeEvent) Type() EventType { return PlanStatusChange }

// UserTaskCreatedEvent reports that a new TaskContext was created.
type UserTaskCreatedEvent struct {
	EventID   string
	ContextID string
	TaskID    string
}

func (UserTaskCreatedEvent) Type() EventType { return UserTaskCreated }

// UserTaskCancelledEvent reports that a running task was cancelled.
type UserTaskCancelledEvent struct {
	EventID   string
	ContextID string
	TaskID    string
}

func (UserTaskCancelledEvent) Type() EventType { return UserTaskCancelled }

// AgentResponseEvent carries the user-visible answer produced by a
// finalized (or failed) plan.
type AgentResponseEvent struct {
	EventID   string
	ContextID string
	PlanID    string
	Answer    string
}

func (AgentResponseEvent) Type() EventType { return AgentResponse }

// UserDialogRequestEvent announces that a tool is awaiting a user answer.
type UserDialogRequestEvent struct {
	EventID       string
	DialogID      string
	CorrelationID string
	Question      string
}

func (UserDialogRequestEvent) Type() EventType { return UserDialogRequest }

// UserDialogResponseEvent announces that a suspended dialog was resolved.
type UserDialogResponseEvent struct {
	EventID       string
	DialogID      string
	CorrelationID string
	Answer        string
	Accepted      bool
}

func (UserDialogResponseEvent) Type() EventType { return UserDialogResponse }
