// Package ids defines the opaque, 12-byte, birth-time-sortable identifiers
// used by every persisted Jervis entity. Each subtype wraps a MongoDB
// ObjectID so ids sort lexicographically by creation time and serialize to
// the hex string form expected across process boundaries (see
// internal/hooks, which carries ids as hex strings on the wire).
package ids

import (
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Raw is the common 12-byte representation shared by every typed identifier:
// a 4-byte timestamp, a 5-byte machine/process identifier, and a 3-byte
// counter, making ids created later sort after ids created earlier without a
// central sequence.
type Raw = bson.ObjectID

// newRaw generates a fresh underlying id.
func newRaw() Raw { return bson.NewObjectID() }

// The following types give every persisted entity its own identifier type so
// callers cannot accidentally pass a ConnectionID where a ProjectID is
// expected, while still sharing the same underlying sortable representation
// and Hex()/IsZero()/Timestamp() methods (promoted from the embedded Raw).
type (
	// ClientID identifies a top-level tenant.
	ClientID struct{ Raw }
	// ProjectID identifies a project belonging to one client.
	ProjectID struct{ Raw }
	// ConnectionID identifies the configuration of one external source.
	ConnectionID struct{ Raw }
	// PlanID identifies a plan DAG.
	PlanID struct{ Raw }
	// StepID identifies one node of a plan.
	StepID struct{ Raw }
	// ContextID identifies a TaskContext conversation envelope.
	ContextID struct{ Raw }
	// TaskID identifies a user-facing task.
	TaskID struct{ Raw }
	// DialogID identifies a suspended dialog awaiting a user answer.
	DialogID struct{ Raw }
	// RequirementID identifies a captured user requirement.
	RequirementID struct{ Raw }
)

// NewClientID generates a fresh ClientID.
func NewClientID() ClientID { return ClientID{newRaw()} }

// NewProjectID generates a fresh ProjectID.
func NewProjectID() ProjectID { return ProjectID{newRaw()} }

// NewConnectionID generates a fresh ConnectionID.
func NewConnectionID() ConnectionID { return ConnectionID{newRaw()} }

// NewPlanID generates a fresh PlanID.
func NewPlanID() PlanID { return PlanID{newRaw()} }

// NewStepID generates a fresh StepID.
func NewStepID() StepID { return StepID{newRaw()} }

// NewContextID generates a fresh ContextID.
func NewContextID() ContextID { return ContextID{newRaw()} }

// NewTaskID generates a fresh TaskID.
func NewTaskID() TaskID { return TaskID{newRaw()} }

// NewDialogID generates a fresh DialogID.
func NewDialogID() DialogID { return DialogID{newRaw()} }

// NewRequirementID generates a fresh RequirementID.
func NewRequirementID() RequirementID { return RequirementID{newRaw()} }

// ClientIDFromHex parses a hex string produced by ClientID.Hex().
func ClientIDFromHex(hex string) (ClientID, error) {
	r, err := bson.ObjectIDFromHex(hex)
	return ClientID{r}, err
}

// ProjectIDFromHex parses a hex string produced by ProjectID.Hex().
func ProjectIDFromHex(hex string) (ProjectID, error) {
	r, err := bson.ObjectIDFromHex(hex)
	return ProjectID{r}, err
}

// ConnectionIDFromHex parses a hex string produced by ConnectionID.Hex().
func ConnectionIDFromHex(hex string) (ConnectionID, error) {
	r, err := bson.ObjectIDFromHex(hex)
	return ConnectionID{r}, err
}

// PlanIDFromHex parses a hex string produced by PlanID.Hex().
func PlanIDFromHex(hex string) (PlanID, error) {
	r, err := bson.ObjectIDFromHex(hex)
	return PlanID{r}, err
}

// StepIDFromHex parses a hex string produced by StepID.Hex().
func StepIDFromHex(hex string) (StepID, error) {
	r, err := bson.ObjectIDFromHex(hex)
	return StepID{r}, err
}

// ContextIDFromHex parses a hex string produced by ContextID.Hex().
func ContextIDFromHex(hex string) (ContextID, error) {
	r, err := bson.ObjectIDFromHex(hex)
	return ContextID{r}, err
}

// TaskIDFromHex parses a hex string produced by TaskID.Hex().
func TaskIDFromHex(hex string) (TaskID, error) {
	r, err := bson.ObjectIDFromHex(hex)
	return TaskID{r}, err
}

// DialogIDFromHex parses a hex string produced by DialogID.Hex().
func DialogIDFromHex(hex string) (DialogID, error) {
	r, err := bson.ObjectIDFromHex(hex)
	return DialogID{r}, err
}

// RequirementIDFromHex parses a hex string produced by RequirementID.Hex().
func RequirementIDFromHex(hex string) (RequirementID, error) {
	r, err := bson.ObjectIDFromHex(hex)
	return RequirementID{r}, err
}
