package domain

import (
	"strings"

	"github.com/jervis-ai/jervis/internal/ids"
	"github.com/jervis-ai/jervis/internal/jerrors"
)

// RequirementPriority orders user requirements for triage.
type RequirementPriority string

const (
	PriorityLow    RequirementPriority = "LOW"
	PriorityMedium RequirementPriority = "MEDIUM"
	PriorityHigh   RequirementPriority = "HIGH"
	PriorityUrgent RequirementPriority = "URGENT"
)

// ParseRequirementPriority resolves a free-form priority string (as
// proposed by an LLM) to a RequirementPriority, defaulting to MEDIUM for
// anything unrecognized.
func ParseRequirementPriority(s string) RequirementPriority {
	switch RequirementPriority(strings.ToUpper(strings.TrimSpace(s))) {
	case PriorityLow:
		return PriorityLow
	case PriorityHigh:
		return PriorityHigh
	case PriorityUrgent:
		return PriorityUrgent
	default:
		return PriorityMedium
	}
}

// UserRequirement is a captured unit of user intent persisted to the
// user_requirements collection: something the user wants tracked or acted
// on beyond the lifetime of the plan that recorded it.
type UserRequirement struct {
	ID          ids.RequirementID
	ContextID   ids.ContextID
	Title       string
	Description string
	Keywords    []string
	Priority    RequirementPriority
}

// NewUserRequirement constructs a UserRequirement, rejecting a blank title.
func NewUserRequirement(contextID ids.ContextID, title, description string, keywords []string, priority RequirementPriority) (*UserRequirement, error) {
	if strings.TrimSpace(title) == "" {
		return nil, jerrors.New(jerrors.ValidationFailure, "requirement title must not be blank")
	}
	if priority == "" {
		priority = PriorityMedium
	}
	return &UserRequirement{
		ID:          ids.NewRequirementID(),
		ContextID:   contextID,
		Title:       title,
		Description: description,
		Keywords:    keywords,
		Priority:    priority,
	}, nil
}
