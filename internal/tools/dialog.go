package tools

import (
	"context"

	"github.com/jervis-ai/jervis/internal/dialog"
	"github.com/jervis-ai/jervis/internal/domain"
	"github.com/jervis-ai/jervis/internal/jerrors"
)

// UserDialogToolName is the canonical name of the clarification tool.
const UserDialogToolName = "user_dialog"

// UserDialogTool suspends the running step until a user answers the
// question carried in its step instruction, via the Dialog Coordinator
//.
type UserDialogTool struct {
	coordinator *dialog.Coordinator
}

// NewUserDialogTool constructs a UserDialogTool over coordinator.
func NewUserDialogTool(coordinator *dialog.Coordinator) *UserDialogTool {
	return &UserDialogTool{coordinator: coordinator}
}

func (t *UserDialogTool) Name() string      { return UserDialogToolName }
func (t *UserDialogTool) Aliases() []string { return []string{"ask_user", "clarify"} }
func (t *UserDialogTool) PlannerDescription() string {
	return "Asks the user a clarifying question and suspends until they answer. Use only when a requirement genuinely cannot proceed without user input."
}

func (t *UserDialogTool) ParametersSchema() string {
	return `{"type":"string","minLength":1}`
}

func (t *UserDialogTool) Execute(ctx context.Context, plan *domain.Plan, stepInstruction string, stepCtx StepContext) (*domain.ToolResult, error) {
	dialogID, err := t.coordinator.RequestDialog(ctx, stepCtx.CorrelationID, stepInstruction)
	if err != nil {
		return nil, err
	}

	answer, err := t.coordinator.Await(ctx, dialogID)
	if err != nil {
		if jerrors.Is(err, jerrors.Cancelled) {
			return domain.FailureResult(t.Name(), "dialog cancelled", "cancelled"), nil
		}
		return nil, err
	}
	if !answer.Accepted {
		return domain.FailureResult(t.Name(), "user declined to answer", "cancelled"), nil
	}
	return domain.SuccessResult(t.Name(), "user answered", answer.Text), nil
}
