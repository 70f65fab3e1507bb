package domain

// ToolResult is the single contract produced by every tool invocation,
// whether it succeeded or failed.
type ToolResult struct {
	ToolName string
	Success  bool
	Summary  string
	Content  string

	// ErrorMessage is set only when Success is false.
	ErrorMessage string
}

// SuccessResult constructs a successful ToolResult.
func SuccessResult(toolName, summary, content string) *ToolResult {
	return &ToolResult{ToolName: toolName, Success: true, Summary: summary, Content: content}
}

// FailureResult constructs a failed ToolResult.
func FailureResult(toolName, summary, errMsg string) *ToolResult {
	return &ToolResult{ToolName: toolName, Success: false, Summary: summary, ErrorMessage: errMsg}
}
