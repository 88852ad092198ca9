package agent

import (
	"errors"
	"fmt"
)

// ErrorType classifies tool and turn failures. Everything below the turn
// boundary is converted into a model-consumable function response carrying
// this type, so the model can self-correct instead of the exchange dying.
type ErrorType string

const (
	ErrInvalidParams   ErrorType = "INVALID_PARAMS"
	ErrToolNotFound    ErrorType = "TOOL_NOT_FOUND"
	ErrExecutionFailed ErrorType = "EXECUTION_FAILED"
	ErrTransport       ErrorType = "TRANSPORT"
	ErrCancelled       ErrorType = "CANCELLED"
)

// ToolError provides structured error information for model retry logic.
type ToolError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewToolError creates a new ToolError.
func NewToolError(errType ErrorType, message string) *ToolError {
	return &ToolError{Type: errType, Message: message}
}

// NewToolErrorf creates a new ToolError with formatted message.
func NewToolErrorf(errType ErrorType, format string, args ...interface{}) *ToolError {
	return &ToolError{Type: errType, Message: fmt.Sprintf(format, args...)}
}

// asToolError normalizes any error into a ToolError so the scheduler always
// has a typed failure to attach to a terminal call.
func asToolError(err error, fallback ErrorType) *ToolError {
	if err == nil {
		return nil
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr
	}
	return &ToolError{Type: fallback, Message: err.Error()}
}

// formatToolError renders an error the way it is sent back to the model.
func formatToolError(err *ToolError) string {
	return fmt.Sprintf("Error [%s]: %s", err.Type, err.Message)
}
