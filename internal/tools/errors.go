package tools

import (
	"errors"
	"fmt"
)

// ErrToolNotFound is matched by every *ErrToolUnavailable.
var ErrToolNotFound = errors.New("tool not found")

// ErrToolUnavailable is returned when a tool call targets a tool that is
// not present in the agent's registry. The loop reports it to the model
// as a failed tool result rather than retrying.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}

// Is matches ErrToolNotFound.
func (e *ErrToolUnavailable) Is(target error) bool {
	return target == ErrToolNotFound
}
