package tools

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorKind classifies a tool failure for the model and for callers.
type ErrorKind string

// Tool error kinds.
const (
	KindConfiguration   ErrorKind = "ConfigurationError"
	KindInvalidArgument ErrorKind = "InvalidArgumentError"
	KindNotFound        ErrorKind = "EntityNotFoundError"
	KindAmbiguous       ErrorKind = "AmbiguousReferenceError"
	KindInternal        ErrorKind = "InternalError"
)

// ToolError is a structured, model-readable failure. Handlers return it
// instead of raw store errors.
type ToolError struct {
	Kind    ErrorKind
	Message string
	// Err is the underlying cause, if any. It is not shown to the model.
	Err error
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *ToolError) Unwrap() error {
	return e.Err
}

func configurationError(msg string) *ToolError {
	return &ToolError{Kind: KindConfiguration, Message: msg}
}

func invalidArgument(format string, args ...any) *ToolError {
	return &ToolError{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

func notFound(cause error, format string, args ...any) *ToolError {
	return &ToolError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...), Err: cause}
}

func ambiguous(format string, args ...any) *ToolError {
	return &ToolError{Kind: KindAmbiguous, Message: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is, or wraps, a ToolError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var te *ToolError
	return errors.As(err, &te) && te.Kind == kind
}

// ErrorContent renders err as the JSON tool message content the model
// sees. Errors outside the taxonomy are reported as InternalError with
// only the tool name, so store details never reach the caller.
func ErrorContent(toolName string, err error) string {
	payload := map[string]string{}
	var te *ToolError
	var unavailable *ErrToolUnavailable
	switch {
	case errors.As(err, &te):
		payload["error"] = string(te.Kind)
		payload["message"] = te.Message
	case errors.As(err, &unavailable):
		payload["error"] = "ToolUnavailableError"
		payload["message"] = unavailable.Error()
	default:
		payload["error"] = string(KindInternal)
		payload["message"] = fmt.Sprintf("%s failed", toolName)
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

// ErrToolUnavailable is returned when a tool call targets a tool that
// is not present in the registry.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}
