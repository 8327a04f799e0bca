package main

import (
	"errors"
	"fmt"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
	apperrors "github.com/alexisbeaulieu97/pipewright/pkg/errors"
)

type commandError struct {
	operation  string
	context    string
	cause      error
	suggestion string
}

func newCommandError(operation, context string, cause error, suggestion string) error {
	return &commandError{operation: operation, context: context, cause: cause, suggestion: suggestion}
}

func (e *commandError) Error() string {
	return fmt.Sprintf("Failed to %s: %s\n\nError: %v\n\nSuggestion: %s", e.operation, e.context, e.cause, e.suggestion)
}

func (e *commandError) Unwrap() error {
	return e.cause
}

// suggestionFor picks a hint from the kind of failure.
func suggestionFor(err error) string {
	var parseErr *apperrors.ParseError
	var validationErr *apperrors.ValidationError
	switch {
	case errors.As(err, &parseErr):
		return "Fix the YAML syntax at the reported line and try again."
	case errors.As(err, &validationErr):
		return "Correct the reported field and try again."
	case execution.IsNotFound(err):
		return "Run 'pipewright list' to see known executions."
	case execution.IsIllegalState(err):
		return "Run 'pipewright get <id>' to check the current status first."
	case execution.HasCode(err, execution.ErrCodeInvalidConfig):
		return "Check the stage types and context values in the definition."
	}
	return "Check that Redis is reachable and the configuration is valid."
}
