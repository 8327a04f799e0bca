package execution

import (
	"errors"
	"fmt"
)

// ErrorCode identifies well-known error categories surfaced by the engine.
type ErrorCode string

const (
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeSerialization ErrorCode = "SERIALIZATION_ERROR"
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIGURATION"
	ErrCodeIllegalState  ErrorCode = "ILLEGAL_STATE"
	ErrCodeUnsupported   ErrorCode = "UNSUPPORTED_OPERATION"
	ErrCodeValidation    ErrorCode = "VALIDATION_ERROR"
	ErrCodeCancelled     ErrorCode = "CANCELLED"
	ErrCodeInternal      ErrorCode = "INTERNAL_ERROR"
)

// DomainError represents a typed error enriched with contextual data while
// remaining free from infrastructure dependencies.
type DomainError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As usage.
func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is allows errors.Is comparisons against other DomainError values.
func (e *DomainError) Is(target error) bool {
	var domainErr *DomainError
	if !errors.As(target, &domainErr) {
		return false
	}
	return e.Code == domainErr.Code && e.Message == domainErr.Message
}

// WithContext clones the error with additional contextual metadata.
func (e *DomainError) WithContext(ctx map[string]interface{}) *DomainError {
	if e == nil {
		return nil
	}
	merged := make(map[string]interface{}, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		merged[k] = v
	}
	for k, v := range ctx {
		merged[k] = v
	}
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Cause:   e.Cause,
		Context: merged,
	}
}

// NewError constructs a DomainError with the supplied code and message.
func NewError(code ErrorCode, message string, cause error, context map[string]interface{}) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: context,
	}
}

// NewExecutionNotFound reports a missing execution record.
func NewExecutionNotFound(typ Type, id string) *DomainError {
	return NewError(ErrCodeNotFound, fmt.Sprintf("no %s found for %s", typ, id), nil, map[string]interface{}{
		"execution_type": string(typ),
		"execution_id":   id,
	})
}

// NewStageNotFound reports a stage id that is not part of the execution.
func NewStageNotFound(executionID, stageID string) *DomainError {
	return NewError(ErrCodeNotFound, "stage not found", nil, map[string]interface{}{
		"execution_id": executionID,
		"stage_id":     stageID,
	})
}

// NewNoSuchStageDefinitionBuilder reports a stage type with no registered builder.
func NewNoSuchStageDefinitionBuilder(stageType string) *DomainError {
	return NewError(ErrCodeInvalidConfig, fmt.Sprintf("no stage definition builder for type %q", stageType), nil, map[string]interface{}{
		"stage_type": stageType,
	})
}

// NewSerializationError reports a record that could not be encoded or decoded.
func NewSerializationError(what, id string, cause error) *DomainError {
	return NewError(ErrCodeSerialization, fmt.Sprintf("failed to serialize %s %s", what, id), cause, map[string]interface{}{
		"record": what,
		"id":     id,
	})
}

// NewIllegalStateTransition names the current and required status of a rejected transition.
func NewIllegalStateTransition(action string, id string, current, required Status) *DomainError {
	return NewError(ErrCodeIllegalState,
		fmt.Sprintf("unable to %s execution that is not %s (executionId: %s, currentStatus: %s)", action, required, id, current),
		nil,
		map[string]interface{}{
			"execution_id":    id,
			"current_status":  string(current),
			"required_status": string(required),
		})
}

// NewUnsupportedOperation reports an operation a component does not implement.
func NewUnsupportedOperation(operation string) *DomainError {
	return NewError(ErrCodeUnsupported, fmt.Sprintf("%s is not supported", operation), nil, map[string]interface{}{
		"operation": operation,
	})
}

// NewInvalidConfiguration reports a definition that can never be satisfied.
func NewInvalidConfiguration(message string, cause error) *DomainError {
	return NewError(ErrCodeInvalidConfig, message, cause, nil)
}

// HasCode reports whether err wraps a DomainError carrying code.
func HasCode(err error, code ErrorCode) bool {
	var derr *DomainError
	if !errors.As(err, &derr) {
		return false
	}
	return derr.Code == code
}

// IsNotFound reports whether err signals an absent record.
func IsNotFound(err error) bool { return HasCode(err, ErrCodeNotFound) }

// IsIllegalState reports whether err is a rejected state transition.
func IsIllegalState(err error) bool { return HasCode(err, ErrCodeIllegalState) }

// IsUnsupported reports whether err signals an unimplemented operation.
func IsUnsupported(err error) bool { return HasCode(err, ErrCodeUnsupported) }
