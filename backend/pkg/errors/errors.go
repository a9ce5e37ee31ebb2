package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInput represents a malformed or unusable input record
	ErrorTypeInput ErrorType = "input"
	// ErrorTypeReferential represents an edge whose endpoint does not exist
	ErrorTypeReferential ErrorType = "referential"
	// ErrorTypeDimension represents embeddings of inconsistent length
	ErrorTypeDimension ErrorType = "dimension"
	// ErrorTypeExternal represents failures of the validation or LLM service
	ErrorTypeExternal ErrorType = "external"
	// ErrorTypeGraph represents graph database errors
	ErrorTypeGraph ErrorType = "graph"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeContext represents context cancellation/timeout errors
	ErrorTypeContext ErrorType = "context"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// Kind reports the error category.
func (e *BaseError) Kind() ErrorType {
	return e.Type
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Input Errors

// ErrInputDefect is returned when a record cannot be used (missing score,
// zero points possible, malformed JSON).
type ErrInputDefect struct {
	*BaseError
	Source string
	Reason string
}

func NewInputDefect(source, reason string, err error) *ErrInputDefect {
	return &ErrInputDefect{
		BaseError: NewBaseError(ErrorTypeInput, fmt.Sprintf("unusable record in %s: %s", source, reason), err),
		Source:    source,
		Reason:    reason,
	}
}

// Referential Errors

// ErrMissingEndpoint is returned when an edge references a node that was
// never created.
type ErrMissingEndpoint struct {
	*BaseError
	Relation string
	NodeID   string
	Label    string
}

func NewMissingEndpoint(relation, label, nodeID string) *ErrMissingEndpoint {
	return &ErrMissingEndpoint{
		BaseError: NewBaseError(ErrorTypeReferential, fmt.Sprintf("%s edge references missing %s %s", relation, label, nodeID), nil),
		Relation:  relation,
		NodeID:    nodeID,
		Label:     label,
	}
}

// Dimension Errors

// ErrDimensionMismatch is returned when vectors of different length meet in
// one computation.
type ErrDimensionMismatch struct {
	*BaseError
	Subject  string
	Expected int
	Got      int
}

func NewDimensionMismatch(subject string, expected, got int) *ErrDimensionMismatch {
	return &ErrDimensionMismatch{
		BaseError: NewBaseError(ErrorTypeDimension, fmt.Sprintf("inconsistent embedding dimension for %s: expected %d, got %d", subject, expected, got), nil),
		Subject:   subject,
		Expected:  expected,
		Got:       got,
	}
}

// External Service Errors

// ErrValidationFailed is returned when the validation service is unreachable
// or answers with something unusable.
type ErrValidationFailed struct {
	*BaseError
	Reason string
}

func NewValidationFailed(reason string, err error) *ErrValidationFailed {
	return &ErrValidationFailed{
		BaseError: NewBaseError(ErrorTypeExternal, fmt.Sprintf("validation failed: %s", reason), err),
		Reason:    reason,
	}
}

// ErrLLMFailed is returned when an LLM request fails
type ErrLLMFailed struct {
	*BaseError
	Model    string
	Attempts int
}

func NewLLMFailed(model string, attempts int, err error) *ErrLLMFailed {
	return &ErrLLMFailed{
		BaseError: NewBaseError(ErrorTypeExternal, fmt.Sprintf("LLM request failed after %d attempts", attempts), err),
		Model:     model,
		Attempts:  attempts,
	}
}

// ErrLLMNoResponse is returned when the LLM returns no choices
var ErrLLMNoResponse = NewBaseError(ErrorTypeExternal, "no response from LLM", nil)

// Graph Errors

// ErrGraphConnectionFailed is returned when Neo4j connection fails
type ErrGraphConnectionFailed struct {
	*BaseError
	URI string
}

func NewGraphConnectionFailed(uri string, err error) *ErrGraphConnectionFailed {
	return &ErrGraphConnectionFailed{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("failed to connect to Neo4j: %s", uri), err),
		URI:       uri,
	}
}

// ErrGraphQueryFailed is returned when a graph query fails
type ErrGraphQueryFailed struct {
	*BaseError
	Operation string
}

func NewGraphQueryFailed(operation string, err error) *ErrGraphQueryFailed {
	return &ErrGraphQueryFailed{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("query failed: %s", operation), err),
		Operation: operation,
	}
}

// ErrStudentNotFound is returned when a student is not in the graph
type ErrStudentNotFound struct {
	*BaseError
	StudentID string
}

func NewStudentNotFound(studentID string) *ErrStudentNotFound {
	return &ErrStudentNotFound{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("student not found: %s", studentID), nil),
		StudentID: studentID,
	}
}

// Context Errors

// ErrContextTimeout is returned when context times out
type ErrContextTimeout struct {
	*BaseError
	Operation string
	Timeout   time.Duration
}

func NewContextTimeout(operation string, timeout time.Duration, err error) *ErrContextTimeout {
	return &ErrContextTimeout{
		BaseError: NewBaseError(ErrorTypeContext, fmt.Sprintf("context timeout: %s (timeout: %v)", operation, timeout), err),
		Operation: operation,
		Timeout:   timeout,
	}
}

// Config Errors

// ErrConfigValidationFailed is returned when configuration validation fails
type ErrConfigValidationFailed struct {
	*BaseError
	Field  string
	Reason string
}

func NewConfigValidationFailed(field, reason string) *ErrConfigValidationFailed {
	return &ErrConfigValidationFailed{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("config validation failed: %s - %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// ErrConfigMissingRequired is returned when a required config value or input
// file is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// NewMissingInput reports a required input file or directory that does not exist.
func NewMissingInput(path string, err error) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required input: %s", path), err),
		Field:     path,
	}
}

// Helper functions

type kinded interface {
	Kind() ErrorType
}

// IsErrorType checks if an error, or any error it wraps, is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	for err != nil {
		if k, ok := err.(kinded); ok && k.Kind() == errType {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// IsFatal reports whether an error must stop the current stage. Only
// configuration defects are fatal; everything else is absorbed by the stage.
func IsFatal(err error) bool {
	return IsErrorType(err, ErrorTypeConfig)
}
