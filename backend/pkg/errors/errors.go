package errors

import (
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeExtraction represents entity extraction errors
	ErrorTypeExtraction ErrorType = "extraction"
	// ErrorTypeEmbedding represents embedding generation errors
	ErrorTypeEmbedding ErrorType = "embedding"
	// ErrorTypeGraph represents graph database errors
	ErrorTypeGraph ErrorType = "graph"
	// ErrorTypeValidation represents input validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeScheduler represents background metrics scheduler errors
	ErrorTypeScheduler ErrorType = "scheduler"
	// ErrorTypeBroadcast represents realtime broadcast errors
	ErrorTypeBroadcast ErrorType = "broadcast"
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

// ErrType returns the error category. Promoted through embedding, so every
// typed error in this package reports its category without a type switch.
func (e *BaseError) ErrType() ErrorType {
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

// Validation Errors

// ErrEmbeddingDimension is returned when an embedding has the wrong dimension.
// This is fatal for the entity's upsert and must reach the caller.
type ErrEmbeddingDimension struct {
	*BaseError
	NodeID   string
	Got      int
	Expected int
}

func NewEmbeddingDimension(nodeID string, got, expected int) *ErrEmbeddingDimension {
	return &ErrEmbeddingDimension{
		BaseError: NewBaseError(ErrorTypeValidation,
			fmt.Sprintf("invalid embedding dimension for %s: %d (expected %d)", nodeID, got, expected), nil),
		NodeID:   nodeID,
		Got:      got,
		Expected: expected,
	}
}

// Extraction Errors

// ErrExtractionFailed is returned when the extraction capability fails
type ErrExtractionFailed struct {
	*BaseError
	Model string
}

func NewExtractionFailed(model string, err error) *ErrExtractionFailed {
	return &ErrExtractionFailed{
		BaseError: NewBaseError(ErrorTypeExtraction, "entity extraction failed", err),
		Model:     model,
	}
}

// ErrExtractionUnparseable is returned when the model reply is not valid JSON
type ErrExtractionUnparseable struct {
	*BaseError
	Snippet string
}

func NewExtractionUnparseable(snippet string, err error) *ErrExtractionUnparseable {
	return &ErrExtractionUnparseable{
		BaseError: NewBaseError(ErrorTypeExtraction, "extraction response is not valid JSON", err),
		Snippet:   snippet,
	}
}

// Embedding Errors

// ErrEmbeddingFailed is returned when embedding generation fails after retries
type ErrEmbeddingFailed struct {
	*BaseError
	Model    string
	Attempts int
}

func NewEmbeddingFailed(model string, attempts int, err error) *ErrEmbeddingFailed {
	return &ErrEmbeddingFailed{
		BaseError: NewBaseError(ErrorTypeEmbedding,
			fmt.Sprintf("embedding request failed after %d attempts", attempts), err),
		Model:    model,
		Attempts: attempts,
	}
}

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

// ErrEntityNotFound is returned when an entity is not found in a session graph
type ErrEntityNotFound struct {
	*BaseError
	SessionID string
	NodeID    string
}

func NewEntityNotFound(sessionID, nodeID string) *ErrEntityNotFound {
	return &ErrEntityNotFound{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("entity not found: %s", nodeID), nil),
		SessionID: sessionID,
		NodeID:    nodeID,
	}
}

// ErrSessionNotFound is returned when a session record is not found
type ErrSessionNotFound struct {
	*BaseError
	SessionID string
}

func NewSessionNotFound(sessionID string) *ErrSessionNotFound {
	return &ErrSessionNotFound{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("session not found: %s", sessionID), nil),
		SessionID: sessionID,
	}
}

// ErrSessionNotActive is returned when an operation requires an ACTIVE session
type ErrSessionNotActive struct {
	*BaseError
	SessionID string
	Status    string
}

func NewSessionNotActive(sessionID, status string) *ErrSessionNotActive {
	return &ErrSessionNotActive{
		BaseError: NewBaseError(ErrorTypeValidation,
			fmt.Sprintf("session %s is not active (status: %s)", sessionID, status), nil),
		SessionID: sessionID,
		Status:    status,
	}
}

// Scheduler Errors

// ErrTickFailed is returned when a metric tick exhausts its retry budget
type ErrTickFailed struct {
	*BaseError
	SessionID string
	Tier      string
	Attempts  int
}

func NewTickFailed(sessionID, tier string, attempts int, err error) *ErrTickFailed {
	return &ErrTickFailed{
		BaseError: NewBaseError(ErrorTypeScheduler,
			fmt.Sprintf("%s tick failed after %d attempts", tier, attempts), err),
		SessionID: sessionID,
		Tier:      tier,
		Attempts:  attempts,
	}
}

// Helper functions

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}
	if typed, ok := err.(interface{ ErrType() ErrorType }); ok {
		return typed.ErrType() == errType
	}
	if wrapper, ok := err.(interface{ Unwrap() error }); ok {
		return IsErrorType(wrapper.Unwrap(), errType)
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	// Context errors are not retryable
	if IsErrorType(err, ErrorTypeContext) {
		return false
	}
	// Validation errors never resolve on retry
	if IsErrorType(err, ErrorTypeValidation) {
		return false
	}
	// Graph and capability errors are usually transient
	if IsErrorType(err, ErrorTypeGraph) || IsErrorType(err, ErrorTypeEmbedding) {
		return true
	}
	return false
}
