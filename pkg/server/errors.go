package server

import (
	"fmt"
	"log"
	"time"
)

// Error types for structured error handling
type ErrorType string

const (
	ErrorTypeConfig      ErrorType = "config"
	ErrorTypeSpec        ErrorType = "spec"
	ErrorTypeAuth        ErrorType = "authentication"
	ErrorTypeUpstream    ErrorType = "upstream"
	ErrorTypeUnknownTool ErrorType = "unknown_tool"
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeDatabase    ErrorType = "database"
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeInternal    ErrorType = "internal"
)

// BridgeError represents a structured error with context. Every per-call
// failure is converted into one of these at the dispatcher boundary; the
// process never exits because of a call-time failure.
type BridgeError struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// Error implements the error interface
func (e *BridgeError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewError creates a new BridgeError
func NewError(errType ErrorType, message string, details string) *BridgeError {
	return &BridgeError{
		Type:      errType,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().Unix(),
	}
}

// Wrap wraps a standard error as a BridgeError
func Wrap(err error, errType ErrorType, message string) *BridgeError {
	if err == nil {
		return nil
	}
	return NewError(errType, message, err.Error())
}

// WithRequestID attaches the per-invocation request id to the error.
func (e *BridgeError) WithRequestID(id string) *BridgeError {
	e.RequestID = id
	return e
}

// LogError logs the error with appropriate level and context
func (e *BridgeError) LogError() {
	switch e.Type {
	case ErrorTypeConfig:
		log.Printf("CONFIG ERROR: %s", e.Error())
	case ErrorTypeSpec:
		log.Printf("SPEC ERROR: %s", e.Error())
	case ErrorTypeAuth:
		log.Printf("AUTH ERROR: %s", e.Error())
	case ErrorTypeUpstream:
		log.Printf("UPSTREAM ERROR: %s", e.Error())
	case ErrorTypeUnknownTool:
		log.Printf("UNKNOWN TOOL: %s", e.Error())
	case ErrorTypeValidation:
		log.Printf("VALIDATION ERROR: %s", e.Error())
	case ErrorTypeDatabase:
		log.Printf("DATABASE ERROR: %s", e.Error())
	case ErrorTypeNetwork:
		log.Printf("NETWORK ERROR: %s", e.Error())
	default:
		log.Printf("ERROR: %s", e.Error())
	}
}

// IsType checks if the error is of a specific type
func IsType(err error, errType ErrorType) bool {
	if bridgeErr, ok := err.(*BridgeError); ok {
		return bridgeErr.Type == errType
	}
	return false
}

// GetType returns the error type if it's a BridgeError, otherwise ErrorTypeInternal
func GetType(err error) ErrorType {
	if bridgeErr, ok := err.(*BridgeError); ok {
		return bridgeErr.Type
	}
	return ErrorTypeInternal
}
